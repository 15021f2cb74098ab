// ABOUTME: Wires the built-in tool set into a dispatch.Dispatcher. Tools
// ABOUTME: register as dispatch.Spec values directly: the Tool Dispatcher,
// ABOUTME: not a standalone registry, owns lookup and concurrency class.

package tools

import "github.com/wyvernlab/agentcore-go/internal/dispatch"

// RegisterBuiltins installs the read/write/edit/bash/grep tools onto d.
// The task tool registers separately via NewTaskSpec since it needs the
// subagent registry and the parent's own dispatcher and event bus.
func RegisterBuiltins(d *dispatch.Dispatcher) {
	for _, t := range []*Tool{
		NewReadTool(),
		NewWriteTool(),
		NewEditTool(),
		NewBashTool(),
		NewGrepTool(),
	} {
		d.Register(ToSpec(t))
	}
}
