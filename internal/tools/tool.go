// ABOUTME: Concrete tool type and its adapter into a dispatch.Spec. The
// ABOUTME: agent loop core treats concrete tools as external collaborators;
// ABOUTME: this package supplies a small demonstration set (read, write,
// ABOUTME: edit, bash, grep, and the subagent task tool).

package tools

import (
	"context"
	"encoding/json"

	"github.com/wyvernlab/agentcore-go/internal/core"
	"github.com/wyvernlab/agentcore-go/internal/dispatch"
)

// maxToolOutput caps the text any one tool returns to the model.
const maxToolOutput = 100 * 1024

// ToolUpdate is a progress notification a Tool's Execute may emit any
// number of times before returning.
type ToolUpdate struct {
	Output string
}

// ToolResult is the outcome of one Execute call, pre-dispatch.Spec.
type ToolResult struct {
	Content string
	IsError bool
}

// Tool is this package's concrete tool shape: a core.ToolDefinition
// superset whose Execute receives the raw argument JSON and decodes it
// into a typed struct of its own. The dispatcher has already validated
// the payload against Parameters by the time Execute runs.
type Tool struct {
	Name        string
	Label       string
	Description string
	Parameters  json.RawMessage
	// ReadOnly tools may overlap with other calls to themselves within
	// one turn; mutating tools get same-tool calls serialised.
	ReadOnly bool
	// Serial tools never run concurrently with the rest of a turn's batch.
	Serial  bool
	Execute func(ctx context.Context, callID string, args json.RawMessage, onUpdate func(ToolUpdate)) (ToolResult, error)
}

// ToSpec adapts t into a dispatch.Spec, translating Execute's
// result/error into the core.ToolResult the dispatcher wraps into a
// ContentToolResult block.
func ToSpec(t *Tool) dispatch.Spec {
	return dispatch.Spec{
		Definition: core.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
			Label:       t.Label,
		},
		Serial:    t.Serial,
		Reentrant: t.ReadOnly,
		Run: func(ctx context.Context, call core.ToolCall, progress func(string)) core.ToolResult {
			onUpdate := func(u ToolUpdate) {
				if progress != nil {
					progress(u.Output)
				}
			}
			out, err := t.Execute(ctx, call.CallID, call.Arguments, onUpdate)
			if err != nil {
				return core.ToolResult{Content: []core.ContentBlock{core.Text(err.Error())}, IsError: true}
			}
			return core.ToolResult{Content: []core.ContentBlock{core.Text(out.Content)}, IsError: out.IsError}
		},
	}
}

// clip truncates s to max bytes, appending a marker when anything was
// dropped. Truncation lands on a rune boundary so the marker never
// splits a multi-byte character.
func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && (s[cut]&0xC0) == 0x80 {
		cut--
	}
	return s[:cut] + "\n... [output truncated]"
}

// errText is shorthand for an error carried as a tool result.
func errText(err error) ToolResult {
	return ToolResult{Content: err.Error(), IsError: true}
}
