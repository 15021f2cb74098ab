// ABOUTME: Task tool: lets the LLM spawn a named subagent and waits for
// ABOUTME: (or backgrounds) its result. Bridges dispatch.Spec directly
// ABOUTME: to internal/subagent.Spawn rather than through the Tool type,
// ABOUTME: since it needs the call's recursion depth and the parent's
// ABOUTME: own dispatcher/event bus, which Tool.Execute has no access to.

package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wyvernlab/agentcore-go/internal/core"
	"github.com/wyvernlab/agentcore-go/internal/dispatch"
	"github.com/wyvernlab/agentcore-go/internal/subagent"
)

var taskToolSchema = json.RawMessage(`{
	"type": "object",
	"required": ["agent", "prompt"],
	"properties": {
		"agent":      {"type": "string", "description": "Agent name to spawn (e.g., explore, plan)"},
		"prompt":     {"type": "string", "description": "Task description for the agent"},
		"background": {"type": "boolean", "description": "Run in background (default: false)"}
	}
}`)

// NewTaskSpec builds the "task" tool as a dispatch.Spec directly: it
// launches a subagent.Spawn, using the recursion depth carried on ctx
// (subagent.DepthFromContext) so nested task tools inside a subagent
// correctly count toward MaxRecursionDepth.
func NewTaskSpec(registry *subagent.Registry, deps subagent.Deps) dispatch.Spec {
	return dispatch.Spec{
		Definition: core.ToolDefinition{
			Name:        "task",
			Description: "Launch a specialized agent to handle a task. Available agents depend on what's registered.",
			Parameters:  taskToolSchema,
			Label:       "Launch Sub-Agent",
		},
		// Subagent task calls are always serial by default.
		Serial: true,
		Run: func(ctx context.Context, call core.ToolCall, progress func(string)) core.ToolResult {
			var args struct {
				Agent      string `json:"agent"`
				Prompt     string `json:"prompt"`
				Background bool   `json:"background"`
			}
			if err := json.Unmarshal(call.Arguments, &args); err != nil {
				return errorToolResult(fmt.Errorf("decoding task arguments: %w", err))
			}
			if args.Agent == "" || args.Prompt == "" {
				return errorToolResult(fmt.Errorf("task requires both agent and prompt"))
			}

			def, ok := registry.Get(args.Agent)
			if !ok {
				return errorToolResult(fmt.Errorf("unknown agent: %q", args.Agent))
			}

			depth := subagent.DepthFromContext(ctx)
			handle, err := subagent.Spawn(ctx, def, call.CallID, args.Prompt, depth, args.Background, deps)
			if err != nil {
				return errorToolResult(fmt.Errorf("spawning agent %q: %w", args.Agent, err))
			}

			if args.Background {
				text := fmt.Sprintf("agent %q spawned in background (id: %s)", args.Agent, handle.ID)
				return core.ToolResult{Content: []core.ContentBlock{core.Text(text)}}
			}

			<-handle.Done
			result := handle.Result()
			if result == nil {
				return core.ToolResult{Content: []core.ContentBlock{core.Text("agent completed with no result")}}
			}
			if result.Error != nil {
				text := result.Text + "\nError: " + result.Error.Error()
				return core.ToolResult{Content: []core.ContentBlock{core.Text(text)}, IsError: true}
			}
			return core.ToolResult{Content: []core.ContentBlock{core.Text(result.Text)}}
		},
	}
}

func errorToolResult(err error) core.ToolResult {
	return core.ToolResult{Content: []core.ContentBlock{core.Text(err.Error())}, IsError: true}
}
