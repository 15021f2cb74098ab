// ABOUTME: A minimal in-memory Provider used by the demo CLI and by agent
// ABOUTME: loop tests in place of a real wire-level provider. Replays a
// ABOUTME: fixed script of turns without touching a network.

package provider

import (
	"context"

	"github.com/wyvernlab/agentcore-go/internal/core"
)

// ScriptedTurn is one canned response a DemoProvider will return, in
// order, for successive Stream calls.
type ScriptedTurn struct {
	Text       string
	ToolCalls  []core.ToolCall
	StopReason core.StopReason
	Usage      core.Usage
}

// DemoProvider replays a fixed script of turns, ignoring the supplied
// context and model beyond recording them for assertions. It never
// touches a network and is safe for use in tests and offline demos.
type DemoProvider struct {
	Script []ScriptedTurn

	next int
	Seen []*core.Context
}

// Stream returns the next scripted turn as a fully-finished EventStream.
func (d *DemoProvider) Stream(_ context.Context, model *core.Model, llmCtx *core.Context, _ core.StreamOptions) *EventStream {
	d.Seen = append(d.Seen, llmCtx)
	stream := NewEventStream(16)

	if d.next >= len(d.Script) {
		stream.Finish(&core.AssistantMessage{StopReason: core.StopEndTurn})
		return stream
	}
	turn := d.Script[d.next]
	d.next++

	modelID := ""
	if model != nil {
		modelID = model.ID
	}

	go func() {
		var blocks []core.ContentBlock
		if turn.Text != "" {
			stream.Send(Event{Type: EventContentDelta, Text: turn.Text})
			blocks = append(blocks, core.Text(turn.Text))
		}
		for _, tc := range turn.ToolCalls {
			stream.Send(Event{Type: EventToolUseStart, ToolCallID: tc.CallID, ToolName: tc.ToolName})
			stream.Send(Event{Type: EventToolUseDelta, ToolCallID: tc.CallID, ToolInput: string(tc.Arguments)})
			stream.Send(Event{Type: EventToolUseDone, ToolCallID: tc.CallID, ToolName: tc.ToolName, ToolInput: string(tc.Arguments)})
			blocks = append(blocks, core.ToolUse(NormalizeToolID(tc.CallID), tc.ToolName, tc.Arguments))
		}
		stop := turn.StopReason
		if stop == "" {
			stop = core.StopEndTurn
			if len(turn.ToolCalls) > 0 {
				stop = core.StopToolUse
			}
		}
		stream.Send(Event{Type: EventUsageDelta, Usage: &turn.Usage})
		stream.Send(Event{Type: EventDone, StopReason: stop})
		stream.Finish(&core.AssistantMessage{Content: blocks, StopReason: stop, Usage: turn.Usage, ModelID: modelID})
	}()

	return stream
}
