// ABOUTME: Stream Adapter: turns a Provider's raw Event stream into the
// ABOUTME: core.AgentEvent taxonomy the bus broadcasts, assembling the final
// ABOUTME: AssistantMessage along the way.

package provider

import (
	"encoding/json"
	"regexp"

	"github.com/wyvernlab/agentcore-go/internal/core"
	"github.com/wyvernlab/agentcore-go/internal/provider/partjson"
)

// toolIDPattern is the character class a normalized tool-call id must
// match; providers that emit ids outside this set (or longer than
// maxToolIDLen) get rewritten so downstream tool-result correlation
// never chokes on provider-specific id syntax.
var toolIDPattern = regexp.MustCompile(`[^A-Za-z0-9_-]`)

const maxToolIDLen = 40

// NormalizeToolID rewrites id to only contain [A-Za-z0-9_-], truncated
// to maxToolIDLen characters.
func NormalizeToolID(id string) string {
	clean := toolIDPattern.ReplaceAllString(id, "_")
	if len(clean) > maxToolIDLen {
		clean = clean[:maxToolIDLen]
	}
	if clean == "" {
		clean = "call"
	}
	return clean
}

// toolAccum tracks a tool-use block's streaming name/argument fragments
// as EventToolUseDelta events arrive, keyed by the id the provider used
// (pre-normalization, so deltas correlate correctly).
type toolAccum struct {
	normID string
	name   string
	argBuf string
}

// Publisher is the callback the adapter uses to emit translated events.
// In production this is eventbus.Bus.Publish; tests may pass a plain
// slice-collecting closure.
type Publisher func(core.AgentEvent)

// Adapt drains stream, publishing translated AgentEvents via publish,
// and returns the fully assembled AssistantMessage (or an error if the
// stream ended in error). When flattenThinking is set, thinking deltas
// are published as Text partials instead of Thinking partials, for
// models/targets with no native thinking-content support; the returned
// message's blocks are not rewritten.
func Adapt(stream *EventStream, publish Publisher, flattenThinking bool) (*core.AssistantMessage, error) {
	accum := map[string]*toolAccum{}
	var order []string // normalized ids in first-seen order, for deterministic assembly

	for ev := range stream.Events() {
		switch ev.Type {
		case EventContentDelta:
			publish(core.AgentEvent{Type: core.EventAssistantDelta, Partial: blockPtr(core.Text(ev.Text))})

		case EventThinkingDelta:
			if flattenThinking {
				publish(core.AgentEvent{Type: core.EventAssistantDelta, Partial: blockPtr(core.Text(ev.Text))})
			} else {
				publish(core.AgentEvent{Type: core.EventAssistantDelta, Partial: blockPtr(core.Thinking(ev.Text))})
			}

		case EventToolUseStart:
			id := NormalizeToolID(ev.ToolCallID)
			accum[ev.ToolCallID] = &toolAccum{normID: id, name: ev.ToolName}
			order = append(order, ev.ToolCallID)
			// Streaming tool-use progress surfaces as AssistantDelta partial
			// blocks; ToolCallStarted/Finished are the dispatcher's to emit,
			// so no lifecycle event ever precedes the AssistantMessage that
			// contains its ToolUse.
			publish(core.AgentEvent{Type: core.EventAssistantDelta,
				Partial: blockPtr(core.ToolUse(id, ev.ToolName, nil))})

		case EventToolUseDelta:
			a, ok := accum[ev.ToolCallID]
			if !ok {
				a = &toolAccum{normID: NormalizeToolID(ev.ToolCallID), name: ev.ToolName}
				accum[ev.ToolCallID] = a
				order = append(order, ev.ToolCallID)
			}
			a.argBuf += ev.ToolInput
			// Partial reconstructions are advisory; only the final assembled
			// arguments are validated by the dispatcher.
			partial := partjson.Parse(a.argBuf)
			publish(core.AgentEvent{Type: core.EventAssistantDelta,
				Partial: blockPtr(core.ToolUse(a.normID, a.name, partial))})

		case EventToolUseDone:
			a, ok := accum[ev.ToolCallID]
			if !ok {
				a = &toolAccum{normID: NormalizeToolID(ev.ToolCallID), name: ev.ToolName}
				accum[ev.ToolCallID] = a
				order = append(order, ev.ToolCallID)
			}
			if ev.ToolInput != "" {
				a.argBuf = ev.ToolInput
			}

		case EventUsageDelta:
			if ev.Usage != nil {
				publish(core.AgentEvent{Type: core.EventUsageUpdated, Usage: *ev.Usage})
			}

		case EventError:
			return nil, ev.Error
		}
	}

	msg := stream.Result()
	if msg == nil {
		return assembleFromAccum(order, accum, flattenThinking), nil
	}
	return msg, nil
}

// assembleFromAccum builds an AssistantMessage from the accumulated
// tool-use deltas only, used by providers that don't populate
// EventStream.Finish's result argument themselves (e.g. a minimal demo
// Provider). Streamed text and thinking deltas are not included.
func assembleFromAccum(order []string, accum map[string]*toolAccum, _ bool) *core.AssistantMessage {
	var blocks []core.ContentBlock
	for _, rawID := range order {
		a := accum[rawID]
		args := partjson.Parse(a.argBuf)
		if !json.Valid(args) {
			args = json.RawMessage("{}")
		}
		blocks = append(blocks, core.ToolUse(a.normID, a.name, args))
	}
	stop := core.StopEndTurn
	if len(blocks) > 0 {
		stop = core.StopToolUse
	}
	return &core.AssistantMessage{Content: blocks, StopReason: stop}
}

func blockPtr(b core.ContentBlock) *core.ContentBlock { return &b }
