// ABOUTME: Channel-based event streaming for LLM provider responses.
// ABOUTME: A drainer goroutine decouples Send from Finish so producers never
// ABOUTME: race a send against a close.

package provider

import (
	"sync"
	"sync/atomic"

	"github.com/wyvernlab/agentcore-go/internal/core"
)

// EventType identifies the kind of event a Provider emits mid-stream.
type EventType int

const (
	EventContentDelta EventType = iota
	EventThinkingDelta
	EventToolUseStart
	EventToolUseDelta
	EventToolUseDone
	EventUsageDelta
	EventDone
	EventError
)

// Event is a single event from a provider's streaming completion.
type Event struct {
	Type EventType

	Text string // content/thinking delta text

	ToolCallID string // tool-use start/delta/done
	ToolName   string
	ToolInput  string // partial (start/delta) or final (done) JSON text

	Usage *core.Usage

	StopReason core.StopReason // set on EventDone
	Error      error           // set on EventError
}

// EventStream provides channel-based access to a provider's streaming
// events. Producers call Send repeatedly then Finish exactly once;
// consumers range over Events() and call Result() after the range ends.
type EventStream struct {
	events chan Event
	out    chan Event
	done   chan struct{}
	result atomic.Pointer[core.AssistantMessage]
	once   sync.Once
}

// NewEventStream creates a stream with the given internal buffer size.
func NewEventStream(bufSize int) *EventStream {
	if bufSize <= 0 {
		bufSize = 32
	}
	s := &EventStream{
		events: make(chan Event, bufSize),
		out:    make(chan Event, bufSize),
		done:   make(chan struct{}),
	}
	go s.drain()
	return s
}

func (s *EventStream) drain() {
	defer close(s.out)
	for {
		select {
		case ev := <-s.events:
			s.out <- ev
		case <-s.done:
			for {
				select {
				case ev := <-s.events:
					s.out <- ev
				default:
					return
				}
			}
		}
	}
}

// Events returns the consumer-facing channel, closed once the stream is
// finished and fully drained.
func (s *EventStream) Events() <-chan Event { return s.out }

// Send delivers one event to the stream. Returns false if already finished.
func (s *EventStream) Send(event Event) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.events <- event:
		return true
	case <-s.done:
		return false
	}
}

// Finish completes the stream with a final assembled message. Only the
// first call has effect.
func (s *EventStream) Finish(msg *core.AssistantMessage) {
	s.once.Do(func() {
		if msg != nil {
			s.result.Store(msg)
		}
		close(s.done)
	})
}

// FinishWithError sends a terminal error event then finishes with no result.
func (s *EventStream) FinishWithError(err error) {
	s.Send(Event{Type: EventError, Error: err})
	s.Finish(nil)
}

// Result blocks until the stream is finished and returns the final
// message, or nil if the stream ended in error.
func (s *EventStream) Result() *core.AssistantMessage {
	<-s.done
	return s.result.Load()
}

// Done reports stream completion.
func (s *EventStream) Done() <-chan struct{} { return s.done }
