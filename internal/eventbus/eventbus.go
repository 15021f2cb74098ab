// ABOUTME: Broadcast event bus with bounded per-subscriber buffering.
// ABOUTME: Publish never blocks the producer; a slow subscriber loses its
// ABOUTME: oldest buffered events and is told so via a synthetic error event.

package eventbus

import (
	"sync"

	"github.com/wyvernlab/agentcore-go/internal/core"
	"github.com/wyvernlab/agentcore-go/internal/metrics"
)

// DefaultCapacity is the per-subscriber in-flight buffer depth used
// when the caller does not pick one.
const DefaultCapacity = 1024

// Bus fans out core.AgentEvent values to independently-buffered subscribers.
// The zero value is not usable; construct with New.
type Bus struct {
	mu       sync.RWMutex
	subs     map[int]*subscriber
	nextID   int
	capacity int
	metrics  *metrics.Collector
}

// SetMetrics attaches a Collector that receives a count for every
// SubscriberLagged drop-oldest event. Safe to call before or after
// subscribers register; nil detaches instrumentation.
func (b *Bus) SetMetrics(m *metrics.Collector) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metrics = m
}

type subscriber struct {
	ch chan core.AgentEvent
}

// New creates a Bus whose subscriber buffers hold at least capacity
// events (DefaultCapacity is used if capacity <= 0).
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bus{subs: make(map[int]*subscriber), capacity: capacity}
}

// Subscribe registers a new subscriber and returns a channel of events
// plus an unsubscribe function. The channel is never closed by Publish;
// callers should call unsubscribe when done to release the buffer.
func (b *Bus) Subscribe() (<-chan core.AgentEvent, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	sub := &subscriber{ch: make(chan core.AgentEvent, b.capacity)}
	b.subs[id] = sub
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
	return sub.ch, unsubscribe
}

// Count returns the number of active subscribers.
func (b *Bus) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish delivers event to every subscriber without ever blocking. A
// subscriber whose buffer is full has its oldest buffered event(s)
// dropped to make room, and receives a synthetic Error{ErrSubscriberLagged}
// event in their place.
func (b *Bus) Publish(event core.AgentEvent) {
	b.mu.RLock()
	snapshot := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		snapshot = append(snapshot, s)
	}
	m := b.metrics
	b.mu.RUnlock()

	for _, s := range snapshot {
		deliver(s, event, m)
	}
}

// lagEvent is the synthetic notification sent to a subscriber whose
// buffer overflowed.
var lagEvent = core.AgentEvent{
	Type:    core.EventError,
	ErrKind: core.ErrSubscriberLagged,
}

// deliver attempts a non-blocking send; on overflow it evicts the oldest
// buffered event(s), inserts the lag notice, then retries the real event.
// Bounded by the channel's capacity so it can never spin forever.
func deliver(s *subscriber, event core.AgentEvent, m *metrics.Collector) {
	select {
	case s.ch <- event:
		return
	default:
	}

	lagged := false
	for attempts := 0; attempts < cap(s.ch)+1; attempts++ {
		select {
		case <-s.ch:
		default:
		}

		if !lagged {
			select {
			case s.ch <- lagEvent:
				lagged = true
				m.SubscriberLagged()
			default:
			}
		}

		select {
		case s.ch <- event:
			return
		default:
		}
	}
}
