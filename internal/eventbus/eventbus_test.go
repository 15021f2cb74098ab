package eventbus

import (
	"testing"
	"time"

	"github.com/wyvernlab/agentcore-go/internal/core"
)

func TestSubscribeReceivesInOrder(t *testing.T) {
	t.Parallel()

	b := New(8)
	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()

	b.Publish(core.AgentEvent{Type: core.EventTurnStarted})
	b.Publish(core.AgentEvent{Type: core.EventIdle})

	first := recv(t, ch)
	second := recv(t, ch)

	if first.Type != core.EventTurnStarted || second.Type != core.EventIdle {
		t.Fatalf("got %v, %v; want TurnStarted, Idle", first.Type, second.Type)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()

	b := New(8)
	ch, unsubscribe := b.Subscribe()
	unsubscribe()

	b.Publish(core.AgentEvent{Type: core.EventTurnStarted})

	select {
	case ev := <-ch:
		t.Fatalf("unexpected event after unsubscribe: %+v", ev)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestPublishNeverBlocksOnSlowSubscriber(t *testing.T) {
	t.Parallel()

	b := New(4)
	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()

	// Publish well past capacity without ever reading; must not hang.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			b.Publish(core.AgentEvent{Type: core.EventAssistantDelta})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}

	// The buffer should contain the lag notice somewhere, since we
	// overflowed many times over.
	sawLag := false
	for i := 0; i < cap(ch); i++ {
		select {
		case ev := <-ch:
			if ev.Type == core.EventError && ev.ErrKind == core.ErrSubscriberLagged {
				sawLag = true
			}
		default:
		}
	}
	if !sawLag {
		t.Fatal("expected a SubscriberLagged synthetic event in the buffer")
	}
}

func TestMultipleSubscribersEachGetOwnCopy(t *testing.T) {
	t.Parallel()

	b := New(8)
	ch1, unsub1 := b.Subscribe()
	ch2, unsub2 := b.Subscribe()
	defer unsub1()
	defer unsub2()

	b.Publish(core.AgentEvent{Type: core.EventIdle})

	if ev := recv(t, ch1); ev.Type != core.EventIdle {
		t.Fatalf("ch1 got %v", ev.Type)
	}
	if ev := recv(t, ch2); ev.Type != core.EventIdle {
		t.Fatalf("ch2 got %v", ev.Type)
	}
}

func recv(t *testing.T, ch <-chan core.AgentEvent) core.AgentEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return core.AgentEvent{}
	}
}
