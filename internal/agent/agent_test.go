package agent

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/wyvernlab/agentcore-go/internal/core"
	"github.com/wyvernlab/agentcore-go/internal/dispatch"
	"github.com/wyvernlab/agentcore-go/internal/eventbus"
	"github.com/wyvernlab/agentcore-go/internal/provider"
)

func testModel() *core.Model {
	return &core.Model{ID: "demo-1", ApiID: "demo", ContextWindow: 100000, MaxTokens: 4096, SupportsTools: true}
}

func newTestAgent(t *testing.T, script []provider.ScriptedTurn) (*Agent, *provider.DemoProvider, *eventbus.Bus) {
	t.Helper()
	reg := provider.NewRegistry()
	demo := &provider.DemoProvider{Script: script}
	reg.Register("demo", demo, "")

	d := dispatch.New(4)
	d.Register(dispatch.Spec{
		Definition: core.ToolDefinition{Name: "echo"},
		Run: func(_ context.Context, call core.ToolCall, _ func(string)) core.ToolResult {
			return core.ToolResult{Content: []core.ContentBlock{core.Text(string(call.Arguments))}}
		},
	})

	bus := eventbus.New(64)
	a := New(Config{
		Model:      testModel(),
		Providers:  reg,
		Dispatcher: d,
		Bus:        bus,
		System:     "be terse",
	})
	return a, demo, bus
}

func TestSingleTurnReply(t *testing.T) {
	t.Parallel()
	a, _, _ := newTestAgent(t, []provider.ScriptedTurn{
		{Text: "hello there", StopReason: core.StopEndTurn},
	})

	ctx := context.Background()
	if err := a.Prompt(ctx, "hi"); err != nil {
		t.Fatalf("Prompt: %v", err)
	}
	if err := a.WaitForIdle(ctx); err != nil {
		t.Fatalf("WaitForIdle: %v", err)
	}
	if a.State() != core.StateIdle {
		t.Fatalf("State() = %v, want idle", a.State())
	}

	snap := a.Store().Snapshot()
	if len(snap) != 2 {
		t.Fatalf("len(snapshot) = %d, want 2 (user + assistant)", len(snap))
	}
	if snap[1].Content[0].Text != "hello there" {
		t.Fatalf("assistant content = %q", snap[1].Content[0].Text)
	}
}

func TestToolUseRoundTrip(t *testing.T) {
	t.Parallel()
	a, demo, _ := newTestAgent(t, []provider.ScriptedTurn{
		{
			ToolCalls: []core.ToolCall{{CallID: "call1", ToolName: "echo", Arguments: json.RawMessage(`"ping"`)}},
		},
		{Text: "done", StopReason: core.StopEndTurn},
	})

	ctx := context.Background()
	if err := a.Prompt(ctx, "use the tool"); err != nil {
		t.Fatalf("Prompt: %v", err)
	}
	if err := a.WaitForIdle(ctx); err != nil {
		t.Fatalf("WaitForIdle: %v", err)
	}

	if len(demo.Seen) != 2 {
		t.Fatalf("provider called %d times, want 2", len(demo.Seen))
	}
	// Second call's context must include the tool result from the first.
	secondCtx := demo.Seen[1]
	foundResult := false
	for _, m := range secondCtx.Messages {
		for _, c := range m.Content {
			if c.Type == core.ContentToolResult && c.CallID == "call1" {
				foundResult = true
			}
		}
	}
	if !foundResult {
		t.Fatal("expected tool result for call1 in second provider call's context")
	}
}

func TestFollowUpQueuedDuringRun(t *testing.T) {
	t.Parallel()
	a, _, _ := newTestAgent(t, []provider.ScriptedTurn{
		{Text: "first", StopReason: core.StopEndTurn},
		{Text: "second", StopReason: core.StopEndTurn},
	})

	ctx := context.Background()
	if err := a.Prompt(ctx, "go"); err != nil {
		t.Fatalf("Prompt: %v", err)
	}
	// Race-tolerant: queue a follow-up promptly; if the run already went
	// idle, FollowUp starts it as a fresh Prompt instead.
	if err := a.FollowUp(ctx, "and then?"); err != nil {
		t.Fatalf("FollowUp: %v", err)
	}
	if err := a.WaitForIdle(ctx); err != nil {
		t.Fatalf("WaitForIdle: %v", err)
	}

	snap := a.Store().Snapshot()
	if len(snap) < 4 {
		t.Fatalf("expected at least 4 messages (2 turns), got %d", len(snap))
	}
}

func TestProviderNotFoundSetsErrorState(t *testing.T) {
	t.Parallel()
	reg := provider.NewRegistry() // no providers registered
	d := dispatch.New(2)
	bus := eventbus.New(16)
	a := New(Config{Model: testModel(), Providers: reg, Dispatcher: d, Bus: bus})

	ctx := context.Background()
	if err := a.Prompt(ctx, "hi"); err != nil {
		t.Fatalf("Prompt: %v", err)
	}
	err := a.WaitForIdle(ctx)
	if err == nil {
		t.Fatal("expected error from WaitForIdle")
	}
	if a.State() != core.StateError {
		t.Fatalf("State() = %v, want error", a.State())
	}
}

func TestPromptRejectedWhileBusy(t *testing.T) {
	t.Parallel()
	a, _, _ := newTestAgent(t, []provider.ScriptedTurn{
		{Text: "slow", StopReason: core.StopEndTurn},
	})
	ctx := context.Background()
	if err := a.Prompt(ctx, "first"); err != nil {
		t.Fatalf("Prompt: %v", err)
	}
	if err := a.Prompt(ctx, "second"); err == nil {
		t.Fatal("expected busy error on second concurrent Prompt")
	}
	_ = a.WaitForIdle(ctx)
}

func TestPauseBeforeToolsAndContinueRun(t *testing.T) {
	t.Parallel()

	reg := provider.NewRegistry()
	reg.Register("demo", &provider.DemoProvider{Script: []provider.ScriptedTurn{
		{ToolCalls: []core.ToolCall{{CallID: "c1", ToolName: "echo", Arguments: json.RawMessage(`"hi"`)}}},
		{Text: "resumed", StopReason: core.StopEndTurn},
	}}, "")

	executed := make(chan string, 1)
	d := dispatch.New(2)
	d.Register(dispatch.Spec{
		Definition: core.ToolDefinition{Name: "echo"},
		Run: func(_ context.Context, call core.ToolCall, _ func(string)) core.ToolResult {
			executed <- call.CallID
			return core.ToolResult{Content: []core.ContentBlock{core.Text("ok")}}
		},
	})
	bus := eventbus.New(64)

	paused := false
	a := New(Config{
		Model: testModel(), Providers: reg, Dispatcher: d, Bus: bus,
		PauseBeforeTools: func(calls []core.ToolCall) bool {
			if paused {
				return false
			}
			paused = true
			return true
		},
	})

	ctx := context.Background()
	if err := a.Prompt(ctx, "use the tool"); err != nil {
		t.Fatalf("Prompt: %v", err)
	}
	if err := a.WaitForIdle(ctx); err != nil {
		t.Fatalf("WaitForIdle: %v", err)
	}
	if a.State() != core.StatePaused {
		t.Fatalf("State() = %v, want paused", a.State())
	}
	select {
	case id := <-executed:
		t.Fatalf("tool %s ran before ContinueRun", id)
	default:
	}

	if err := a.ContinueRun(ctx); err != nil {
		t.Fatalf("ContinueRun: %v", err)
	}
	if err := a.WaitForIdle(ctx); err != nil {
		t.Fatalf("WaitForIdle after continue: %v", err)
	}
	if a.State() != core.StateIdle {
		t.Fatalf("State() = %v, want idle", a.State())
	}
	select {
	case <-executed:
	case <-time.After(time.Second):
		t.Fatal("tool never ran after ContinueRun")
	}

	snap := a.Store().Snapshot()
	last := snap[len(snap)-1]
	if last.Role != core.RoleAssistant || last.Content[0].Text != "resumed" {
		t.Fatalf("last message = %+v, want assistant 'resumed'", last)
	}
}

func TestResetClearsErrorState(t *testing.T) {
	t.Parallel()
	reg := provider.NewRegistry() // nothing registered -> ProviderNotFound
	a := New(Config{Model: testModel(), Providers: reg, Dispatcher: dispatch.New(2), Bus: eventbus.New(16)})

	ctx := context.Background()
	if err := a.Prompt(ctx, "hi"); err != nil {
		t.Fatalf("Prompt: %v", err)
	}
	if err := a.WaitForIdle(ctx); err == nil {
		t.Fatal("expected ProviderNotFound error")
	}
	if a.State() != core.StateError {
		t.Fatalf("State() = %v, want error", a.State())
	}

	if err := a.Prompt(ctx, "again"); err == nil {
		t.Fatal("Prompt should be rejected while in error state")
	}
	if err := a.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if a.State() != core.StateIdle {
		t.Fatalf("State() after Reset = %v, want idle", a.State())
	}
	if err := a.Reset(); err == nil {
		t.Fatal("Reset on an idle agent should error")
	}
}

func TestPromptMessagesAppendsAllInOrder(t *testing.T) {
	t.Parallel()
	a, demo, _ := newTestAgent(t, []provider.ScriptedTurn{
		{Text: "ack", StopReason: core.StopEndTurn},
	})

	ctx := context.Background()
	msgs := []core.Message{
		core.NewTextMessage(core.RoleSystem, "prior summary"),
		core.NewTextMessage(core.RoleUser, "continue from there"),
	}
	if err := a.PromptMessages(ctx, msgs...); err != nil {
		t.Fatalf("PromptMessages: %v", err)
	}
	if err := a.WaitForIdle(ctx); err != nil {
		t.Fatalf("WaitForIdle: %v", err)
	}

	sent := demo.Seen[0].Messages
	if len(sent) != 2 || sent[0].Role != core.RoleSystem || sent[1].Role != core.RoleUser {
		t.Fatalf("provider saw %+v", sent)
	}
}

func TestPromptWithImagesCarriesImageBlock(t *testing.T) {
	t.Parallel()
	a, demo, _ := newTestAgent(t, []provider.ScriptedTurn{
		{Text: "nice screenshot", StopReason: core.StopEndTurn},
	})

	ctx := context.Background()
	img := core.Image([]byte{0x89, 'P', 'N', 'G'}, "image/png")
	if err := a.PromptWithImages(ctx, "what is this?", []core.ContentBlock{img}); err != nil {
		t.Fatalf("PromptWithImages: %v", err)
	}
	if err := a.WaitForIdle(ctx); err != nil {
		t.Fatalf("WaitForIdle: %v", err)
	}

	content := demo.Seen[0].Messages[0].Content
	if len(content) != 2 || content[0].Type != core.ContentText || content[1].Type != core.ContentImage {
		t.Fatalf("user content = %+v", content)
	}
	if content[1].MimeType != "image/png" {
		t.Fatalf("mime = %q", content[1].MimeType)
	}
}

// blockingProvider never finishes its stream until the caller's context
// is cancelled, letting cancellation tests avoid racing a fast reply.
type blockingProvider struct{}

func (blockingProvider) Stream(ctx context.Context, _ *core.Model, _ *core.Context, _ core.StreamOptions) *provider.EventStream {
	s := provider.NewEventStream(1)
	go func() {
		<-ctx.Done()
		s.FinishWithError(ctx.Err())
	}()
	return s
}

func TestMidDispatchCancelReturnsToIdle(t *testing.T) {
	t.Parallel()

	reg := provider.NewRegistry()
	reg.Register("demo", &provider.DemoProvider{Script: []provider.ScriptedTurn{
		{ToolCalls: []core.ToolCall{{CallID: "c1", ToolName: "self_abort"}}},
		{Text: "back", StopReason: core.StopEndTurn},
	}}, "")

	var a *Agent
	d := dispatch.New(2)
	d.Register(dispatch.Spec{
		Definition: core.ToolDefinition{Name: "self_abort"},
		Run: func(context.Context, core.ToolCall, func(string)) core.ToolResult {
			a.Abort() // simulates a cancellation landing while tools are in flight
			return core.ToolResult{Content: []core.ContentBlock{core.Text("ok")}}
		},
	})
	bus := eventbus.New(32)
	a = New(Config{Model: testModel(), Providers: reg, Dispatcher: d, Bus: bus})

	ctx := context.Background()
	if err := a.Prompt(ctx, "go"); err != nil {
		t.Fatalf("Prompt: %v", err)
	}
	if err := a.WaitForIdle(ctx); err != nil {
		t.Fatalf("WaitForIdle: %v", err)
	}
	// A mid-dispatch cancellation transitions straight to Idle, not
	// Paused (reserved for a confirmation policy); a following Prompt
	// must start a fresh turn normally.
	if a.State() != core.StateIdle {
		t.Fatalf("State() = %v, want idle", a.State())
	}

	if err := a.Prompt(context.Background(), "again"); err != nil {
		t.Fatalf("Prompt after cancellation: %v", err)
	}
	if err := a.WaitForIdle(context.Background()); err != nil {
		t.Fatalf("WaitForIdle after second prompt: %v", err)
	}
	if a.State() != core.StateIdle {
		t.Fatalf("State() after second run = %v, want idle", a.State())
	}
}

func TestAbortDuringStreamEndsCancelled(t *testing.T) {
	t.Parallel()

	reg := provider.NewRegistry()
	reg.Register("demo", blockingProvider{}, "")
	d := dispatch.New(2)
	bus := eventbus.New(64)
	a := New(Config{Model: testModel(), Providers: reg, Dispatcher: d, Bus: bus})

	sub, unsub := bus.Subscribe()
	defer unsub()

	ctx := context.Background()
	if err := a.Prompt(ctx, "go"); err != nil {
		t.Fatalf("Prompt: %v", err)
	}
	a.Abort()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-sub:
			if ev.Type == core.EventTurnEnded && ev.StopReason == core.StopCancelled {
				return
			}
		case <-timeout:
			t.Fatal("timed out waiting for cancelled TurnEnded event")
		}
	}
}
