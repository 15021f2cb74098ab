// ABOUTME: The Agent Loop: owns one conversation's state machine, pumps
// ABOUTME: provider streams, dispatches tool calls, and accepts mid-run
// ABOUTME: steering and queued follow-ups.

package agent

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/wyvernlab/agentcore-go/internal/convo"
	"github.com/wyvernlab/agentcore-go/internal/core"
	"github.com/wyvernlab/agentcore-go/internal/dispatch"
	"github.com/wyvernlab/agentcore-go/internal/eventbus"
	"github.com/wyvernlab/agentcore-go/internal/metrics"
	"github.com/wyvernlab/agentcore-go/internal/obslog"
	"github.com/wyvernlab/agentcore-go/internal/provider"
)

// Config bundles the collaborators one Agent needs. Every field is
// shared, not owned: callers may pass the same Providers/Dispatcher/Bus
// to a nested subagent with a narrower Dispatcher view.
type Config struct {
	Model            *core.Model
	Providers        *provider.Registry
	Dispatcher       *dispatch.Dispatcher
	Bus              *eventbus.Bus
	System           string
	CompactionPolicy convo.Policy
	RetryPolicy      RetryPolicy
	StreamOptions    core.StreamOptions
	// PauseBeforeTools, if set, is consulted with the turn's ToolUse
	// calls before dispatch; returning true parks the agent in Paused
	// until ContinueRun. The nil default is auto-continue.
	PauseBeforeTools func(calls []core.ToolCall) bool
	// Metrics, if set, receives turn/retry/usage instrumentation.
	// A nil Metrics is a no-op.
	Metrics *metrics.Collector
}

// Agent owns one conversation's Context & Message Store and drives it
// through the Idle/Streaming/DispatchingTools/Paused/Error state machine.
type Agent struct {
	cfg   Config
	store *convo.Store

	mu       sync.Mutex
	state    core.AgentState
	steering []core.Message
	followUp []core.Message
	pending  []core.ToolCall // ToolUse calls parked by a PauseBeforeTools policy
	idleCond *sync.Cond
	cancel   context.CancelFunc
	lastErr  error

	usage atomic.Value // core.Usage
}

// New constructs an idle Agent.
func New(cfg Config) *Agent {
	if cfg.RetryPolicy == (RetryPolicy{}) {
		cfg.RetryPolicy = DefaultRetryPolicy()
	}
	if cfg.CompactionPolicy == (convo.Policy{}) {
		cfg.CompactionPolicy = convo.DefaultPolicy
	}
	a := &Agent{
		cfg:   cfg,
		store: convo.NewStore(cfg.System),
		state: core.StateIdle,
	}
	a.idleCond = sync.NewCond(&a.mu)
	a.usage.Store(core.Usage{})
	return a
}

// State returns the agent's current lifecycle state.
func (a *Agent) State() core.AgentState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Usage returns the accumulated token usage across every turn so far.
func (a *Agent) Usage() core.Usage {
	return a.usage.Load().(core.Usage)
}

// Store exposes the underlying conversation store for journal/UI readers.
func (a *Agent) Store() *convo.Store { return a.store }

func (a *Agent) setState(s core.AgentState) {
	a.mu.Lock()
	a.state = s
	if s == core.StateIdle || s == core.StatePaused {
		a.idleCond.Broadcast()
	}
	a.mu.Unlock()
}

// Prompt appends a user message and starts a run if the agent is idle.
// It returns immediately; use WaitForIdle to block until the run settles.
func (a *Agent) Prompt(ctx context.Context, text string) error {
	return a.startRun(ctx, []core.Message{core.NewTextMessage(core.RoleUser, text)})
}

// PromptWithImages appends one user message carrying text plus image
// blocks and starts a run if idle.
func (a *Agent) PromptWithImages(ctx context.Context, text string, images []core.ContentBlock) error {
	content := make([]core.ContentBlock, 0, len(images)+1)
	if text != "" {
		content = append(content, core.Text(text))
	}
	content = append(content, images...)
	return a.startRun(ctx, []core.Message{core.NewMessage(core.RoleUser, content)})
}

// PromptMessages appends the given pre-built messages in order and
// starts a run if idle.
func (a *Agent) PromptMessages(ctx context.Context, msgs ...core.Message) error {
	if len(msgs) == 0 {
		return fmt.Errorf("prompt requires at least one message")
	}
	return a.startRun(ctx, msgs)
}

func (a *Agent) startRun(ctx context.Context, msgs []core.Message) error {
	a.mu.Lock()
	if a.state != core.StateIdle {
		a.mu.Unlock()
		return fmt.Errorf("agent busy: state=%s", a.state)
	}
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.lastErr = nil
	a.state = core.StateStreaming
	a.mu.Unlock()

	for _, m := range msgs {
		a.store.Append(m)
	}
	go a.runLoop(runCtx)
	return nil
}

// Reset returns an Error-state agent to Idle, clearing the recorded
// failure. Error -> Idle happens only through this explicit call.
func (a *Agent) Reset() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != core.StateError {
		return fmt.Errorf("agent not in error state: state=%s", a.state)
	}
	a.lastErr = nil
	a.pending = nil
	a.state = core.StateIdle
	a.idleCond.Broadcast()
	return nil
}

// Steer injects a user-role message into the in-flight turn. It is
// drained into the store before the next provider call rather than
// interrupting the current stream.
func (a *Agent) Steer(text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == core.StateIdle {
		return fmt.Errorf("no run in progress to steer")
	}
	msg := core.NewTextMessage(core.RoleUser, text)
	msg.SteeringHint = true
	a.steering = append(a.steering, msg)
	return nil
}

// FollowUp queues a message to start automatically as the next run once
// the agent reaches Idle. If the agent is already idle, it starts the
// run immediately (equivalent to Prompt).
func (a *Agent) FollowUp(ctx context.Context, text string) error {
	a.mu.Lock()
	if a.state == core.StateIdle {
		a.mu.Unlock()
		return a.Prompt(ctx, text)
	}
	a.followUp = append(a.followUp, core.NewTextMessage(core.RoleUser, text))
	a.mu.Unlock()
	return nil
}

// ContinueRun resumes a Paused agent: the tool calls parked by the
// PauseBeforeTools policy dispatch first, then streaming continues.
func (a *Agent) ContinueRun(ctx context.Context) error {
	a.mu.Lock()
	if a.state != core.StatePaused {
		a.mu.Unlock()
		return fmt.Errorf("agent not paused: state=%s", a.state)
	}
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.state = core.StateStreaming
	a.mu.Unlock()

	go a.runLoop(runCtx)
	return nil
}

// Abort cancels the in-flight operation. A cancellation between turns
// moves the agent directly to Idle; one during streaming drains and
// emits a cancelled TurnEnded; one during tool dispatch signals the
// dispatcher and, after a grace period, finalizes error results
// (handled inside runLoop via ctx.Err() checks).
func (a *Agent) Abort() {
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// WaitForIdle blocks until the agent reaches a settled state: Idle,
// Error, or Paused (tool calls parked by PauseBeforeTools awaiting
// ContinueRun), or until ctx is done.
func (a *Agent) WaitForIdle(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.mu.Lock()
		for a.state != core.StateIdle && a.state != core.StateError && a.state != core.StatePaused {
			a.idleCond.Wait()
		}
		a.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		a.mu.Lock()
		err := a.lastErr
		a.mu.Unlock()
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Agent) emit(ev core.AgentEvent) {
	if a.cfg.Bus != nil {
		a.cfg.Bus.Publish(ev)
	}
}

// drainSteering folds any pending steering messages into the store.
func (a *Agent) drainSteering() {
	a.mu.Lock()
	pending := a.steering
	a.steering = nil
	a.mu.Unlock()

	for _, m := range pending {
		a.store.Append(m)
	}
}

// runLoop drives the turn state machine until the conversation reaches
// a stable end state: Idle (turn finished cleanly, no follow-up queued),
// Idle via an immediately-started follow-up, or Error.
func (a *Agent) runLoop(ctx context.Context) {
	for {
		err := a.runTurn(ctx)
		if err != nil {
			a.finishWithError(err)
			return
		}

		a.mu.Lock()
		if a.state == core.StatePaused {
			// A PauseBeforeTools policy parked the turn's tool calls;
			// ContinueRun dispatches them and resumes the run.
			a.mu.Unlock()
			return
		}
		if ctx.Err() != nil {
			a.mu.Unlock()
			a.setState(core.StateIdle)
			return
		}
		if len(a.followUp) > 0 {
			batch := a.followUp
			a.followUp = nil
			a.mu.Unlock()
			for _, m := range batch {
				a.store.Append(m) // drain the whole queue, order preserved
			}
			continue // loop back into another runTurn under the same ctx
		}
		a.mu.Unlock()
		a.setState(core.StateIdle)
		a.emit(core.AgentEvent{Type: core.EventIdle})
		return
	}
}

func (a *Agent) finishWithError(err error) {
	kind := core.ErrProviderProtocol
	if ae, ok := err.(*core.AgentError); ok {
		kind = ae.Kind
	}
	// Protocol and journal failures are terminal for the turn but not for
	// the loop: the agent returns to Idle and a fresh Prompt may follow.
	// Everything else parks in Error until Reset.
	recoverable := kind == core.ErrProviderProtocol || kind == core.ErrJournalIO

	a.mu.Lock()
	a.lastErr = err
	if recoverable {
		a.state = core.StateIdle
	} else {
		a.state = core.StateError
	}
	a.idleCond.Broadcast()
	a.mu.Unlock()

	obslog.Error("agent turn failed", "kind", kind.String(), "error", err.Error())
	a.emit(core.AgentEvent{Type: core.EventError, ErrKind: kind, Err: err})
	if recoverable {
		a.emit(core.AgentEvent{Type: core.EventIdle})
	}
}

// runTurn drives one turn: drain steering, compact if needed, stream a
// completion, dispatch any requested tools,
// and loop internally on ToolUse stop reasons until the model ends the
// turn without further tool calls. A resume after a PauseBeforeTools
// park re-enters here with the parked calls still pending; they dispatch
// before any further streaming.
func (a *Agent) runTurn(ctx context.Context) error {
	a.mu.Lock()
	pending := a.pending
	a.pending = nil
	a.mu.Unlock()

	a.cfg.Metrics.TurnStarted()
	defer a.cfg.Metrics.TurnEnded()
	if len(pending) == 0 {
		a.emit(core.AgentEvent{Type: core.EventTurnStarted})
	}

	for {
		if ctx.Err() != nil {
			a.emit(core.AgentEvent{Type: core.EventTurnEnded, StopReason: core.StopCancelled})
			return nil
		}

		calls := pending
		pending = nil
		if len(calls) == 0 {
			a.drainSteering()
			a.maybeCompact()

			llmCtx := a.store.Context(a.cfg.Dispatcher.Definitions())
			core.ApplyPromptCaching(llmCtx, a.cfg.Model.ApiID)

			assistantMsg, err := a.streamTurn(ctx, llmCtx)
			if err != nil {
				if ae, ok := err.(*core.AgentError); ok && ae.Kind == core.ErrCancelled {
					// Cancellation during streaming drains cleanly rather than
					// surfacing as a loop-ending error.
					a.emit(core.AgentEvent{Type: core.EventTurnEnded, StopReason: core.StopCancelled})
					return nil
				}
				return err
			}

			msg := core.NewMessage(core.RoleAssistant, assistantMsg.Content)
			a.store.Append(msg)
			a.emit(core.AgentEvent{Type: core.EventAssistantMessage, Final: &msg})

			newUsage := a.Usage().Add(assistantMsg.Usage)
			a.usage.Store(newUsage)
			a.cfg.Metrics.ObserveUsage(assistantMsg.Usage, a.cfg.Model.Rates)
			a.emit(core.AgentEvent{Type: core.EventUsageUpdated, Usage: newUsage})

			if assistantMsg.StopReason != core.StopToolUse {
				a.emit(core.AgentEvent{Type: core.EventTurnEnded, StopReason: assistantMsg.StopReason})
				return nil
			}

			calls = extractToolCalls(assistantMsg.Content)
			if len(calls) == 0 {
				a.emit(core.AgentEvent{Type: core.EventTurnEnded, StopReason: core.StopEndTurn})
				return nil
			}

			if a.cfg.PauseBeforeTools != nil && a.cfg.PauseBeforeTools(calls) {
				a.mu.Lock()
				a.pending = calls
				a.mu.Unlock()
				a.setState(core.StatePaused)
				return nil
			}
		}

		a.setState(core.StateDispatchingTools)
		resultBlocks := a.cfg.Dispatcher.Dispatch(ctx, calls, a.emit)
		a.setState(core.StateStreaming)

		if ctx.Err() != nil {
			a.store.Append(core.NewMessage(core.RoleUser, resultBlocks))
			// A mid-dispatch cancellation moves straight to Idle, not
			// Paused: Paused is reserved for a confirmation-policy pause,
			// and a cancelled run must let a fresh Prompt start normally
			// afterward.
			a.setState(core.StateIdle)
			a.emit(core.AgentEvent{Type: core.EventTurnEnded, StopReason: core.StopCancelled})
			return nil
		}

		a.store.Append(core.NewMessage(core.RoleUser, resultBlocks))
		// Loop: the tool results become the next provider call's input.
	}
}

func (a *Agent) maybeCompact() {
	window := a.cfg.Model.EffectiveContextWindow()
	snap := a.store.Snapshot()
	if !convo.ShouldCompact(a.store.System(), snap, window, a.cfg.CompactionPolicy) {
		return
	}
	compacted, summary := convo.Compact(snap, a.cfg.CompactionPolicy)
	if summary == "" {
		return
	}
	a.store.Replace(compacted)
}

func (a *Agent) streamTurn(ctx context.Context, llmCtx *core.Context) (*core.AssistantMessage, error) {
	p, ok := a.cfg.Providers.Get(a.cfg.Model.ApiID)
	if !ok {
		return nil, core.NewAgentError(core.ErrProviderNotFound,
			fmt.Errorf("no provider registered for api %q", a.cfg.Model.ApiID))
	}

	var msg *core.AssistantMessage
	attempt := 0
	result := doWithRetry(ctx, a.cfg.RetryPolicy, isRetryableProviderError, func() error {
		attempt++
		if attempt > 1 {
			a.cfg.Metrics.ProviderRetry("retried")
		}
		stream := p.Stream(ctx, a.cfg.Model, llmCtx, a.cfg.StreamOptions)
		assembled, err := provider.Adapt(stream, a.emit, !a.cfg.Model.Reasoning)
		if err != nil {
			if _, ok := err.(*core.AgentError); ok {
				return err // already classified; a protocol error must not retry as transport
			}
			return core.NewAgentError(core.ErrProviderTransport, err)
		}
		msg = assembled
		return nil
	})
	if result.Err != nil {
		if result.Attempts > 1 {
			a.cfg.Metrics.ProviderRetry("exhausted")
		}
		if ctx.Err() != nil {
			return nil, core.NewAgentError(core.ErrCancelled, ctx.Err())
		}
		return nil, result.Err
	}
	return msg, nil
}

func isRetryableProviderError(err error) bool {
	ae, ok := err.(*core.AgentError)
	if !ok {
		return true
	}
	return ae.Kind == core.ErrProviderTransport && ae.Retryable
}

func extractToolCalls(blocks []core.ContentBlock) []core.ToolCall {
	var calls []core.ToolCall
	for _, b := range blocks {
		if b.Type != core.ContentToolUse {
			continue
		}
		calls = append(calls, core.ToolCall{CallID: b.CallID, ToolName: b.ToolName, Arguments: b.Arguments})
	}
	return calls
}
