// ABOUTME: Subagent spawning: isolated Context & Message Store, tool
// ABOUTME: allow/deny-listing, explicit recursion depth, parent_call_id event
// ABOUTME: re-publishing, and submit_result-as-return-value.

package subagent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/wyvernlab/agentcore-go/internal/agent"
	"github.com/wyvernlab/agentcore-go/internal/core"
	"github.com/wyvernlab/agentcore-go/internal/dispatch"
	"github.com/wyvernlab/agentcore-go/internal/eventbus"
	"github.com/wyvernlab/agentcore-go/internal/provider"
)

// MaxRecursionDepth bounds subagent-spawning-subagent chains.
const MaxRecursionDepth = 4

// submitResultToolName is the reserved tool a subagent calls to return
// its answer; calling it ends the subagent's run immediately.
const submitResultToolName = "submit_result"

var submitResultSchema = json.RawMessage(`{
  "type": "object",
  "required": ["result"],
  "properties": {"result": {"type": "string"}}
}`)

// Result is the outcome of one subagent run.
type Result struct {
	Text  string
	Error error
}

// Handle tracks a running or completed subagent.
type Handle struct {
	ID   string
	Name string
	Done <-chan struct{}

	result atomic.Pointer[Result]
}

// Result returns the outcome, or nil while the subagent is still running.
func (h *Handle) Result() *Result { return h.result.Load() }

// ResolveModel maps a Definition's shorthand model field to a concrete Model.
type ResolveModel func(shorthand string) (*core.Model, error)

// Deps bundles the collaborators Spawn needs from the parent agent.
type Deps struct {
	Providers    *provider.Registry
	ParentTools  *dispatch.Dispatcher // the full tool set Spawn filters from
	ParentBus    *eventbus.Bus        // events are re-published here, tagged
	ResolveModel ResolveModel
}

// depthKey tags the context value carrying the current subagent
// recursion depth, so a task tool nested inside a running subagent can
// read the depth it is spawning at without threading it through every
// dispatch.Spec.Run signature.
type depthKey struct{}

// DepthFromContext returns the recursion depth a tool is executing at:
// 0 outside any subagent, or N inside the Nth level of nested Spawn.
// Callers building a task tool pass this straight through to Spawn.
func DepthFromContext(ctx context.Context) int {
	if v, ok := ctx.Value(depthKey{}).(int); ok {
		return v
	}
	return 0
}

func withDepth(ctx context.Context, depth int) context.Context {
	return context.WithValue(ctx, depthKey{}, depth)
}

// Spawn runs one subagent to completion (or to Background, if requested
// by the caller via a goroutine) and returns a Handle tracking it. depth
// is the number of subagent-spawning-subagent hops already taken by the
// caller; Spawn rejects the call once depth reaches MaxRecursionDepth.
func Spawn(ctx context.Context, def Definition, callID, prompt string, depth int, background bool, deps Deps) (*Handle, error) {
	if depth >= MaxRecursionDepth {
		return nil, core.NewAgentError(core.ErrSubagentDepthExceeded,
			fmt.Errorf("subagent %q exceeded max recursion depth %d", def.Name, MaxRecursionDepth))
	}

	model, err := deps.ResolveModel(def.Model)
	if err != nil {
		return nil, fmt.Errorf("resolve model for subagent %q: %w", def.Name, err)
	}

	filtered := filterDispatcher(deps.ParentTools, def.Tools, def.DisallowedTools, def.Spawns)

	runCtx, cancel := context.WithCancel(ctx)
	runCtx = withDepth(runCtx, depth+1)
	var resultText atomic.Pointer[string]
	filtered.Register(dispatch.Spec{
		Definition: core.ToolDefinition{
			Name:        submitResultToolName,
			Description: "Submit the final result and end this subagent's run.",
			Parameters:  submitResultSchema,
		},
		Run: func(_ context.Context, call core.ToolCall, _ func(string)) core.ToolResult {
			var args struct {
				Result string `json:"result"`
			}
			_ = json.Unmarshal(call.Arguments, &args)
			resultText.Store(&args.Result)
			cancel()
			return core.ToolResult{Content: []core.ContentBlock{core.Text("result submitted")}}
		},
	})

	bus := eventbus.New(eventbus.DefaultCapacity)
	stopRepublish := republishTagged(bus, deps.ParentBus, callID)

	system := def.SystemPrompt
	if system == "" {
		system = fmt.Sprintf("You are %s. %s", def.Name, def.Description)
	}

	a := agent.New(agent.Config{
		Model:      model,
		Providers:  deps.Providers,
		Dispatcher: filtered,
		Bus:        bus,
		System:     system,
	})

	maxTurns := def.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 10
	}
	stopTurnCounter := enforceMaxTurns(bus, maxTurns, cancel)

	handle := &Handle{ID: fmt.Sprintf("sub-%s", callID), Name: def.Name, Done: make(chan struct{})}
	done := make(chan struct{})
	handle.Done = done

	run := func() {
		defer close(done)
		defer stopRepublish()
		defer stopTurnCounter()
		defer cancel()

		if err := a.Prompt(runCtx, prompt); err != nil {
			handle.result.Store(&Result{Error: err})
			return
		}
		waitErr := a.WaitForIdle(ctx)

		if text := resultText.Load(); text != nil {
			handle.result.Store(&Result{Text: *text})
			return
		}
		if waitErr != nil && waitErr != context.Canceled {
			handle.result.Store(&Result{Text: lastAssistantText(a), Error: waitErr})
			return
		}
		handle.result.Store(&Result{Text: lastAssistantText(a)})
	}

	if background {
		go run()
	} else {
		run()
	}

	return handle, nil
}

// lastAssistantText concatenates every text block of the final
// assistant message, used when a subagent ends a turn normally without
// calling submit_result.
func lastAssistantText(a *agent.Agent) string {
	snap := a.Store().Snapshot()
	for i := len(snap) - 1; i >= 0; i-- {
		if snap[i].Role != core.RoleAssistant {
			continue
		}
		var b strings.Builder
		for _, c := range snap[i].Content {
			if c.Type == core.ContentText {
				b.WriteString(c.Text)
			}
		}
		return b.String()
	}
	return ""
}

// taskToolName is the parent-registered tool a subagent uses to spawn
// further subagents; its grant is governed by the definition's Spawns
// policy rather than the plain tool allow-list.
const taskToolName = "task"

// filterDispatcher copies the allow-listed (or, with an empty allow
// list, all-minus-disallow-listed) tool Specs from parent into a fresh
// Dispatcher the subagent cannot use to reach tools outside its grant.
// The task tool is special-cased: a spawns-none definition loses it
// entirely, and a name-listed policy gets a wrapped spec that rejects
// agents outside the list.
func filterDispatcher(parent *dispatch.Dispatcher, allow, disallow []string, spawns SpawnsPolicy) *dispatch.Dispatcher {
	out := dispatch.New(dispatch.DefaultConcurrency)
	disallowSet := make(map[string]bool, len(disallow))
	for _, n := range disallow {
		disallowSet[n] = true
	}

	names := allow
	if len(names) == 0 {
		defs := parent.Definitions()
		names = make([]string, len(defs))
		for i, d := range defs {
			names[i] = d.Name
		}
	}
	for _, name := range names {
		if disallowSet[name] {
			continue
		}
		spec, ok := parent.Spec(name)
		if !ok {
			continue
		}
		if name == taskToolName {
			if spawns.None() {
				continue
			}
			if !spawns.All {
				spec = restrictTaskSpec(spec, spawns)
			}
		}
		out.Register(spec)
	}
	return out
}

// restrictTaskSpec wraps a task tool Spec so only the agent names the
// policy grants can be spawned; everything else gets an error result
// without reaching Spawn.
func restrictTaskSpec(spec dispatch.Spec, spawns SpawnsPolicy) dispatch.Spec {
	inner := spec.Run
	spec.Run = func(ctx context.Context, call core.ToolCall, progress func(string)) core.ToolResult {
		var args struct {
			Agent string `json:"agent"`
		}
		_ = json.Unmarshal(call.Arguments, &args)
		if !spawns.Allows(args.Agent) {
			return core.ToolResult{
				Content: []core.ContentBlock{core.Text(fmt.Sprintf("agent %q is not in this subagent's spawns grant", args.Agent))},
				IsError: true,
			}
		}
		return inner(ctx, call, progress)
	}
	return spec
}

// republishTagged forwards every event from src to dst with
// ParentCallID set to callID, so a subscriber to the top-level bus can
// attribute nested activity to the task call that spawned it. Returns
// a stop function to release the subscription.
func republishTagged(src *eventbus.Bus, dst *eventbus.Bus, callID string) func() {
	ch, unsub := src.Subscribe()
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case ev, ok := <-ch:
				if !ok {
					return
				}
				ev.ParentCallID = callID
				if dst != nil {
					dst.Publish(ev)
				}
			case <-stop:
				return
			}
		}
	}()
	return func() {
		close(stop)
		unsub()
	}
}

// enforceMaxTurns cancels cancel once maxTurns EventTurnStarted events
// have been observed on bus, since the agent loop itself has no
// per-run turn cap.
func enforceMaxTurns(bus *eventbus.Bus, maxTurns int, cancel context.CancelFunc) func() {
	ch, unsub := bus.Subscribe()
	stop := make(chan struct{})
	go func() {
		turns := 0
		for {
			select {
			case ev, ok := <-ch:
				if !ok {
					return
				}
				if ev.Type == core.EventTurnStarted {
					turns++
					if turns >= maxTurns {
						cancel()
					}
				}
			case <-stop:
				return
			}
		}
	}()
	return func() {
		close(stop)
		unsub()
	}
}
