// ABOUTME: Tool Dispatcher: validates tool-call arguments
// ABOUTME: against their JSON Schema, unwraps batch invocations, and runs
// ABOUTME: calls under a bounded worker pool with serial tools gated to run
// ABOUTME: strictly after the concurrent set.

package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/sync/errgroup"

	"github.com/wyvernlab/agentcore-go/internal/core"
	"github.com/wyvernlab/agentcore-go/internal/metrics"
	"github.com/wyvernlab/agentcore-go/internal/obslog"
)

// BatchToolName is the reserved name that, when invoked, recursively
// unwraps into its own batch of sub-invocations.
const BatchToolName = "batch"

// DefaultConcurrency bounds concurrent (non-serial) tool execution
// within one turn.
const DefaultConcurrency = 8

// ToolFunc executes one tool call. progress, if non-nil, may be called
// any number of times before Run returns to report incremental status;
// the Dispatcher forwards each call as an EventToolCallUpdate.
type ToolFunc func(ctx context.Context, call core.ToolCall, progress func(string)) core.ToolResult

// Spec registers one tool's definition, execution function, and
// concurrency class.
type Spec struct {
	Definition core.ToolDefinition
	// Serial tools (bash-style side effects, and the task/subagent tool)
	// never run concurrently with each other or with the concurrent
	// set; they execute one at a time after it drains.
	Serial bool
	// Reentrant tools may run concurrently with other calls to the same
	// tool within one turn. Non-reentrant tools still run concurrently
	// with *other* tools, but repeated calls to the same tool execute in
	// order.
	Reentrant bool
	Run       ToolFunc
}

// Publisher receives AgentEvents the dispatcher emits for progress and
// lifecycle reporting (EventToolCallStarted/Update/Finished).
type Publisher func(core.AgentEvent)

// DefaultGracePeriod is how long a cancelled dispatch waits for a tool
// to stop cooperatively before recording an error result for it.
const DefaultGracePeriod = 5 * time.Second

// Dispatcher owns the registered tool set and executes ToolCall batches.
type Dispatcher struct {
	mu          sync.RWMutex
	specs       map[string]Spec
	schemas     sync.Map // tool name -> *jsonschema.Schema
	concurrency int
	grace       time.Duration

	// Metrics, if set, receives tool-in-flight gauge updates. A nil
	// Metrics is a no-op.
	Metrics *metrics.Collector
}

// New creates a Dispatcher with the given concurrency for non-serial
// tools (DefaultConcurrency if n <= 0).
func New(n int) *Dispatcher {
	if n <= 0 {
		n = DefaultConcurrency
	}
	return &Dispatcher{specs: make(map[string]Spec), concurrency: n, grace: DefaultGracePeriod}
}

// SetGracePeriod overrides the cooperative-stop wait applied when the
// dispatch context is cancelled while a tool is still running.
func (d *Dispatcher) SetGracePeriod(grace time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if grace > 0 {
		d.grace = grace
	}
}

func (d *Dispatcher) gracePeriod() time.Duration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.grace
}

// Register installs or replaces a tool.
func (d *Dispatcher) Register(spec Spec) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.specs[spec.Definition.Name] = spec
	d.schemas.Delete(spec.Definition.Name)
}

// Definitions returns every registered tool's ToolDefinition, for
// inclusion in the provider-facing Context.
func (d *Dispatcher) Definitions() []core.ToolDefinition {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]core.ToolDefinition, 0, len(d.specs))
	for _, s := range d.specs {
		out = append(out, s.Definition)
	}
	return out
}

func (d *Dispatcher) lookup(name string) (Spec, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.specs[name]
	return s, ok
}

// Spec returns the registered Spec for name, for callers (e.g. subagent
// tool filtering) that need to copy a subset of another Dispatcher's
// tools rather than merely invoke them.
func (d *Dispatcher) Spec(name string) (Spec, bool) {
	return d.lookup(name)
}

func (d *Dispatcher) compiledSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	if cached, ok := d.schemas.Load(name); ok {
		return cached.(*jsonschema.Schema), nil
	}
	if len(raw) == 0 {
		return nil, nil
	}
	compiled, err := jsonschema.CompileString(name+".schema.json", string(raw))
	if err != nil {
		return nil, fmt.Errorf("compile schema for tool %q: %w", name, err)
	}
	d.schemas.Store(name, compiled)
	return compiled, nil
}

func (d *Dispatcher) validate(spec Spec, call core.ToolCall) error {
	schema, err := d.compiledSchema(spec.Definition.Name, spec.Definition.Parameters)
	if err != nil {
		return err
	}
	if schema == nil {
		return nil
	}
	var decoded any
	args := call.Arguments
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	if err := json.Unmarshal(args, &decoded); err != nil {
		return fmt.Errorf("Invalid arguments: tool %q arguments are not valid JSON: %w", spec.Definition.Name, err)
	}
	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("Invalid arguments: tool %q arguments failed validation: %w", spec.Definition.Name, err)
	}
	return nil
}

// batchInvocation is one entry of a batch tool call's arguments.
type batchInvocation struct {
	ToolName  string          `json:"tool_name"`
	Arguments json.RawMessage `json:"arguments"`
}

type batchArgs struct {
	Invocations []batchInvocation `json:"invocations"`
}

// indexedCall pairs a ToolCall with its position in the original calls
// slice, so results can be recorded by index rather than by call_id
// (which a duplicate call_id would otherwise collide on).
type indexedCall struct {
	idx  int
	call core.ToolCall
}

// Dispatch executes every call in calls, honoring batch unwrapping,
// serial/concurrent classes, and at-most-once call_id dedup, then
// reassembles one ContentToolResult block per original top-level
// ToolUse, in the input order. A call whose tool is unknown, whose
// arguments fail schema validation, or whose Run panics yields an
// IsError result rather than aborting the batch. A call_id that repeats
// within calls executes only its first occurrence; every later
// occurrence yields its own IsError result instead of running again.
func (d *Dispatcher) Dispatch(ctx context.Context, calls []core.ToolCall, publish Publisher) []core.ContentBlock {
	if publish == nil {
		publish = func(core.AgentEvent) {}
	}

	out := make([]core.ContentBlock, len(calls))
	seen := make(map[string]bool, len(calls))
	var concurrent, serial []indexedCall
	for i, c := range calls {
		if seen[c.CallID] {
			out[i] = d.errorResult(c, publish, fmt.Sprintf("duplicate call_id %q: already executed once this turn", c.CallID))
			continue
		}
		seen[c.CallID] = true

		spec, ok := d.lookup(c.ToolName)
		if ok && spec.Serial {
			serial = append(serial, indexedCall{i, c})
		} else {
			concurrent = append(concurrent, indexedCall{i, c})
		}
	}

	var outMu sync.Mutex
	record := func(i int, block core.ContentBlock) {
		outMu.Lock()
		out[i] = block
		outMu.Unlock()
	}

	// Concurrent set first, bounded by d.concurrency. Repeated calls to
	// the same non-reentrant tool are chained so they execute in order
	// relative to each other while still overlapping with other tools.
	chains := make(map[string][]indexedCall)
	var chainOrder []string
	var independent []indexedCall
	for _, ic := range concurrent {
		spec, ok := d.lookup(ic.call.ToolName)
		if !ok || spec.Reentrant {
			independent = append(independent, ic)
			continue
		}
		if _, seen := chains[ic.call.ToolName]; !seen {
			chainOrder = append(chainOrder, ic.call.ToolName)
		}
		chains[ic.call.ToolName] = append(chains[ic.call.ToolName], ic)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for _, ic := range independent {
		ic := ic
		g.Go(func() error {
			record(ic.idx, d.runOne(gctx, ic.call, publish))
			return nil
		})
	}
	for _, name := range chainOrder {
		chain := chains[name]
		g.Go(func() error {
			for _, ic := range chain {
				record(ic.idx, d.runOne(gctx, ic.call, publish))
			}
			return nil
		})
	}
	_ = g.Wait() // runOne never returns an error; it converts failures to result blocks

	// Serial set runs strictly after the concurrent set drains, one at
	// a time.
	for _, ic := range serial {
		record(ic.idx, d.runOne(ctx, ic.call, publish))
	}

	return out
}

func (d *Dispatcher) runOne(ctx context.Context, call core.ToolCall, publish Publisher) (result core.ContentBlock) {
	label := ""
	if s, ok := d.lookup(call.ToolName); ok {
		label = s.Definition.Label
	}
	publish(core.AgentEvent{Type: core.EventToolCallStarted, CallID: call.CallID, ToolName: call.ToolName, ToolLabel: label})
	d.Metrics.ToolStarted()

	defer func() {
		d.Metrics.ToolFinished()
		if r := recover(); r != nil {
			errResult := core.ToolResultBlock(call.CallID, []core.ContentBlock{
				core.Text(fmt.Sprintf("tool %q panicked: %v", call.ToolName, r)),
			}, true)
			publish(core.AgentEvent{Type: core.EventToolCallFinished, CallID: call.CallID, ToolName: call.ToolName,
				ToolResult: &core.ToolResult{Content: errResult.ResultContent, IsError: true}})
			result = errResult
		}
	}()

	if call.ToolName == BatchToolName {
		return d.runBatch(ctx, call, publish)
	}

	spec, ok := d.lookup(call.ToolName)
	if !ok {
		return d.errorResult(call, publish, fmt.Sprintf("unknown tool %q", call.ToolName))
	}
	if err := d.validate(spec, call); err != nil {
		return d.errorResult(call, publish, err.Error())
	}

	progress := func(msg string) {
		publish(core.AgentEvent{Type: core.EventToolCallUpdate, CallID: call.CallID, ToolName: call.ToolName, Progress: msg})
	}
	toolResult, ok := d.runWithGrace(ctx, spec, call, progress)
	if !ok {
		return d.errorResult(call, publish, fmt.Sprintf("tool %q cancelled: did not stop within grace period", call.ToolName))
	}

	publish(core.AgentEvent{Type: core.EventToolCallFinished, CallID: call.CallID, ToolName: call.ToolName, ToolResult: &toolResult})
	return core.ToolResultBlock(call.CallID, toolResult.Content, toolResult.IsError)
}

// runWithGrace invokes spec.Run, and on ctx cancellation waits up to
// the dispatcher's grace period for the tool to return on its own. A
// tool that ignores its cancellation signal past the grace
// period is abandoned: its goroutine keeps running but its eventual
// result is discarded, and ok is false.
func (d *Dispatcher) runWithGrace(ctx context.Context, spec Spec, call core.ToolCall, progress func(string)) (result core.ToolResult, ok bool) {
	done := make(chan core.ToolResult, 1)
	panicked := make(chan any, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				panicked <- r
			}
		}()
		done <- spec.Run(ctx, call, progress)
	}()

	select {
	case r := <-done:
		return r, true
	case p := <-panicked:
		panic(p) // re-raised on the dispatch goroutine; runOne's recover converts it
	case <-ctx.Done():
	}

	timer := time.NewTimer(d.gracePeriod())
	defer timer.Stop()
	select {
	case r := <-done:
		return r, true
	case p := <-panicked:
		panic(p)
	case <-timer.C:
		return core.ToolResult{}, false
	}
}

func (d *Dispatcher) runBatch(ctx context.Context, call core.ToolCall, publish Publisher) core.ContentBlock {
	var args batchArgs
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		return d.errorResult(call, publish, fmt.Sprintf("invalid batch arguments: %v", err))
	}

	subCalls := make([]core.ToolCall, len(args.Invocations))
	for i, inv := range args.Invocations {
		subCalls[i] = core.ToolCall{
			CallID:    fmt.Sprintf("%s.%d", call.CallID, i),
			ToolName:  inv.ToolName,
			Arguments: inv.Arguments,
		}
	}

	subResults := d.Dispatch(ctx, subCalls, publish)
	publish(core.AgentEvent{Type: core.EventToolCallFinished, CallID: call.CallID, ToolName: call.ToolName,
		ToolResult: &core.ToolResult{Content: subResults}})
	return core.ToolResultBlock(call.CallID, subResults, false)
}

func (d *Dispatcher) errorResult(call core.ToolCall, publish Publisher, msg string) core.ContentBlock {
	obslog.Warn("tool call failed", "tool", call.ToolName, "call_id", call.CallID, "error", msg)
	publish(core.AgentEvent{Type: core.EventToolCallFinished, CallID: call.CallID, ToolName: call.ToolName,
		ToolResult: &core.ToolResult{IsError: true}, ToolErr: fmt.Errorf("%s", msg)})
	return core.ToolResultBlock(call.CallID, []core.ContentBlock{core.Text(msg)}, true)
}
