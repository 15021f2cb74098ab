package dispatch

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wyvernlab/agentcore-go/internal/core"
)

func echoSpec(name string, serial bool, schema string) Spec {
	var raw json.RawMessage
	if schema != "" {
		raw = json.RawMessage(schema)
	}
	return Spec{
		Definition: core.ToolDefinition{Name: name, Parameters: raw},
		Serial:     serial,
		Run: func(_ context.Context, call core.ToolCall, _ func(string)) core.ToolResult {
			return core.ToolResult{Content: []core.ContentBlock{core.Text(string(call.Arguments))}}
		},
	}
}

func TestDispatchUnknownToolYieldsErrorResult(t *testing.T) {
	t.Parallel()
	d := New(4)
	out := d.Dispatch(context.Background(), []core.ToolCall{{CallID: "c1", ToolName: "nope"}}, nil)
	if len(out) != 1 || !out[0].IsError {
		t.Fatalf("expected single error result, got %+v", out)
	}
}

func TestDispatchSchemaValidationFailure(t *testing.T) {
	t.Parallel()
	d := New(4)
	d.Register(echoSpec("read", false, `{"type":"object","required":["file_path"],"properties":{"file_path":{"type":"string"}}}`))

	out := d.Dispatch(context.Background(), []core.ToolCall{
		{CallID: "c1", ToolName: "read", Arguments: json.RawMessage(`{}`)},
	}, nil)
	if len(out) != 1 || !out[0].IsError {
		t.Fatalf("expected validation error result, got %+v", out)
	}
	if len(out[0].ResultContent) != 1 || !strings.Contains(out[0].ResultContent[0].Text, "Invalid arguments") {
		t.Fatalf("expected error content to contain %q, got %+v", "Invalid arguments", out[0].ResultContent)
	}
}

func TestDispatchSchemaValidationSuccess(t *testing.T) {
	t.Parallel()
	d := New(4)
	d.Register(echoSpec("read", false, `{"type":"object","required":["file_path"],"properties":{"file_path":{"type":"string"}}}`))

	out := d.Dispatch(context.Background(), []core.ToolCall{
		{CallID: "c1", ToolName: "read", Arguments: json.RawMessage(`{"file_path":"/a.go"}`)},
	}, nil)
	if len(out) != 1 || out[0].IsError {
		t.Fatalf("expected success result, got %+v", out)
	}
}

func TestDispatchPreservesOriginalOrder(t *testing.T) {
	t.Parallel()
	d := New(4)
	d.Register(echoSpec("a", false, ""))
	d.Register(echoSpec("b", false, ""))
	d.Register(echoSpec("c", true, ""))

	calls := []core.ToolCall{
		{CallID: "1", ToolName: "c", Arguments: json.RawMessage(`"first"`)},
		{CallID: "2", ToolName: "a", Arguments: json.RawMessage(`"second"`)},
		{CallID: "3", ToolName: "b", Arguments: json.RawMessage(`"third"`)},
	}
	out := d.Dispatch(context.Background(), calls, nil)
	if len(out) != 3 {
		t.Fatalf("len(out) = %d, want 3", len(out))
	}
	for i, want := range []string{"1", "2", "3"} {
		if out[i].CallID != want {
			t.Fatalf("out[%d].CallID = %s, want %s", i, out[i].CallID, want)
		}
	}
}

func TestDispatchDedupCallID(t *testing.T) {
	t.Parallel()
	d := New(4)
	var runs int32
	d.Register(Spec{
		Definition: core.ToolDefinition{Name: "count"},
		Run: func(context.Context, core.ToolCall, func(string)) core.ToolResult {
			atomic.AddInt32(&runs, 1)
			return core.ToolResult{}
		},
	})

	calls := []core.ToolCall{
		{CallID: "dup", ToolName: "count"},
		{CallID: "dup", ToolName: "count"},
	}
	out := d.Dispatch(context.Background(), calls, nil)
	// At-most-once: the tool executes exactly once, but each top-level
	// ToolUse still gets its own result block; the second is an error
	// result, not a dropped one.
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2", len(out))
	}
	if out[0].IsError {
		t.Fatalf("out[0] = %+v, want the first occurrence to succeed", out[0])
	}
	if !out[1].IsError {
		t.Fatalf("out[1] = %+v, want the duplicate occurrence to be an error result", out[1])
	}
	if atomic.LoadInt32(&runs) != 1 {
		t.Fatalf("runs = %d, want 1", runs)
	}
}

func TestDispatchPanicContainment(t *testing.T) {
	t.Parallel()
	d := New(4)
	d.Register(Spec{
		Definition: core.ToolDefinition{Name: "boom"},
		Run: func(context.Context, core.ToolCall, func(string)) core.ToolResult {
			panic("kaboom")
		},
	})

	out := d.Dispatch(context.Background(), []core.ToolCall{{CallID: "c1", ToolName: "boom"}}, nil)
	if len(out) != 1 || !out[0].IsError {
		t.Fatalf("expected contained panic as error result, got %+v", out)
	}
}

func TestDispatchSerialRunsAfterConcurrent(t *testing.T) {
	t.Parallel()
	d := New(4)

	var order []string
	d.Register(Spec{
		Definition: core.ToolDefinition{Name: "slow"},
		Run: func(context.Context, core.ToolCall, func(string)) core.ToolResult {
			time.Sleep(20 * time.Millisecond)
			order = append(order, "slow")
			return core.ToolResult{}
		},
	})
	d.Register(Spec{
		Definition: core.ToolDefinition{Name: "write"},
		Serial:     true,
		Run: func(context.Context, core.ToolCall, func(string)) core.ToolResult {
			order = append(order, "write")
			return core.ToolResult{}
		},
	})

	d.Dispatch(context.Background(), []core.ToolCall{
		{CallID: "1", ToolName: "slow"},
		{CallID: "2", ToolName: "write"},
	}, nil)

	if len(order) != 2 || order[0] != "slow" || order[1] != "write" {
		t.Fatalf("order = %v, want [slow write]", order)
	}
}

func TestDispatchBatchUnwraps(t *testing.T) {
	t.Parallel()
	d := New(4)
	d.Register(echoSpec("a", false, ""))
	d.Register(echoSpec("b", false, ""))

	batchArgsJSON := `{"invocations":[{"tool_name":"a","arguments":"x"},{"tool_name":"b","arguments":"y"}]}`
	out := d.Dispatch(context.Background(), []core.ToolCall{
		{CallID: "batch1", ToolName: BatchToolName, Arguments: json.RawMessage(batchArgsJSON)},
	}, nil)

	if len(out) != 1 {
		t.Fatalf("len(out) = %d, want 1", len(out))
	}
	if len(out[0].ResultContent) != 2 {
		t.Fatalf("ResultContent = %+v", out[0].ResultContent)
	}
}

func TestDispatchConcurrencyBound(t *testing.T) {
	t.Parallel()
	d := New(2)

	var active, maxActive int32
	d.Register(Spec{
		Definition: core.ToolDefinition{Name: "slow"},
		Reentrant:  true,
		Run: func(context.Context, core.ToolCall, func(string)) core.ToolResult {
			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			time.Sleep(15 * time.Millisecond)
			atomic.AddInt32(&active, -1)
			return core.ToolResult{}
		},
	})

	calls := make([]core.ToolCall, 6)
	for i := range calls {
		calls[i] = core.ToolCall{CallID: string(rune('a' + i)), ToolName: "slow"}
	}
	d.Dispatch(context.Background(), calls, nil)

	if atomic.LoadInt32(&maxActive) > 2 {
		t.Fatalf("maxActive = %d, want <= 2", maxActive)
	}
}

func TestDispatchNonReentrantSameToolSerialized(t *testing.T) {
	t.Parallel()
	d := New(4)

	var active, maxActive int32
	d.Register(Spec{
		Definition: core.ToolDefinition{Name: "write"},
		Run: func(context.Context, core.ToolCall, func(string)) core.ToolResult {
			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&active, -1)
			return core.ToolResult{}
		},
	})

	out := d.Dispatch(context.Background(), []core.ToolCall{
		{CallID: "1", ToolName: "write"},
		{CallID: "2", ToolName: "write"},
		{CallID: "3", ToolName: "write"},
	}, nil)

	if len(out) != 3 {
		t.Fatalf("len(out) = %d, want 3", len(out))
	}
	// Same-tool calls to a non-reentrant tool never overlap.
	if atomic.LoadInt32(&maxActive) != 1 {
		t.Fatalf("maxActive = %d, want 1", maxActive)
	}
	for i, want := range []string{"1", "2", "3"} {
		if out[i].CallID != want {
			t.Fatalf("out[%d].CallID = %s, want %s", i, out[i].CallID, want)
		}
	}
}

func TestDispatchCancelledToolPastGraceRecordsError(t *testing.T) {
	t.Parallel()
	d := New(2)
	d.SetGracePeriod(20 * time.Millisecond)
	d.Register(Spec{
		Definition: core.ToolDefinition{Name: "stubborn"},
		Run: func(context.Context, core.ToolCall, func(string)) core.ToolResult {
			// Ignores its cancellation signal entirely.
			time.Sleep(2 * time.Second)
			return core.ToolResult{Content: []core.ContentBlock{core.Text("too late")}}
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	out := d.Dispatch(ctx, []core.ToolCall{{CallID: "c1", ToolName: "stubborn"}}, nil)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("dispatch blocked %v; grace period not honored", elapsed)
	}
	if len(out) != 1 || !out[0].IsError {
		t.Fatalf("expected error result for abandoned tool, got %+v", out)
	}
}
