package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/wyvernlab/agentcore-go/internal/core"
)

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("writing metric: %v", err)
	}
	return m.GetGauge().GetValue()
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("writing metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestCollector_TurnStartedEnded(t *testing.T) {
	t.Parallel()
	c := New(prometheus.NewRegistry())

	c.TurnStarted()
	c.TurnStarted()
	if got := gaugeValue(t, c.ActiveTurns); got != 2 {
		t.Errorf("ActiveTurns = %v, want 2", got)
	}
	c.TurnEnded()
	if got := gaugeValue(t, c.ActiveTurns); got != 1 {
		t.Errorf("ActiveTurns = %v, want 1", got)
	}
}

func TestCollector_ToolStartedFinished(t *testing.T) {
	t.Parallel()
	c := New(prometheus.NewRegistry())

	c.ToolStarted()
	c.ToolFinished()
	if got := gaugeValue(t, c.ToolsInFlight); got != 0 {
		t.Errorf("ToolsInFlight = %v, want 0", got)
	}
}

func TestCollector_SubscriberLagged(t *testing.T) {
	t.Parallel()
	c := New(prometheus.NewRegistry())

	c.SubscriberLagged()
	c.SubscriberLagged()
	if got := counterValue(t, c.SubscriberLagTotal); got != 2 {
		t.Errorf("SubscriberLagTotal = %v, want 2", got)
	}
}

func TestCollector_ObserveUsage(t *testing.T) {
	t.Parallel()
	c := New(prometheus.NewRegistry())

	rates := core.CostRates{InputPerMillion: 1_000_000, OutputPerMillion: 2_000_000}
	c.ObserveUsage(core.Usage{InputTokens: 1, OutputTokens: 1}, rates)

	if got := counterValue(t, c.UsageCostUSDTotal); got != 3 {
		t.Errorf("UsageCostUSDTotal = %v, want 3", got)
	}
}

func TestCollector_NilReceiverIsNoop(t *testing.T) {
	t.Parallel()
	var c *Collector

	// None of these should panic on a nil Collector, matching agent.Config
	// and dispatch.Dispatcher's "optional instrumentation" usage.
	c.TurnStarted()
	c.TurnEnded()
	c.ToolStarted()
	c.ToolFinished()
	c.SubscriberLagged()
	c.ObserveUsage(core.Usage{InputTokens: 1}, core.CostRates{})
	c.ProviderRetry("retried")
}
