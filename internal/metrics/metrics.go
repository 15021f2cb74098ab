// ABOUTME: Prometheus instrumentation for the agent runtime: active
// ABOUTME: turns, tool-dispatch concurrency in use, event-bus subscriber
// ABOUTME: lag, and cumulative usage/cost. Metrics register on a caller-
// ABOUTME: supplied registry so multiple agents/tests never collide on
// ABOUTME: metric names.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wyvernlab/agentcore-go/internal/core"
)

// Collector holds every metric this runtime publishes. The zero value is
// not usable; construct with New.
type Collector struct {
	ActiveTurns          prometheus.Gauge
	ToolsInFlight        prometheus.Gauge
	SubscriberLagTotal   prometheus.Counter
	UsageTokensTotal     *prometheus.CounterVec
	UsageCostUSDTotal    prometheus.Counter
	ProviderRetriesTotal *prometheus.CounterVec
	BashBlockedTotal     *prometheus.CounterVec
}

// New creates a Collector and registers its metrics on reg. Passing a
// fresh prometheus.NewRegistry() per Agent/test keeps metric names from
// colliding across instances; production embedders typically pass
// prometheus.DefaultRegisterer's concrete *Registry once per process.
func New(reg *prometheus.Registry) *Collector {
	c := &Collector{
		ActiveTurns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agentcore_active_turns",
			Help: "Number of turns currently streaming or dispatching tools.",
		}),
		ToolsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agentcore_tools_in_flight",
			Help: "Number of tool calls currently executing across all turns.",
		}),
		SubscriberLagTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentcore_eventbus_subscriber_lag_total",
			Help: "Count of SubscriberLagged events emitted for slow event-bus subscribers.",
		}),
		UsageTokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcore_usage_tokens_total",
			Help: "Cumulative token usage by counter kind (input/output/cache_read/cache_write).",
		}, []string{"kind"}),
		UsageCostUSDTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentcore_usage_cost_usd_total",
			Help: "Cumulative estimated dollar cost across all turns.",
		}),
		ProviderRetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcore_provider_retries_total",
			Help: "Count of provider-transport retries by outcome (retried/exhausted).",
		}, []string{"outcome"}),
		BashBlockedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcore_bash_commands_blocked_total",
			Help: "Count of bash tool invocations rejected by the command validator, by rejection category.",
		}, []string{"category"}),
	}
	reg.MustRegister(c.ActiveTurns, c.ToolsInFlight, c.SubscriberLagTotal,
		c.UsageTokensTotal, c.UsageCostUSDTotal, c.ProviderRetriesTotal, c.BashBlockedTotal)
	return c
}

// TurnStarted/TurnEnded bracket the active-turns gauge around one runTurn.
func (c *Collector) TurnStarted() {
	if c != nil {
		c.ActiveTurns.Inc()
	}
}

func (c *Collector) TurnEnded() {
	if c != nil {
		c.ActiveTurns.Dec()
	}
}

// ToolStarted/ToolFinished bracket the in-flight tool gauge around one
// dispatch.Dispatcher.runOne call.
func (c *Collector) ToolStarted() {
	if c != nil {
		c.ToolsInFlight.Inc()
	}
}

func (c *Collector) ToolFinished() {
	if c != nil {
		c.ToolsInFlight.Dec()
	}
}

// SubscriberLagged records one eventbus drop-oldest event.
func (c *Collector) SubscriberLagged() {
	if c != nil {
		c.SubscriberLagTotal.Inc()
	}
}

// ObserveUsage adds u's counters and its dollar cost under rates to the
// cumulative totals.
func (c *Collector) ObserveUsage(u core.Usage, rates core.CostRates) {
	if c == nil {
		return
	}
	c.UsageTokensTotal.WithLabelValues("input").Add(float64(u.InputTokens))
	c.UsageTokensTotal.WithLabelValues("output").Add(float64(u.OutputTokens))
	c.UsageTokensTotal.WithLabelValues("cache_read").Add(float64(u.CacheReadTokens))
	c.UsageTokensTotal.WithLabelValues("cache_write").Add(float64(u.CacheWriteTokens))
	c.UsageCostUSDTotal.Add(u.Cost(rates))
}

// ProviderRetry records a retry attempt; outcome is "retried" for each
// backoff-and-retry, "exhausted" when max_retries is reached.
func (c *Collector) ProviderRetry(outcome string) {
	if c != nil {
		c.ProviderRetriesTotal.WithLabelValues(outcome).Inc()
	}
}

// BashCommandBlocked records one bash command the guard refused,
// categorized by the rule that blocked it (e.g. "privilege_escalation",
// "host_control", "filesystem_destruction", "fork_bomb",
// "raw_device_write").
func (c *Collector) BashCommandBlocked(category string) {
	if c != nil {
		c.BashBlockedTotal.WithLabelValues(category).Inc()
	}
}
