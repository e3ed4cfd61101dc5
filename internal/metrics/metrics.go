// Package metrics exposes the runtime counters as Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing,
// so callers never need to branch on whether instrumentation is wired.
type Metrics struct {
	reasonerCalls prometheus.Counter
	toolCalls     *prometheus.CounterVec
	toolFailures  *prometheus.CounterVec
	cacheHits     *prometheus.CounterVec
	protocolRuns  *prometheus.CounterVec
	turnDuration  prometheus.Histogram
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		reasonerCalls: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "nexus",
			Name:      "reasoner_calls_total",
			Help:      "Reasoning function invocations.",
		}),
		toolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nexus",
			Name:      "tool_calls_total",
			Help:      "Tool invocations by tool name.",
		}, []string{"tool"}),
		toolFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nexus",
			Name:      "tool_failures_total",
			Help:      "Failed tool invocations by error code.",
		}, []string{"code"}),
		cacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nexus",
			Name:      "cache_hits_total",
			Help:      "Cache hits by cache kind.",
		}, []string{"cache"}),
		protocolRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nexus",
			Name:      "protocol_runs_total",
			Help:      "Protocol runs by outcome.",
		}, []string{"outcome"}),
		turnDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "nexus",
			Name:      "turn_duration_seconds",
			Help:      "End-to-end turn latency.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) ReasonerCall() {
	if m != nil {
		m.reasonerCalls.Inc()
	}
}

func (m *Metrics) ToolCall(tool string) {
	if m != nil {
		m.toolCalls.WithLabelValues(tool).Inc()
	}
}

func (m *Metrics) ToolFailure(code string) {
	if m != nil {
		m.toolFailures.WithLabelValues(code).Inc()
	}
}

func (m *Metrics) CacheHit(cache string) {
	if m != nil {
		m.cacheHits.WithLabelValues(cache).Inc()
	}
}

func (m *Metrics) ProtocolRun(outcome string) {
	if m != nil {
		m.protocolRuns.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) ObserveTurn(seconds float64) {
	if m != nil {
		m.turnDuration.Observe(seconds)
	}
}
