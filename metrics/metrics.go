// Package metrics records rate-limit decisions for operational
// visibility.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder receives one observation per engine check.
type Recorder interface {
	// RecordDecision records the verdict for a rule-set check. ruleID is
	// empty when no rule matched.
	RecordDecision(ruleSetID, ruleID string, allowed bool, remaining int64, latency time.Duration)
	// RecordStoreFailure counts consume calls that failed against the
	// shared store after the resilience envelope gave up.
	RecordStoreFailure(ruleSetID string)
}

// Nop discards all observations.
type Nop struct{}

func (Nop) RecordDecision(string, string, bool, int64, time.Duration) {}
func (Nop) RecordStoreFailure(string)                                 {}

// Prometheus implements Recorder on prometheus collectors.
type Prometheus struct {
	decisions     *prometheus.CounterVec
	remaining     *prometheus.GaugeVec
	latency       *prometheus.HistogramVec
	storeFailures *prometheus.CounterVec
}

// NewPrometheus builds and registers the collectors. Pass
// prometheus.DefaultRegisterer unless tests need isolation.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	p := &Prometheus{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fluxgate",
			Name:      "decisions_total",
			Help:      "Rate limit verdicts by rule-set, rule, and outcome.",
		}, []string{"rule_set", "rule", "outcome"}),
		remaining: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "fluxgate",
			Name:      "remaining_tokens",
			Help:      "Remaining tokens reported by the last check per rule-set and rule.",
		}, []string{"rule_set", "rule"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fluxgate",
			Name:      "check_duration_seconds",
			Help:      "Latency of engine checks.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"rule_set"}),
		storeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fluxgate",
			Name:      "store_failures_total",
			Help:      "Consume calls that failed after retries were exhausted.",
		}, []string{"rule_set"}),
	}
	reg.MustRegister(p.decisions, p.remaining, p.latency, p.storeFailures)
	return p
}

func (p *Prometheus) RecordDecision(ruleSetID, ruleID string, allowed bool, remaining int64, latency time.Duration) {
	outcome := "allowed"
	if !allowed {
		outcome = "rejected"
	}
	if ruleID == "" {
		ruleID = "none"
	}
	p.decisions.WithLabelValues(ruleSetID, ruleID, outcome).Inc()
	if remaining >= 0 && ruleID != "none" {
		p.remaining.WithLabelValues(ruleSetID, ruleID).Set(float64(remaining))
	}
	p.latency.WithLabelValues(ruleSetID).Observe(latency.Seconds())
}

func (p *Prometheus) RecordStoreFailure(ruleSetID string) {
	p.storeFailures.WithLabelValues(ruleSetID).Inc()
}
