// Package metrics exposes Prometheus collectors for the decision pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kestrel",
			Name:      "decisions_total",
			Help:      "Total number of fraud decisions, partitioned by label and severity.",
		},
		[]string{"label", "severity"},
	)

	decisionDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "kestrel",
			Name:      "decision_seconds",
			Help:      "End-to-end decision latency in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
	)

	ruleFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kestrel",
			Name:      "rule_failures_total",
			Help:      "Total number of rule evaluation failures, partitioned by rule name.",
		},
		[]string{"rule"},
	)

	estimatorFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kestrel",
			Name:      "estimator_failures_total",
			Help:      "Total number of risk estimator call failures.",
		},
	)

	alertsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kestrel",
			Name:      "alerts_created_total",
			Help:      "Total number of fraud alerts created, partitioned by severity and type.",
		},
		[]string{"severity", "type"},
	)
)

// Register attaches kestrel collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		decisionsTotal,
		decisionDurationSeconds,
		ruleFailuresTotal,
		estimatorFailuresTotal,
		alertsCreatedTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveDecision records a completed decision and its latency.
func ObserveDecision(label, severity string, duration time.Duration) {
	decisionsTotal.WithLabelValues(label, severity).Inc()
	if duration < 0 {
		duration = 0
	}
	decisionDurationSeconds.Observe(duration.Seconds())
}

// RuleFailure records a rule evaluation failure.
func RuleFailure(rule string) {
	ruleFailuresTotal.WithLabelValues(rule).Inc()
}

// EstimatorFailure records a failed estimator call.
func EstimatorFailure() {
	estimatorFailuresTotal.Inc()
}

// AlertCreated records a persisted fraud alert.
func AlertCreated(severity, alertType string) {
	alertsCreatedTotal.WithLabelValues(severity, alertType).Inc()
}
