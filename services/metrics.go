package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the collectors of the decision pipeline.
type Metrics struct {
	RoutingDecisions     *prometheus.CounterVec
	RoutingEvaluation    prometheus.Histogram
	MalformedConditions  prometheus.Counter
	EscalationTransition *prometheus.CounterVec
	EscalationAttempts   *prometheus.CounterVec
	Notifications        *prometheus.CounterVec
	TimersFired          *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg. Pass prometheus.NewRegistry()
// in tests to keep them isolated.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RoutingDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "inres",
			Subsystem: "routing",
			Name:      "decisions_total",
			Help:      "Routing decisions by outcome.",
		}, []string{"outcome"}),
		RoutingEvaluation: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "inres",
			Subsystem: "routing",
			Name:      "evaluation_seconds",
			Help:      "Time spent evaluating routing tables for one alert.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		MalformedConditions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "inres",
			Subsystem: "routing",
			Name:      "malformed_conditions_total",
			Help:      "Rules skipped because their conditions could not be evaluated.",
		}),
		EscalationTransition: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "inres",
			Subsystem: "escalation",
			Name:      "transitions_total",
			Help:      "Alert escalation state transitions by target status.",
		}, []string{"status"}),
		EscalationAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "inres",
			Subsystem: "escalation",
			Name:      "attempts_total",
			Help:      "Escalation level attempts by target type and outcome.",
		}, []string{"target_type", "status"}),
		Notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "inres",
			Subsystem: "notification",
			Name:      "deliveries_total",
			Help:      "Notification deliveries by method and result.",
		}, []string{"method", "result"}),
		TimersFired: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "inres",
			Subsystem: "escalation",
			Name:      "timers_fired_total",
			Help:      "Escalation timers handled by kind and outcome.",
		}, []string{"kind", "outcome"}),
	}
}
