package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AssignmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_assignments_total",
			Help: "Total number of task assignments by role and outcome",
		},
		[]string{"role", "outcome"},
	)

	AssignmentDistanceKm = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_assignment_distance_km",
			Help:    "Distance between business and assigned agent in kilometers",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 50},
		},
		[]string{"role"},
	)

	TaskTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifecycle_transitions_total",
			Help: "Total number of task state transitions by task kind and target state",
		},
		[]string{"kind", "to_state"},
	)

	InvalidTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifecycle_invalid_transitions_total",
			Help: "Total number of rejected task state transitions",
		},
		[]string{"kind"},
	)

	FraudAlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "integrity_fraud_alerts_total",
			Help: "Total number of fraud alerts raised by rule and severity",
		},
		[]string{"rule", "severity"},
	)

	RuleEvaluationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "integrity_rule_errors_total",
			Help: "Total number of rule evaluations skipped due to history errors",
		},
		[]string{"rule"},
	)

	AgentsAvailable = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "geoindex_agents_available",
			Help: "Number of agents currently eligible for assignment per role",
		},
		[]string{"role"},
	)
)
