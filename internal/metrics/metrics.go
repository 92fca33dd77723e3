package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	DecisionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sysslan_decision_total",
			Help: "Response decisions by outcome reason",
		},
		[]string{"reason"},
	)

	ClassificationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sysslan_classification_total",
			Help: "Classifications by resulting type",
		},
		[]string{"type"},
	)

	ClassifierFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sysslan_classifier_fallback_total",
			Help: "Classification calls that degraded to the fallback result",
		},
	)

	LearningConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sysslan_learning_conflict_total",
			Help: "Learning updates abandoned after losing a write race",
		},
	)

	RepliesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sysslan_reply_total",
			Help: "Reply send attempts by result",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(
		DecisionTotal,
		ClassificationTotal,
		ClassifierFallbacks,
		LearningConflicts,
		RepliesSent,
	)
}

// Serve exposes /metrics on the given address. Runs until the listener fails.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
