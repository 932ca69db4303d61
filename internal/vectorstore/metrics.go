package vectorstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationsTotal counts collection operations.
	// Labels: operation (exists, size, delete, ...), purpose (index, summary_index), result (success, error)
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "vectorstore",
			Name:      "operations_total",
			Help:      "Total number of collection operations",
		},
		[]string{"operation", "purpose", "result"},
	)

	// OperationDuration tracks how long collection operations take.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ragd",
			Subsystem: "vectorstore",
			Name:      "operation_duration_seconds",
			Help:      "Duration of collection operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation", "purpose"},
	)

	// NodeLookupFailures counts node ids that could not be resolved.
	// Labels: reason (invalid_id, not_found, backend)
	NodeLookupFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "vectorstore",
			Name:      "node_lookup_failures_total",
			Help:      "Total number of node ids that could not be fetched",
		},
		[]string{"reason"},
	)
)

func recordOperation(operation string, purpose Purpose, seconds float64, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	OperationsTotal.WithLabelValues(operation, string(purpose), result).Inc()
	OperationDuration.WithLabelValues(operation, string(purpose)).Observe(seconds)
}
