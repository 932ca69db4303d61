package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DocumentsTotal counts gated documents.
// Labels: operation (index, summarize), result (accepted, blocked, error)
var DocumentsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "ragd",
		Subsystem: "ingest",
		Name:      "documents_total",
		Help:      "Total number of documents passed through the ingestion gate",
	},
	[]string{"operation", "result"},
)

// ChunksTotal counts chunks written to chunk collections.
var ChunksTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "ragd",
		Subsystem: "ingest",
		Name:      "chunks_total",
		Help:      "Total number of chunks stored",
	},
)

func recordDocument(operation string, blocked bool, err error) {
	result := "accepted"
	switch {
	case err != nil:
		result = "error"
	case blocked:
		result = "blocked"
	}
	DocumentsTotal.WithLabelValues(operation, result).Inc()
}
