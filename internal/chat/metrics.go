package chat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TurnsTotal counts chat turns.
	// Labels: path (direct, retrieval), result (success, fallback, invalid, error)
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "chat",
			Name:      "turns_total",
			Help:      "Total number of chat turns",
		},
		[]string{"path", "result"},
	)

	// TurnDuration tracks end-to-end turn latency.
	TurnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ragd",
			Subsystem: "chat",
			Name:      "turn_duration_seconds",
			Help:      "Duration of chat turns in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"path"},
	)

	// CitationRecoveries counts cited nodes fetched outside the ranked set.
	// Labels: result (recovered, failed)
	CitationRecoveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "chat",
			Name:      "citation_recoveries_total",
			Help:      "Total number of cited node ids resolved outside the ranked results",
		},
		[]string{"result"},
	)
)
