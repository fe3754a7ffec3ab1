package service

import (
	"errors"

	"dungeon-server/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	balanceDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dungeon_balance_duration_seconds",
		Help:    "Duration of balance/next pipeline runs.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})
	llmFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dungeon_llm_fallbacks_total",
		Help: "Number of LLM results replaced by a fallback.",
	}, []string{"component"})
	threatRatio = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dungeon_threat_ratio",
		Help:    "actual_threat / target_threat of balanced floors.",
		Buckets: []float64{0.5, 0.8, 0.9, 0.95, 1.0, 1.05, 1.1, 1.2, 1.5},
	})
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dungeon_operations_total",
		Help: "Pipeline operations by result.",
	}, []string{"operation", "status"})
)

// operationStatus - метка результата операции.
func operationStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, models.ErrInvalidInput), errors.Is(err, models.ErrInvalidMap):
		return "invalid"
	case errors.Is(err, models.ErrNoActiveRun), errors.Is(err, models.ErrNoEventAtRoom), errors.Is(err, models.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

func observeOperation(operation string, err error) {
	operationsTotal.WithLabelValues(operation, operationStatus(err)).Inc()
}
