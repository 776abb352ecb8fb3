package provider

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/BradenHooton/facegate/internal/models"
)

var (
	providerRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "facegate_provider_requests_total",
			Help: "Face provider operations by outcome",
		},
		[]string{"operation", "outcome"},
	)

	providerRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "facegate_provider_request_duration_seconds",
			Help:    "Face provider operation latency including retries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	providerTokenRefreshTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "facegate_provider_token_refresh_total",
			Help: "Access token refresh round trips",
		},
	)
)

func observe(operation string, started time.Time, err error) {
	providerRequestDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
	providerRequestsTotal.WithLabelValues(operation, outcomeOf(err)).Inc()
}

func outcomeOf(err error) string {
	if err == nil {
		return "success"
	}
	if errors.Is(err, models.ErrProviderTimeout) {
		return "timeout"
	}
	var pe *models.ProviderError
	if errors.As(err, &pe) {
		if pe.Exhausted {
			return "exhausted"
		}
		return "rejected"
	}
	return "error"
}
