package services

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "facegate_decisions_total",
		Help: "Verification requirement decisions by business type, verification type and outcome.",
	}, []string{"business_type", "verification_type", "required"})

	verificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "facegate_verifications_total",
		Help: "Completed verification attempts by business type and result.",
	}, []string{"business_type", "result"})

	profilesExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "facegate_profiles_expired_total",
		Help: "Face profiles moved from ACTIVE to EXPIRED by the sweep.",
	})

	sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "facegate_expiry_sweep_duration_seconds",
		Help:    "Duration of expiry sweeps.",
		Buckets: prometheus.DefBuckets,
	})
)

func observeDecision(businessType, verificationType string, required bool) {
	decisionsTotal.WithLabelValues(businessType, verificationType, strconv.FormatBool(required)).Inc()
}
