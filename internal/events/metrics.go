package events

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	published = promauto.NewCounter(prometheus.CounterOpts{
		Name: "facegate_completion_events_published_total",
		Help: "Verification completion events delivered.",
	})
	publishErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "facegate_completion_events_failed_total",
		Help: "Verification completion events that could not be delivered.",
	})
)
