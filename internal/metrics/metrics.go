// Package metrics registers the process-wide Prometheus collectors.
// Everything registers on the default registry via promauto; the web
// server exposes it at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WorkerTicks counts delivery worker tick executions.
	WorkerTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "missionctl_worker_ticks_total",
		Help: "Delivery worker ticks executed.",
	})

	// NotificationsPolled counts rows surfaced by the claim query.
	NotificationsPolled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "missionctl_notifications_polled_total",
		Help: "Notifications surfaced by the claim query.",
	})

	// DeliveryOutcomes counts per-outcome delivery results.
	DeliveryOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "missionctl_delivery_outcomes_total",
		Help: "Delivery attempt outcomes by kind.",
	}, []string{"outcome"})

	// SLAEscalations counts SLA-breach escalation cascades.
	SLAEscalations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "missionctl_sla_escalations_total",
		Help: "Notifications recycled through the SLA escalation cascade.",
	})

	// HTTPRequests counts debug HTTP requests by route and status.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "missionctl_http_requests_total",
		Help: "Debug HTTP requests served.",
	}, []string{"route", "code"})
)

// Outcome label values for DeliveryOutcomes.
const (
	OutcomeDelivered    = "delivered"
	OutcomeDeferredBusy = "deferred_busy"
	OutcomeFailed       = "failed"
	OutcomeTimeout      = "timeout"
	OutcomeDeadLetter   = "dead_letter"
)
