// internal/pkg/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SagaTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eatcloud",
		Name:      "saga_total",
		Help:      "Order sagas by outcome.",
	}, []string{"outcome"})

	SagaCompensationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "eatcloud",
		Name:      "saga_compensation_failures_total",
		Help:      "Compensation actions that failed and need manual intervention.",
	})

	LockAcquire = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eatcloud",
		Name:      "lock_acquire_total",
		Help:      "Distributed lock acquisitions by result.",
	}, []string{"mode", "result"})

	OutboxPublish = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eatcloud",
		Name:      "outbox_publish_total",
		Help:      "Outbox publish attempts by event type and result.",
	}, []string{"event_type", "result"})

	CorrelatorPending = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "eatcloud",
		Name:      "correlator_pending",
		Help:      "Requests awaiting a correlated response.",
	}, []string{"kind"})

	CorrelatorTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eatcloud",
		Name:      "correlator_timeouts_total",
		Help:      "Correlated calls that timed out.",
	}, []string{"kind"})

	ProjectorApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eatcloud",
		Name:      "projector_applied_total",
		Help:      "Stock events applied to the projection by type.",
	}, []string{"event_type"})
)
