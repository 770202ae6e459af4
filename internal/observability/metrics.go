// Package observability holds the service's Prometheus metrics, exposed on
// the /metrics endpoint.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MovementsApplied counts successfully applied ledger movements by type.
	MovementsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_movements_applied_total",
		Help: "Stock movements applied to the ledger, by movement type.",
	}, []string{"movement_type"})

	// ReservationsTotal counts reservation requests by outcome
	// (reserved, rejected, confirmed, released, expired).
	ReservationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_reservations_total",
		Help: "Reservation operations, by outcome.",
	}, []string{"outcome"})

	// SweepRuns counts expiry sweep iterations.
	SweepRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_sweep_runs_total",
		Help: "Expiry sweep iterations.",
	})

	// SweepExpired counts reservations expired by the sweep.
	SweepExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_sweep_expired_total",
		Help: "Reservations transitioned to expired by the sweep.",
	})

	// AlertsEmitted counts alert events published, by alert type.
	AlertsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_alerts_emitted_total",
		Help: "Alert events emitted, by alert type.",
	}, []string{"alert_type"})

	// LockTimeouts counts per-key lock acquisitions that timed out.
	LockTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_lock_timeouts_total",
		Help: "Per-key lock acquisitions that gave up after the bounded wait.",
	})
)
