// Package telemetry exposes the Prometheus metrics the engine and
// reconciliation workers record, grounded in market_maker/pkg/telemetry and
// chidi150c-coinbase/metrics.go (both wire prometheus/client_golang
// directly rather than through an app-specific facade).
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OrdersSubmitted counts order submissions by symbol and side.
	OrdersSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dca_orders_submitted_total",
		Help: "Total number of orders submitted to the broker gateway.",
	}, []string{"symbol", "side"})

	// OrdersRejected counts broker rejections by symbol.
	OrdersRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dca_orders_rejected_total",
		Help: "Total number of orders rejected by the broker gateway.",
	}, []string{"symbol"})

	// FillsProcessed counts terminal trade-update events handled.
	FillsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dca_fills_processed_total",
		Help: "Total number of terminal trade-update events processed.",
	}, []string{"symbol", "event"})

	// OrphanEvents counts trade updates discarded for lacking an owning cycle.
	OrphanEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dca_orphan_events_total",
		Help: "Total number of trade-update events discarded as orphans.",
	})

	// ReconciliationRepairs counts corrective writes made by the
	// reconciliation workers, by worker name and repair kind.
	ReconciliationRepairs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dca_reconciliation_repairs_total",
		Help: "Total number of corrective writes made by reconciliation workers.",
	}, []string{"worker", "kind"})

	// CyclesByStatus tracks the current count of cycles in each status,
	// refreshed by the consistency checker each sweep.
	CyclesByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dca_cycles_by_status",
		Help: "Current count of non-terminal cycles by status.",
	}, []string{"status"})
)

// Handler returns the Prometheus scrape handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
