package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// InventoryMetrics tracks stock mutation outcomes across the ledger.
type InventoryMetrics struct {
	reservations  *prometheus.CounterVec
	releases      *prometheus.CounterVec
	adjustments   *prometheus.CounterVec
	conflictRetry prometheus.Counter
	lowStockGauge prometheus.Gauge
}

// NewInventoryMetrics registers the inventory counters on the provided registerer.
func NewInventoryMetrics(reg prometheus.Registerer) *InventoryMetrics {
	if reg == nil {
		return &InventoryMetrics{}
	}
	reservations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_reservations_total",
		Help: "Reservation attempts by outcome.",
	}, []string{"outcome"})
	releases := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_releases_total",
		Help: "Release attempts by outcome.",
	}, []string{"outcome"})
	adjustments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_adjustments_total",
		Help: "Quantity adjustments by reason.",
	}, []string{"reason"})
	conflictRetry := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "inventory_conflict_retries_total",
		Help: "Reservation retries triggered by transaction conflicts.",
	})
	lowStockGauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "inventory_low_stock_items",
		Help: "Tracked items at or below their low stock threshold.",
	})
	reg.MustRegister(reservations, releases, adjustments, conflictRetry, lowStockGauge)
	return &InventoryMetrics{
		reservations:  reservations,
		releases:      releases,
		adjustments:   adjustments,
		conflictRetry: conflictRetry,
		lowStockGauge: lowStockGauge,
	}
}

// IncReservation counts a reservation attempt with the given outcome.
func (m *InventoryMetrics) IncReservation(outcome string) {
	if m == nil || m.reservations == nil {
		return
	}
	m.reservations.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncRelease counts a release attempt with the given outcome.
func (m *InventoryMetrics) IncRelease(outcome string) {
	if m == nil || m.releases == nil {
		return
	}
	m.releases.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncAdjustment counts a quantity adjustment under its reason label.
func (m *InventoryMetrics) IncAdjustment(reason string) {
	if m == nil || m.adjustments == nil {
		return
	}
	m.adjustments.WithLabelValues(normalizeLabel(reason)).Inc()
}

// IncConflictRetry counts a retry forced by a transaction conflict.
func (m *InventoryMetrics) IncConflictRetry() {
	if m == nil || m.conflictRetry == nil {
		return
	}
	m.conflictRetry.Inc()
}

// SetLowStockItems records the latest low stock scan result.
func (m *InventoryMetrics) SetLowStockItems(count int) {
	if m == nil || m.lowStockGauge == nil {
		return
	}
	m.lowStockGauge.Set(float64(count))
}
