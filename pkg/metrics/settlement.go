package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// SettlementMetrics tracks payment lifecycle and coupon counters.
type SettlementMetrics struct {
	initiated    *prometheus.CounterVec
	settled      *prometheus.CounterVec
	callbacks    *prometheus.CounterVec
	coupons      *prometheus.CounterVec
	stalePending prometheus.Gauge
}

// NewSettlementMetrics registers the settlement collectors on reg. A nil
// registerer yields a no-op recorder.
func NewSettlementMetrics(reg prometheus.Registerer) *SettlementMetrics {
	if reg == nil {
		return &SettlementMetrics{}
	}
	initiated := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_initiated_total",
		Help: "Payments created, by method.",
	}, []string{"method"})
	settled := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_settled_total",
		Help: "Payments that reached a terminal status, by method and status.",
	}, []string{"method", "status"})
	callbacks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_callbacks_total",
		Help: "Provider return and webhook callbacks, by provider, kind and result.",
	}, []string{"provider", "kind", "result"})
	coupons := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coupon_redemptions_total",
		Help: "Coupon redemption attempts, by outcome.",
	}, []string{"outcome"})
	stale := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stale_pending_payments",
		Help: "Pending payments older than the configured threshold at the last sweep.",
	})
	reg.MustRegister(initiated, settled, callbacks, coupons, stale)
	return &SettlementMetrics{
		initiated:    initiated,
		settled:      settled,
		callbacks:    callbacks,
		coupons:      coupons,
		stalePending: stale,
	}
}

func (m *SettlementMetrics) IncInitiated(method string) {
	if m == nil || m.initiated == nil {
		return
	}
	m.initiated.WithLabelValues(normalizeLabel(method)).Inc()
}

func (m *SettlementMetrics) IncSettled(method, status string) {
	if m == nil || m.settled == nil {
		return
	}
	m.settled.WithLabelValues(normalizeLabel(method), normalizeLabel(status)).Inc()
}

// IncCallback records a provider callback. kind is "return" or "webhook".
func (m *SettlementMetrics) IncCallback(provider, kind, result string) {
	if m == nil || m.callbacks == nil {
		return
	}
	m.callbacks.WithLabelValues(normalizeLabel(provider), normalizeLabel(kind), normalizeLabel(result)).Inc()
}

func (m *SettlementMetrics) IncCoupon(outcome string) {
	if m == nil || m.coupons == nil {
		return
	}
	m.coupons.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *SettlementMetrics) SetStalePending(count int) {
	if m == nil || m.stalePending == nil {
		return
	}
	m.stalePending.Set(float64(count))
}
