package fixedprice

import (
	"math/big"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/uhyunpark/nftmarket/pkg/app/core/orderbook"
)

const metricsNamespace = "nftmarket"

// Metrics is safe to use as a nil pointer.
type Metrics struct {
	Transitions *prometheus.CounterVec
	OpenOrders  *prometheus.GaugeVec
	EscrowTotal prometheus.Gauge
	Fills       *prometheus.CounterVec
}

// NewMetrics registers the engine collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "engine",
			Name:      "transitions_total",
			Help:      "Transitions applied, by type and result code.",
		}, []string{"type", "code"}),
		OpenOrders: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "book",
			Name:      "open_orders",
			Help:      "Orders currently in the book.",
		}, []string{"side"}),
		EscrowTotal: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "escrow",
			Name:      "held_total",
			Help:      "Native coin held for open buy orders.",
		}),
		Fills: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "engine",
			Name:      "fills_total",
			Help:      "Fulfilled orders, by side and payment mode.",
		}, []string{"side", "payment"}),
	}
}

func (m *Metrics) transition(kind string, err error) {
	if m == nil {
		return
	}
	code := ErrorCode(err)
	if code == "" {
		code = "OK"
	}
	m.Transitions.WithLabelValues(kind, code).Inc()
}

func (m *Metrics) fill(side orderbook.Side, native bool) {
	if m == nil {
		return
	}
	payment := "token"
	if native {
		payment = "native"
	}
	m.Fills.WithLabelValues(side.String(), payment).Inc()
}

func (m *Metrics) book(e *Engine) {
	if m == nil {
		return
	}
	m.OpenOrders.WithLabelValues(orderbook.Sell.String()).Set(float64(e.book.Len(orderbook.Sell)))
	m.OpenOrders.WithLabelValues(orderbook.Buy.String()).Set(float64(e.book.Len(orderbook.Buy)))
	f, _ := new(big.Float).SetInt(e.escrow.Total().ToBig()).Float64()
	m.EscrowTotal.Set(f)
}
