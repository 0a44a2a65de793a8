// Package metrics exposes Prometheus collectors for the bot.
//
// Collectors:
//   - cmibot_stream_state                      current stream state (0 idle, 1 connecting, 2 streaming, 3 closed)
//   - cmibot_stream_reconnects_total{reason}   reconnects split by transient|error
//   - cmibot_stream_events_total{kind}         decoded events by kind (order|trade|other)
//   - cmibot_stream_dropped_total{kind}        malformed events dropped
//   - cmibot_orders_total{side,outcome}        order submissions (ok|rejected)
//   - cmibot_cancels_total{outcome}            cancellations (ok|failed)
//   - cmibot_ledger_trades                     trades held by the ledger
//   - cmibot_ledger_refreshes_total{outcome}   ledger refresh attempts (ok|failed)
//   - cmibot_executions_total{direction,status} basket dispatches
//   - cmibot_spread{strategy,direction}        last computed spread
//
// All methods are safe on a nil *Metrics so components can run without them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry and the bot's collectors.
type Metrics struct {
	registry *prometheus.Registry

	streamState      prometheus.Gauge
	streamReconnects *prometheus.CounterVec
	streamEvents     *prometheus.CounterVec
	streamDropped    *prometheus.CounterVec
	orders           *prometheus.CounterVec
	cancels          *prometheus.CounterVec
	ledgerTrades     prometheus.Gauge
	ledgerRefreshes  *prometheus.CounterVec
	executions       *prometheus.CounterVec
	spread           *prometheus.GaugeVec
}

// New creates the collectors and registers them, along with the Go runtime
// and process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		streamState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cmibot_stream_state",
			Help: "Current market stream state.",
		}),
		streamReconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cmibot_stream_reconnects_total",
			Help: "Market stream reconnects split by reason.",
		}, []string{"reason"}),
		streamEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cmibot_stream_events_total",
			Help: "Market stream events decoded, by kind.",
		}, []string{"kind"}),
		streamDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cmibot_stream_dropped_total",
			Help: "Malformed market stream events dropped, by kind.",
		}, []string{"kind"}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cmibot_orders_total",
			Help: "Orders submitted, by side and outcome.",
		}, []string{"side", "outcome"}),
		cancels: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cmibot_cancels_total",
			Help: "Order cancellations, by outcome.",
		}, []string{"outcome"}),
		ledgerTrades: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cmibot_ledger_trades",
			Help: "Trades accumulated in the ledger.",
		}),
		ledgerRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cmibot_ledger_refreshes_total",
			Help: "Ledger refresh attempts, by outcome.",
		}, []string{"outcome"}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cmibot_executions_total",
			Help: "Basket dispatches, by direction and status.",
		}, []string{"direction", "status"}),
		spread: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cmibot_spread",
			Help: "Last computed spread, by strategy and direction.",
		}, []string{"strategy", "direction"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.streamState, m.streamReconnects, m.streamEvents, m.streamDropped,
		m.orders, m.cancels,
		m.ledgerTrades, m.ledgerRefreshes,
		m.executions, m.spread,
	)
	return m
}

// Handler serves the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) SetStreamState(state int) {
	if m == nil {
		return
	}
	m.streamState.Set(float64(state))
}

func (m *Metrics) IncReconnect(reason string) {
	if m == nil {
		return
	}
	m.streamReconnects.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncStreamEvent(kind string) {
	if m == nil {
		return
	}
	m.streamEvents.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncStreamDropped(kind string) {
	if m == nil {
		return
	}
	m.streamDropped.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncOrder(side, outcome string) {
	if m == nil {
		return
	}
	m.orders.WithLabelValues(side, outcome).Inc()
}

func (m *Metrics) IncCancel(outcome string) {
	if m == nil {
		return
	}
	m.cancels.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetLedgerTrades(n int) {
	if m == nil {
		return
	}
	m.ledgerTrades.Set(float64(n))
}

func (m *Metrics) IncLedgerRefresh(outcome string) {
	if m == nil {
		return
	}
	m.ledgerRefreshes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncExecution(direction, status string) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(direction, status).Inc()
}

func (m *Metrics) SetSpread(strategy, direction string, value float64) {
	if m == nil {
		return
	}
	m.spread.WithLabelValues(strategy, direction).Set(value)
}
