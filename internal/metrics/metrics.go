package metrics

import (
	"expvar"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/betbot/unitrade/internal/domain"
)

// 进程级计数，经 /debug/vars 暴露
var (
	OrdersReplayed = expvar.NewInt("orders_replayed")
	JournalErrors  = expvar.NewInt("journal_errors")
	CredentialUses = expvar.NewInt("credential_uses")
)

// Metrics 持有独立的 prometheus registry，避免全局注册冲突（测试里可多次 New）。
type Metrics struct {
	registry *prometheus.Registry
	orders   *prometheus.CounterVec
	cancels  *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		orders: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "unitrade_orders_total",
				Help: "Orders reaching a lifecycle state, by exchange and state.",
			},
			[]string{"exchange", "state"},
		),
		cancels: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "unitrade_cancels_total",
				Help: "Cancel outcomes by exchange and status.",
			},
			[]string{"exchange", "status"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "unitrade_adapter_latency_seconds",
				Help:    "Exchange adapter call latency.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"exchange", "op"},
		),
	}
	m.registry.MustRegister(m.orders, m.cancels, m.latency)
	m.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return m
}

func (m *Metrics) ObserveOrder(ex domain.Exchange, state domain.OrderState) {
	if m == nil {
		return
	}
	m.orders.WithLabelValues(string(ex), string(state)).Inc()
}

func (m *Metrics) ObserveCancel(ex domain.Exchange, status domain.CancelStatus) {
	if m == nil {
		return
	}
	m.cancels.WithLabelValues(string(ex), string(status)).Inc()
}

func (m *Metrics) ObserveLatency(ex domain.Exchange, op string, d time.Duration) {
	if m == nil {
		return
	}
	m.latency.WithLabelValues(string(ex), op).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
