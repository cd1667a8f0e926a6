// Package metrics содержит счётчики Prometheus движка заказов.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ledger"

// Metrics хранит зарегистрированные метрики сервиса.
type Metrics struct {
	registry *prometheus.Registry

	Orders        *prometheus.CounterVec
	Returns       *prometheus.CounterVec
	CreditEntries *prometheus.CounterVec
	Rejections    *prometheus.CounterVec
	Notifications *prometheus.CounterVec
	TxDuration    *prometheus.HistogramVec
}

// New создаёт метрики в отдельном реестре.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Orders: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_total",
			Help:      "Order status changes by resulting status.",
		}, []string{"status"}),
		Returns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "returns_total",
			Help:      "Return status changes by resulting status.",
		}, []string{"status"}),
		CreditEntries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credit_entries_total",
			Help:      "Store credit ledger entries by cause.",
		}, []string{"cause"}),
		Rejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejections_total",
			Help:      "Rejected operations by operation and reason.",
		}, []string{"operation", "reason"}),
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Outbox delivery attempts by sink and result.",
		}, []string{"sink", "result"}),
		TxDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of transactional operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
}

// Handler возвращает обработчик /metrics для реестра сервиса.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
