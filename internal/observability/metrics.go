package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/resource-economy/internal/domain"
)

// Metrics holds the Prometheus collectors of the economy service
type Metrics struct {
	registry *prometheus.Registry

	// Ledger
	TransactionsTotal *prometheus.CounterVec
	TransactionAmount *prometheus.CounterVec
	CapTruncations    *prometheus.CounterVec

	// Monitoring
	AlertsTotal *prometheus.CounterVec

	// Persistence
	SavesTotal     *prometheus.CounterVec
	RollbacksTotal prometheus.Counter

	// HTTP
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all collectors on a dedicated registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		TransactionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "economy_transactions_total",
			Help: "Transaction attempts by currency, type and outcome",
		}, []string{"currency", "type", "outcome"}),

		TransactionAmount: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "economy_transaction_amount_total",
			Help: "Absolute amount moved by successful transactions",
		}, []string{"currency", "type"}),

		CapTruncations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "economy_cap_truncations_total",
			Help: "Credits reduced to fit the wallet cap",
		}, []string{"currency"}),

		AlertsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "economy_alerts_total",
			Help: "Alerts raised by level",
		}, []string{"level"}),

		SavesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "economy_saves_total",
			Help: "Primary state saves by outcome",
		}, []string{"outcome"}),

		RollbacksTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "economy_rollbacks_total",
			Help: "Rollbacks applied",
		}),

		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "economy_http_requests_total",
			Help: "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),

		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "economy_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Registry returns the registry holding every collector
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveTransaction counts a journaled transaction attempt
func (m *Metrics) ObserveTransaction(record domain.TransactionRecord) {
	outcome := "success"
	if !record.Success {
		outcome = "rejected"
	}
	m.TransactionsTotal.WithLabelValues(string(record.Currency), string(record.Type), outcome).Inc()
	if !record.Success {
		return
	}

	amount := record.Delta
	if amount < 0 {
		amount = -amount
	}
	m.TransactionAmount.WithLabelValues(string(record.Currency), string(record.Type)).Add(float64(amount))
	if record.Truncated() {
		m.CapTruncations.WithLabelValues(string(record.Currency)).Inc()
	}
}

// ObserveAlert counts a raised alert
func (m *Metrics) ObserveAlert(alert domain.Alert) {
	m.AlertsTotal.WithLabelValues(string(alert.Level)).Inc()
}

// ObserveSave counts a primary save
func (m *Metrics) ObserveSave(saved bool) {
	outcome := "saved"
	if !saved {
		outcome = "failed"
	}
	m.SavesTotal.WithLabelValues(outcome).Inc()
}

// ObserveRollback counts an applied rollback
func (m *Metrics) ObserveRollback() {
	m.RollbacksTotal.Inc()
}

// Middleware records request counts and latency by chi route pattern
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.RequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
