package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/resource-economy/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveTransaction(t *testing.T) {
	m := NewMetrics()

	m.ObserveTransaction(domain.TransactionRecord{
		Currency: domain.CurrencyCoachingCredit,
		Type:     domain.TransactionEarn,
		Delta:    80,
		Success:  true,
		Context:  map[string]interface{}{domain.ContextCapReached: true},
	})
	m.ObserveTransaction(domain.TransactionRecord{
		Currency: domain.CurrencySoft,
		Type:     domain.TransactionSpend,
		Delta:    -30,
		Success:  true,
	})
	m.ObserveTransaction(domain.TransactionRecord{
		Currency: domain.CurrencySoft,
		Type:     domain.TransactionSpend,
		Delta:    -1500,
		Success:  false,
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.TransactionsTotal.WithLabelValues("coaching_credit", "earn", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TransactionsTotal.WithLabelValues("soft", "spend", "rejected")))
	assert.Equal(t, 80.0, testutil.ToFloat64(m.TransactionAmount.WithLabelValues("coaching_credit", "earn")))
	assert.Equal(t, 30.0, testutil.ToFloat64(m.TransactionAmount.WithLabelValues("soft", "spend")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CapTruncations.WithLabelValues("coaching_credit")))
}

func TestObserveAlertsSavesAndRollbacks(t *testing.T) {
	m := NewMetrics()

	m.ObserveAlert(domain.Alert{Level: domain.AlertWarning})
	m.ObserveAlert(domain.Alert{Level: domain.AlertWarning})
	m.ObserveSave(true)
	m.ObserveSave(false)
	m.ObserveRollback()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.AlertsTotal.WithLabelValues("WARNING")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SavesTotal.WithLabelValues("saved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SavesTotal.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RollbacksTotal))
}

func TestMiddlewareAndHandler(t *testing.T) {
	m := NewMetrics()

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/players/{playerID}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Handle("/metrics", m.Handler())

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/players/p1", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/players/{playerID}", "404")))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "economy_http_requests_total"))
}
