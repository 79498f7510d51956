package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/resource-economy/internal/config"
	"github.com/resource-economy/internal/domain"
	"github.com/resource-economy/internal/observability"
	"github.com/resource-economy/internal/persistence"
	"github.com/resource-economy/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := config.DefaultConfig()
	cfg.Storage.DataDir = t.TempDir()

	guard, err := persistence.NewGuard(&cfg.Storage, logger)
	require.NoError(t, err)
	journal, err := persistence.NewJournal(&cfg.Storage, logger)
	require.NoError(t, err)
	t.Cleanup(func() { journal.Close() })

	m := observability.NewMetrics()
	svc, err := service.NewEconomyService(cfg, guard, journal, service.Mirrors{Recorder: m}, logger)
	require.NoError(t, err)

	return NewHandler(svc, nil, m, cfg.Metrics.Path, logger).Router()
}

func do(t *testing.T, router http.Handler, method, path string, body interface{}) (int, apiResponse) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(method, path, reader))

	var resp apiResponse
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec.Code, resp
}

func createPlayer(t *testing.T, router http.Handler, id string) domain.Wallet {
	t.Helper()
	code, resp := do(t, router, http.MethodPost, "/api/v1/players", domain.CreatePlayerRequest{PlayerID: id})
	require.Equal(t, http.StatusCreated, code, resp.Error)

	var created domain.PlayerCreated
	require.NoError(t, json.Unmarshal(resp.Data, &created))
	return created.Wallet
}

func TestCreateAndGetPlayer(t *testing.T) {
	router := newTestRouter(t)
	wallet := createPlayer(t, router, "")
	assert.Equal(t, int64(1000), wallet.Balance(domain.CurrencySoft))

	code, resp := do(t, router, http.MethodGet, "/api/v1/players/"+wallet.PlayerID, nil)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Success)

	code, _ = do(t, router, http.MethodPost, "/api/v1/players", domain.CreatePlayerRequest{PlayerID: wallet.PlayerID})
	assert.Equal(t, http.StatusConflict, code)

	code, _ = do(t, router, http.MethodGet, "/api/v1/players/missing", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestProcessTransaction_StatusMapping(t *testing.T) {
	router := newTestRouter(t)
	wallet := createPlayer(t, router, "")

	code, resp := do(t, router, http.MethodPost, "/api/v1/transactions", domain.TransactionRequest{
		PlayerID: wallet.PlayerID, Currency: "coins", Amount: -30, Source: "Shop",
	})
	require.Equal(t, http.StatusOK, code, resp.Error)
	var result domain.TransactionResult
	require.NoError(t, json.Unmarshal(resp.Data, &result))
	assert.Equal(t, int64(970), result.Record.BalanceAfter)
	assert.True(t, result.Saved)

	code, resp = do(t, router, http.MethodPost, "/api/v1/transactions", domain.TransactionRequest{
		PlayerID: wallet.PlayerID, Currency: "soft", Amount: -5000,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.False(t, resp.Success)
	require.NoError(t, json.Unmarshal(resp.Data, &result))
	assert.False(t, result.Record.Success, "rejected record is returned")

	code, _ = do(t, router, http.MethodPost, "/api/v1/transactions", domain.TransactionRequest{
		PlayerID: wallet.PlayerID, Currency: "gold", Amount: 5,
	})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, router, http.MethodGet, "/api/v1/players/"+wallet.PlayerID+"/journal", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestBatchAndRollback(t *testing.T) {
	router := newTestRouter(t)
	wallet := createPlayer(t, router, "")

	code, resp := do(t, router, http.MethodPost, "/api/v1/transactions/batch", domain.BatchTransactionRequest{
		Transactions: []domain.TransactionRequest{
			{PlayerID: wallet.PlayerID, Currency: "soft", Amount: 100},
			{PlayerID: wallet.PlayerID, Currency: "premium", Amount: -500},
		},
	})
	require.Equal(t, http.StatusOK, code)
	var summary struct {
		Received  int `json:"received"`
		Succeeded int `json:"succeeded"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &summary))
	assert.Equal(t, 2, summary.Received)
	assert.Equal(t, 1, summary.Succeeded)

	code, _ = do(t, router, http.MethodPost, "/api/v1/rollback", nil)
	require.Equal(t, http.StatusOK, code)

	_, resp = do(t, router, http.MethodGet, "/api/v1/players/"+wallet.PlayerID, nil)
	var restored domain.Wallet
	require.NoError(t, json.Unmarshal(resp.Data, &restored))
	assert.Equal(t, int64(1000), restored.Balance(domain.CurrencySoft))

	code, _ = do(t, router, http.MethodPost, "/api/v1/rollback", nil)
	assert.Equal(t, http.StatusConflict, code, "stack is empty")
}

func TestCheckpointRoutes(t *testing.T) {
	router := newTestRouter(t)
	createPlayer(t, router, "")

	code, _ := do(t, router, http.MethodPost, "/api/v1/save", SaveRequest{Checkpoint: "season_1"})
	require.Equal(t, http.StatusOK, code)

	code, _ = do(t, router, http.MethodPost, "/api/v1/save", nil)
	require.Equal(t, http.StatusOK, code)

	code, resp := do(t, router, http.MethodGet, "/api/v1/checkpoints", nil)
	require.Equal(t, http.StatusOK, code)
	var names []string
	require.NoError(t, json.Unmarshal(resp.Data, &names))
	assert.Equal(t, []string{"season_1"}, names)

	code, _ = do(t, router, http.MethodPost, "/api/v1/checkpoints/season_1/load", nil)
	assert.Equal(t, http.StatusOK, code)

	code, _ = do(t, router, http.MethodPost, "/api/v1/checkpoints/season_9/load", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestMonitoringRoutes(t *testing.T) {
	router := newTestRouter(t)
	wallet := createPlayer(t, router, "")

	code, resp := do(t, router, http.MethodPost, "/api/v1/bonuses", domain.BonusRequest{
		PlayerID: wallet.PlayerID, BonusType: "win_streak", BaseAmount: 100, PerformanceMultiplier: 1.5,
	})
	require.Equal(t, http.StatusOK, code, resp.Error)
	var bonus domain.BonusResult
	require.NoError(t, json.Unmarshal(resp.Data, &bonus))
	assert.Equal(t, int64(150), bonus.BonusAmount)

	code, _ = do(t, router, http.MethodPost, "/api/v1/analysis/weekly/1", nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = do(t, router, http.MethodPost, "/api/v1/analysis/weekly/54", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = do(t, router, http.MethodPost, "/api/v1/analysis/weekly/abc", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	for _, path := range []string{"/api/v1/dashboard", "/api/v1/summary", "/api/v1/alerts?history=true", "/api/v1/currencies/gems/top?limit=5", "/health"} {
		code, resp := do(t, router, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusOK, code, path)
		assert.True(t, resp.Success, path)
	}

	code, _ = do(t, router, http.MethodGet, "/api/v1/currencies/gold/top", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, router, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(domain.ErrCheckpointNotFound))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(domain.ErrCapReached))
	assert.Equal(t, http.StatusBadRequest, statusFor(domain.ErrInvalidCap))
	assert.Equal(t, http.StatusInternalServerError, statusFor(domain.ErrPersistenceWriteFailed))
}
