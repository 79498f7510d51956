package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/resource-economy/internal/domain"
	"github.com/resource-economy/internal/observability"
	"github.com/resource-economy/internal/service"
	"github.com/resource-economy/internal/websocket"
)

// Handler provides HTTP handlers for the economy API
type Handler struct {
	service     *service.EconomyService
	hub         *websocket.Hub
	metrics     *observability.Metrics
	metricsPath string
	logger      *slog.Logger
}

// NewHandler creates a new HTTP handler. hub and metrics may be nil.
func NewHandler(
	service *service.EconomyService,
	hub *websocket.Hub,
	metrics *observability.Metrics,
	metricsPath string,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		service:     service,
		hub:         hub,
		metrics:     metrics,
		metricsPath: metricsPath,
		logger:      logger,
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// SaveRequest is the body of a manual save
type SaveRequest struct {
	Checkpoint string `json:"checkpoint,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)
	if h.metrics != nil {
		r.Use(h.metrics.Middleware)
		r.Handle(h.metricsPath, h.metrics.Handler())
	}

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	if h.hub != nil {
		r.Get("/ws", h.HandleWebSocket)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/players", func(r chi.Router) {
			r.Post("/", h.CreatePlayer)
			r.Get("/", h.ListWallets)

			r.Route("/{playerID}", func(r chi.Router) {
				r.Get("/", h.GetWallet)
				r.Get("/journal", h.GetPlayerJournal)
			})
		})

		r.Post("/transactions", h.ProcessTransaction)
		r.Post("/transactions/batch", h.ProcessTransactionBatch)
		r.Get("/transactions", h.GetJournal)
		r.Post("/bonuses", h.ApplyBonus)

		// Persistence
		r.Post("/rollback", h.Rollback)
		r.Post("/save", h.SaveGame)
		r.Get("/checkpoints", h.ListCheckpoints)
		r.Post("/checkpoints/{name}/load", h.LoadCheckpoint)

		// Monitoring
		r.Post("/analysis/weekly/{week}", h.RunWeeklyAnalysis)
		r.Get("/dashboard", h.GetDashboard)
		r.Get("/summary", h.GetSummary)
		r.Get("/alerts", h.GetAlerts)
		r.Get("/currencies/{currency}/top", h.GetTopHolders)

		if h.hub != nil {
			r.Get("/ws/stats", h.GetWebSocketStats)
		}
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// writeServiceError maps a domain error onto a status. Unknown errors are
// logged and hidden behind ErrInternalError.
func (h *Handler) writeServiceError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "operation", op, "error", err)
		h.writeError(w, status, domain.ErrInternalError)
		return
	}
	h.writeError(w, status, err)
}

func statusFor(err error) int {
	switch {
	case domain.IsNotFoundError(err):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrPlayerExists), errors.Is(err, domain.ErrNothingToRollback):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInsufficientFunds), errors.Is(err, domain.ErrCapReached):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrUnsupportedCurrency),
		errors.Is(err, domain.ErrInvalidCap),
		errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]interface{}{
		"total_connections":  h.hub.TotalConnections(),
		"alerts_subscribers": h.hub.SubscriberCount(websocket.ChannelAlerts),
	})
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck returns service readiness status
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "ready"})
}

// CreatePlayer registers a wallet
func (h *Handler) CreatePlayer(w http.ResponseWriter, r *http.Request) {
	var req domain.CreatePlayerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	created, err := h.service.CreatePlayer(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, "create player", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    created,
	})
}

// ListWallets returns every wallet
func (h *Handler) ListWallets(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, h.service.Wallets())
}

// GetWallet returns one wallet
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	wallet, err := h.service.Wallet(chi.URLParam(r, "playerID"))
	if err != nil {
		h.writeServiceError(w, "get wallet", err)
		return
	}
	h.writeSuccess(w, wallet)
}

// GetPlayerJournal replays one player's audit trail
func (h *Handler) GetPlayerJournal(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.Journal(chi.URLParam(r, "playerID"))
	if err != nil {
		h.writeServiceError(w, "get player journal", err)
		return
	}
	h.writeSuccess(w, records)
}

// GetJournal replays the whole audit trail
func (h *Handler) GetJournal(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.Journal("")
	if err != nil {
		h.writeServiceError(w, "get journal", err)
		return
	}
	h.writeSuccess(w, records)
}

// ProcessTransaction applies one signed amount. Rejected mutations respond
// with the journaled record alongside the error.
func (h *Handler) ProcessTransaction(w http.ResponseWriter, r *http.Request) {
	var req domain.TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	result, err := h.service.ProcessTransaction(r.Context(), req)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.writeServiceError(w, "process transaction", err)
			return
		}
		h.writeJSON(w, status, APIResponse{
			Success: false,
			Data:    result,
			Error:   err.Error(),
		})
		return
	}

	h.writeSuccess(w, result)
}

// ProcessTransactionBatch applies transactions in order
func (h *Handler) ProcessTransactionBatch(w http.ResponseWriter, r *http.Request) {
	var batch domain.BatchTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	if len(batch.Transactions) == 0 {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	results := h.service.ProcessTransactionBatch(r.Context(), batch)
	succeeded := 0
	for _, res := range results {
		if res.Record.Success {
			succeeded++
		}
	}

	h.writeSuccess(w, map[string]interface{}{
		"received":  len(batch.Transactions),
		"succeeded": succeeded,
		"results":   results,
	})
}

// ApplyBonus pays a contract bonus
func (h *Handler) ApplyBonus(w http.ResponseWriter, r *http.Request) {
	var req domain.BonusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	result, err := h.service.ApplyBonus(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, "apply bonus", err)
		return
	}
	h.writeSuccess(w, result)
}

// Rollback restores the most recent backup
func (h *Handler) Rollback(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.RollbackLastTransaction(r.Context())
	if err != nil {
		h.writeServiceError(w, "rollback", err)
		return
	}
	h.writeSuccess(w, result)
}

// SaveGame saves the primary state or a named checkpoint. An empty body
// saves the primary state.
func (h *Handler) SaveGame(w http.ResponseWriter, r *http.Request) {
	var req SaveRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
			return
		}
	}

	result := h.service.SaveGame(r.Context(), req.Checkpoint)
	if !result.Saved {
		h.writeJSON(w, http.StatusInternalServerError, APIResponse{
			Success: false,
			Data:    result,
			Error:   result.Error,
		})
		return
	}
	h.writeSuccess(w, result)
}

// ListCheckpoints returns the stored checkpoint names
func (h *Handler) ListCheckpoints(w http.ResponseWriter, r *http.Request) {
	names, err := h.service.Checkpoints()
	if err != nil {
		h.writeServiceError(w, "list checkpoints", err)
		return
	}
	h.writeSuccess(w, names)
}

// LoadCheckpoint replaces the economy with a checkpoint
func (h *Handler) LoadCheckpoint(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.service.LoadCheckpoint(r.Context(), name); err != nil {
		h.writeServiceError(w, "load checkpoint", err)
		return
	}
	h.writeSuccess(w, map[string]string{"status": "loaded", "checkpoint": name})
}

// RunWeeklyAnalysis runs the analysis for an ISO week
func (h *Handler) RunWeeklyAnalysis(w http.ResponseWriter, r *http.Request) {
	week, err := strconv.Atoi(chi.URLParam(r, "week"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	report, err := h.service.RunWeeklyAnalysis(r.Context(), week)
	if err != nil {
		h.writeServiceError(w, "weekly analysis", err)
		return
	}
	h.writeSuccess(w, report)
}

// GetDashboard returns the monitoring dashboard
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, h.service.GetDashboard(r.Context()))
}

// GetSummary returns the economy summary
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, h.service.EconomySummary(r.Context()))
}

// GetAlerts returns active alerts, or the history with ?history=true
func (h *Handler) GetAlerts(w http.ResponseWriter, r *http.Request) {
	history, _ := strconv.ParseBool(r.URL.Query().Get("history"))
	h.writeSuccess(w, h.service.Alerts(history))
}

// GetTopHolders returns the largest balances of a currency
func (h *Handler) GetTopHolders(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	holders, err := h.service.TopHolders(r.Context(), chi.URLParam(r, "currency"), limit)
	if err != nil {
		h.writeServiceError(w, "top holders", err)
		return
	}
	h.writeSuccess(w, holders)
}
