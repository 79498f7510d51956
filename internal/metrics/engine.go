// Package metrics derives economic health signals from the committed
// transaction stream: weekly deltas, inflation, scarcity, bonus analytics
// and threshold alerts.
package metrics

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/resource-economy/internal/config"
	"github.com/resource-economy/internal/domain"
)

const maxInflationSamples = 100

// AlertStore persists urgent alerts as soon as they are raised
type AlertStore interface {
	PersistAlert(alert domain.Alert) error
}

// currencyState is the per-currency aggregate, guarded by its own mutex
type currencyState struct {
	mu           sync.Mutex
	history      []domain.TransactionRecord
	weekly       map[int]int64
	distribution map[string]int64
	order        []string
	inflation    []domain.InflationSample
}

func newCurrencyState() *currencyState {
	return &currencyState{
		weekly:       make(map[int]int64),
		distribution: make(map[string]int64),
	}
}

// Engine is the economic metrics engine
type Engine struct {
	cfg    config.EconomyConfig
	store  AlertStore
	logger *slog.Logger
	now    func() time.Time

	// fixed at construction, never written afterwards
	currencies map[domain.Currency]*currencyState

	bonusMu      sync.Mutex
	bonusTotals  map[string]map[string]int64
	bonusPlayers []string
	bonusSamples []domain.BonusSample
	efficacy     map[string]float64

	alertMu   sync.Mutex
	active    []domain.Alert
	history   []domain.Alert
	listeners []func(domain.Alert)
}

// NewEngine creates a metrics engine. store may be nil.
func NewEngine(cfg config.EconomyConfig, store AlertStore, logger *slog.Logger) *Engine {
	e := &Engine{
		cfg:         cfg,
		store:       store,
		logger:      logger,
		now:         time.Now,
		currencies:  make(map[domain.Currency]*currencyState, len(domain.Currencies)),
		bonusTotals: make(map[string]map[string]int64),
		efficacy:    make(map[string]float64),
	}
	for _, c := range domain.Currencies {
		e.currencies[c] = newCurrencyState()
	}
	return e
}

// SetClock overrides the clock used for alert and sample timestamps
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// OnAlert registers a listener called for every raised alert
func (e *Engine) OnAlert(fn func(domain.Alert)) {
	e.alertMu.Lock()
	e.listeners = append(e.listeners, fn)
	e.alertMu.Unlock()
}

// Track consumes a committed transaction. Rejected records are ignored.
func (e *Engine) Track(record domain.TransactionRecord) {
	if !record.Success {
		return
	}
	cs, ok := e.currencies[record.Currency]
	if !ok {
		e.logger.Warn("ignoring transaction for unknown currency", "currency", record.Currency)
		return
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.history = append(cs.history, record)
	cs.weekly[ISOWeek(record.Timestamp)] += flow(record)
	if _, seen := cs.distribution[record.PlayerID]; !seen {
		cs.order = append(cs.order, record.PlayerID)
	}
	cs.distribution[record.PlayerID] += record.Delta
}

// SeedBalance registers a player's opening balances in the distribution
func (e *Engine) SeedBalance(playerID string, balances map[domain.Currency]int64) {
	for _, c := range domain.Currencies {
		cs := e.currencies[c]
		cs.mu.Lock()
		if _, seen := cs.distribution[playerID]; !seen {
			cs.order = append(cs.order, playerID)
		}
		cs.distribution[playerID] = balances[c]
		cs.mu.Unlock()
	}
}

// Distribution returns the running balance estimate per player for a currency
func (e *Engine) Distribution(c domain.Currency) map[string]int64 {
	cs, ok := e.currencies[c]
	if !ok {
		return nil
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()

	out := make(map[string]int64, len(cs.distribution))
	for p, v := range cs.distribution {
		out[p] = v
	}
	return out
}

// TransactionCount returns the number of tracked transactions
func (e *Engine) TransactionCount() int {
	n := 0
	for _, c := range domain.Currencies {
		cs := e.currencies[c]
		cs.mu.Lock()
		n += len(cs.history)
		cs.mu.Unlock()
	}
	return n
}

// ActiveAlerts returns a copy of the active alert list
func (e *Engine) ActiveAlerts() []domain.Alert {
	e.alertMu.Lock()
	defer e.alertMu.Unlock()
	return append([]domain.Alert(nil), e.active...)
}

// AlertHistory returns a copy of every alert ever raised
func (e *Engine) AlertHistory() []domain.Alert {
	e.alertMu.Lock()
	defer e.alertMu.Unlock()
	return append([]domain.Alert(nil), e.history...)
}

// raise records an alert in the active and history lists, persists it when
// urgent and notifies listeners. Callers must not hold a currency lock.
func (e *Engine) raise(level domain.AlertLevel, message string, data map[string]interface{}) domain.Alert {
	alert := domain.Alert{
		ID:        uuid.New().String(),
		Timestamp: e.now(),
		Level:     level,
		Message:   message,
		Data:      data,
	}

	e.alertMu.Lock()
	e.active = append(e.active, alert)
	e.history = append(e.history, alert)
	listeners := append([]func(domain.Alert){}, e.listeners...)
	e.alertMu.Unlock()

	e.logger.Warn("economy alert raised", "level", level, "message", message)

	if alert.Urgent() && e.store != nil {
		if err := e.store.PersistAlert(alert); err != nil {
			e.logger.Error("failed to persist alert", "alert_id", alert.ID, "error", err)
		}
	}

	for _, fn := range listeners {
		fn(alert)
	}
	return alert
}

// Export returns a deep copy of the engine state
func (e *Engine) Export() domain.MetricsState {
	state := domain.NewMetricsState()

	for _, c := range domain.Currencies {
		cs := e.currencies[c]
		cs.mu.Lock()
		state.History[c] = append([]domain.TransactionRecord(nil), cs.history...)
		weekly := make(map[int]int64, len(cs.weekly))
		for w, v := range cs.weekly {
			weekly[w] = v
		}
		state.WeeklyDeltas[c] = weekly
		dist := make(map[string]int64, len(cs.distribution))
		for p, v := range cs.distribution {
			dist[p] = v
		}
		state.Distribution[c] = dist
		state.DistributionSeq[c] = append([]string(nil), cs.order...)
		state.InflationHistory[c] = append([]domain.InflationSample(nil), cs.inflation...)
		cs.mu.Unlock()
	}

	e.bonusMu.Lock()
	for p, types := range e.bonusTotals {
		cp := make(map[string]int64, len(types))
		for t, v := range types {
			cp[t] = v
		}
		state.BonusTotals[p] = cp
	}
	state.BonusPlayers = append([]string(nil), e.bonusPlayers...)
	state.BonusSamples = append([]domain.BonusSample(nil), e.bonusSamples...)
	for k, v := range e.efficacy {
		state.EfficacyScores[k] = v
	}
	e.bonusMu.Unlock()

	e.alertMu.Lock()
	state.ActiveAlerts = append([]domain.Alert(nil), e.active...)
	state.AlertHistory = append([]domain.Alert(nil), e.history...)
	e.alertMu.Unlock()

	return state
}

// Import replaces the engine aggregates with state. Alert lists are only
// replaced when withAlerts is set; a rollback keeps the alerts already
// raised.
func (e *Engine) Import(state domain.MetricsState, withAlerts bool) {
	for _, c := range domain.Currencies {
		cs := e.currencies[c]
		cs.mu.Lock()
		cs.history = append([]domain.TransactionRecord(nil), state.History[c]...)
		cs.weekly = make(map[int]int64, len(state.WeeklyDeltas[c]))
		for w, v := range state.WeeklyDeltas[c] {
			cs.weekly[w] = v
		}
		cs.distribution = make(map[string]int64, len(state.Distribution[c]))
		for p, v := range state.Distribution[c] {
			cs.distribution[p] = v
		}
		cs.order = orderFor(state.DistributionSeq[c], cs.distribution)
		cs.inflation = append([]domain.InflationSample(nil), state.InflationHistory[c]...)
		cs.mu.Unlock()
	}

	e.bonusMu.Lock()
	e.bonusTotals = make(map[string]map[string]int64, len(state.BonusTotals))
	for p, types := range state.BonusTotals {
		cp := make(map[string]int64, len(types))
		for t, v := range types {
			cp[t] = v
		}
		e.bonusTotals[p] = cp
	}
	e.bonusPlayers = append([]string(nil), state.BonusPlayers...)
	e.bonusSamples = append([]domain.BonusSample(nil), state.BonusSamples...)
	e.efficacy = make(map[string]float64, len(state.EfficacyScores))
	for k, v := range state.EfficacyScores {
		e.efficacy[k] = v
	}
	e.bonusMu.Unlock()

	if withAlerts {
		e.alertMu.Lock()
		e.active = append([]domain.Alert(nil), state.ActiveAlerts...)
		e.history = append([]domain.Alert(nil), state.AlertHistory...)
		e.alertMu.Unlock()
	}
}

// ISOWeek returns the ISO 8601 week number of t
func ISOWeek(t time.Time) int {
	_, week := t.ISOWeek()
	return week
}

// flow is the contribution of a record to its weekly bucket: earned
// amounts count up, spent amounts count down
func flow(record domain.TransactionRecord) int64 {
	amount := record.Delta
	if amount < 0 {
		amount = -amount
	}
	if record.Type == domain.TransactionSpend {
		return -amount
	}
	return amount
}

// orderFor keeps seq entries present in dist and appends any missing
// players so every distribution key has a position
func orderFor(seq []string, dist map[string]int64) []string {
	out := make([]string, 0, len(dist))
	seen := make(map[string]bool, len(dist))
	for _, p := range seq {
		if _, ok := dist[p]; ok && !seen[p] {
			out = append(out, p)
			seen[p] = true
		}
	}
	var missing []string
	for p := range dist {
		if !seen[p] {
			missing = append(missing, p)
		}
	}
	sort.Strings(missing)
	return append(out, missing...)
}
