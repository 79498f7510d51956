package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/resource-economy/internal/config"
	"github.com/resource-economy/internal/domain"
	"github.com/resource-economy/internal/ledger"
	"github.com/resource-economy/internal/metrics"
	"github.com/resource-economy/internal/persistence"
	"github.com/shopspring/decimal"
)

// BalanceCache mirrors wallet balances into a fast read store
type BalanceCache interface {
	SetWallet(ctx context.Context, wallet domain.Wallet) error
	SetWallets(ctx context.Context, wallets []domain.Wallet) error
	TopHolders(ctx context.Context, currency domain.Currency, n int) ([]domain.Holder, error)
}

// Archive keeps a relational copy of the audit trail
type Archive interface {
	RecordTransaction(ctx context.Context, record domain.TransactionRecord) error
	RecordAlert(ctx context.Context, alert domain.Alert) error
}

// Notifier pushes live updates to connected clients
type Notifier interface {
	BroadcastTransaction(record domain.TransactionRecord)
	BroadcastAlert(alert domain.Alert)
}

// Recorder observes service activity for metrics exposition
type Recorder interface {
	ObserveTransaction(record domain.TransactionRecord)
	ObserveAlert(alert domain.Alert)
	ObserveSave(saved bool)
	ObserveRollback()
}

// Mirrors are the optional outbound collaborators. Nil fields are skipped.
type Mirrors struct {
	Cache    BalanceCache
	Archive  Archive
	Notifier Notifier
	Recorder Recorder
}

// EconomyService is the monitoring facade over the ledger, the metrics
// engine and the persistence guard
type EconomyService struct {
	// mu is held for reading by transactions and for writing by operations
	// that replace the whole state (rollback, checkpoint restore)
	mu sync.RWMutex
	// guardMu spans snapshot, mutation and save of every wallet mutation,
	// so a backup and the save that follows it bracket exactly one change
	guardMu sync.Mutex
	// saveMu makes capture-then-save atomic so the newest state wins
	saveMu sync.Mutex

	ledger  *ledger.Ledger
	engine  *metrics.Engine
	guard   *persistence.Guard
	journal *persistence.Journal
	mirrors Mirrors
	cfg     *config.Config
	logger  *slog.Logger
}

// NewEconomyService creates the facade. The persisted economy is loaded
// when present; otherwise the empty economy is saved as the initial state.
func NewEconomyService(
	cfg *config.Config,
	guard *persistence.Guard,
	journal *persistence.Journal,
	mirrors Mirrors,
	logger *slog.Logger,
) (*EconomyService, error) {
	s := &EconomyService{
		ledger:  ledger.New(logger),
		engine:  metrics.NewEngine(cfg.Economy, guard, logger),
		guard:   guard,
		journal: journal,
		mirrors: mirrors,
		cfg:     cfg,
		logger:  logger,
	}
	s.engine.OnAlert(s.mirrorAlert)

	state, found, err := guard.Load()
	if err != nil {
		return nil, fmt.Errorf("loading economy state: %w", err)
	}
	if found {
		s.restore(state, true)
		logger.Info("economy state loaded",
			"players", len(state.Wallets),
			"transactions", s.engine.TransactionCount(),
		)
	} else if result := s.persist(); !result.Saved {
		logger.Warn("failed to save initial economy state", "error", result.Error)
	}

	return s, nil
}

// SetClock overrides the clock of every component
func (s *EconomyService) SetClock(now func() time.Time) {
	s.ledger.SetClock(now)
	s.engine.SetClock(now)
	s.guard.SetClock(now)
}

// Metrics returns the metrics engine
func (s *EconomyService) Metrics() *metrics.Engine {
	return s.engine
}

// CreatePlayer registers a wallet with the configured starting balances
func (s *EconomyService) CreatePlayer(ctx context.Context, req domain.CreatePlayerRequest) (*domain.PlayerCreated, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.guardMu.Lock()
	defer s.guardMu.Unlock()

	req = req.WithDefaults(domain.WalletDefaults{
		Soft:              s.cfg.Economy.InitialSoft,
		Premium:           s.cfg.Economy.InitialPremium,
		CoachingCredit:    s.cfg.Economy.InitialCoachingCredit,
		CoachingCreditCap: s.cfg.Economy.CoachingCreditCap,
	})

	wallet, generated, err := s.ledger.Create(req.PlayerID, req.Balances, req.CreditCap())
	if err != nil {
		return nil, fmt.Errorf("creating wallet: %w", err)
	}
	s.engine.SeedBalance(wallet.PlayerID, wallet.Balances)

	if result := s.persist(); !result.Saved {
		s.logger.Warn("failed to save after player creation", "player_id", wallet.PlayerID, "error", result.Error)
	}

	if s.mirrors.Cache != nil {
		if err := s.mirrors.Cache.SetWallet(ctx, wallet); err != nil {
			s.logger.Warn("failed to cache wallet", "player_id", wallet.PlayerID, "error", err)
		}
	}

	created := &domain.PlayerCreated{Wallet: wallet, IDGenerated: generated}
	if generated {
		created.RequestedID = req.PlayerID
	}
	return created, nil
}

// ProcessTransaction applies a signed amount to a wallet: positive amounts
// are credits, negative amounts are debits. With rollback enabled the
// current primary state is backed up first. The returned result carries the
// record even when the ledger rejected the mutation.
func (s *EconomyService) ProcessTransaction(ctx context.Context, req domain.TransactionRequest) (domain.TransactionResult, error) {
	return s.processTransaction(ctx, req, nil)
}

// processTransaction runs afterApply on an applied record before the
// save, so its effects land in the same primary write and are undone by
// the same backup.
func (s *EconomyService) processTransaction(
	ctx context.Context,
	req domain.TransactionRequest,
	afterApply func(domain.TransactionRecord),
) (domain.TransactionResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.guardMu.Lock()
	defer s.guardMu.Unlock()

	snapshotted := false
	if req.RollbackEnabled() {
		if _, err := s.guard.Snapshot(); err != nil {
			s.logger.Warn("failed to back up state before transaction", "player_id", req.PlayerID, "error", err)
		} else {
			snapshotted = true
		}
	}

	var (
		record domain.TransactionRecord
		err    error
	)
	if req.Amount < 0 {
		record, err = s.ledger.Spend(req.PlayerID, req.Currency, -req.Amount, req.Source, req.Context)
	} else {
		record, err = s.ledger.Add(req.PlayerID, req.Currency, req.Amount, req.Source, req.Context)
	}

	if err != nil {
		if snapshotted {
			if derr := s.guard.DiscardSnapshot(); derr != nil {
				s.logger.Warn("failed to discard unused backup", "error", derr)
			}
		}
		s.journal.Append(record)
		if s.mirrors.Recorder != nil {
			s.mirrors.Recorder.ObserveTransaction(record)
		}
		return domain.TransactionResult{Record: record}, err
	}

	s.engine.Track(record)
	if afterApply != nil {
		afterApply(record)
	}

	saved := s.persist()
	result := domain.TransactionResult{Record: record, Saved: saved.Saved, SaveError: saved.Error}
	if !saved.Saved {
		s.logger.Warn("transaction applied but state not saved",
			"transaction_id", record.ID,
			"error", saved.Error,
		)
	}

	s.journal.Append(record)
	s.mirrorTransaction(ctx, record)

	return result, nil
}

// ProcessTransactionBatch processes transactions in order. A failed entry
// does not stop the batch.
func (s *EconomyService) ProcessTransactionBatch(ctx context.Context, batch domain.BatchTransactionRequest) []domain.TransactionResult {
	results := make([]domain.TransactionResult, 0, len(batch.Transactions))
	for _, req := range batch.Transactions {
		result, err := s.ProcessTransaction(ctx, req)
		if err != nil {
			s.logger.Error("failed to process transaction in batch",
				"player_id", req.PlayerID,
				"currency", req.Currency,
				"error", err,
			)
			// Continue processing other transactions
		}
		results = append(results, result)
	}
	return results
}

// ApplyBonus pays a contract bonus of base × multiplier in soft currency
// and tracks it against the multiplier as the performance metric
func (s *EconomyService) ApplyBonus(ctx context.Context, req domain.BonusRequest) (*domain.BonusResult, error) {
	if req.BonusType == "" || req.PerformanceMultiplier <= 0 {
		return nil, fmt.Errorf("%w: bonus type and positive multiplier are required", domain.ErrInvalidRequest)
	}
	if req.BaseAmount <= 0 {
		return nil, domain.ErrInvalidAmount
	}

	amount := decimal.NewFromInt(req.BaseAmount).
		Mul(decimal.NewFromFloat(req.PerformanceMultiplier)).
		Round(0).
		IntPart()
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}

	trackBonus := func(record domain.TransactionRecord) {
		s.engine.TrackBonus(record.PlayerID, req.BonusType, record.Delta, req.PerformanceMultiplier)
	}
	result, err := s.processTransaction(ctx, domain.TransactionRequest{
		PlayerID: req.PlayerID,
		Currency: string(domain.CurrencySoft),
		Amount:   amount,
		Source:   "ContractBonus_" + req.BonusType,
		Context: map[string]interface{}{
			"bonus_type":             req.BonusType,
			"base_amount":            req.BaseAmount,
			"performance_multiplier": req.PerformanceMultiplier,
		},
	}, trackBonus)
	if err != nil {
		return nil, fmt.Errorf("paying bonus: %w", err)
	}

	return &domain.BonusResult{
		PlayerID:      result.Record.PlayerID,
		BonusType:     req.BonusType,
		BonusAmount:   amount,
		AppliedAmount: result.Record.Delta,
	}, nil
}

// RollbackResult reports a restored state
type RollbackResult struct {
	Players          int `json:"players"`
	RemainingBackups int `json:"remaining_backups"`
}

// RollbackLastTransaction restores the most recent backup. Balances and
// metrics aggregates return to their pre-mutation values; alerts raised
// since are kept.
func (s *EconomyService) RollbackLastTransaction(ctx context.Context) (*RollbackResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.guard.Rollback()
	if err != nil {
		return nil, fmt.Errorf("rolling back: %w", err)
	}
	s.restore(state, false)

	// the restored primary lacks alerts raised since the backup
	if result := s.persist(); !result.Saved {
		s.logger.Warn("failed to save after rollback", "error", result.Error)
	}

	if s.mirrors.Recorder != nil {
		s.mirrors.Recorder.ObserveRollback()
	}
	s.refreshCache(ctx)

	return &RollbackResult{Players: len(state.Wallets), RemainingBackups: s.guard.StackDepth()}, nil
}

// SaveResult reports a manual save
type SaveResult struct {
	Saved      bool   `json:"saved"`
	Checkpoint string `json:"checkpoint,omitempty"`
	Error      string `json:"error,omitempty"`
}

// SaveGame writes the current state to the primary store, or to a named
// checkpoint when one is given
func (s *EconomyService) SaveGame(ctx context.Context, checkpoint string) SaveResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if checkpoint == "" {
		result := s.persist()
		return SaveResult{Saved: result.Saved, Error: result.Error}
	}

	if err := s.guard.Checkpoint(checkpoint, s.state()); err != nil {
		s.logger.Warn("failed to write checkpoint", "name", checkpoint, "error", err)
		return SaveResult{Checkpoint: checkpoint, Error: err.Error()}
	}
	return SaveResult{Saved: true, Checkpoint: checkpoint}
}

// LoadCheckpoint replaces the whole economy, alerts included, with a named
// checkpoint
func (s *EconomyService) LoadCheckpoint(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.guard.LoadCheckpoint(name)
	if err != nil {
		return fmt.Errorf("loading checkpoint %s: %w", name, err)
	}
	s.restore(state, true)

	if result := s.persist(); !result.Saved {
		s.logger.Warn("failed to save restored checkpoint", "name", name, "error", result.Error)
	}
	s.refreshCache(ctx)

	s.logger.Info("checkpoint loaded", "name", name, "players", len(state.Wallets))
	return nil
}

// Checkpoints lists the stored checkpoint names
func (s *EconomyService) Checkpoints() ([]string, error) {
	return s.guard.Checkpoints()
}

// Wallet returns a player's wallet
func (s *EconomyService) Wallet(playerID string) (domain.Wallet, error) {
	return s.ledger.Wallet(playerID)
}

// Wallets returns every wallet ordered by player id
func (s *EconomyService) Wallets() []domain.Wallet {
	return s.ledger.Wallets()
}

// Journal replays the audit trail, optionally for one player
func (s *EconomyService) Journal(playerID string) ([]domain.TransactionRecord, error) {
	if playerID != "" {
		wallet, err := s.ledger.Wallet(playerID)
		if err != nil {
			return nil, err
		}
		playerID = wallet.PlayerID
	}
	return s.journal.Records(playerID)
}

// Alerts returns the active alerts, or the full history when history is set
func (s *EconomyService) Alerts(history bool) []domain.Alert {
	if history {
		return s.engine.AlertHistory()
	}
	return s.engine.ActiveAlerts()
}

// TopHolders returns the n largest balances of a currency. The cache is
// used when configured; the ledger is the fallback.
func (s *EconomyService) TopHolders(ctx context.Context, currency string, n int) ([]domain.Holder, error) {
	c, err := domain.ResolveCurrency(currency)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		n = 10
	}
	if n > 100 {
		n = 100
	}

	if s.mirrors.Cache != nil {
		holders, err := s.mirrors.Cache.TopHolders(ctx, c, n)
		if err == nil {
			return holders, nil
		}
		s.logger.Warn("failed to read top holders from cache", "currency", c, "error", err)
	}

	wallets := s.ledger.Wallets()
	sort.SliceStable(wallets, func(i, j int) bool {
		return wallets[i].Balance(c) > wallets[j].Balance(c)
	})
	if len(wallets) > n {
		wallets = wallets[:n]
	}

	holders := make([]domain.Holder, 0, len(wallets))
	for i, w := range wallets {
		holders = append(holders, domain.Holder{Rank: int64(i + 1), PlayerID: w.PlayerID, Balance: w.Balance(c)})
	}
	return holders, nil
}

// state captures wallets and metrics
func (s *EconomyService) state() domain.EconomyState {
	return domain.EconomyState{
		Wallets: s.ledger.Snapshot(),
		Metrics: s.engine.Export(),
	}
}

// persist captures and saves the state under saveMu
func (s *EconomyService) persist() persistence.SaveResult {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	result := s.guard.Save(s.state(), false)
	if s.mirrors.Recorder != nil {
		s.mirrors.Recorder.ObserveSave(result.Saved)
	}
	return result
}

func (s *EconomyService) restore(state domain.EconomyState, withAlerts bool) {
	s.ledger.Restore(state.Wallets)
	s.engine.Import(state.Metrics, withAlerts)
}

func (s *EconomyService) refreshCache(ctx context.Context) {
	if s.mirrors.Cache == nil {
		return
	}
	if err := s.mirrors.Cache.SetWallets(ctx, s.ledger.Wallets()); err != nil {
		s.logger.Warn("failed to refresh balance cache", "error", err)
	}
}

func (s *EconomyService) mirrorTransaction(ctx context.Context, record domain.TransactionRecord) {
	if s.mirrors.Cache != nil {
		if wallet, err := s.ledger.Wallet(record.PlayerID); err == nil {
			if err := s.mirrors.Cache.SetWallet(ctx, wallet); err != nil {
				s.logger.Warn("failed to cache wallet", "player_id", record.PlayerID, "error", err)
			}
		}
	}
	if s.mirrors.Archive != nil {
		if err := s.mirrors.Archive.RecordTransaction(ctx, record); err != nil {
			s.logger.Warn("failed to archive transaction", "transaction_id", record.ID, "error", err)
			// Don't fail the transaction if archiving fails
		}
	}
	if s.mirrors.Notifier != nil {
		s.mirrors.Notifier.BroadcastTransaction(record)
	}
	if s.mirrors.Recorder != nil {
		s.mirrors.Recorder.ObserveTransaction(record)
	}
}

func (s *EconomyService) mirrorAlert(alert domain.Alert) {
	if s.mirrors.Archive != nil {
		if err := s.mirrors.Archive.RecordAlert(context.Background(), alert); err != nil {
			s.logger.Warn("failed to archive alert", "alert_id", alert.ID, "error", err)
		}
	}
	if s.mirrors.Notifier != nil {
		s.mirrors.Notifier.BroadcastAlert(alert)
	}
	if s.mirrors.Recorder != nil {
		s.mirrors.Recorder.ObserveAlert(alert)
	}
}
