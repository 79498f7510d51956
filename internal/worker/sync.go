package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/resource-economy/internal/config"
	"github.com/resource-economy/internal/domain"
)

// WalletSource provides the authoritative wallets
type WalletSource interface {
	Wallets() []domain.Wallet
}

// WalletCache is the ranked read mirror of balances
type WalletCache interface {
	SetWallets(ctx context.Context, wallets []domain.Wallet) error
	Reset(ctx context.Context) error
}

// WalletArchive is the relational mirror of balances
type WalletArchive interface {
	BatchUpsertWallets(ctx context.Context, wallets []domain.Wallet) error
}

// SyncWorker periodically mirrors ledger wallets into Redis and PostgreSQL
type SyncWorker struct {
	source  WalletSource
	cache   WalletCache
	archive WalletArchive
	config  *config.SyncConfig
	logger  *slog.Logger
	stopCh  chan struct{}
	doneCh  chan struct{}
	mu      sync.Mutex
	running bool
}

// NewSyncWorker creates a new sync worker. cache and archive may be nil.
func NewSyncWorker(
	source WalletSource,
	cache WalletCache,
	archive WalletArchive,
	cfg *config.SyncConfig,
	logger *slog.Logger,
) *SyncWorker {
	return &SyncWorker{
		source:  source,
		cache:   cache,
		archive: archive,
		config:  cfg,
		logger:  logger,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start begins the background sync process
func (w *SyncWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("sync worker started", "interval", w.config.Interval)

	go w.run(ctx)
	return nil
}

// Stop stops the background sync process
func (w *SyncWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("sync worker stopped")
	return nil
}

// run is the main worker loop
func (w *SyncWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.syncAll(ctx)
		}
	}
}

// syncAll pushes every wallet to both mirrors
func (w *SyncWorker) syncAll(ctx context.Context) {
	w.logger.Info("starting sync cycle")
	startTime := time.Now()

	wallets := w.source.Wallets()
	errorCount := 0

	if w.cache != nil {
		if err := w.syncBatches(ctx, wallets, w.cache.SetWallets); err != nil {
			w.logger.Error("failed to sync balances to redis", "error", err)
			errorCount++
		}
	}
	if w.archive != nil {
		if err := w.syncBatches(ctx, wallets, w.archive.BatchUpsertWallets); err != nil {
			w.logger.Error("failed to sync balances to database", "error", err)
			errorCount++
		}
	}

	w.logger.Info("sync cycle completed",
		"duration", time.Since(startTime),
		"wallets", len(wallets),
		"errors", errorCount,
	)
}

// syncBatches writes wallets in chunks to avoid overwhelming the target
func (w *SyncWorker) syncBatches(ctx context.Context, wallets []domain.Wallet, write func(context.Context, []domain.Wallet) error) error {
	batchSize := w.config.BatchSize
	if batchSize <= 0 {
		batchSize = 500
	}

	for start := 0; start < len(wallets); start += batchSize {
		end := start + batchSize
		if end > len(wallets) {
			end = len(wallets)
		}
		if err := write(ctx, wallets[start:end]); err != nil {
			return fmt.Errorf("writing wallets %d-%d: %w", start, end, err)
		}
	}
	return nil
}

// RebuildCache clears the balance sets and repopulates them from the ledger.
// Wallets removed by a rollback would otherwise stay ranked.
func (w *SyncWorker) RebuildCache(ctx context.Context) error {
	if w.cache == nil {
		return nil
	}
	if err := w.cache.Reset(ctx); err != nil {
		return fmt.Errorf("resetting balance cache: %w", err)
	}
	wallets := w.source.Wallets()
	if err := w.syncBatches(ctx, wallets, w.cache.SetWallets); err != nil {
		return err
	}
	w.logger.Info("balance cache rebuilt", "wallets", len(wallets))
	return nil
}

// IsRunning returns whether the worker is currently running
func (w *SyncWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// RunOnce runs a single sync cycle
func (w *SyncWorker) RunOnce(ctx context.Context) {
	w.syncAll(ctx)
}
