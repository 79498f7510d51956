package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/resource-economy/internal/config"
	"github.com/resource-economy/internal/domain"
)

// Repository is the relational mirror of wallets, the audit log and alerts
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Pool returns the underlying connection pool
func (r *Repository) Pool() *pgxpool.Pool {
	return r.pool
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS wallet_balances (
			player_id VARCHAR(64) NOT NULL,
			currency VARCHAR(32) NOT NULL,
			balance BIGINT NOT NULL CHECK (balance >= 0),
			cap BIGINT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (player_id, currency)
		)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id UUID PRIMARY KEY,
			player_id VARCHAR(64) NOT NULL,
			currency VARCHAR(32) NOT NULL,
			tx_type VARCHAR(10) NOT NULL,
			delta BIGINT NOT NULL,
			source VARCHAR(128),
			context JSONB,
			balance_after BIGINT NOT NULL,
			success BOOLEAN NOT NULL,
			failure_reason TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS economy_alerts (
			id UUID PRIMARY KEY,
			level VARCHAR(16) NOT NULL,
			message TEXT NOT NULL,
			data JSONB,
			acknowledged BOOLEAN DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_wallet_balances_currency ON wallet_balances(currency, balance DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_player ON audit_log(player_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_economy_alerts_level ON economy_alerts(level, created_at DESC)`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// RecordTransaction appends a record to the audit log
func (r *Repository) RecordTransaction(ctx context.Context, record domain.TransactionRecord) error {
	contextJSON, err := marshalOptional(record.Context)
	if err != nil {
		return fmt.Errorf("marshaling context: %w", err)
	}

	query := `
		INSERT INTO audit_log (id, player_id, currency, tx_type, delta, source, context, balance_after, success, failure_reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = r.pool.Exec(ctx, query,
		record.ID,
		record.PlayerID,
		string(record.Currency),
		string(record.Type),
		record.Delta,
		record.Source,
		contextJSON,
		record.BalanceAfter,
		record.Success,
		record.FailureReason,
		record.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("recording transaction: %w", err)
	}
	return nil
}

// RecordAlert stores a raised alert
func (r *Repository) RecordAlert(ctx context.Context, alert domain.Alert) error {
	dataJSON, err := marshalOptional(alert.Data)
	if err != nil {
		return fmt.Errorf("marshaling alert data: %w", err)
	}

	query := `
		INSERT INTO economy_alerts (id, level, message, data, acknowledged, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = r.pool.Exec(ctx, query,
		alert.ID,
		string(alert.Level),
		alert.Message,
		dataJSON,
		alert.Acknowledged,
		alert.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("recording alert: %w", err)
	}
	return nil
}

// GetTransactions retrieves a player's audit log, newest first
func (r *Repository) GetTransactions(ctx context.Context, playerID string, limit int) ([]domain.TransactionRecord, error) {
	query := `
		SELECT id, player_id, currency, tx_type, delta, COALESCE(source, ''), context,
			   balance_after, success, COALESCE(failure_reason, ''), created_at
		FROM audit_log
		WHERE player_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, playerID, limit)
	if err != nil {
		return nil, fmt.Errorf("getting transactions: %w", err)
	}
	defer rows.Close()

	var records []domain.TransactionRecord
	for rows.Next() {
		var record domain.TransactionRecord
		var contextJSON []byte
		err := rows.Scan(
			&record.ID,
			&record.PlayerID,
			&record.Currency,
			&record.Type,
			&record.Delta,
			&record.Source,
			&contextJSON,
			&record.BalanceAfter,
			&record.Success,
			&record.FailureReason,
			&record.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning transaction: %w", err)
		}
		if len(contextJSON) > 0 {
			if err := json.Unmarshal(contextJSON, &record.Context); err != nil {
				return nil, fmt.Errorf("decoding context: %w", err)
			}
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// GetWallet retrieves the mirrored balances of a player
func (r *Repository) GetWallet(ctx context.Context, playerID string) (*domain.Wallet, error) {
	query := `
		SELECT currency, balance, cap, created_at
		FROM wallet_balances
		WHERE player_id = $1
	`
	rows, err := r.pool.Query(ctx, query, playerID)
	if err != nil {
		return nil, fmt.Errorf("getting wallet: %w", err)
	}
	defer rows.Close()

	wallet := &domain.Wallet{
		PlayerID: playerID,
		Balances: make(map[domain.Currency]int64),
		Caps:     make(map[domain.Currency]int64),
	}
	for rows.Next() {
		var currency domain.Currency
		var balance int64
		var cap *int64
		if err := rows.Scan(&currency, &balance, &cap, &wallet.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning balance: %w", err)
		}
		wallet.Balances[currency] = balance
		if cap != nil {
			wallet.Caps[currency] = *cap
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading balances: %w", err)
	}
	if len(wallet.Balances) == 0 {
		return nil, domain.ErrPlayerNotFound
	}
	return wallet, nil
}

// GetAlerts retrieves stored alerts at or above a level, newest first
func (r *Repository) GetAlerts(ctx context.Context, levels []domain.AlertLevel, limit int) ([]domain.Alert, error) {
	names := make([]string, len(levels))
	for i, l := range levels {
		names[i] = string(l)
	}

	query := `
		SELECT id, level, message, data, acknowledged, created_at
		FROM economy_alerts
		WHERE level = ANY($1)
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, names, limit)
	if err != nil {
		return nil, fmt.Errorf("getting alerts: %w", err)
	}
	defer rows.Close()

	var alerts []domain.Alert
	for rows.Next() {
		var alert domain.Alert
		var dataJSON []byte
		if err := rows.Scan(&alert.ID, &alert.Level, &alert.Message, &dataJSON, &alert.Acknowledged, &alert.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning alert: %w", err)
		}
		if len(dataJSON) > 0 {
			if err := json.Unmarshal(dataJSON, &alert.Data); err != nil {
				return nil, fmt.Errorf("decoding alert data: %w", err)
			}
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

// CountTransactions returns the number of audit log rows
func (r *Repository) CountTransactions(ctx context.Context) (int64, error) {
	query := `SELECT COUNT(*) FROM audit_log`
	var count int64
	err := r.pool.QueryRow(ctx, query).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting transactions: %w", err)
	}
	return count, nil
}

// BatchUpsertWallets inserts or updates every balance of the given wallets
func (r *Repository) BatchUpsertWallets(ctx context.Context, wallets []domain.Wallet) error {
	if len(wallets) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO wallet_balances (player_id, currency, balance, cap, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (player_id, currency)
		DO UPDATE SET balance = $3, cap = $4, updated_at = $6
	`
	now := time.Now()

	for _, w := range wallets {
		for _, row := range balanceRows(w) {
			batch.Queue(query, w.PlayerID, string(row.currency), row.balance, row.cap, w.CreatedAt, now)
		}
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < batch.Len(); i++ {
		_, err := br.Exec()
		if err != nil {
			return fmt.Errorf("batch upserting wallets: %w", err)
		}
	}
	return nil
}

type balanceRow struct {
	currency domain.Currency
	balance  int64
	cap      *int64
}

// balanceRows flattens a wallet into one row per currency. Only capped
// currencies carry a cap.
func balanceRows(w domain.Wallet) []balanceRow {
	rows := make([]balanceRow, 0, len(domain.Currencies))
	for _, c := range domain.Currencies {
		row := balanceRow{currency: c, balance: w.Balance(c)}
		if cap, ok := w.Caps[c]; ok && c.IsCapped() {
			v := cap
			row.cap = &v
		}
		rows = append(rows, row)
	}
	return rows
}

func marshalOptional(v map[string]interface{}) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
