package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/resource-economy/internal/config"
	"github.com/resource-economy/internal/domain"
)

// BalanceStore mirrors wallet balances into Redis: one sorted set per
// currency for ranked reads and one hash per wallet
type BalanceStore struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// NewBalanceStore connects to Redis
func NewBalanceStore(cfg *config.RedisConfig, logger *slog.Logger) (*BalanceStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &BalanceStore{
		client: client,
		prefix: cfg.KeyPrefix,
		logger: logger,
	}, nil
}

// Close closes the Redis connection
func (s *BalanceStore) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client
func (s *BalanceStore) Client() *redis.Client {
	return s.client
}

// balanceKey returns the sorted set holding every balance of a currency
func (s *BalanceStore) balanceKey(c domain.Currency) string {
	return fmt.Sprintf("%s:balances:%s", s.prefix, c)
}

// walletKey returns the hash caching one wallet
func (s *BalanceStore) walletKey(playerID string) string {
	return fmt.Sprintf("%s:wallet:%s", s.prefix, playerID)
}

// SetWallet writes every balance of a wallet
func (s *BalanceStore) SetWallet(ctx context.Context, wallet domain.Wallet) error {
	pipe := s.client.Pipeline()
	s.queueWallet(ctx, pipe, wallet)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("setting wallet: %w", err)
	}
	return nil
}

// SetWallets writes many wallets using pipelining
func (s *BalanceStore) SetWallets(ctx context.Context, wallets []domain.Wallet) error {
	if len(wallets) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for _, w := range wallets {
		s.queueWallet(ctx, pipe, w)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("batch setting wallets: %w", err)
	}
	return nil
}

func (s *BalanceStore) queueWallet(ctx context.Context, pipe redis.Pipeliner, wallet domain.Wallet) {
	fields := make([]interface{}, 0, 2*len(domain.Currencies)+4)
	for _, c := range domain.Currencies {
		balance := wallet.Balance(c)
		pipe.ZAdd(ctx, s.balanceKey(c), redis.Z{
			Score:  float64(balance),
			Member: wallet.PlayerID,
		})
		fields = append(fields, string(c), balance)
	}
	fields = append(fields,
		"cap_"+string(domain.CappedCurrency), wallet.Caps[domain.CappedCurrency],
		"created_at", wallet.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	pipe.HSet(ctx, s.walletKey(wallet.PlayerID), fields...)
}

// GetWallet reads a cached wallet
func (s *BalanceStore) GetWallet(ctx context.Context, playerID string) (*domain.Wallet, error) {
	result, err := s.client.HGetAll(ctx, s.walletKey(playerID)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting wallet: %w", err)
	}
	if len(result) == 0 {
		return nil, domain.ErrPlayerNotFound
	}
	return parseWallet(playerID, result), nil
}

// TopHolders returns the n largest balances of a currency (descending order)
func (s *BalanceStore) TopHolders(ctx context.Context, c domain.Currency, n int) ([]domain.Holder, error) {
	results, err := s.client.ZRevRangeWithScores(ctx, s.balanceKey(c), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting top holders: %w", err)
	}

	holders := make([]domain.Holder, len(results))
	for i, result := range results {
		holders[i] = domain.Holder{
			Rank:     int64(i + 1),
			PlayerID: result.Member.(string),
			Balance:  int64(result.Score),
		}
	}
	return holders, nil
}

// HolderRank returns a player's rank and balance for a currency
func (s *BalanceStore) HolderRank(ctx context.Context, c domain.Currency, playerID string) (*domain.Holder, error) {
	key := s.balanceKey(c)

	// Use pipeline to get both rank and balance
	pipe := s.client.Pipeline()
	rankCmd := pipe.ZRevRank(ctx, key, playerID)
	scoreCmd := pipe.ZScore(ctx, key, playerID)
	if _, err := pipe.Exec(ctx); err != nil {
		if err == redis.Nil {
			return nil, domain.ErrPlayerNotFound
		}
		return nil, fmt.Errorf("getting holder rank: %w", err)
	}

	rank, err := rankCmd.Result()
	if err != nil {
		return nil, fmt.Errorf("getting rank result: %w", err)
	}
	score, err := scoreCmd.Result()
	if err != nil {
		return nil, fmt.Errorf("getting balance result: %w", err)
	}

	return &domain.Holder{
		Rank:     rank + 1, // Convert 0-indexed to 1-indexed
		PlayerID: playerID,
		Balance:  int64(score),
	}, nil
}

// Count returns the number of cached holders of a currency
func (s *BalanceStore) Count(ctx context.Context, c domain.Currency) (int64, error) {
	count, err := s.client.ZCard(ctx, s.balanceKey(c)).Result()
	if err != nil {
		return 0, fmt.Errorf("getting count: %w", err)
	}
	return count, nil
}

// Reset clears every balance set
func (s *BalanceStore) Reset(ctx context.Context) error {
	keys := make([]string, 0, len(domain.Currencies))
	for _, c := range domain.Currencies {
		keys = append(keys, s.balanceKey(c))
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("resetting balances: %w", err)
	}
	return nil
}

func parseWallet(playerID string, fields map[string]string) *domain.Wallet {
	wallet := &domain.Wallet{
		PlayerID: playerID,
		Balances: make(map[domain.Currency]int64, len(domain.Currencies)),
		Caps:     make(map[domain.Currency]int64, 1),
	}
	for _, c := range domain.Currencies {
		wallet.Balances[c], _ = strconv.ParseInt(fields[string(c)], 10, 64)
	}
	if v, ok := fields["cap_"+string(domain.CappedCurrency)]; ok {
		wallet.Caps[domain.CappedCurrency], _ = strconv.ParseInt(v, 10, 64)
	}
	if v, ok := fields["created_at"]; ok {
		wallet.CreatedAt, _ = time.Parse(time.RFC3339Nano, v)
	}
	return wallet
}
