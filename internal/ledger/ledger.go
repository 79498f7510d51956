package ledger

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/resource-economy/internal/domain"
)

// Ledger holds the authoritative wallet balances
type Ledger struct {
	mu      sync.RWMutex
	wallets map[string]*walletEntry
	now     func() time.Time
	logger  *slog.Logger
}

// walletEntry serializes mutations of one player's wallet
type walletEntry struct {
	mu     sync.Mutex
	wallet domain.Wallet
}

// New creates an empty ledger
func New(logger *slog.Logger) *Ledger {
	return &Ledger{
		wallets: make(map[string]*walletEntry),
		now:     time.Now,
		logger:  logger,
	}
}

// SetClock overrides the clock used to timestamp records
func (l *Ledger) SetClock(now func() time.Time) {
	l.now = now
}

// CanonicalPlayerID returns the canonical UUID form of id. When id is not a
// UUID a fresh one is generated and generated is true.
func CanonicalPlayerID(id string) (canonical string, generated bool) {
	if parsed, err := uuid.Parse(id); err == nil {
		return parsed.String(), false
	}
	return uuid.New().String(), true
}

// Create registers a new wallet. The returned flag reports whether the
// player id was replaced by a generated one.
func (l *Ledger) Create(playerID string, initial map[string]int64, creditCap int64) (domain.Wallet, bool, error) {
	id, generated := CanonicalPlayerID(playerID)

	balances := make(map[domain.Currency]int64, len(domain.Currencies))
	for _, c := range domain.Currencies {
		balances[c] = 0
	}
	for name, amount := range initial {
		c, err := domain.ResolveCurrency(name)
		if err != nil {
			return domain.Wallet{}, generated, err
		}
		if amount < 0 {
			return domain.Wallet{}, generated, fmt.Errorf("%w: initial %s balance %d", domain.ErrInvalidAmount, c, amount)
		}
		balances[c] = amount
	}

	if creditCap < 0 || balances[domain.CappedCurrency] > creditCap {
		return domain.Wallet{}, generated, fmt.Errorf("%w: cap %d, initial balance %d",
			domain.ErrInvalidCap, creditCap, balances[domain.CappedCurrency])
	}

	wallet := domain.Wallet{
		PlayerID:  id,
		Balances:  balances,
		Caps:      map[domain.Currency]int64{domain.CappedCurrency: creditCap},
		CreatedAt: l.now(),
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.wallets[id]; exists {
		return domain.Wallet{}, generated, domain.ErrPlayerExists
	}
	l.wallets[id] = &walletEntry{wallet: wallet}

	if generated {
		l.logger.Info("generated canonical player id", "requested_id", playerID, "player_id", id)
	}
	return wallet.Clone(), generated, nil
}

// Add credits amount to a wallet. For the capped currency the credit is
// truncated to the remaining headroom; the record reports the discarded
// excess. The returned record is populated even when err is non-nil.
func (l *Ledger) Add(playerID, currency string, amount int64, source string, context map[string]interface{}) (domain.TransactionRecord, error) {
	return l.apply(playerID, currency, amount, domain.TransactionEarn, source, context)
}

// Spend debits amount from a wallet. Spends are all-or-nothing.
func (l *Ledger) Spend(playerID, currency string, amount int64, source string, context map[string]interface{}) (domain.TransactionRecord, error) {
	return l.apply(playerID, currency, amount, domain.TransactionSpend, source, context)
}

func (l *Ledger) apply(playerID, currency string, amount int64, txType domain.TransactionType, source string, context map[string]interface{}) (domain.TransactionRecord, error) {
	record := domain.TransactionRecord{
		ID:        uuid.New().String(),
		Timestamp: l.now(),
		PlayerID:  playerID,
		Currency:  domain.Currency(currency),
		Type:      txType,
		Delta:     signed(amount, txType),
		Source:    source,
		Context:   copyContext(context),
	}

	if amount <= 0 {
		return reject(record, domain.ErrInvalidAmount)
	}

	c, err := domain.ResolveCurrency(currency)
	if err != nil {
		return reject(record, err)
	}
	record.Currency = c

	entry, ok := l.lookup(playerID)
	if !ok {
		return reject(record, domain.ErrPlayerNotFound)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	record.PlayerID = entry.wallet.PlayerID
	balance := entry.wallet.Balances[c]
	record.BalanceAfter = balance

	applied := amount
	switch txType {
	case domain.TransactionEarn:
		if c.IsCapped() {
			headroom := entry.wallet.Caps[c] - balance
			if headroom <= 0 {
				return reject(record, domain.ErrCapReached)
			}
			if amount > headroom {
				applied = headroom
				if record.Context == nil {
					record.Context = make(map[string]interface{})
				}
				record.Context[domain.ContextCapReached] = true
				record.Context[domain.ContextExcessDiscarded] = amount - headroom
				record.Context[domain.ContextRequestedAmount] = amount
			}
		}
		balance += applied
	case domain.TransactionSpend:
		if balance < amount {
			return reject(record, domain.ErrInsufficientFunds)
		}
		balance -= amount
	}

	entry.wallet.Balances[c] = balance
	record.Delta = signed(applied, txType)
	record.BalanceAfter = balance
	record.Success = true
	return record, nil
}

// Balance returns a player's balance for a currency
func (l *Ledger) Balance(playerID, currency string) (int64, error) {
	c, err := domain.ResolveCurrency(currency)
	if err != nil {
		return 0, err
	}

	entry, ok := l.lookup(playerID)
	if !ok {
		return 0, domain.ErrPlayerNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.wallet.Balances[c], nil
}

// Wallet returns a copy of a player's wallet
func (l *Ledger) Wallet(playerID string) (domain.Wallet, error) {
	entry, ok := l.lookup(playerID)
	if !ok {
		return domain.Wallet{}, domain.ErrPlayerNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.wallet.Clone(), nil
}

// Wallets returns copies of all wallets ordered by player id
func (l *Ledger) Wallets() []domain.Wallet {
	snapshot := l.Snapshot()
	out := make([]domain.Wallet, 0, len(snapshot))
	for _, w := range snapshot {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlayerID < out[j].PlayerID })
	return out
}

// Len returns the number of registered wallets
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.wallets)
}

// Snapshot returns a deep copy of every wallet keyed by player id
func (l *Ledger) Snapshot() map[string]domain.Wallet {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]domain.Wallet, len(l.wallets))
	for id, entry := range l.wallets {
		entry.mu.Lock()
		out[id] = entry.wallet.Clone()
		entry.mu.Unlock()
	}
	return out
}

// Restore replaces every wallet with the given set
func (l *Ledger) Restore(wallets map[string]domain.Wallet) {
	restored := make(map[string]*walletEntry, len(wallets))
	for id, w := range wallets {
		restored[id] = &walletEntry{wallet: w.Clone()}
	}

	l.mu.Lock()
	l.wallets = restored
	l.mu.Unlock()
}

func (l *Ledger) lookup(playerID string) (*walletEntry, bool) {
	if parsed, err := uuid.Parse(playerID); err == nil {
		playerID = parsed.String()
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	entry, ok := l.wallets[playerID]
	return entry, ok
}

func reject(record domain.TransactionRecord, err error) (domain.TransactionRecord, error) {
	record.Success = false
	record.FailureReason = err.Error()
	return record, err
}

func signed(amount int64, txType domain.TransactionType) int64 {
	if txType == domain.TransactionSpend {
		return -amount
	}
	return amount
}

func copyContext(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
