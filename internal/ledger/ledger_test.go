package ledger

import (
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/resource-economy/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) (*Ledger, string) {
	t.Helper()
	l := New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	id := uuid.New().String()
	_, generated, err := l.Create(id, map[string]int64{"soft": 1000, "premium": 50, "coaching_credit": 20}, 100)
	require.NoError(t, err)
	require.False(t, generated)
	return l, id
}

func TestCreate_GeneratesCanonicalID(t *testing.T) {
	l := New(slog.New(slog.NewTextHandler(io.Discard, nil)))

	w, generated, err := l.Create("not-a-uuid", nil, 100)
	require.NoError(t, err)
	assert.True(t, generated)
	assert.NotEqual(t, "not-a-uuid", w.PlayerID)
	_, err = uuid.Parse(w.PlayerID)
	assert.NoError(t, err)

	upper := "A0EEBC99-9C0B-4EF8-BB6D-6BB9BD380A11"
	w, generated, err = l.Create(upper, nil, 100)
	require.NoError(t, err)
	assert.False(t, generated)
	assert.Equal(t, "a0eebc99-9c0b-4ef8-bb6d-6bb9bd380a11", w.PlayerID)

	_, _, err = l.Create(upper, nil, 100)
	assert.ErrorIs(t, err, domain.ErrPlayerExists)
}

func TestCreate_RejectsInvalidCap(t *testing.T) {
	l := New(slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, _, err := l.Create(uuid.New().String(), map[string]int64{"credits": 50}, 40)
	assert.ErrorIs(t, err, domain.ErrInvalidCap)

	_, _, err = l.Create(uuid.New().String(), nil, -1)
	assert.ErrorIs(t, err, domain.ErrInvalidCap)

	_, _, err = l.Create(uuid.New().String(), map[string]int64{"soft": -5}, 100)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, _, err = l.Create(uuid.New().String(), map[string]int64{"gold": 5}, 100)
	assert.ErrorIs(t, err, domain.ErrUnsupportedCurrency)
	assert.Equal(t, 0, l.Len())
}

func TestAdd_TruncatesAtCap(t *testing.T) {
	l, id := newTestLedger(t)

	record, err := l.Add(id, "coaching_credit", 90, "TrainingReward", nil)
	require.NoError(t, err)
	assert.True(t, record.Success)
	assert.Equal(t, int64(80), record.Delta)
	assert.Equal(t, int64(100), record.BalanceAfter)
	assert.True(t, record.Truncated())
	assert.Equal(t, int64(10), record.Context[domain.ContextExcessDiscarded])
	assert.Equal(t, int64(90), record.Context[domain.ContextRequestedAmount])

	balance, err := l.Balance(id, "credits")
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)

	record, err = l.Add(id, "CoachingCredit", 1, "TrainingReward", nil)
	assert.ErrorIs(t, err, domain.ErrCapReached)
	assert.False(t, record.Success)
	assert.NotEmpty(t, record.FailureReason)
	assert.Equal(t, int64(100), record.BalanceAfter)
}

func TestAdd_UncappedCurrency(t *testing.T) {
	l, id := newTestLedger(t)

	record, err := l.Add(id, "coins", 5000, "MatchReward", map[string]interface{}{"match": 3})
	require.NoError(t, err)
	assert.Equal(t, domain.CurrencySoft, record.Currency)
	assert.Equal(t, int64(6000), record.BalanceAfter)
	assert.False(t, record.Truncated())
	assert.Equal(t, 3, record.Context["match"])
}

func TestSpend_InsufficientFunds(t *testing.T) {
	l, id := newTestLedger(t)

	record, err := l.Spend(id, "soft", 1500, "Transfer", nil)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.False(t, record.Success)
	assert.Equal(t, int64(-1500), record.Delta)

	balance, err := l.Balance(id, "soft")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), balance)

	record, err = l.Spend(id, "soft", 1000, "Transfer", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), record.BalanceAfter)
	assert.Equal(t, int64(-1000), record.Delta)
}

func TestApply_Rejections(t *testing.T) {
	l, id := newTestLedger(t)

	_, err := l.Add(id, "soft", 0, "x", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = l.Spend(id, "soft", -10, "x", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = l.Add(id, "gold", 10, "x", nil)
	assert.ErrorIs(t, err, domain.ErrUnsupportedCurrency)

	_, err = l.Add(uuid.New().String(), "soft", 10, "x", nil)
	assert.ErrorIs(t, err, domain.ErrPlayerNotFound)

	_, err = l.Balance("missing", "soft")
	assert.ErrorIs(t, err, domain.ErrPlayerNotFound)
}

func TestSnapshotRestore(t *testing.T) {
	l, id := newTestLedger(t)
	snapshot := l.Snapshot()

	_, err := l.Spend(id, "premium", 50, "Shop", nil)
	require.NoError(t, err)

	l.Restore(snapshot)
	balance, err := l.Balance(id, "premium")
	require.NoError(t, err)
	assert.Equal(t, int64(50), balance)

	// the snapshot is a deep copy
	snapshot[id].Balances[domain.CurrencyPremium] = 1
	balance, _ = l.Balance(id, "premium")
	assert.Equal(t, int64(50), balance)
}

func TestConcurrentMutationsNeverOverdraw(t *testing.T) {
	l, id := newTestLedger(t)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Spend(id, "soft", 30, "Stress", nil); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = l.Add(id, "coaching_credit", 7, "Stress", nil)
		}()
	}
	wg.Wait()

	soft, err := l.Balance(id, "soft")
	require.NoError(t, err)
	assert.Equal(t, 33, succeeded)
	assert.Equal(t, int64(10), soft)

	credits, err := l.Balance(id, "coaching_credit")
	require.NoError(t, err)
	assert.Equal(t, int64(100), credits)
}
