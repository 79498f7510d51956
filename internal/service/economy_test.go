package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/resource-economy/internal/config"
	"github.com/resource-economy/internal/domain"
	"github.com/resource-economy/internal/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMirror struct {
	mu           sync.Mutex
	wallets      map[string]domain.Wallet
	transactions []domain.TransactionRecord
	alerts       []domain.Alert
	broadcasts   int
	saves        int
	rollbacks    int
}

func newFakeMirror() *fakeMirror {
	return &fakeMirror{wallets: make(map[string]domain.Wallet)}
}

func (f *fakeMirror) SetWallet(_ context.Context, w domain.Wallet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wallets[w.PlayerID] = w
	return nil
}

func (f *fakeMirror) SetWallets(ctx context.Context, wallets []domain.Wallet) error {
	for _, w := range wallets {
		_ = f.SetWallet(ctx, w)
	}
	return nil
}

func (f *fakeMirror) TopHolders(context.Context, domain.Currency, int) ([]domain.Holder, error) {
	return nil, domain.ErrInternalError
}

func (f *fakeMirror) RecordTransaction(_ context.Context, r domain.TransactionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transactions = append(f.transactions, r)
	return nil
}

func (f *fakeMirror) RecordAlert(_ context.Context, a domain.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, a)
	return nil
}

func (f *fakeMirror) BroadcastTransaction(domain.TransactionRecord) {
	f.mu.Lock()
	f.broadcasts++
	f.mu.Unlock()
}

func (f *fakeMirror) BroadcastAlert(domain.Alert) {}

func (f *fakeMirror) ObserveTransaction(domain.TransactionRecord) {}

func (f *fakeMirror) ObserveAlert(domain.Alert) {}

func (f *fakeMirror) ObserveSave(bool) {
	f.mu.Lock()
	f.saves++
	f.mu.Unlock()
}

func (f *fakeMirror) ObserveRollback() {
	f.mu.Lock()
	f.rollbacks++
	f.mu.Unlock()
}

type testEnv struct {
	svc     *EconomyService
	cfg     *config.Config
	journal *persistence.Journal
	mirror  *fakeMirror
	clock   time.Time
}

func newTestEnv(t *testing.T, dir string) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := config.DefaultConfig()
	cfg.Storage.DataDir = dir

	guard, err := persistence.NewGuard(&cfg.Storage, logger)
	require.NoError(t, err)
	journal, err := persistence.NewJournal(&cfg.Storage, logger)
	require.NoError(t, err)
	t.Cleanup(func() { journal.Close() })

	mirror := newFakeMirror()
	svc, err := NewEconomyService(cfg, guard, journal, Mirrors{
		Cache:    mirror,
		Archive:  mirror,
		Notifier: mirror,
		Recorder: mirror,
	}, logger)
	require.NoError(t, err)

	env := &testEnv{
		svc:     svc,
		cfg:     cfg,
		journal: journal,
		mirror:  mirror,
		clock:   time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	svc.SetClock(func() time.Time { return env.clock })
	return env
}

func (e *testEnv) createPlayer(t *testing.T) string {
	t.Helper()
	created, err := e.svc.CreatePlayer(context.Background(), domain.CreatePlayerRequest{PlayerID: uuid.New().String()})
	require.NoError(t, err)
	return created.Wallet.PlayerID
}

func (e *testEnv) transact(t *testing.T, playerID, currency string, amount int64) (domain.TransactionResult, error) {
	t.Helper()
	return e.svc.ProcessTransaction(context.Background(), domain.TransactionRequest{
		PlayerID: playerID,
		Currency: currency,
		Amount:   amount,
		Source:   "Test",
	})
}

func TestCreatePlayer_DefaultsAndGeneratedID(t *testing.T) {
	env := newTestEnv(t, t.TempDir())

	created, err := env.svc.CreatePlayer(context.Background(), domain.CreatePlayerRequest{PlayerID: "coach-7"})
	require.NoError(t, err)
	assert.True(t, created.IDGenerated)
	assert.Equal(t, "coach-7", created.RequestedID)

	w := created.Wallet
	assert.Equal(t, int64(1000), w.Balance(domain.CurrencySoft))
	assert.Equal(t, int64(50), w.Balance(domain.CurrencyPremium))
	assert.Equal(t, int64(20), w.Balance(domain.CurrencyCoachingCredit))
	assert.Equal(t, int64(100), w.Caps[domain.CappedCurrency])
	assert.Contains(t, env.mirror.wallets, w.PlayerID)
}

func TestProcessTransaction_CapTruncation(t *testing.T) {
	env := newTestEnv(t, t.TempDir())
	id := env.createPlayer(t)

	result, err := env.transact(t, id, "coaching_credit", 90)
	require.NoError(t, err)
	assert.True(t, result.Saved)
	assert.Equal(t, int64(100), result.Record.BalanceAfter)
	assert.Equal(t, int64(10), result.Record.Context[domain.ContextExcessDiscarded])
	assert.Equal(t, 1, env.mirror.broadcasts)
	require.Len(t, env.mirror.transactions, 1)
}

func TestProcessTransaction_RejectedSpendIsJournaled(t *testing.T) {
	env := newTestEnv(t, t.TempDir())
	id := env.createPlayer(t)

	result, err := env.transact(t, id, "soft", -1500)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.False(t, result.Record.Success)

	w, err := env.svc.Wallet(id)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), w.Balance(domain.CurrencySoft))

	records, err := env.svc.Journal(id)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.False(t, records[0].Success)
	assert.Equal(t, int64(-1500), records[0].Delta)

	// the rejected mutation leaves no restorable backup behind
	_, err = env.svc.RollbackLastTransaction(context.Background())
	assert.ErrorIs(t, err, domain.ErrNothingToRollback)
	assert.Empty(t, env.mirror.transactions)
}

func TestRollback_IsInverseOfLastMutation(t *testing.T) {
	env := newTestEnv(t, t.TempDir())
	id := env.createPlayer(t)
	ctx := context.Background()

	start := env.clock
	for i, amount := range []int64{100, 100, 100, 250} {
		env.clock = start.AddDate(0, 0, 7*i)
		_, err := env.transact(t, id, "soft", amount)
		require.NoError(t, err)
	}
	for _, multiplier := range []float64{1, 2} {
		_, err := env.svc.ApplyBonus(ctx, domain.BonusRequest{
			PlayerID: id, BonusType: "goal", BaseAmount: 50, PerformanceMultiplier: multiplier,
		})
		require.NoError(t, err)
	}
	_, err := env.svc.RunWeeklyAnalysis(ctx, 4)
	require.NoError(t, err)

	before := env.svc.state()
	require.Len(t, before.Metrics.BonusSamples, 2)
	require.NotEmpty(t, before.Metrics.EfficacyScores)
	require.NotEmpty(t, before.Metrics.InflationHistory[domain.CurrencySoft])

	_, err = env.transact(t, id, "premium", -30)
	require.NoError(t, err)
	w, _ := env.svc.Wallet(id)
	require.Equal(t, int64(20), w.Balance(domain.CurrencyPremium))

	result, err := env.svc.RollbackLastTransaction(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Players)
	assert.Equal(t, 1, env.mirror.rollbacks)

	after := env.svc.state()
	assert.Equal(t, before.Wallets[id].Balances, after.Wallets[id].Balances)
	assert.Equal(t, before.Metrics.WeeklyDeltas, after.Metrics.WeeklyDeltas)
	assert.Equal(t, before.Metrics.Distribution, after.Metrics.Distribution)
	assert.Equal(t, before.Metrics.BonusSamples, after.Metrics.BonusSamples)
	assert.Equal(t, before.Metrics.BonusTotals, after.Metrics.BonusTotals)
	assert.Equal(t, before.Metrics.BonusPlayers, after.Metrics.BonusPlayers)
	assert.Equal(t, before.Metrics.EfficacyScores, after.Metrics.EfficacyScores)
	assert.Equal(t, before.Metrics.InflationHistory, after.Metrics.InflationHistory)
	assert.Len(t, after.Metrics.History[domain.CurrencyPremium], 0)
	assert.Equal(t, int64(50), env.mirror.wallets[id].Balance(domain.CurrencyPremium))
}

func TestApplyBonus_SurvivesLaterRollbackAndReload(t *testing.T) {
	dir := t.TempDir()
	env := newTestEnv(t, dir)
	id := env.createPlayer(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := env.svc.ApplyBonus(ctx, domain.BonusRequest{
			PlayerID: id, BonusType: "goal", BaseAmount: 100, PerformanceMultiplier: 1,
		})
		require.NoError(t, err)
	}
	_, err := env.transact(t, id, "premium", -10)
	require.NoError(t, err)

	_, err = env.svc.RollbackLastTransaction(ctx)
	require.NoError(t, err)

	state := env.svc.state()
	assert.Len(t, state.Metrics.BonusSamples, 2)
	assert.Equal(t, map[string]int64{"goal": 200}, state.Metrics.BonusTotals[id])
	w, _ := env.svc.Wallet(id)
	assert.Equal(t, int64(1200), w.Balance(domain.CurrencySoft))

	// rolling back the bonus itself drops its sample
	_, err = env.svc.RollbackLastTransaction(ctx)
	require.NoError(t, err)
	assert.Len(t, env.svc.state().Metrics.BonusSamples, 1)

	require.NoError(t, env.journal.Close())
	reloaded := newTestEnv(t, dir)
	analytics := reloaded.svc.Metrics().BonusAnalytics()
	assert.Equal(t, int64(100), analytics.TotalsByType["goal"])
	assert.Equal(t, 1, analytics.CountsByType["goal"])
}

func TestCreatePlayer_ExplicitZeroCap(t *testing.T) {
	env := newTestEnv(t, t.TempDir())
	zero := int64(0)

	created, err := env.svc.CreatePlayer(context.Background(), domain.CreatePlayerRequest{
		Balances:          map[string]int64{"soft": 10, "premium": 0, "coaching_credit": 0},
		CoachingCreditCap: &zero,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), created.Wallet.Caps[domain.CappedCurrency])

	// default starting credits exceed a zero cap
	_, err = env.svc.CreatePlayer(context.Background(), domain.CreatePlayerRequest{CoachingCreditCap: &zero})
	assert.ErrorIs(t, err, domain.ErrInvalidCap)
}

func TestUnguardedTransactionsSerializeWithGuardedOnes(t *testing.T) {
	env := newTestEnv(t, t.TempDir())
	id := env.createPlayer(t)
	off := false

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := domain.TransactionRequest{PlayerID: id, Currency: "soft", Amount: 1, Source: "Test"}
			if i%2 == 0 {
				req.AllowRollback = &off
			}
			_, err := env.svc.ProcessTransaction(context.Background(), req)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	// the last guarded transaction's backup was taken after every
	// earlier mutation was saved, so one rollback undoes at most the
	// transactions that followed it
	result, err := env.svc.RollbackLastTransaction(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 9, result.RemainingBackups)

	w, _ := env.svc.Wallet(id)
	soft := w.Balance(domain.CurrencySoft)
	assert.GreaterOrEqual(t, soft, int64(1009))
	assert.Less(t, soft, int64(1020))
	assert.Equal(t, soft, env.svc.Metrics().Distribution(domain.CurrencySoft)[id])
}

func TestProcessTransaction_WithoutRollbackPushesNoBackup(t *testing.T) {
	env := newTestEnv(t, t.TempDir())
	id := env.createPlayer(t)

	off := false
	_, err := env.svc.ProcessTransaction(context.Background(), domain.TransactionRequest{
		PlayerID: id, Currency: "soft", Amount: 10, Source: "Test", AllowRollback: &off,
	})
	require.NoError(t, err)

	_, err = env.svc.RollbackLastTransaction(context.Background())
	assert.ErrorIs(t, err, domain.ErrNothingToRollback)
}

func TestDistributionMatchesLedger(t *testing.T) {
	env := newTestEnv(t, t.TempDir())

	var ids []string
	for i := 0; i < 4; i++ {
		ids = append(ids, env.createPlayer(t))
	}

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			amount := int64(37)
			if i%3 == 0 {
				amount = -120
			}
			_, _ = env.transact(t, ids[i%len(ids)], []string{"soft", "gems", "credits"}[i%3], amount)
		}(i)
	}
	wg.Wait()

	for _, c := range domain.Currencies {
		dist := env.svc.Metrics().Distribution(c)
		for _, id := range ids {
			w, err := env.svc.Wallet(id)
			require.NoError(t, err)
			assert.Equal(t, w.Balance(c), dist[id], "player %s currency %s", id, c)
		}
	}
}

func TestApplyBonus(t *testing.T) {
	env := newTestEnv(t, t.TempDir())
	id := env.createPlayer(t)

	result, err := env.svc.ApplyBonus(context.Background(), domain.BonusRequest{
		PlayerID: id, BonusType: "goal", BaseAmount: 100, PerformanceMultiplier: 1.255,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(126), result.BonusAmount)
	assert.Equal(t, int64(126), result.AppliedAmount)

	w, _ := env.svc.Wallet(id)
	assert.Equal(t, int64(1126), w.Balance(domain.CurrencySoft))

	records, err := env.svc.Journal(id)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "ContractBonus_goal", records[0].Source)

	analytics := env.svc.Metrics().BonusAnalytics()
	assert.Equal(t, int64(126), analytics.TotalsByType["goal"])

	_, err = env.svc.ApplyBonus(context.Background(), domain.BonusRequest{PlayerID: id, BonusType: "goal", BaseAmount: 0, PerformanceMultiplier: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = env.svc.ApplyBonus(context.Background(), domain.BonusRequest{PlayerID: id, BaseAmount: 10, PerformanceMultiplier: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestRunWeeklyAnalysis(t *testing.T) {
	env := newTestEnv(t, t.TempDir())
	id := env.createPlayer(t)

	start := env.clock
	for i, amount := range []int64{100, 100, 100, 400} {
		env.clock = start.AddDate(0, 0, 7*i)
		_, err := env.transact(t, id, "soft", amount)
		require.NoError(t, err)
	}

	report, err := env.svc.RunWeeklyAnalysis(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, int64(400), report.Deltas[domain.CurrencySoft])
	assert.True(t, report.Inflation[domain.CurrencySoft].IsInflated)
	assert.InDelta(t, 3.0, report.Inflation[domain.CurrencySoft].Rate, 1e-9)
	require.Contains(t, report.Mitigation, domain.CurrencySoft)
	assert.Len(t, report.Mitigation[domain.CurrencySoft].Strategies, 3)
	assert.NotContains(t, report.Mitigation, domain.CurrencyPremium)
	assert.LessOrEqual(t, len(report.Alerts), analysisAlertLimit)
	assert.NotEmpty(t, env.mirror.alerts)

	_, err = env.svc.RunWeeklyAnalysis(context.Background(), 0)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestGetDashboardAndSummary(t *testing.T) {
	env := newTestEnv(t, t.TempDir())
	a := env.createPlayer(t)
	env.createPlayer(t)
	_, err := env.transact(t, a, "soft", 501)
	require.NoError(t, err)

	dashboard := env.svc.GetDashboard(context.Background())
	assert.Contains(t, dashboard.EconomicHealth.ResourceScarcity, domain.CurrencySoft)

	summary := env.svc.EconomySummary(context.Background())
	assert.Equal(t, 2, summary.Players)
	assert.Equal(t, 1, summary.Transactions)
	soft := summary.Currencies[domain.CurrencySoft]
	assert.Equal(t, int64(2501), soft.Total)
	assert.InDelta(t, 1250.5, soft.Average, 1e-9)
	assert.Equal(t, int64(1000), soft.Min)
	assert.Equal(t, int64(1501), soft.Max)
}

func TestCheckpointsAndReload(t *testing.T) {
	dir := t.TempDir()
	env := newTestEnv(t, dir)
	id := env.createPlayer(t)

	saved := env.svc.SaveGame(context.Background(), "week_1")
	require.True(t, saved.Saved)

	_, err := env.transact(t, id, "soft", -400)
	require.NoError(t, err)

	require.NoError(t, env.svc.LoadCheckpoint(context.Background(), "week_1"))
	w, _ := env.svc.Wallet(id)
	assert.Equal(t, int64(1000), w.Balance(domain.CurrencySoft))

	err = env.svc.LoadCheckpoint(context.Background(), "week_9")
	assert.ErrorIs(t, err, domain.ErrCheckpointNotFound)

	_, err = env.transact(t, id, "gems", 7)
	require.NoError(t, err)

	// a second service over the same directory sees the saved economy
	require.NoError(t, env.journal.Close())
	reloaded := newTestEnv(t, dir)
	w, err = reloaded.svc.Wallet(id)
	require.NoError(t, err)
	assert.Equal(t, int64(57), w.Balance(domain.CurrencyPremium))
	assert.Equal(t, int64(57), reloaded.svc.Metrics().Distribution(domain.CurrencyPremium)[id])
}

func TestTopHolders_FallsBackToLedger(t *testing.T) {
	env := newTestEnv(t, t.TempDir())
	a := env.createPlayer(t)
	b := env.createPlayer(t)
	_, err := env.transact(t, b, "soft", 10)
	require.NoError(t, err)

	holders, err := env.svc.TopHolders(context.Background(), "coins", 5)
	require.NoError(t, err)
	require.Len(t, holders, 2)
	assert.Equal(t, b, holders[0].PlayerID)
	assert.Equal(t, int64(1), holders[0].Rank)
	assert.Equal(t, a, holders[1].PlayerID)

	_, err = env.svc.TopHolders(context.Background(), "gold", 5)
	assert.ErrorIs(t, err, domain.ErrUnsupportedCurrency)
}
