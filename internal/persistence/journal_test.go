package persistence

import (
	"testing"
	"time"

	"github.com/resource-economy/internal/config"
	"github.com/resource-economy/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJournal(t *testing.T, dir string) *Journal {
	t.Helper()
	cfg := &config.StorageConfig{
		DataDir:                 dir,
		JournalFlushSize:        10,
		JournalSegmentThreshold: 1000,
		JournalMaxSegments:      100,
	}
	j, err := NewJournal(cfg, testLogger())
	require.NoError(t, err)
	return j
}

func journalRecord(player string, c domain.Currency, delta int64, ok bool) domain.TransactionRecord {
	r := domain.TransactionRecord{
		ID:        player + string(c),
		Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		PlayerID:  player,
		Currency:  c,
		Type:      domain.TransactionEarn,
		Delta:     delta,
		Success:   ok,
	}
	if !ok {
		r.FailureReason = domain.ErrInsufficientFunds.Error()
	}
	return r
}

func TestJournal_FlushesEveryTenRecords(t *testing.T) {
	j := newTestJournal(t, t.TempDir())
	defer j.Close()

	for i := 0; i < 9; i++ {
		j.Append(journalRecord("p1", domain.CurrencySoft, int64(i+1), true))
	}
	assert.Equal(t, 9, j.Pending())

	j.Append(journalRecord("p1", domain.CurrencySoft, 10, true))
	assert.Equal(t, 0, j.Pending())

	// batches are per currency
	j.Append(journalRecord("p1", domain.CurrencyPremium, 1, true))
	assert.Equal(t, 1, j.Pending())

	records, err := j.Records("")
	require.NoError(t, err)
	require.Len(t, records, 11)
	assert.Equal(t, int64(1), records[0].Delta)
	assert.Equal(t, domain.CurrencyPremium, records[10].Currency)
}

func TestJournal_KeepsFailedRecordsAndFiltersByPlayer(t *testing.T) {
	j := newTestJournal(t, t.TempDir())
	defer j.Close()

	j.Append(journalRecord("p1", domain.CurrencySoft, 5, true))
	j.Append(journalRecord("p2", domain.CurrencySoft, 1500, false))

	records, err := j.Records("p2")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.False(t, records[0].Success)
	assert.Equal(t, domain.ErrInsufficientFunds.Error(), records[0].FailureReason)
}

func TestJournal_CloseFlushesAndReopens(t *testing.T) {
	dir := t.TempDir()
	j := newTestJournal(t, dir)
	for i := 0; i < 3; i++ {
		j.Append(journalRecord("p1", domain.CurrencyCoachingCredit, 2, true))
	}
	require.NoError(t, j.Close())

	reopened := newTestJournal(t, dir)
	defer reopened.Close()

	assert.Equal(t, 0, reopened.Pending())
	records, err := reopened.Records("p1")
	require.NoError(t, err)
	assert.Len(t, records, 3)
}
