package persistence

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/resource-economy/internal/config"
	"github.com/resource-economy/internal/domain"
	"github.com/vadiminshakov/gowal"
)

const journalKeyPrefix = "transactions_"

// journalBatch is one WAL entry: a run of records for a single currency
type journalBatch struct {
	Currency  domain.Currency            `json:"currency"`
	FlushedAt time.Time                  `json:"flushed_at"`
	Records   []domain.TransactionRecord `json:"records"`
}

// Journal is the append-only audit trail of every accepted and rejected
// transaction. Records are buffered per currency and written to the WAL in
// batches. Journal failures never propagate to the mutation that produced
// the record.
type Journal struct {
	wal       *gowal.Wal
	flushSize int
	logger    *slog.Logger

	mu      sync.Mutex
	pending map[domain.Currency][]domain.TransactionRecord
	closed  bool
}

// NewJournal opens (or recovers) the journal WAL
func NewJournal(cfg *config.StorageConfig, logger *slog.Logger) (*Journal, error) {
	dir := cfg.JournalDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating journal dir: %w", err)
	}

	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           "journal_",
		SegmentThreshold: cfg.JournalSegmentThreshold,
		MaxSegments:      cfg.JournalMaxSegments,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening journal wal: %w", err)
	}

	flushSize := cfg.JournalFlushSize
	if flushSize <= 0 {
		flushSize = 10
	}

	return &Journal{
		wal:       wal,
		flushSize: flushSize,
		logger:    logger,
		pending:   make(map[domain.Currency][]domain.TransactionRecord),
	}, nil
}

// Append buffers a record and flushes its currency batch once full
func (j *Journal) Append(record domain.TransactionRecord) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		j.logger.Warn("journal closed, dropping record", "transaction_id", record.ID)
		return
	}
	j.pending[record.Currency] = append(j.pending[record.Currency], record)
	if len(j.pending[record.Currency]) >= j.flushSize {
		j.flushLocked(record.Currency)
	}
}

// Flush writes every buffered batch
func (j *Journal) Flush() {
	j.mu.Lock()
	defer j.mu.Unlock()

	for c := range j.pending {
		j.flushLocked(c)
	}
}

// Pending returns the number of buffered records
func (j *Journal) Pending() int {
	j.mu.Lock()
	defer j.mu.Unlock()

	n := 0
	for _, records := range j.pending {
		n += len(records)
	}
	return n
}

// Records replays the journal, including buffered records, in write order.
// An empty playerID returns every record.
func (j *Journal) Records(playerID string) ([]domain.TransactionRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var out []domain.TransactionRecord
	var decodeErr error
	for msg := range j.wal.Iterator() {
		if decodeErr != nil || !strings.HasPrefix(msg.Key, journalKeyPrefix) {
			continue
		}
		var batch journalBatch
		if err := json.Unmarshal(msg.Value, &batch); err != nil {
			decodeErr = fmt.Errorf("%w: journal batch %s: %v", domain.ErrPersistenceReadCorrupt, msg.Key, err)
			continue
		}
		out = appendFiltered(out, batch.Records, playerID)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}

	currencies := make([]string, 0, len(j.pending))
	for c := range j.pending {
		currencies = append(currencies, string(c))
	}
	sort.Strings(currencies)
	for _, c := range currencies {
		out = appendFiltered(out, j.pending[domain.Currency(c)], playerID)
	}
	return out, nil
}

// Close flushes buffered records and closes the WAL. Later calls are no-ops.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	for c := range j.pending {
		j.flushLocked(c)
	}
	j.closed = true
	return j.wal.Close()
}

// flushLocked writes one currency batch. Caller holds j.mu.
func (j *Journal) flushLocked(c domain.Currency) {
	records := j.pending[c]
	if len(records) == 0 {
		return
	}

	payload, err := json.Marshal(journalBatch{Currency: c, FlushedAt: time.Now().UTC(), Records: records})
	if err != nil {
		j.logger.Warn("failed to encode journal batch", "currency", c, "error", err)
		return
	}

	if err := j.wal.Write(j.wal.CurrentIndex()+1, journalKeyPrefix+string(c), payload); err != nil {
		// keep the batch buffered so the next flush retries it
		j.logger.Warn("failed to write journal batch", "currency", c, "records", len(records), "error", err)
		return
	}

	delete(j.pending, c)
	j.logger.Debug("flushed journal batch", "currency", c, "records", len(records))
}

func appendFiltered(out, records []domain.TransactionRecord, playerID string) []domain.TransactionRecord {
	for _, r := range records {
		if playerID == "" || r.PlayerID == playerID {
			out = append(out, r)
		}
	}
	return out
}
