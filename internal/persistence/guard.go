package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/resource-economy/internal/config"
	"github.com/resource-economy/internal/domain"
)

const (
	// Schema tags every document written by the guard
	Schema = "resource-economy/state"
	// SchemaVersion is the current document version
	SchemaVersion = 1

	primaryFile   = "economy_state.json"
	backupsDir    = "backups"
	checkpointDir = "checkpoints"
	alertsDir     = "alerts"
	reportsDir    = "reports"
	backupPrefix  = "backup_"
)

var checkpointName = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// document is the self-describing envelope around every stored payload
type document struct {
	Schema  string          `json:"schema"`
	Version int             `json:"version"`
	SavedAt time.Time       `json:"saved_at"`
	State   json.RawMessage `json:"state"`
}

// SaveResult reports the outcome of a save. A failed save leaves the state
// only in memory; callers may retry.
type SaveResult struct {
	Saved      bool   `json:"saved"`
	BackupPath string `json:"backup_path,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Guard owns every file the economy writes: the primary state document,
// the bounded rollback stack, named checkpoints, urgent alerts and reports.
type Guard struct {
	dir        string
	maxBackups int
	logger     *slog.Logger
	now        func() time.Time

	mu    sync.Mutex
	stack []string
}

// NewGuard creates the directory layout and rebuilds the rollback stack
// from any backups left by a previous run.
func NewGuard(cfg *config.StorageConfig, logger *slog.Logger) (*Guard, error) {
	g := &Guard{
		dir:        cfg.DataDir,
		maxBackups: cfg.MaxBackups,
		logger:     logger,
		now:        time.Now,
	}
	if g.maxBackups <= 0 {
		g.maxBackups = 10
	}

	for _, d := range []string{g.dir, g.path(backupsDir), g.path(checkpointDir), g.path(alertsDir), g.path(reportsDir)} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("creating storage dir %s: %w", d, err)
		}
	}

	if err := g.loadStack(); err != nil {
		return nil, err
	}
	return g, nil
}

// SetClock overrides the clock used for backup names and envelopes
func (g *Guard) SetClock(now func() time.Time) {
	g.mu.Lock()
	g.now = now
	g.mu.Unlock()
}

// Dir returns the storage root
func (g *Guard) Dir() string {
	return g.dir
}

// Save writes state to the primary store. With withBackup the current
// primary is first pushed onto the rollback stack.
func (g *Guard) Save(state domain.EconomyState, withBackup bool) SaveResult {
	g.mu.Lock()
	defer g.mu.Unlock()

	var result SaveResult
	if withBackup {
		backup, err := g.pushBackup()
		if err != nil {
			g.logger.Warn("failed to create backup", "error", err)
			result.Error = err.Error()
			return result
		}
		result.BackupPath = backup
	}

	if err := g.writeDocument(g.path(primaryFile), state); err != nil {
		g.logger.Warn("failed to save economy state", "error", err)
		result.Error = err.Error()
		return result
	}

	result.Saved = true
	return result
}

// Snapshot pushes a backup of the current primary store onto the rollback
// stack. When no primary exists yet the empty economy is backed up.
func (g *Guard) Snapshot() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pushBackup()
}

// DiscardSnapshot drops the newest backup without restoring it
func (g *Guard) DiscardSnapshot() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.stack) == 0 {
		return domain.ErrNothingToRollback
	}
	last := g.stack[len(g.stack)-1]
	g.stack = g.stack[:len(g.stack)-1]
	if err := os.Remove(last); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing backup: %w", err)
	}
	return nil
}

// Load reads the primary store. found is false when no store exists yet,
// in which case the empty economy is returned.
func (g *Guard) Load() (domain.EconomyState, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.loadState(g.path(primaryFile))
}

// Rollback restores the most recent backup over the primary store and
// returns the restored state. The backup is consumed.
func (g *Guard) Rollback() (domain.EconomyState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.stack) == 0 {
		return domain.EconomyState{}, domain.ErrNothingToRollback
	}

	last := g.stack[len(g.stack)-1]
	state, found, err := g.loadState(last)
	if err == nil && !found {
		err = fmt.Errorf("backup missing")
	}
	if err != nil {
		return domain.EconomyState{}, fmt.Errorf("reading backup %s: %w", filepath.Base(last), err)
	}

	if err := copyFile(last, g.path(primaryFile)); err != nil {
		return domain.EconomyState{}, fmt.Errorf("%w: restoring backup: %v", domain.ErrPersistenceWriteFailed, err)
	}
	g.stack = g.stack[:len(g.stack)-1]

	if err := os.Remove(last); err != nil && !errors.Is(err, os.ErrNotExist) {
		g.logger.Warn("failed to remove consumed backup", "path", last, "error", err)
	}

	g.logger.Info("rolled back to previous state", "backup", filepath.Base(last), "remaining", len(g.stack))
	return state, nil
}

// StackDepth returns the number of restorable backups
func (g *Guard) StackDepth() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.stack)
}

// Checkpoint stores a named snapshot independent of the rollback stack
func (g *Guard) Checkpoint(name string, state domain.EconomyState) error {
	if !checkpointName.MatchString(name) {
		return fmt.Errorf("%w: checkpoint name %q", domain.ErrInvalidRequest, name)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.writeDocument(g.checkpointPath(name), state); err != nil {
		return err
	}
	g.logger.Info("checkpoint created", "name", name)
	return nil
}

// LoadCheckpoint reads a named checkpoint
func (g *Guard) LoadCheckpoint(name string) (domain.EconomyState, error) {
	if !checkpointName.MatchString(name) {
		return domain.EconomyState{}, domain.ErrCheckpointNotFound
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	state, found, err := g.loadState(g.checkpointPath(name))
	if err != nil {
		return domain.EconomyState{}, err
	}
	if !found {
		return domain.EconomyState{}, domain.ErrCheckpointNotFound
	}
	return state, nil
}

// Checkpoints lists stored checkpoint names
func (g *Guard) Checkpoints() ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	entries, err := os.ReadDir(g.path(checkpointDir))
	if err != nil {
		return nil, fmt.Errorf("listing checkpoints: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(names)
	return names, nil
}

// PersistAlert writes an alert to its own document
func (g *Guard) PersistAlert(alert domain.Alert) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	name := fmt.Sprintf("alert_%s_%s.json", strings.ToLower(string(alert.Level)), alert.ID)
	return g.writeDocument(filepath.Join(g.path(alertsDir), name), alert)
}

// StoreReport writes an analysis document as a timestamped report
func (g *Guard) StoreReport(name string, v interface{}) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	file := fmt.Sprintf("%s_%s.json", name, g.now().UTC().Format("20060102T150405.000000000"))
	return g.writeDocument(filepath.Join(g.path(reportsDir), file), v)
}

// pushBackup copies the primary store to a new backup and evicts the
// oldest entry past the bound. Caller holds g.mu.
func (g *Guard) pushBackup() (string, error) {
	backup := g.path(backupsDir, fmt.Sprintf("%s%d.json", backupPrefix, g.nextBackupStamp()))

	err := copyFile(g.path(primaryFile), backup)
	if errors.Is(err, os.ErrNotExist) {
		err = g.writeDocument(backup, domain.NewEconomyState())
	}
	if err != nil {
		return "", fmt.Errorf("%w: writing backup: %v", domain.ErrPersistenceWriteFailed, err)
	}

	g.stack = append(g.stack, backup)
	for len(g.stack) > g.maxBackups {
		oldest := g.stack[0]
		g.stack = g.stack[1:]
		if err := os.Remove(oldest); err != nil && !errors.Is(err, os.ErrNotExist) {
			g.logger.Warn("failed to evict backup", "path", oldest, "error", err)
		}
	}
	return backup, nil
}

// nextBackupStamp returns a strictly increasing stamp so backups sort in
// push order even when the clock does not advance
func (g *Guard) nextBackupStamp() int64 {
	stamp := g.now().UnixNano()
	if n := len(g.stack); n > 0 {
		if last := backupStamp(g.stack[n-1]); stamp <= last {
			stamp = last + 1
		}
	}
	return stamp
}

func (g *Guard) loadStack() error {
	entries, err := os.ReadDir(g.path(backupsDir))
	if err != nil {
		return fmt.Errorf("reading backups: %w", err)
	}

	var backups []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), backupPrefix) || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		backups = append(backups, g.path(backupsDir, e.Name()))
	}
	sort.Slice(backups, func(i, j int) bool { return backupStamp(backups[i]) < backupStamp(backups[j]) })

	for len(backups) > g.maxBackups {
		if err := os.Remove(backups[0]); err != nil && !errors.Is(err, os.ErrNotExist) {
			g.logger.Warn("failed to evict backup", "path", backups[0], "error", err)
		}
		backups = backups[1:]
	}
	g.stack = backups

	if len(backups) > 0 {
		g.logger.Info("recovered rollback stack", "depth", len(backups))
	}
	return nil
}

func (g *Guard) loadState(path string) (domain.EconomyState, bool, error) {
	var state domain.EconomyState
	found, err := readDocument(path, &state)
	if err != nil || !found {
		return domain.NewEconomyState(), found, err
	}
	normalize(&state)
	return state, true, nil
}

func (g *Guard) writeDocument(path string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encoding: %v", domain.ErrPersistenceWriteFailed, err)
	}

	doc, err := json.MarshalIndent(document{
		Schema:  Schema,
		Version: SchemaVersion,
		SavedAt: g.now().UTC(),
		State:   payload,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encoding envelope: %v", domain.ErrPersistenceWriteFailed, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, doc, 0o644); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistenceWriteFailed, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistenceWriteFailed, err)
	}
	return nil
}

func (g *Guard) path(elem ...string) string {
	return filepath.Join(append([]string{g.dir}, elem...)...)
}

func (g *Guard) checkpointPath(name string) string {
	return g.path(checkpointDir, name+".json")
}

// readDocument decodes an envelope into v. A missing file is not an error.
func readDocument(path string, v interface{}) (bool, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}

	var doc document
	if err := json.Unmarshal(payload, &doc); err != nil {
		return false, fmt.Errorf("%w: %s: %v", domain.ErrPersistenceReadCorrupt, filepath.Base(path), err)
	}
	if doc.Schema != Schema || doc.Version < 1 || doc.Version > SchemaVersion {
		return false, fmt.Errorf("%w: %s: schema %q version %d", domain.ErrPersistenceReadCorrupt, filepath.Base(path), doc.Schema, doc.Version)
	}
	if err := json.Unmarshal(doc.State, v); err != nil {
		return false, fmt.Errorf("%w: %s: %v", domain.ErrPersistenceReadCorrupt, filepath.Base(path), err)
	}
	return true, nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, dst)
}

func backupStamp(path string) int64 {
	name := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(path), backupPrefix), ".json")
	n, _ := strconv.ParseInt(name, 10, 64)
	return n
}

// normalize allocates maps a decoded document may have left nil
func normalize(state *domain.EconomyState) {
	if state.Wallets == nil {
		state.Wallets = make(map[string]domain.Wallet)
	}
	m := &state.Metrics
	if m.History == nil {
		m.History = make(map[domain.Currency][]domain.TransactionRecord)
	}
	if m.WeeklyDeltas == nil {
		m.WeeklyDeltas = make(map[domain.Currency]map[int]int64)
	}
	if m.Distribution == nil {
		m.Distribution = make(map[domain.Currency]map[string]int64)
	}
	if m.DistributionSeq == nil {
		m.DistributionSeq = make(map[domain.Currency][]string)
	}
	if m.BonusTotals == nil {
		m.BonusTotals = make(map[string]map[string]int64)
	}
	if m.EfficacyScores == nil {
		m.EfficacyScores = make(map[string]float64)
	}
	if m.InflationHistory == nil {
		m.InflationHistory = make(map[domain.Currency][]domain.InflationSample)
	}
}
