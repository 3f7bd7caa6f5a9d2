package coordinator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/objectfs/vaultstore/internal/cache"
	"github.com/objectfs/vaultstore/internal/config"
	"github.com/objectfs/vaultstore/internal/conflict"
	"github.com/objectfs/vaultstore/internal/journal"
	"github.com/objectfs/vaultstore/internal/metadata"
	"github.com/objectfs/vaultstore/internal/metrics"
	"github.com/objectfs/vaultstore/internal/monitoring"
	"github.com/objectfs/vaultstore/internal/security"
	"github.com/objectfs/vaultstore/internal/storage"
	"github.com/objectfs/vaultstore/internal/transaction"
	"github.com/objectfs/vaultstore/pkg/errors"
	"github.com/objectfs/vaultstore/pkg/types"
	"github.com/objectfs/vaultstore/pkg/utils"
)

// Operation names reported to metrics and used in error context.
const (
	OpCreateFile = "create_file"
	OpReadFile   = "read_file"
	OpWriteFile  = "write_file"
	OpRecover    = "recover"
)

// Options configures a Coordinator. Only Config is required; the remaining collaborators
// are built from it when nil.
type Options struct {
	Config    *config.Configuration
	Backend   types.Backend
	Journal   types.Journal
	Collector *metrics.Collector
	Logger    *zap.Logger
	Now       func() time.Time
}

// Coordinator orchestrates sessions, locks, transactions, content and metadata.
type Coordinator struct {
	// opMu is held shared by every file operation and exclusively by state transitions,
	// so Shutdown and EnterMaintenance wait for in-flight work.
	opMu  sync.RWMutex
	state State

	config *config.Configuration
	root   string

	backend      types.Backend
	journal      types.Journal
	table        *metadata.Table
	cache        *cache.Manager
	security     *security.Manager
	conflicts    *conflict.Manager
	transactions *transaction.Manager
	monitor      *monitoring.System
	collector    *metrics.Collector
	files        *fileMutex

	completed atomic.Uint64
	failed    atomic.Uint64

	logger *zap.Logger
	now    func() time.Time
}

// New creates a coordinator in the STARTING state.
func New(ctx context.Context, opts Options) (*Coordinator, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.NewDefault()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	collector := opts.Collector
	if collector == nil {
		var err error
		collector, err = metrics.NewCollector(&metrics.Config{
			Enabled:   true,
			Addr:      cfg.Monitoring.MetricsAddr,
			Namespace: cfg.Monitoring.Namespace,
			Logger:    logger.Named("metrics"),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics collector: %w", err)
		}
	}

	backend := opts.Backend
	if backend == nil {
		var err error
		backend, err = storage.New(ctx, cfg.Store, logger.Named("storage"))
		if err != nil {
			return nil, err
		}
	}

	jrnl := opts.Journal
	if jrnl == nil && cfg.Journal.Enabled {
		opened, err := journal.Open(cfg.JournalDir(), logger.Named("journal"))
		if err != nil {
			_ = backend.Close()
			return nil, err
		}
		jrnl = opened
	}

	cacheManager, err := cache.New(&cache.Config{
		Capacity: cfg.Cache.Capacity,
		TTL:      cfg.Cache.TTL,
		Logger:   logger.Named("cache"),
		Now:      now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}

	monitor := monitoring.NewSystem(monitoring.Config{
		MaxFailedOperations: cfg.Monitoring.MaxFailedOperations,
		MinCacheHitRate:     cfg.Monitoring.MinCacheHitRate,
		Collector:           collector,
		Logger:              logger.Named("monitoring"),
		Now:                 now,
	})

	c := &Coordinator{
		state:     StateStarting,
		config:    cfg,
		root:      cfg.Store.Root,
		backend:   backend,
		journal:   jrnl,
		table:     metadata.NewTable(jrnl, logger.Named("metadata")),
		cache:     cacheManager,
		collector: collector,
		monitor:   monitor,
		security: security.NewManager(security.Config{
			SessionTTL:        cfg.Security.SessionTTL,
			MaxFailedAttempts: cfg.Security.MaxFailedAttempts,
			LockoutWindow:     cfg.Security.LockoutWindow,
			RateLimit:         cfg.Security.RateLimit,
			RateWindow:        cfg.Security.RateWindow,
			Logger:            logger.Named("security"),
			Now:               now,
			EventSink:         monitor.RecordSecurityEvent,
		}),
		conflicts: conflict.NewManager(conflict.Config{
			LockTimeout: cfg.Locking.LockTimeout,
			Journal:     jrnl,
			Logger:      logger.Named("conflict"),
			Now:         now,
		}),
		transactions: transaction.NewManager(transaction.Config{
			MaxHistory: cfg.Transactions.MaxHistory,
			Now:        now,
		}),
		files:  newFileMutex(),
		logger: logger,
		now:    now,
	}

	return c, nil
}

// Start loads persisted metadata and moves the coordinator to RUNNING.
func (c *Coordinator) Start(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.state != StateStarting {
		return c.stateError("start")
	}

	if err := os.MkdirAll(c.root, 0750); err != nil {
		return errors.Wrap(err, errors.ErrCodeIOFailure, "failed to create root").
			WithComponent("coordinator").
			WithOperation("start").
			WithContext("root", c.root)
	}

	if err := c.table.Load(c.snapshotPath()); err != nil {
		return err
	}

	if c.journal != nil {
		records, err := c.journal.Records()
		if err != nil {
			return err
		}
		restored := c.table.Restore(records)

		versions, err := c.journal.Versions()
		if err != nil {
			return err
		}
		c.conflicts.Restore(versions)

		c.logger.Info("Journal replayed",
			zap.Int("records_restored", restored),
			zap.Int("versioned_files", len(versions)))
	}

	if err := c.collector.Start(ctx); err != nil {
		return fmt.Errorf("failed to start metrics endpoint: %w", err)
	}

	c.state = StateRunning
	c.logger.Info("Storage coordinator started",
		zap.String("root", c.root),
		zap.String("backend", c.config.Store.Backend),
		zap.Int("files", c.table.Len()),
		zap.Bool("journal", c.journal != nil))
	return nil
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.opMu.RLock()
	defer c.opMu.RUnlock()
	return c.state
}

// EnterMaintenance stops accepting file operations once in-flight ones finish.
func (c *Coordinator) EnterMaintenance() error {
	return c.transition("enter_maintenance", StateRunning, StateMaintenance)
}

// ExitMaintenance resumes file operations.
func (c *Coordinator) ExitMaintenance() error {
	return c.transition("exit_maintenance", StateMaintenance, StateRunning)
}

func (c *Coordinator) transition(op string, from, to State) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.state != from {
		return c.stateError(op)
	}
	c.state = to
	c.logger.Info("State changed", zap.Stringer("from", from), zap.Stringer("to", to))
	return nil
}

// CreateSession issues a session for userID. Lockout and rate limiting surface as
// SECURITY_LOCKOUT and RATE_LIMITED.
func (c *Coordinator) CreateSession(userID string) (string, error) {
	return c.security.CreateSession(userID)
}

// CreateFile stores data under its content hash and returns the hash. Creating content
// that is already stored unchanged returns the same id; creating content whose file has
// since been rewritten fails with FILE_EXISTS.
func (c *Coordinator) CreateFile(ctx context.Context, sessionID string, data []byte, level types.SecurityLevel) (string, error) {
	start := time.Now()
	id, err := c.createFile(ctx, sessionID, data, level)
	c.observe(OpCreateFile, start, int64(len(data)), err)
	return id, err
}

func (c *Coordinator) createFile(ctx context.Context, sessionID string, data []byte, level types.SecurityLevel) (string, error) {
	c.opMu.RLock()
	defer c.opMu.RUnlock()

	if c.state != StateRunning {
		return "", c.stateError(OpCreateFile)
	}
	userID, err := c.authorize(sessionID, OpCreateFile)
	if err != nil {
		return "", err
	}
	if !level.Valid() {
		return "", errors.Newf(errors.ErrCodeInvalidConfig, "invalid security level %d", int(level)).
			WithComponent("coordinator").
			WithOperation(OpCreateFile)
	}

	id := utils.ContentHash(data)
	unlock := c.files.Lock(id)
	defer unlock()

	txID := c.transactions.Begin(userID)

	if existing, ok := c.table.Get(id); ok {
		if existing.Checksum == id {
			c.transactions.Commit(txID)
			c.logger.Debug("Create of existing content", zap.String("file_id", id), zap.String("user", userID))
			return id, nil
		}
		c.transactions.Rollback(txID)
		return "", errors.New(errors.ErrCodeFileExists, "file exists with different content").
			WithComponent("coordinator").
			WithOperation(OpCreateFile).
			WithContext("file_id", id)
	}

	c.recordOperation(txID, "create", id)

	if err := c.backend.Write(ctx, id, data); err != nil {
		c.transactions.Rollback(txID)
		return "", err
	}

	now := c.now()
	c.table.Put(types.FileRecord{
		ID:            id,
		Path:          c.backend.Location(id),
		Created:       now,
		Modified:      now,
		SecurityLevel: level,
		Checksum:      id,
		Size:          int64(len(data)),
	})
	c.transactions.Commit(txID)

	c.populateCache(id, data)

	c.logger.Debug("File created",
		zap.String("file_id", id),
		zap.String("user", userID),
		zap.Stringer("level", level),
		zap.Int("size", len(data)))
	return id, nil
}

// ReadFile returns the current content of id, from the cache when possible.
func (c *Coordinator) ReadFile(ctx context.Context, id, sessionID string) ([]byte, error) {
	start := time.Now()
	data, err := c.readFile(ctx, id, sessionID)
	c.observe(OpReadFile, start, int64(len(data)), err)
	return data, err
}

func (c *Coordinator) readFile(ctx context.Context, id, sessionID string) ([]byte, error) {
	c.opMu.RLock()
	defer c.opMu.RUnlock()

	if c.state != StateRunning {
		return nil, c.stateError(OpReadFile)
	}
	if _, err := c.authorize(sessionID, OpReadFile); err != nil {
		return nil, err
	}
	if _, ok := c.table.Get(id); !ok {
		return nil, notFound(OpReadFile, id)
	}

	if data, ok := c.cache.Get(id); ok {
		c.collector.RecordCacheLookup(true)
		return data, nil
	}
	c.collector.RecordCacheLookup(false)

	data, err := c.backend.Read(ctx, id)
	if err != nil {
		return nil, err
	}
	c.fillCache(id, data)
	return data, nil
}

// fillCache caches bytes read from the backend only while they still match the record.
// A write that committed after the read has already cached its own content.
func (c *Coordinator) fillCache(id string, data []byte) {
	unlock := c.files.Lock(id)
	defer unlock()

	record, ok := c.table.Get(id)
	if !ok || record.Checksum != utils.ContentHash(data) {
		c.logger.Debug("Skipping cache fill for superseded content", zap.String("file_id", id))
		return
	}
	c.populateCache(id, data)
}

// WriteFile replaces the content of an existing file. The per-file conflict lock is taken
// without waiting; a live lock held by another user fails with LOCK_CONTENDED. Writes the
// lock admits are applied one at a time per file.
func (c *Coordinator) WriteFile(ctx context.Context, id, sessionID string, data []byte) error {
	start := time.Now()
	err := c.writeFile(ctx, id, sessionID, data)
	c.observe(OpWriteFile, start, int64(len(data)), err)
	return err
}

func (c *Coordinator) writeFile(ctx context.Context, id, sessionID string, data []byte) error {
	c.opMu.RLock()
	defer c.opMu.RUnlock()

	if c.state != StateRunning {
		return c.stateError(OpWriteFile)
	}
	userID, err := c.authorize(sessionID, OpWriteFile)
	if err != nil {
		return err
	}

	if !c.conflicts.AcquireLock(id, userID) {
		holder, _ := c.conflicts.LockHolder(id)
		return errors.New(errors.ErrCodeLockContended, "file is locked by another user").
			WithComponent("coordinator").
			WithOperation(OpWriteFile).
			WithContext("file_id", id).
			WithContext("holder", holder)
	}
	defer c.conflicts.ReleaseLock(id, userID)

	unlock := c.files.Lock(id)
	defer unlock()

	txID := c.transactions.Begin(userID)

	record, ok := c.table.Get(id)
	if !ok {
		c.transactions.Rollback(txID)
		return notFound(OpWriteFile, id)
	}

	c.recordOperation(txID, "write", id)
	versionID := c.conflicts.CreateVersion(id, data)

	if err := c.backend.Write(ctx, id, data); err != nil {
		c.transactions.Rollback(txID)
		return err
	}

	record.Modified = c.now()
	record.Checksum = versionID
	record.Size = int64(len(data))
	c.table.Put(record)
	c.transactions.Commit(txID)

	c.populateCache(id, data)

	c.logger.Debug("File written",
		zap.String("file_id", id),
		zap.String("version", versionID),
		zap.String("user", userID),
		zap.Int("size", len(data)))
	return nil
}

// Stat returns the metadata record for id.
func (c *Coordinator) Stat(id string) (types.FileRecord, error) {
	c.opMu.RLock()
	defer c.opMu.RUnlock()

	if c.state != StateRunning {
		return types.FileRecord{}, c.stateError("stat")
	}
	record, ok := c.table.Get(id)
	if !ok {
		return types.FileRecord{}, notFound("stat", id)
	}
	return record, nil
}

// Versions returns the content hashes written to id, oldest first. Like Files and
// CollectMetrics it reads in-memory state and answers in every lifecycle state, so the
// history and a final metrics snapshot stay available after Shutdown.
func (c *Coordinator) Versions(id string) []string {
	return c.conflicts.Versions(id)
}

// Files returns every stored identifier in sorted order, in any state.
func (c *Coordinator) Files() []string {
	return c.table.IDs()
}

// RegisterAlertCallback adds cb to the monitoring system's alert callbacks.
func (c *Coordinator) RegisterAlertCallback(cb monitoring.AlertCallback) {
	c.monitor.RegisterAlertCallback(cb)
}

// Monitor returns the monitoring system.
func (c *Coordinator) Monitor() *monitoring.System {
	return c.monitor
}

// Collector returns the metrics collector.
func (c *Coordinator) Collector() *metrics.Collector {
	return c.collector
}

// Transaction returns a transaction by id, active or archived.
func (c *Coordinator) Transaction(id string) (transaction.Transaction, bool) {
	return c.transactions.Get(id)
}

// CollectMetrics builds a system snapshot and records it with the monitoring system,
// which raises an alert when a threshold is crossed. It is usable in any state; after
// Shutdown the cache figures describe the emptied cache.
func (c *Coordinator) CollectMetrics() types.SystemMetrics {
	stats := c.cache.Stats()
	m := types.SystemMetrics{
		Timestamp:           c.now(),
		FileCount:           c.table.Len(),
		CacheEntries:        stats.Entries,
		CacheHits:           stats.Hits,
		CacheMisses:         stats.Misses,
		CacheHitRate:        stats.HitRate,
		ActiveSessions:      c.security.ActiveSessions(),
		ActiveLocks:         c.conflicts.ActiveLocks(),
		ActiveTransactions:  c.transactions.Active(),
		CompletedOperations: c.completed.Load(),
		FailedOperations:    c.failed.Load(),
	}
	c.monitor.RecordMetrics(m)
	return m
}

// Recover re-creates records for content the backend holds but the metadata table does
// not, closing the gap left by a crash between a content write and a snapshot. The
// backend must support listing. Recovered records are PUBLIC and timestamped now.
func (c *Coordinator) Recover(ctx context.Context) (int, error) {
	start := time.Now()
	n, err := c.recover(ctx)
	c.observe(OpRecover, start, 0, err)
	return n, err
}

func (c *Coordinator) recover(ctx context.Context) (int, error) {
	c.opMu.RLock()
	defer c.opMu.RUnlock()

	if c.state != StateRunning && c.state != StateMaintenance {
		return 0, c.stateError(OpRecover)
	}

	lister, ok := c.backend.(storage.Lister)
	if !ok {
		return 0, errors.New(errors.ErrCodeBackendUnavailable, "backend does not support listing").
			WithComponent("coordinator").
			WithOperation(OpRecover)
	}

	ids, err := lister.List(ctx)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, id := range ids {
		if c.recoverOne(ctx, id) {
			recovered++
		}
	}
	return recovered, nil
}

func (c *Coordinator) recoverOne(ctx context.Context, id string) bool {
	unlock := c.files.Lock(id)
	defer unlock()

	if _, ok := c.table.Get(id); ok {
		return false
	}
	data, err := c.backend.Read(ctx, id)
	if err != nil {
		c.logger.Warn("Skipping unreadable orphan", zap.String("file_id", id), zap.Error(err))
		return false
	}

	now := c.now()
	c.table.Put(types.FileRecord{
		ID:            id,
		Path:          c.backend.Location(id),
		Created:       now,
		Modified:      now,
		SecurityLevel: types.Public,
		Checksum:      utils.ContentHash(data),
		Size:          int64(len(data)),
	})
	c.logger.Info("Recovered orphaned file", zap.String("file_id", id), zap.Int("size", len(data)))
	return true
}

// Shutdown waits for in-flight operations, clears and closes the cache, persists the metadata
// snapshot and closes the journal and backend. It is idempotent.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.state == StateShutdown {
		return nil
	}
	previous := c.state
	c.state = StateShutdown
	c.logger.Info("Shutting down storage coordinator", zap.Stringer("from", previous))

	c.cache.Close()

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	// A coordinator that never started has nothing loaded, and snapshotting would
	// overwrite whatever is on disk with an empty table.
	if previous != StateStarting {
		keep(c.table.Snapshot(c.snapshotPath()))
	}
	if c.journal != nil {
		keep(c.journal.Close())
	}
	keep(c.backend.Close())
	keep(c.collector.Stop(ctx))

	if firstErr != nil {
		c.logger.Error("Shutdown completed with errors", zap.Error(firstErr))
		return firstErr
	}
	c.logger.Info("Storage coordinator stopped")
	return nil
}

func (c *Coordinator) snapshotPath() string {
	return filepath.Join(c.root, metadata.SnapshotFile)
}

func (c *Coordinator) authorize(sessionID, op string) (string, error) {
	userID, ok := c.security.SessionUser(sessionID)
	if !ok {
		return "", errors.New(errors.ErrCodeSessionInvalid, "invalid or expired session").
			WithComponent("coordinator").
			WithOperation(op)
	}
	return userID, nil
}

func (c *Coordinator) recordOperation(txID, opType, fileID string) {
	err := c.transactions.RecordOperation(txID, transaction.Operation{
		Type:      opType,
		FileID:    fileID,
		Timestamp: c.now(),
	})
	if err != nil {
		c.logger.Warn("Failed to record transaction operation", zap.String("transaction", txID), zap.Error(err))
	}
}

func (c *Coordinator) populateCache(id string, data []byte) {
	if err := c.cache.Put(id, data, c.config.Cache.Compression); err != nil {
		c.logger.Warn("Failed to cache file", zap.String("file_id", id), zap.Error(err))
	}
}

func (c *Coordinator) observe(op string, start time.Time, size int64, err error) {
	c.collector.RecordOperation(op, time.Since(start), size, err)
	if err != nil {
		c.failed.Add(1)
		c.logger.Debug("Operation failed", zap.String("operation", op), zap.Error(err))
		return
	}
	c.completed.Add(1)
}

// stateError must be called with opMu held.
func (c *Coordinator) stateError(op string) error {
	return errors.Newf(errors.ErrCodeInvalidState, "coordinator is %s", c.state).
		WithComponent("coordinator").
		WithOperation(op)
}

func notFound(op, id string) error {
	return errors.New(errors.ErrCodeNotFound, "file not found").
		WithComponent("coordinator").
		WithOperation(op).
		WithContext("file_id", id)
}
