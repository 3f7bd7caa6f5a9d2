package coordinator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/objectfs/vaultstore/internal/config"
	"github.com/objectfs/vaultstore/internal/metadata"
	"github.com/objectfs/vaultstore/internal/monitoring"
	"github.com/objectfs/vaultstore/pkg/errors"
	"github.com/objectfs/vaultstore/pkg/types"
	"github.com/objectfs/vaultstore/pkg/utils"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func testConfig(t *testing.T) *config.Configuration {
	t.Helper()
	cfg := config.NewDefault()
	cfg.Store.Root = t.TempDir()
	return cfg
}

func startCoordinator(t *testing.T, cfg *config.Configuration, clock *fakeClock) *Coordinator {
	t.Helper()
	opts := Options{Config: cfg, Logger: zaptest.NewLogger(t)}
	if clock != nil {
		opts.Now = clock.Now
	}
	c, err := New(context.Background(), opts)
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Shutdown(context.Background()) })
	return c
}

func session(t *testing.T, c *Coordinator, user string) string {
	t.Helper()
	id, err := c.CreateSession(user)
	require.NoError(t, err)
	return id
}

func TestEndToEnd(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	c := startCoordinator(t, cfg, nil)
	s := session(t, c, "U")

	id, err := c.CreateFile(ctx, s, []byte("hello"), types.Confidential)
	require.NoError(t, err)
	assert.Equal(t, utils.ContentHash([]byte("hello")), id)

	data, err := c.ReadFile(ctx, id, s)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	require.NoError(t, c.WriteFile(ctx, id, s, []byte("world")))

	data, err = c.ReadFile(ctx, id, s)
	require.NoError(t, err)
	assert.Equal(t, []byte("world"), data)

	rec, err := c.Stat(id)
	require.NoError(t, err)
	assert.Equal(t, int64(5), rec.Size)
	assert.Equal(t, id, rec.ID)
	assert.Equal(t, utils.ContentHash([]byte("world")), rec.Checksum)
	assert.Equal(t, types.Confidential, rec.SecurityLevel)
	assert.Equal(t, filepath.Join(cfg.Store.Root, id), rec.Path)

	onDisk, err := os.ReadFile(filepath.Join(cfg.Store.Root, id))
	require.NoError(t, err)
	assert.Equal(t, []byte("world"), onDisk)

	assert.Equal(t, []string{utils.ContentHash([]byte("world"))}, c.Versions(id))
	assert.Equal(t, 0, c.conflicts.ActiveLocks(), "write releases its lock")
}

func TestInvalidSession(t *testing.T) {
	ctx := context.Background()
	c := startCoordinator(t, testConfig(t), nil)

	_, err := c.CreateFile(ctx, "bogus", []byte("x"), types.Public)
	assert.True(t, errors.IsCode(err, errors.ErrCodeSessionInvalid))

	s := session(t, c, "U")
	id, err := c.CreateFile(ctx, s, []byte("x"), types.Public)
	require.NoError(t, err)

	_, err = c.ReadFile(ctx, id, "bogus")
	assert.True(t, errors.IsCode(err, errors.ErrCodeSessionInvalid))
	assert.True(t, errors.IsCode(c.WriteFile(ctx, id, "bogus", []byte("y")), errors.ErrCodeSessionInvalid))
}

func TestExpiredSession(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := startCoordinator(t, testConfig(t), clock)
	s := session(t, c, "U")

	clock.Advance(24*time.Hour + time.Second)

	_, err := c.CreateFile(ctx, s, []byte("late"), types.Public)
	assert.True(t, errors.IsCode(err, errors.ErrCodeSessionInvalid))
}

func TestMissingFile(t *testing.T) {
	ctx := context.Background()
	c := startCoordinator(t, testConfig(t), nil)
	s := session(t, c, "U")
	id := utils.ContentHash([]byte("never stored"))

	_, err := c.ReadFile(ctx, id, s)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))

	err = c.WriteFile(ctx, id, s, []byte("data"))
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
	assert.Empty(t, c.Versions(id), "no version is created for a missing file")

	_, err = c.Stat(id)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
}

func TestDuplicateCreate(t *testing.T) {
	ctx := context.Background()
	c := startCoordinator(t, testConfig(t), nil)
	s := session(t, c, "U")

	first, err := c.CreateFile(ctx, s, []byte("same"), types.Secret)
	require.NoError(t, err)
	created, err := c.Stat(first)
	require.NoError(t, err)

	second, err := c.CreateFile(ctx, s, []byte("same"), types.Public)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	unchanged, err := c.Stat(first)
	require.NoError(t, err)
	assert.Equal(t, created, unchanged, "idempotent create leaves the record alone")

	require.NoError(t, c.WriteFile(ctx, first, s, []byte("diverged")))

	_, err = c.CreateFile(ctx, s, []byte("same"), types.Public)
	assert.True(t, errors.IsCode(err, errors.ErrCodeFileExists))

	data, err := c.ReadFile(ctx, first, s)
	require.NoError(t, err)
	assert.Equal(t, []byte("diverged"), data)
}

func TestInvalidSecurityLevel(t *testing.T) {
	c := startCoordinator(t, testConfig(t), nil)
	s := session(t, c, "U")

	_, err := c.CreateFile(context.Background(), s, []byte("x"), types.SecurityLevel(7))
	assert.Error(t, err)
	assert.Zero(t, c.table.Len())
}

func TestReadServedFromCache(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	c := startCoordinator(t, cfg, nil)
	s := session(t, c, "U")

	id, err := c.CreateFile(ctx, s, []byte("cached"), types.Public)
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(cfg.Store.Root, id)))

	data, err := c.ReadFile(ctx, id, s)
	require.NoError(t, err)
	assert.Equal(t, []byte("cached"), data)
	assert.Equal(t, uint64(1), c.cache.Stats().Hits)

	c.cache.Clear()
	_, err = c.ReadFile(ctx, id, s)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound), "cache miss falls through to the backend")
}

func TestReadRepopulatesCache(t *testing.T) {
	ctx := context.Background()
	c := startCoordinator(t, testConfig(t), nil)
	s := session(t, c, "U")

	id, err := c.CreateFile(ctx, s, []byte("warm"), types.Public)
	require.NoError(t, err)
	c.cache.Clear()

	_, err = c.ReadFile(ctx, id, s)
	require.NoError(t, err)
	assert.Equal(t, 1, c.cache.Len())
}

func TestLockContention(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := startCoordinator(t, testConfig(t), clock)
	alice := session(t, c, "alice")

	id, err := c.CreateFile(ctx, alice, []byte("v0"), types.Public)
	require.NoError(t, err)

	require.True(t, c.conflicts.AcquireLock(id, "bob"))

	err = c.WriteFile(ctx, id, alice, []byte("v1"))
	require.True(t, errors.IsCode(err, errors.ErrCodeLockContended))
	holder, _ := c.conflicts.LockHolder(id)
	assert.Equal(t, "bob", holder, "a rejected writer does not disturb the holder")

	clock.Advance(31 * time.Minute)
	require.NoError(t, c.WriteFile(ctx, id, alice, []byte("v1")), "stale lock is reclaimed")

	_, held := c.conflicts.LockHolder(id)
	assert.False(t, held)
}

func TestConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	c := startCoordinator(t, cfg, nil)
	owner := session(t, c, "owner")

	id, err := c.CreateFile(ctx, owner, []byte("seed"), types.Public)
	require.NoError(t, err)

	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		s := session(t, c, fmt.Sprintf("user-%d", i))
		wg.Add(1)
		go func(i int, s string) {
			defer wg.Done()
			errs[i] = c.WriteFile(ctx, id, s, []byte(fmt.Sprintf("payload-%d", i)))
		}(i, s)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			assert.True(t, errors.IsCode(err, errors.ErrCodeLockContended), "unexpected error: %v", err)
		}
	}

	onDisk, err := os.ReadFile(filepath.Join(cfg.Store.Root, id))
	require.NoError(t, err)
	rec, err := c.Stat(id)
	require.NoError(t, err)
	assert.Equal(t, utils.ContentHash(onDisk), rec.Checksum)
	assert.Equal(t, int64(len(onDisk)), rec.Size)
}

func TestStateMachine(t *testing.T) {
	ctx := context.Background()
	c, err := New(ctx, Options{Config: testConfig(t), Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	assert.Equal(t, StateStarting, c.State())

	s := session(t, c, "U")
	_, err = c.CreateFile(ctx, s, []byte("early"), types.Public)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidState))
	assert.True(t, errors.IsCode(c.ExitMaintenance(), errors.ErrCodeInvalidState))

	require.NoError(t, c.Start(ctx))
	assert.Equal(t, StateRunning, c.State())
	assert.True(t, errors.IsCode(c.Start(ctx), errors.ErrCodeInvalidState))

	id, err := c.CreateFile(ctx, s, []byte("doc"), types.Public)
	require.NoError(t, err)

	require.NoError(t, c.EnterMaintenance())
	assert.Equal(t, StateMaintenance, c.State())
	_, err = c.ReadFile(ctx, id, s)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidState))
	assert.True(t, errors.IsCode(c.WriteFile(ctx, id, s, []byte("x")), errors.ErrCodeInvalidState))

	require.NoError(t, c.ExitMaintenance())
	_, err = c.ReadFile(ctx, id, s)
	require.NoError(t, err)

	require.NoError(t, c.Shutdown(ctx))
	require.NoError(t, c.Shutdown(ctx), "shutdown is idempotent")
	assert.Equal(t, StateShutdown, c.State())
	_, err = c.ReadFile(ctx, id, s)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidState))
	assert.True(t, errors.IsCode(c.EnterMaintenance(), errors.ErrCodeInvalidState))
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateStarting, "STARTING"},
		{StateRunning, "RUNNING"},
		{StateMaintenance, "MAINTENANCE"},
		{StateShutdown, "SHUTDOWN"},
		{State(42), "UNKNOWN"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, tt.state.String())
	}
}

func TestShutdownPersistsSnapshot(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	c := startCoordinator(t, cfg, nil)
	s := session(t, c, "U")
	id, err := c.CreateFile(ctx, s, []byte("durable"), types.TopSecret)
	require.NoError(t, err)
	require.NoError(t, c.WriteFile(ctx, id, s, []byte("durable v2")))
	require.NoError(t, c.Shutdown(ctx))
	assert.Zero(t, c.cache.Len(), "shutdown clears the cache")

	_, err = os.Stat(filepath.Join(cfg.Store.Root, metadata.SnapshotFile))
	require.NoError(t, err)

	restarted := startCoordinator(t, cfg, nil)
	rec, err := restarted.Stat(id)
	require.NoError(t, err)
	assert.Equal(t, types.TopSecret, rec.SecurityLevel)
	assert.Equal(t, int64(len("durable v2")), rec.Size)

	s = session(t, restarted, "U")
	data, err := restarted.ReadFile(ctx, id, s)
	require.NoError(t, err)
	assert.Equal(t, []byte("durable v2"), data)
}

func TestJournalReplay(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Journal.Enabled = true

	c, err := New(ctx, Options{Config: cfg, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	require.NoError(t, c.Start(ctx))

	s := session(t, c, "U")
	id, err := c.CreateFile(ctx, s, []byte("journaled"), types.Secret)
	require.NoError(t, err)
	require.NoError(t, c.WriteFile(ctx, id, s, []byte("journaled v2")))

	// Simulate a crash: nothing is snapshotted, only the journal is released.
	require.NoError(t, c.journal.Close())
	_, err = os.Stat(filepath.Join(cfg.Store.Root, metadata.SnapshotFile))
	require.True(t, os.IsNotExist(err))

	restarted := startCoordinator(t, cfg, nil)
	rec, err := restarted.Stat(id)
	require.NoError(t, err)
	assert.Equal(t, utils.ContentHash([]byte("journaled v2")), rec.Checksum)
	assert.Equal(t, types.Secret, rec.SecurityLevel)
	assert.Equal(t, []string{utils.ContentHash([]byte("journaled v2"))}, restarted.Versions(id))
}

func TestRecover(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	c := startCoordinator(t, cfg, nil)
	s := session(t, c, "U")

	known, err := c.CreateFile(ctx, s, []byte("known"), types.Public)
	require.NoError(t, err)

	orphan := utils.ContentHash([]byte("orphan"))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Store.Root, orphan), []byte("orphan"), 0640))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Store.Root, "notes.txt"), []byte("ignored"), 0640))

	require.NoError(t, c.EnterMaintenance())
	n, err := c.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, c.ExitMaintenance())

	rec, err := c.Stat(orphan)
	require.NoError(t, err)
	assert.Equal(t, int64(6), rec.Size)
	assert.Equal(t, orphan, rec.Checksum)
	assert.Equal(t, types.Public, rec.SecurityLevel)
	assert.ElementsMatch(t, []string{known, orphan}, c.Files())

	n, err = c.Recover(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSecurityAlerts(t *testing.T) {
	ctx := context.Background()
	c := startCoordinator(t, testConfig(t), nil)

	var mu sync.Mutex
	var alerts []monitoring.Alert
	c.RegisterAlertCallback(func(a monitoring.Alert) error {
		mu.Lock()
		defer mu.Unlock()
		alerts = append(alerts, a)
		return nil
	})

	_, err := c.ReadFile(ctx, utils.ContentHash([]byte("x")), "bogus")
	require.Error(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, alerts, 1)
	assert.Equal(t, monitoring.SourceSecurity, alerts[0].Source)
	require.NotNil(t, alerts[0].Event)
	assert.Equal(t, types.EventSessionInvalid, alerts[0].Event.Type)
	assert.NotEmpty(t, c.Monitor().SecurityEvents())
}

func TestCollectMetrics(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Monitoring.MaxFailedOperations = 1
	c := startCoordinator(t, cfg, nil)
	s := session(t, c, "U")

	var raised []monitoring.Alert
	c.RegisterAlertCallback(func(a monitoring.Alert) error {
		if a.Source == monitoring.SourceMetrics {
			raised = append(raised, a)
		}
		return nil
	})

	id, err := c.CreateFile(ctx, s, []byte("metric"), types.Public)
	require.NoError(t, err)
	_, err = c.ReadFile(ctx, id, s)
	require.NoError(t, err)

	m := c.CollectMetrics()
	assert.Equal(t, 1, m.FileCount)
	assert.Equal(t, uint64(2), m.CompletedOperations)
	assert.Zero(t, m.FailedOperations)
	assert.Equal(t, uint64(1), m.CacheHits)
	assert.Equal(t, 1, m.ActiveSessions)
	assert.Zero(t, m.ActiveLocks)
	assert.Zero(t, m.ActiveTransactions)
	assert.Empty(t, raised)

	_, err = c.ReadFile(ctx, utils.ContentHash([]byte("gone")), s)
	require.Error(t, err)

	m = c.CollectMetrics()
	assert.Equal(t, uint64(1), m.FailedOperations)
	require.Len(t, raised, 1)
	assert.Equal(t, uint64(1), raised[0].Metrics.FailedOperations)
	assert.Len(t, c.Monitor().Metrics(), 2)

	ops := c.Collector().GetMetrics()
	assert.Equal(t, int64(2), ops[OpReadFile].Count)
	assert.Equal(t, int64(1), ops[OpReadFile].Errors)
}

func TestTransactionsAreClosed(t *testing.T) {
	ctx := context.Background()
	c := startCoordinator(t, testConfig(t), nil)
	s := session(t, c, "U")

	id, err := c.CreateFile(ctx, s, []byte("tx"), types.Public)
	require.NoError(t, err)
	_ = c.WriteFile(ctx, utils.ContentHash([]byte("missing")), s, []byte("y"))
	require.NoError(t, c.WriteFile(ctx, id, s, []byte("tx2")))

	assert.Zero(t, c.transactions.Active())
	history := c.transactions.History()
	require.Len(t, history, 3)
	assert.Equal(t, "completed", history[0].Status.String())
	assert.Equal(t, "rolled_back", history[1].Status.String())
	assert.Equal(t, "completed", history[2].Status.String())
	require.Len(t, history[2].Operations, 1)
	assert.Equal(t, "write", history[2].Operations[0].Type)
}
