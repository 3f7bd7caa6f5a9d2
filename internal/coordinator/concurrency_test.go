package coordinator

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/objectfs/vaultstore/internal/config"
	"github.com/objectfs/vaultstore/internal/storage/local"
	"github.com/objectfs/vaultstore/pkg/errors"
	"github.com/objectfs/vaultstore/pkg/types"
	"github.com/objectfs/vaultstore/pkg/utils"
)

// gatedBackend parks the first Read or Write whose content matches a trigger, after the
// inner backend has completed it, until Release is called.
type gatedBackend struct {
	types.Backend

	holdRead  string
	holdWrite string

	once    sync.Once
	paused  chan struct{}
	release chan struct{}
	freed   sync.Once
}

func newGatedBackend(t *testing.T, root string) *gatedBackend {
	t.Helper()
	inner, err := local.New(root, zaptest.NewLogger(t))
	require.NoError(t, err)
	return &gatedBackend{
		Backend: inner,
		paused:  make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (g *gatedBackend) Read(ctx context.Context, id string) ([]byte, error) {
	data, err := g.Backend.Read(ctx, id)
	if err == nil && g.holdRead != "" && string(data) == g.holdRead {
		g.hold()
	}
	return data, err
}

func (g *gatedBackend) Write(ctx context.Context, id string, data []byte) error {
	err := g.Backend.Write(ctx, id, data)
	if g.holdWrite != "" && string(data) == g.holdWrite {
		g.hold()
	}
	return err
}

func (g *gatedBackend) hold() {
	first := false
	g.once.Do(func() { first = true })
	if !first {
		return
	}
	close(g.paused)
	<-g.release
}

func (g *gatedBackend) Release() {
	g.freed.Do(func() { close(g.release) })
}

func startWithBackend(t *testing.T, cfg *config.Configuration, backend *gatedBackend) *Coordinator {
	t.Helper()
	c, err := New(context.Background(), Options{Config: cfg, Backend: backend, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Shutdown(context.Background()) })
	// Runs before Shutdown so a failed assertion cannot leave an operation parked.
	t.Cleanup(backend.Release)
	return c
}

func TestReadMissDoesNotCacheSupersededContent(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	backend := newGatedBackend(t, cfg.Store.Root)
	backend.holdRead = "hello"
	c := startWithBackend(t, cfg, backend)
	s := session(t, c, "U")

	id, err := c.CreateFile(ctx, s, []byte("hello"), types.Public)
	require.NoError(t, err)
	c.cache.Clear()

	var (
		stale   []byte
		readErr error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		stale, readErr = c.ReadFile(ctx, id, s)
	}()

	<-backend.paused
	require.NoError(t, c.WriteFile(ctx, id, s, []byte("world")))
	backend.Release()
	<-done

	require.NoError(t, readErr)
	assert.Equal(t, []byte("hello"), stale, "the overlapping read returns what it read")

	data, err := c.ReadFile(ctx, id, s)
	require.NoError(t, err)
	assert.Equal(t, []byte("world"), data)

	cached, ok := c.cache.Get(id)
	require.True(t, ok)
	assert.Equal(t, []byte("world"), cached)
}

func TestWritesBySameHolderAreSerialized(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	backend := newGatedBackend(t, cfg.Store.Root)
	backend.holdWrite = "a2"
	c := startWithBackend(t, cfg, backend)
	alice := session(t, c, "alice")
	bob := session(t, c, "bob")

	id, err := c.CreateFile(ctx, alice, []byte("seed"), types.Public)
	require.NoError(t, err)

	second := make(chan error, 1)
	go func() { second <- c.WriteFile(ctx, id, alice, []byte("a2")) }()
	<-backend.paused

	first := make(chan error, 1)
	go func() { first <- c.WriteFile(ctx, id, alice, []byte("a1")) }()

	select {
	case err := <-first:
		t.Fatalf("write completed while another write to the file was in progress: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	err = c.WriteFile(ctx, id, bob, []byte("b"))
	assert.True(t, errors.IsCode(err, errors.ErrCodeLockContended), "unexpected error: %v", err)

	backend.Release()
	require.NoError(t, <-second)
	require.NoError(t, <-first)

	onDisk, err := os.ReadFile(filepath.Join(cfg.Store.Root, id))
	require.NoError(t, err)
	assert.Equal(t, []byte("a1"), onDisk)
	rec, err := c.Stat(id)
	require.NoError(t, err)
	assert.Equal(t, utils.ContentHash(onDisk), rec.Checksum)

	require.NoError(t, c.WriteFile(ctx, id, bob, []byte("b")))
	assert.Equal(t, []string{
		utils.ContentHash([]byte("a2")),
		utils.ContentHash([]byte("a1")),
		utils.ContentHash([]byte("b")),
	}, c.Versions(id))
	assert.Zero(t, c.files.Len())
	assert.Zero(t, c.conflicts.ActiveLocks())
}

func TestReadOnlyViewsAfterShutdown(t *testing.T) {
	ctx := context.Background()
	c := startCoordinator(t, testConfig(t), nil)
	s := session(t, c, "U")

	id, err := c.CreateFile(ctx, s, []byte("v0"), types.Public)
	require.NoError(t, err)
	require.NoError(t, c.WriteFile(ctx, id, s, []byte("v1")))
	require.NoError(t, c.Shutdown(ctx))

	_, err = c.Stat(id)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidState))

	assert.Equal(t, []string{id}, c.Files())
	assert.Equal(t, []string{utils.ContentHash([]byte("v1"))}, c.Versions(id))
	m := c.CollectMetrics()
	assert.Equal(t, 1, m.FileCount)
	assert.Zero(t, m.CacheEntries)
}

func TestFileMutex(t *testing.T) {
	f := newFileMutex()

	unlockA := f.Lock("a")
	unlockB := f.Lock("b")
	assert.Equal(t, 2, f.Len())

	acquired := make(chan struct{})
	go func() {
		unlock := f.Lock("a")
		close(acquired)
		unlock()
	}()

	select {
	case <-acquired:
		t.Fatal("second holder entered while the first held the lock")
	case <-time.After(20 * time.Millisecond):
	}

	unlockA()
	<-acquired
	unlockB()
	assert.Eventually(t, func() bool { return f.Len() == 0 }, time.Second, time.Millisecond)
}
