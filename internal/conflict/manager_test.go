package conflict

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/vaultstore/pkg/types"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
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

type recordingJournal struct {
	mu       sync.Mutex
	versions map[string][]string
	fail     bool
}

func (j *recordingJournal) PutRecord(types.FileRecord) error { return nil }
func (j *recordingJournal) Records() ([]types.FileRecord, error) { return nil, nil }
func (j *recordingJournal) Versions() (map[string][]string, error) { return j.versions, nil }
func (j *recordingJournal) Close() error { return nil }

func (j *recordingJournal) AppendVersion(fileID, versionID string) error {
	if j.fail {
		return fmt.Errorf("journal closed")
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.versions == nil {
		j.versions = make(map[string][]string)
	}
	j.versions[fileID] = append(j.versions[fileID], versionID)
	return nil
}

func newTestManager() (*Manager, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	return NewManager(Config{Now: clock.Now}), clock
}

func TestAcquireLock(t *testing.T) {
	m, _ := newTestManager()

	assert.True(t, m.AcquireLock("f", "alice"))
	assert.False(t, m.AcquireLock("f", "bob"), "live lock held by another user")
	assert.True(t, m.AcquireLock("f", "alice"), "holder may re-acquire")
	assert.True(t, m.AcquireLock("g", "bob"), "locks are per file")

	holder, ok := m.LockHolder("f")
	require.True(t, ok)
	assert.Equal(t, "alice", holder)
	assert.Equal(t, 2, m.ActiveLocks())
}

func TestAcquireLock_StaleReclaim(t *testing.T) {
	m, clock := newTestManager()

	require.True(t, m.AcquireLock("f", "alice"))

	clock.Advance(30 * time.Minute)
	assert.False(t, m.AcquireLock("f", "bob"), "lock is live at exactly the timeout")

	clock.Advance(time.Second)
	assert.True(t, m.AcquireLock("f", "bob"))

	holder, _ := m.LockHolder("f")
	assert.Equal(t, "bob", holder)
	assert.False(t, m.ReleaseLock("f", "alice"), "previous holder lost the lock")
}

func TestAcquireLock_RefreshExtendsLifetime(t *testing.T) {
	m, clock := newTestManager()

	require.True(t, m.AcquireLock("f", "alice"))
	clock.Advance(20 * time.Minute)
	require.True(t, m.AcquireLock("f", "alice"))
	clock.Advance(20 * time.Minute)

	assert.False(t, m.AcquireLock("f", "bob"))
}

func TestReleaseLock(t *testing.T) {
	m, _ := newTestManager()

	require.True(t, m.AcquireLock("f", "alice"))

	assert.False(t, m.ReleaseLock("f", "bob"), "only the holder can release")
	_, held := m.LockHolder("f")
	assert.True(t, held)

	assert.True(t, m.ReleaseLock("f", "alice"))
	assert.False(t, m.ReleaseLock("f", "alice"), "release is idempotent")
	assert.False(t, m.ReleaseLock("missing", "alice"))

	assert.True(t, m.AcquireLock("f", "bob"))
}

func TestLockHolder_IgnoresStaleLocks(t *testing.T) {
	m, clock := newTestManager()

	require.True(t, m.AcquireLock("f", "alice"))
	clock.Advance(31 * time.Minute)

	_, held := m.LockHolder("f")
	assert.False(t, held)
	assert.Equal(t, 0, m.ActiveLocks())
}

func TestCreateVersion(t *testing.T) {
	m, _ := newTestManager()

	v1 := m.CreateVersion("f", []byte("hello"))
	v2 := m.CreateVersion("f", []byte("hello"))
	v3 := m.CreateVersion("f", []byte("world"))

	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", v1)
	assert.Equal(t, v1, v2, "identical content yields identical versions")
	assert.NotEqual(t, v1, v3)

	assert.Equal(t, []string{v1, v2, v3}, m.Versions("f"), "history is append-only")
	assert.Empty(t, m.Versions("other"))

	history := m.Versions("f")
	history[0] = "mutated"
	assert.Equal(t, v1, m.Versions("f")[0])
}

func TestCreateVersion_Journal(t *testing.T) {
	journal := &recordingJournal{}
	m := NewManager(Config{Journal: journal})

	v := m.CreateVersion("f", []byte("data"))
	assert.Equal(t, []string{v}, journal.versions["f"])

	journal.fail = true
	v2 := m.CreateVersion("f", []byte("more"))
	assert.Equal(t, []string{v, v2}, m.Versions("f"), "journal failure does not lose the version")
}

func TestRestore(t *testing.T) {
	m, _ := newTestManager()
	m.CreateVersion("old", []byte("x"))

	m.Restore(map[string][]string{"f": {"a", "b"}})
	assert.Equal(t, []string{"a", "b"}, m.Versions("f"))
	assert.Empty(t, m.Versions("old"))
}

func TestAcquireLock_SingleWinner(t *testing.T) {
	m, _ := newTestManager()

	var winners int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if m.AcquireLock("f", fmt.Sprintf("user-%d", i)) {
				atomic.AddInt32(&winners, 1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners)
}
