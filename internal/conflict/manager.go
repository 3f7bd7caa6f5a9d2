// Package conflict provides per-file advisory locks and the append-only version history
// of each file.
package conflict

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/objectfs/vaultstore/pkg/types"
	"github.com/objectfs/vaultstore/pkg/utils"
)

// DefaultLockTimeout is the age after which a held lock is considered abandoned.
const DefaultLockTimeout = 30 * time.Minute

// Config configures a Manager.
type Config struct {
	LockTimeout time.Duration
	// Journal, when set, receives every appended version.
	Journal types.Journal
	Logger  *zap.Logger
	Now     func() time.Time
}

// Lock describes the current holder of a file lock.
type Lock struct {
	FileID   string
	UserID   string
	Acquired time.Time
}

// Manager owns the lock table and version histories.
type Manager struct {
	mu       sync.Mutex
	locks    map[string]*Lock
	versions map[string][]string

	config Config
	logger *zap.Logger
}

// NewManager creates a conflict manager.
func NewManager(config Config) *Manager {
	if config.LockTimeout <= 0 {
		config.LockTimeout = DefaultLockTimeout
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &Manager{
		locks:    make(map[string]*Lock),
		versions: make(map[string][]string),
		config:   config,
		logger:   config.Logger,
	}
}

// AcquireLock grants fileID's lock to userID when it is free, stale, or already held by
// userID (which refreshes it). It never blocks; a live lock held by another user fails.
func (m *Manager) AcquireLock(fileID, userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.config.Now()
	if lock, held := m.locks[fileID]; held {
		switch {
		case lock.UserID == userID:
		case now.Sub(lock.Acquired) > m.config.LockTimeout:
			m.logger.Info("Reclaiming stale lock",
				zap.String("file_id", fileID),
				zap.String("previous_holder", lock.UserID),
				zap.Duration("age", now.Sub(lock.Acquired)))
		default:
			return false
		}
	}

	m.locks[fileID] = &Lock{FileID: fileID, UserID: userID, Acquired: now}
	return true
}

// ReleaseLock removes fileID's lock if userID holds it and reports whether it did.
// Releasing a free lock or another user's lock is a no-op.
func (m *Manager) ReleaseLock(fileID, userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, held := m.locks[fileID]
	if !held || lock.UserID != userID {
		return false
	}
	delete(m.locks, fileID)
	return true
}

// LockHolder returns the user holding a live lock on fileID.
func (m *Manager) LockHolder(fileID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, held := m.locks[fileID]
	if !held || m.config.Now().Sub(lock.Acquired) > m.config.LockTimeout {
		return "", false
	}
	return lock.UserID, true
}

// ActiveLocks returns the number of live locks.
func (m *Manager) ActiveLocks() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.config.Now()
	count := 0
	for _, lock := range m.locks {
		if now.Sub(lock.Acquired) <= m.config.LockTimeout {
			count++
		}
	}
	return count
}

// CreateVersion appends the content hash of data to fileID's history and returns it.
// Callers serialize writers through the file lock; this method does not check it.
func (m *Manager) CreateVersion(fileID string, data []byte) string {
	versionID := utils.ContentHash(data)

	m.mu.Lock()
	m.versions[fileID] = append(m.versions[fileID], versionID)
	m.mu.Unlock()

	if m.config.Journal != nil {
		if err := m.config.Journal.AppendVersion(fileID, versionID); err != nil {
			m.logger.Warn("Failed to journal version",
				zap.String("file_id", fileID),
				zap.String("version_id", versionID),
				zap.Error(err))
		}
	}
	return versionID
}

// Versions returns a copy of fileID's history, oldest first.
func (m *Manager) Versions(fileID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.versions[fileID]...)
}

// Restore replaces the version histories, typically with those read back from a journal.
func (m *Manager) Restore(versions map[string][]string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.versions = make(map[string][]string, len(versions))
	for fileID, history := range versions {
		m.versions[fileID] = append([]string(nil), history...)
	}
}
