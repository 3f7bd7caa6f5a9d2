// Package security issues and validates sessions, tracks failed attempts for lockout, and
// enforces a sliding-window request rate per user.
package security

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/objectfs/vaultstore/pkg/errors"
	"github.com/objectfs/vaultstore/pkg/types"
	"github.com/objectfs/vaultstore/pkg/utils"
)

// Config controls session lifetime, lockout and rate limiting.
type Config struct {
	SessionTTL        time.Duration
	MaxFailedAttempts int
	LockoutWindow     time.Duration
	RateLimit         int
	RateWindow        time.Duration

	Logger *zap.Logger
	Now    func() time.Time
	// EventSink receives every session decision. It runs outside the manager's lock.
	EventSink func(types.SecurityEvent)
}

// DefaultConfig returns a 24h session lifetime, lockout after 5 failures in 30 minutes and
// 100 requests per 60 seconds.
func DefaultConfig() Config {
	return Config{
		SessionTTL:        24 * time.Hour,
		MaxFailedAttempts: 5,
		LockoutWindow:     30 * time.Minute,
		RateLimit:         100,
		RateWindow:        60 * time.Second,
	}
}

type session struct {
	id      string
	userID  string
	created time.Time
}

// Manager owns the session table, failed-attempt history and request history.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*session
	failures map[string][]time.Time
	requests map[string][]time.Time

	config Config
	logger *zap.Logger
}

// NewManager creates a security manager. Zero config fields take DefaultConfig values.
func NewManager(config Config) *Manager {
	defaults := DefaultConfig()
	if config.SessionTTL <= 0 {
		config.SessionTTL = defaults.SessionTTL
	}
	if config.MaxFailedAttempts <= 0 {
		config.MaxFailedAttempts = defaults.MaxFailedAttempts
	}
	if config.LockoutWindow <= 0 {
		config.LockoutWindow = defaults.LockoutWindow
	}
	if config.RateLimit <= 0 {
		config.RateLimit = defaults.RateLimit
	}
	if config.RateWindow <= 0 {
		config.RateWindow = defaults.RateWindow
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	return &Manager{
		sessions: make(map[string]*session),
		failures: make(map[string][]time.Time),
		requests: make(map[string][]time.Time),
		config:   config,
		logger:   config.Logger,
	}
}

// CreateSession issues a session for userID. It fails with SECURITY_LOCKOUT while the user
// is locked out and with RATE_LIMITED once the user has made RateLimit admitted requests
// within the trailing RateWindow. Rejected requests are not counted.
func (m *Manager) CreateSession(userID string) (string, error) {
	m.mu.Lock()
	now := m.config.Now()

	if m.lockedOutLocked(userID, now) {
		m.mu.Unlock()
		m.logger.Warn("Session rejected: user locked out", zap.String("user_id", userID))
		m.emit(types.SecurityEvent{
			Type:   types.EventSessionRejected,
			UserID: userID,
			Detail: "locked out",
		}, now)
		return "", errors.New(errors.ErrCodeSecurityLockout, "user is locked out").
			WithComponent("security").
			WithOperation("create_session").
			WithContext("user_id", userID)
	}

	recent := trimBefore(m.requests[userID], now.Add(-m.config.RateWindow))
	if len(recent) >= m.config.RateLimit {
		m.requests[userID] = recent
		m.mu.Unlock()
		m.logger.Warn("Session rejected: rate limit exceeded",
			zap.String("user_id", userID), zap.Int("requests", len(recent)))
		m.emit(types.SecurityEvent{
			Type:   types.EventSessionRejected,
			UserID: userID,
			Detail: "rate limit exceeded",
		}, now)
		return "", errors.Newf(errors.ErrCodeRateLimited,
			"more than %d requests in %s", m.config.RateLimit, m.config.RateWindow).
			WithComponent("security").
			WithOperation("create_session").
			WithContext("user_id", userID)
	}
	m.requests[userID] = append(recent, now)

	id := newSessionID(userID, now)
	m.sessions[id] = &session{id: id, userID: userID, created: now}
	m.mu.Unlock()

	m.logger.Debug("Session created", zap.String("user_id", userID))
	m.emit(types.SecurityEvent{
		Type:      types.EventSessionCreated,
		UserID:    userID,
		SessionID: id,
		Success:   true,
	}, now)
	return id, nil
}

// ValidateSession reports whether sessionID names a live session. Expired sessions are
// evicted and count as a failed attempt for their user.
func (m *Manager) ValidateSession(sessionID string) bool {
	_, ok := m.SessionUser(sessionID)
	return ok
}

// SessionUser returns the user owning a live session.
func (m *Manager) SessionUser(sessionID string) (string, bool) {
	m.mu.Lock()
	now := m.config.Now()

	s, exists := m.sessions[sessionID]
	if !exists {
		m.mu.Unlock()
		m.emit(types.SecurityEvent{
			Type:      types.EventSessionInvalid,
			SessionID: sessionID,
			Detail:    "unknown session",
		}, now)
		return "", false
	}

	if now.Sub(s.created) > m.config.SessionTTL {
		delete(m.sessions, sessionID)
		m.recordFailureLocked(s.userID, now)
		m.mu.Unlock()
		m.logger.Info("Session expired", zap.String("user_id", s.userID))
		m.emit(types.SecurityEvent{
			Type:      types.EventSessionExpired,
			UserID:    s.userID,
			SessionID: sessionID,
			Detail:    "session expired",
		}, now)
		return "", false
	}

	m.mu.Unlock()
	return s.userID, true
}

// RecordFailedAttempt counts a failed authentication for userID towards lockout.
func (m *Manager) RecordFailedAttempt(userID string) {
	m.mu.Lock()
	now := m.config.Now()
	m.recordFailureLocked(userID, now)
	count := len(m.failures[userID])
	m.mu.Unlock()

	m.logger.Info("Failed attempt recorded",
		zap.String("user_id", userID), zap.Int("recent_failures", count))
	m.emit(types.SecurityEvent{
		Type:   types.EventFailedAttempt,
		UserID: userID,
		Detail: fmt.Sprintf("%d failures in window", count),
	}, now)
}

// IsLockedOut reports whether userID currently has MaxFailedAttempts failures inside the
// lockout window.
func (m *Manager) IsLockedOut(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lockedOutLocked(userID, m.config.Now())
}

// InvalidateSession removes sessionID. It reports whether the session existed.
func (m *Manager) InvalidateSession(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[sessionID]; !exists {
		return false
	}
	delete(m.sessions, sessionID)
	return true
}

// ActiveSessions returns the number of sessions that have not expired.
func (m *Manager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.config.Now()
	count := 0
	for _, s := range m.sessions {
		if now.Sub(s.created) <= m.config.SessionTTL {
			count++
		}
	}
	return count
}

func (m *Manager) lockedOutLocked(userID string, now time.Time) bool {
	recent := trimBefore(m.failures[userID], now.Add(-m.config.LockoutWindow))
	if len(recent) == 0 {
		delete(m.failures, userID)
	} else {
		m.failures[userID] = recent
	}
	return len(recent) >= m.config.MaxFailedAttempts
}

func (m *Manager) recordFailureLocked(userID string, now time.Time) {
	recent := trimBefore(m.failures[userID], now.Add(-m.config.LockoutWindow))
	m.failures[userID] = append(recent, now)
}

func (m *Manager) emit(event types.SecurityEvent, now time.Time) {
	if m.config.EventSink == nil {
		return
	}
	event.ID = uuid.NewString()
	event.Timestamp = now
	m.config.EventSink(event)
}

// trimBefore drops timestamps at or before cutoff. Timestamps are kept in arrival order.
func trimBefore(times []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(times) && !times[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return times
	}
	return append([]time.Time(nil), times[i:]...)
}

func newSessionID(userID string, now time.Time) string {
	seed := fmt.Sprintf("%s:%d:%s", userID, now.UnixNano(), uuid.NewString())
	return utils.ContentHash([]byte(seed))[:32]
}
