package types

import (
	"fmt"
	"strings"
	"time"
)

// SecurityLevel is the ordered classification recorded on every file. The store records
// it but does not enforce it.
type SecurityLevel int

const (
	Public SecurityLevel = iota
	Confidential
	Secret
	TopSecret
)

// String returns the canonical upper-case name of the level.
func (l SecurityLevel) String() string {
	switch l {
	case Public:
		return "PUBLIC"
	case Confidential:
		return "CONFIDENTIAL"
	case Secret:
		return "SECRET"
	case TopSecret:
		return "TOP_SECRET"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether l is one of the four defined levels.
func (l SecurityLevel) Valid() bool {
	return l >= Public && l <= TopSecret
}

// ParseSecurityLevel accepts a level name (case-insensitive) or its numeric value.
func ParseSecurityLevel(s string) (SecurityLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PUBLIC", "0":
		return Public, nil
	case "CONFIDENTIAL", "1":
		return Confidential, nil
	case "SECRET", "2":
		return Secret, nil
	case "TOP_SECRET", "TOPSECRET", "3":
		return TopSecret, nil
	default:
		return Public, fmt.Errorf("invalid security level: %q", s)
	}
}

// FileRecord is the authoritative metadata for one stored file. ID is the content hash of
// the bytes the file was created with and never changes.
type FileRecord struct {
	ID            string        `json:"-"`
	Path          string        `json:"path"`
	Created       time.Time     `json:"created"`
	Modified      time.Time     `json:"modified"`
	SecurityLevel SecurityLevel `json:"security_level"`
	Checksum      string        `json:"checksum"`
	Size          int64         `json:"size"`
}

// CacheStats represents cache performance statistics
type CacheStats struct {
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Evictions uint64  `json:"evictions"`
	Entries   int     `json:"entries"`
	Capacity  int     `json:"capacity"`
	HitRate   float64 `json:"hit_rate"`
}

// SecurityEventType names what a SecurityEvent reports.
type SecurityEventType string

const (
	EventSessionCreated  SecurityEventType = "session_created"
	EventSessionRejected SecurityEventType = "session_rejected"
	EventSessionInvalid  SecurityEventType = "session_invalid"
	EventSessionExpired  SecurityEventType = "session_expired"
	EventFailedAttempt   SecurityEventType = "failed_attempt"
)

// SecurityEvent is an immutable record of a security decision.
type SecurityEvent struct {
	ID        string            `json:"id"`
	Type      SecurityEventType `json:"type"`
	UserID    string            `json:"user_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	Success   bool              `json:"success"`
	Detail    string            `json:"detail,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// SystemMetrics is an immutable point-in-time snapshot of the store.
type SystemMetrics struct {
	Timestamp           time.Time `json:"timestamp"`
	FileCount           int       `json:"file_count"`
	CacheEntries        int       `json:"cache_entries"`
	CacheHits           uint64    `json:"cache_hits"`
	CacheMisses         uint64    `json:"cache_misses"`
	CacheHitRate        float64   `json:"cache_hit_rate"`
	ActiveSessions      int       `json:"active_sessions"`
	ActiveLocks         int       `json:"active_locks"`
	ActiveTransactions  int       `json:"active_transactions"`
	CompletedOperations uint64    `json:"completed_operations"`
	FailedOperations    uint64    `json:"failed_operations"`
}
