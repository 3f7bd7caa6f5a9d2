// Package transaction provides begin/commit/rollback bookkeeping for store operations.
//
// Transactions record intent only. Commit and rollback change status; neither undoes disk
// writes or metadata updates, so callers make the mutation the last step before commit.
package transaction

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/objectfs/vaultstore/pkg/errors"
)

// Status represents the lifecycle state of a transaction
type Status int

const (
	// StatusPending indicates the transaction is open
	StatusPending Status = iota

	// StatusCompleted indicates the transaction was committed
	StatusCompleted

	// StatusRolledBack indicates the transaction was rolled back
	StatusRolledBack
)

// String returns the string representation of a transaction status
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusCompleted:
		return "completed"
	case StatusRolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusRolledBack
}

// Operation is one entry in a transaction's operation log.
type Operation struct {
	Type      string    `json:"type"`
	FileID    string    `json:"file_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Transaction is a snapshot of a tracked transaction
type Transaction struct {
	ID         string      `json:"id"`
	UserID     string      `json:"user_id"`
	Timestamp  time.Time   `json:"timestamp"`
	Status     Status      `json:"status"`
	Operations []Operation `json:"operations"`
	EndTime    *time.Time  `json:"end_time,omitempty"`
}

func (t *Transaction) clone() Transaction {
	c := *t
	c.Operations = append([]Operation(nil), t.Operations...)
	if t.EndTime != nil {
		end := *t.EndTime
		c.EndTime = &end
	}
	return c
}

// Config configures transaction tracking behavior
type Config struct {
	// MaxHistory bounds the completed archive, dropping the oldest first. Zero keeps all.
	MaxHistory int
	Now        func() time.Time
}

// Manager tracks active transactions and archives finished ones.
type Manager struct {
	mu      sync.Mutex
	active  map[string]*Transaction
	history []*Transaction
	config  Config
}

// NewManager creates a new transaction manager
func NewManager(config Config) *Manager {
	if config.MaxHistory < 0 {
		config.MaxHistory = 0
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Manager{
		active: make(map[string]*Transaction),
		config: config,
	}
}

// Begin opens a pending transaction for userID with an empty operation log.
func (m *Manager) Begin(userID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &Transaction{
		ID:         uuid.NewString(),
		UserID:     userID,
		Timestamp:  m.config.Now(),
		Status:     StatusPending,
		Operations: make([]Operation, 0),
	}
	m.active[tx.ID] = tx
	return tx.ID
}

// Commit marks an active transaction completed. It returns false for unknown or finished ids.
func (m *Manager) Commit(id string) bool {
	return m.finish(id, StatusCompleted)
}

// Rollback marks an active transaction rolled back. It returns false for unknown or
// finished ids.
func (m *Manager) Rollback(id string) bool {
	return m.finish(id, StatusRolledBack)
}

// RecordOperation appends op to an active transaction's log.
func (m *Manager) RecordOperation(id string, op Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, exists := m.active[id]
	if !exists {
		return errors.New(errors.ErrCodeTransactionNotActive, "transaction not active").
			WithComponent("transaction").
			WithOperation("record_operation").
			WithContext("transaction_id", id)
	}
	if op.Timestamp.IsZero() {
		op.Timestamp = m.config.Now()
	}
	tx.Operations = append(tx.Operations, op)
	return nil
}

// Get returns a transaction by id, whether active or archived.
func (m *Manager) Get(id string) (Transaction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tx, exists := m.active[id]; exists {
		return tx.clone(), true
	}
	for i := len(m.history) - 1; i >= 0; i-- {
		if m.history[i].ID == id {
			return m.history[i].clone(), true
		}
	}
	return Transaction{}, false
}

// Active returns the number of pending transactions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// History returns archived transactions, oldest first.
func (m *Manager) History() []Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Transaction, 0, len(m.history))
	for _, tx := range m.history {
		out = append(out, tx.clone())
	}
	return out
}

func (m *Manager) finish(id string, status Status) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, exists := m.active[id]
	if !exists {
		return false
	}

	now := m.config.Now()
	tx.Status = status
	tx.EndTime = &now
	delete(m.active, id)

	m.history = append(m.history, tx)
	if m.config.MaxHistory > 0 && len(m.history) > m.config.MaxHistory {
		m.history = m.history[len(m.history)-m.config.MaxHistory:]
	}
	return true
}
