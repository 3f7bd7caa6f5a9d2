// Package metadata owns the FileRecord table and its metadata.json snapshot.
package metadata

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/objectfs/vaultstore/pkg/errors"
	"github.com/objectfs/vaultstore/pkg/types"
)

// SnapshotFile is the snapshot's file name under the store root.
const SnapshotFile = "metadata.json"

// Table maps file identifiers to their records. It is the authoritative source of which
// files exist.
type Table struct {
	mu      sync.RWMutex
	records map[string]types.FileRecord

	journal types.Journal
	logger  *zap.Logger
}

// NewTable creates an empty table. journal may be nil.
func NewTable(journal types.Journal, logger *zap.Logger) *Table {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Table{
		records: make(map[string]types.FileRecord),
		journal: journal,
		logger:  logger,
	}
}

// Get returns the record for id.
func (t *Table) Get(id string) (types.FileRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[id]
	return rec, ok
}

// Put inserts or replaces a record and mirrors it to the journal.
func (t *Table) Put(record types.FileRecord) {
	t.mu.Lock()
	t.records[record.ID] = record
	t.mu.Unlock()

	if t.journal != nil {
		if err := t.journal.PutRecord(record); err != nil {
			t.logger.Warn("Failed to journal record", zap.String("file_id", record.ID), zap.Error(err))
		}
	}
}

// Len returns the number of records.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}

// IDs returns every identifier in sorted order.
func (t *Table) IDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]string, 0, len(t.records))
	for id := range t.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Restore merges records into the table, typically after loading a journal. Existing
// records win only when they were modified later.
func (t *Table) Restore(records []types.FileRecord) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	restored := 0
	for _, rec := range records {
		if cur, ok := t.records[rec.ID]; ok && !rec.Modified.After(cur.Modified) {
			continue
		}
		t.records[rec.ID] = rec
		restored++
	}
	return restored
}

// Load replaces the table with the snapshot at path. A missing snapshot leaves the table
// empty and is not an error.
func (t *Table) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, errors.ErrCodeSnapshotFailed, "failed to read metadata snapshot").
			WithComponent("metadata").
			WithOperation("load").
			WithContext("path", path)
	}

	var snapshot map[string]types.FileRecord
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return errors.Wrap(err, errors.ErrCodeSnapshotFailed, "failed to parse metadata snapshot").
			WithComponent("metadata").
			WithOperation("load").
			WithContext("path", path)
	}

	records := make(map[string]types.FileRecord, len(snapshot))
	for id, rec := range snapshot {
		rec.ID = id
		records[id] = rec
	}

	t.mu.Lock()
	t.records = records
	t.mu.Unlock()

	t.logger.Info("Metadata snapshot loaded", zap.String("path", path), zap.Int("records", len(records)))
	return nil
}

// Snapshot writes the table to path as a single JSON object keyed by file identifier.
// The file is written to a temporary sibling and renamed into place.
func (t *Table) Snapshot(path string) error {
	t.mu.RLock()
	data, err := json.MarshalIndent(t.records, "", "  ")
	count := len(t.records)
	t.mu.RUnlock()
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSnapshotFailed, "failed to encode metadata snapshot").
			WithComponent("metadata").
			WithOperation("snapshot")
	}

	if err := writeAtomic(path, data); err != nil {
		return errors.Wrap(err, errors.ErrCodeSnapshotFailed, "failed to write metadata snapshot").
			WithComponent("metadata").
			WithOperation("snapshot").
			WithContext("path", path)
	}

	t.logger.Info("Metadata snapshot written", zap.String("path", path), zap.Int("records", count))
	return nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0640); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	tmpName = ""
	return nil
}
