// Package journal durably mirrors file records and version history in BadgerDB so a store
// that was not shut down cleanly can recover state the metadata snapshot missed.
package journal

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/objectfs/vaultstore/pkg/errors"
	"github.com/objectfs/vaultstore/pkg/types"
)

// Key namespace:
//
//	r:<file_id>                 FileRecord (JSON)
//	v:<file_id>:<seq %020d>     version id
//	seq:versions                badger sequence ordering version appends
const (
	prefixRecord  = "r:"
	prefixVersion = "v:"
	keySequence   = "seq:versions"
)

// Journal is a types.Journal backed by BadgerDB.
type Journal struct {
	mu     sync.Mutex
	db     *badger.DB
	seq    *badger.Sequence
	logger *zap.Logger
	closed bool
}

// Open opens or creates the journal in dir.
func Open(dir string, logger *zap.Logger) (*Journal, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := badger.DefaultOptions(dir).
		WithLoggingLevel(badger.WARNING).
		WithSyncWrites(true)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeIOFailure, "failed to open journal").
			WithComponent("journal").
			WithContext("dir", dir)
	}

	seq, err := db.GetSequence([]byte(keySequence), 128)
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.ErrCodeIOFailure, "failed to lease journal sequence").
			WithComponent("journal")
	}

	logger.Info("Journal opened", zap.String("dir", dir))
	return &Journal{db: db, seq: seq, logger: logger}, nil
}

// PutRecord stores the latest state of a record.
func (j *Journal) PutRecord(record types.FileRecord) error {
	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	err = j.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(prefixRecord+record.ID), value)
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeIOFailure, "failed to journal record").
			WithComponent("journal").
			WithContext("file_id", record.ID)
	}
	return nil
}

// AppendVersion appends versionID to fileID's history.
func (j *Journal) AppendVersion(fileID, versionID string) error {
	n, err := j.seq.Next()
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeIOFailure, "failed to allocate version sequence").
			WithComponent("journal")
	}

	key := fmt.Sprintf("%s%s:%020d", prefixVersion, fileID, n)
	err = j.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), []byte(versionID))
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeIOFailure, "failed to journal version").
			WithComponent("journal").
			WithContext("file_id", fileID)
	}
	return nil
}

// Records returns every journaled record.
func (j *Journal) Records() ([]types.FileRecord, error) {
	var records []types.FileRecord

	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixRecord)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			id := strings.TrimPrefix(string(item.Key()), prefixRecord)

			var rec types.FileRecord
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("corrupt record %s: %w", id, err)
			}
			rec.ID = id
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeIOFailure, "failed to read journal records").
			WithComponent("journal")
	}
	return records, nil
}

// Versions returns every file's version history in append order.
func (j *Journal) Versions() (map[string][]string, error) {
	versions := make(map[string][]string)

	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixVersion)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			rest := strings.TrimPrefix(string(item.Key()), prefixVersion)
			sep := strings.LastIndexByte(rest, ':')
			if sep < 0 {
				continue
			}
			fileID := rest[:sep]

			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			versions[fileID] = append(versions[fileID], string(value))
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeIOFailure, "failed to read journal versions").
			WithComponent("journal")
	}
	return versions, nil
}

// Close releases the sequence lease and closes the database. It is idempotent.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true

	if err := j.seq.Release(); err != nil {
		j.logger.Warn("Failed to release journal sequence", zap.Error(err))
	}
	return j.db.Close()
}
