package types

import (
	"context"
)

// Backend stores file content under its content-hash identifier.
type Backend interface {
	// Write replaces the content stored for id. Implementations hold an exclusive
	// file-scope lock for the duration of the write where the medium supports it.
	Write(ctx context.Context, id string, data []byte) error

	// Read returns the content stored for id under a shared lock where supported.
	Read(ctx context.Context, id string) ([]byte, error)

	// Location returns the storage path recorded in FileRecord.Path.
	Location(id string) string

	Close() error
}

// Journal durably mirrors file records and version history so they survive a restart
// without a clean shutdown.
type Journal interface {
	PutRecord(record FileRecord) error
	AppendVersion(fileID, versionID string) error
	Records() ([]FileRecord, error)
	Versions() (map[string][]string, error)
	Close() error
}
