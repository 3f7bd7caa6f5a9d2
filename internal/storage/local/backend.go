// Package local stores file content as plain files under the store root, named by content
// hash, guarding every access with an OS file-scope lock.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/objectfs/vaultstore/pkg/errors"
	"github.com/objectfs/vaultstore/pkg/utils"
)

// Backend reads and writes <root>/<file_id>.
type Backend struct {
	root   string
	logger *zap.Logger
}

// New creates the root directory if needed and returns a backend rooted there.
func New(root string, logger *zap.Logger) (*Backend, error) {
	if root == "" {
		return nil, errors.New(errors.ErrCodeInvalidConfig, "root directory cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeIOFailure, "failed to create root directory").
			WithComponent("local").
			WithContext("root", root)
	}
	return &Backend{root: filepath.Clean(root), logger: logger}, nil
}

// Root returns the directory content is stored in.
func (b *Backend) Root() string {
	return b.root
}

// Location implements types.Backend.
func (b *Backend) Location(id string) string {
	return filepath.Join(b.root, id)
}

// Write replaces the content of id while holding an exclusive lock on the file.
func (b *Backend) Write(ctx context.Context, id string, data []byte) error {
	path, err := b.path(id, "write")
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeIOFailure, "write canceled").
			WithComponent("local").
			WithOperation("write")
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0640)
	if err != nil {
		return ioError(err, "write", id, "failed to open file")
	}
	defer f.Close()

	if err := lockExclusive(f); err != nil {
		return ioError(err, "write", id, "failed to lock file")
	}
	defer func() {
		if err := unlock(f); err != nil {
			b.logger.Warn("Failed to unlock file", zap.String("file_id", id), zap.Error(err))
		}
	}()

	if err := f.Truncate(0); err != nil {
		return ioError(err, "write", id, "failed to truncate file")
	}
	if _, err := f.WriteAt(data, 0); err != nil {
		return ioError(err, "write", id, "failed to write file")
	}
	if err := f.Sync(); err != nil {
		return ioError(err, "write", id, "failed to sync file")
	}
	return nil
}

// Read returns the content of id while holding a shared lock on the file.
func (b *Backend) Read(ctx context.Context, id string) ([]byte, error) {
	path, err := b.path(id, "read")
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeIOFailure, "read canceled").
			WithComponent("local").
			WithOperation("read")
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.ErrCodeNotFound, "file not found").
				WithComponent("local").
				WithOperation("read").
				WithContext("file_id", id)
		}
		return nil, ioError(err, "read", id, "failed to open file")
	}
	defer f.Close()

	if err := lockShared(f); err != nil {
		return nil, ioError(err, "read", id, "failed to lock file")
	}
	defer func() {
		if err := unlock(f); err != nil {
			b.logger.Warn("Failed to unlock file", zap.String("file_id", id), zap.Error(err))
		}
	}()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, ioError(err, "read", id, "failed to read file")
	}
	return data, nil
}

// List returns the identifiers of every content-hash-named file under the root.
func (b *Backend) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(b.root)
	if err != nil {
		return nil, ioError(err, "list", "", "failed to read root directory")
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !entry.Type().IsRegular() {
			continue
		}
		if utils.ValidateContentHash(entry.Name()) == nil {
			ids = append(ids, entry.Name())
		}
	}
	return ids, nil
}

// Close implements types.Backend.
func (b *Backend) Close() error {
	return nil
}

func (b *Backend) path(id, op string) (string, error) {
	if err := utils.ValidateContentHash(id); err != nil {
		return "", errors.Wrap(err, errors.ErrCodeNotFound, "invalid file identifier").
			WithComponent("local").
			WithOperation(op).
			WithContext("file_id", id)
	}
	path, err := utils.SecureJoin(b.root, id)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeNotFound, "invalid file path").
			WithComponent("local").
			WithOperation(op)
	}
	return path, nil
}

func ioError(err error, op, id, msg string) error {
	e := errors.Wrap(err, errors.ErrCodeIOFailure, msg).
		WithComponent("local").
		WithOperation(op)
	if id != "" {
		e = e.WithContext("file_id", id)
	}
	return e
}

// String describes the backend for logs.
func (b *Backend) String() string {
	return fmt.Sprintf("local(%s)", b.root)
}
