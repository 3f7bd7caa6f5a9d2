// Package vault is the in-process API of vaultstore for host applications.
//
// It follows an absence contract: file operations report failure as a missing result
// (empty id, nil bytes, false) and log the cause, so callers never branch on internal
// error codes. Session creation is the exception and returns lockout and rate-limit
// failures as errors.
package vault

import (
	"context"

	"go.uber.org/zap"

	"github.com/objectfs/vaultstore/internal/config"
	"github.com/objectfs/vaultstore/internal/coordinator"
	"github.com/objectfs/vaultstore/pkg/errors"
	"github.com/objectfs/vaultstore/pkg/types"
)

// SecurityLevel re-exports the classification recorded on files.
type SecurityLevel = types.SecurityLevel

const (
	Public       = types.Public
	Confidential = types.Confidential
	Secret       = types.Secret
	TopSecret    = types.TopSecret
)

// Store is a started vaultstore rooted at a filesystem path.
type Store struct {
	coordinator *coordinator.Coordinator
	logger      *zap.Logger
}

// Open starts a store with cfg. A nil cfg uses defaults rooted at root.
func Open(ctx context.Context, root string, cfg *config.Configuration, logger *zap.Logger) (*Store, error) {
	if cfg == nil {
		cfg = config.NewDefault()
	}
	if root != "" {
		cfg.Store.Root = root
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c, err := coordinator.New(ctx, coordinator.Options{Config: cfg, Logger: logger.Named("coordinator")})
	if err != nil {
		return nil, err
	}
	if err := c.Start(ctx); err != nil {
		_ = c.Shutdown(ctx)
		return nil, err
	}

	return &Store{coordinator: c, logger: logger}, nil
}

// Coordinator exposes the underlying coordinator for hosts that need the full API.
func (s *Store) Coordinator() *coordinator.Coordinator {
	return s.coordinator
}

// CreateSession issues a session for userID. A locked-out or rate-limited user gets a
// security error.
func (s *Store) CreateSession(userID string) (string, error) {
	id, err := s.coordinator.CreateSession(userID)
	if err != nil {
		s.logger.Warn("Session refused", zap.String("user_id", userID), zap.Error(err))
		return "", err
	}
	return id, nil
}

// CreateFile stores data and returns its identifier, or false on any failure.
func (s *Store) CreateFile(ctx context.Context, sessionID string, data []byte, level SecurityLevel) (string, bool) {
	id, err := s.coordinator.CreateFile(ctx, sessionID, data, level)
	if err != nil {
		s.absent("create_file", "", err)
		return "", false
	}
	return id, true
}

// ReadFile returns the content of fileID, or false on any failure.
func (s *Store) ReadFile(ctx context.Context, fileID, sessionID string) ([]byte, bool) {
	data, err := s.coordinator.ReadFile(ctx, fileID, sessionID)
	if err != nil {
		s.absent("read_file", fileID, err)
		return nil, false
	}
	return data, true
}

// WriteFile replaces the content of fileID and reports whether it succeeded.
func (s *Store) WriteFile(ctx context.Context, fileID, sessionID string, data []byte) bool {
	if err := s.coordinator.WriteFile(ctx, fileID, sessionID, data); err != nil {
		s.absent("write_file", fileID, err)
		return false
	}
	return true
}

// Shutdown persists metadata and releases resources. It is idempotent.
func (s *Store) Shutdown(ctx context.Context) error {
	return s.coordinator.Shutdown(ctx)
}

func (s *Store) absent(op, fileID string, err error) {
	s.logger.Info("Operation returned no result",
		zap.String("operation", op),
		zap.String("file_id", fileID),
		zap.String("code", string(errors.CodeOf(err))),
		zap.Error(err))
}
