package circuit

import (
	"context"

	"go.uber.org/zap"

	"github.com/objectfs/vaultstore/pkg/types"
)

// Backend routes reads and writes of an inner backend through a Breaker.
type Backend struct {
	inner   types.Backend
	breaker *Breaker
}

// Guard wraps inner. State changes are logged at warn level.
func Guard(name string, inner types.Backend, config Config, logger *zap.Logger) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	onChange := config.OnStateChange
	config.OnStateChange = func(name string, from, to State) {
		logger.Warn("Circuit breaker state changed",
			zap.String("breaker", name),
			zap.Stringer("from", from),
			zap.Stringer("to", to))
		if onChange != nil {
			onChange(name, from, to)
		}
	}

	return &Backend{
		inner:   inner,
		breaker: NewBreaker(name, config),
	}
}

// Breaker returns the breaker guarding the backend.
func (b *Backend) Breaker() *Breaker {
	return b.breaker
}

// Write implements types.Backend.
func (b *Backend) Write(ctx context.Context, id string, data []byte) error {
	return b.breaker.Execute(ctx, func(ctx context.Context) error {
		return b.inner.Write(ctx, id, data)
	})
}

// Read implements types.Backend.
func (b *Backend) Read(ctx context.Context, id string) ([]byte, error) {
	var data []byte
	err := b.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		data, err = b.inner.Read(ctx, id)
		return err
	})
	return data, err
}

// Location implements types.Backend.
func (b *Backend) Location(id string) string {
	return b.inner.Location(id)
}

// Close implements types.Backend.
func (b *Backend) Close() error {
	return b.inner.Close()
}
