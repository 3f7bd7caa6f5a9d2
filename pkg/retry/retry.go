// Package retry provides caller-side retry with exponential backoff for vaultstore
// operations, chiefly writes that lose the race for a file's conflict lock.
package retry

import (
	"context"
	stderr "errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/objectfs/vaultstore/pkg/errors"
)

// Config defines retry behavior configuration
type Config struct {
	// MaxAttempts is the maximum number of attempts, including the first one
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`

	// InitialDelay is the delay before the first retry
	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay"`

	// MaxDelay is the maximum delay between retries
	MaxDelay time.Duration `yaml:"max_delay" json:"max_delay"`

	// Multiplier is the factor by which delay increases after each retry
	Multiplier float64 `yaml:"multiplier" json:"multiplier"`

	// Jitter randomizes each delay by ±20%
	Jitter bool `yaml:"jitter" json:"jitter"`

	// RetryableErrors lists codes retried in addition to errors flagged Retryable
	RetryableErrors []errors.ErrorCode `yaml:"retryable_errors" json:"retryable_errors"`

	// OnRetry is called before each retry attempt
	OnRetry func(attempt int, err error, delay time.Duration) `yaml:"-" json:"-"`
}

// DefaultConfig returns a sensible default retry configuration
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
		RetryableErrors: []errors.ErrorCode{
			errors.ErrCodeLockContended,
			errors.ErrCodeBackendUnavailable,
		},
	}
}

// Retryer handles retry logic with exponential backoff
type Retryer struct {
	config Config
}

// New creates a new Retryer with the given configuration
func New(config Config) *Retryer {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 100 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 5 * time.Second
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}

	return &Retryer{config: config}
}

// Do executes fn with retry logic
func (r *Retryer) Do(fn func() error) error {
	return r.DoWithContext(context.Background(), func(ctx context.Context) error {
		return fn()
	})
}

// DoWithContext executes fn until it succeeds, fails with a non-retryable error, the
// attempts are exhausted or ctx is done.
func (r *Retryer) DoWithContext(ctx context.Context, fn func(context.Context) error) error {
	attempt := 0

	operation := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}

		attempt++
		err := fn(ctx)
		if err != nil && !r.shouldRetry(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, delay time.Duration) {
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}
	}

	err := backoff.RetryNotify(operation, r.newBackOff(ctx), notify)
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return fmt.Errorf("operation canceled after %d attempts: %w", attempt, ctx.Err())
	case !r.shouldRetry(err):
		return err
	default:
		return fmt.Errorf("max retry attempts (%d) exceeded: %w", r.config.MaxAttempts, err)
	}
}

func (r *Retryer) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.config.InitialDelay
	b.MaxInterval = r.config.MaxDelay
	b.Multiplier = r.config.Multiplier
	b.MaxElapsedTime = 0
	b.RandomizationFactor = 0
	if r.config.Jitter {
		b.RandomizationFactor = 0.2
	}
	b.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.config.MaxAttempts-1)), ctx)
}

// shouldRetry determines if an error is retryable
func (r *Retryer) shouldRetry(err error) bool {
	var vErr *errors.Error
	if !stderr.As(err, &vErr) {
		return false
	}
	if vErr.Retryable {
		return true
	}
	for _, code := range r.config.RetryableErrors {
		if vErr.Code == code {
			return true
		}
	}
	return false
}

// WithMaxAttempts returns a new Retryer with modified max attempts
func (r *Retryer) WithMaxAttempts(attempts int) *Retryer {
	newConfig := r.config
	newConfig.MaxAttempts = attempts
	return New(newConfig)
}

// WithInitialDelay returns a new Retryer with modified initial delay
func (r *Retryer) WithInitialDelay(delay time.Duration) *Retryer {
	newConfig := r.config
	newConfig.InitialDelay = delay
	return New(newConfig)
}

// WithOnRetry returns a new Retryer with a retry callback
func (r *Retryer) WithOnRetry(callback func(attempt int, err error, delay time.Duration)) *Retryer {
	newConfig := r.config
	newConfig.OnRetry = callback
	return New(newConfig)
}

// RetryWithBackoff is a convenience function for simple retry scenarios
func RetryWithBackoff(ctx context.Context, maxAttempts int, fn func() error) error {
	config := DefaultConfig()
	config.MaxAttempts = maxAttempts
	return New(config).DoWithContext(ctx, func(ctx context.Context) error {
		return fn()
	})
}
