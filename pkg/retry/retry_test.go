package retry

import (
	"context"
	stderr "errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/objectfs/vaultstore/pkg/errors"
)

func fastConfig(attempts int) Config {
	config := DefaultConfig()
	config.MaxAttempts = attempts
	config.InitialDelay = time.Millisecond
	config.MaxDelay = 5 * time.Millisecond
	config.Jitter = false
	return config
}

func TestRetryer_Success(t *testing.T) {
	retryer := New(fastConfig(3))

	attempts := 0
	err := retryer.Do(func() error {
		attempts++
		return nil
	})

	if err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestRetryer_LockContention(t *testing.T) {
	retryer := New(fastConfig(3))

	attempts := 0
	err := retryer.Do(func() error {
		attempts++
		if attempts < 3 {
			return errors.New(errors.ErrCodeLockContended, "file is locked")
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetryer_NonRetryableError(t *testing.T) {
	retryer := New(fastConfig(3))

	attempts := 0
	testErr := errors.New(errors.ErrCodeNotFound, "file not found")

	err := retryer.Do(func() error {
		attempts++
		return testErr
	})

	if !stderr.Is(err, testErr) {
		t.Errorf("Expected the original error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt (no retry), got %d", attempts)
	}
}

func TestRetryer_PlainErrorNotRetried(t *testing.T) {
	retryer := New(fastConfig(3))

	attempts := 0
	err := retryer.Do(func() error {
		attempts++
		return fmt.Errorf("boom")
	})

	if err == nil || err.Error() != "boom" {
		t.Errorf("Expected boom, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestRetryer_CustomRetryableCode(t *testing.T) {
	config := fastConfig(2)
	config.RetryableErrors = []errors.ErrorCode{errors.ErrCodeIOFailure}
	retryer := New(config)

	attempts := 0
	_ = retryer.Do(func() error {
		attempts++
		return errors.New(errors.ErrCodeIOFailure, "disk hiccup")
	})

	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts)
	}
}

func TestRetryer_MaxAttemptsExceeded(t *testing.T) {
	retryer := New(fastConfig(3))

	attempts := 0
	err := retryer.Do(func() error {
		attempts++
		return errors.New(errors.ErrCodeLockContended, "file is locked")
	})

	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
	if !strings.Contains(err.Error(), "max retry attempts (3) exceeded") {
		t.Errorf("Unexpected error message: %v", err)
	}
	if !errors.IsCode(err, errors.ErrCodeLockContended) {
		t.Errorf("Expected wrapped LOCK_CONTENDED, got %v", err)
	}
}

func TestRetryer_ContextCancellation(t *testing.T) {
	config := fastConfig(10)
	config.InitialDelay = 50 * time.Millisecond
	config.MaxDelay = 50 * time.Millisecond
	retryer := New(config)

	ctx, cancel := context.WithTimeout(context.Background(), 75*time.Millisecond)
	defer cancel()

	attempts := 0
	err := retryer.DoWithContext(ctx, func(ctx context.Context) error {
		attempts++
		return errors.New(errors.ErrCodeLockContended, "file is locked")
	})

	if !stderr.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
	if attempts >= 10 {
		t.Errorf("Expected cancellation to stop retries early, got %d attempts", attempts)
	}
}

func TestRetryer_AlreadyCanceled(t *testing.T) {
	retryer := New(fastConfig(3))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := retryer.DoWithContext(ctx, func(ctx context.Context) error {
		attempts++
		return nil
	})

	if !stderr.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if attempts != 0 {
		t.Errorf("Expected no attempts, got %d", attempts)
	}
}

func TestRetryer_OnRetryCallback(t *testing.T) {
	var calls []int
	var delays []time.Duration

	retryer := New(fastConfig(3)).WithOnRetry(func(attempt int, err error, delay time.Duration) {
		calls = append(calls, attempt)
		delays = append(delays, delay)
	})

	_ = retryer.Do(func() error {
		return errors.New(errors.ErrCodeLockContended, "file is locked")
	})

	if len(calls) != 2 || calls[0] != 1 || calls[1] != 2 {
		t.Errorf("Expected callbacks for attempts [1 2], got %v", calls)
	}
	if len(delays) == 2 && delays[1] < delays[0] {
		t.Errorf("Expected non-decreasing delays, got %v", delays)
	}
}

func TestRetryer_WithMethods(t *testing.T) {
	base := New(DefaultConfig())

	if got := base.WithMaxAttempts(7).config.MaxAttempts; got != 7 {
		t.Errorf("WithMaxAttempts = %d, want 7", got)
	}
	if got := base.WithInitialDelay(time.Second).config.InitialDelay; got != time.Second {
		t.Errorf("WithInitialDelay = %v, want 1s", got)
	}
	if base.config.MaxAttempts != 5 {
		t.Error("With* methods must not modify the original retryer")
	}
}

func TestNew_Defaults(t *testing.T) {
	r := New(Config{})

	if r.config.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", r.config.MaxAttempts)
	}
	if r.config.InitialDelay != 100*time.Millisecond {
		t.Errorf("InitialDelay = %v, want 100ms", r.config.InitialDelay)
	}
	if r.config.Multiplier != 2.0 {
		t.Errorf("Multiplier = %v, want 2", r.config.Multiplier)
	}
}

func TestRetryWithBackoff_Convenience(t *testing.T) {
	attempts := 0
	err := RetryWithBackoff(context.Background(), 2, func() error {
		attempts++
		return nil
	})

	if err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func BenchmarkRetryer_Success(b *testing.B) {
	retryer := New(DefaultConfig())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = retryer.Do(func() error {
			return nil
		})
	}
}
