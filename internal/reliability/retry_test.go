package reliability

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExponentialBackoff(t *testing.T) {
	t.Run("creates with jitter enabled", func(t *testing.T) {
		eb := NewExponentialBackoff(500*time.Millisecond, 30*time.Second, 2.0, 10)

		assert.Equal(t, 500*time.Millisecond, eb.InitialInterval)
		assert.Equal(t, 30*time.Second, eb.MaxInterval)
		assert.Equal(t, 2.0, eb.Multiplier)
		assert.Equal(t, 10, eb.MaxRetries())
		assert.True(t, eb.Jitter)
	})

	t.Run("NextDelay grows until capped", func(t *testing.T) {
		eb := NewExponentialBackoff(time.Second, 10*time.Second, 2.0, 5)
		eb.Jitter = false

		assert.Equal(t, time.Second, eb.NextDelay(0))
		assert.Equal(t, 2*time.Second, eb.NextDelay(1))
		assert.Equal(t, 4*time.Second, eb.NextDelay(2))
		assert.Equal(t, 8*time.Second, eb.NextDelay(3))
		assert.Equal(t, 10*time.Second, eb.NextDelay(4))
		assert.Equal(t, 10*time.Second, eb.NextDelay(9))
	})

	t.Run("NextDelay jitter stays within 15 percent", func(t *testing.T) {
		eb := NewExponentialBackoff(time.Second, 10*time.Second, 2.0, 5)

		for i := 0; i < 20; i++ {
			delay := eb.NextDelay(0)
			assert.GreaterOrEqual(t, delay, 850*time.Millisecond)
			assert.LessOrEqual(t, delay, 1150*time.Millisecond)
		}
	})

	t.Run("ShouldRetry respects max attempts", func(t *testing.T) {
		eb := NewExponentialBackoff(10*time.Millisecond, time.Second, 2.0, 2)

		ok, _ := eb.ShouldRetry(1, errors.New("boom"))
		assert.True(t, ok)
		ok, _ = eb.ShouldRetry(2, errors.New("boom"))
		assert.False(t, ok)
	})

	t.Run("zero max attempts retries forever", func(t *testing.T) {
		eb := NewExponentialBackoff(10*time.Millisecond, time.Second, 2.0, 0)

		ok, _ := eb.ShouldRetry(1000, errors.New("boom"))
		assert.True(t, ok)
	})

	t.Run("permanent errors are not retried", func(t *testing.T) {
		eb := NewExponentialBackoff(10*time.Millisecond, time.Second, 2.0, 3)

		ok, _ := eb.ShouldRetry(0, Permanent(errors.New("access refused")))
		assert.False(t, ok)
	})
}

// steady retries after a constant delay
func steady(delay time.Duration, maxRetries int) *ExponentialBackoff {
	return &ExponentialBackoff{InitialInterval: delay, Multiplier: 1, MaxAttempts: maxRetries}
}

func TestRetry(t *testing.T) {
	t.Run("succeeds on first attempt", func(t *testing.T) {
		attempts := 0
		err := RetryNotify(context.Background(), steady(time.Millisecond, 3), func() error {
			attempts++
			return nil
		}, nil)

		assert.NoError(t, err)
		assert.Equal(t, 1, attempts)
	})

	t.Run("retries until success", func(t *testing.T) {
		attempts := 0
		err := RetryNotify(context.Background(), steady(time.Millisecond, 5), func() error {
			attempts++
			if attempts < 3 {
				return errors.New("connection refused")
			}
			return nil
		}, nil)

		assert.NoError(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		cause := errors.New("connection refused")
		attempts := 0
		err := RetryNotify(context.Background(), steady(time.Millisecond, 2), func() error {
			attempts++
			return cause
		}, nil)

		require.Error(t, err)
		assert.ErrorIs(t, err, ErrMaxRetriesExceeded)
		assert.ErrorIs(t, err, cause)
		assert.Equal(t, 3, attempts)

		var retryErr *RetryError
		require.ErrorAs(t, err, &retryErr)
		assert.Equal(t, 3, retryErr.Attempts)
	})

	t.Run("stops on permanent error", func(t *testing.T) {
		cause := errors.New("access refused")
		attempts := 0
		err := RetryNotify(context.Background(), steady(time.Millisecond, 5), func() error {
			attempts++
			return Permanent(cause)
		}, nil)

		assert.ErrorIs(t, err, cause)
		assert.NotErrorIs(t, err, ErrMaxRetriesExceeded)
		assert.Equal(t, 1, attempts)
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		var attempts int32

		go func() {
			time.Sleep(50 * time.Millisecond)
			cancel()
		}()

		err := RetryNotify(ctx, steady(time.Second, 5), func() error {
			atomic.AddInt32(&attempts, 1)
			return errors.New("boom")
		}, nil)

		assert.Equal(t, context.Canceled, err)
		assert.LessOrEqual(t, atomic.LoadInt32(&attempts), int32(2))
	})
}

func TestRetryNotify(t *testing.T) {
	var notified []int
	attempts := 0

	err := RetryNotify(context.Background(), steady(time.Millisecond, 5), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("boom")
		}
		return nil
	}, func(attempt int, err error, delay time.Duration) {
		assert.EqualError(t, err, "boom")
		assert.Equal(t, time.Millisecond, delay)
		notified = append(notified, attempt)
	})

	assert.NoError(t, err)
	assert.Equal(t, []int{0, 1}, notified)
}

func TestRetryableError(t *testing.T) {
	base := errors.New("wrapped")
	err := RetryableError{Err: base, Retryable: true}

	assert.Equal(t, "wrapped", err.Error())
	assert.True(t, err.IsRetryable())
	assert.Equal(t, base, err.Unwrap())
	assert.True(t, isRetryableError(errors.New("unknown")))
	assert.False(t, isRetryableError(nil))
}
