package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftfs/driftfs/pkg/errdefs"
)

func fastPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		Factor:     2,
	}
}

func TestDo(t *testing.T) {
	t.Run("SucceedsFirstAttempt", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), fastPolicy(), "test", func(ctx context.Context) error {
			calls++
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("RetriesTransientFailures", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), fastPolicy(), "test", func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return fmt.Errorf("attempt %d: %w", calls, errdefs.ErrUnreachable)
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("StopsAfterMaxRetries", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), fastPolicy(), "test", func(ctx context.Context) error {
			calls++
			return errdefs.ErrUnreachable
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, errdefs.ErrUnreachable)
		assert.Equal(t, 4, calls) // first attempt + 3 retries
	})

	t.Run("FailsFastOnNonRetriable", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), fastPolicy(), "test", func(ctx context.Context) error {
			calls++
			return errdefs.ErrPathConflict
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, errdefs.ErrPathConflict)
		assert.Equal(t, 1, calls)
	})

	t.Run("HonorsContextCancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		err := Do(ctx, Policy{MaxRetries: 100, BaseDelay: 10 * time.Millisecond}, "test",
			func(ctx context.Context) error {
				calls++
				if calls == 2 {
					cancel()
				}
				return errdefs.ErrUnreachable
			})
		require.Error(t, err)
		assert.LessOrEqual(t, calls, 3)
	})

	t.Run("CustomPredicate", func(t *testing.T) {
		sentinel := errors.New("flaky")
		p := fastPolicy()
		p.IsRetriable = func(err error) bool { return errors.Is(err, sentinel) }

		calls := 0
		err := Do(context.Background(), p, "test", func(ctx context.Context) error {
			calls++
			if calls == 1 {
				return sentinel
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("PerTryTimeoutBoundsAttempt", func(t *testing.T) {
		p := Policy{
			MaxRetries:    1,
			BaseDelay:     time.Millisecond,
			PerTryTimeout: 10 * time.Millisecond,
			IsRetriable:   func(error) bool { return true },
		}
		calls := 0
		err := Do(context.Background(), p, "test", func(ctx context.Context) error {
			calls++
			<-ctx.Done()
			return ctx.Err()
		})
		require.Error(t, err)
		assert.Equal(t, 2, calls)
	})
}

func TestDefaultTransfer(t *testing.T) {
	p := DefaultTransfer()
	assert.Equal(t, 3, p.MaxRetries)
	assert.Equal(t, time.Second, p.BaseDelay)
	assert.Equal(t, float64(2), p.Factor)
	assert.Equal(t, 120*time.Second, p.PerTryTimeout)
}
