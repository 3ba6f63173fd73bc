// Package retry provides the retry combinator shared by the client's chunk
// transfers, the worker's replication fan-out, and the heartbeat emitter.
// It wraps cenkalti/backoff with a policy struct and an is-retriable
// predicate so call sites declare intent instead of hand-rolling loops.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/driftfs/driftfs/internal/logger"
	"github.com/driftfs/driftfs/pkg/errdefs"
)

// Policy parameterizes a retry loop.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// BaseDelay is the initial backoff interval.
	BaseDelay time.Duration
	// Factor multiplies the interval after each failed attempt.
	Factor float64
	// MaxDelay caps the interval. Zero means no cap.
	MaxDelay time.Duration
	// PerTryTimeout bounds each individual attempt. Zero means no bound
	// beyond the caller's context.
	PerTryTimeout time.Duration
	// IsRetriable decides whether a failure is worth another attempt.
	// Defaults to errdefs.IsRetriable.
	IsRetriable func(error) bool
}

// DefaultTransfer is the chunk transfer policy: base 1 s, factor 2, up to
// 3 retries, 120 s per attempt.
func DefaultTransfer() Policy {
	return Policy{
		MaxRetries:    3,
		BaseDelay:     time.Second,
		Factor:        2,
		MaxDelay:      30 * time.Second,
		PerTryTimeout: 120 * time.Second,
	}
}

// Do runs op under the policy until it succeeds, exhausts its retries, fails
// with a non-retriable error, or ctx is cancelled. The last error is
// returned.
func Do(ctx context.Context, p Policy, operation string, op func(ctx context.Context) error) error {
	retriable := p.IsRetriable
	if retriable == nil {
		retriable = errdefs.IsRetriable
	}

	eb := backoff.NewExponentialBackOff()
	if p.BaseDelay > 0 {
		eb.InitialInterval = p.BaseDelay
	}
	if p.Factor > 0 {
		eb.Multiplier = p.Factor
	}
	if p.MaxDelay > 0 {
		eb.MaxInterval = p.MaxDelay
	}
	eb.MaxElapsedTime = 0 // bounded by attempt count, not wall clock

	attempt := 0
	run := func() error {
		attempt++
		tryCtx := ctx
		cancel := context.CancelFunc(func() {})
		if p.PerTryTimeout > 0 {
			tryCtx, cancel = context.WithTimeout(ctx, p.PerTryTimeout)
		}
		err := op(tryCtx)
		cancel()
		if err == nil {
			return nil
		}
		if !retriable(err) {
			return backoff.Permanent(err)
		}
		if attempt <= p.MaxRetries {
			logger.Debug("retrying after transient failure",
				logger.KeyOperation, operation,
				logger.KeyAttempt, attempt,
				logger.KeyMaxRetries, p.MaxRetries,
				logger.KeyError, err.Error())
		}
		return err
	}

	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(p.MaxRetries)), ctx)
	return backoff.Retry(run, b)
}
