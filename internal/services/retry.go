package services

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/eventpay/backend/internal/ledger"
)

// RetryPolicy re-runs a whole unit of work when the store reports a Conflict.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 20 * time.Millisecond,
		MaxInterval:     250 * time.Millisecond,
	}
}

// Do runs op until it succeeds, fails with a non-retryable error, runs out of
// attempts or ctx is done. The last operation error is returned as-is.
func (p RetryPolicy) Do(ctx context.Context, logger *zap.Logger, name string, op func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	exp := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		exp.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		exp.MaxInterval = p.MaxInterval
	}
	exp.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(attempts-1)), ctx)

	var lastErr error
	err := backoff.RetryNotify(func() error {
		lastErr = op()
		if lastErr != nil && !ledger.IsRetryable(lastErr) {
			return backoff.Permanent(lastErr)
		}
		return lastErr
	}, policy, func(err error, wait time.Duration) {
		if logger != nil {
			logger.Warn("retrying after conflict",
				zap.String("operation", name),
				zap.Duration("wait", wait),
				zap.Error(err),
			)
		}
	})

	// A cancelled context surfaces as ctx.Err(); keep the more specific error.
	if err != nil && lastErr != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return lastErr
	}
	return err
}
