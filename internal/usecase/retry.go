package usecase

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// retryPolicy retries transient cache failures with capped exponential backoff.
type retryPolicy struct {
	attempts       int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

func defaultRetryPolicy() retryPolicy {
	return retryPolicy{attempts: 3, initialBackoff: 50 * time.Millisecond, maxBackoff: time.Second}
}

func (p retryPolicy) run(ctx context.Context, logger *zap.Logger, fn func() error) error {
	backoff := p.initialBackoff
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 1 {
				logger.Info("cache operation succeeded after retry", zap.Int("attempt", attempt))
			}
			return nil
		}
		if attempt >= p.attempts || !isTransientError(err) {
			return err
		}

		logger.Warn("transient cache error", zap.Error(err), zap.Int("attempt", attempt))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, p.maxBackoff)
	}
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
