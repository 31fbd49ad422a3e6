package worker

import (
	"context"
	"errors"
	"strings"
	"time"

	"bucketzip/internal/storage"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// RetryPolicy configures retries around fetches and uploads. Zero Retries
// runs the operation exactly once.
type RetryPolicy struct {
	Retries int
	Backoff time.Duration
}

// Retry runs op, retrying retriable failures with exponential backoff. It
// returns the number of attempts made along with the final error.
func Retry(ctx context.Context, policy RetryPolicy, logger *zap.Logger, op func() error) (int, error) {
	attempts := 0
	operation := func() error {
		attempts++
		err := op()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !IsRetriable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	if policy.Retries <= 0 {
		err := op()
		return 1, err
	}

	b := backoff.NewExponentialBackOff()
	if policy.Backoff > 0 {
		b.InitialInterval = policy.Backoff
	}
	b.MaxElapsedTime = 0

	notify := func(err error, wait time.Duration) {
		logger.Warn("Attempt failed, retrying",
			zap.Int("attempt", attempts),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
	}

	err := backoff.RetryNotify(operation,
		backoff.WithContext(backoff.WithMaxRetries(b, uint64(policy.Retries)), ctx),
		notify,
	)
	return attempts, err
}

// IsRetriable classifies transport and server side failures as retriable.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, storage.ErrNotFound) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "temporary") ||
		strings.Contains(errStr, "network") ||
		strings.Contains(errStr, "dns") ||
		strings.Contains(errStr, "eof") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") ||
		strings.Contains(errStr, "internal server error") ||
		strings.Contains(errStr, "bad gateway") ||
		strings.Contains(errStr, "service unavailable") ||
		strings.Contains(errStr, "gateway timeout") ||
		strings.Contains(errStr, "slow down")
}
