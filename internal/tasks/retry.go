package tasks

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/jddlt/sora2api/internal/api"
	"github.com/jddlt/sora2api/internal/logging"
)

// RetryPolicy retries an operation with capped exponential backoff and
// jitter. Only errors the remote service marks as transient overload are
// retried; everything else surfaces immediately.
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultRetryPolicy matches the service's published guidance for load
// shedding: a handful of attempts spread over a few seconds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 4,
		BaseBackoff: 500 * time.Millisecond,
		MaxBackoff:  8 * time.Second,
	}
}

// Do runs op, retrying while it reports a retryable error. The last error is
// returned once attempts are exhausted or the context ends.
func (p RetryPolicy) Do(ctx context.Context, op func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	backoff := p.BaseBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = op(ctx)
		if err == nil || !api.IsRetryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		wait := backoff + time.Duration(rand.Int63n(int64(backoff/2+1)))
		logging.FromContext(ctx).Debug("retrying after overload",
			slog.Int("attempt", attempt),
			slog.Duration("backoff", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if backoff = backoff * 2; p.MaxBackoff > 0 && backoff > p.MaxBackoff {
			backoff = p.MaxBackoff
		}
	}
	return err
}
