package api

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type accountBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// accountLimiter throttles outbound calls per account so one busy account
// cannot starve another. Idle entries expire after the ttl.
type accountLimiter struct {
	mu      sync.Mutex
	buckets map[string]*accountBucket
	limit   rate.Limit
	burst   int
	ttl     time.Duration
	now     func() time.Time
}

// newAccountLimiter allows up to `requests` calls per `window` per account
// with the provided burst capacity.
func newAccountLimiter(requests int, window time.Duration, burst int) *accountLimiter {
	if requests <= 0 {
		requests = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	if burst <= 0 {
		burst = 1
	}

	return &accountLimiter{
		buckets: make(map[string]*accountBucket),
		limit:   rate.Every(window / time.Duration(requests)),
		burst:   burst,
		ttl:     10 * time.Minute,
		now:     time.Now,
	}
}

// Wait blocks until the account may issue another call or the context ends.
func (l *accountLimiter) Wait(ctx context.Context, account string) error {
	if account == "" {
		account = "unknown"
	}

	now := l.now()

	l.mu.Lock()
	b := l.bucketLocked(account, now)
	l.gcLocked(now)
	l.mu.Unlock()

	return b.limiter.Wait(ctx)
}

func (l *accountLimiter) bucketLocked(account string, now time.Time) *accountBucket {
	if b, ok := l.buckets[account]; ok {
		b.lastSeen = now
		return b
	}

	b := &accountBucket{limiter: rate.NewLimiter(l.limit, l.burst), lastSeen: now}
	l.buckets[account] = b
	return b
}

func (l *accountLimiter) gcLocked(now time.Time) {
	for account, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.ttl {
			delete(l.buckets, account)
		}
	}
}
