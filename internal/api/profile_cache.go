package api

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ProfileSource looks up the remote profile for an account.
type ProfileSource interface {
	Me(ctx context.Context, account string) (Profile, error)
}

type profileEntry struct {
	profile Profile
	expires time.Time
}

// CachingProfileSource wraps a ProfileSource with a TTL-based in-memory
// cache, keyed by account.
type CachingProfileSource struct {
	base ProfileSource
	ttl  time.Duration

	mu    sync.RWMutex
	items map[string]profileEntry
}

// NewCachingProfileSource returns a ProfileSource that caches lookups for
// the provided TTL.
func NewCachingProfileSource(base ProfileSource, ttl time.Duration) *CachingProfileSource {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachingProfileSource{
		base:  base,
		ttl:   ttl,
		items: make(map[string]profileEntry),
	}
}

// Me returns the cached profile when fresh, otherwise it delegates to the
// underlying source and stores the result.
func (c *CachingProfileSource) Me(ctx context.Context, account string) (Profile, error) {
	if c == nil || c.base == nil {
		return Profile{}, errors.New("profile source unavailable")
	}

	now := time.Now()

	c.mu.RLock()
	entry, ok := c.items[account]
	c.mu.RUnlock()
	if ok && now.Before(entry.expires) {
		return entry.profile, nil
	}

	profile, err := c.base.Me(ctx, account)
	if err != nil {
		return Profile{}, err
	}

	c.mu.Lock()
	c.items[account] = profileEntry{profile: profile, expires: now.Add(c.ttl)}
	c.mu.Unlock()

	return profile, nil
}

// Invalidate drops the cached profile for an account.
func (c *CachingProfileSource) Invalidate(account string) {
	c.mu.Lock()
	delete(c.items, account)
	c.mu.Unlock()
}
