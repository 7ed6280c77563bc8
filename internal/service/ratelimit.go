package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// RateLimiter tracks per-user, per-command cooldowns in memory. Entries
// live in an expirable LRU so abandoned users age out on their own.
type RateLimiter struct {
	cache *expirable.LRU[string, time.Time]
	now   func() time.Time
}

// NewRateLimiter creates a limiter holding up to size entries, each
// retained at most maxTTL. maxTTL must cover the longest cooldown the
// limiter will be asked about.
func NewRateLimiter(size int, maxTTL time.Duration) *RateLimiter {
	if size <= 0 {
		size = 4096
	}
	return &RateLimiter{
		cache: expirable.NewLRU[string, time.Time](size, nil, maxTTL),
		now:   time.Now,
	}
}

// Allow reports whether the user may run the command now. When the
// cooldown is still running it returns false and the remaining wait.
// A successful call starts a new cooldown window.
func (r *RateLimiter) Allow(userID, command string, cooldown time.Duration) (bool, time.Duration) {
	key := userID + ":" + command
	now := r.now()

	if last, ok := r.cache.Get(key); ok {
		if elapsed := now.Sub(last); elapsed < cooldown {
			return false, cooldown - elapsed
		}
	}

	r.cache.Add(key, now)
	return true, 0
}

// Reset clears the user's cooldown for a command
func (r *RateLimiter) Reset(userID, command string) {
	r.cache.Remove(userID + ":" + command)
}

// SetClock overrides the time source. Intended for tests.
func (r *RateLimiter) SetClock(now func() time.Time) {
	r.now = now
}
