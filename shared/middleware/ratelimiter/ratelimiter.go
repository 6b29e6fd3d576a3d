// Package ratelimiter keeps one token bucket per identity and forgets idle ones.
package ratelimiter

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type entry struct {
	limiter *rate.Limiter
	timer   *time.Timer
}

// UserRateLimiter manages rate limiting for multiple identities
type UserRateLimiter struct {
	mu             sync.Mutex
	entries        map[string]*entry
	rate           rate.Limit
	burst          int
	expirationTime time.Duration
}

// New creates a limiter allowing perSecond requests with the given burst for
// every identity. Identities idle for expiration are dropped.
func New(perSecond float64, burst int, expiration time.Duration) *UserRateLimiter {
	return &UserRateLimiter{
		entries:        make(map[string]*entry),
		rate:           rate.Limit(perSecond),
		burst:          burst,
		expirationTime: expiration,
	}
}

func Rps10() *UserRateLimiter { return New(10, 10, time.Hour) }
func Rps100() *UserRateLimiter { return New(100, 100, time.Hour) }
func OnceInSecond() *UserRateLimiter { return New(1, 1, time.Hour) }

func (u *UserRateLimiter) get(identity string) *rate.Limiter {
	u.mu.Lock()
	defer u.mu.Unlock()

	e, ok := u.entries[identity]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(u.rate, u.burst)}
		u.entries[identity] = e
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(u.expirationTime, func() { u.forget(identity, e) })
	return e.limiter
}

func (u *UserRateLimiter) forget(identity string, e *entry) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if cur, ok := u.entries[identity]; ok && cur == e {
		delete(u.entries, identity)
	}
}

// Allow checks if a request should be allowed for a given identity
func (u *UserRateLimiter) Allow(identity string) bool {
	return u.get(identity).Allow()
}

// Len is the number of identities currently tracked.
func (u *UserRateLimiter) Len() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.entries)
}

// Stop cleans up all timers
func (u *UserRateLimiter) Stop() {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, e := range u.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
}
