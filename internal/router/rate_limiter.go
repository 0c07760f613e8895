package router

import (
	"sync"
	"time"
)

// DefaultEventsPerMinute is the per-user inbound event allowance.
const DefaultEventsPerMinute = 100

// RateLimiter implements per-user rate limiting over fixed windows.
// ARCHITECTURAL DISCOVERY: Per-user state tracking with periodic cleanup prevents memory leaks
type RateLimiter struct {
	mu     sync.Mutex
	users  map[string]*userLimit
	limit  int
	window time.Duration
	now    func() time.Time
}

type userLimit struct {
	count       int
	windowStart time.Time
}

// NewRateLimiter allows limit events per window for each user. Non-positive
// values fall back to DefaultEventsPerMinute per minute.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = DefaultEventsPerMinute
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		users:  make(map[string]*userLimit),
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// SetClock replaces the time source.
func (rl *RateLimiter) SetClock(now func() time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.now = now
}

// Allow reports whether userID may send another event in the current window.
func (rl *RateLimiter) Allow(userID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	l, ok := rl.users[userID]
	if !ok || now.Sub(l.windowStart) >= rl.window {
		// FUNCTIONAL DISCOVERY: First event of a window is always allowed
		rl.users[userID] = &userLimit{count: 1, windowStart: now}
		return true
	}
	if l.count >= rl.limit {
		return false
	}
	l.count++
	return true
}

// Cleanup removes users idle for five windows and returns how many were removed.
func (rl *RateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	removed := 0
	for userID, l := range rl.users {
		if now.Sub(l.windowStart) > 5*rl.window {
			delete(rl.users, userID)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked users.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.users)
}
