// Package ratelimit implements per-team token bucket limits on job submission.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Config holds rate limiter configuration. A non-positive SubmissionsPerSecond
// disables limiting.
type Config struct {
	SubmissionsPerSecond float64
	Burst                int
}

// Limiter manages one token bucket per team.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.SubmissionsPerSecond)
	if cfg.SubmissionsPerSecond <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     r,
		burst:    burst,
	}
}

// Allow reports whether teamID may submit another job now, consuming a token
// if so. It never blocks.
func (l *Limiter) Allow(teamID string) bool {
	if l == nil || l.rate == rate.Inf {
		return true
	}
	l.mu.Lock()
	limiter, exists := l.limiters[teamID]
	if !exists {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[teamID] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow()
}
