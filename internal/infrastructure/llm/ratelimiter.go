package llm

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket sized to requestsPerMinute, refilling
// continuously. Acquire blocks only long enough to earn back exactly
// one token when the bucket is empty (spec §4.F), never longer.
type RateLimiter struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	refillRate float64 // tokens per second
	last       time.Time
}

func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	rate := float64(requestsPerMinute) / 60.0
	return &RateLimiter{
		capacity:   float64(requestsPerMinute),
		tokens:     float64(requestsPerMinute),
		refillRate: rate,
		last:       time.Now(),
	}
}

// Acquire blocks until one token is available or ctx is cancelled.
func (r *RateLimiter) Acquire(ctx context.Context) error {
	for {
		r.mu.Lock()
		r.refillLocked()
		if r.tokens >= 1 {
			r.tokens--
			r.mu.Unlock()
			return nil
		}
		wait := time.Duration((1 - r.tokens) / r.refillRate * float64(time.Second))
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (r *RateLimiter) refillLocked() {
	now := time.Now()
	elapsed := now.Sub(r.last).Seconds()
	r.last = now
	r.tokens += elapsed * r.refillRate
	if r.tokens > r.capacity {
		r.tokens = r.capacity
	}
}
