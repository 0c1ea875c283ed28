package ratelimit

import (
	"math/rand"
	"sync"
	"time"
)

// Limiter paces outbound requests to a single host: at most maxInFlight
// concurrent requests, with a base delay plus random jitter between request
// starts. It is shared by everything that talks to the same host so parallel
// workers do not stampede it.
type Limiter struct {
	maxInFlight     int
	currentInFlight int
	mutex           sync.Mutex
	baseDelay       time.Duration
	jitter          time.Duration
	lastRequest     time.Time
}

// NewLimiter creates a limiter with the given concurrency cap and pacing.
func NewLimiter(maxInFlight int, baseDelay, jitter time.Duration) *Limiter {
	if maxInFlight < 1 {
		maxInFlight = 1
	}
	return &Limiter{
		maxInFlight: maxInFlight,
		baseDelay:   baseDelay,
		jitter:      jitter,
	}
}

// Acquire blocks until it is safe to start a request.
func (l *Limiter) Acquire() {
	l.mutex.Lock()

	// Wait for in-flight count to drop
	for l.currentInFlight >= l.maxInFlight {
		l.mutex.Unlock()
		time.Sleep(100 * time.Millisecond)
		l.mutex.Lock()
	}

	// Apply rate limiting with jitter
	if !l.lastRequest.IsZero() {
		elapsed := time.Since(l.lastRequest)
		requiredDelay := l.baseDelay
		if l.jitter > 0 {
			requiredDelay += time.Duration(rand.Int63n(int64(l.jitter)))
		}
		if elapsed < requiredDelay {
			time.Sleep(requiredDelay - elapsed)
		}
	}

	l.currentInFlight++
	l.lastRequest = time.Now()
	l.mutex.Unlock()
}

// Release marks a request as completed.
func (l *Limiter) Release() {
	l.mutex.Lock()
	l.currentInFlight--
	l.mutex.Unlock()
}

// InFlight returns the current in-flight request count.
func (l *Limiter) InFlight() int {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.currentInFlight
}
