package fetcher

import (
	"log"
	"sync"
	"time"
)

// Breaker halts detail fetching when the site starts rejecting us. Two
// triggers: a run of consecutive failures (block detection), or a high
// failure rate once enough requests have been made.
type Breaker struct {
	consecutiveLimit int
	resetTimeout     time.Duration

	failures            int
	totalRequests       int
	consecutiveFailures int
	isOpen              bool
	lastFailureTime     time.Time

	mutex sync.Mutex
}

// NewBreaker creates a breaker that opens after consecutiveLimit failures in
// a row and re-closes resetTimeout after the last failure.
func NewBreaker(consecutiveLimit int, resetTimeout time.Duration) *Breaker {
	if consecutiveLimit < 1 {
		consecutiveLimit = 5
	}
	return &Breaker{
		consecutiveLimit: consecutiveLimit,
		resetTimeout:     resetTimeout,
	}
}

// RecordSuccess records a completed fetch.
func (b *Breaker) RecordSuccess() {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.totalRequests++
	b.consecutiveFailures = 0
}

// RecordFailure records a failed fetch and may open the breaker.
func (b *Breaker) RecordFailure() {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.failures++
	b.consecutiveFailures++
	b.totalRequests++
	b.lastFailureTime = time.Now()

	if b.consecutiveFailures >= b.consecutiveLimit {
		b.isOpen = true
		log.Printf("[Fetcher] circuit open: %d consecutive failures, suspected block", b.consecutiveFailures)
		return
	}

	// Rate-based detection once there is a meaningful sample.
	if b.totalRequests >= 20 {
		rate := float64(b.failures) / float64(b.totalRequests)
		if rate >= 0.40 {
			b.isOpen = true
			log.Printf("[Fetcher] circuit open: failure rate %.0f%% (%d/%d)", rate*100, b.failures, b.totalRequests)
		}
	}
}

// CanProceed reports whether fetches are currently allowed. An open breaker
// re-closes after the reset timeout.
func (b *Breaker) CanProceed() bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if !b.isOpen {
		return true
	}
	if time.Since(b.lastFailureTime) > b.resetTimeout {
		log.Printf("[Fetcher] circuit half-open after %v", b.resetTimeout)
		b.isOpen = false
		b.failures = 0
		b.totalRequests = 0
		b.consecutiveFailures = 0
		return true
	}
	return false
}

// Status returns the breaker state for run reporting.
func (b *Breaker) Status() (isOpen bool, failures, total int) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.isOpen, b.failures, b.totalRequests
}
