package resilience

import (
	"sync"
	"time"
)

// TrippingFunc decides whether an error counts toward opening the breaker.
type TrippingFunc func(error) bool

// CircuitBreaker blocks calls after repeated failures. The billing reporter
// uses it to stop hammering the usage endpoint while it is unhealthy.
type CircuitBreaker struct {
	mu        sync.Mutex
	failures  int
	threshold int
	openUntil time.Time
	cooldown  time.Duration
	trips     TrippingFunc
}

func NewCircuitBreaker(threshold int, cooldown time.Duration, trips TrippingFunc) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	if trips == nil {
		trips = func(error) bool { return true }
	}
	return &CircuitBreaker{threshold: threshold, cooldown: cooldown, trips: trips}
}

func (c *CircuitBreaker) Allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !time.Now().Before(c.openUntil)
}

func (c *CircuitBreaker) OnSuccess() {
	c.mu.Lock()
	c.failures = 0
	c.openUntil = time.Time{}
	c.mu.Unlock()
}

func (c *CircuitBreaker) OnError(err error) {
	if err == nil || !c.trips(err) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures++
	if c.failures >= c.threshold {
		c.openUntil = time.Now().Add(c.cooldown)
	}
}
