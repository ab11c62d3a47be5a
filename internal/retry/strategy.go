package retry

import (
	"math"
	"math/rand"
	"time"
)

// Strategy computes the delay before a task's next attempt. The engine
// consults it whenever an operator returns a retry result without an
// explicit delay.
type Strategy interface {
	// NextDelay calculates the delay before the given attempt (1-based)
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff doubles the delay per attempt, capped at MaxDelay,
// with optional ±25% jitter.
type ExponentialBackoff struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	Jitter     bool
}

// NewExponentialBackoff creates an exponential backoff strategy
func NewExponentialBackoff(baseDelay, maxDelay time.Duration, jitter bool) *ExponentialBackoff {
	return &ExponentialBackoff{
		BaseDelay:  baseDelay,
		MaxDelay:   maxDelay,
		Multiplier: 2.0,
		Jitter:     jitter,
	}
}

// DefaultExponentialBackoff returns an exponential backoff with sensible defaults
func DefaultExponentialBackoff() *ExponentialBackoff {
	return NewExponentialBackoff(1*time.Second, 5*time.Minute, true)
}

// NextDelay calculates the next delay using exponential backoff
func (e *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(e.BaseDelay) * math.Pow(e.Multiplier, float64(attempt-1))
	if delay > float64(e.MaxDelay) {
		delay = float64(e.MaxDelay)
	}
	if e.Jitter {
		jitterFactor := 0.75 + (rand.Float64() * 0.5) // 0.75..1.25
		delay = delay * jitterFactor
	}
	return time.Duration(delay)
}

// FixedDelay returns the same delay for every attempt, with optional jitter
type FixedDelay struct {
	Delay  time.Duration
	Jitter bool
}

// NewFixedDelay creates a fixed delay strategy
func NewFixedDelay(delay time.Duration, jitter bool) *FixedDelay {
	return &FixedDelay{Delay: delay, Jitter: jitter}
}

// NextDelay returns the fixed delay
func (f *FixedDelay) NextDelay(int) time.Duration {
	delay := f.Delay
	if f.Jitter {
		jitterFactor := 0.75 + (rand.Float64() * 0.5)
		delay = time.Duration(float64(delay) * jitterFactor)
	}
	return delay
}

// NoDelay schedules retries immediately; used by tests
type NoDelay struct{}

// NextDelay always returns 0
func (NoDelay) NextDelay(int) time.Duration { return 0 }
