package search

import "time"

// Default session bootstrap settings.
const (
	DefaultSessionAttempts = 3
	DefaultSessionStep     = 5 * time.Second
)

// LinearRetryPolicy waits Step*attempt between attempts, so the defaults give
// 5s then 10s across three attempts.
type LinearRetryPolicy struct {
	maxAttempts int
	step        time.Duration
}

// NewLinearRetryPolicy builds a policy; non-positive values fall back to defaults.
func NewLinearRetryPolicy(maxAttempts int, step time.Duration) *LinearRetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = DefaultSessionAttempts
	}
	if step < 0 {
		step = DefaultSessionStep
	}
	return &LinearRetryPolicy{maxAttempts: maxAttempts, step: step}
}

// MaxAttempts returns the total attempt budget.
func (p *LinearRetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// ShouldRetry reports whether another attempt may follow the given 1-based
// attempt. A per-attempt timeout is retryable; callers check their own ctx
// before asking.
func (p *LinearRetryPolicy) ShouldRetry(err error, attempt int) bool {
	return err != nil && attempt < p.maxAttempts
}

// Backoff returns the wait after the given 1-based attempt failed.
func (p *LinearRetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return p.step * time.Duration(attempt)
}
