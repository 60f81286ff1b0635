package orchestration

import "time"

// RetryPolicy bounds the attempts made for a single outbound call.
// Backoff grows linearly with the attempt number.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// Attempts returns the total call budget, never less than one.
func (p RetryPolicy) Attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Backoff returns the pause before the retry following the given attempt
// (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if p.Delay <= 0 {
		return 0
	}
	return p.Delay * time.Duration(attempt)
}
