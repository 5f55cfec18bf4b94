package orchestrator

import (
	"context"
	"time"
)

// retryPolicy bounds generation retries. Retries only make sense before the
// first token reached the caller; after that the stream is already partially
// delivered and must fail outright.
type retryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

func (p retryPolicy) withDefaults() retryPolicy {
	if p.maxAttempts < 1 {
		p.maxAttempts = 3
	}
	if p.baseDelay <= 0 {
		p.baseDelay = 500 * time.Millisecond
	}
	if p.maxDelay <= 0 {
		p.maxDelay = 8 * time.Second
	}
	return p
}

// wait sleeps the exponential backoff for the given attempt (1-based),
// honoring ctx.
func (p retryPolicy) wait(ctx context.Context, attempt int) error {
	delay := p.baseDelay << (attempt - 1)
	if delay > p.maxDelay || delay <= 0 {
		delay = p.maxDelay
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
