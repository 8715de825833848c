package resilience

import (
	"context"
	"fmt"
	"time"
)

// RetryConfig tunes [Retry]. Zero-value fields are replaced with the
// documented defaults.
type RetryConfig struct {
	// Attempts is the total number of tries, not re-tries. Default: 3.
	Attempts int

	// InitialBackoff is the wait after the first failure; it doubles after
	// every subsequent failure. Default: 500ms.
	InitialBackoff time.Duration

	// MaxBackoff caps the doubling. Default: 10s.
	MaxBackoff time.Duration
}

func (c *RetryConfig) applyDefaults() {
	if c.Attempts <= 0 {
		c.Attempts = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 10 * time.Second
	}
}

// Retry runs fn up to cfg.Attempts times with exponential backoff, stopping
// early when ctx is cancelled. The last error is returned wrapped with the
// attempt count.
func Retry[R any](ctx context.Context, cfg RetryConfig, fn func(context.Context) (R, error)) (R, error) {
	cfg.applyDefaults()

	var (
		zero    R
		lastErr error
	)
	backoff := cfg.InitialBackoff
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if attempt == cfg.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}
	return zero, fmt.Errorf("after %d attempts: %w", cfg.Attempts, lastErr)
}
