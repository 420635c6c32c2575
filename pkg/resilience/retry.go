package resilience

import (
	"context"
	"time"

	"github.com/oarkflow/log"
)

// BackoffFunc computes the delay before the given zero-based retry attempt.
type BackoffFunc func(base time.Duration, attempt int) time.Duration

// Exponential doubles the base delay on every attempt.
func Exponential(base time.Duration, attempt int) time.Duration {
	return base << uint(attempt)
}

// Constant always waits the base delay.
func Constant(base time.Duration, _ int) time.Duration {
	return base
}

// Policy is a reusable retry description, kept separate from the operation
// it is applied to so the schedule can be tested without sleeping.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Backoff     BackoffFunc
}

// Delay returns the wait before retry attempt n.
func (p Policy) Delay(attempt int) time.Duration {
	if p.Backoff == nil {
		return p.BaseDelay
	}
	return p.Backoff(p.BaseDelay, attempt)
}

// Do runs fn until it succeeds, attempts are exhausted, or the context is
// cancelled. The last error is returned on exhaustion.
func (p Policy) Do(ctx context.Context, logger *log.Logger, op string, fn func() error) error {
	if logger == nil {
		logger = &log.DefaultLogger
	}
	var err error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err = fn(); err == nil {
			if attempt > 0 {
				logger.Info().Str("op", op).Int("attempt", attempt+1).Msg("operation succeeded after retry")
			}
			return nil
		}
		if attempt == p.MaxAttempts-1 {
			break
		}
		delay := p.Delay(attempt)
		logger.Warn().Err(err).Str("op", op).Int("attempt", attempt+1).Dur("backoff", delay).Msg("operation failed, backing off")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	logger.Error().Err(err).Str("op", op).Int("attempts", p.MaxAttempts).Msg("retries exhausted")
	return err
}
