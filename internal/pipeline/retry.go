package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/media-pipeline/internal/domain"
)

// RetryPolicy bounds the attempts made against the processing service
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	AttemptTimeout time.Duration
}

// DefaultRetryPolicy is used for zero-valued fields
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:    3,
	InitialBackoff: 500 * time.Millisecond,
	MaxBackoff:     10 * time.Second,
	Multiplier:     2.0,
	AttemptTimeout: 2 * time.Minute,
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = DefaultRetryPolicy.InitialBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = DefaultRetryPolicy.MaxBackoff
	}
	if p.Multiplier < 1 {
		p.Multiplier = DefaultRetryPolicy.Multiplier
	}
	if p.AttemptTimeout <= 0 {
		p.AttemptTimeout = DefaultRetryPolicy.AttemptTimeout
	}
	return p
}

// backoff returns the delay before attempt n+1 (attempt counts from 1)
func (p RetryPolicy) backoff(attempt int) time.Duration {
	delay := float64(p.InitialBackoff)
	for i := 1; i < attempt; i++ {
		delay *= p.Multiplier
		if delay >= float64(p.MaxBackoff) {
			return p.MaxBackoff
		}
	}
	return time.Duration(delay)
}

// callWithRetry runs fn under a per-attempt timeout until it succeeds, fails
// permanently, runs out of attempts, or ctx ends. Every failure it returns
// wraps ErrExternalService; a finished ctx also wraps ErrTimedOut.
func callWithRetry[T any](ctx context.Context, b *base, jobID, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= b.retry.MaxAttempts; attempt++ {
		if err := b.queue.RecordAttempt(ctx, jobID); err != nil {
			b.logger.Warn("Failed to record attempt",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, b.retry.AttemptTimeout)
		out, err := fn(attemptCtx)
		cancel()
		if err == nil {
			return out, nil
		}

		lastErr = asExternal(err)
		if ctx.Err() != nil {
			return zero, fmt.Errorf("%w: %s gave up after %d attempt(s): %w", domain.ErrTimedOut, op, attempt, lastErr)
		}
		if !domain.IsRetryable(lastErr) {
			return zero, lastErr
		}
		if attempt == b.retry.MaxAttempts {
			break
		}

		delay := b.retry.backoff(attempt)
		b.logger.Warn("Processing call failed, retrying...",
			slog.String("job_id", jobID),
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", b.retry.MaxAttempts),
			slog.Duration("retry_after", delay),
			slog.String("error", err.Error()),
		)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("%w: %s gave up after %d attempt(s): %w", domain.ErrTimedOut, op, attempt, lastErr)
		}
	}

	return zero, fmt.Errorf("%s failed after %d attempts: %w", op, b.retry.MaxAttempts, lastErr)
}

func asExternal(err error) error {
	if errors.Is(err, domain.ErrExternalService) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewRetryableError(fmt.Errorf("%w: %w", domain.ErrExternalService, err))
	}
	return fmt.Errorf("%w: %w", domain.ErrExternalService, err)
}
