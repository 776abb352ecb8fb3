package provider

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/BradenHooton/facegate/internal/models"
)

// RetryPolicy is a bounded exponential backoff for transient provider failures
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func (p RetryPolicy) backoff() retry.Backoff {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	base := p.BaseDelay
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	b := retry.NewExponential(base)
	if p.MaxDelay > 0 {
		b = retry.WithCappedDuration(p.MaxDelay, b)
	}
	b = retry.WithJitterPercent(20, b)
	return retry.WithMaxRetries(uint64(attempts-1), b)
}

// run calls fn until it succeeds, fails semantically or the attempt budget is spent.
// Only *models.ProviderTransientError is retried; on exhaustion it is surfaced as a
// *models.ProviderError carrying the timeout flag of the last attempt.
func (p RetryPolicy) run(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	err := retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		err := fn(ctx)
		var transient *models.ProviderTransientError
		if errors.As(err, &transient) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err == nil {
		return nil
	}

	var transient *models.ProviderTransientError
	if errors.As(err, &transient) {
		return &models.ProviderError{
			Operation: operation,
			Code:      transient.Code,
			Timeout:   transient.Timeout,
			Exhausted: true,
			Err:       transient.Err,
		}
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
		return &models.ProviderError{Operation: operation, Timeout: true, Exhausted: true, Err: err}
	}
	return err
}
