package cloud

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	// defaultMaxAttempts is the number of tries before Retry gives up.
	defaultMaxAttempts = 3

	// baseDelay is the first backoff interval before jitter.
	baseDelay = 500 * time.Millisecond

	// maxDelay caps the backoff interval before jitter.
	maxDelay = 5 * time.Second
)

// permanent marks err so that Retry returns it without another attempt.
func permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

func isPermanent(err error) bool {
	var pe *backoff.PermanentError
	return errors.As(err, &pe)
}

// newBackOff doubles from baseDelay up to maxDelay with ±50 % jitter.
func newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = baseDelay
	b.MaxInterval = maxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0.5
	b.Reset()
	return b
}

// Retry runs fn up to maxAttempts times, sleeping with exponential backoff
// between failures. A permanent error ends the loop and is returned without
// its marker; otherwise the last error is returned.
func Retry(ctx context.Context, maxAttempts int, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("retry cancelled: %w", err)
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, fn()
	},
		backoff.WithBackOff(newBackOff()),
		backoff.WithMaxTries(uint(maxAttempts)),
	)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return fmt.Errorf("retry cancelled: %w", err)
	}
	return err
}
