package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
)

// ExponentialBackoff waits 2^attempt seconds before retry number attempt.
func ExponentialBackoff(attempt int) time.Duration {
	return time.Duration(math.Pow(2, float64(attempt))) * time.Second
}

// Retrying retries a Completer on failure.
type Retrying struct {
	next     Completer
	attempts int
	backoff  func(attempt int) time.Duration
	logger   zerolog.Logger
}

// NewRetrying makes up to attempts calls to next, sleeping backoff(n)
// before retry n (n starts at 1).
func NewRetrying(next Completer, attempts int, backoff func(int) time.Duration, logger zerolog.Logger) *Retrying {
	if attempts < 1 {
		attempts = 1
	}
	if backoff == nil {
		backoff = ExponentialBackoff
	}
	return &Retrying{next: next, attempts: attempts, backoff: backoff, logger: logger}
}

// Complete implements Completer.
func (r *Retrying) Complete(ctx context.Context, req Request) (string, error) {
	var lastErr error
	made := 0
	for attempt := 0; attempt < r.attempts; attempt++ {
		if attempt > 0 {
			delay := r.backoff(attempt)
			r.logger.Debug().Int("attempt", attempt+1).Dur("delay", delay).Msg("retrying completion")
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return "", fmt.Errorf("completion cancelled after %d attempts: %w", attempt, errors.Join(ctx.Err(), lastErr))
			case <-timer.C:
			}
		}

		made++
		text, err := r.next.Complete(ctx, req)
		if err == nil {
			return text, nil
		}
		lastErr = err
		r.logger.Warn().Err(err).Int("attempt", attempt+1).Int("attempts", r.attempts).Msg("completion failed")
		if ctx.Err() != nil {
			break
		}
	}
	return "", fmt.Errorf("completion failed after %d attempts: %w", made, lastErr)
}

// AttemptTimeout bounds every call to next by timeout. Placed under a
// Retrying, a hung attempt is cut off and the next one still runs.
func AttemptTimeout(next Completer, timeout time.Duration) Completer {
	if timeout <= 0 {
		return next
	}
	return CompleterFunc(func(ctx context.Context, req Request) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return next.Complete(ctx, req)
	})
}
