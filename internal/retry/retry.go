// Package retry wraps remote calls in exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

// Defaults: three attempts, waiting 1s then 2s between them.
const (
	DefaultAttempts  = 3
	DefaultBaseDelay = time.Second
)

// ErrExhausted matches every ExhaustedError.
var ErrExhausted = errors.New("retry attempts exhausted")

// ExhaustedError is returned when the final attempt fails. Op is kept for
// inspection and left out of the message, which callers prefix themselves.
type ExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrExhausted, e.Err}
}

// Policy retries a function with a doubling delay.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration
	// Retryable decides whether an error is worth another attempt.
	// Nil retries every error.
	Retryable func(error) bool
	Logger    *slog.Logger
}

// Default returns the standard policy.
func Default() Policy {
	return Policy{Attempts: DefaultAttempts, BaseDelay: DefaultBaseDelay}
}

// Do calls fn until it succeeds, returns a non-retryable error, the
// attempts run out or ctx is done.
func (p Policy) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	backoff := goretry.WithMaxRetries(uint64(attempts-1), goretry.NewExponential(base))

	var (
		n       int
		lastErr error
		fatal   bool
	)
	err := goretry.Do(ctx, backoff, func(ctx context.Context) error {
		n++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if p.Retryable != nil && !p.Retryable(err) {
			fatal = true
			return err
		}
		if n < attempts {
			logger.Warn("attempt failed, retrying",
				"component", "retry",
				"op", op,
				"attempt", n,
				"max_attempts", attempts,
				"delay", base<<(n-1),
				"error", err,
			)
		}
		return goretry.RetryableError(err)
	})

	switch {
	case err == nil:
		return nil
	case fatal:
		return err
	case ctx.Err() != nil:
		if lastErr != nil {
			return fmt.Errorf("%s: %w (last error: %v)", op, ctx.Err(), lastErr)
		}
		return fmt.Errorf("%s: %w", op, ctx.Err())
	}

	logger.Error("retries exhausted",
		"component", "retry",
		"op", op,
		"attempts", n,
		"error", lastErr,
	)
	return &ExhaustedError{Op: op, Attempts: n, Err: lastErr}
}
