package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/pkg/metrics"
)

// ExhaustedError reports that every allowed attempt at a remote operation
// failed. Unwrap exposes the last underlying cause.
type ExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: exhausted after %d attempts (last error: %v)", e.Op, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// IsExhausted reports whether err is (or wraps) an ExhaustedError.
func IsExhausted(err error) bool {
	var ee *ExhaustedError
	return errors.As(err, &ee)
}

// Controller drives bounded retries against the remote store. Rate-limited
// failures wait linearly from BaseDelay, transient failures wait exponentially
// with jitter, schema-stale failures trigger the caller's refresh hook, fatal
// failures return immediately.
type Controller struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Logger      *slog.Logger

	// sleep is swapped out in tests
	sleep func(ctx context.Context, d time.Duration) error
}

func NewController(maxAttempts int, baseDelay time.Duration, logger *slog.Logger) *Controller {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
		Logger:      logger,
		sleep:       sleepCtx,
	}
}

// Do runs fn until it succeeds, fails fatally, or MaxAttempts is consumed.
// onSchemaStale runs after a schema-stale failure so the caller can refresh its
// snapshot and adjust the payload; a nil hook demotes schema-stale to fatal.
// The returned error is nil, the fatal cause, ctx.Err(), or *ExhaustedError.
func (c *Controller) Do(ctx context.Context, op string, fn func(context.Context) error, onSchemaStale func(context.Context) error) error {
	transient := NewBackoff(2*time.Second, 60*time.Second, 2.0)
	var lastErr error

	for attempt := 1; attempt <= c.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		l := c.Logger.With("op", op, "attempt", attempt)

		class := Classify(err)
		if class != ClassFatal {
			metrics.RetryAttempts.WithLabelValues(class.String()).Inc()
		}

		switch class {
		case ClassFatal:
			l.Error("Remote operation failed fatally", "error", err)
			return err

		case ClassSchemaStale:
			if onSchemaStale == nil {
				l.Error("Schema mismatch with no refresh hook", "error", err)
				return err
			}
			l.Warn("Remote schema drifted. Refreshing snapshot and retrying", "error", err)
			if hookErr := onSchemaStale(ctx); hookErr != nil {
				return hookErr
			}

		case ClassRateLimited:
			wait := max(c.BaseDelay, c.BaseDelay*time.Duration(attempt))
			if hint, ok := RetryAfter(err); ok && hint > wait {
				wait = hint
			}
			l.Warn("Rate limited by remote store. Backing off", "wait", wait)
			if err := c.sleep(ctx, wait); err != nil {
				return err
			}

		case ClassTransient:
			wait := transient.Next()
			l.Warn("Transient remote failure. Retrying", "wait", wait, "error", err)
			if err := c.sleep(ctx, wait); err != nil {
				return err
			}
		}
	}

	return &ExhaustedError{Op: op, Attempts: c.MaxAttempts, Err: lastErr}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
