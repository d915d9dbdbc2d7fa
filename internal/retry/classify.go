package retry

import (
	"context"
	"errors"
	"net"
	"time"
)

// Class buckets a remote failure into one of four handling strategies.
type Class int

const (
	// ClassFatal errors are not retried. Bad payloads, auth failures, 4xx.
	ClassFatal Class = iota
	// ClassSchemaStale marks a 422 from the remote store: the local schema
	// snapshot no longer matches and must be force-refreshed before retrying.
	ClassSchemaStale
	// ClassRateLimited marks a 429. Waits grow linearly from the base delay.
	ClassRateLimited
	// ClassTransient marks 5xx and network failures. Waits grow exponentially.
	ClassTransient
)

func (c Class) String() string {
	switch c {
	case ClassSchemaStale:
		return "schema_stale"
	case ClassRateLimited:
		return "rate_limited"
	case ClassTransient:
		return "transient"
	default:
		return "fatal"
	}
}

// statusError is implemented by the HTTP client error types so classification
// does not depend on their packages.
type statusError interface {
	error
	HTTPStatus() int
}

// retryAfterError is implemented by errors carrying a server-provided wait hint.
type retryAfterError interface {
	error
	RetryAfterHint() time.Duration
}

// Classify maps an error to its handling class. Unknown errors are fatal:
// retrying something we don't understand only hides bugs.
func Classify(err error) Class {
	if err == nil {
		return ClassFatal
	}

	if errors.Is(err, context.Canceled) {
		return ClassFatal
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}

	var se statusError
	if errors.As(err, &se) {
		switch status := se.HTTPStatus(); {
		case status == 422:
			return ClassSchemaStale
		case status == 429:
			return ClassRateLimited
		case status >= 500:
			return ClassTransient
		default:
			return ClassFatal
		}
	}

	var ne net.Error
	if errors.As(err, &ne) {
		return ClassTransient
	}

	return ClassFatal
}

// RetryAfter extracts the server wait hint from err, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var ra retryAfterError
	if errors.As(err, &ra) {
		if d := ra.RetryAfterHint(); d > 0 {
			return d, true
		}
	}
	return 0, false
}
