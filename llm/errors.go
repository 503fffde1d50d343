package llm

import (
	"errors"
	"fmt"
	"net/http"
)

// TransientError marks a failure worth retrying: transport errors, rate
// limits and provider 5xx responses.
type TransientError struct {
	err error
}

func (e *TransientError) Error() string { return e.err.Error() }

func (e *TransientError) Unwrap() error { return e.err }

// NewTransientError wraps err as retryable.
func NewTransientError(err error) error { return &TransientError{err: err} }

// FatalError marks a failure retries cannot fix: rejected auth, bad
// requests and malformed payloads.
type FatalError struct {
	err error
}

func (e *FatalError) Error() string { return e.err.Error() }

func (e *FatalError) Unwrap() error { return e.err }

// NewFatalError wraps err as non-retryable.
func NewFatalError(err error) error { return &FatalError{err: err} }

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// IsFatal reports whether retrying err is pointless.
func IsFatal(err error) bool {
	var f *FatalError
	return errors.As(err, &f)
}

// classifyStatus maps a non-200 HTTP status onto the retry taxonomy.
func classifyStatus(status int, body []byte) error {
	err := fmt.Errorf("HTTP %d: %s", status, truncate(body, 200))
	if status == http.StatusTooManyRequests || status >= 500 {
		return NewTransientError(err)
	}
	return NewFatalError(err)
}
