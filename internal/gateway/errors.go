package gateway

import (
	"errors"
	"fmt"
)

// TransientError covers timeouts, rate limits and provider 5xx responses.
// Callers may retry with backoff; the client already does so internally up to
// its configured attempt cap.
type TransientError struct {
	Status int
	cause  error
}

func (e *TransientError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("transient gateway error (status %d): %v", e.Status, e.cause)
	}
	return fmt.Sprintf("transient gateway error: %v", e.cause)
}

func (e *TransientError) Unwrap() error {
	return e.cause
}

// PermanentError covers provider 4xx responses: validation failures, declined
// cards, bad references. Surfaced to the caller unchanged, never retried.
type PermanentError struct {
	Status          int
	ProviderCode    string
	ProviderMessage string
}

func (e *PermanentError) Error() string {
	if e.ProviderCode != "" {
		return fmt.Sprintf("gateway rejected request (status %d, code %s): %s", e.Status, e.ProviderCode, e.ProviderMessage)
	}
	return fmt.Sprintf("gateway rejected request (status %d): %s", e.Status, e.ProviderMessage)
}

// IsTransient reports whether the error chain contains a TransientError.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// IsPermanent reports whether the error chain contains a PermanentError.
func IsPermanent(err error) bool {
	var permanent *PermanentError
	return errors.As(err, &permanent)
}
