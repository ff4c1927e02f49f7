package connector

import "errors"

var (
	// ErrAuthentication is fatal for the connector: surfaced
	// immediately, never retried.
	ErrAuthentication = errors.New("authentication failed")

	// ErrUnsupported reports a capability the venue does not have.
	ErrUnsupported = errors.New("capability not supported")

	ErrNotConnected = errors.New("connector not connected")
)

type transientError struct {
	err error
}

func (e *transientError) Error() string {
	return "transient: " + e.err.Error()
}

func (e *transientError) Unwrap() error {
	return e.err
}

// Transient marks an error as retryable (network failure, 5xx,
// venue-side throttling response).
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether the error was marked retryable.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}
