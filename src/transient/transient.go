// Package transient tags errors that represent retryable transport failures.
// Retry loops retry an operation only while its error is tagged transient;
// everything else surfaces to the caller immediately.
package transient

import "errors"

type transientError struct {
	err error
}

func (e *transientError) Error() string {
	return e.err.Error()
}

func (e *transientError) Unwrap() error {
	return e.err
}

// Wrap marks err as transient. Passing nil returns nil, and wrapping an
// already-transient error is a no-op.
func Wrap(err error) error {
	if err == nil || IsTransient(err) {
		return err
	}
	return &transientError{err: err}
}

// IsTransient reports whether any error in err's chain is tagged transient.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}
