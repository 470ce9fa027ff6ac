package domain

import "errors"

// ErrNotFound is returned by Store implementations when a key is absent.
var ErrNotFound = errors.New("key not found")

// PermanentError marks a dispatch failure that must not be retried.
// The syncer exhausts the item immediately instead of burning attempts.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err as non-retryable. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err was marked non-retryable.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
