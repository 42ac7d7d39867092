package workflow

import "errors"

// ErrTransient marks infrastructure errors that are worth retrying.
// Wrap it with fmt.Errorf("...: %w", ErrTransient) or use Transient.
var ErrTransient = errors.New("transient failure")

type transientError struct {
	err error
}

func (e transientError) Error() string { return e.err.Error() }

func (e transientError) Unwrap() []error { return []error{e.err, ErrTransient} }

// Transient marks err as retryable while keeping it inspectable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return transientError{err: err}
}
