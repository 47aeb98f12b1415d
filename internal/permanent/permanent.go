// Package permanent tags errors that must not be retried, such as
// provider responses rejecting the request itself.
package permanent

import "errors"

// Error wraps a root cause with a non-retryable marker.
// Params: wrapped root cause.
// Returns: typed permanent error.
type Error struct {
	Err error
}

// Error returns the wrapped error message.
// Params: none.
// Returns: string representation.
func (e Error) Error() string {
	if e.Err == nil {
		return "permanent error"
	}
	return e.Err.Error()
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
// Params: none.
// Returns: wrapped error.
func (e Error) Unwrap() error {
	return e.Err
}

// Permanent marks the error as non-retryable.
// Params: none.
// Returns: true.
func (Error) Permanent() bool {
	return true
}

// Mark wraps an error with the permanent marker.
// Params: source error.
// Returns: wrapped error, or nil for a nil source.
func Mark(err error) error {
	if err == nil {
		return nil
	}
	return Error{Err: err}
}

// Is reports whether the error carries the permanent marker anywhere
// in its chain.
// Params: candidate error.
// Returns: true when retrying cannot succeed.
func Is(err error) bool {
	if err == nil {
		return false
	}
	type marker interface {
		Permanent() bool
	}
	var tagged marker
	if !errors.As(err, &tagged) {
		return false
	}
	return tagged.Permanent()
}
