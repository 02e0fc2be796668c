package locks

import "errors"

// Domain-specific errors for lock views.
var (
	// ErrValidation is returned when create input is incomplete.
	ErrValidation = errors.New("locks: invalid input")

	// ErrRemoved is returned when acting on a lock the server deleted.
	ErrRemoved = errors.New("locks: lock was removed")

	// ErrNotInView is returned when toggling an id the view does not hold.
	ErrNotInView = errors.New("locks: lock not in view")
)
