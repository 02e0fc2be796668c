package session

import "errors"

// Domain-specific errors for session handling.
var (
	// ErrValidation is returned when sign-in or registration input is
	// incomplete or inconsistent. It is not retryable without user correction.
	ErrValidation = errors.New("session: invalid input")

	// ErrNoToken is returned when authentication succeeded but yielded an empty token.
	ErrNoToken = errors.New("session: no token issued")

	// ErrTokenExpired is returned by Resume for a token whose exp has passed.
	ErrTokenExpired = errors.New("session: token expired")
)
