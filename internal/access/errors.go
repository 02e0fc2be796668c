package access

import (
	"errors"
	"fmt"
)

// Domain-specific errors for access lists.
var (
	// ErrValidation is returned when share input is incomplete.
	ErrValidation = errors.New("access: invalid input")

	// ErrUserNotFound is returned when no user has the given e-mail address.
	// It is not retryable without user correction.
	ErrUserNotFound = errors.New("access: user not found")

	// ErrGrantNotFound is returned when revoking an id the view does not hold.
	ErrGrantNotFound = errors.New("access: grant not in view")

	// ErrNotRevocable is returned when revoking an owner grant.
	ErrNotRevocable = errors.New("access: owner grants cannot be revoked")

	// ErrUnknownLookupMode is returned for an unrecognised api.user_lookup.
	ErrUnknownLookupMode = errors.New("access: unknown user lookup mode")
)

// RevokeError reports a failed revoke with the grantee's display name.
type RevokeError struct {
	DisplayName string
	Err         error
}

func (e *RevokeError) Error() string {
	return fmt.Sprintf("revoking access for %s: %v", e.DisplayName, e.Err)
}

func (e *RevokeError) Unwrap() error {
	return e.Err
}
