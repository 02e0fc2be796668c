package channel

import "errors"

// Domain-specific errors for the event channel.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrEmptyToken is returned by Connect when no session token is given.
	ErrEmptyToken = errors.New("channel: token is required")

	// ErrDialFailed is reported when a connection attempt fails.
	ErrDialFailed = errors.New("channel: dial failed")

	// ErrUnauthorized is reported when the server rejects the token.
	ErrUnauthorized = errors.New("channel: token rejected")

	// ErrConnectionLost is reported when an established link drops.
	ErrConnectionLost = errors.New("channel: connection lost")

	// ErrReconnectExhausted is reported once the bounded retry budget is spent.
	ErrReconnectExhausted = errors.New("channel: reconnect attempts exhausted")

	// ErrLinkClosed is returned when sending on a link that is down.
	ErrLinkClosed = errors.New("channel: link closed")

	// ErrMembershipFailed is reported when a room join or leave cannot be sent.
	ErrMembershipFailed = errors.New("channel: room membership change failed")
)
