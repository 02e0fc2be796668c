package app

import "errors"

// ErrUnknownTransport is returned when channel.transport names no transport.
var ErrUnknownTransport = errors.New("app: unknown event channel transport")
