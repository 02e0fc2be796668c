package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Domain-specific errors for backend calls.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrRequestFailed is returned when a call fails, either in transport or
	// with a non-2xx status not covered below.
	ErrRequestFailed = errors.New("rpc: request failed")

	// ErrNotFound is returned for 404 responses.
	ErrNotFound = errors.New("rpc: not found")

	// ErrUnauthorized is returned for 401 and 403 responses.
	ErrUnauthorized = errors.New("rpc: unauthorised")

	// ErrRejected is returned for other 4xx responses (validation, conflict).
	ErrRejected = errors.New("rpc: request rejected")

	// ErrLookupUnsupported is returned by FindUserByEmail when the backend has
	// no indexed lookup endpoint.
	ErrLookupUnsupported = errors.New("rpc: user lookup endpoint unsupported")
)

// APIError is a non-2xx response from the backend.
type APIError struct {
	Method  string
	Path    string
	Status  int
	Message string
}

// Error implements error.
func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: %d: %s", e.Method, e.Path, e.Status, e.Message)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, http.StatusText(e.Status))
}

// Unwrap maps the status to one of the package sentinels.
func (e *APIError) Unwrap() error {
	switch {
	case e.Status == http.StatusNotFound:
		return ErrNotFound
	case e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden:
		return ErrUnauthorized
	case e.Status >= 400 && e.Status < 500 && e.Status != http.StatusRequestTimeout && e.Status != http.StatusTooManyRequests:
		return ErrRejected
	default:
		return ErrRequestFailed
	}
}

// IsRetryable reports whether retrying the same call could succeed without
// the user changing anything: transport failures, timeouts, 429 and 5xx.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500 ||
			apiErr.Status == http.StatusRequestTimeout ||
			apiErr.Status == http.StatusTooManyRequests
	}
	return errors.Is(err, ErrRequestFailed)
}

// Message returns the backend's message for err, or "" when err is not an
// *APIError or the server sent none.
func Message(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return ""
}

// errorBody is the backend's error envelope. message may be a string or a
// list of validation messages.
type errorBody struct {
	Message json.RawMessage `json:"message"`
}

// decodeErrorMessage extracts a human-readable message from an error body.
func decodeErrorMessage(body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil || len(eb.Message) == 0 {
		return ""
	}

	var single string
	if err := json.Unmarshal(eb.Message, &single); err == nil {
		return single
	}

	var many []string
	if err := json.Unmarshal(eb.Message, &many); err == nil {
		return strings.Join(many, "; ")
	}
	return ""
}
