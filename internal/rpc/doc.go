// Package rpc is the request/response facade to the elock backend.
//
// Every call attaches the current session token as a bearer Authorization
// header (when one is present) and an X-Request-ID for correlation with
// server logs. Failures come back as *APIError for server rejections or as
// ErrRequestFailed for transport failures; IsRetryable tells the two apart
// for views that keep showing last-known-good data.
//
// Wire field names follow the backend (localization, doorLockId, paper);
// the Go structs use the domain names (Location, LockID, Role).
package rpc
