// Package app wires the elock client together.
//
// An App owns one credential provider, one RPC client and one event channel
// manager for the lifetime of the process. Views over locks and access grants
// are created from it and share those components, so every screen sees the
// same session and the same push connection.
//
// The manager is bound to the provider: signing out or switching accounts
// tears the connection down. Views reconnect lazily when they open.
package app
