// Package channel owns the push event connection to the elock backend.
//
// A Manager holds at most one Connection, bound to one session token.
// Connecting with the token already in use returns the live Connection;
// connecting with a different token closes the old one first, so events and
// room memberships of a previous session never reach views of the next.
//
// Rooms are per-lock event groups. JoinRoom and LeaveRoom are idempotent and
// safe to call with no Connection. Memberships are replayed on every
// successful (re)dial.
//
// Subscriptions belong to the Manager, not to a Connection: a view may
// subscribe before the first Connect and keeps receiving events across
// reconnects. Subscribe returns a handle for precise removal. UnsubscribeAll
// clears every handler of a kind, including handlers registered by other
// views; prefer Unsubscribe.
//
// Connectivity problems are never returned from Connect. They are reported
// through the warning callback while the Connection retries with bounded
// exponential backoff. When the attempts run out the Connection is left in
// StateDegraded and only an explicit Disconnect or Connect recovers it.
//
// Two transports are provided: WebSocketTransport (default) and
// MQTTTransport for brokered deployments.
package channel
