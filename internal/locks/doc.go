// Package locks keeps views of lock state consistent with the backend.
//
// A view starts from a snapshot fetched over RPC and is then patched by
// door-lock-updated and door-lock-removed push events:
//
//   - Events for ids the view does not hold are dropped. Membership only
//     comes from snapshots.
//   - Events apply in arrival order. When both sides carry a version, an
//     event older than the held lock is rejected.
//   - A snapshot replaces the list, including push-applied state, except
//     for locks whose local change (a toggle response) landed after the
//     snapshot request started. Those keep the local result.
//
// All mutations of a view happen under its own lock, so refreshes and
// event delivery may interleave freely. Results that complete after Close
// are discarded.
package locks
