// Package access keeps the access-grant list of one lock consistent with
// the backend.
//
// A View is loaded wholesale from the backend and then changed locally by
// Share and Revoke once the backend confirms them. Local changes are
// recorded with a sequence number so a Load that started before them
// cannot undo them: a revoked grant is not resurrected and a new grant is
// not dropped by an older list.
//
// Owner grants are never revocable. Entries carries that rule as a flag so
// views do not have to re-derive it.
//
// Sharing resolves an e-mail address to a user through a Resolver. The
// server lookup endpoint is preferred; ScanResolver walks the full user
// list and is only suitable for small deployments.
package access
