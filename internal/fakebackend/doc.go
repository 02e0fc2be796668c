// Package fakebackend is an in-process elock backend for tests.
//
// It serves the REST endpoints the rpc package calls and a websocket
// endpoint speaking the channel package's frame envelope. State lives in
// memory. Tokens are HS256 JWTs and passwords are stored as Argon2id
// hashes, so client code sees the same shapes it would from production.
//
// Lock mutations made through the REST API, or through SetLockStatus and
// RemoveLock, are pushed to websocket clients that joined the lock's room
// and to clients whose user holds a grant on the lock.
//
// Typical use:
//
//	fb := fakebackend.New()
//	srv := httptest.NewServer(fb.Handler())
//	defer srv.Close()
//	alice := fb.AddUser("Alice", "alice@example.com", "secret1")
package fakebackend
