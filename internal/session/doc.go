// Package session holds the signed-in user's token for the lifetime of the
// process.
//
// The Provider is the single owner of the Session. The rpc client reads the
// token from it on every call and the channel manager listens for changes so
// that a connection opened for one token never outlives it. Nothing is
// persisted: a restarted process starts signed out unless a token is handed
// back in with Resume.
//
// Token claims are decoded without verifying the signature. The backend is
// the verifier; the client only needs the subject and expiry.
package session
