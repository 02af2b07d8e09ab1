// Package session persists client-local chat state per profile: the remote
// session handle and the local transcript.
//
// Invariants:
// - Profile keys are validated and path-safe.
// - A cleared or never-saved handle loads as "".
// - Transcript order is append order.
// - Writes for the same profile are serialized.
//
// Usage:
//
//	store, _ := session.Open(session.Options{Driver: "file", Path: "/tmp/joe/sessions"})
//	_ = store.SaveHandle(ctx, "default", "thread_abc")
//	handle, _ := store.LoadHandle(ctx, "default")
//	_ = handle
package session
