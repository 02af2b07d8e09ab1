// Package server is the HTTP surface in front of the chat core: a login gate,
// a JSON chat endpoint, a WebSocket chat endpoint with one chat.Client per
// connection, the avatar token proxy, health and metrics.
//
// Invariants:
// - Every path outside the allow-list needs a valid session cookie.
// - Gated responses are never cacheable.
// - Generations on the same thread are serialized through the command queue.
//
// Usage:
//
//	srv, _ := server.NewServer(server.Options{Addr: ":8080", LoginPassword: pw, CookieSecret: secret},
//		server.Deps{Generator: gen, Queue: queue})
//	_ = srv.Start()
//	defer srv.Stop(ctx)
package server
