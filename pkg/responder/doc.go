// Package responder turns a local conversation log into one assistant reply
// by driving a remote thread through a single run.
//
// Invariants:
// - A call either returns one reply plus a valid handle, or a classified *Error.
// - Only the newest user message is submitted; the thread holds earlier turns.
// - Polling is bounded by attempts and wall-clock time; giving up cancels the run.
// - Nothing is retried here. The caller decides how to recover from an error Kind.
//
// Usage:
//
//	g, _ := responder.New(responder.Config{Backend: backend, AssistantID: "asst_..."})
//	res, err := g.Generate(ctx, log.Messages(), handle)
//	if responder.KindOf(err).DiscardsSession() {
//		handle = assistant.Handle{}
//	}
//	_ = res
package responder
