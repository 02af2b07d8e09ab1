// Package chat is the client side of a conversation: it owns the local
// transcript and the held session handle, submits one message at a time to a
// Generator and recovers from classified failures.
//
// Invariants:
// - Submit appends the user message before the generator is called.
// - At most one submission is in flight; a second one gets ErrBusy.
// - The handle is replaced only by a successful reply and dropped only on
//   errors whose Kind discards the session.
// - Every failure lands in the transcript as an assistant message and raises
//   a notification.
//
// Usage:
//
//	client, _ := chat.New(chat.Config{Generator: gen, Store: store, Profile: "default"})
//	_ = client.Restore(ctx)
//	if err := client.Submit(ctx, "What grade is suitable for a pressure vessel?"); err != nil {
//		fmt.Println(chat.Summary(err))
//	}
package chat
