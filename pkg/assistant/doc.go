// Package assistant is the remote thread/run surface used to hold a
// conversation with a hosted assistant.
//
// Invariants:
// - A Handle is either zero (absent) or a thread ID that passed shape validation.
// - Backend methods map one-to-one onto remote calls and never retry on their own.
// - requires_action and incomplete runs are terminal here; no tool outputs are submitted.
//
// Usage:
//
//	backend := assistant.NewOpenAIBackend(assistant.OpenAIConfig{APIKey: key})
//	thread, _ := backend.CreateThread(ctx)
//	h, _ := assistant.ParseHandle(thread.ID)
//	_ = h
package assistant
