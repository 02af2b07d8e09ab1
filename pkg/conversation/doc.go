// Package conversation defines the chat message model and the ordered,
// append-only conversation log owned by a chat client.
//
// Invariants:
// - Messages are immutable once created and carry a unique ID.
// - Insertion order is conversation order.
// - Log snapshots are copies; callers cannot mutate the log through them.
//
// Usage:
//
//	var l conversation.Log
//	l.Append(conversation.NewMessage(conversation.RoleUser, "hello"))
//	last, ok := conversation.LastUser(l.Messages())
//	_, _ = last, ok
package conversation
