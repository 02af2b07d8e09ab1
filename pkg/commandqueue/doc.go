// Package commandqueue runs tasks serially per lane. The server keys lanes by
// remote thread, so two requests never start overlapping runs on one thread.
//
// Invariants:
// - Tasks in the same lane execute one at a time in FIFO order.
// - Tasks in different lanes may execute concurrently.
// - A caller that gives up while its task is still queued never runs it.
// - Idle lanes are forgotten.
//
// Usage:
//
//	q := commandqueue.New(commandqueue.Config{})
//	defer q.Close()
//	v, err := q.Enqueue(ctx, commandqueue.ThreadLane(handle), func(ctx context.Context) (any, error) {
//		return gen.Generate(ctx, msgs, handle)
//	})
package commandqueue
