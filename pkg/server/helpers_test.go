package server

import (
	"context"
	"sync"
	"testing"

	"github.com/harun/joe/pkg/assistant"
	"github.com/harun/joe/pkg/commandqueue"
	"github.com/harun/joe/pkg/conversation"
	"github.com/harun/joe/pkg/responder"
	"github.com/stretchr/testify/require"
)

const (
	testPassword = "let-me-in"
	testSecret   = "0123456789abcdef0123456789abcdef"
)

type fakeGenerator struct {
	mu     sync.Mutex
	fn     func(ctx context.Context, msgs []conversation.Message, h assistant.Handle) (responder.Result, error)
	calls  int
	handle []assistant.Handle
}

func (f *fakeGenerator) Generate(ctx context.Context, msgs []conversation.Message, h assistant.Handle) (responder.Result, error) {
	f.mu.Lock()
	f.calls++
	f.handle = append(f.handle, h)
	fn := f.fn
	f.mu.Unlock()
	return fn(ctx, msgs, h)
}

func replyWith(text, thread string) *fakeGenerator {
	return &fakeGenerator{fn: func(ctx context.Context, _ []conversation.Message, _ assistant.Handle) (responder.Result, error) {
		return responder.Result{Text: text, Handle: assistant.OptionalHandle(thread)}, nil
	}}
}

func failWith(kind responder.Kind) *fakeGenerator {
	return &fakeGenerator{fn: func(ctx context.Context, _ []conversation.Message, h assistant.Handle) (responder.Result, error) {
		return responder.Result{}, &responder.Error{Kind: kind, Op: "test", Handle: h.String()}
	}}
}

func newTestServer(t *testing.T, opts Options, gen *fakeGenerator) *Server {
	t.Helper()
	queue := commandqueue.New(commandqueue.Config{})
	t.Cleanup(func() { queue.Close() })

	srv, err := NewServer(opts, Deps{Generator: gen, Queue: queue})
	require.NoError(t, err)
	return srv
}

func gatedOptions() Options {
	return Options{LoginPassword: testPassword, CookieSecret: testSecret}
}
