package chat

import (
	"context"
	"errors"
	"sync"

	"github.com/harun/joe/pkg/assistant"
	"github.com/harun/joe/pkg/conversation"
	"github.com/harun/joe/pkg/responder"
)

type generateCall struct {
	messages []conversation.Message
	handle   assistant.Handle
}

type generateFunc func(ctx context.Context, messages []conversation.Message, handle assistant.Handle) (responder.Result, error)

// fakeGenerator replays scripted replies in order; the last one repeats
type fakeGenerator struct {
	mu      sync.Mutex
	replies []generateFunc
	calls   []generateCall
}

func (f *fakeGenerator) Generate(ctx context.Context, messages []conversation.Message, handle assistant.Handle) (responder.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, generateCall{messages: messages, handle: handle})
	reply := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	f.mu.Unlock()
	return reply(ctx, messages, handle)
}

func (f *fakeGenerator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func reply(text, thread string) generateFunc {
	return func(ctx context.Context, _ []conversation.Message, _ assistant.Handle) (responder.Result, error) {
		return responder.Result{Text: text, Handle: assistant.OptionalHandle(thread), RunID: "run_1", Polls: 1}, nil
	}
}

func fail(kind responder.Kind) generateFunc {
	return func(ctx context.Context, _ []conversation.Message, h assistant.Handle) (responder.Result, error) {
		return responder.Result{}, &responder.Error{Kind: kind, Op: "test", Handle: h.String()}
	}
}

// blockUntilCancelled signals started, then waits for the caller to give up
func blockUntilCancelled(started chan<- struct{}) generateFunc {
	return func(ctx context.Context, _ []conversation.Message, h assistant.Handle) (responder.Result, error) {
		close(started)
		<-ctx.Done()
		return responder.Result{}, &responder.Error{Kind: responder.KindCancelled, Op: "poll run", Handle: h.String(), Err: ctx.Err()}
	}
}

var errUnexpectedCall = errors.New("unexpected call")

// stallingBackend never answers GetThread before the caller gives up
type stallingBackend struct{}

func (stallingBackend) CreateThread(ctx context.Context) (*assistant.Thread, error) {
	return nil, errUnexpectedCall
}

func (stallingBackend) GetThread(ctx context.Context, id string) (*assistant.Thread, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (stallingBackend) AppendUserMessage(ctx context.Context, threadID, content string) error {
	return errUnexpectedCall
}

func (stallingBackend) StartRun(ctx context.Context, threadID string, req assistant.RunRequest) (*assistant.Run, error) {
	return nil, errUnexpectedCall
}

func (stallingBackend) GetRun(ctx context.Context, threadID, runID string) (*assistant.Run, error) {
	return nil, errUnexpectedCall
}

func (stallingBackend) CancelRun(ctx context.Context, threadID, runID string) (*assistant.Run, error) {
	return nil, errUnexpectedCall
}

func (stallingBackend) ListRecentMessages(ctx context.Context, threadID, runID string, limit int) ([]assistant.RemoteMessage, error) {
	return nil, errUnexpectedCall
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []Notification
}

func (r *recordingNotifier) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
}

func (r *recordingNotifier) all() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.notes...)
}
