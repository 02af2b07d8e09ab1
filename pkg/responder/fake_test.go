package responder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harun/joe/pkg/assistant"
)

// fakeBackend is a scripted assistant.Backend
type fakeBackend struct {
	mu sync.Mutex

	threads     map[string]bool
	nextThread  string
	createErr   error
	getThreadFn func(id string) (*assistant.Thread, error)

	appendErr error
	appended  []string

	startErr     error
	startStatus  assistant.RunStatus
	runRequests  []assistant.RunRequest
	statuses     []assistant.RunStatus
	lastError    *assistant.RunError
	getRunErr    error
	getRunBlock  bool
	getRunCalls  int
	cancelCalls  int
	cancelCtxErr error

	messages []assistant.RemoteMessage
	listErr  error
	listArgs []string

	calls []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		threads:     map[string]bool{},
		nextThread:  "thread_new1",
		startStatus: assistant.RunQueued,
		statuses:    []assistant.RunStatus{assistant.RunCompleted},
		messages: []assistant.RemoteMessage{{
			ID:     "msg_2",
			Role:   "assistant",
			RunID:  "run_1",
			Blocks: []assistant.ContentBlock{{Type: "text", Text: "Use SA-516 Grade 70."}},
		}},
	}
}

func (f *fakeBackend) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeBackend) CreateThread(ctx context.Context) (*assistant.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("create_thread")
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.threads[f.nextThread] = true
	return &assistant.Thread{ID: f.nextThread}, nil
}

func (f *fakeBackend) GetThread(ctx context.Context, id string) (*assistant.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("get_thread")
	if f.getThreadFn != nil {
		return f.getThreadFn(id)
	}
	if !f.threads[id] {
		return nil, fmt.Errorf("404 no thread found with id %s", id)
	}
	return &assistant.Thread{ID: id}, nil
}

func (f *fakeBackend) AppendUserMessage(ctx context.Context, threadID, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("append_message")
	if f.appendErr != nil {
		return f.appendErr
	}
	f.appended = append(f.appended, content)
	return nil
}

func (f *fakeBackend) StartRun(ctx context.Context, threadID string, req assistant.RunRequest) (*assistant.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("start_run")
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.runRequests = append(f.runRequests, req)
	return &assistant.Run{ID: "run_1", ThreadID: threadID, Status: f.startStatus}, nil
}

func (f *fakeBackend) GetRun(ctx context.Context, threadID, runID string) (*assistant.Run, error) {
	f.mu.Lock()
	f.record("get_run")
	f.getRunCalls++
	block := f.getRunBlock
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getRunErr != nil {
		return nil, f.getRunErr
	}
	status := assistant.RunInProgress
	if len(f.statuses) > 0 {
		status = f.statuses[0]
		f.statuses = f.statuses[1:]
	}
	run := &assistant.Run{ID: runID, ThreadID: threadID, Status: status}
	if status.IsTerminal() {
		run.LastError = f.lastError
	}
	return run, nil
}

func (f *fakeBackend) CancelRun(ctx context.Context, threadID, runID string) (*assistant.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("cancel_run")
	f.cancelCalls++
	f.cancelCtxErr = ctx.Err()
	return &assistant.Run{ID: runID, ThreadID: threadID, Status: assistant.RunCancelling}, nil
}

func (f *fakeBackend) ListRecentMessages(ctx context.Context, threadID, runID string, limit int) ([]assistant.RemoteMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("list_messages")
	f.listArgs = append(f.listArgs, runID)
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.messages, nil
}

// recordingWait records requested intervals without sleeping
type recordingWait struct {
	mu        sync.Mutex
	intervals []time.Duration
	// cancelAt cancels the given func before the nth wait returns
	cancelAt int
	cancel   context.CancelFunc
}

func (w *recordingWait) wait(ctx context.Context, d time.Duration) error {
	w.mu.Lock()
	w.intervals = append(w.intervals, d)
	n := len(w.intervals)
	w.mu.Unlock()

	if w.cancel != nil && n == w.cancelAt {
		w.cancel()
	}
	return ctx.Err()
}

var errBoom = errors.New("boom")
