package assistant

import "context"

// RunStatus is the lifecycle state of a remote run
type RunStatus string

const (
	RunQueued         RunStatus = "queued"
	RunInProgress     RunStatus = "in_progress"
	RunRequiresAction RunStatus = "requires_action"
	RunCancelling     RunStatus = "cancelling"
	RunCancelled      RunStatus = "cancelled"
	RunFailed         RunStatus = "failed"
	RunCompleted      RunStatus = "completed"
	RunIncomplete     RunStatus = "incomplete"
	RunExpired        RunStatus = "expired"
)

// IsPending reports whether the run may still make progress without input
func (s RunStatus) IsPending() bool {
	switch s {
	case RunQueued, RunInProgress, RunCancelling:
		return true
	}
	return false
}

// IsTerminal reports whether polling should stop
func (s RunStatus) IsTerminal() bool {
	return !s.IsPending()
}

// Succeeded reports whether the run produced a usable reply
func (s RunStatus) Succeeded() bool {
	return s == RunCompleted
}

// Thread is a remote conversation context
type Thread struct {
	ID string
}

// RunError is the failure reported by the service for a run
type RunError struct {
	Code    string
	Message string
}

// Run is one execution of the assistant against a thread
type Run struct {
	ID        string
	ThreadID  string
	Status    RunStatus
	LastError *RunError
}

// RunRequest configures a new run
type RunRequest struct {
	AssistantID string
	// Model overrides the assistant's model when set
	Model string
	// Instructions override the assistant's instructions when set
	Instructions string
}

// ContentBlock is one part of a remote message
type ContentBlock struct {
	Type string
	Text string
}

// RemoteMessage is a message stored on a thread
type RemoteMessage struct {
	ID     string
	Role   string
	RunID  string
	Blocks []ContentBlock
}

// FirstText returns the first non-empty text block
func (m RemoteMessage) FirstText() (string, bool) {
	for _, b := range m.Blocks {
		if b.Type == "text" && b.Text != "" {
			return b.Text, true
		}
	}
	return "", false
}

// Backend is the set of remote operations a conversation needs
type Backend interface {
	CreateThread(ctx context.Context) (*Thread, error)
	GetThread(ctx context.Context, threadID string) (*Thread, error)
	AppendUserMessage(ctx context.Context, threadID, content string) error
	StartRun(ctx context.Context, threadID string, req RunRequest) (*Run, error)
	GetRun(ctx context.Context, threadID, runID string) (*Run, error)
	CancelRun(ctx context.Context, threadID, runID string) (*Run, error)
	// ListRecentMessages returns newest-first messages, limited to those
	// produced by runID when it is set.
	ListRecentMessages(ctx context.Context, threadID, runID string, limit int) ([]RemoteMessage, error)
}
