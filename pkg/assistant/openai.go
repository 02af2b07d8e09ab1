package assistant

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/harun/joe/internal/tracing"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"go.opentelemetry.io/otel/attribute"
)

const tracerName = "joe.assistant"

// OpenAIConfig configures the OpenAI backend
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	// MaxRetries is the SDK-level retry count. Zero disables retries so a
	// transient failure surfaces to the caller immediately.
	MaxRetries     int
	RequestTimeout time.Duration
	HTTPClient     *http.Client
}

// OpenAIBackend implements Backend on the OpenAI Assistants (beta) API
type OpenAIBackend struct {
	client openai.Client
}

// NewOpenAIBackend creates a new OpenAI backend
func NewOpenAIBackend(cfg OpenAIConfig) *OpenAIBackend {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(max(cfg.MaxRetries, 0)),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.RequestTimeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.RequestTimeout))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &OpenAIBackend{
		client: openai.NewClient(opts...),
	}
}

// CreateThread creates an empty thread
func (b *OpenAIBackend) CreateThread(ctx context.Context) (*Thread, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "thread.create")
	defer span.End()

	thread, err := b.client.Beta.Threads.New(ctx, openai.BetaThreadNewParams{})
	if err != nil {
		return nil, tracing.Fail(span, err)
	}
	span.SetAttributes(attribute.String("thread.id", thread.ID))
	return &Thread{ID: thread.ID}, nil
}

// GetThread retrieves an existing thread
func (b *OpenAIBackend) GetThread(ctx context.Context, threadID string) (*Thread, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "thread.get",
		attribute.String("thread.id", threadID),
	)
	defer span.End()

	thread, err := b.client.Beta.Threads.Get(ctx, threadID)
	if err != nil {
		return nil, tracing.Fail(span, err)
	}
	return &Thread{ID: thread.ID}, nil
}

// AppendUserMessage adds a user turn to the thread
func (b *OpenAIBackend) AppendUserMessage(ctx context.Context, threadID, content string) error {
	ctx, span := tracing.StartSpan(ctx, tracerName, "message.create",
		attribute.String("thread.id", threadID),
		attribute.Int("message.length", len(content)),
	)
	defer span.End()

	_, err := b.client.Beta.Threads.Messages.New(ctx, threadID, openai.BetaThreadMessageNewParams{
		Role: openai.BetaThreadMessageNewParamsRoleUser,
		Content: openai.BetaThreadMessageNewParamsContentUnion{
			OfString: openai.String(content),
		},
	})
	if err != nil {
		return tracing.Fail(span, err)
	}
	return nil
}

// StartRun starts a run of the assistant on the thread
func (b *OpenAIBackend) StartRun(ctx context.Context, threadID string, req RunRequest) (*Run, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "run.create",
		attribute.String("thread.id", threadID),
		attribute.String("assistant.id", req.AssistantID),
		attribute.Bool("run.instructions", req.Instructions != ""),
	)
	defer span.End()

	params := openai.BetaThreadRunNewParams{
		AssistantID: req.AssistantID,
	}
	if req.Model != "" {
		params.Model = shared.ChatModel(req.Model)
	}
	if req.Instructions != "" {
		params.Instructions = openai.String(req.Instructions)
	}

	run, err := b.client.Beta.Threads.Runs.New(ctx, threadID, params)
	if err != nil {
		return nil, tracing.Fail(span, err)
	}
	span.SetAttributes(attribute.String("run.id", run.ID))
	return convertRun(run), nil
}

// GetRun fetches the current state of a run
func (b *OpenAIBackend) GetRun(ctx context.Context, threadID, runID string) (*Run, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "run.get",
		attribute.String("thread.id", threadID),
		attribute.String("run.id", runID),
	)
	defer span.End()

	run, err := b.client.Beta.Threads.Runs.Get(ctx, threadID, runID)
	if err != nil {
		return nil, tracing.Fail(span, err)
	}
	span.SetAttributes(attribute.String("run.status", string(run.Status)))
	return convertRun(run), nil
}

// CancelRun asks the service to stop a run
func (b *OpenAIBackend) CancelRun(ctx context.Context, threadID, runID string) (*Run, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "run.cancel",
		attribute.String("thread.id", threadID),
		attribute.String("run.id", runID),
	)
	defer span.End()

	run, err := b.client.Beta.Threads.Runs.Cancel(ctx, threadID, runID)
	if err != nil {
		return nil, tracing.Fail(span, err)
	}
	return convertRun(run), nil
}

// ListRecentMessages lists the newest messages on the thread
func (b *OpenAIBackend) ListRecentMessages(ctx context.Context, threadID, runID string, limit int) ([]RemoteMessage, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "message.list",
		attribute.String("thread.id", threadID),
		attribute.String("run.id", runID),
	)
	defer span.End()

	params := openai.BetaThreadMessageListParams{
		Order: openai.BetaThreadMessageListParamsOrderDesc,
	}
	if limit > 0 {
		params.Limit = openai.Int(int64(limit))
	}
	if runID != "" {
		params.RunID = openai.String(runID)
	}

	page, err := b.client.Beta.Threads.Messages.List(ctx, threadID, params)
	if err != nil {
		return nil, tracing.Fail(span, err)
	}

	messages := make([]RemoteMessage, 0, len(page.Data))
	for _, m := range page.Data {
		rm := RemoteMessage{
			ID:    m.ID,
			Role:  string(m.Role),
			RunID: m.RunID,
		}
		for _, c := range m.Content {
			block := ContentBlock{Type: c.Type}
			if c.Type == "text" {
				block.Text = c.Text.Value
			}
			rm.Blocks = append(rm.Blocks, block)
		}
		messages = append(messages, rm)
	}
	span.SetAttributes(attribute.Int("message.count", len(messages)))
	return messages, nil
}

func convertRun(run *openai.Run) *Run {
	out := &Run{
		ID:       run.ID,
		ThreadID: run.ThreadID,
		Status:   RunStatus(run.Status),
	}
	if run.LastError.Code != "" || run.LastError.Message != "" {
		out.LastError = &RunError{
			Code:    string(run.LastError.Code),
			Message: run.LastError.Message,
		}
	}
	return out
}

// StatusCode returns the HTTP status of a remote API error, or 0
func StatusCode(err error) int {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
