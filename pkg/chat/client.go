package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/harun/joe/internal/metrics"
	"github.com/harun/joe/internal/observability"
	"github.com/harun/joe/internal/tracing"
	"github.com/harun/joe/pkg/assistant"
	"github.com/harun/joe/pkg/conversation"
	"github.com/harun/joe/pkg/responder"
	"github.com/harun/joe/pkg/session"
	"github.com/rs/zerolog"
)

// DefaultProfile is the store key used when none is configured
const DefaultProfile = "default"

// errorPrefix starts every transcript entry that reports a failure
const errorPrefix = "Chat Error: "

var (
	// ErrBusy is returned when a submission is already in flight
	ErrBusy = errors.New("a message is already being answered")
	// ErrEmptyInput is returned for blank input
	ErrEmptyInput = errors.New("message is empty")
)

// Generator produces a reply for the newest user message in a log
type Generator interface {
	Generate(ctx context.Context, messages []conversation.Message, handle assistant.Handle) (responder.Result, error)
}

// Config configures a Client
type Config struct {
	Generator Generator
	Store     session.Store
	// Profile keys the handle and transcript in the store
	Profile  string
	Logger   zerolog.Logger
	Notifier Notifier
	Metrics  *metrics.Metrics

	// OnMessage is called after every message appended to the log
	OnMessage func(msg conversation.Message)
	// OnBusy is called when the client enters or leaves the submitting state
	OnBusy func(busy bool)
}

// Client is a Session Client for one conversation
type Client struct {
	generator Generator
	store     session.Store
	profile   string
	logger    zerolog.Logger
	notifier  Notifier
	metrics   *metrics.Metrics
	onMessage func(conversation.Message)
	onBusy    func(bool)

	log *conversation.Log

	mu      sync.Mutex
	handle  assistant.Handle
	busy    bool
	lastErr error
	cancel  context.CancelFunc
}

// New creates a new Client with an empty log
func New(cfg Config) (*Client, error) {
	if cfg.Generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Profile == "" {
		cfg.Profile = DefaultProfile
	}
	if err := session.ValidateProfile(cfg.Profile); err != nil {
		return nil, err
	}

	logger := cfg.Logger.With().Str("component", "chat").Str("profile", cfg.Profile).Logger()
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = logNotifier{logger: logger}
	}

	return &Client{
		generator: cfg.Generator,
		store:     cfg.Store,
		profile:   cfg.Profile,
		logger:    logger,
		notifier:  notifier,
		metrics:   cfg.Metrics,
		onMessage: cfg.OnMessage,
		onBusy:    cfg.OnBusy,
		log:       conversation.NewLog(nil),
	}, nil
}

// Restore loads the persisted handle and transcript. A handle without a
// transcript is dropped, so the remote thread never remembers turns the
// local transcript has lost.
func (c *Client) Restore(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		return ErrBusy
	}

	raw, err := c.store.LoadHandle(ctx, c.profile)
	if err != nil {
		return fmt.Errorf("failed to load handle: %w", err)
	}
	transcript, err := c.store.LoadTranscript(ctx, c.profile)
	if err != nil {
		return fmt.Errorf("failed to load transcript: %w", err)
	}

	handle := assistant.OptionalHandle(raw)
	if raw != "" && handle.IsZero() {
		c.logger.Warn().Str("handle", raw).Msg("Stored handle is malformed, dropping it")
	}
	if !handle.IsZero() && len(transcript) == 0 {
		c.logger.Info().Str("thread_id", handle.String()).Msg("Transcript is empty, starting a new conversation")
		handle = assistant.Handle{}
	}
	if handle.IsZero() && raw != "" {
		if err := c.store.ClearHandle(ctx, c.profile); err != nil {
			return fmt.Errorf("failed to clear handle: %w", err)
		}
	}

	c.handle = handle
	c.log.Clear()
	c.log.Append(transcript...)
	c.lastErr = nil

	c.logger.Debug().
		Int("messages", len(transcript)).
		Bool("resumed", !handle.IsZero()).
		Msg("Session restored")
	return nil
}

// Submit sends text as a new user message and waits for the reply. The
// returned error is the classified generator error, if any; it has already
// been rendered into the transcript.
func (c *Client) Submit(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyInput
	}
	if ctx == nil {
		ctx = context.Background()
	}

	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		c.metrics.RecordRejectedSubmit()
		c.logger.Debug().Msg("Submission rejected, already busy")
		return ErrBusy
	}
	callCtx, cancel := context.WithCancel(ctx)
	c.busy = true
	c.cancel = cancel
	handle := c.handle
	c.mu.Unlock()

	defer c.finish(cancel)
	c.emitBusy(true)

	logger := tracing.LoggerFromContext(callCtx, c.logger)
	callCtx = tracing.WithProfile(callCtx, c.profile)

	c.appendMessage(callCtx, conversation.NewMessage(conversation.RoleUser, text))

	res, err := c.generator.Generate(callCtx, c.log.Messages(), handle)
	if err != nil {
		c.recover(callCtx, logger, err)
		return err
	}

	reply := res.Text
	if res.NoText {
		reply = responder.KindNoTextContent.Summary()
	}
	c.appendMessage(callCtx, conversation.NewMessage(conversation.RoleAssistant, reply))

	if !res.Handle.IsZero() {
		c.setHandle(callCtx, logger, res.Handle)
	}

	c.mu.Lock()
	c.lastErr = nil
	c.mu.Unlock()
	return nil
}

// recover applies the error policy: drop the handle when the error makes it
// unusable, render the failure and notify.
func (c *Client) recover(ctx context.Context, logger zerolog.Logger, err error) {
	kind := responder.KindOf(err)

	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()

	if kind.DiscardsSession() {
		dropped := c.Handle()
		c.clearHandle(ctx, logger)
		observability.RecordSessionAudit(ctx, "session_discarded", c.profile, map[string]any{
			"kind":      string(kind),
			"thread_id": dropped.String(),
		})
	}

	summary := responder.Summary(err)
	c.appendMessage(ctx, conversation.NewMessage(conversation.RoleAssistant, errorPrefix+summary))

	severity := SeverityError
	if kind == responder.KindCancelled {
		severity = SeverityInfo
	}
	c.notifier.Notify(Notification{
		Title:       "Chat Error",
		Description: summary,
		Severity:    severity,
	})

	logger.Error().Err(err).Str("kind", string(kind)).Msg("Submission failed")
}

func (c *Client) finish(cancel context.CancelFunc) {
	cancel()
	c.mu.Lock()
	c.busy = false
	c.cancel = nil
	c.mu.Unlock()
	c.emitBusy(false)
}

// appendMessage adds msg to the log and persists it. Persistence failures
// are logged; the in-memory log stays authoritative.
func (c *Client) appendMessage(ctx context.Context, msg conversation.Message) {
	c.log.Append(msg)
	if err := c.store.AppendMessage(tracing.Detach(ctx), c.profile, msg); err != nil {
		c.logger.Warn().Err(err).Str("role", string(msg.Role)).Msg("Failed to persist message")
	}
	if c.onMessage != nil {
		c.onMessage(msg)
	}
}

func (c *Client) setHandle(ctx context.Context, logger zerolog.Logger, h assistant.Handle) {
	c.mu.Lock()
	changed := c.handle != h
	c.handle = h
	c.mu.Unlock()

	if !changed {
		return
	}
	if err := c.store.SaveHandle(tracing.Detach(ctx), c.profile, h.String()); err != nil {
		logger.Warn().Err(err).Msg("Failed to persist handle")
		return
	}
	logger.Debug().Str("thread_id", h.String()).Msg("Handle saved")
}

// clearHandle drops the handle together with the stored transcript, so a
// reload never shows turns the next thread has not seen.
func (c *Client) clearHandle(ctx context.Context, logger zerolog.Logger) {
	c.mu.Lock()
	old := c.handle
	c.handle = assistant.Handle{}
	c.mu.Unlock()

	c.metrics.RecordHandleReset()
	ctx = tracing.Detach(ctx)
	if err := c.store.ClearHandle(ctx, c.profile); err != nil {
		logger.Warn().Err(err).Msg("Failed to clear handle")
	}
	if err := c.store.ClearTranscript(ctx, c.profile); err != nil {
		logger.Warn().Err(err).Msg("Failed to clear transcript")
	}
	logger.Info().Str("thread_id", old.String()).Msg("Session discarded")
}

func (c *Client) emitBusy(busy bool) {
	if c.onBusy != nil {
		c.onBusy(busy)
	}
}

// Stop cancels the in-flight submission, which also cancels the remote run.
// It reports whether there was anything to stop.
func (c *Client) Stop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel == nil {
		return false
	}
	c.cancel()
	c.logger.Info().Msg("Submission stopped")
	return true
}

// Reset forgets the conversation: handle, transcript and last error
func (c *Client) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		return ErrBusy
	}

	if err := c.store.ClearHandle(ctx, c.profile); err != nil {
		return fmt.Errorf("failed to clear handle: %w", err)
	}
	if err := c.store.ClearTranscript(ctx, c.profile); err != nil {
		return fmt.Errorf("failed to clear transcript: %w", err)
	}

	c.handle = assistant.Handle{}
	c.lastErr = nil
	c.log.Clear()
	c.logger.Info().Msg("Conversation reset")
	observability.RecordSessionAudit(ctx, "session_reset", c.profile, nil)
	return nil
}

// Log returns a snapshot of the transcript
func (c *Client) Log() []conversation.Message {
	return c.log.Messages()
}

// IsBusy reports whether a submission is in flight
func (c *Client) IsBusy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// LastError returns the error of the latest submission, or nil after a success
func (c *Client) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Handle returns the held session handle
func (c *Client) Handle() assistant.Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle
}

// Summary returns the user-safe text for a Submit error
func Summary(err error) string {
	switch {
	case errors.Is(err, ErrBusy):
		return "Still answering the previous message."
	case errors.Is(err, ErrEmptyInput):
		return "Type a message first."
	default:
		return responder.Summary(err)
	}
}
