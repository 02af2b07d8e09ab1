package responder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harun/joe/internal/metrics"
	"github.com/harun/joe/internal/tracing"
	"github.com/harun/joe/pkg/assistant"
	"github.com/harun/joe/pkg/conversation"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const (
	tracerName = "joe.responder"

	// recentMessageLimit is how many messages are fetched to find the reply
	recentMessageLimit = 10

	// cancelTimeout bounds the best-effort remote cancel after giving up
	cancelTimeout = 10 * time.Second
)

// Result is a generated reply
type Result struct {
	Text string
	// Handle is the thread the reply was produced on; hold it for the next call
	Handle assistant.Handle
	RunID  string
	// Polls is the number of run status fetches
	Polls int
	// NoText is set when the run completed without any text content
	NoText bool
}

// Config configures a Generator
type Config struct {
	Backend     assistant.Backend
	AssistantID string
	// Model overrides the assistant's model when set
	Model   string
	Persona Persona
	Poll    PollPolicy
	Logger  zerolog.Logger
	Metrics *metrics.Metrics

	// wait is replaced in tests to observe poll intervals
	wait waitFunc
}

// Generator produces assistant replies. It keeps no per-call state, so one
// Generator can serve many conversations concurrently.
type Generator struct {
	backend     assistant.Backend
	assistantID string
	model       string
	poll        PollPolicy
	logger      zerolog.Logger
	metrics     *metrics.Metrics
	wait        waitFunc

	personaMu sync.RWMutex
	persona   Persona
}

// New creates a new Generator
func New(cfg Config) (*Generator, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if cfg.AssistantID == "" {
		return nil, fmt.Errorf("assistant ID is required")
	}
	if err := cfg.Persona.Validate(); err != nil {
		return nil, err
	}
	if cfg.Persona.Mode == "" {
		cfg.Persona.Mode = PersonaManaged
	}

	wait := cfg.wait
	if wait == nil {
		wait = sleep
	}

	return &Generator{
		backend:     cfg.Backend,
		assistantID: cfg.AssistantID,
		model:       cfg.Model,
		poll:        cfg.Poll.withDefaults(),
		logger:      cfg.Logger.With().Str("component", "responder").Logger(),
		metrics:     cfg.Metrics,
		wait:        wait,
		persona:     cfg.Persona,
	}, nil
}

// SetPersona replaces the persona used for subsequent runs
func (g *Generator) SetPersona(p Persona) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.Mode == "" {
		p.Mode = PersonaManaged
	}
	g.personaMu.Lock()
	g.persona = p
	g.personaMu.Unlock()
	return nil
}

// Persona returns the current persona
func (g *Generator) Persona() Persona {
	g.personaMu.RLock()
	defer g.personaMu.RUnlock()
	return g.persona
}

// Generate submits the newest user message in messages to the thread named
// by handle (or a new thread when handle is zero or unusable), runs the
// assistant and returns its reply.
func (g *Generator) Generate(ctx context.Context, messages []conversation.Message, handle assistant.Handle) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if tracing.GetTraceID(ctx) == "" {
		ctx = tracing.NewRequestContext(ctx)
	}

	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, tracerName, "responder.generate",
		attribute.Int("messages.count", len(messages)),
		attribute.Bool("session.resume", !handle.IsZero()),
	)
	defer span.End()

	res, err := g.generate(ctx, messages, handle)

	outcome := "success"
	switch {
	case err != nil:
		outcome = string(KindOf(err))
		tracing.Fail(span, err)
	case res.NoText:
		outcome = string(KindNoTextContent)
	}
	g.metrics.RecordGenerate(outcome, time.Since(start), res.Polls)

	span.SetAttributes(
		attribute.String("generate.outcome", outcome),
		attribute.Int("run.polls", res.Polls),
	)
	return res, err
}

func (g *Generator) generate(ctx context.Context, messages []conversation.Message, handle assistant.Handle) (Result, error) {
	logger := tracing.LoggerFromContext(ctx, g.logger)

	// Checked before any remote call so a bad log never creates a thread
	userMsg, ok := conversation.LastUser(messages)
	if !ok {
		return Result{}, newError(KindMissingUserMessage, "select user message", handle, errors.New("no user message in conversation"))
	}

	thread, err := g.resolveThread(ctx, logger, handle)
	if err != nil {
		return Result{}, err
	}
	ctx = tracing.WithThreadID(ctx, thread.String())
	logger = logger.With().Str("thread_id", thread.String()).Logger()

	if err := g.backend.AppendUserMessage(ctx, thread.String(), userMsg.Content); err != nil {
		return Result{}, g.classify(ctx, KindRunOperationFailed, "add message", thread, err)
	}

	run, err := g.backend.StartRun(ctx, thread.String(), assistant.RunRequest{
		AssistantID:  g.assistantID,
		Model:        g.model,
		Instructions: g.Persona().instructions(),
	})
	if err != nil {
		return Result{}, g.classify(ctx, KindRunOperationFailed, "start run", thread, err)
	}
	ctx = tracing.WithRunID(ctx, run.ID)
	logger = logger.With().Str("run_id", run.ID).Logger()
	logger.Debug().Str("status", string(run.Status)).Msg("Run started")

	run, polls, err := g.awaitRun(ctx, logger, thread, run)
	res := Result{Handle: thread, RunID: run.ID, Polls: polls}
	if err != nil {
		return res, err
	}
	g.metrics.RecordRunStatus(string(run.Status))

	if !run.Status.Succeeded() {
		runErr := &Error{Kind: KindRunStatusError, Op: "run", Handle: thread.String(), Status: run.Status}
		if run.LastError != nil {
			runErr.Err = fmt.Errorf("%s: %s", run.LastError.Code, run.LastError.Message)
		}
		logger.Error().Str("status", string(run.Status)).Int("polls", polls).Msg("Run ended without completing")
		return res, runErr
	}

	text, err := g.replyText(ctx, thread, run.ID)
	if err != nil {
		return res, err
	}
	if text == "" {
		logger.Warn().Int("polls", polls).Msg("Run completed without text content")
		res.NoText = true
		return res, nil
	}

	res.Text = text
	logger.Info().Int("polls", polls).Int("length", len(text)).Msg("Run completed")
	return res, nil
}

// resolveThread resumes the thread named by handle, falling back to a new
// thread when there is none or it cannot be retrieved.
func (g *Generator) resolveThread(ctx context.Context, logger zerolog.Logger, handle assistant.Handle) (assistant.Handle, error) {
	source := "created"

	if !handle.IsZero() {
		thread, err := g.backend.GetThread(ctx, handle.String())
		if err == nil {
			h, perr := assistant.ParseHandle(thread.ID)
			if perr != nil {
				return assistant.Handle{}, newError(KindInvalidSessionHandle, "retrieve thread", handle, perr)
			}
			g.metrics.RecordThread("resumed")
			logger.Info().Str("thread_id", h.String()).Msg("Resumed thread")
			return h, nil
		}
		if ctx.Err() != nil {
			return assistant.Handle{}, g.classify(ctx, KindThreadOperationFailed, "retrieve thread", handle, err)
		}

		logger.Warn().Err(err).Str("thread_id", handle.String()).Msg("Failed to retrieve thread, starting a new one")
		source = "fallback"
	}

	thread, err := g.backend.CreateThread(ctx)
	if err != nil {
		return assistant.Handle{}, g.classify(ctx, KindThreadOperationFailed, "create thread", assistant.Handle{}, err)
	}
	h, err := assistant.ParseHandle(thread.ID)
	if err != nil {
		// The service handed back something we cannot reuse; not retried
		logger.Error().Str("thread_id", thread.ID).Msg("Service returned an invalid thread ID")
		return assistant.Handle{}, newError(KindInvalidSessionHandle, "create thread", assistant.Handle{}, err)
	}

	g.metrics.RecordThread(source)
	logger.Info().Str("thread_id", h.String()).Str("source", source).Msg("Created thread")
	return h, nil
}

// awaitRun polls until the run leaves the pending states. The first fetch
// happens one interval after the run was started.
func (g *Generator) awaitRun(ctx context.Context, logger zerolog.Logger, thread assistant.Handle, run *assistant.Run) (*assistant.Run, int, error) {
	pollCtx := ctx
	if g.poll.Timeout > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, g.poll.Timeout)
		defer cancel()
	}

	polls := 0
	for run.Status.IsPending() {
		if g.poll.MaxAttempts > 0 && polls >= g.poll.MaxAttempts {
			return run, polls, g.abandon(ctx, logger, thread, run, polls,
				fmt.Errorf("run still %s after %d polls", run.Status, polls))
		}

		if err := g.wait(pollCtx, g.poll.Interval); err != nil {
			return run, polls, g.abandon(ctx, logger, thread, run, polls, err)
		}

		next, err := g.backend.GetRun(pollCtx, thread.String(), run.ID)
		polls++
		if err != nil {
			if pollCtx.Err() != nil {
				return run, polls, g.abandon(ctx, logger, thread, run, polls, pollCtx.Err())
			}
			return run, polls, newError(KindRunOperationFailed, "get run", thread, err)
		}

		run = next
		logger.Debug().Int("poll", polls).Str("status", string(run.Status)).Msg("Polled run")
	}

	return run, polls, nil
}

// abandon cancels the remote run after the caller or the poll policy gave up
func (g *Generator) abandon(ctx context.Context, logger zerolog.Logger, thread assistant.Handle, run *assistant.Run, polls int, cause error) error {
	kind := KindPollTimeout
	if errors.Is(ctx.Err(), context.Canceled) {
		kind = KindCancelled
	}

	// The caller's context may already be done
	cancelCtx, cancel := context.WithTimeout(tracing.Detach(ctx), cancelTimeout)
	defer cancel()

	if _, err := g.backend.CancelRun(cancelCtx, thread.String(), run.ID); err != nil {
		logger.Warn().Err(err).Msg("Failed to cancel run")
	} else {
		logger.Info().Str("reason", string(kind)).Int("polls", polls).Msg("Cancelled run")
	}

	return &Error{Kind: kind, Op: "poll run", Handle: thread.String(), Err: cause}
}

// replyText returns the first text block of the newest assistant message
// produced by the run.
func (g *Generator) replyText(ctx context.Context, thread assistant.Handle, runID string) (string, error) {
	msgs, err := g.backend.ListRecentMessages(ctx, thread.String(), runID, recentMessageLimit)
	if err != nil {
		return "", g.classify(ctx, KindRunOperationFailed, "list messages", thread, err)
	}

	for _, m := range msgs {
		if m.Role != string(conversation.RoleAssistant) {
			continue
		}
		text, _ := m.FirstText()
		return text, nil
	}
	return "", nil
}

// classify wraps err as kind, unless the caller's context ended first.
// A caller deadline says nothing about the thread, so it never discards it.
func (g *Generator) classify(ctx context.Context, kind Kind, op string, h assistant.Handle, err error) *Error {
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		return newError(KindCancelled, op, h, err)
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return newError(KindPollTimeout, op, h, err)
	}
	return newError(kind, op, h, err)
}
