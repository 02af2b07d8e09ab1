package daemon

import (
	"fmt"
	"strings"
	"time"

	"github.com/harun/joe/internal/config"
	"github.com/harun/joe/internal/metrics"
	"github.com/harun/joe/pkg/assistant"
	"github.com/harun/joe/pkg/responder"
	"github.com/harun/joe/pkg/session"
	"github.com/rs/zerolog"
)

// PersonaFromConfig maps the persona section onto a responder persona.
// An empty mode is managed, and injected mode without text falls back to
// the built-in persona.
func PersonaFromConfig(p config.PersonaConfig) responder.Persona {
	persona := responder.Persona{
		Mode: responder.PersonaMode(p.Mode),
		Text: p.Text,
	}
	if persona.Mode == "" {
		persona.Mode = responder.PersonaManaged
	}
	if persona.Mode == responder.PersonaInjected && strings.TrimSpace(persona.Text) == "" {
		persona.Text = config.DefaultPersonaText
	}
	return persona
}

// PollPolicyFromConfig maps the polling section onto a responder poll policy
func PollPolicyFromConfig(p config.PollingConfig) responder.PollPolicy {
	return responder.PollPolicy{
		Interval:    p.PollInterval(),
		MaxAttempts: p.MaxAttempts,
		Timeout:     p.Timeout(),
	}
}

// NewBackend creates the OpenAI thread/run backend
func NewBackend(cfg config.OpenAIConfig) *assistant.OpenAIBackend {
	return assistant.NewOpenAIBackend(assistant.OpenAIConfig{
		APIKey:         cfg.APIKey,
		BaseURL:        cfg.BaseURL,
		MaxRetries:     cfg.MaxRetries,
		RequestTimeout: time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
	})
}

// NewGenerator creates the response generator described by cfg.
// Shared by serve and the terminal commands.
func NewGenerator(cfg *config.Config, logger zerolog.Logger, m *metrics.Metrics) (*responder.Generator, error) {
	gen, err := responder.New(responder.Config{
		Backend:     NewBackend(cfg.OpenAI),
		AssistantID: cfg.OpenAI.AssistantID,
		Model:       cfg.OpenAI.Model,
		Persona:     PersonaFromConfig(cfg.Persona),
		Poll:        PollPolicyFromConfig(cfg.Polling),
		Logger:      logger,
		Metrics:     m,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create response generator: %w", err)
	}
	return gen, nil
}

// OpenStore opens the session store described by cfg
func OpenStore(cfg *config.Config) (session.Store, error) {
	store, err := session.Open(session.Options{
		Driver: cfg.Store.Driver,
		Path:   cfg.Store.Path,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	return store, nil
}
