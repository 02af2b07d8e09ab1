package responder

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// PersonaMode selects how the persona reaches the model
type PersonaMode string

const (
	// PersonaManaged leaves the persona to the remote assistant's configuration
	PersonaManaged PersonaMode = "managed-persona"
	// PersonaInjected sends Persona.Text as the run instructions
	PersonaInjected PersonaMode = "injected-system-message"
)

// Persona is the identity runs are started with
type Persona struct {
	Mode PersonaMode
	Text string
}

// Validate checks that the persona can be applied
func (p Persona) Validate() error {
	switch p.Mode {
	case PersonaManaged, "":
		return nil
	case PersonaInjected:
		if strings.TrimSpace(p.Text) == "" {
			return fmt.Errorf("persona text is required in %s mode", PersonaInjected)
		}
		return nil
	default:
		return fmt.Errorf("unknown persona mode %q", p.Mode)
	}
}

// instructions returns the run instructions for this persona.
// Threads reject system-role messages, so an injected persona rides on the run.
func (p Persona) instructions() string {
	if p.Mode == PersonaInjected {
		return p.Text
	}
	return ""
}

// PollPolicy bounds the wait for a run to finish
type PollPolicy struct {
	// Interval is the fixed delay before each status fetch
	Interval time.Duration
	// MaxAttempts caps status fetches; zero means no cap
	MaxAttempts int
	// Timeout caps the wall-clock time spent polling; zero means no cap
	Timeout time.Duration
}

// DefaultPollPolicy returns the default poll policy
func DefaultPollPolicy() PollPolicy {
	return PollPolicy{
		Interval:    time.Second,
		MaxAttempts: 120,
		Timeout:     3 * time.Minute,
	}
}

func (p PollPolicy) withDefaults() PollPolicy {
	d := DefaultPollPolicy()
	if p.Interval <= 0 {
		p.Interval = d.Interval
	}
	if p.MaxAttempts <= 0 && p.Timeout <= 0 {
		p.MaxAttempts = d.MaxAttempts
		p.Timeout = d.Timeout
	}
	return p
}

// waitFunc blocks for d or until ctx is done
type waitFunc func(ctx context.Context, d time.Duration) error

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
