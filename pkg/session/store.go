package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harun/joe/pkg/conversation"
)

// ErrNotFound is returned for a profile with no stored state
var ErrNotFound = errors.New("profile not found")

// Store persists the handle and transcript of each profile
type Store interface {
	// LoadHandle returns the stored handle, or "" when none is held
	LoadHandle(ctx context.Context, profile string) (string, error)
	SaveHandle(ctx context.Context, profile, handle string) error
	ClearHandle(ctx context.Context, profile string) error

	AppendMessage(ctx context.Context, profile string, msg conversation.Message) error
	LoadTranscript(ctx context.Context, profile string) ([]conversation.Message, error)
	ClearTranscript(ctx context.Context, profile string) error

	ListProfiles(ctx context.Context) ([]string, error)
	// LastActivity returns the time of the last write, or ErrNotFound
	LastActivity(ctx context.Context, profile string) (time.Time, error)
	DeleteProfile(ctx context.Context, profile string) error

	Close() error
}

// Options selects and configures a Store
type Options struct {
	Driver string // file, sqlite, memory
	Path   string
}

// Open creates the store named by opts.Driver
func Open(opts Options) (Store, error) {
	switch opts.Driver {
	case "", "file":
		return NewFileStore(opts.Path)
	case "sqlite":
		return NewSQLiteStore(opts.Path)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver: %s", opts.Driver)
	}
}

// ValidateProfile validates a profile key for security
func ValidateProfile(profile string) error {
	if profile == "" {
		return fmt.Errorf("profile cannot be empty")
	}
	if len(profile) > 128 {
		return fmt.Errorf("profile cannot exceed 128 characters")
	}
	if strings.Contains(profile, "..") {
		return fmt.Errorf("profile cannot contain '..'")
	}
	if strings.ContainsAny(profile, "/\\") {
		return fmt.Errorf("profile cannot contain path separators")
	}
	if strings.Contains(profile, "\x00") {
		return fmt.Errorf("profile cannot contain null bytes")
	}
	return nil
}

func validateMessage(msg conversation.Message) error {
	if msg.ID == "" {
		return fmt.Errorf("message id cannot be empty")
	}
	if !msg.Role.Valid() {
		return fmt.Errorf("invalid message role %q", msg.Role)
	}
	return nil
}
