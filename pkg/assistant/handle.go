package assistant

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidHandle is returned when a string does not look like a thread ID
var ErrInvalidHandle = errors.New("invalid session handle")

var handlePattern = regexp.MustCompile(`^thread_[A-Za-z0-9]+$`)

// Handle names a remote thread. The zero Handle means "no session yet".
type Handle struct {
	id string
}

// ParseHandle trims s and validates it against the remote thread ID shape
func ParseHandle(s string) (Handle, error) {
	id := strings.TrimSpace(s)
	if !handlePattern.MatchString(id) {
		return Handle{}, fmt.Errorf("%w: %q", ErrInvalidHandle, s)
	}
	return Handle{id: id}, nil
}

// OptionalHandle parses s and treats anything malformed as absent
func OptionalHandle(s string) Handle {
	h, err := ParseHandle(s)
	if err != nil {
		return Handle{}
	}
	return h
}

// IsZero reports whether no session is held
func (h Handle) IsZero() bool {
	return h.id == ""
}

// String returns the thread ID, or "" for the zero Handle
func (h Handle) String() string {
	return h.id
}
