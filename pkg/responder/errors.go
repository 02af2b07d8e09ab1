package responder

import (
	"errors"
	"fmt"
	"strings"

	"github.com/harun/joe/pkg/assistant"
)

// Kind classifies a generation failure
type Kind string

const (
	// KindThreadOperationFailed means creating or retrieving the thread errored
	KindThreadOperationFailed Kind = "ThreadOperationFailed"
	// KindInvalidSessionHandle means the service returned a thread whose ID fails validation
	KindInvalidSessionHandle Kind = "InvalidSessionHandle"
	// KindMissingUserMessage means the log holds no user message to submit
	KindMissingUserMessage Kind = "MissingUserMessage"
	// KindRunStatusError means the run ended in a non-success state
	KindRunStatusError Kind = "RunStatusError"
	// KindRunOperationFailed means a message or run call errored
	KindRunOperationFailed Kind = "RunOperationFailed"
	// KindNoTextContent marks a completed run without text. It is reported
	// through Result.NoText, never as an error.
	KindNoTextContent Kind = "NoTextContent"
	// KindPollTimeout means the run did not finish within the poll policy
	KindPollTimeout Kind = "PollTimeout"
	// KindCancelled means the caller gave up while the run was in flight
	KindCancelled Kind = "Cancelled"
)

// Tag returns the bracketed log tag, e.g. THREAD_OPERATION_FAILED
func (k Kind) Tag() string {
	var b strings.Builder
	for i, r := range string(k) {
		if i > 0 && r >= 'A' && r <= 'Z' {
			b.WriteByte('_')
		}
		b.WriteRune(r)
	}
	return strings.ToUpper(b.String())
}

// DiscardsSession reports whether the held handle is unusable after this kind
func (k Kind) DiscardsSession() bool {
	return k == KindThreadOperationFailed || k == KindInvalidSessionHandle
}

// Summary returns text that is safe to show to the user
func (k Kind) Summary() string {
	switch k {
	case KindThreadOperationFailed:
		return "The conversation could not be opened. A new one will be started on your next message."
	case KindInvalidSessionHandle:
		return "The conversation was lost. A new one will be started on your next message."
	case KindMissingUserMessage:
		return "There was no question to send."
	case KindRunStatusError:
		return "Joe could not finish that answer. Please try again."
	case KindRunOperationFailed:
		return "Your message could not be delivered. Please try again."
	case KindNoTextContent:
		return "(No text response)"
	case KindPollTimeout:
		return "Joe took too long to answer. Please try again."
	case KindCancelled:
		return "The request was stopped."
	default:
		return "Something went wrong. Try again."
	}
}

// Error is a classified generation failure
type Error struct {
	Kind Kind
	// Op is the remote operation that failed, e.g. "create thread"
	Op string
	// Handle is the thread involved, if one was resolved
	Handle string
	// Status is the terminal run status for KindRunStatusError
	Status assistant.RunStatus
	Err    error
}

// Error renders "[TAG] op (handle): detail"
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(e.Kind.Tag())
	b.WriteString("] ")
	b.WriteString(e.Op)
	if e.Handle != "" {
		fmt.Fprintf(&b, " (%s)", e.Handle)
	}
	if e.Status != "" {
		fmt.Fprintf(&b, ": run status %s", e.Status)
		if e.Err != nil {
			fmt.Fprintf(&b, " (%v)", e.Err)
		}
		return b.String()
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of err, or "" when err is nil or unclassified
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Summary returns the user-safe summary for any error
func Summary(err error) string {
	return KindOf(err).Summary()
}

func newError(kind Kind, op string, h assistant.Handle, err error) *Error {
	return &Error{Kind: kind, Op: op, Handle: h.String(), Err: err}
}
