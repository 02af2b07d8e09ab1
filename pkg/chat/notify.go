package chat

import "github.com/rs/zerolog"

// Severity of a notification
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityError Severity = "error"
)

// Notification is a transient message for the user, shown next to the transcript
type Notification struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
}

// Notifier shows notifications
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(n Notification)

func (f NotifierFunc) Notify(n Notification) {
	f(n)
}

// logNotifier is used when no Notifier is configured
type logNotifier struct {
	logger zerolog.Logger
}

func (l logNotifier) Notify(n Notification) {
	evt := l.logger.Info()
	if n.Severity == SeverityError {
		evt = l.logger.Warn()
	}
	evt.Str("title", n.Title).Msg(n.Description)
}
