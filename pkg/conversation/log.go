package conversation

import "sync"

// Log is an ordered, append-only sequence of messages safe for concurrent
// readers. The zero value is an empty log.
type Log struct {
	mu       sync.RWMutex
	messages []Message
}

// NewLog creates a log seeded with existing messages, e.g. a restored transcript
func NewLog(messages []Message) *Log {
	l := &Log{}
	l.messages = append(l.messages, messages...)
	return l
}

// Append adds messages to the end of the log
func (l *Log) Append(messages ...Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, messages...)
}

// Messages returns a snapshot of the log
func (l *Log) Messages() []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Message, len(l.messages))
	copy(out, l.messages)
	return out
}

// Len returns the number of messages
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}

// Last returns the newest message
func (l *Log) Last() (Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.messages) == 0 {
		return Message{}, false
	}
	return l.messages[len(l.messages)-1], true
}

// Clear empties the log. Only an explicit conversation reset should call it.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = nil
}
