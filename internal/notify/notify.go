// Package notify carries user-facing messages to whichever host is active:
// LSP window messages in the editor, stderr on the command line.
package notify

import (
	"log/slog"
	"sync"
)

// Notifier shows messages to the user.
type Notifier interface {
	Info(msg string)
	Error(msg string)
}

// Log writes messages to a structured logger.
type Log struct {
	Logger *slog.Logger
}

func (l Log) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

// Info logs at info level.
func (l Log) Info(msg string) { l.logger().Info(msg) }

// Error logs at error level.
func (l Log) Error(msg string) { l.logger().Error(msg) }

// Message is one recorded notification.
type Message struct {
	Error bool
	Text  string
}

// Recorder keeps every message. `csvls install` replays it after the
// spinner stops.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

// Info records an informational message.
func (r *Recorder) Info(msg string) { r.add(Message{Text: msg}) }

// Error records an error message.
func (r *Recorder) Error(msg string) { r.add(Message{Error: true, Text: msg}) }

func (r *Recorder) add(m Message) {
	r.mu.Lock()
	r.messages = append(r.messages, m)
	r.mu.Unlock()
}

// Messages returns a copy of everything recorded so far.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

// Errors returns only the error messages.
func (r *Recorder) Errors() []string {
	var out []string
	for _, m := range r.Messages() {
		if m.Error {
			out = append(out, m.Text)
		}
	}
	return out
}
