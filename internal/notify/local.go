package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// LogChannel writes notifications to the application log.
type LogChannel struct {
	log zerolog.Logger
}

// NewLogChannel creates a log channel.
func NewLogChannel(logger zerolog.Logger) *LogChannel {
	return &LogChannel{log: logger.With().Str("channel", "log").Logger()}
}

// Name returns the name of the channel.
func (l *LogChannel) Name() string {
	return "log"
}

// Deliver logs n. It never fails.
func (l *LogChannel) Deliver(ctx context.Context, destination string, n Notification) error {
	l.log.Info().
		Str("destination", destination).
		Interface("data", n.Data).
		Msg(n.Title)
	return nil
}

// TerminalChannel prints notifications to a terminal.
type TerminalChannel struct {
	mu   sync.Mutex
	out  io.Writer
	bell bool
}

// NewTerminalChannel creates a terminal channel writing to out, or stdout
// when out is nil.
func NewTerminalChannel(out io.Writer, bell bool) *TerminalChannel {
	if out == nil {
		out = os.Stdout
	}
	return &TerminalChannel{out: out, bell: bell}
}

// Name returns the name of the channel.
func (t *TerminalChannel) Name() string {
	return "terminal"
}

// Deliver prints a boxed notification.
func (t *TerminalChannel) Deliver(ctx context.Context, destination string, n Notification) error {
	var sb strings.Builder
	if t.bell {
		sb.WriteString("\a")
	}
	sb.WriteString("┌─ ")
	sb.WriteString(n.Title)
	sb.WriteString("\n")
	for _, line := range strings.Split(n.Message, "\n") {
		sb.WriteString("│ ")
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	sb.WriteString("└─\n")

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := fmt.Fprint(t.out, sb.String()); err != nil {
		return fmt.Errorf("writing terminal notification: %w", err)
	}
	return nil
}
