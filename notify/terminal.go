// Package notify turns pipeline progress into user-facing messages.
package notify

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"fatgo/runner"
)

// Level of a user-facing notification
type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

// Notification is one message shown to the user
type Notification struct {
	Level   Level
	Message string
}

// Message maps a progress event to its notification. Events that the user
// is not told about return ok == false.
func Message(ev runner.Event, verbose bool) (n Notification, ok bool) {
	switch ev.Type {
	case runner.EventRunStarted:
		return Notification{LevelInfo, ev.Message}, true
	case runner.EventStageSkipped:
		return Notification{LevelInfo, ev.Message}, true
	case runner.EventRunSucceeded:
		return Notification{LevelInfo, ev.Message}, true
	case runner.EventRunFailed:
		return Notification{LevelError, failureMessage(ev)}, true
	case runner.EventPresentFailed:
		return Notification{LevelError, ev.Message}, true
	case runner.EventStageStarted:
		if verbose {
			return Notification{LevelInfo, fmt.Sprintf("→ %s", ev.Label)}, true
		}
	case runner.EventStageFinished:
		if verbose && ev.Status == runner.StatusSuccess {
			return Notification{LevelInfo, fmt.Sprintf("✓ %s", ev.Label)}, true
		}
	}
	return Notification{}, false
}

func failureMessage(ev runner.Event) string {
	if errors.Is(ev.Err, runner.ErrNoWorkspace) {
		return "No workspace folder open."
	}
	if ev.Label != "" {
		return fmt.Sprintf("%s failed: %s", ev.Label, ev.Message)
	}
	return fmt.Sprintf("Analysis failed: %s", ev.Message)
}

// Terminal writes notifications to a terminal
type Terminal struct {
	out     io.Writer
	verbose bool
	info    lipgloss.Style
	err     lipgloss.Style

	mu sync.Mutex
}

// NewTerminal creates a terminal notifier. Verbose adds one line per stage boundary.
func NewTerminal(out io.Writer, verbose bool) *Terminal {
	return &Terminal{
		out:     out,
		verbose: verbose,
		info:    lipgloss.NewStyle().Foreground(lipgloss.Color("#22c55e")),
		err:     lipgloss.NewStyle().Foreground(lipgloss.Color("#ef4444")).Bold(true),
	}
}

// Publish implements runner.ProgressSink
func (t *Terminal) Publish(ev runner.Event) {
	n, ok := Message(ev, t.verbose)
	if !ok {
		return
	}

	style := t.info
	if n.Level == LevelError {
		style = t.err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.out, style.Render(n.Message))
}
