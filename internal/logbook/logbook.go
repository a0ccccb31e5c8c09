// Package logbook keeps a plain-text journal of startup events so earlier
// runs can be inspected with `plugd history`.
package logbook

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/kingrea/plugd/internal/lifecycle"
)

// Level represents the severity of a log entry.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Logbook appends startup progress to a text file.
type Logbook struct {
	path  string
	clock clock.Clock
	mu    sync.Mutex
}

// Option customizes a Logbook.
type Option func(*Logbook)

// WithClock overrides the clock used to stamp entries.
func WithClock(c clock.Clock) Option {
	return func(l *Logbook) {
		if c != nil {
			l.clock = c
		}
	}
}

// New creates a logbook that writes to the provided path.
func New(path string, opts ...Option) (*Logbook, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("logbook: create dir: %w", err)
	}
	l := &Logbook{path: path, clock: clock.New()}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l, nil
}

// Path returns the file backing this logbook.
func (l *Logbook) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Append writes a single entry to the logbook.
func (l *Logbook) Append(level Level, message string) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	line := fmt.Sprintf("%s %-5s %s\n",
		l.clock.Now().UTC().Format(time.RFC3339),
		string(level),
		strings.TrimSpace(message),
	)
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("logbook: open: %w", err)
	}
	defer file.Close()
	if _, err := file.WriteString(line); err != nil {
		return fmt.Errorf("logbook: write: %w", err)
	}
	return nil
}

// Record appends a line describing evt.
func (l *Logbook) Record(evt lifecycle.Event) error {
	level := LevelInfo
	var msg string
	switch evt.Kind {
	case lifecycle.KindPluginSucceeded:
		msg = fmt.Sprintf("%s %s ready in %s", evt.Kind, evt.Name, evt.Elapsed.Round(time.Millisecond))
	case lifecycle.KindPluginFailed:
		level = LevelError
		reason := "unknown error"
		if evt.Err != nil {
			reason = evt.Err.Error()
		}
		msg = fmt.Sprintf("%s %s: %s", evt.Kind, evt.Name, reason)
	default:
		msg = string(evt.Kind)
	}
	return l.Append(level, msg)
}

// Consume records events until the channel closes or ctx is done. The first
// write error stops recording and is returned.
func (l *Logbook) Consume(ctx context.Context, events <-chan lifecycle.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			if err := l.Record(evt); err != nil {
				return err
			}
		}
	}
}

// Tail returns up to maxLines of the most recent entries and the total
// number of entries in the file.
func (l *Logbook) Tail(maxLines int) ([]string, int) {
	if l == nil || maxLines <= 0 {
		return nil, 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	file, err := os.Open(l.path)
	if err != nil {
		return nil, 0
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	total := len(lines)
	if total == 0 {
		return nil, 0
	}
	if total > maxLines {
		lines = lines[total-maxLines:]
	}
	return lines, total
}

// Info appends an informational entry.
func (l *Logbook) Info(format string, args ...any) error {
	return l.Append(LevelInfo, fmt.Sprintf(format, args...))
}

// Warn appends a warning entry.
func (l *Logbook) Warn(format string, args ...any) error {
	return l.Append(LevelWarn, fmt.Sprintf(format, args...))
}
