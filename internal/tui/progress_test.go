package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kingrea/plugd/internal/lifecycle"
)

func TestProgressTracksOutcomes(t *testing.T) {
	events := make(chan lifecycle.Event, 4)
	p := NewProgress([]string{"db", "api"}, events)

	p.Update(eventMsg{evt: lifecycle.Event{Kind: lifecycle.KindPluginSucceeded, Name: "db", Elapsed: 120 * time.Millisecond}})
	p.Update(eventMsg{evt: lifecycle.Event{Kind: lifecycle.KindPluginFailed, Name: "api", Err: errors.New("timed out")}})
	if p.Done() {
		t.Fatalf("progress should wait for all-ready")
	}
	view := p.View()
	if !strings.Contains(view, "120ms") {
		t.Fatalf("expected elapsed time in view, got:\n%s", view)
	}
	if !strings.Contains(view, "timed out") {
		t.Fatalf("expected failure reason in view, got:\n%s", view)
	}
	if got := p.Failed(); len(got) != 1 || got[0] != "api" {
		t.Fatalf("unexpected failed list: %v", got)
	}

	_, cmd := p.Update(eventMsg{evt: lifecycle.Event{Kind: lifecycle.KindAllReady, Name: lifecycle.ManagerName}})
	if !p.Done() {
		t.Fatalf("expected done after all-ready")
	}
	if cmd == nil {
		t.Fatalf("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatalf("expected tea.QuitMsg")
	}
}

func TestProgressIgnoresUnknownPlugins(t *testing.T) {
	p := NewProgress([]string{"db"}, nil)
	p.Update(eventMsg{evt: lifecycle.Event{Kind: lifecycle.KindPluginFailed, Name: "ghost"}})
	if len(p.Failed()) != 0 {
		t.Fatalf("unknown plugin should be ignored")
	}
}

func TestProgressReadsFromChannel(t *testing.T) {
	events := make(chan lifecycle.Event, 1)
	p := NewProgress([]string{"db"}, events)
	events <- lifecycle.Event{Kind: lifecycle.KindPluginSucceeded, Name: "db"}
	msg := p.waitForEvent()()
	if _, ok := msg.(eventMsg); !ok {
		t.Fatalf("expected eventMsg, got %T", msg)
	}
	close(events)
	if _, ok := p.waitForEvent()().(streamClosedMsg); !ok {
		t.Fatalf("expected streamClosedMsg after close")
	}
}

func TestProgressQuitKey(t *testing.T) {
	p := NewProgress([]string{"db"}, nil)
	_, cmd := p.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if !p.Aborted() || cmd == nil {
		t.Fatalf("expected q to abort")
	}
}
