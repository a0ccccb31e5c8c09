// Package tui renders startup progress as a bubbletea program.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/plugd/internal/lifecycle"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	readyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#CCCCCC"))
	detailStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
	footerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801"))
)

type rowStatus int

const (
	rowPending rowStatus = iota
	rowReady
	rowFailed
)

type row struct {
	name    string
	status  rowStatus
	elapsed time.Duration
	err     string
}

// eventMsg wraps a lifecycle event read from the subscription.
type eventMsg struct {
	evt lifecycle.Event
}

// streamClosedMsg is sent when the subscription channel closes.
type streamClosedMsg struct{}

// Progress is a bubbletea model listing plugins in resolved order. It exits
// once the all-ready event arrives or the event stream closes.
type Progress struct {
	rows    []row
	index   map[string]int
	events  <-chan lifecycle.Event
	spinner spinner.Model
	done    bool
	aborted bool
}

// NewProgress builds the model for the given plugin names, fed by events.
func NewProgress(names []string, events <-chan lifecycle.Event) *Progress {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle
	p := &Progress{
		rows:    make([]row, 0, len(names)),
		index:   make(map[string]int, len(names)),
		events:  events,
		spinner: sp,
	}
	for i, name := range names {
		p.rows = append(p.rows, row{name: name})
		p.index[name] = i
	}
	return p
}

// Init starts the spinner and the event reader.
func (p *Progress) Init() tea.Cmd {
	return tea.Batch(p.spinner.Tick, p.waitForEvent())
}

func (p *Progress) waitForEvent() tea.Cmd {
	events := p.events
	return func() tea.Msg {
		evt, ok := <-events
		if !ok {
			return streamClosedMsg{}
		}
		return eventMsg{evt: evt}
	}
}

// Update implements tea.Model.
func (p *Progress) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch m := msg.(type) {
	case tea.KeyMsg:
		switch m.String() {
		case "ctrl+c", "q":
			p.aborted = true
			return p, tea.Quit
		}
	case eventMsg:
		p.apply(m.evt)
		if p.done {
			return p, tea.Quit
		}
		return p, p.waitForEvent()
	case streamClosedMsg:
		p.done = true
		return p, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		p.spinner, cmd = p.spinner.Update(m)
		return p, cmd
	}
	return p, nil
}

func (p *Progress) apply(evt lifecycle.Event) {
	switch evt.Kind {
	case lifecycle.KindPluginSucceeded, lifecycle.KindPluginFailed:
		idx, ok := p.index[evt.Name]
		if !ok {
			return
		}
		r := &p.rows[idx]
		r.elapsed = evt.Elapsed
		if evt.Kind == lifecycle.KindPluginSucceeded {
			r.status = rowReady
			return
		}
		r.status = rowFailed
		if evt.Err != nil {
			r.err = evt.Err.Error()
		}
	case lifecycle.KindAllReady:
		p.done = true
	}
}

// Done reports whether startup finished.
func (p *Progress) Done() bool {
	return p.done
}

// Aborted reports whether the user quit before startup finished.
func (p *Progress) Aborted() bool {
	return p.aborted
}

// Failed returns the names of plugins that failed to start.
func (p *Progress) Failed() []string {
	var out []string
	for _, r := range p.rows {
		if r.status == rowFailed {
			out = append(out, r.name)
		}
	}
	return out
}

// View implements tea.Model.
func (p *Progress) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Starting plugins"))
	b.WriteString("\n\n")
	width := 0
	for _, r := range p.rows {
		width = max(width, len(r.name))
	}
	for _, r := range p.rows {
		name := fmt.Sprintf("%-*s", width, r.name)
		switch r.status {
		case rowReady:
			fmt.Fprintf(&b, " %s %s %s\n", readyStyle.Render("✓"), name, detailStyle.Render(r.elapsed.Round(time.Millisecond).String()))
		case rowFailed:
			fmt.Fprintf(&b, " %s %s %s\n", failedStyle.Render("✗"), name, detailStyle.Render(r.err))
		default:
			fmt.Fprintf(&b, " %s %s\n", p.spinner.View(), pendingStyle.Render(name))
		}
	}
	b.WriteString("\n")
	if p.done {
		b.WriteString(footerStyle.Render("all plugins started"))
	} else {
		b.WriteString(footerStyle.Render("q to stop watching"))
	}
	b.WriteString("\n")
	return b.String()
}
