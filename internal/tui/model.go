// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lectern Contributors

// Package tui renders a streaming answer interactively: retrieved
// sources first, then the model's reasoning while it is in progress,
// then the answer as it arrives.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/lectern-dev/lectern/internal/stream"
)

var (
	headerStyle   = lipgloss.NewStyle().Bold(true)
	sourceStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	thinkingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	answerStyle   = lipgloss.NewStyle()
)

// UpdateMsg carries a scanner snapshot into the model.
type UpdateMsg stream.Update

// StreamClosedMsg signals that no further updates will arrive.
type StreamClosedMsg struct{}

// Model is the Bubble Tea model for a single streamed answer.
type Model struct {
	question string
	updates  <-chan stream.Update
	cancel   func()

	spinner   spinner.Model
	state     stream.Update
	closed    bool
	cancelled bool
	width     int
}

// New creates a model reading scanner snapshots from updates. cancel is
// invoked once when the user aborts mid-stream; it should cancel the
// scanner (flushing the cancellation marker) and the request context.
// The model then stays up for the final snapshot so the truncated state
// is what the user last sees.
func New(question string, updates <-chan stream.Update, cancel func()) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = thinkingStyle
	return Model{
		question: question,
		updates:  updates,
		cancel:   cancel,
		spinner:  sp,
		width:    80,
	}
}

// Init starts the spinner and the update pump.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForUpdate(m.updates))
}

func waitForUpdate(updates <-chan stream.Update) tea.Cmd {
	return func() tea.Msg {
		u, ok := <-updates
		if !ok {
			return StreamClosedMsg{}
		}
		return UpdateMsg(u)
	}
}

// Update handles key events and scanner snapshots.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		if msg.Width > 0 {
			m.width = msg.Width
		}
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyEsc {
			if m.cancel == nil {
				return m, tea.Quit
			}
			if !m.cancelled {
				m.cancelled = true
				m.cancel()
			}
			// keep pumping: cancel produces a final Done snapshot
			// carrying the cancellation marker, which quits below
			return m, nil
		}
		return m, nil

	case UpdateMsg:
		m.state = stream.Update(msg)
		if m.state.Done {
			return m, tea.Quit
		}
		return m, waitForUpdate(m.updates)

	case StreamClosedMsg:
		m.closed = true
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the question, sources, reasoning, and answer.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(headerStyle.Render("? "+m.question) + "\n")

	if len(m.state.Sources) > 0 {
		b.WriteString("\n")
		for _, src := range m.state.Sources {
			line := fmt.Sprintf("  [%s:%d] %.3f %s", src.FileName, src.ChunkIndex, src.Distance, src.Preview)
			b.WriteString(sourceStyle.Render(truncate(line, m.width)) + "\n")
		}
	}

	if thinking := strings.TrimSpace(m.state.Thinking); thinking != "" {
		b.WriteString("\n")
		if m.state.ThinkingComplete {
			b.WriteString(thinkingStyle.Render(thinking) + "\n")
		} else {
			b.WriteString(thinkingStyle.Render(thinking) + " " + m.spinner.View() + "\n")
		}
	} else if !m.state.ThinkingComplete && !m.state.Done {
		b.WriteString("\n" + m.spinner.View() + thinkingStyle.Render(" waiting for answer") + "\n")
	}

	if answer := strings.TrimSpace(m.state.Answer); answer != "" {
		b.WriteString("\n" + answerStyle.Render(answer) + "\n")
	}

	if m.state.Err != nil {
		b.WriteString("\n" + errorStyle.Render("Error: "+m.state.Err.Error()) + "\n")
	}

	return b.String()
}

// Err returns the terminal stream error, if any, for the caller to
// report after the program exits.
func (m Model) Err() error { return m.state.Err }

func truncate(s string, width int) string {
	runes := []rune(s)
	if width <= 3 || len(runes) <= width {
		return s
	}
	return string(runes[:width-1]) + "…"
}
