// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lectern Contributors

package tui

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lectern-dev/lectern/internal/retrieval"
	"github.com/lectern-dev/lectern/internal/stream"
)

func TestViewShowsSourcesThinkingAndAnswer(t *testing.T) {
	m := New("when does it open?", nil, nil)
	updated, _ := m.Update(UpdateMsg(stream.Update{
		Sources: []retrieval.SourceSummary{
			{FileName: "hours.md", ChunkIndex: 1, Distance: 0.12, Preview: "opening hours"},
		},
		Thinking:         "checking the hours section",
		Answer:           "Opens at 8am.",
		ThinkingComplete: true,
	}))
	m = updated.(Model)

	view := m.View()
	assert.Contains(t, view, "when does it open?")
	assert.Contains(t, view, "hours.md:1")
	assert.Contains(t, view, "checking the hours section")
	assert.Contains(t, view, "Opens at 8am.")
}

func TestDoneUpdateQuits(t *testing.T) {
	m := New("q", nil, nil)
	_, cmd := m.Update(UpdateMsg(stream.Update{Answer: "done", Done: true}))
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestCtrlCCancelsOnceAndWaitsForFinalSnapshot(t *testing.T) {
	cancels := 0
	m := New("q", nil, func() { cancels++ })

	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	m = updated.(Model)
	assert.Nil(t, cmd, "must wait for the cancelled snapshot, not quit blind")
	assert.Equal(t, 1, cancels)

	// a repeated abort must not re-fire the cancel hook
	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	m = updated.(Model)
	assert.Equal(t, 1, cancels)

	_, cmd = m.Update(UpdateMsg(stream.Update{Answer: "partial\n[cancelled]", Done: true}))
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestCtrlCWithoutCancelHookQuits(t *testing.T) {
	m := New("q", nil, nil)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

// Exercises the abort wiring the way the ask command sets it up: the
// cancel hook aborts the scanner, whose final snapshot carries the
// cancellation marker and quits the model.
func TestAbortRendersCancelledAnswer(t *testing.T) {
	updates := make(chan stream.Update, 4)
	sc := stream.NewScanner(func(u stream.Update) { updates <- u }, nil)
	require.NoError(t, sc.Feed([]byte(`{"message":{"role":"assistant","content":"partial answer"},"done":false}`+"\n")))

	m := New("q", updates, sc.Cancel)

	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	m = updated.(Model)
	assert.Nil(t, cmd)

	<-updates // snapshot from the content record
	final := <-updates
	require.True(t, final.Done)

	updated, cmd = m.Update(UpdateMsg(final))
	m = updated.(Model)
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
	assert.Contains(t, m.View(), "[cancelled]")
}

func TestStreamClosedQuits(t *testing.T) {
	updates := make(chan stream.Update)
	close(updates)

	m := New("q", updates, nil)
	msg := waitForUpdate(updates)()
	assert.IsType(t, StreamClosedMsg{}, msg)

	_, cmd := m.Update(msg)
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestViewShowsError(t *testing.T) {
	m := New("q", nil, nil)
	updated, _ := m.Update(UpdateMsg(stream.Update{Err: assertionError("model crashed"), Done: true}))
	view := updated.(Model).View()
	assert.Contains(t, view, "model crashed")
}

type assertionError string

func (e assertionError) Error() string { return string(e) }
