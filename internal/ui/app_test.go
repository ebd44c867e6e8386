package ui

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twistedxcom/hydra/internal/backend"
	"github.com/twistedxcom/hydra/internal/session"
)

// recordingSink records every command; it can simulate a full queue.
type recordingSink struct {
	commands []backend.Command
	full     bool
}

func (r *recordingSink) TrySend(cmd backend.Command) bool {
	if r.full {
		return false
	}
	r.commands = append(r.commands, cmd)
	return true
}

// stubSource hands out one snapshot and a fixed preview list.
type stubSource struct {
	snapshot *backend.StateSnapshot
	previews []backend.PreviewUpdate
}

func (s *stubSource) LatestSnapshot() (*backend.StateSnapshot, bool) {
	if s.snapshot == nil {
		return nil, false
	}
	snap := s.snapshot
	s.snapshot = nil
	return snap, true
}

func (s *stubSource) NextPreview() (backend.PreviewUpdate, bool) {
	if len(s.previews) == 0 {
		return backend.PreviewUpdate{}, false
	}
	p := s.previews[0]
	s.previews = s.previews[1:]
	return p, true
}

func testSessions() []backend.SessionView {
	return []backend.SessionView{
		{Name: "alpha", TmuxName: "hydra-p-alpha", Agent: session.AgentClaude, Status: session.StatusIdle},
		{Name: "bravo", TmuxName: "hydra-p-bravo", Agent: session.AgentCodex, Status: session.StatusRunning},
		{Name: "zulu", TmuxName: "hydra-p-zulu", Agent: session.AgentGemini, Status: session.StatusExited},
	}
}

func newTestApp(snapshot *backend.StateSnapshot) (*App, *recordingSink) {
	sink := &recordingSink{}
	app := NewApp(sink, &stubSource{snapshot: snapshot})
	if snapshot != nil {
		app.drain()
	}
	app.width = 120
	app.height = 40
	return app, sink
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEscape}
	default:
		return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
	}
}

func TestKeyHandlersOnlyTrySend(t *testing.T) {
	app, sink := newTestApp(&backend.StateSnapshot{Sessions: testSessions()})

	// Walk through every mode pressing representative keys; the only
	// observable effects are model mutations and sink sends.
	for _, k := range []string{"j", "k", "n", "esc", "d", "esc", "/", "esc", "s", "r"} {
		_, _ = app.handleKey(key(k))
	}

	for _, cmd := range sink.commands {
		switch cmd.(type) {
		case backend.ForceCapture:
		default:
			t.Fatalf("unexpected command type %T", cmd)
		}
	}
}

func TestSelectionMovesAndClamps(t *testing.T) {
	app, _ := newTestApp(&backend.StateSnapshot{Sessions: testSessions()})

	require.Equal(t, 0, app.selected)
	app.handleKey(key("j"))
	assert.Equal(t, 1, app.selected)
	app.handleKey(key("j"))
	app.handleKey(key("j"))
	assert.Equal(t, 2, app.selected, "clamped at last session")
	app.handleKey(key("k"))
	assert.Equal(t, 1, app.selected)
}

func TestSelectionSurvivesResort(t *testing.T) {
	app, _ := newTestApp(&backend.StateSnapshot{Sessions: testSessions()})
	app.handleKey(key("j")) // bravo

	// bravo moves to a different flat position in the next snapshot.
	resorted := &backend.StateSnapshot{Sessions: []backend.SessionView{
		{Name: "bravo", TmuxName: "hydra-p-bravo", Status: session.StatusIdle},
		{Name: "alpha", TmuxName: "hydra-p-alpha", Status: session.StatusRunning},
	}}
	app.source = &stubSource{snapshot: resorted}
	app.drain()

	s, ok := app.Selected()
	require.True(t, ok)
	assert.Equal(t, "bravo", s.Name)
}

func TestComposeSubmitSendsComposeCommand(t *testing.T) {
	app, sink := newTestApp(&backend.StateSnapshot{Sessions: testSessions()})

	app.handleKey(key("enter")) // enter compose
	require.Equal(t, ModeCompose, app.mode)

	app.handleKey(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("fix the tests")})
	app.handleKey(key("enter"))

	require.Len(t, sink.commands, 1)
	compose, ok := sink.commands[0].(backend.Compose)
	require.True(t, ok)
	assert.Equal(t, "alpha", compose.Name)
	assert.Equal(t, "fix the tests", compose.Text)
	assert.Equal(t, ModeBrowse, app.mode)
}

func TestComposeEmptySubmitSendsNothing(t *testing.T) {
	app, sink := newTestApp(&backend.StateSnapshot{Sessions: testSessions()})
	app.handleKey(key("enter"))
	app.handleKey(key("enter"))
	assert.Empty(t, sink.commands)
}

func TestFullQueueDropsCommand(t *testing.T) {
	app, sink := newTestApp(&backend.StateSnapshot{Sessions: testSessions()})
	sink.full = true

	// Must not panic or block; the command is simply dropped.
	app.handleKey(key("s"))
	assert.Empty(t, sink.commands)
}

func TestNewSessionAgentFlow(t *testing.T) {
	app, sink := newTestApp(&backend.StateSnapshot{Sessions: testSessions()})

	app.handleKey(key("n"))
	require.Equal(t, ModeNewSessionAgent, app.mode)

	app.handleKey(key("j")) // codex
	app.handleKey(key("enter"))

	require.Len(t, sink.commands, 1)
	create, ok := sink.commands[0].(backend.CreateSession)
	require.True(t, ok)
	assert.Equal(t, session.AgentCodex, create.Agent)
	assert.Empty(t, create.Name, "name is backend-generated")
}

func TestConfirmDeleteFlow(t *testing.T) {
	app, sink := newTestApp(&backend.StateSnapshot{Sessions: testSessions()})

	app.handleKey(key("d"))
	require.Equal(t, ModeConfirmDelete, app.mode)
	app.handleKey(key("n"))
	assert.Empty(t, sink.commands, "declined")

	app.handleKey(key("d"))
	app.handleKey(key("y"))
	require.Len(t, sink.commands, 1)
	del, ok := sink.commands[0].(backend.DeleteSession)
	require.True(t, ok)
	assert.Equal(t, "alpha", del.Name)
}

func TestCopyModeDisablesMouseCapture(t *testing.T) {
	app, _ := newTestApp(&backend.StateSnapshot{Sessions: testSessions()})

	app.handleKey(key("c"))
	assert.Equal(t, ModeCopyMode, app.mode)
	assert.False(t, app.mouseCaptured)

	app.handleKey(key("x"))
	assert.Equal(t, ModeBrowse, app.mode)
	assert.True(t, app.mouseCaptured)
}

func TestMouseClickSelectsSidebarSession(t *testing.T) {
	app, sink := newTestApp(&backend.StateSnapshot{Sessions: testSessions()})

	rows := BuildRows(app.snapshot.Sessions)
	target := VisualRow(rows, 1) // bravo

	app.handleMouse(tea.MouseMsg{
		X: 2, Y: target + 1,
		Action: tea.MouseActionPress,
		Button: tea.MouseButtonLeft,
	})

	assert.Equal(t, 1, app.selected)
	assert.Empty(t, sink.commands, "sidebar clicks never reach agent panes")
}

func TestMouseClickHeaderRowIsIgnored(t *testing.T) {
	app, _ := newTestApp(&backend.StateSnapshot{Sessions: testSessions()})
	before := app.selected

	// Row 0 is the Idle header.
	app.handleMouse(tea.MouseMsg{
		X: 2, Y: 1,
		Action: tea.MouseActionPress,
		Button: tea.MouseButtonLeft,
	})
	assert.Equal(t, before, app.selected)
}

func TestComposeMouseRules(t *testing.T) {
	app, _ := newTestApp(&backend.StateSnapshot{Sessions: testSessions()})
	app.handleKey(key("enter"))
	require.Equal(t, ModeCompose, app.mode)
	app.previewScroll = 7

	// Left-click on the preview resets scroll, stays in compose.
	app.handleMouse(tea.MouseMsg{
		X: sidebarWidth + 5, Y: 5,
		Action: tea.MouseActionPress,
		Button: tea.MouseButtonLeft,
	})
	assert.Equal(t, ModeCompose, app.mode)
	assert.Zero(t, app.previewScroll)

	// Click outside the preview exits compose.
	app.handleMouse(tea.MouseMsg{
		X: 2, Y: 5,
		Action: tea.MouseActionPress,
		Button: tea.MouseButtonLeft,
	})
	assert.Equal(t, ModeBrowse, app.mode)
}

func TestDrainAppliesPreviews(t *testing.T) {
	sink := &recordingSink{}
	app := NewApp(sink, &stubSource{
		snapshot: &backend.StateSnapshot{Sessions: testSessions()},
		previews: []backend.PreviewUpdate{
			{TmuxName: "hydra-p-alpha", Capture: "pane text"},
		},
	})
	app.drain()

	p, ok := app.previews["hydra-p-alpha"]
	require.True(t, ok)
	assert.Equal(t, "pane text", p.Capture)
}

func TestFilterJumpsToBestMatch(t *testing.T) {
	app, _ := newTestApp(&backend.StateSnapshot{Sessions: testSessions()})

	app.handleKey(key("/"))
	require.True(t, app.filterActive)
	app.handleKey(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("zu")})
	app.handleKey(key("enter"))

	assert.False(t, app.filterActive)
	s, ok := app.Selected()
	require.True(t, ok)
	assert.Equal(t, "zulu", s.Name)
}
