// Package ui is the pure-state side of hydra: a Bubble Tea model that
// drains backend snapshots on a tick, renders the sidebar and preview, and
// turns input into backend commands. Handlers never perform I/O — the only
// side effect they are allowed is a non-blocking try-send.
package ui

import (
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/twistedxcom/hydra/internal/backend"
	"github.com/twistedxcom/hydra/internal/session"
)

// Mode is the UI interaction mode.
type Mode int

const (
	ModeBrowse Mode = iota
	ModeCompose
	ModeNewSessionAgent
	ModeConfirmDelete
	ModeCopyMode
)

// uiTickInterval paces snapshot/preview draining and redraws.
const uiTickInterval = 100 * time.Millisecond

// sidebarWidth is the fixed column width of the session list.
const sidebarWidth = 32

type tickMsg time.Time

// CommandSink accepts backend commands without blocking.
type CommandSink interface {
	TrySend(backend.Command) bool
}

// SnapshotSource delivers backend state without blocking.
type SnapshotSource interface {
	LatestSnapshot() (*backend.StateSnapshot, bool)
	NextPreview() (backend.PreviewUpdate, bool)
}

// App is the Bubble Tea model.
type App struct {
	theme  Theme
	sink   CommandSink
	source SnapshotSource

	mode     Mode
	snapshot *backend.StateSnapshot
	selected int

	previews      map[string]backend.PreviewUpdate
	previewScroll int

	compose        textarea.Model
	agentSelection int

	filterActive bool
	filterQuery  string

	width, height int
	mouseCaptured bool
	quitting      bool
}

func NewApp(sink CommandSink, source SnapshotSource) *App {
	compose := textarea.New()
	compose.Placeholder = "Message the agent..."
	compose.CharLimit = 0
	compose.SetHeight(4)

	return &App{
		theme:         NewTheme(),
		sink:          sink,
		source:        source,
		snapshot:      &backend.StateSnapshot{},
		previews:      make(map[string]backend.PreviewUpdate),
		compose:       compose,
		mouseCaptured: true,
	}
}

func (a *App) Init() tea.Cmd {
	return tea.Batch(tick(), tea.EnableMouseCellMotion)
}

func tick() tea.Cmd {
	return tea.Tick(uiTickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.compose.SetWidth(a.width - sidebarWidth - 4)
		return a, nil

	case tickMsg:
		a.drain()
		return a, tick()

	case tea.KeyMsg:
		return a.handleKey(msg)

	case tea.MouseMsg:
		return a.handleMouse(msg)
	}
	return a, nil
}

// drain copies the latest snapshot and queued previews into the model.
// Latest-value semantics mean a slow UI never reads stale state: whatever
// is in the slot is the newest publish.
func (a *App) drain() {
	if snap, ok := a.source.LatestSnapshot(); ok {
		selectedName := a.selectedSessionName()
		a.snapshot = snap
		a.restoreSelection(selectedName)
	}
	for {
		p, ok := a.source.NextPreview()
		if !ok {
			break
		}
		a.previews[p.TmuxName] = p
	}
}

func (a *App) selectedSessionName() string {
	if a.selected >= 0 && a.selected < len(a.snapshot.Sessions) {
		return a.snapshot.Sessions[a.selected].Name
	}
	return ""
}

func (a *App) restoreSelection(name string) {
	if name != "" {
		for i, s := range a.snapshot.Sessions {
			if s.Name == name {
				a.selected = i
				return
			}
		}
	}
	if a.selected >= len(a.snapshot.Sessions) {
		a.selected = max(0, len(a.snapshot.Sessions)-1)
	}
}

// Selected returns the currently selected session, if any.
func (a *App) Selected() (backend.SessionView, bool) {
	if a.selected < 0 || a.selected >= len(a.snapshot.Sessions) {
		return backend.SessionView{}, false
	}
	return a.snapshot.Sessions[a.selected], true
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch a.mode {
	case ModeCompose:
		return a.handleComposeKey(msg)
	case ModeNewSessionAgent:
		a.handleAgentSelectKey(msg)
		return a, nil
	case ModeConfirmDelete:
		a.handleConfirmDeleteKey(msg)
		return a, nil
	case ModeCopyMode:
		// Any key leaves copy mode and restores mouse capture.
		a.mode = ModeBrowse
		a.mouseCaptured = true
		return a, tea.EnableMouseCellMotion
	}
	return a.handleBrowseKey(msg)
}

func (a *App) handleBrowseKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if a.filterActive {
		return a.handleFilterKey(msg)
	}

	switch msg.String() {
	case "q", "ctrl+c":
		a.quitting = true
		a.sink.TrySend(backend.Shutdown{})
		return a, tea.Quit

	case "j", "down":
		if a.selected < len(a.snapshot.Sessions)-1 {
			a.selected++
			a.previewScroll = 0
		}

	case "k", "up":
		if a.selected > 0 {
			a.selected--
			a.previewScroll = 0
		}

	case "n":
		a.mode = ModeNewSessionAgent
		a.agentSelection = 0

	case "d":
		if _, ok := a.Selected(); ok {
			a.mode = ModeConfirmDelete
		}

	case "enter", "i":
		if _, ok := a.Selected(); ok {
			a.mode = ModeCompose
			a.compose.Reset()
			a.compose.Focus()
		}

	case "c":
		a.mode = ModeCopyMode
		a.mouseCaptured = false
		return a, tea.DisableMouse

	case "/":
		a.filterActive = true
		a.filterQuery = ""

	case "s":
		if s, ok := a.Selected(); ok {
			// Retriable: a dropped request is re-issued on the next press.
			a.sink.TrySend(backend.ForceCapture{Name: s.Name, Scrollback: true})
		}

	case "r":
		if s, ok := a.Selected(); ok {
			a.sink.TrySend(backend.ForceCapture{Name: s.Name})
		}

	case "ctrl+u":
		a.previewScroll += 10
	case "ctrl+d":
		a.previewScroll = max(0, a.previewScroll-10)
	}
	return a, nil
}

func (a *App) handleFilterKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEscape:
		a.filterActive = false
		a.filterQuery = ""
	case tea.KeyEnter:
		// Jump to the best match and leave filtering.
		if matches := FilterSessions(a.snapshot.Sessions, a.filterQuery); len(matches) > 0 {
			a.selected = matches[0]
		}
		a.filterActive = false
		a.filterQuery = ""
	case tea.KeyBackspace:
		if len(a.filterQuery) > 0 {
			a.filterQuery = a.filterQuery[:len(a.filterQuery)-1]
		}
	case tea.KeyRunes:
		a.filterQuery += string(msg.Runes)
	}
	return a, nil
}

func (a *App) handleComposeKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEscape:
		a.mode = ModeBrowse
		a.compose.Blur()
		return a, nil

	case tea.KeyEnter:
		text := strings.TrimSpace(a.compose.Value())
		if s, ok := a.Selected(); ok && text != "" {
			// SendTextEnter on the backend side: literal text, a pause,
			// then Enter — agents drop Enter bundled with the text.
			a.sink.TrySend(backend.Compose{Name: s.Name, Text: text})
		}
		a.compose.Reset()
		a.mode = ModeBrowse
		a.compose.Blur()
		return a, nil
	}

	var cmd tea.Cmd
	a.compose, cmd = a.compose.Update(msg)
	return a, cmd
}

func (a *App) handleAgentSelectKey(msg tea.KeyMsg) {
	agents := session.AllAgents()
	switch msg.String() {
	case "esc":
		a.mode = ModeBrowse
	case "j", "down":
		a.agentSelection = (a.agentSelection + 1) % len(agents)
	case "k", "up":
		a.agentSelection = (a.agentSelection + len(agents) - 1) % len(agents)
	case "enter":
		a.sink.TrySend(backend.CreateSession{Agent: agents[a.agentSelection]})
		a.mode = ModeBrowse
	}
}

func (a *App) handleConfirmDeleteKey(msg tea.KeyMsg) {
	switch msg.String() {
	case "y":
		if s, ok := a.Selected(); ok {
			a.sink.TrySend(backend.DeleteSession{Name: s.Name})
		}
		a.mode = ModeBrowse
	case "n", "esc":
		a.mode = ModeBrowse
	}
}

func (a *App) handleMouse(msg tea.MouseMsg) (tea.Model, tea.Cmd) {
	switch msg.Button {
	case tea.MouseButtonWheelUp:
		a.previewScroll++
		return a, nil
	case tea.MouseButtonWheelDown:
		a.previewScroll = max(0, a.previewScroll-1)
		return a, nil
	}

	if msg.Action != tea.MouseActionPress || msg.Button != tea.MouseButtonLeft {
		return a, nil
	}

	onPreview := msg.X >= sidebarWidth

	if a.mode == ModeCompose {
		// Clicks on the preview only reset its scroll; clicks elsewhere
		// leave compose. SGR sequences are never forwarded to agent panes
		// either way — agents print them as garbage.
		if onPreview {
			a.previewScroll = 0
		} else {
			a.mode = ModeBrowse
			a.compose.Blur()
		}
		return a, nil
	}

	if !onPreview {
		rows := BuildRows(a.snapshot.Sessions)
		if idx, ok := SessionAt(rows, msg.Y-1); ok {
			a.selected = idx
			a.previewScroll = 0
		}
	}
	return a, nil
}
