package backend

import (
	"time"

	"github.com/twistedxcom/hydra/internal/git"
	"github.com/twistedxcom/hydra/internal/logs"
	"github.com/twistedxcom/hydra/internal/session"
	"github.com/twistedxcom/hydra/internal/statedb"
)

// Command is a UI request to the backend. The UI sends with TrySend and
// treats a full queue as retriable.
type Command interface{ command() }

type CreateSession struct {
	Name  string // empty → auto-generated
	Agent session.AgentType
}

type DeleteSession struct{ Name string }

type SendKeys struct {
	Name string
	Keys []string
}

type Compose struct {
	Name string
	Text string
}

type ForceCapture struct {
	Name       string
	Scrollback bool
}

type Shutdown struct{}

func (CreateSession) command() {}
func (DeleteSession) command() {}
func (SendKeys) command()      {}
func (Compose) command()       {}
func (ForceCapture) command()  {}
func (Shutdown) command()      {}

// StatsView is the per-session stats slice of a snapshot.
type StatsView struct {
	Turns           uint32
	TokensIn        uint64
	TokensOut       uint64
	TokensCacheRead uint64
	TokensCacheWrite uint64
	Edits           uint16
	BashCmds        uint16
	FileCount       int
	ActiveSubagents int
	CostUSD         float64
}

// SessionView is one session as the UI sees it.
type SessionView struct {
	Name        string
	TmuxName    string
	Agent       session.AgentType
	Status      session.Status
	LastMessage string
	TaskElapsed time.Duration
	HasTask     bool
	Stats       StatsView
}

// StateSnapshot is the latest-value payload published to the UI after each
// refresh. A new snapshot overwrites any unread previous one.
type StateSnapshot struct {
	Sessions      []SessionView
	GlobalDate    string
	Global        map[string]logs.ProviderDaily
	UsageHistory  []statedb.UsageRow
	DiffFiles     []git.DiffFile
	StatusMessage string
}

// PreviewUpdate is one preview payload, delivered over a bounded FIFO that
// drops oldest under pressure. Conversation previews carry entries; raw
// captures carry pane text.
type PreviewUpdate struct {
	TmuxName     string
	Conversation []logs.ConversationEntry
	Capture      string
	Scrollback   bool
}

// IsConversation reports which payload variant this update carries.
func (p PreviewUpdate) IsConversation() bool {
	return p.Conversation != nil
}

// Channels bundles the three backend↔UI channels.
type Channels struct {
	Commands  chan Command
	snapshots chan *StateSnapshot
	previews  chan PreviewUpdate
}

func NewChannels() *Channels {
	return &Channels{
		Commands:  make(chan Command, 32),
		snapshots: make(chan *StateSnapshot, 1),
		previews:  make(chan PreviewUpdate, 64),
	}
}

// TrySend offers a command without blocking; false means the queue is full
// and the caller should retry on its next event.
func (c *Channels) TrySend(cmd Command) bool {
	select {
	case c.Commands <- cmd:
		return true
	default:
		return false
	}
}

// PublishSnapshot installs snap as the latest value, replacing any unread
// snapshot: the UI must never observe state older than the newest publish.
func (c *Channels) PublishSnapshot(snap *StateSnapshot) {
	for {
		select {
		case c.snapshots <- snap:
			return
		default:
			select {
			case <-c.snapshots:
			default:
			}
		}
	}
}

// LatestSnapshot drains the slot without blocking.
func (c *Channels) LatestSnapshot() (*StateSnapshot, bool) {
	select {
	case snap := <-c.snapshots:
		return snap, true
	default:
		return nil, false
	}
}

// PushPreview enqueues a preview, dropping the oldest queued update when
// the buffer is full.
func (c *Channels) PushPreview(p PreviewUpdate) {
	for {
		select {
		case c.previews <- p:
			return
		default:
			select {
			case <-c.previews:
			default:
			}
		}
	}
}

// NextPreview drains one preview without blocking.
func (c *Channels) NextPreview() (PreviewUpdate, bool) {
	select {
	case p := <-c.previews:
		return p, true
	default:
		return PreviewUpdate{}, false
	}
}
