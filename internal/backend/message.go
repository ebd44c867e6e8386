package backend

import (
	"context"
	"time"

	"github.com/twistedxcom/hydra/internal/git"
	"github.com/twistedxcom/hydra/internal/logs"
	"github.com/twistedxcom/hydra/internal/session"
	"github.com/twistedxcom/hydra/internal/tmux"
)

// The message tick fires every 50ms; real work runs every cadenceTicks
// (~2s). After a failed resolution a session's log path is not retried for
// the next uuidRetryCooldown work cycles (~12s), because resolution walks
// the pane's process tree.
const (
	cadenceTicks      = 40
	uuidRetryCooldown = 6
)

// MessageRuntime owns everything derived from provider logs: per-session
// stats, last assistant messages, conversation buffers, the global daily
// stats, and the git diff tree.
type MessageRuntime struct {
	home string
	cwd  string

	// tmuxName → resolved log id: Claude session UUID, or a file path for
	// Codex/Gemini.
	logIDs         map[string]string
	retryCooldowns map[string]int

	lastMessages  map[string]string
	stats         map[string]*logs.SessionStats
	conversations map[string]*logs.ConversationBuffer
	global        *logs.GlobalStats
	diff          []git.DiffFile

	tick uint8
	// Set when a log path resolved this cycle: the provider directory now
	// provably exists, so the caller should rescan the log watcher.
	resolvedNew bool
}

func NewMessageRuntime(home, cwd string) *MessageRuntime {
	return &MessageRuntime{
		home:           home,
		cwd:            cwd,
		logIDs:         make(map[string]string),
		retryCooldowns: make(map[string]int),
		lastMessages:   make(map[string]string),
		stats:          make(map[string]*logs.SessionStats),
		conversations:  make(map[string]*logs.ConversationBuffer),
		global:         logs.NewGlobalStats(),
	}
}

func (m *MessageRuntime) Stats() map[string]*logs.SessionStats { return m.stats }
func (m *MessageRuntime) LastMessages() map[string]string      { return m.lastMessages }
func (m *MessageRuntime) Global() *logs.GlobalStats            { return m.global }
func (m *MessageRuntime) DiffFiles() []git.DiffFile            { return m.diff }

// Conversation returns the buffer for a session, if any.
func (m *MessageRuntime) Conversation(tmuxName string) (*logs.ConversationBuffer, bool) {
	buf, ok := m.conversations[tmuxName]
	return buf, ok
}

// Tick advances the cadence counter and, every ~2s, refreshes log-derived
// state for all sessions. Returns the sessions whose logs advanced and
// whether a work cycle actually ran.
func (m *MessageRuntime) Tick(ctx context.Context, sessions []tmux.SessionInfo, now time.Time) (changed []string, ran bool) {
	m.tick++
	if m.tick < cadenceTicks {
		return nil, false
	}
	m.tick = 0
	return m.refresh(ctx, sessions, now), true
}

func (m *MessageRuntime) refresh(ctx context.Context, sessions []tmux.SessionInfo, now time.Time) []string {
	var changed []string

	for _, info := range sessions {
		if _, ok := m.logIDs[info.TmuxName]; !ok {
			m.tryResolve(ctx, info)
		}
		logID, ok := m.logIDs[info.TmuxName]
		if !ok {
			continue
		}

		stats, ok := m.stats[info.TmuxName]
		if !ok {
			stats = logs.NewSessionStats()
			m.stats[info.TmuxName] = stats
		}

		before := stats.ReadOffset
		var update logs.LogUpdate
		switch info.Agent {
		case session.AgentClaude:
			update = logs.ParseClaudeLog(logs.ClaudeLogPath(m.home, m.cwd, logID), stats)
		case session.AgentCodex:
			update = logs.ParseCodexLog(logID, stats)
		case session.AgentGemini:
			update = logs.ParseGeminiLog(logID, stats)
		}

		buf, ok := m.conversations[info.TmuxName]
		if !ok {
			buf = &logs.ConversationBuffer{}
			m.conversations[info.TmuxName] = buf
		}
		if update.ReplaceConversation {
			buf.Replace(update.Entries)
		} else {
			buf.Extend(update.Entries)
		}
		buf.ReadOffset = update.NewOffset

		if update.LastAssistant != "" {
			m.lastMessages[info.TmuxName] = update.LastAssistant
		}
		if update.NewOffset != before || update.ReplaceConversation {
			changed = append(changed, info.TmuxName)
		}
	}

	m.global.UpdateGlobalStatsAt(m.home, now)
	m.diff = git.DiffNumstat(ctx, m.cwd)

	return changed
}

// tryResolve attempts log-path discovery for a session, honoring the
// per-session cooldown. Unresolved is a normal state, not an error.
func (m *MessageRuntime) tryResolve(ctx context.Context, info tmux.SessionInfo) {
	if cd := m.retryCooldowns[info.TmuxName]; cd > 0 {
		m.retryCooldowns[info.TmuxName] = cd - 1
		return
	}

	claimed := make(map[string]struct{}, len(m.logIDs))
	for _, id := range m.logIDs {
		claimed[id] = struct{}{}
	}

	var id string
	var ok bool
	switch info.Agent {
	case session.AgentClaude:
		id, ok = logs.ResolveClaudeUUID(ctx, info.TmuxName)
	case session.AgentCodex:
		id, ok = logs.ResolveCodexRollout(m.home, claimed)
	case session.AgentGemini:
		id, ok = logs.ResolveGeminiSession(m.home, m.cwd, claimed)
	}

	if ok {
		m.logIDs[info.TmuxName] = id
		m.resolvedNew = true
		delete(m.retryCooldowns, info.TmuxName)
	} else {
		m.retryCooldowns[info.TmuxName] = uuidRetryCooldown
	}
}

// TakeResolvedNew reports whether any log path resolved since the last
// call, clearing the flag.
func (m *MessageRuntime) TakeResolvedNew() bool {
	resolved := m.resolvedNew
	m.resolvedNew = false
	return resolved
}

// SetResumeHandle pre-seeds a Claude session's log id from its manifest
// resume handle, skipping process-tree resolution entirely.
func (m *MessageRuntime) SetResumeHandle(tmuxName, uuid string) {
	if uuid != "" {
		m.logIDs[tmuxName] = uuid
	}
}

// Prune drops state for dead sessions.
func (m *MessageRuntime) Prune(live map[string]struct{}) {
	for k := range m.logIDs {
		if _, ok := live[k]; !ok {
			delete(m.logIDs, k)
		}
	}
	for k := range m.retryCooldowns {
		if _, ok := live[k]; !ok {
			delete(m.retryCooldowns, k)
		}
	}
	for k := range m.lastMessages {
		if _, ok := live[k]; !ok {
			delete(m.lastMessages, k)
		}
	}
	for k := range m.stats {
		if _, ok := live[k]; !ok {
			delete(m.stats, k)
		}
	}
	for k := range m.conversations {
		if _, ok := live[k]; !ok {
			delete(m.conversations, k)
		}
	}
}
