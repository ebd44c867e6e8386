// Package backend hosts the actor that owns all I/O state: tmux control,
// log parsing, manifest persistence, and status detection. It talks to the
// UI exclusively through typed channels — commands in, latest-value
// snapshots and bounded preview updates out.
package backend

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/twistedxcom/hydra/internal/logging"
	"github.com/twistedxcom/hydra/internal/logs"
	"github.com/twistedxcom/hydra/internal/manifest"
	"github.com/twistedxcom/hydra/internal/session"
	"github.com/twistedxcom/hydra/internal/statedb"
	"github.com/twistedxcom/hydra/internal/tmux"
)

var backendLog = logging.ForComponent(logging.CompBackend)

const (
	sessionRefreshInterval = 500 * time.Millisecond
	messageTickInterval    = 50 * time.Millisecond
	statusMessageTTL       = 4500 * time.Millisecond
)

// Backend is the I/O actor. Construct with New, then call Run in its own
// goroutine; all fields are owned by that goroutine afterwards.
type Backend struct {
	mgr       tmux.Manager
	conn      *tmux.ControlConnection // nil in subprocess mode
	store     *manifest.Store
	db        *statedb.StateDB // nil when history is disabled
	watcher   *logs.Watcher    // nil when fsnotify is unavailable
	projectID string
	cwd       string

	ch *Channels

	sessions []session.Session
	runtime  *SessionRuntime
	messages *MessageRuntime
	previews *PreviewRuntime

	statusMessage string
	statusSetAt   time.Time
}

// Options carries the optional collaborators.
type Options struct {
	Control *tmux.ControlConnection
	DB      *statedb.StateDB
	Watcher *logs.Watcher
}

func New(mgr tmux.Manager, store *manifest.Store, ch *Channels, projectID, home, cwd string, opts Options) *Backend {
	return &Backend{
		mgr:       mgr,
		conn:      opts.Control,
		store:     store,
		db:        opts.DB,
		watcher:   opts.Watcher,
		projectID: projectID,
		cwd:       cwd,
		ch:        ch,
		runtime:   NewSessionRuntime(),
		messages:  NewMessageRuntime(home, cwd),
		previews:  NewPreviewRuntime(),
	}
}

func (b *Backend) setStatus(msg string) {
	b.statusMessage = msg
	b.statusSetAt = time.Now()
}

// Run is the actor loop. It returns when a Shutdown command arrives or the
// context is cancelled.
func (b *Backend) Run(ctx context.Context) {
	b.reviveSessions(ctx)
	b.refreshSessions(ctx, time.Now())
	b.publishSnapshot()

	// The notification branch must be inert without a control connection:
	// a nil channel never delivers, so the select arm simply never fires.
	var notifCh <-chan tmux.Notification
	if b.conn != nil {
		notifCh = b.conn.Subscribe()
	}
	var watchCh <-chan string
	if b.watcher != nil {
		watchCh = b.watcher.Events()
	}

	sessionTick := time.NewTicker(sessionRefreshInterval)
	defer sessionTick.Stop()
	messageTick := time.NewTicker(messageTickInterval)
	defer messageTick.Stop()

	for {
		select {
		case <-ctx.Done():
			b.shutdown()
			return

		case cmd := <-b.ch.Commands:
			if b.handleCommand(ctx, cmd) {
				b.shutdown()
				return
			}

		case n := <-notifCh:
			b.handleNotification(n)

		case <-watchCh:
			// A provider log was written; treat every session as
			// potentially active and let the next fusion pass sort it out.
			now := time.Now()
			for _, s := range b.sessions {
				b.runtime.RecordLogActivity(s.TmuxName, now)
			}

		case <-sessionTick.C:
			now := time.Now()
			if b.statusMessage != "" && now.Sub(b.statusSetAt) > statusMessageTTL {
				b.statusMessage = ""
			}
			prev := b.sessions
			b.refreshSessions(ctx, now)
			if sessionsChanged(prev, b.sessions) || b.statusMessage != "" {
				b.publishSnapshot()
			}
			b.sendPreviews(ctx)

		case <-messageTick.C:
			changed, ran := b.messages.Tick(ctx, b.sessionInfos(), time.Now())
			if !ran {
				continue
			}
			if b.messages.TakeResolvedNew() && b.watcher != nil {
				b.watcher.Rescan()
			}
			now := time.Now()
			for _, name := range changed {
				b.runtime.RecordLogActivity(name, now)
				b.previews.MarkDirty(name)
			}
			b.persistUsageHistory()
			b.publishSnapshot()
		}
	}
}

func (b *Backend) shutdown() {
	if b.watcher != nil {
		b.watcher.Close()
	}
	if b.conn != nil {
		b.conn.Close()
	}
	if b.db != nil {
		b.db.Close()
	}
	backendLog.Info("backend_stopped")
}

// handleCommand dispatches one UI command; true means stop the loop.
func (b *Backend) handleCommand(ctx context.Context, cmd Command) bool {
	switch c := cmd.(type) {
	case Shutdown:
		return true

	case CreateSession:
		b.createSession(ctx, c)
		b.publishSnapshot()

	case DeleteSession:
		b.deleteSession(ctx, c.Name)
		b.publishSnapshot()

	case SendKeys:
		tmuxName := session.TmuxSessionName(b.projectID, c.Name)
		if err := b.mgr.SendKeys(ctx, tmuxName, c.Keys); err != nil {
			backendLog.Debug("send_keys_failed", slog.String("session", tmuxName), slog.String("error", err.Error()))
		}
		b.previews.MarkDirty(tmuxName)

	case Compose:
		tmuxName := session.TmuxSessionName(b.projectID, c.Name)
		if err := b.mgr.SendTextEnter(ctx, tmuxName, c.Text); err != nil {
			b.setStatus("Failed to send message: " + err.Error())
			b.publishSnapshot()
		} else {
			// Subprocess mode has no output notifications; mark dirty so
			// the preview reflects the input promptly.
			b.previews.MarkDirty(tmuxName)
		}

	case ForceCapture:
		b.previews.Request(session.TmuxSessionName(b.projectID, c.Name), c.Scrollback)
	}
	return false
}

func (b *Backend) handleNotification(n tmux.Notification) {
	switch n.Kind {
	case tmux.NotifOutput:
		if b.conn == nil {
			return
		}
		// Spinner frames, ANSI repositioning, and counter redraws arrive
		// as %output too; normalized away they carry no signal, and
		// counting them would hold every animated pane at Running.
		if strings.TrimSpace(tmux.NormalizeCapture(n.Data)) == "" {
			return
		}
		if name, ok := b.conn.PaneSession(n.PaneID); ok {
			b.runtime.RecordOutput(name, time.Now())
			b.previews.MarkDirty(name)
		}
	case tmux.NotifPaneExited:
		// The next batch status pass observes the dead pane; nothing to
		// do eagerly, the debouncer owns the transition.
	case tmux.NotifLagged:
		// Dropped notifications; full state returns on the next refresh
		// tick, so just note it.
		backendLog.Debug("notification_lag")
	}
}

func (b *Backend) createSession(ctx context.Context, c CreateSession) {
	name := c.Name
	if name == "" {
		existing := make([]string, 0, len(b.sessions))
		for _, s := range b.sessions {
			existing = append(existing, s.Name)
		}
		name = session.GenerateName(existing)
	}

	record := manifest.NewRecord(name, c.Agent, b.projectID)
	if _, err := b.mgr.CreateSession(ctx, b.projectID, name, c.Agent, b.cwd, record.CreateCommand()); err != nil {
		// The manifest is left untouched on failure.
		b.setStatus("Failed to create session: " + err.Error())
		return
	}

	msg := "Created session '" + name + "' with " + c.Agent.Display()
	if err := b.store.Add(record); err != nil {
		msg += " (warning: manifest save failed: " + err.Error() + ")"
	}
	if c.Agent == session.AgentClaude {
		b.messages.SetResumeHandle(record.TmuxName, record.ResumeHandle)
	}
	if b.watcher != nil {
		// The first session of an agent type creates its provider log
		// directory; register it now rather than staying poll-only.
		b.watcher.Rescan()
	}
	b.setStatus(msg)
	b.refreshSessions(ctx, time.Now())
}

func (b *Backend) deleteSession(ctx context.Context, name string) {
	tmuxName := session.TmuxSessionName(b.projectID, name)
	if err := b.mgr.KillSession(ctx, tmuxName); err != nil {
		b.setStatus("Failed to kill session: " + err.Error())
	} else {
		msg := "Killed session '" + name + "'"
		if err := b.store.Remove(name); err != nil {
			msg += " (warning: manifest update failed: " + err.Error() + ")"
		}
		b.setStatus(msg)
	}
	b.refreshSessions(ctx, time.Now())
}

// reviveSessions reconciles the manifest against the live tmux inventory
// at startup, recreating missing sessions with each agent's resume
// command. Failures count against the record; three strikes prunes it.
func (b *Backend) reviveSessions(ctx context.Context) {
	m := b.store.Load()
	if len(m.Records) == 0 {
		return
	}

	live, err := b.mgr.ListSessions(ctx, b.projectID)
	if err != nil {
		backendLog.Warn("revive_list_failed", slog.String("error", err.Error()))
		return
	}
	liveNames := make(map[string]struct{}, len(live))
	for _, s := range live {
		liveNames[s.Name] = struct{}{}
	}

	type outcome struct {
		name string
		ok   bool
	}
	var mu sync.Mutex
	var outcomes []outcome

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, r := range m.Records {
		if _, ok := liveNames[r.Name]; ok {
			continue
		}
		record := r
		g.Go(func() error {
			_, err := b.mgr.CreateSession(gctx, b.projectID, record.Name, record.Agent, b.cwd, record.ResumeCommand())
			mu.Lock()
			outcomes = append(outcomes, outcome{record.Name, err == nil})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	var revived, failed int
	dirty := false
	for _, o := range outcomes {
		if o.ok {
			revived++
			if r, found := m.Get(o.name); found && r.FailedAttempts > 0 {
				m.ResetFailures(o.name)
				dirty = true
			}
			if r, found := m.Get(o.name); found && r.Agent == session.AgentClaude {
				b.messages.SetResumeHandle(r.TmuxName, r.ResumeHandle)
			}
		} else {
			failed++
			dirty = true
			if pruned := m.RecordFailure(o.name); pruned {
				backendLog.Info("revive_record_pruned", slog.String("session", o.name))
			}
		}
	}

	if dirty {
		if err := b.store.Save(m); err != nil {
			backendLog.Warn("revive_manifest_save_failed", slog.String("error", err.Error()))
		}
	}
	if revived > 0 || failed > 0 {
		if revived > 0 && b.watcher != nil {
			b.watcher.Rescan()
		}
		if failed == 0 {
			b.setStatus(fmt.Sprintf("Revived %d session(s)", revived))
		} else {
			b.setStatus(fmt.Sprintf("Revived %d, failed %d session(s)", revived, failed))
		}
	}
}

func (b *Backend) refreshSessions(ctx context.Context, now time.Time) {
	infos, err := b.mgr.ListSessions(ctx, b.projectID)
	if err != nil {
		// Transient: keep the previous view and retry next tick.
		backendLog.Debug("list_sessions_failed", slog.String("error", err.Error()))
		b.setStatus("Error listing sessions: " + err.Error())
		return
	}

	paneStatus, err := b.mgr.BatchPaneStatus(ctx)
	if err != nil {
		paneStatus = nil
	}

	sessions := b.runtime.Apply(infos, paneStatus, b.messages.Stats(), b.conn != nil, now)

	sort.Slice(sessions, func(i, j int) bool {
		if a, b := sessions[i].Status.SortOrder(), sessions[j].Status.SortOrder(); a != b {
			return a < b
		}
		return sessions[i].Name < sessions[j].Name
	})
	b.sessions = sessions

	liveKeys := make(map[string]struct{}, len(sessions))
	for _, s := range sessions {
		liveKeys[s.TmuxName] = struct{}{}
	}
	b.runtime.Prune(liveKeys)
	b.messages.Prune(liveKeys)
	b.previews.Prune(liveKeys)
}

func (b *Backend) sessionInfos() []tmux.SessionInfo {
	infos := make([]tmux.SessionInfo, 0, len(b.sessions))
	for _, s := range b.sessions {
		infos = append(infos, tmux.SessionInfo{Name: s.Name, TmuxName: s.TmuxName, Agent: s.Agent})
	}
	return infos
}

func (b *Backend) sendPreviews(ctx context.Context) {
	names := make([]string, 0, len(b.sessions))
	for _, s := range b.sessions {
		names = append(names, s.TmuxName)
	}
	b.previews.Tick(ctx, b.mgr, names,
		func(tmuxName string) ([]PreviewUpdate, bool) {
			buf, ok := b.messages.Conversation(tmuxName)
			if !ok || len(buf.Entries) == 0 {
				return nil, false
			}
			return []PreviewUpdate{{TmuxName: tmuxName, Conversation: buf.Entries}}, true
		},
		b.conn != nil,
		b.ch.PushPreview,
	)
}

func (b *Backend) publishSnapshot() {
	views := make([]SessionView, 0, len(b.sessions))
	stats := b.messages.Stats()
	for _, s := range b.sessions {
		view := SessionView{
			Name:        s.Name,
			TmuxName:    s.TmuxName,
			Agent:       s.Agent,
			Status:      s.Status,
			LastMessage: b.messages.LastMessages()[s.TmuxName],
			TaskElapsed: s.TaskElapsed,
			HasTask:     s.HasTask,
		}
		if st := stats[s.TmuxName]; st != nil {
			view.Stats = StatsView{
				Turns:            st.Turns,
				TokensIn:         st.TokensIn,
				TokensOut:        st.TokensOut,
				TokensCacheRead:  st.TokensCacheRead,
				TokensCacheWrite: st.TokensCacheWrite,
				Edits:            st.Edits,
				BashCmds:         st.BashCmds,
				FileCount:        st.FileCount(),
				ActiveSubagents:  st.ActiveSubagents,
				CostUSD:          st.CostUSD(),
			}
		}
		views = append(views, view)
	}

	snap := &StateSnapshot{
		Sessions:      views,
		GlobalDate:    b.messages.Global().Date,
		Global:        b.messages.Global().SnapshotProviders(),
		DiffFiles:     b.messages.DiffFiles(),
		StatusMessage: b.statusMessage,
	}
	if b.db != nil {
		if rows, err := b.db.RecentUsage(7); err == nil {
			snap.UsageHistory = rows
		}
	}
	b.ch.PublishSnapshot(snap)
}

// persistUsageHistory mirrors today's accumulated totals into the history
// database.
func (b *Backend) persistUsageHistory() {
	if b.db == nil {
		return
	}
	g := b.messages.Global()
	for provider, daily := range g.Providers {
		if err := b.db.UpsertDailyUsage(g.Date, provider, daily.Cost, daily.Tokens); err != nil {
			backendLog.Debug("usage_upsert_failed", slog.String("provider", provider), slog.String("error", err.Error()))
		}
	}
}

func sessionsChanged(prev, cur []session.Session) bool {
	if len(prev) != len(cur) {
		return true
	}
	for i := range prev {
		if prev[i].TmuxName != cur[i].TmuxName ||
			prev[i].Status != cur[i].Status ||
			prev[i].Agent != cur[i].Agent ||
			prev[i].TaskElapsed != cur[i].TaskElapsed ||
			prev[i].HasTask != cur[i].HasTask {
			return true
		}
	}
	return false
}
