package backend

import (
	"time"

	"github.com/twistedxcom/hydra/internal/logs"
	"github.com/twistedxcom/hydra/internal/session"
	"github.com/twistedxcom/hydra/internal/tmux"
)

// Debounce thresholds in session-refresh ticks (500ms each). Orchestrators
// briefly lose their pane during subagent hand-off, hence the longer
// threshold while subagents are active.
const (
	deadTickThreshold         = 3
	deadTickSubagentThreshold = 15
)

// Activity windows for status fusion.
const (
	outputActivityWindow = 800 * time.Millisecond
	logActivityWindow    = 2 * time.Second
)

// How long a frozen idle timer survives before it clears.
const idleTimerHold = 5 * time.Second

// SessionRuntime fuses the three status signals (pane liveness, %output
// notifications, provider log activity) into a debounced per-session
// status, and tracks the task-elapsed timers.
type SessionRuntime struct {
	lastOutput      map[string]time.Time
	lastLogActivity map[string]time.Time
	deadTicks       map[string]int
	prevStatus      map[string]session.Status

	taskStarts     map[string]time.Time
	taskLastActive map[string]time.Time
	frozenElapsed  map[string]time.Duration
}

func NewSessionRuntime() *SessionRuntime {
	return &SessionRuntime{
		lastOutput:      make(map[string]time.Time),
		lastLogActivity: make(map[string]time.Time),
		deadTicks:       make(map[string]int),
		prevStatus:      make(map[string]session.Status),
		taskStarts:      make(map[string]time.Time),
		taskLastActive:  make(map[string]time.Time),
		frozenElapsed:   make(map[string]time.Duration),
	}
}

// RecordOutput notes a %output notification for a session's pane.
func (r *SessionRuntime) RecordOutput(tmuxName string, now time.Time) {
	r.lastOutput[tmuxName] = now
}

// RecordLogActivity notes that the session's provider log advanced.
func (r *SessionRuntime) RecordLogActivity(tmuxName string, now time.Time) {
	r.lastLogActivity[tmuxName] = now
}

// Apply computes the fused status for each listed session. paneStatus may
// be nil on a failed batch call: sessions then keep their previous status
// for the tick.
func (r *SessionRuntime) Apply(
	infos []tmux.SessionInfo,
	paneStatus map[string]tmux.PaneStatus,
	stats map[string]*logs.SessionStats,
	useOutputEvents bool,
	now time.Time,
) []session.Session {
	out := make([]session.Session, 0, len(infos))
	for _, info := range infos {
		st := r.applyOne(info, paneStatus, stats, useOutputEvents, now)
		r.prevStatus[info.TmuxName] = st.Status
		out = append(out, st)
	}
	r.updateTimers(out, stats, now)
	return out
}

func (r *SessionRuntime) applyOne(
	info tmux.SessionInfo,
	paneStatus map[string]tmux.PaneStatus,
	stats map[string]*logs.SessionStats,
	useOutputEvents bool,
	now time.Time,
) session.Session {
	s := session.Session{Name: info.Name, TmuxName: info.TmuxName, Agent: info.Agent}
	st := stats[info.TmuxName]

	if paneStatus == nil {
		// Failed batch call: hold the last known status for this tick.
		if prev, ok := r.prevStatus[info.TmuxName]; ok {
			s.Status = prev
			return s
		}
	}

	pane, havePane := paneStatus[info.TmuxName]
	if havePane && pane.Dead {
		s.Status = r.exitedDebounce(info.TmuxName, st)
		return s
	}

	// Any live observation resets the dead streak.
	r.deadTicks[info.TmuxName] = 0

	recentOutput := within(r.lastOutput[info.TmuxName], now, outputActivityWindow)
	logActive := within(r.lastLogActivity[info.TmuxName], now, logActivityWindow)
	if st != nil {
		if _, working := st.TaskElapsed(now); working {
			logActive = true
		}
	}

	var active bool
	switch info.Agent {
	case session.AgentGemini:
		// Gemini rewrites its log in bulk, so pane output is the sharper
		// signal when control mode can deliver it.
		if useOutputEvents {
			active = recentOutput || logActive
		} else {
			active = logActive || recentOutput
		}
	default:
		// Claude and Codex stream JSONL continuously; output events are
		// only trusted until log stats exist (UI repaints are noisy).
		active = logActive || (st == nil && recentOutput)
	}

	if active {
		s.Status = session.StatusRunning
	} else {
		s.Status = session.StatusIdle
	}
	return s
}

// exitedDebounce counts consecutive dead observations and flips to Exited
// only past the threshold. Below threshold the previous status holds.
func (r *SessionRuntime) exitedDebounce(tmuxName string, st *logs.SessionStats) session.Status {
	threshold := deadTickThreshold
	if st != nil && st.ActiveSubagents > 0 {
		threshold = deadTickSubagentThreshold
	}

	r.deadTicks[tmuxName]++
	if r.deadTicks[tmuxName] >= threshold {
		return session.StatusExited
	}
	if prev, ok := r.prevStatus[tmuxName]; ok {
		return prev
	}
	return session.StatusIdle
}

// updateTimers maintains the per-session task-elapsed display: Running
// starts or refreshes the timer, Idle freezes the displayed value, and an
// Idle streak past idleTimerHold clears it so the next Running starts a
// new task.
func (r *SessionRuntime) updateTimers(sessions []session.Session, stats map[string]*logs.SessionStats, now time.Time) {
	for i := range sessions {
		s := &sessions[i]
		name := s.TmuxName

		var logElapsed time.Duration
		var logWorking bool
		if st := stats[name]; st != nil {
			logElapsed, logWorking = st.TaskElapsed(now)
		}

		switch s.Status {
		case session.StatusRunning:
			if _, ok := r.taskStarts[name]; !ok {
				r.taskStarts[name] = now
			}
			r.taskLastActive[name] = now
			delete(r.frozenElapsed, name)
			if logWorking {
				s.TaskElapsed = logElapsed
			} else {
				s.TaskElapsed = now.Sub(r.taskStarts[name])
			}
			s.HasTask = true

		case session.StatusIdle:
			if logWorking {
				s.TaskElapsed = logElapsed
				s.HasTask = true
				continue
			}
			start, hasStart := r.taskStarts[name]
			last, hasLast := r.taskLastActive[name]
			if !hasStart || !hasLast {
				continue
			}
			if now.Sub(last) < idleTimerHold {
				// Freeze at the value when the session went idle.
				frozen, ok := r.frozenElapsed[name]
				if !ok {
					frozen = last.Sub(start)
					r.frozenElapsed[name] = frozen
				}
				s.TaskElapsed = frozen
				s.HasTask = true
			} else {
				delete(r.taskStarts, name)
				delete(r.taskLastActive, name)
				delete(r.frozenElapsed, name)
			}

		case session.StatusExited:
			delete(r.taskStarts, name)
			delete(r.taskLastActive, name)
			delete(r.frozenElapsed, name)
		}
	}
}

// Prune drops per-session state for sessions no longer live.
func (r *SessionRuntime) Prune(live map[string]struct{}) {
	for _, m := range []map[string]time.Time{r.lastOutput, r.lastLogActivity, r.taskStarts, r.taskLastActive} {
		for k := range m {
			if _, ok := live[k]; !ok {
				delete(m, k)
			}
		}
	}
	for k := range r.deadTicks {
		if _, ok := live[k]; !ok {
			delete(r.deadTicks, k)
		}
	}
	for k := range r.prevStatus {
		if _, ok := live[k]; !ok {
			delete(r.prevStatus, k)
		}
	}
	for k := range r.frozenElapsed {
		if _, ok := live[k]; !ok {
			delete(r.frozenElapsed, k)
		}
	}
}

func within(t time.Time, now time.Time, window time.Duration) bool {
	return !t.IsZero() && now.Sub(t) <= window
}
