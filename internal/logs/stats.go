// Package logs ingests the three provider log formats incrementally,
// producing per-session conversation previews and stats plus machine-wide
// daily usage totals.
package logs

import (
	"time"

	"github.com/twistedxcom/hydra/internal/logging"
)

var logsLog = logging.ForComponent(logging.CompLogs)

// SessionStats aggregates one session's activity from its provider log.
// Updated incrementally: only bytes (or messages) past ReadOffset are
// parsed on each refresh.
type SessionStats struct {
	Turns            uint32
	TokensIn         uint64
	TokensOut        uint64
	TokensCacheRead  uint64
	TokensCacheWrite uint64
	Edits            uint16
	BashCmds         uint16

	Files map[string]struct{}
	// Files in order of most recent edit (last = most recent), deduplicated.
	RecentFiles []string

	// RFC 3339 timestamps of the most recent user / assistant messages,
	// used to derive the task-elapsed timer.
	LastUserTS      string
	LastAssistantTS string

	// Orchestrator subagents currently running (Claude Task tool).
	ActiveSubagents int

	// Model last seen in the log, for pricing.
	Model string

	// Byte offset (JSONL providers) or message index (Gemini) where the
	// next incremental parse resumes.
	ReadOffset uint64

	// Tool-use ids still awaiting a result, id → tool name. Needed to
	// attribute tool results and to retire subagent tasks.
	openToolUses map[string]string
}

// NewSessionStats returns an empty stats accumulator.
func NewSessionStats() *SessionStats {
	return &SessionStats{
		Files:        make(map[string]struct{}),
		openToolUses: make(map[string]string),
	}
}

// FileCount returns the number of distinct files touched.
func (s *SessionStats) FileCount() int {
	return len(s.Files)
}

// TotalTokens sums every token class.
func (s *SessionStats) TotalTokens() uint64 {
	return s.TokensIn + s.TokensOut + s.TokensCacheRead + s.TokensCacheWrite
}

// TouchFile records a file touch, updating both the dedup set and the
// recency order.
func (s *SessionStats) TouchFile(path string) {
	if s.Files == nil {
		s.Files = make(map[string]struct{})
	}
	s.Files[path] = struct{}{}
	for i, f := range s.RecentFiles {
		if f == path {
			s.RecentFiles = append(s.RecentFiles[:i], s.RecentFiles[i+1:]...)
			break
		}
	}
	s.RecentFiles = append(s.RecentFiles, path)
}

// ResetGeminiDerived clears the fields a fresh Gemini snapshot fully
// replaces. The file is rewritten in place, so carrying these over would
// double-count.
func (s *SessionStats) ResetGeminiDerived() {
	s.Files = make(map[string]struct{})
	s.RecentFiles = nil
	s.ActiveSubagents = 0
}

// TaskElapsed reports how long the agent has been working on the current
// task, derived from log timestamps: a user message newer than the last
// assistant reply means the agent is still working.
func (s *SessionStats) TaskElapsed(now time.Time) (time.Duration, bool) {
	if s.LastUserTS == "" {
		return 0, false
	}
	userTS, err := time.Parse(time.RFC3339, s.LastUserTS)
	if err != nil {
		return 0, false
	}

	if s.LastAssistantTS != "" {
		astTS, err := time.Parse(time.RFC3339, s.LastAssistantTS)
		if err == nil && !userTS.After(astTS) {
			// Assistant replied after the user: task complete.
			return 0, false
		}
	}

	d := now.Sub(userTS)
	if d < 0 {
		d = 0
	}
	return d, true
}

// CostUSD estimates spend from the token counts and the pricing table for
// the session's model.
func (s *SessionStats) CostUSD() float64 {
	r := RateFor(s.Model)
	return float64(s.TokensIn)*r.Input/1e6 +
		float64(s.TokensOut)*r.Output/1e6 +
		float64(s.TokensCacheRead)*r.CacheRead/1e6 +
		float64(s.TokensCacheWrite)*r.CacheWrite/1e6
}

func (s *SessionStats) openTool(id, name string) {
	if s.openToolUses == nil {
		s.openToolUses = make(map[string]string)
	}
	s.openToolUses[id] = name
}

// closeTool retires an open tool use and returns its name.
func (s *SessionStats) closeTool(id string) (string, bool) {
	name, ok := s.openToolUses[id]
	if ok {
		delete(s.openToolUses, id)
	}
	return name, ok
}
