package logs

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ProviderDaily is one provider's usage total for the current day.
type ProviderDaily struct {
	Cost   float64
	Tokens uint64
}

type globalFileState struct {
	modTime time.Time
	size    int64
	offset  uint64
	// Codex token_count totals are cumulative; remember the last seen
	// value to attribute only the delta.
	codexLastTotal uint64
}

// GlobalStats accumulates machine-wide daily usage across every provider
// log under one base directory. The base dir is a parameter (normally the
// user's home) so tests stay hermetic.
type GlobalStats struct {
	Date      string // local calendar date yyyy-mm-dd
	Providers map[string]ProviderDaily

	fileStates map[string]*globalFileState
}

func NewGlobalStats() *GlobalStats {
	return &GlobalStats{
		Providers:  make(map[string]ProviderDaily),
		fileStates: make(map[string]*globalFileState),
	}
}

// SnapshotProviders returns a copy of the daily totals for publication.
func (g *GlobalStats) SnapshotProviders() map[string]ProviderDaily {
	out := make(map[string]ProviderDaily, len(g.Providers))
	for k, v := range g.Providers {
		out[k] = v
	}
	return out
}

func (g *GlobalStats) add(provider string, cost float64, tokens uint64) {
	d := g.Providers[provider]
	d.Cost += cost
	d.Tokens += tokens
	g.Providers[provider] = d
}

// UpdateGlobalStats walks <baseDir>/.claude/projects, .codex/sessions and
// .gemini/tmp, ingesting only bytes (or messages) appended since the last
// call. On local date rollover the daily accumulator is zeroed before any
// new bytes are ingested; file offsets survive so past activity is never
// recounted into the new day.
func UpdateGlobalStats(g *GlobalStats, baseDir string) {
	g.UpdateGlobalStatsAt(baseDir, time.Now())
}

// UpdateGlobalStatsAt is UpdateGlobalStats with an injectable clock.
func (g *GlobalStats) UpdateGlobalStatsAt(baseDir string, now time.Time) {
	today := now.Local().Format("2006-01-02")
	if g.Date != today {
		g.Date = today
		g.Providers = make(map[string]ProviderDaily)
	}

	claudeFiles, _ := filepath.Glob(filepath.Join(baseDir, ".claude", "projects", "*", "*.jsonl"))
	for _, f := range claudeFiles {
		g.ingestClaudeFile(f, today)
	}

	codexFiles, _ := filepath.Glob(filepath.Join(baseDir, ".codex", "sessions", "*", "*", "*", "rollout-*.jsonl"))
	for _, f := range codexFiles {
		g.ingestCodexFile(f, today)
	}

	geminiFiles, _ := filepath.Glob(filepath.Join(baseDir, ".gemini", "tmp", "*", "chats", "session-*.json"))
	for _, f := range geminiFiles {
		g.ingestGeminiFile(f, today)
	}
}

// state returns the cached file state and whether the file changed since
// last ingest.
func (g *GlobalStats) state(path string, info os.FileInfo) (*globalFileState, bool) {
	st, ok := g.fileStates[path]
	if !ok {
		st = &globalFileState{}
		g.fileStates[path] = st
	}
	changed := !ok || !st.modTime.Equal(info.ModTime()) || st.size != info.Size()
	st.modTime = info.ModTime()
	st.size = info.Size()
	return st, changed
}

func (g *GlobalStats) ingestClaudeFile(path, today string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	st, changed := g.state(path, info)
	if !changed || uint64(info.Size()) <= st.offset {
		st.offset = minU64(st.offset, uint64(info.Size()))
		return
	}

	data, ok := readFrom(path, st.offset, uint64(info.Size()))
	if !ok {
		return
	}
	for _, line := range strings.Split(data, "\n") {
		if len(line) < 10 || !strings.Contains(line, `"assistant"`) {
			continue
		}
		var entry claudeLine
		if json.Unmarshal([]byte(line), &entry) != nil {
			continue
		}
		if entry.Type != "assistant" || entry.Message == nil || entry.Message.Usage == nil {
			continue
		}
		if !sameLocalDate(entry.Timestamp, today) {
			continue
		}
		u := entry.Message.Usage
		r := RateFor(entry.Message.Model)
		cost := float64(u.InputTokens)*r.Input/1e6 +
			float64(u.OutputTokens)*r.Output/1e6 +
			float64(u.CacheReadInputTokens)*r.CacheRead/1e6 +
			float64(u.CacheCreationInputTokens)*r.CacheWrite/1e6
		g.add("claude", cost, u.InputTokens+u.OutputTokens+u.CacheReadInputTokens+u.CacheCreationInputTokens)
	}
	st.offset = uint64(info.Size())
}

func (g *GlobalStats) ingestCodexFile(path, today string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	st, changed := g.state(path, info)
	if !changed || uint64(info.Size()) <= st.offset {
		st.offset = minU64(st.offset, uint64(info.Size()))
		return
	}

	data, ok := readFrom(path, st.offset, uint64(info.Size()))
	if !ok {
		return
	}
	for _, line := range strings.Split(data, "\n") {
		if len(line) < 10 || !strings.Contains(line, "token_count") {
			continue
		}
		var entry codexLine
		if json.Unmarshal([]byte(line), &entry) != nil {
			continue
		}
		if entry.Type != "event_msg" || entry.Payload.Type != "token_count" || entry.Payload.Info == nil {
			continue
		}
		usage := entry.Payload.Info.TotalTokenUsage
		total := usage.InputTokens + usage.CachedInputTokens + usage.OutputTokens
		delta := total - st.codexLastTotal
		if total < st.codexLastTotal {
			delta = total
		}
		st.codexLastTotal = total
		if delta == 0 || !sameLocalDate(entry.Timestamp, today) {
			continue
		}
		// Apportion the delta between input and output by the cumulative
		// ratio; token_count events don't break the delta down.
		r := RateFor("gpt-5.2-codex")
		inShare := float64(usage.InputTokens+usage.CachedInputTokens) / float64(maxU64(total, 1))
		cost := float64(delta) * (inShare*r.Input + (1-inShare)*r.Output) / 1e6
		g.add("codex", cost, delta)
	}
	st.offset = uint64(info.Size())
}

func (g *GlobalStats) ingestGeminiFile(path, today string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	st, changed := g.state(path, info)
	if !changed {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var chat geminiChatFile
	if json.Unmarshal(data, &chat) != nil {
		return
	}

	total := uint64(len(chat.Messages))
	start := st.offset
	if start > total {
		start = 0
	}
	for _, msg := range chat.Messages[start:total] {
		if msg.Type != "gemini" || msg.Tokens == nil || !sameLocalDate(msg.Timestamp, today) {
			continue
		}
		r := RateFor(msg.Model)
		cost := float64(msg.Tokens.Input)*r.Input/1e6 + float64(msg.Tokens.Output)*r.Output/1e6
		g.add("gemini", cost, msg.Tokens.Input+msg.Tokens.Output)
	}
	st.offset = total
}

// sameLocalDate reports whether an RFC 3339 timestamp falls on the given
// local calendar date. Entries without a parseable timestamp count toward
// today: they were just appended.
func sameLocalDate(ts, today string) bool {
	if ts == "" {
		return true
	}
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return true
	}
	return t.Local().Format("2006-01-02") == today
}

func readFrom(path string, offset, end uint64) (string, bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()
	if offset > 0 {
		if _, err := f.Seek(int64(offset), 0); err != nil {
			return "", false
		}
	}
	buf := make([]byte, end-offset)
	if _, err := readFull(f, buf); err != nil {
		return "", false
	}
	return string(buf), true
}

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
