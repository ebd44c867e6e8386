package logs

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupClaudeProject(t *testing.T, base string, lines ...string) string {
	t.Helper()
	dir := filepath.Join(base, ".claude", "projects", "-work-proj")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, "7c04c22f-796f-403a-9521-d83ad13fd60d.jsonl")
	writeLines(t, path, lines...)
	return path
}

func claudeUsageLine(ts string, input, output int) string {
	return fmt.Sprintf(`{"type":"assistant","timestamp":%q,"message":{"model":"claude-sonnet-4-5","usage":{"input_tokens":%d,"output_tokens":%d},"content":[]}}`, ts, input, output)
}

func TestGlobalStatsAccumulatesToday(t *testing.T) {
	base := t.TempDir()
	now := time.Date(2026, 8, 6, 12, 0, 0, 0, time.UTC)
	ts := now.Format(time.RFC3339)

	setupClaudeProject(t, base, claudeUsageLine(ts, 1000, 200))

	g := NewGlobalStats()
	g.UpdateGlobalStatsAt(base, now)

	claude := g.Providers["claude"]
	assert.Equal(t, uint64(1200), claude.Tokens)
	assert.InDelta(t, 1000*3.0/1e6+200*15.0/1e6, claude.Cost, 1e-9)
}

func TestGlobalStatsIncrementalReadsOnlyNewBytes(t *testing.T) {
	base := t.TempDir()
	now := time.Date(2026, 8, 6, 12, 0, 0, 0, time.UTC)
	ts := now.Format(time.RFC3339)

	path := setupClaudeProject(t, base, claudeUsageLine(ts, 1000, 0))

	g := NewGlobalStats()
	g.UpdateGlobalStatsAt(base, now)
	require.Equal(t, uint64(1000), g.Providers["claude"].Tokens)

	// Unchanged file: no double count.
	g.UpdateGlobalStatsAt(base, now)
	assert.Equal(t, uint64(1000), g.Providers["claude"].Tokens)

	appendLines(t, path, claudeUsageLine(ts, 500, 0))
	g.UpdateGlobalStatsAt(base, now.Add(time.Minute))
	assert.Equal(t, uint64(1500), g.Providers["claude"].Tokens)
}

func TestGlobalStatsDateRolloverZeroesAccumulator(t *testing.T) {
	base := t.TempDir()
	day1 := time.Date(2026, 8, 5, 23, 0, 0, 0, time.Local)
	day2 := time.Date(2026, 8, 6, 1, 0, 0, 0, time.Local)

	path := setupClaudeProject(t, base, claudeUsageLine(day1.Format(time.RFC3339), 1000, 0))

	g := NewGlobalStats()
	g.UpdateGlobalStatsAt(base, day1)
	require.Equal(t, uint64(1000), g.Providers["claude"].Tokens)

	// Next day: the accumulator resets; yesterday's bytes stay consumed.
	appendLines(t, path, claudeUsageLine(day2.Format(time.RFC3339), 300, 0))
	g.UpdateGlobalStatsAt(base, day2)
	assert.Equal(t, day2.Format("2006-01-02"), g.Date)
	assert.Equal(t, uint64(300), g.Providers["claude"].Tokens)
}

func TestGlobalStatsCodexDelta(t *testing.T) {
	base := t.TempDir()
	now := time.Date(2026, 8, 6, 12, 0, 0, 0, time.UTC)
	ts := now.Format(time.RFC3339)

	dir := filepath.Join(base, ".codex", "sessions", "2026", "08", "06")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, "rollout-2026-08-06T10-00-00-aaa.jsonl")
	writeLines(t, path,
		fmt.Sprintf(`{"timestamp":%q,"type":"event_msg","payload":{"type":"token_count","info":{"total_token_usage":{"input_tokens":1000,"cached_input_tokens":0,"output_tokens":500}}}}`, ts),
	)

	g := NewGlobalStats()
	g.UpdateGlobalStatsAt(base, now)
	require.Equal(t, uint64(1500), g.Providers["codex"].Tokens)

	// Cumulative totals grow; only the delta is attributed.
	appendLines(t, path,
		fmt.Sprintf(`{"timestamp":%q,"type":"event_msg","payload":{"type":"token_count","info":{"total_token_usage":{"input_tokens":2000,"cached_input_tokens":0,"output_tokens":1000}}}}`, ts),
	)
	g.UpdateGlobalStatsAt(base, now.Add(time.Minute))
	assert.Equal(t, uint64(3000), g.Providers["codex"].Tokens)
}

func TestGlobalStatsGemini(t *testing.T) {
	base := t.TempDir()
	now := time.Date(2026, 8, 6, 12, 0, 0, 0, time.UTC)
	ts := now.Format(time.RFC3339)

	dir := filepath.Join(base, ".gemini", "tmp", "somehash", "chats")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, "session-2026-08-06T10-00-abcd1234.json")
	doc := fmt.Sprintf(`{"sessionId":"abcd","messages":[{"type":"gemini","content":"hi","timestamp":%q,"model":"gemini-2.5-pro","tokens":{"input":400,"output":100}}]}`, ts)
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	g := NewGlobalStats()
	g.UpdateGlobalStatsAt(base, now)

	gem := g.Providers["gemini"]
	assert.Equal(t, uint64(500), gem.Tokens)
	assert.InDelta(t, 400*1.25/1e6+100*10.0/1e6, gem.Cost, 1e-9)
}

func TestGlobalStatsEmptyBaseDir(t *testing.T) {
	g := NewGlobalStats()
	assert.NotPanics(t, func() {
		g.UpdateGlobalStatsAt(t.TempDir(), time.Now())
	})
	assert.Empty(t, g.Providers)
}

func TestSnapshotProvidersIsACopy(t *testing.T) {
	g := NewGlobalStats()
	g.add("claude", 1.0, 100)

	snap := g.SnapshotProviders()
	snap["claude"] = ProviderDaily{}
	assert.Equal(t, uint64(100), g.Providers["claude"].Tokens)
}
