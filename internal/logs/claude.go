package logs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Subprocess timeout for ps/pgrep/lsof calls during UUID resolution.
const resolveTimeout = 5 * time.Second

// Process tree walk bounds: tmux shell → agent → subprocesses is shallow;
// anything deeper is a runaway.
const (
	maxTreeDepth = 5
	maxTreePIDs  = 100
)

// EscapeProjectPath converts a working directory to Claude's projects
// directory segment: every "/" becomes "-".
func EscapeProjectPath(cwd string) string {
	return strings.ReplaceAll(cwd, "/", "-")
}

// ClaudeLogPath returns <home>/.claude/projects/<escaped-cwd>/<uuid>.jsonl.
func ClaudeLogPath(home, cwd, uuid string) string {
	return filepath.Join(home, ".claude", "projects", EscapeProjectPath(cwd), uuid+".jsonl")
}

type claudeUsage struct {
	InputTokens              uint64 `json:"input_tokens"`
	OutputTokens             uint64 `json:"output_tokens"`
	CacheReadInputTokens     uint64 `json:"cache_read_input_tokens"`
	CacheCreationInputTokens uint64 `json:"cache_creation_input_tokens"`
}

type claudeContentItem struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	Name      string          `json:"name"`
	ID        string          `json:"id"`
	Input     json.RawMessage `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
}

type claudeLine struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype"`
	Timestamp string `json:"timestamp"`
	Content   string `json:"content"`
	Message   *struct {
		Model   string          `json:"model"`
		Usage   *claudeUsage    `json:"usage"`
		Content json.RawMessage `json:"content"`
	} `json:"message"`
	ToolUseResult *struct {
		Filenames []string `json:"filenames"`
	} `json:"toolUseResult"`
	Snapshot *struct {
		TrackedFileBackups map[string]json.RawMessage `json:"trackedFileBackups"`
	} `json:"snapshot"`
}

// LogUpdate is the result of one incremental parse.
type LogUpdate struct {
	Entries       []ConversationEntry
	NewOffset     uint64
	LastAssistant string
	// ReplaceConversation is set when the parse restarted from the top and
	// the conversation buffer must be rebuilt rather than extended.
	ReplaceConversation bool
}

// ParseClaudeLog reads bytes past stats.ReadOffset from a Claude session
// JSONL file, folding token usage and tool counts into stats and returning
// the new conversation entries. Malformed lines are skipped and never
// re-read; repeated calls over a growing file produce the same stats as one
// call over the whole file.
func ParseClaudeLog(path string, stats *SessionStats) LogUpdate {
	update := LogUpdate{NewOffset: stats.ReadOffset}

	f, err := os.Open(path)
	if err != nil {
		return update
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return update
	}
	fileLen := uint64(info.Size())
	if fileLen <= stats.ReadOffset {
		return update
	}
	if stats.ReadOffset > 0 {
		if _, err := f.Seek(int64(stats.ReadOffset), 0); err != nil {
			return update
		}
	}

	buf := make([]byte, fileLen-stats.ReadOffset)
	if _, err := readFull(f, buf); err != nil {
		return update
	}

	for _, line := range strings.Split(string(buf), "\n") {
		if len(line) < 10 {
			continue
		}
		var entry claudeLine
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		parseClaudeEntry(&entry, stats, &update)
	}

	stats.ReadOffset = fileLen
	update.NewOffset = fileLen
	return update
}

func parseClaudeEntry(entry *claudeLine, stats *SessionStats, update *LogUpdate) {
	switch entry.Type {
	case "user":
		if entry.Timestamp != "" {
			stats.LastUserTS = entry.Timestamp
		}
		if entry.ToolUseResult != nil {
			for _, path := range entry.ToolUseResult.Filenames {
				stats.TouchFile(path)
			}
		}
		if entry.Message != nil {
			parseClaudeUserContent(entry.Message.Content, stats, update)
		}

	case "assistant":
		if entry.Message == nil {
			return
		}
		if entry.Timestamp != "" {
			stats.LastAssistantTS = entry.Timestamp
		}
		if entry.Message.Model != "" {
			stats.Model = entry.Message.Model
		}
		if entry.Message.Usage != nil {
			stats.Turns++
			stats.TokensIn += entry.Message.Usage.InputTokens
			stats.TokensOut += entry.Message.Usage.OutputTokens
			stats.TokensCacheRead += entry.Message.Usage.CacheReadInputTokens
			stats.TokensCacheWrite += entry.Message.Usage.CacheCreationInputTokens
		}
		parseClaudeAssistantContent(entry.Message.Content, stats, update)

	case "progress":
		switch entry.Subtype {
		case "waiting_for_task", "search_results_received", "query_update", "mcp_progress":
			update.Entries = append(update.Entries, ConversationEntry{
				Kind: EntryProgress, Meta: entry.Subtype, Text: condense(entry.Content),
			})
		case "bash_progress":
			if strings.TrimSpace(entry.Content) != "" {
				update.Entries = append(update.Entries, ConversationEntry{
					Kind: EntryProgress, Meta: entry.Subtype, Text: condense(entry.Content),
				})
			}
		}
		// hook_progress and agent_progress are noise.

	case "system":
		switch entry.Subtype {
		case "api_error", "local_command", "compact_boundary", "microcompact_boundary":
			update.Entries = append(update.Entries, ConversationEntry{
				Kind: EntrySystem, Meta: entry.Subtype, Text: condense(entry.Content),
			})
		case "stop_hook_summary":
			if strings.TrimSpace(entry.Content) != "" {
				update.Entries = append(update.Entries, ConversationEntry{
					Kind: EntrySystem, Meta: entry.Subtype, Text: condense(entry.Content),
				})
			}
		}
		// turn_duration is bookkeeping, not conversation.

	case "file-history-snapshot":
		if entry.Snapshot == nil || len(entry.Snapshot.TrackedFileBackups) == 0 {
			return
		}
		paths := make([]string, 0, len(entry.Snapshot.TrackedFileBackups))
		for p := range entry.Snapshot.TrackedFileBackups {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		if len(paths) > 3 {
			paths = paths[:3]
		}
		update.Entries = append(update.Entries, ConversationEntry{
			Kind:         EntryFileSnapshot,
			TrackedCount: len(entry.Snapshot.TrackedFileBackups),
			Paths:        paths,
		})
	}
}

func parseClaudeUserContent(raw json.RawMessage, stats *SessionStats, update *LogUpdate) {
	if len(raw) == 0 {
		return
	}
	// content is either a plain string or an array of items.
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		if condensed := condense(text); condensed != "" {
			update.Entries = append(update.Entries, ConversationEntry{Kind: EntryUser, Text: condensed})
		}
		return
	}

	var items []claudeContentItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return
	}
	for _, item := range items {
		switch item.Type {
		case "text":
			if condensed := condense(item.Text); condensed != "" {
				update.Entries = append(update.Entries, ConversationEntry{Kind: EntryUser, Text: condensed})
			}
		case "tool_result":
			name, known := stats.closeTool(item.ToolUseID)
			if known && name == "Task" && stats.ActiveSubagents > 0 {
				stats.ActiveSubagents--
			}
			update.Entries = append(update.Entries, ConversationEntry{
				Kind: EntryToolResult, Tool: name, Text: summarizeRaw(item.Content),
			})
		}
	}
}

func parseClaudeAssistantContent(raw json.RawMessage, stats *SessionStats, update *LogUpdate) {
	var items []claudeContentItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return
	}

	var texts []string
	for _, item := range items {
		switch item.Type {
		case "text":
			if t := condense(item.Text); t != "" {
				texts = append(texts, t)
			}
		case "tool_use":
			stats.openTool(item.ID, item.Name)
			switch item.Name {
			case "Write", "Edit":
				stats.Edits++
			case "Bash":
				stats.BashCmds++
			case "Task":
				stats.ActiveSubagents++
			}
			update.Entries = append(update.Entries, ConversationEntry{
				Kind: EntryToolUse, Tool: item.Name, Text: summarizeToolInput(item.Input),
			})
		}
	}
	if len(texts) > 0 {
		joined := strings.Join(texts, " ")
		update.Entries = append(update.Entries, ConversationEntry{Kind: EntryAssistant, Text: joined})
		update.LastAssistant = joined
	}
}

// summarizeToolInput condenses a tool_use input object to its most telling
// field for one-line display.
func summarizeToolInput(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return truncate(string(raw), 80)
	}
	for _, key := range []string{"file_path", "command", "pattern", "description", "prompt", "path", "url"} {
		if v, ok := fields[key]; ok {
			var s string
			if json.Unmarshal(v, &s) == nil && s != "" {
				return truncate(condense(s), 80)
			}
		}
	}
	return truncate(condense(string(raw)), 80)
}

// summarizeRaw condenses tool_result content (string or block array).
func summarizeRaw(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return truncate(condense(s), 120)
	}
	var items []claudeContentItem
	if json.Unmarshal(raw, &items) == nil {
		var texts []string
		for _, item := range items {
			if t := condense(item.Text); t != "" {
				texts = append(texts, t)
			}
		}
		return truncate(strings.Join(texts, " "), 120)
	}
	return truncate(condense(string(raw)), 120)
}

// condense collapses all whitespace runs to single spaces.
func condense(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}

func readFull(f *os.File, buf []byte) (int, error) {
	return io.ReadFull(f, buf)
}

// ReadLastAssistantMessage scans the tail of a Claude log for the most
// recent assistant text without paying for a full parse. Reads at most the
// last 200KB.
func ReadLastAssistantMessage(path string) (string, bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", false
	}
	const chunk = 200 * 1024
	start := info.Size() - chunk
	if start < 0 {
		start = 0
	}
	if _, err := f.Seek(start, 0); err != nil {
		return "", false
	}
	buf := make([]byte, info.Size()-start)
	if _, err := readFull(f, buf); err != nil {
		return "", false
	}

	var last string
	for _, line := range strings.Split(string(buf), "\n") {
		if !strings.Contains(line, `"assistant"`) {
			continue
		}
		var entry claudeLine
		// Partial first line from the mid-file seek fails here and is
		// skipped.
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if entry.Type != "assistant" || entry.Message == nil {
			continue
		}
		var items []claudeContentItem
		if json.Unmarshal(entry.Message.Content, &items) != nil {
			continue
		}
		var texts []string
		for _, item := range items {
			if t := condense(item.Text); t != "" {
				texts = append(texts, t)
			}
		}
		if len(texts) > 0 {
			last = strings.Join(texts, " ")
		}
	}
	return last, last != ""
}

// ── Claude session UUID resolution ──────────────────────────────────

// ResolveClaudeUUID finds the Claude session UUID for a tmux session by
// inspecting its pane's process tree: --session-id in any descendant's
// command line first, then lsof over the tree's open .claude/ paths.
// Missing UUID is a normal state, not an error; the caller caches the miss
// with a cooldown.
func ResolveClaudeUUID(ctx context.Context, tmuxName string) (string, bool) {
	pid, ok := panePID(ctx, tmuxName)
	if !ok {
		return "", false
	}

	pids := collectDescendantPIDs(ctx, pid)
	for _, p := range pids {
		if uuid, ok := resolveUUIDFromCmdline(ctx, p); ok {
			return uuid, true
		}
	}
	return resolveUUIDFromLsof(ctx, pids)
}

func panePID(ctx context.Context, tmuxName string) (int, bool) {
	out, err := runResolveCmd(ctx, "tmux", "list-panes", "-t", tmuxName, "-F", "#{pane_pid}")
	if err != nil {
		return 0, false
	}
	var pid int
	if _, err := fmt.Sscanf(strings.TrimSpace(out), "%d", &pid); err != nil {
		return 0, false
	}
	return pid, true
}

func collectDescendantPIDs(ctx context.Context, root int) []int {
	all := []int{root}
	level := []int{root}
	for depth := 0; depth < maxTreeDepth && len(level) > 0 && len(all) < maxTreePIDs; depth++ {
		var next []int
		for _, parent := range level {
			if len(all) >= maxTreePIDs {
				break
			}
			out, err := runResolveCmd(ctx, "pgrep", "-P", fmt.Sprint(parent))
			if err != nil {
				continue
			}
			for _, line := range strings.Split(out, "\n") {
				var child int
				if _, err := fmt.Sscanf(strings.TrimSpace(line), "%d", &child); err != nil {
					continue
				}
				all = append(all, child)
				next = append(next, child)
				if len(all) >= maxTreePIDs {
					break
				}
			}
		}
		level = next
	}
	return all
}

func resolveUUIDFromCmdline(ctx context.Context, pid int) (string, bool) {
	out, err := runResolveCmd(ctx, "ps", "-p", fmt.Sprint(pid), "-o", "command=")
	if err != nil {
		return "", false
	}
	return parseSessionIDFromCmdline(out)
}

// parseSessionIDFromCmdline extracts --session-id <uuid> or
// --session-id=<uuid> from a command line.
func parseSessionIDFromCmdline(cmdline string) (string, bool) {
	args := strings.Fields(cmdline)
	for i, arg := range args {
		if arg == "--session-id" && i+1 < len(args) && isUUID(args[i+1]) {
			return args[i+1], true
		}
		if v, ok := strings.CutPrefix(arg, "--session-id="); ok && isUUID(v) {
			return v, true
		}
	}
	return "", false
}

func resolveUUIDFromLsof(ctx context.Context, pids []int) (string, bool) {
	if len(pids) == 0 {
		return "", false
	}
	strs := make([]string, len(pids))
	for i, p := range pids {
		strs[i] = fmt.Sprint(p)
	}
	out, err := runResolveCmd(ctx, "lsof", "-p", strings.Join(strs, ","))
	if err != nil {
		return "", false
	}
	return parseUUIDFromLsof(out)
}

// parseUUIDFromLsof scans lsof output for .claude/tasks/<uuid>/ or
// .claude/projects/.../<uuid>.jsonl paths.
func parseUUIDFromLsof(out string) (string, bool) {
	for _, line := range strings.Split(out, "\n") {
		if idx := strings.Index(line, ".claude/tasks/"); idx != -1 {
			rest := line[idx+len(".claude/tasks/"):]
			if len(rest) >= 36 && isUUID(rest[:36]) {
				return rest[:36], true
			}
		}
		if idx := strings.Index(line, ".claude/projects/"); idx != -1 {
			base := filepath.Base(strings.TrimSpace(line[idx:]))
			if name, ok := strings.CutSuffix(base, ".jsonl"); ok && isUUID(name) {
				return name, true
			}
		}
	}
	return "", false
}

func isUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	for i, c := range s {
		if i == 8 || i == 13 || i == 18 || i == 23 {
			if c != '-' {
				return false
			}
			continue
		}
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}

func runResolveCmd(ctx context.Context, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}
