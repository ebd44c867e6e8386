package logs

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// CodexSessionsDir returns <home>/.codex/sessions, the root of the
// date-sharded rollout tree.
func CodexSessionsDir(home string) string {
	return filepath.Join(home, ".codex", "sessions")
}

// ResolveCodexRollout picks the newest rollout-*.jsonl not already claimed
// by another session. Codex does not expose its rollout id anywhere hydra
// can read, so the newest-file heuristic is the best available signal;
// recency is additionally bounded so a stale rollout from last week is
// never adopted.
func ResolveCodexRollout(home string, claimed map[string]struct{}) (string, bool) {
	pattern := filepath.Join(CodexSessionsDir(home), "*", "*", "*", "rollout-*.jsonl")
	files, _ := filepath.Glob(pattern)

	var newest string
	var newestTime time.Time
	for _, f := range files {
		if _, taken := claimed[f]; taken {
			continue
		}
		info, err := os.Stat(f)
		if err != nil {
			continue
		}
		if info.ModTime().After(newestTime) {
			newestTime = info.ModTime()
			newest = f
		}
	}
	if newest == "" || time.Since(newestTime) > 10*time.Minute {
		return "", false
	}
	return newest, true
}

type codexLine struct {
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Payload   struct {
		Type      string          `json:"type"`
		Role      string          `json:"role"`
		Name      string          `json:"name"`
		Arguments string          `json:"arguments"`
		Output    string          `json:"output"`
		Content   json.RawMessage `json:"content"`
		Model     string          `json:"model"`
		Info      *struct {
			TotalTokenUsage struct {
				InputTokens       uint64 `json:"input_tokens"`
				CachedInputTokens uint64 `json:"cached_input_tokens"`
				OutputTokens      uint64 `json:"output_tokens"`
			} `json:"total_token_usage"`
		} `json:"info"`
	} `json:"payload"`
}

// ParseCodexLog incrementally reads a Codex rollout file past
// stats.ReadOffset. Rollouts are append-only line-delimited JSON with turn
// objects: response_item payloads carry messages and tool calls, event_msg
// token_count payloads carry cumulative token totals.
func ParseCodexLog(path string, stats *SessionStats) LogUpdate {
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
		var entry codexLine
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		parseCodexEntry(&entry, stats, &update)
	}

	stats.ReadOffset = fileLen
	update.NewOffset = fileLen
	return update
}

func parseCodexEntry(entry *codexLine, stats *SessionStats, update *LogUpdate) {
	switch entry.Type {
	case "response_item":
		switch entry.Payload.Type {
		case "message":
			text := codexContentText(entry.Payload.Content)
			if text == "" {
				return
			}
			switch entry.Payload.Role {
			case "user":
				stats.LastUserTS = entry.Timestamp
				update.Entries = append(update.Entries, ConversationEntry{Kind: EntryUser, Text: text})
			case "assistant":
				stats.LastAssistantTS = entry.Timestamp
				stats.Turns++
				update.Entries = append(update.Entries, ConversationEntry{Kind: EntryAssistant, Text: text})
				update.LastAssistant = text
			}
		case "function_call":
			name := entry.Payload.Name
			switch {
			case strings.Contains(name, "shell"), strings.Contains(name, "exec"):
				stats.BashCmds++
			case strings.Contains(name, "apply_patch"), strings.Contains(name, "write"):
				stats.Edits++
			}
			update.Entries = append(update.Entries, ConversationEntry{
				Kind: EntryToolUse, Tool: name, Text: truncate(condense(entry.Payload.Arguments), 80),
			})
		case "function_call_output":
			update.Entries = append(update.Entries, ConversationEntry{
				Kind: EntryToolResult, Text: truncate(condense(entry.Payload.Output), 120),
			})
		}

	case "event_msg":
		if entry.Payload.Type != "token_count" || entry.Payload.Info == nil {
			return
		}
		// Totals are cumulative in the log; replace, don't add.
		usage := entry.Payload.Info.TotalTokenUsage
		stats.TokensIn = usage.InputTokens
		stats.TokensCacheRead = usage.CachedInputTokens
		stats.TokensOut = usage.OutputTokens
		if entry.Payload.Model != "" {
			stats.Model = entry.Payload.Model
		}
	}
}

// codexContentText joins the text parts of a response_item message body,
// which arrives either as a plain string or an array of typed parts.
func codexContentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return condense(s)
	}
	var parts []struct {
		Type      string `json:"type"`
		Text      string `json:"text"`
		InputText string `json:"input_text"`
	}
	if json.Unmarshal(raw, &parts) != nil {
		return ""
	}
	var texts []string
	for _, p := range parts {
		t := p.Text
		if t == "" {
			t = p.InputText
		}
		if t = condense(t); t != "" {
			texts = append(texts, t)
		}
	}
	return strings.Join(texts, " ")
}
