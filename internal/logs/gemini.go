package logs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// HashGeminiProject returns the full SHA-256 hex of the resolved project
// path, matching the Gemini CLI's session storage layout. Symlinks are
// resolved because the CLI hashes the real path (macOS /tmp is a symlink).
func HashGeminiProject(projectPath string) string {
	abs, err := filepath.Abs(projectPath)
	if err != nil {
		return ""
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		real = abs
	}
	sum := sha256.Sum256([]byte(real))
	return hex.EncodeToString(sum[:])
}

// GeminiChatsDir returns <home>/.gemini/tmp/<project-hash>/chats.
func GeminiChatsDir(home, projectPath string) string {
	hash := HashGeminiProject(projectPath)
	if hash == "" {
		return ""
	}
	return filepath.Join(home, ".gemini", "tmp", hash, "chats")
}

// ResolveGeminiSession picks the newest unclaimed session-*.json for the
// project, bounded to recently active files.
func ResolveGeminiSession(home, projectPath string, claimed map[string]struct{}) (string, bool) {
	dir := GeminiChatsDir(home, projectPath)
	if dir == "" {
		return "", false
	}
	files, _ := filepath.Glob(filepath.Join(dir, "session-*.json"))

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

type geminiMessage struct {
	Type      string          `json:"type"` // "user" or "gemini"
	Content   string          `json:"content"`
	Timestamp string          `json:"timestamp"`
	Model     string          `json:"model,omitempty"`
	Tokens    *geminiTokens   `json:"tokens,omitempty"`
	ToolCalls []geminiToolRef `json:"toolCalls,omitempty"`
}

type geminiTokens struct {
	Input  uint64 `json:"input"`
	Output uint64 `json:"output"`
}

type geminiToolRef struct {
	Name   string          `json:"name"`
	Args   json.RawMessage `json:"args"`
	Result json.RawMessage `json:"result"`
}

type geminiChatFile struct {
	SessionID string          `json:"sessionId"`
	Messages  []geminiMessage `json:"messages"`
}

// ParseGeminiLog parses a Gemini chat file from stats.ReadOffset, which
// counts messages, not bytes: the file is a monolithic JSON document
// rewritten in place, so byte offsets are meaningless. When the stored
// offset exceeds the current message count the file was truncated or
// rotated; parsing restarts at message zero and the caller must replace
// the conversation buffer instead of extending it.
func ParseGeminiLog(path string, stats *SessionStats) LogUpdate {
	update := LogUpdate{NewOffset: stats.ReadOffset}

	data, err := os.ReadFile(path)
	if err != nil {
		return update
	}
	var chat geminiChatFile
	if err := json.Unmarshal(data, &chat); err != nil {
		logsLog.Debug("gemini_parse_failed", "path", path, "error", err.Error())
		return update
	}

	total := uint64(len(chat.Messages))
	start := stats.ReadOffset
	if start > total {
		// Rollover: the file shrank underneath us.
		start = 0
		update.ReplaceConversation = true
	}
	if start == 0 {
		// A full re-read replaces everything derived from the file.
		stats.ResetGeminiDerived()
		update.ReplaceConversation = update.ReplaceConversation || stats.ReadOffset != 0
	}

	for _, msg := range chat.Messages[start:total] {
		parseGeminiMessage(&msg, stats, &update)
	}

	stats.ReadOffset = total
	update.NewOffset = total
	return update
}

func parseGeminiMessage(msg *geminiMessage, stats *SessionStats, update *LogUpdate) {
	switch msg.Type {
	case "user":
		if msg.Timestamp != "" {
			stats.LastUserTS = msg.Timestamp
		}
		if text := condense(msg.Content); text != "" {
			update.Entries = append(update.Entries, ConversationEntry{Kind: EntryUser, Text: text})
		}
	case "gemini":
		if msg.Timestamp != "" {
			stats.LastAssistantTS = msg.Timestamp
		}
		if msg.Model != "" {
			stats.Model = msg.Model
		}
		if msg.Tokens != nil {
			stats.Turns++
			stats.TokensIn += msg.Tokens.Input
			stats.TokensOut += msg.Tokens.Output
		}
		// Each tool call item yields both the use and its result.
		for _, call := range msg.ToolCalls {
			update.Entries = append(update.Entries, ConversationEntry{
				Kind: EntryToolUse, Tool: call.Name, Text: summarizeToolInput(call.Args),
			})
			update.Entries = append(update.Entries, ConversationEntry{
				Kind: EntryToolResult, Tool: call.Name, Text: summarizeRaw(call.Result),
			})
		}
		if text := condense(msg.Content); text != "" {
			update.Entries = append(update.Entries, ConversationEntry{Kind: EntryAssistant, Text: text})
			update.LastAssistant = text
		}
	}
}
