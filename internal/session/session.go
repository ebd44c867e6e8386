// Package session defines the core session model: agent kinds, status,
// naming, and the project identity that scopes hydra to one working
// directory.
package session

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// AgentType identifies which AI coding CLI a session runs.
type AgentType string

const (
	AgentClaude AgentType = "claude"
	AgentCodex  AgentType = "codex"
	AgentGemini AgentType = "gemini"
)

// AllAgents lists every supported agent in display order.
func AllAgents() []AgentType {
	return []AgentType{AgentClaude, AgentCodex, AgentGemini}
}

// ParseAgentType parses a user-supplied agent name.
func ParseAgentType(s string) (AgentType, error) {
	switch s {
	case "claude", "Claude", "CLAUDE":
		return AgentClaude, nil
	case "codex", "Codex", "CODEX":
		return AgentCodex, nil
	case "gemini", "Gemini", "GEMINI":
		return AgentGemini, nil
	}
	return "", fmt.Errorf("unknown agent type %q: use 'claude', 'codex', or 'gemini'", s)
}

// Display returns the capitalized agent name.
func (a AgentType) Display() string {
	switch a {
	case AgentClaude:
		return "Claude"
	case AgentCodex:
		return "Codex"
	case AgentGemini:
		return "Gemini"
	}
	return string(a)
}

// Command returns the startup command for a fresh agent session.
func (a AgentType) Command() string {
	switch a {
	case AgentClaude:
		return "claude --dangerously-skip-permissions"
	case AgentCodex:
		return "codex -c check_for_update_on_startup=false --yolo"
	case AgentGemini:
		return "gemini --yolo"
	}
	return string(a)
}

// Status is the fused per-session status shown in the sidebar.
type Status int

const (
	StatusIdle Status = iota
	StatusRunning
	StatusExited
)

// SortOrder groups the sidebar: Idle (needs input) first, then Running,
// then Exited.
func (s Status) SortOrder() int {
	return int(s)
}

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "Running"
	case StatusIdle:
		return "Idle"
	case StatusExited:
		return "Exited"
	}
	return "Unknown"
}

// Session is one agent's tmux session plus the metadata hydra tracks for it.
type Session struct {
	Name        string
	TmuxName    string
	Agent       AgentType
	Status      Status
	Created     time.Time
	TaskElapsed time.Duration
	HasTask     bool
}

// ProjectID returns the 8-hex-char identity of a project working directory.
func ProjectID(cwd string) string {
	sum := sha256.Sum256([]byte(cwd))
	return hex.EncodeToString(sum[:4])
}

// TmuxSessionName builds the tmux session name: hydra-<projectID>-<name>.
func TmuxSessionName(projectID, name string) string {
	return fmt.Sprintf("hydra-%s-%s", projectID, name)
}

// ParseSessionName extracts the user-facing session name from a tmux session
// name, or "" and false if the name belongs to another project.
func ParseSessionName(tmuxName, projectID string) (string, bool) {
	prefix := "hydra-" + projectID + "-"
	if len(tmuxName) < len(prefix) || tmuxName[:len(prefix)] != prefix {
		return "", false
	}
	return tmuxName[len(prefix):], true
}

var autoNames = []string{
	"alpha", "bravo", "charlie", "delta", "echo", "foxtrot", "golf", "hotel",
	"india", "juliet", "kilo", "lima", "mike", "november", "oscar", "papa",
	"quebec", "romeo", "sierra", "tango", "uniform", "victor", "whiskey",
	"xray", "yankee", "zulu",
}

// GenerateName returns the next free session name: NATO phonetic names in
// order (filling gaps), then agent-N once all twenty-six are taken.
func GenerateName(existing []string) string {
	taken := make(map[string]struct{}, len(existing))
	for _, n := range existing {
		taken[n] = struct{}{}
	}
	for _, n := range autoNames {
		if _, ok := taken[n]; !ok {
			return n
		}
	}
	for i := len(autoNames) + 1; ; i++ {
		n := fmt.Sprintf("agent-%d", i)
		if _, ok := taken[n]; !ok {
			return n
		}
	}
}

// FormatDuration renders an elapsed task duration for the sidebar.
func FormatDuration(d time.Duration) string {
	secs := int(d.Seconds())
	switch {
	case secs < 60:
		return fmt.Sprintf("%ds", secs)
	case secs < 3600:
		return fmt.Sprintf("%dm %02ds", secs/60, secs%60)
	default:
		return fmt.Sprintf("%dh %02dm", secs/3600, (secs%3600)/60)
	}
}

// FormatTokens renders a token count compactly: 1234 -> "1.2k".
func FormatTokens(n uint64) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case n >= 1_000:
		return fmt.Sprintf("%.1fk", float64(n)/1_000)
	default:
		return fmt.Sprintf("%d", n)
	}
}

// FormatCost renders a USD estimate compactly.
func FormatCost(usd float64) string {
	switch {
	case usd < 0.005:
		return "$0.00"
	case usd < 10.0:
		return fmt.Sprintf("$%.2f", usd)
	default:
		return fmt.Sprintf("$%.0f", usd)
	}
}
