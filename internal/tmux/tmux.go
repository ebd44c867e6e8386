// Package tmux drives tmux sessions for hydra: a capability interface
// consumed by the backend, a subprocess-per-call implementation, and a
// persistent control-mode implementation built on ControlConnection.
package tmux

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/twistedxcom/hydra/internal/logging"
	"github.com/twistedxcom/hydra/internal/session"
)

var tmuxLog = logging.ForComponent(logging.CompTmux)

// Timeout for subprocess tmux calls.
const subprocessTimeout = 5 * time.Second

// Delay between literal text and the Enter keypress in SendTextEnter.
// Several agent CLIs drop Enter when it arrives in the same write as the
// text.
const sendEnterDelay = 80 * time.Millisecond

// agentTypeEnvVar is set on every session at creation and read back when
// listing, so agent kind survives hydra restarts.
const agentTypeEnvVar = "HYDRA_AGENT_TYPE"

// PaneStatus is one pane's liveness snapshot from BatchPaneStatus.
type PaneStatus struct {
	Dead       bool
	ActivityTS int64
}

// SessionInfo is one live tmux session belonging to this project.
type SessionInfo struct {
	Name     string
	TmuxName string
	Agent    session.AgentType
}

// Manager is the capability set the backend consumes. Two concrete
// providers exist (subprocess and control mode); tests supply a third.
type Manager interface {
	ListSessions(ctx context.Context, projectID string) ([]SessionInfo, error)
	CreateSession(ctx context.Context, projectID, name string, agent session.AgentType, cwd, commandOverride string) (string, error)
	KillSession(ctx context.Context, tmuxName string) error
	SendKeys(ctx context.Context, tmuxName string, keys []string) error
	SendKeysLiteral(ctx context.Context, tmuxName, text string) error
	SendTextEnter(ctx context.Context, tmuxName, text string) error
	CapturePane(ctx context.Context, tmuxName string) (string, error)
	CapturePaneScrollback(ctx context.Context, tmuxName string, lines int) (string, error)
	BatchPaneStatus(ctx context.Context) (map[string]PaneStatus, error)
	AgentType(ctx context.Context, tmuxName string) (session.AgentType, error)
}

// paneCommand wraps an agent command so Claude does not refuse to start
// inside what it thinks is a nested Claude Code session.
func paneCommand(agentCmd string) string {
	return "unset CLAUDECODE CLAUDE_CODE_ENTRYPOINT; exec " + agentCmd
}

// agentCacheTTL bounds how long a cached HYDRA_AGENT_TYPE lookup is trusted.
const agentCacheTTL = 30 * time.Second

type agentCacheEntry struct {
	agent session.AgentType
	at    time.Time
}

// agentCache is a plain-mutex map shared by both Manager implementations.
// The lock is never held across a subprocess or pipe call.
type agentCache struct {
	mu      sync.Mutex
	entries map[string]agentCacheEntry
}

func newAgentCache() *agentCache {
	return &agentCache{entries: make(map[string]agentCacheEntry)}
}

func (c *agentCache) get(tmuxName string) (session.AgentType, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[tmuxName]
	if !ok || time.Since(e.at) > agentCacheTTL {
		return "", false
	}
	return e.agent, true
}

func (c *agentCache) put(tmuxName string, agent session.AgentType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[tmuxName] = agentCacheEntry{agent: agent, at: time.Now()}
}

func (c *agentCache) drop(tmuxName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, tmuxName)
}

func (c *agentCache) retain(live map[string]struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name := range c.entries {
		if _, ok := live[name]; !ok {
			delete(c.entries, name)
		}
	}
}

// SubprocessManager spawns one tmux child per call. Simple and robust; the
// control-mode manager exists for the hot paths.
type SubprocessManager struct {
	cache *agentCache
}

func NewSubprocessManager() *SubprocessManager {
	return &SubprocessManager{cache: newAgentCache()}
}

func (m *SubprocessManager) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, subprocessTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, "tmux", args...).Output()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("tmux %s timed out", args[0])
		}
		return "", fmt.Errorf("tmux %s: %w", args[0], err)
	}
	return string(out), nil
}

func (m *SubprocessManager) ListSessions(ctx context.Context, projectID string) ([]SessionInfo, error) {
	out, err := m.run(ctx, "list-sessions", "-F", "#{session_name}")
	if err != nil {
		// No server running means no sessions, not an error.
		if strings.Contains(err.Error(), "exit status 1") {
			return nil, nil
		}
		return nil, err
	}

	live := make(map[string]struct{})
	var infos []SessionInfo
	for _, line := range strings.Split(out, "\n") {
		tmuxName := strings.TrimSpace(line)
		if tmuxName == "" {
			continue
		}
		live[tmuxName] = struct{}{}
		name, ok := session.ParseSessionName(tmuxName, projectID)
		if !ok || strings.HasPrefix(tmuxName, ctrlSessionPrefix) {
			continue
		}
		agent, err := m.AgentType(ctx, tmuxName)
		if err != nil {
			agent = session.AgentClaude
		}
		infos = append(infos, SessionInfo{Name: name, TmuxName: tmuxName, Agent: agent})
	}
	m.cache.retain(live)
	return infos, nil
}

func (m *SubprocessManager) CreateSession(ctx context.Context, projectID, name string, agent session.AgentType, cwd, commandOverride string) (string, error) {
	tmuxName := session.TmuxSessionName(projectID, name)
	cmd := commandOverride
	if cmd == "" {
		cmd = agent.Command()
	}

	if _, err := m.run(ctx, "new-session", "-d", "-s", tmuxName, "-c", cwd, paneCommand(cmd)); err != nil {
		return "", fmt.Errorf("failed to create session %q: %w", tmuxName, err)
	}

	// Keep the pane around after the agent exits so Exited sessions stay
	// inspectable.
	if _, err := m.run(ctx, "set-option", "-t", tmuxName, "remain-on-exit", "on"); err != nil {
		tmuxLog.Warn("remain_on_exit_failed", slog.String("session", tmuxName), slog.String("error", err.Error()))
	}

	_, _ = m.run(ctx, "set-environment", "-t", tmuxName, agentTypeEnvVar, string(agent))
	// Claude refuses to start when it inherits these from an enclosing
	// session; -r removes them from the session environment entirely.
	_, _ = m.run(ctx, "set-environment", "-r", "-t", tmuxName, "CLAUDECODE")
	_, _ = m.run(ctx, "set-environment", "-r", "-t", tmuxName, "CLAUDE_CODE_ENTRYPOINT")

	m.cache.put(tmuxName, agent)
	return tmuxName, nil
}

func (m *SubprocessManager) KillSession(ctx context.Context, tmuxName string) error {
	if _, err := m.run(ctx, "kill-session", "-t", tmuxName); err != nil {
		return fmt.Errorf("failed to kill session %q: %w", tmuxName, err)
	}
	m.cache.drop(tmuxName)
	return nil
}

func (m *SubprocessManager) SendKeys(ctx context.Context, tmuxName string, keys []string) error {
	args := append([]string{"send-keys", "-t", tmuxName}, keys...)
	_, err := m.run(ctx, args...)
	return err
}

func (m *SubprocessManager) SendKeysLiteral(ctx context.Context, tmuxName, text string) error {
	_, err := m.run(ctx, "send-keys", "-t", tmuxName, "-l", text)
	return err
}

func (m *SubprocessManager) SendTextEnter(ctx context.Context, tmuxName, text string) error {
	if err := m.SendKeysLiteral(ctx, tmuxName, text); err != nil {
		return err
	}
	select {
	case <-time.After(sendEnterDelay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return m.SendKeys(ctx, tmuxName, []string{"Enter"})
}

func (m *SubprocessManager) CapturePane(ctx context.Context, tmuxName string) (string, error) {
	out, err := m.run(ctx, "capture-pane", "-t", tmuxName, "-p", "-e")
	if err != nil {
		return "", err
	}
	return strings.TrimRight(out, "\n"), nil
}

func (m *SubprocessManager) CapturePaneScrollback(ctx context.Context, tmuxName string, lines int) (string, error) {
	if lines <= 0 {
		lines = 5000
	}
	out, err := m.run(ctx, "capture-pane", "-t", tmuxName, "-p", "-e", "-S", fmt.Sprintf("-%d", lines))
	if err != nil {
		return "", err
	}
	return strings.TrimRight(out, "\n"), nil
}

func (m *SubprocessManager) BatchPaneStatus(ctx context.Context) (map[string]PaneStatus, error) {
	out, err := m.run(ctx, "list-panes", "-a", "-F", "#{session_name}\t#{pane_dead}\t#{window_activity}")
	if err != nil {
		return nil, err
	}
	return parseBatchPaneStatus(out), nil
}

func (m *SubprocessManager) AgentType(ctx context.Context, tmuxName string) (session.AgentType, error) {
	if agent, ok := m.cache.get(tmuxName); ok {
		return agent, nil
	}
	out, err := m.run(ctx, "show-environment", "-t", tmuxName, agentTypeEnvVar)
	if err != nil {
		return "", err
	}
	agent, err := parseAgentEnvOutput(out)
	if err != nil {
		return "", err
	}
	m.cache.put(tmuxName, agent)
	return agent, nil
}

// parseAgentEnvOutput parses "HYDRA_AGENT_TYPE=claude" show-environment
// output.
func parseAgentEnvOutput(out string) (session.AgentType, error) {
	line := strings.TrimSpace(out)
	val, ok := strings.CutPrefix(line, agentTypeEnvVar+"=")
	if !ok {
		return "", fmt.Errorf("%s not set", agentTypeEnvVar)
	}
	return session.ParseAgentType(val)
}

// parseBatchPaneStatus parses "name\tdead\tactivity" lines from list-panes.
func parseBatchPaneStatus(out string) map[string]PaneStatus {
	statuses := make(map[string]PaneStatus)
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Split(strings.TrimSpace(line), "\t")
		if len(fields) < 3 {
			continue
		}
		activity, _ := strconv.ParseInt(fields[2], 10, 64)
		statuses[fields[0]] = PaneStatus{
			Dead:       fields[1] != "0",
			ActivityTS: activity,
		}
	}
	return statuses
}
