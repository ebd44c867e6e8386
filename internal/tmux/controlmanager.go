package tmux

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/twistedxcom/hydra/internal/session"
)

// ControlManager implements Manager over a shared ControlConnection: every
// operation is one line down the pipe instead of a subprocess.
type ControlManager struct {
	conn  *ControlConnection
	cache *agentCache
}

func NewControlManager(conn *ControlConnection) *ControlManager {
	return &ControlManager{conn: conn, cache: newAgentCache()}
}

// Connection exposes the shared connection for notification subscribers.
func (m *ControlManager) Connection() *ControlConnection {
	return m.conn
}

func (m *ControlManager) ListSessions(ctx context.Context, projectID string) ([]SessionInfo, error) {
	resp, err := m.conn.SendCommand(ctx, "list-sessions -F '#{session_name}'")
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		// No sessions at all is reported as an error by tmux.
		return nil, nil
	}

	live := make(map[string]struct{})
	var infos []SessionInfo
	for _, line := range strings.Split(resp.Output, "\n") {
		tmuxName := strings.TrimSpace(line)
		if tmuxName == "" {
			continue
		}
		live[tmuxName] = struct{}{}
		if strings.HasPrefix(tmuxName, ctrlSessionPrefix) {
			continue
		}
		name, ok := session.ParseSessionName(tmuxName, projectID)
		if !ok {
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

func (m *ControlManager) CreateSession(ctx context.Context, projectID, name string, agent session.AgentType, cwd, commandOverride string) (string, error) {
	tmuxName := session.TmuxSessionName(projectID, name)
	cmd := commandOverride
	if cmd == "" {
		cmd = agent.Command()
	}

	create := fmt.Sprintf("new-session -d -s %s -c %s %s",
		QuoteArg(tmuxName), QuoteArg(cwd), QuoteArg(paneCommand(cmd)))
	resp, err := m.conn.SendCommand(ctx, create)
	if err != nil {
		return "", fmt.Errorf("failed to create session %q: %w", tmuxName, err)
	}
	if !resp.Success {
		return "", fmt.Errorf("tmux new-session failed for %q: %s", tmuxName, resp.Output)
	}

	_, _ = m.conn.SendCommand(ctx, fmt.Sprintf("set-option -t %s remain-on-exit on", QuoteArg(tmuxName)))
	_, _ = m.conn.SendCommand(ctx, fmt.Sprintf("set-environment -t %s %s %s", QuoteArg(tmuxName), agentTypeEnvVar, string(agent)))
	_, _ = m.conn.SendCommand(ctx, fmt.Sprintf("set-environment -r -t %s CLAUDECODE", QuoteArg(tmuxName)))
	_, _ = m.conn.SendCommand(ctx, fmt.Sprintf("set-environment -r -t %s CLAUDE_CODE_ENTRYPOINT", QuoteArg(tmuxName)))

	m.cache.put(tmuxName, agent)
	return tmuxName, nil
}

func (m *ControlManager) KillSession(ctx context.Context, tmuxName string) error {
	resp, err := m.conn.SendCommand(ctx, fmt.Sprintf("kill-session -t %s", QuoteArg(tmuxName)))
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("tmux kill-session failed for %q: %s", tmuxName, resp.Output)
	}
	m.cache.drop(tmuxName)
	return nil
}

func (m *ControlManager) SendKeys(ctx context.Context, tmuxName string, keys []string) error {
	quoted := make([]string, len(keys))
	for i, k := range keys {
		quoted[i] = QuoteArg(k)
	}
	m.conn.FireAndForget(fmt.Sprintf("send-keys -t %s %s", QuoteArg(tmuxName), strings.Join(quoted, " ")))
	return nil
}

func (m *ControlManager) SendKeysLiteral(ctx context.Context, tmuxName, text string) error {
	m.conn.FireAndForget(fmt.Sprintf("send-keys -t %s -l %s", QuoteArg(tmuxName), QuoteArg(text)))
	return nil
}

func (m *ControlManager) SendTextEnter(ctx context.Context, tmuxName, text string) error {
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

func (m *ControlManager) CapturePane(ctx context.Context, tmuxName string) (string, error) {
	resp, err := m.conn.SendCommand(ctx, fmt.Sprintf("capture-pane -t %s -p -e", QuoteArg(tmuxName)))
	if err != nil {
		return "", err
	}
	if !resp.Success {
		return "[session not available]", nil
	}
	return strings.TrimRight(DecodeOctalEscapes(resp.Output), "\n"), nil
}

func (m *ControlManager) CapturePaneScrollback(ctx context.Context, tmuxName string, lines int) (string, error) {
	if lines <= 0 {
		lines = 5000
	}
	resp, err := m.conn.SendCommand(ctx, fmt.Sprintf("capture-pane -t %s -p -e -S -%d", QuoteArg(tmuxName), lines))
	if err != nil {
		return "", err
	}
	if !resp.Success {
		return "[session not available]", nil
	}
	return strings.TrimRight(DecodeOctalEscapes(resp.Output), "\n"), nil
}

func (m *ControlManager) BatchPaneStatus(ctx context.Context) (map[string]PaneStatus, error) {
	resp, err := m.conn.SendCommand(ctx, "list-panes -a -F '#{pane_id}\t#{session_name}\t#{pane_dead}\t#{window_activity}'")
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("list-panes failed: %s", resp.Output)
	}

	statuses := make(map[string]PaneStatus)
	panes := make(map[string]string)
	for _, line := range strings.Split(resp.Output, "\n") {
		fields := strings.Split(strings.TrimSpace(line), "\t")
		if len(fields) < 4 {
			continue
		}
		activity, _ := strconv.ParseInt(fields[3], 10, 64)
		panes[fields[0]] = fields[1]
		statuses[fields[1]] = PaneStatus{
			Dead:       fields[1] != "" && fields[2] != "0",
			ActivityTS: activity,
		}
	}
	// Keep the pane map current so %output pane ids resolve to sessions.
	m.conn.UpdatePaneMap(panes)
	return statuses, nil
}

func (m *ControlManager) AgentType(ctx context.Context, tmuxName string) (session.AgentType, error) {
	if agent, ok := m.cache.get(tmuxName); ok {
		return agent, nil
	}
	resp, err := m.conn.SendCommand(ctx, fmt.Sprintf("show-environment -t %s %s", QuoteArg(tmuxName), agentTypeEnvVar))
	if err != nil {
		return "", err
	}
	if !resp.Success {
		return "", fmt.Errorf("%s not set for %q", agentTypeEnvVar, tmuxName)
	}
	agent, err := parseAgentEnvOutput(resp.Output)
	if err != nil {
		return "", err
	}
	m.cache.put(tmuxName, agent)
	return agent, nil
}
