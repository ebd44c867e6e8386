package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	runewidth "github.com/mattn/go-runewidth"

	"github.com/twistedxcom/hydra/internal/backend"
	"github.com/twistedxcom/hydra/internal/logs"
	"github.com/twistedxcom/hydra/internal/session"
)

func (a *App) View() string {
	if a.quitting {
		return ""
	}
	if a.width == 0 {
		return "loading..."
	}

	sidebar := a.renderSidebar()
	preview := a.renderPreview()

	body := lipgloss.JoinHorizontal(lipgloss.Top, sidebar, preview)
	return lipgloss.JoinVertical(lipgloss.Left, body, a.renderStatusBar())
}

func (a *App) renderSidebar() string {
	var b strings.Builder
	b.WriteString(a.theme.Accent.Render("hydra"))
	b.WriteString("\n")

	if a.filterActive {
		b.WriteString(a.theme.Accent.Render("/" + a.filterQuery))
		b.WriteString("\n")
	}

	visible := make(map[int]struct{})
	for _, idx := range FilterSessions(a.snapshot.Sessions, a.filterQuery) {
		visible[idx] = struct{}{}
	}

	rows := BuildRows(a.snapshot.Sessions)
	for _, row := range rows {
		if row.IsHeader {
			b.WriteString(a.theme.SidebarHeader.Render("▸ " + row.Title))
			b.WriteString("\n")
			continue
		}
		if _, ok := visible[row.Index]; !ok {
			continue
		}
		s := a.snapshot.Sessions[row.Index]
		b.WriteString(a.renderSessionRow(s, row.Index == a.selected))
		b.WriteString("\n")
	}

	if len(a.snapshot.Sessions) == 0 {
		b.WriteString(a.theme.Dim.Render("  no sessions — press n"))
		b.WriteString("\n")
	}

	if len(a.snapshot.UsageHistory) > 0 {
		b.WriteString("\n")
		b.WriteString(a.theme.SidebarHeader.Render("▸ Usage"))
		b.WriteString("\n")
		shown := 0
		for _, row := range a.snapshot.UsageHistory {
			if shown >= 6 {
				break
			}
			date := row.Date
			if len(date) == len("2006-01-02") {
				date = date[5:]
			}
			line := fmt.Sprintf("  %s %-6s %s", date, row.Provider, session.FormatCost(row.Cost))
			b.WriteString(a.theme.Dim.Render(line))
			b.WriteString("\n")
			shown++
		}
	}

	return lipgloss.NewStyle().Width(sidebarWidth).Render(b.String())
}

func (a *App) renderSessionRow(s backend.SessionView, selected bool) string {
	style := a.theme.Sidebar
	switch s.Status {
	case session.StatusIdle:
		style = a.theme.Idle
	case session.StatusRunning:
		style = a.theme.Running
	case session.StatusExited:
		style = a.theme.Exited
	}

	marker := "  "
	if selected {
		marker = "❯ "
		style = a.theme.Selected
	}

	label := s.Name
	if s.HasTask {
		label += " " + session.FormatDuration(s.TaskElapsed)
	}
	if s.Stats.ActiveSubagents > 0 {
		label += fmt.Sprintf(" +%d", s.Stats.ActiveSubagents)
	}

	line := marker + runewidth.Truncate(label, sidebarWidth-4, "…")
	out := style.Render(line)

	if s.LastMessage != "" {
		msg := runewidth.Truncate(s.LastMessage, sidebarWidth-6, "…")
		out += "\n" + a.theme.Dim.Render("    "+msg)
	}
	return out
}

func (a *App) renderPreview() string {
	width := a.width - sidebarWidth - 2
	height := a.height - 3
	if width < 10 || height < 3 {
		return ""
	}

	var content string
	if s, ok := a.Selected(); ok {
		if p, have := a.previews[s.TmuxName]; have {
			if p.IsConversation() {
				content = renderConversation(p.Conversation, a.theme)
			} else {
				content = p.Capture
			}
		} else {
			content = a.theme.Dim.Render("waiting for output...")
		}
	} else {
		content = a.theme.Dim.Render("no session selected")
	}

	if a.mode == ModeCompose {
		content += "\n\n" + a.compose.View()
	}

	content = scrollTail(content, height-2, a.previewScroll)
	return a.theme.PreviewBorder.Width(width).Height(height).Render(content)
}

// renderConversation formats parsed entries for the preview pane.
func renderConversation(entries []logs.ConversationEntry, theme Theme) string {
	var b strings.Builder
	for _, e := range entries {
		switch e.Kind {
		case logs.EntryUser:
			b.WriteString(theme.Accent.Render("> " + e.Text))
		case logs.EntryAssistant:
			b.WriteString(e.Text)
		case logs.EntryToolUse:
			name := e.Tool
			if name == "" {
				name = "tool"
			}
			b.WriteString(theme.Dim.Render("⚒ " + name + " " + e.Text))
		case logs.EntryToolResult:
			b.WriteString(theme.Dim.Render("  ↳ " + e.Text))
		case logs.EntryProgress:
			b.WriteString(theme.Dim.Render("· " + e.Meta + " " + e.Text))
		case logs.EntrySystem:
			b.WriteString(theme.Dim.Render("! " + e.Meta + " " + e.Text))
		case logs.EntryFileSnapshot:
			b.WriteString(theme.Dim.Render(fmt.Sprintf("✓ %d files tracked (%s)",
				e.TrackedCount, strings.Join(e.Paths, ", "))))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// scrollTail shows the last height lines, shifted up by scroll.
func scrollTail(content string, height, scroll int) string {
	lines := strings.Split(content, "\n")
	end := len(lines) - scroll
	if end > len(lines) {
		end = len(lines)
	}
	if end < 0 {
		end = 0
	}
	start := end - height
	if start < 0 {
		start = 0
	}
	return strings.Join(lines[start:end], "\n")
}

func (a *App) renderStatusBar() string {
	var parts []string

	if a.snapshot.StatusMessage != "" {
		parts = append(parts, a.snapshot.StatusMessage)
	}

	var total float64
	var tokens uint64
	for _, d := range a.snapshot.Global {
		total += d.Cost
		tokens += d.Tokens
	}
	parts = append(parts, fmt.Sprintf("today %s · %s tok",
		session.FormatCost(total), session.FormatTokens(tokens)))

	if n := len(a.snapshot.DiffFiles); n > 0 {
		parts = append(parts, fmt.Sprintf("%d changed files", n))
	}

	switch a.mode {
	case ModeBrowse:
		parts = append(parts, "n:new d:delete enter:compose c:copy /:filter q:quit")
	case ModeCompose:
		parts = append(parts, "enter:send esc:cancel")
	case ModeNewSessionAgent:
		agents := session.AllAgents()
		parts = append(parts, "agent: "+agents[a.agentSelection].Display()+" (j/k, enter)")
	case ModeConfirmDelete:
		if s, ok := a.Selected(); ok {
			parts = append(parts, "delete '"+s.Name+"'? y/n")
		}
	case ModeCopyMode:
		parts = append(parts, "copy mode — native selection enabled, any key exits")
	}

	return a.theme.StatusBar.Render(" " + strings.Join(parts, "  │  "))
}
