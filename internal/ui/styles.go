package ui

import (
	"github.com/charmbracelet/lipgloss"
	dark "github.com/thiagokokada/dark-mode-go"
)

// Theme holds the resolved style set. Colors come in a dark and a light
// variant; the OS appearance picks one at startup.
type Theme struct {
	Sidebar       lipgloss.Style
	SidebarHeader lipgloss.Style
	Selected      lipgloss.Style
	Idle          lipgloss.Style
	Running       lipgloss.Style
	Exited        lipgloss.Style
	Preview       lipgloss.Style
	PreviewBorder lipgloss.Style
	StatusBar     lipgloss.Style
	Dim           lipgloss.Style
	Accent        lipgloss.Style
}

// NewTheme builds the theme for the current OS appearance. Detection
// failures default to dark, the common terminal case.
func NewTheme() Theme {
	isDark := true
	if detected, err := dark.IsDarkMode(); err == nil {
		isDark = detected
	}
	return newTheme(isDark)
}

func newTheme(dark bool) Theme {
	var (
		fg     = lipgloss.Color("252")
		dim    = lipgloss.Color("241")
		accent = lipgloss.Color("75")
		border = lipgloss.Color("238")
	)
	if !dark {
		fg = lipgloss.Color("235")
		dim = lipgloss.Color("245")
		accent = lipgloss.Color("26")
		border = lipgloss.Color("250")
	}

	return Theme{
		Sidebar:       lipgloss.NewStyle().Foreground(fg),
		SidebarHeader: lipgloss.NewStyle().Foreground(dim).Bold(true),
		Selected:      lipgloss.NewStyle().Foreground(accent).Bold(true),
		Idle:          lipgloss.NewStyle().Foreground(lipgloss.Color("178")),
		Running:       lipgloss.NewStyle().Foreground(lipgloss.Color("78")),
		Exited:        lipgloss.NewStyle().Foreground(dim),
		Preview:       lipgloss.NewStyle().Foreground(fg),
		PreviewBorder: lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(border),
		StatusBar:     lipgloss.NewStyle().Foreground(dim),
		Dim:           lipgloss.NewStyle().Foreground(dim),
		Accent:        lipgloss.NewStyle().Foreground(accent),
	}
}
