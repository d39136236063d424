package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

const (
	colorGray   = "#353b52"
	colorWhite  = "#ffffff"
	colorGreen  = "#acfab4"
	colorRed    = "#e61f44"
	colorPurple = "#b9a3eb"
	colorBlue   = "#89ddff"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).
			Foreground(lipgloss.Color(colorBlue)).
			Background(lipgloss.Color(colorGray)).
			Padding(0, 2)
	activeTabStyle = lipgloss.NewStyle().Bold(true).
			Foreground(lipgloss.Color(colorGray)).
			Background(lipgloss.Color(colorBlue)).
			Padding(0, 2)
	tabStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(colorPurple)).
			Padding(0, 2)
	labelStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color(colorBlue))
	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(colorGray)).
			Background(lipgloss.Color(colorGreen))
	dangerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(colorRed))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color(colorGreen))
	textStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color(colorWhite))
	footerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(colorGray))
	panelStyle  = lipgloss.NewStyle().Padding(1, 2)
)

// pointer returns the cursor column of a list line.
func pointer(focused bool) string {
	if focused {
		return "> "
	}
	return strings.Repeat(" ", 2)
}
