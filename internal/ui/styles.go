package ui

import "github.com/charmbracelet/lipgloss"

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	statusStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("246"))
	systemStyle  = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("63"))
	userStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("118"))
	botStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	botLabel     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213"))
	alertStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("63")).Bold(true)
	areaStyle    = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
)
