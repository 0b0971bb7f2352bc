package main

import "github.com/charmbracelet/lipgloss"

// Theme defines the visual styling for the vivarium dashboard.
type Theme struct {
	Primary lipgloss.Color
	Success lipgloss.Color
	Warning lipgloss.Color
	Error   lipgloss.Color
	Muted   lipgloss.Color
}

// DefaultTheme returns the default theme for vivarium dash.
func DefaultTheme() Theme {
	return Theme{
		Primary: lipgloss.Color("12"),  // Blue
		Success: lipgloss.Color("10"),  // Green
		Warning: lipgloss.Color("11"),  // Yellow
		Error:   lipgloss.Color("9"),   // Red
		Muted:   lipgloss.Color("240"), // Gray
	}
}

// Styles holds the pre-built lipgloss styles derived from a theme.
type Styles struct {
	Title    lipgloss.Style
	Section  lipgloss.Style
	StatusOK lipgloss.Style
	StatusNo lipgloss.Style
	Warning  lipgloss.Style
	Muted    lipgloss.Style
}

// NewStyles builds the style set for a theme.
func NewStyles(theme Theme) Styles {
	return Styles{
		Title:    lipgloss.NewStyle().Bold(true).Foreground(theme.Primary),
		Section:  lipgloss.NewStyle().Bold(true).Foreground(theme.Primary).MarginTop(1),
		StatusOK: lipgloss.NewStyle().Foreground(theme.Success),
		StatusNo: lipgloss.NewStyle().Foreground(theme.Error),
		Warning:  lipgloss.NewStyle().Foreground(theme.Warning),
		Muted:    lipgloss.NewStyle().Foreground(theme.Muted),
	}
}
