package main

import "github.com/charmbracelet/lipgloss"

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#8BC34A"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#2196F3"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#8BC34A"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFC107"))

	errorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#e53935"))
)
