package tui

import "github.com/charmbracelet/lipgloss"

var (
	// Colors meet WCAG AA contrast (4.5:1) on black and dark surfaces
	primaryColor = lipgloss.Color("#A78BFA") // Purple
	greenColor   = lipgloss.Color("#10B981") // Green
	amberColor   = lipgloss.Color("#F59E0B") // Amber
	redColor     = lipgloss.Color("#F87171") // Red
	mutedColor   = lipgloss.Color("#9CA3AF") // Gray
	textColor    = lipgloss.Color("#F9FAFB") // Light text
	borderColor  = lipgloss.Color("#6B7280") // Gray

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginBottom(1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(textColor)

	mutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	warnStyle = lipgloss.NewStyle().
			Foreground(amberColor)

	errStyle = lipgloss.NewStyle().
			Foreground(redColor)

	// Per-state badge styles
	pendingStyle   = lipgloss.NewStyle().Foreground(mutedColor)
	activeStyle    = lipgloss.NewStyle().Foreground(greenColor)
	completedStyle = lipgloss.NewStyle().Foreground(primaryColor)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(borderColor).
			Padding(0, 1)
)

// stateStyle picks the badge style for an agent state name.
func stateStyle(state string) lipgloss.Style {
	switch state {
	case "active":
		return activeStyle
	case "completed":
		return completedStyle
	default:
		return pendingStyle
	}
}
