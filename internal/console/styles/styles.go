// Package styles provides consistent lipgloss styling for cmd/edr-console.
package styles

import "github.com/charmbracelet/lipgloss"

var (
	Primary    = lipgloss.Color("#7C3AED")
	Secondary  = lipgloss.Color("#10B981")
	Warning    = lipgloss.Color("#F59E0B")
	Error      = lipgloss.Color("#EF4444")
	MutedColor = lipgloss.Color("#6B7280")
	White      = lipgloss.Color("#FFFFFF")

	Muted = lipgloss.NewStyle().Foreground(MutedColor)

	Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(Primary).
		MarginBottom(1)

	Subtitle = lipgloss.NewStyle().
			Foreground(MutedColor).
			Italic(true)

	StatusOK = lipgloss.NewStyle().
			Foreground(Secondary).
			Bold(true)

	StatusWarning = lipgloss.NewStyle().
			Foreground(Warning).
			Bold(true)

	StatusError = lipgloss.NewStyle().
			Foreground(Error).
			Bold(true)

	TabActive = lipgloss.NewStyle().
			Foreground(White).
			Background(Primary).
			Padding(0, 2).
			Bold(true)

	TabInactive = lipgloss.NewStyle().
			Foreground(MutedColor).
			Padding(0, 2)

	Help = lipgloss.NewStyle().
		Foreground(MutedColor).
		MarginTop(1)

	TableHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(Primary).
			BorderBottom(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(MutedColor)

	MetricCard = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(MutedColor).
			Padding(1, 2).
			Width(20)

	MetricValue = lipgloss.NewStyle().
			Bold(true).
			Foreground(Secondary)

	MetricLabel = lipgloss.NewStyle().
			Foreground(MutedColor)
)

// LevelStyle returns the style associated with a risk level string
// ("LOW", "MEDIUM", "HIGH", "CRITICAL").
func LevelStyle(level string) lipgloss.Style {
	switch level {
	case "CRITICAL", "HIGH":
		return StatusError
	case "MEDIUM":
		return StatusWarning
	default:
		return StatusOK
	}
}

// StateStyle returns the style associated with an incident state string.
func StateStyle(state string) lipgloss.Style {
	switch state {
	case "CLOSED":
		return Muted
	case "CONTAINED":
		return StatusOK
	case "ESCALATED":
		return StatusError
	case "ACTIVE":
		return StatusWarning
	default:
		return Muted
	}
}
