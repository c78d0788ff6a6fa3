package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorAccent = lipgloss.AdaptiveColor{Light: "#D75F00", Dark: "#FF8700"}
	colorDim    = lipgloss.AdaptiveColor{Light: "#9B9B9B", Dark: "#626262"}
	colorText   = lipgloss.AdaptiveColor{Light: "#3D3D3D", Dark: "#ABABAB"}
	colorTabBg  = lipgloss.AdaptiveColor{Light: "#EEEEEE", Dark: "#2A2A2A"}

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorAccent)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	ageStyle = lipgloss.NewStyle().
			Foreground(colorDim)

	tabActiveStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(colorAccent).
			Padding(0, 1).
			Bold(true)

	tabInactiveStyle = lipgloss.NewStyle().
				Foreground(colorText).
				Background(colorTabBg).
				Padding(0, 1)

	storyTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorAccent)

	commentHeaderStyle = lipgloss.NewStyle().
				Foreground(colorDim)

	commentSelectedStyle = lipgloss.NewStyle().
				Foreground(colorAccent).
				Bold(true)

	spinnerStyle = lipgloss.NewStyle().
			Foreground(colorAccent)
)
