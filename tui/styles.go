package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorPrimary   = lipgloss.Color("#2A9D8F") // teal
	colorSecondary = lipgloss.Color("#E9C46A") // amber
	colorText      = lipgloss.Color("#F1F1F1")
	colorSubtext   = lipgloss.Color("#7A7A7A")
	colorSuccess   = lipgloss.Color("#52B788")
	colorError     = lipgloss.Color("#E76F51")
)

// frame and panels
var (
	styleWindow = lipgloss.NewStyle().
			Border(lipgloss.ThickBorder()).
			BorderForeground(colorPrimary).
			Align(lipgloss.Center)

	stylePanelTitled = lipgloss.NewStyle().
				Border(lipgloss.ThickBorder()).
				BorderForeground(colorSubtext).
				Padding(0, 1)

	styleFooter = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(colorSubtext).
			Padding(0, 1)

	styleScreenTooSmall = lipgloss.NewStyle().
				Foreground(colorSecondary).
				Bold(true).
				Align(lipgloss.Center, lipgloss.Center)
)

// text
var (
	styleTitle = lipgloss.NewStyle().
			Background(colorPrimary).
			Foreground(colorText).
			Padding(0, 1).
			Bold(true)

	styleAppTitle = lipgloss.NewStyle().
			Foreground(colorPrimary).
			Bold(true).
			Padding(0, 1).
			Align(lipgloss.Center)

	styleSection  = lipgloss.NewStyle().Foreground(colorSecondary).Bold(true)
	styleSelected = lipgloss.NewStyle().Foreground(colorSecondary).Bold(true)
	styleKey      = lipgloss.NewStyle().Foreground(colorSecondary).Bold(true)
	styleSubtext  = lipgloss.NewStyle().Foreground(colorSubtext)
	styleError    = lipgloss.NewStyle().Foreground(colorError).Bold(true)
	styleLabel    = lipgloss.NewStyle().Foreground(colorSubtext).Width(10)
	styleValue    = lipgloss.NewStyle().Foreground(colorText)
	styleStatKey  = lipgloss.NewStyle().Foreground(colorSubtext)
)

// file browser entries
var (
	styleFileDir   = lipgloss.NewStyle().Foreground(colorText).Bold(true)
	styleFileMatch = lipgloss.NewStyle().Foreground(colorPrimary)
	styleFileOther = lipgloss.NewStyle().Foreground(colorSubtext).Faint(true)
)

// source cards
var (
	styleMenuContainer = lipgloss.NewStyle().Padding(1)

	styleMenuItem = lipgloss.NewStyle().
			Foreground(colorText).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorSubtext).
			Padding(1, 3).
			Margin(0, 1).
			Align(lipgloss.Center).
			Width(20)

	styleMenuItemSelected = styleMenuItem.
				BorderForeground(colorSecondary).
				Bold(true)
)

var (
	scrollbarTrack = lipgloss.NewStyle().Foreground(colorSubtext)
	scrollbarThumb = lipgloss.NewStyle().Foreground(colorPrimary)
)
