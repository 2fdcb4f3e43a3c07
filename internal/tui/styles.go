package tui

import "github.com/charmbracelet/lipgloss"

var (
	Accent    = lipgloss.Color("#FC3C44")
	SlateDark = lipgloss.Color("#1F2937")
	DimGray   = lipgloss.Color("#6B7280")
	LightGray = lipgloss.Color("#9CA3AF")
	White     = lipgloss.Color("#F9FAFB")
	Red       = lipgloss.Color("#EF4444")
)

var (
	ActiveTabStyle = lipgloss.NewStyle().
			Foreground(White).
			Background(Accent).
			Bold(true).
			Padding(0, 1)

	InactiveTabStyle = lipgloss.NewStyle().
				Foreground(LightGray).
				Padding(0, 1)

	SectionTitleStyle = lipgloss.NewStyle().
				Foreground(Accent).
				Bold(true).
				MarginTop(1)

	ItemStyle = lipgloss.NewStyle().
			Foreground(White)

	SelectedItemStyle = lipgloss.NewStyle().
				Foreground(White).
				Background(SlateDark).
				Bold(true)

	MatchStyle = lipgloss.NewStyle().
			Foreground(Accent).
			Bold(true)

	ArtistStyle = lipgloss.NewStyle().
			Foreground(DimGray)

	StatusStyle = lipgloss.NewStyle().
			Foreground(LightGray)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(Red)

	ColumnStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(DimGray).
			Padding(0, 1)
)
