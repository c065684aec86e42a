package tui

import "github.com/charmbracelet/lipgloss"

var (
	primary     = lipgloss.Color("#101F38")
	accent      = lipgloss.Color("#8BC34A")
	muted       = lipgloss.Color("#8a93a3")
	destructive = lipgloss.Color("#e53935")
	border      = lipgloss.Color("#dce0e5")
)

// Styles holds the lipgloss styles of the terminal desk.
type Styles struct {
	Header   lipgloss.Style
	Heading  lipgloss.Style
	Panel    lipgloss.Style
	Focused  lipgloss.Style
	Selected lipgloss.Style
	Muted    lipgloss.Style
	Overdue  lipgloss.Style
	Error    lipgloss.Style
	Success  lipgloss.Style
	User     lipgloss.Style
	Bot      lipgloss.Style
	Pending  lipgloss.Style
	Help     lipgloss.Style
}

func DefaultStyles() Styles {
	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(border).
		Padding(0, 1)
	return Styles{
		Header: lipgloss.NewStyle().
			Background(primary).
			Foreground(lipgloss.Color("#ffffff")).
			Padding(0, 2).
			Bold(true),
		Heading:  lipgloss.NewStyle().Foreground(primary).Bold(true),
		Panel:    panel,
		Focused:  panel.BorderForeground(accent),
		Selected: lipgloss.NewStyle().Foreground(accent).Bold(true),
		Muted:    lipgloss.NewStyle().Foreground(muted),
		Overdue:  lipgloss.NewStyle().Foreground(destructive).Bold(true),
		Error:    lipgloss.NewStyle().Foreground(destructive),
		Success:  lipgloss.NewStyle().Foreground(accent),
		User:     lipgloss.NewStyle().Foreground(primary).Bold(true),
		Bot:      lipgloss.NewStyle().Foreground(accent),
		Pending:  lipgloss.NewStyle().Foreground(muted).Italic(true),
		Help:     lipgloss.NewStyle().Foreground(muted).Padding(0, 1),
	}
}
