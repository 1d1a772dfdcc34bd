package style

import (
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
)

var palette = DefaultPalette()

var (
	HeaderStyle = lipgloss.NewStyle().
			Foreground(palette.Primary).
			Bold(true).
			Padding(0, 1)

	TitleStyle = lipgloss.NewStyle().
			Foreground(palette.Secondary).
			Bold(true)

	MutedStyle = lipgloss.NewStyle().Foreground(palette.TextMuted)

	PanelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(palette.TextMuted).
			Padding(0, 1)

	ActivePanelStyle = PanelStyle.
				BorderForeground(palette.Primary)

	StatusOKStyle = lipgloss.NewStyle().
			Foreground(palette.Success)

	StatusErrorStyle = lipgloss.NewStyle().
				Foreground(palette.Error).
				Bold(true)
)

// Colored renders s in c.
func Colored(s string, c lipgloss.Color) string {
	return lipgloss.NewStyle().Foreground(c).Render(s)
}

// Panel renders content in a bordered box, highlighted when active.
func Panel(title, content string, active bool, width int) string {
	st := PanelStyle
	if active {
		st = ActivePanelStyle
	}
	if width > 0 {
		st = st.Width(width)
	}
	return st.Render(TitleStyle.Render(title) + "\n" + content)
}

// TableStyles is the table look shared by every dashboard pane.
func TableStyles() table.Styles {
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(palette.TextMuted).
		BorderBottom(true).
		Foreground(palette.Primary).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(palette.Text).
		Background(palette.Border).
		Bold(true)
	return s
}
