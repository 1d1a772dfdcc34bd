package style

import "github.com/charmbracelet/lipgloss"

var (
	Cyan    = lipgloss.Color("#00E5FF") // highlight
	Magenta = lipgloss.Color("#FF1B6B")
	Yellow  = lipgloss.Color("#FFB500")
	Green   = lipgloss.Color("#2AFFAA") // positive P/L
	Red     = lipgloss.Color("#FF5555") // negative P/L
	Blue    = lipgloss.Color("#3B82F6")

	Base02 = lipgloss.Color("#262831")
	Base01 = lipgloss.Color("#6C7280") // muted text
	Base2  = lipgloss.Color("#ECEFF4")
)

// Palette maps semantic roles to colors.
type Palette struct {
	Primary   lipgloss.Color
	Secondary lipgloss.Color
	Success   lipgloss.Color
	Error     lipgloss.Color
	Warning   lipgloss.Color
	Info      lipgloss.Color
	Text      lipgloss.Color
	TextMuted lipgloss.Color
	Border    lipgloss.Color
}

func DefaultPalette() Palette {
	return Palette{
		Primary:   Cyan,
		Secondary: Magenta,
		Success:   Green,
		Error:     Red,
		Warning:   Yellow,
		Info:      Blue,
		Text:      Base2,
		TextMuted: Base01,
		Border:    Base02,
	}
}

// ProfitColor picks the color for a profit/loss percentage.
func ProfitColor(pct float64) lipgloss.Color {
	switch {
	case pct > 0:
		return Green
	case pct < 0:
		return Red
	}
	return Base01
}

// StateColor picks the color for a breaker state or queue flag.
func StateColor(state string) lipgloss.Color {
	switch state {
	case "CLOSED", "running", "ok":
		return Green
	case "HALF_OPEN", "paused":
		return Yellow
	case "OPEN", "stopped":
		return Red
	}
	return Base01
}
