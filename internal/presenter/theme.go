package presenter

import "github.com/charmbracelet/lipgloss"

var (
	colorAccent = lipgloss.AdaptiveColor{Light: "#c2410c", Dark: "#fb923c"} // orange
	colorURL    = lipgloss.AdaptiveColor{Light: "#2563eb", Dark: "#60a5fa"}
	colorGood   = lipgloss.AdaptiveColor{Light: "#059669", Dark: "#34d399"}
	colorBad    = lipgloss.AdaptiveColor{Light: "#dc2626", Dark: "#f87171"}
	colorBright = lipgloss.AdaptiveColor{Light: "#0f172a", Dark: "#f1f5f9"}
	colorDim    = lipgloss.AdaptiveColor{Light: "#94a3b8", Dark: "#64748b"}
)

// Theme is the fixed set of styles a render uses. It is passed by value and
// never mutated.
type Theme struct {
	Title lipgloss.Style
	Label lipgloss.Style
	Value lipgloss.Style
	URL   lipgloss.Style
	Good  lipgloss.Style
	Bad   lipgloss.Style
	Dim   lipgloss.Style
}

func DefaultTheme() Theme {
	return Theme{
		Title: lipgloss.NewStyle().Foreground(colorAccent).Bold(true),
		Label: lipgloss.NewStyle().Foreground(colorDim).Width(9),
		Value: lipgloss.NewStyle().Foreground(colorBright),
		URL:   lipgloss.NewStyle().Foreground(colorURL).Underline(true),
		Good:  lipgloss.NewStyle().Foreground(colorGood).Bold(true),
		Bad:   lipgloss.NewStyle().Foreground(colorBad).Bold(true),
		Dim:   lipgloss.NewStyle().Foreground(colorDim),
	}
}

// PlainTheme renders without any escape sequences.
func PlainTheme() Theme {
	plain := lipgloss.NewStyle()
	return Theme{
		Title: plain,
		Label: plain.Width(9),
		Value: plain,
		URL:   plain,
		Good:  plain,
		Bad:   plain,
		Dim:   plain,
	}
}
