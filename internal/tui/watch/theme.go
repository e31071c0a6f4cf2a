// Package watch is the live batch progress view: one row per repository,
// fed by orchestrator events either in-process or over the API's SSE feed.
package watch

import "github.com/charmbracelet/lipgloss"

// Theme centralizes all styling for the watch TUI.
type Theme struct {
	Pass    lipgloss.Style
	Fail    lipgloss.Style
	Errored lipgloss.Style
	Running lipgloss.Style
	Pending lipgloss.Style

	Border    lipgloss.Style
	Title     lipgloss.Style
	Header    lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style
}

func NewDefaultTheme() Theme {
	purple := lipgloss.Color("#874BFD")

	return Theme{
		Pass:    lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		Fail:    lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F5F")),
		Errored: lipgloss.NewStyle().Foreground(lipgloss.Color("#FF8700")),
		Running: lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")),
		Pending: lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(purple),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1),
		Header:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#61AFEF")),
		Dim:       lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		Highlight: lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),
	}
}

// Verdict styles a pass/fail/error verdict string.
func (t Theme) Verdict(v string) string {
	switch v {
	case "pass":
		return t.Pass.Render(v)
	case "fail":
		return t.Fail.Render(v)
	case "error":
		return t.Errored.Render(v)
	case "":
		return t.Dim.Render("-")
	default:
		return v
	}
}
