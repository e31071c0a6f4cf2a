package watch

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/codemig/internal/events"
)

const eventLogSize = 50

func renderEventStream(eventLog []events.Event, theme Theme, width, rows int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENT STREAM"),
			theme.Dim.Render("  Waiting for events..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, e := range eventLog {
		if i >= rows {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	eventsText := lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENT STREAM"),
		eventsText,
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Local().Format("15:04:05"))

	var typeStyle lipgloss.Style
	switch {
	case strings.HasSuffix(e.Type, ".completed"):
		typeStyle = theme.Pass
	case strings.HasSuffix(e.Type, ".failed"):
		typeStyle = theme.Fail
	case strings.HasSuffix(e.Type, ".started"):
		typeStyle = theme.Running
	default:
		typeStyle = theme.Dim
	}

	return fmt.Sprintf("%s %s %s", ts, typeStyle.Render(fmt.Sprintf("%-16s", e.Type)), describeEvent(e))
}

func describeEvent(e events.Event) string {
	if strings.HasPrefix(e.Type, "batch.") {
		var p events.BatchPayload
		if e.Decode(&p) != nil {
			return ""
		}
		if e.Type == events.BatchCompleted {
			return fmt.Sprintf("%s completed=%d failed=%d", short(p.BatchID), p.Completed, p.Failed)
		}
		return fmt.Sprintf("%s %s units=%d workers=%d", short(p.BatchID), p.Variant, p.Total, p.Concurrency)
	}

	var p events.UnitPayload
	if e.Decode(&p) != nil {
		return ""
	}
	parts := []string{p.RepoID}
	switch e.Type {
	case events.UnitAcquired:
		if p.BaseRevision != "" {
			parts = append(parts, "@"+short(p.BaseRevision))
		}
	case events.UnitRound:
		parts = append(parts, fmt.Sprintf("round %d tools=%d", p.Round, p.ToolCalls))
	case events.UnitCompleted:
		parts = append(parts, p.State, "max="+p.MaxVerdict, "min="+p.MinVerdict)
	case events.UnitFailed:
		parts = append(parts, truncate(p.Error, 60))
	}
	return strings.Join(parts, " ")
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
