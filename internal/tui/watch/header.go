package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
)

func renderHeader(batch BatchState, units map[string]*UnitState, bar progress.Model, spin string, connected bool, theme Theme, width int) string {
	innerWidth := width - 4

	title := " CODEMIG BATCH"
	if batch.ID != "" {
		title += " " + theme.Highlight.Render(short(batch.ID))
	}
	if batch.Variant != "" {
		title += " " + theme.Dim.Render("("+batch.Variant+")")
	}
	clock := theme.Dim.Render(time.Now().Format("15:04:05"))
	pad := innerWidth - lipgloss.Width(title) - lipgloss.Width(clock) - 4
	if pad < 1 {
		pad = 1
	}
	titleLine := title + strings.Repeat(" ", pad) + clock + " "

	done, failed := completed(units)
	total := batch.Total
	if total < len(units) {
		total = len(units)
	}

	status := theme.Running.Render("RUNNING") + " " + spin
	switch {
	case !connected:
		status = theme.Fail.Render("CONNECTING")
	case batch.Done:
		status = theme.Pass.Render("COMPLETE")
	case batch.ID == "":
		status = theme.Pending.Render("WAITING")
	}

	elapsed := "-"
	if !batch.Started.IsZero() {
		elapsed = formatDuration(time.Since(batch.Started))
	}

	statsLine := fmt.Sprintf(" %s  ⏱ %s  done %d  failed %d  of %d  workers %d",
		status, elapsed, done, failed, total, batch.Concurrency)

	percent := 0.0
	if total > 0 {
		percent = float64(done+failed) / float64(total)
	}
	bar.Width = max(10, innerWidth-4)
	progressLine := " " + bar.ViewAs(percent)

	return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left,
		titleLine,
		statsLine,
		progressLine,
	))
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
