// Package tui renders batch progress and results for terminals.
package tui

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"golang.org/x/term"

	"github.com/mattjoyce/codemig/internal/results"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#61AFEF")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	passStyle   = cellStyle.Foreground(lipgloss.Color("#00FF00"))
	failStyle   = cellStyle.Foreground(lipgloss.Color("#FF5F5F"))
	errorStyle  = cellStyle.Foreground(lipgloss.Color("#FF8700"))
	titleStyle  = lipgloss.NewStyle().Bold(true).MarginTop(1)
)

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Failure is a unit that produced no record.
type Failure struct {
	RepoID string
	Err    error
}

// RenderSummary draws the per-repository table printed at the end of a
// batch. Verdict cells are colored only when color is set.
func RenderSummary(batchID string, recs []results.Record, failures []Failure, color bool) string {
	sorted := append([]results.Record(nil), recs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].RepoID < sorted[j].RepoID })

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		Headers("REPO", "STATE", "ROUNDS", "MAX", "MIN", "NOTE")

	var maxPass, minPass int
	for _, r := range sorted {
		if r.MaxSuccess() {
			maxPass++
		}
		if r.MinSuccess() {
			minPass++
		}
		t.Row(r.RepoID, r.State, fmt.Sprintf("%d", r.Rounds), string(r.Max.Outcome), string(r.Min.Outcome), note(r))
	}
	for _, f := range failures {
		t.Row(f.RepoID, "FAILED", "-", "-", "-", clip(f.Err.Error(), 60))
	}

	t.StyleFunc(func(row, col int) lipgloss.Style {
		if row == table.HeaderRow {
			return headerStyle
		}
		if !color || (col != 3 && col != 4) || row >= len(sorted) {
			return cellStyle
		}
		v := sorted[row].Max
		if col == 4 {
			v = sorted[row].Min
		}
		switch v.Outcome {
		case results.Pass:
			return passStyle
		case results.Fail:
			return failStyle
		default:
			return errorStyle
		}
	})

	total := len(sorted) + len(failures)
	title := fmt.Sprintf("Batch %s: %d repositories, max %d/%d, min %d/%d, failed %d",
		batchID, total, maxPass, total, minPass, total, len(failures))
	return lipgloss.JoinVertical(lipgloss.Left, titleStyle.Render(title), t.Render())
}

func note(r results.Record) string {
	switch {
	case r.UnitError != "":
		return clip(r.UnitError, 60)
	case r.Max.Error != "":
		return clip(r.Max.Error, 60)
	case r.Min.Error != "":
		return clip(r.Min.Error, 60)
	default:
		return ""
	}
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// RenderBatches draws the batch listing of `codemig results list`.
func RenderBatches(batches []results.BatchSummary) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("BATCH", "EXPERIMENT", "VARIANT", "MODEL", "CREATED", "TOTAL", "MAX", "MIN").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	for _, b := range batches {
		t.Row(b.ID, b.Experiment, b.Variant, b.Model, b.CreatedAt.Local().Format("2006-01-02 15:04"),
			fmt.Sprintf("%d", b.Total), fmt.Sprintf("%d", b.MaxPassed), fmt.Sprintf("%d", b.MinPassed))
	}
	return t.Render()
}
