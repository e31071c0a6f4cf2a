package watch

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/codemig/internal/events"
)

// Unit phases as shown in the table.
const (
	phasePending   = "pending"
	phaseAcquiring = "acquiring"
	phaseRunning   = "running"
	phaseDone      = "done"
	phaseFailed    = "failed"
)

// UnitState tracks one repository from its events.
type UnitState struct {
	RepoID     string
	Phase      string
	Round      int
	MaxRounds  int
	State      string
	MaxVerdict string
	MinVerdict string
	Error      string
	Started    time.Time
	Finished   time.Time
}

// BatchState tracks the batch as a whole.
type BatchState struct {
	ID          string
	Variant     string
	Total       int
	Concurrency int
	Started     time.Time
	Done        bool
}

// Completed counts units in a terminal phase.
func completed(units map[string]*UnitState) (done, failed int) {
	for _, u := range units {
		switch u.Phase {
		case phaseDone:
			done++
		case phaseFailed:
			failed++
		}
	}
	return done, failed
}

// apply folds one event into the batch and unit state.
func apply(batch *BatchState, units map[string]*UnitState, e events.Event) {
	switch e.Type {
	case events.BatchStarted:
		var p events.BatchPayload
		if e.Decode(&p) != nil {
			return
		}
		*batch = BatchState{ID: p.BatchID, Variant: p.Variant, Total: p.Total, Concurrency: p.Concurrency, Started: e.At}
		return
	case events.BatchCompleted:
		batch.Done = true
		return
	}

	var p events.UnitPayload
	if e.Decode(&p) != nil || p.RepoID == "" {
		return
	}
	u, ok := units[p.RepoID]
	if !ok {
		u = &UnitState{RepoID: p.RepoID, Phase: phasePending}
		units[p.RepoID] = u
	}

	switch e.Type {
	case events.UnitStarted:
		u.Phase = phaseAcquiring
		u.Started = e.At
	case events.UnitAcquired:
		u.Phase = phaseRunning
	case events.UnitRound:
		u.Phase = phaseRunning
		u.Round = p.Round
		u.MaxRounds = p.MaxRounds
	case events.UnitCompleted:
		u.Phase = phaseDone
		u.Round = p.Round
		u.State = p.State
		u.MaxVerdict = p.MaxVerdict
		u.MinVerdict = p.MinVerdict
		u.Finished = e.At
	case events.UnitFailed:
		u.Phase = phaseFailed
		u.Error = p.Error
		u.Finished = e.At
	}
}

// sortedUnits puts running units first, then by repo id.
func sortedUnits(units map[string]*UnitState) []*UnitState {
	out := make([]*UnitState, 0, len(units))
	for _, u := range units {
		out = append(out, u)
	}
	rank := func(phase string) int {
		switch phase {
		case phaseRunning, phaseAcquiring:
			return 0
		case phaseFailed:
			return 1
		case phaseDone:
			return 2
		default:
			return 3
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := rank(out[i].Phase), rank(out[j].Phase)
		if ri != rj {
			return ri < rj
		}
		return out[i].RepoID < out[j].RepoID
	})
	return out
}

func renderUnits(units map[string]*UnitState, spin string, theme Theme, width, maxRows int) string {
	innerWidth := width - 4
	if len(units) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("REPOSITORIES"),
			theme.Dim.Render("  Waiting for units..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	header := theme.Header.Render(fmt.Sprintf("  %-36s %-10s %-9s %-14s %-5s %-5s", "REPO", "PHASE", "ROUND", "STATE", "MAX", "MIN"))
	lines := []string{header}
	rows := sortedUnits(units)
	for i, u := range rows {
		if maxRows > 0 && i >= maxRows {
			lines = append(lines, theme.Dim.Render(fmt.Sprintf("  ... %d more", len(rows)-maxRows)))
			break
		}
		lines = append(lines, renderUnit(u, spin, theme))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("REPOSITORIES"),
		strings.Join(lines, "\n"),
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func renderUnit(u *UnitState, spin string, theme Theme) string {
	icon := " "
	phase := theme.Pending.Render(fmt.Sprintf("%-10s", u.Phase))
	switch u.Phase {
	case phaseAcquiring, phaseRunning:
		icon = spin
		phase = theme.Running.Render(fmt.Sprintf("%-10s", u.Phase))
	case phaseDone:
		icon = theme.Pass.Render("✓")
		phase = theme.Pass.Render(fmt.Sprintf("%-10s", u.Phase))
	case phaseFailed:
		icon = theme.Fail.Render("✗")
		phase = theme.Fail.Render(fmt.Sprintf("%-10s", u.Phase))
	}

	round := "-"
	if u.Round > 0 {
		round = fmt.Sprintf("%d", u.Round)
		if u.MaxRounds > 0 {
			round = fmt.Sprintf("%d/%d", u.Round, u.MaxRounds)
		}
	}

	state := u.State
	if u.Phase == phaseFailed {
		state = truncate(u.Error, 14)
	}

	return fmt.Sprintf("%s %-36s %s %-9s %-14s %s %s",
		icon,
		truncate(u.RepoID, 36),
		phase,
		round,
		state,
		padVerdict(theme, u.MaxVerdict),
		padVerdict(theme, u.MinVerdict),
	)
}

func padVerdict(theme Theme, v string) string {
	rendered := theme.Verdict(v)
	if pad := 5 - lipgloss.Width(rendered); pad > 0 {
		rendered += strings.Repeat(" ", pad)
	}
	return rendered
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
