// Package governor bounds the number of model rounds in one agent run.
package governor

import "fmt"

// Signal is the governor's verdict after a round.
type Signal int

const (
	// Continue means another round may start.
	Continue Signal = iota
	// Cutoff means the bound has been reached; the run must stop.
	Cutoff
)

func (s Signal) String() string {
	switch s {
	case Continue:
		return "continue"
	case Cutoff:
		return "cutoff"
	default:
		return fmt.Sprintf("signal(%d)", int(s))
	}
}

// Governor counts completed rounds for a single run. It is not safe for
// concurrent use; each run owns its own instance.
type Governor struct {
	max   int
	turns int
}

// New returns a governor that cuts off after max rounds. max below 1 is
// treated as 1.
func New(max int) *Governor {
	if max < 1 {
		max = 1
	}
	return &Governor{max: max}
}

// Advance records one completed round and reports whether the bound has
// been reached. The first Cutoff is returned on exactly the max-th call.
func (g *Governor) Advance() Signal {
	g.turns++
	if g.turns >= g.max {
		return Cutoff
	}
	return Continue
}

// Turns returns the number of completed rounds.
func (g *Governor) Turns() int { return g.turns }

// Max returns the configured bound.
func (g *Governor) Max() int { return g.max }

// Remaining returns how many rounds may still run.
func (g *Governor) Remaining() int {
	if g.turns >= g.max {
		return 0
	}
	return g.max - g.turns
}
