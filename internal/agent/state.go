package agent

import "fmt"

// State is the lifecycle state of one agent run.
type State int

const (
	StateInit State = iota
	StateRunning
	StateConverged
	StateLimitReached
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateRunning:
		return "RUNNING"
	case StateConverged:
		return "CONVERGED"
	case StateLimitReached:
		return "LIMIT_REACHED"
	case StateFaulted:
		return "FAULTED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether s ends a run.
func (s State) Terminal() bool {
	return s == StateConverged || s == StateLimitReached || s == StateFaulted
}

// ParseState maps a state name back to its value.
func ParseState(name string) (State, error) {
	for s := StateInit; s <= StateFaulted; s++ {
		if s.String() == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown agent state %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(b []byte) error {
	v, err := ParseState(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

var stateTransitions = map[State]map[State]bool{
	StateInit: {
		StateRunning: true,
		// A failing preparation step ends the run before the first round.
		StateFaulted: true,
	},
	StateRunning: {
		StateRunning:      true,
		StateConverged:    true,
		StateLimitReached: true,
		StateFaulted:      true,
	},
}

// CanTransition reports whether from -> to is a legal move. Terminal states
// have no outgoing transitions.
func CanTransition(from, to State) bool {
	next, ok := stateTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}
