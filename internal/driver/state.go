package driver

import "fmt"

// State is a step of the build-avoidance state machine.
type State uint8

const (
	Idle State = iota
	Scanning
	Digesting
	Deciding
	Skipped
	Compiling
	Reconciling
	Committed
	Failed
)

var stateNames = [...]string{
	Idle:        "idle",
	Scanning:    "scanning",
	Digesting:   "digesting",
	Deciding:    "deciding",
	Skipped:     "skipped",
	Compiling:   "compiling",
	Reconciling: "reconciling",
	Committed:   "committed",
	Failed:      "failed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", s)
}

// Terminal reports whether no transition leaves s. A build without sources
// also stops in Skipped.
func (s State) Terminal() bool {
	return s == Committed || s == Failed
}

// Failed is reachable from every non-terminal state.
var transitions = map[State][]State{
	Idle:        {Scanning},
	Scanning:    {Digesting},
	Digesting:   {Deciding},
	Deciding:    {Skipped, Compiling},
	Skipped:     {Reconciling},
	Compiling:   {Reconciling},
	Reconciling: {Committed},
}

func allowed(from, to State) bool {
	if to == Failed {
		return !from.Terminal()
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// machine tracks the current state and the path taken.
type machine struct {
	state   State
	history []State
	onEnter func(from, to State)
}

func (m *machine) to(next State) {
	if !allowed(m.state, next) {
		panic(fmt.Sprintf("driver: invalid transition %s -> %s", m.state, next))
	}
	prev := m.state
	m.state = next
	m.history = append(m.history, next)
	if m.onEnter != nil {
		m.onEnter(prev, next)
	}
}
