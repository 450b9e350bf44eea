package driver

import "time"

// PhaseStatus reports whether a phase started or finished.
type PhaseStatus int

const (
	// PhaseStart indicates that a state-machine phase has begun.
	PhaseStart PhaseStatus = iota
	PhaseEnd
)

// PhaseEvent describes a phase boundary of one module build.
type PhaseEvent struct {
	Module  string
	State   State
	Status  PhaseStatus
	Elapsed time.Duration
}

// PhaseObserver receives phase events emitted during Run. It is called on
// the goroutine running the build.
type PhaseObserver func(PhaseEvent)

// phaseClock turns state entries into start/end event pairs.
type phaseClock struct {
	module  string
	observe PhaseObserver
	current State
	started time.Time
	open    bool
}

func (c *phaseClock) enter(s State) {
	if c.observe == nil {
		return
	}
	c.close()
	if s.Terminal() {
		return
	}
	c.current, c.started, c.open = s, time.Now(), true
	c.observe(PhaseEvent{Module: c.module, State: s, Status: PhaseStart})
}

func (c *phaseClock) close() {
	if c.observe == nil || !c.open {
		return
	}
	c.open = false
	c.observe(PhaseEvent{Module: c.module, State: c.current, Status: PhaseEnd, Elapsed: time.Since(c.started)})
}
