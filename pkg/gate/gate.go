// Package gate implements the navigation-enabled gate: a tri-state switch
// that decides whether the fusion loop does any work.
package gate

import "sync"

// State is the gate position.
type State int

const (
	// Unset is the initial state; navigation is not enabled.
	Unset State = iota
	// Enabled lets the fusion loop run.
	Enabled
	// Disabled parks the fusion loop until re-armed.
	Disabled
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Enabled:
		return "enabled"
	case Disabled:
		return "disabled"
	default:
		return "unset"
	}
}

// Source identifies who moved the gate.
type Source string

// Gate writers.
const (
	SourceListener Source = "listener"
	SourceStart    Source = "start"
	SourceStop     Source = "stop"
	SourceTarget   Source = "target-reached"
)

// Gate is safe for concurrent use. Every transition closes the current
// change channel so waiters wake up.
type Gate struct {
	mu      sync.Mutex
	state   State
	armed   bool // the listener's one-shot has fired
	changed chan struct{}

	onChange func(from, to State, src Source)
}

// New returns an unset gate.
func New() *Gate {
	return &Gate{changed: make(chan struct{})}
}

// OnChange registers a callback invoked after every transition, outside
// the lock. Must be called before the gate is shared.
func (g *Gate) OnChange(fn func(from, to State, src Source)) {
	g.onChange = fn
}

// State returns the current position.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Enabled reports whether navigation is enabled.
func (g *Gate) Enabled() bool {
	return g.State() == Enabled
}

// Changed returns a channel that is closed on the next transition.
func (g *Gate) Changed() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.changed
}

// ArmOnce enables the gate on the first call, but only while it is still
// unset: an operator's earlier start or stop wins. Later calls are no-ops.
// Reports whether this call enabled the gate.
func (g *Gate) ArmOnce() bool {
	g.mu.Lock()
	if g.armed {
		g.mu.Unlock()
		return false
	}
	g.armed = true
	if g.state != Unset {
		g.mu.Unlock()
		return false
	}
	from, changed := g.transition(Enabled)
	g.mu.Unlock()

	if changed {
		g.notify(from, Enabled, SourceListener)
	}
	return changed
}

// Start enables the gate. Used by the external start command.
func (g *Gate) Start() {
	g.set(Enabled, SourceStart)
}

// Stop disables the gate. Used by the external stop command.
func (g *Gate) Stop() {
	g.set(Disabled, SourceStop)
}

// TargetReached disables the gate after a zero-power fusion cycle.
func (g *Gate) TargetReached() {
	g.set(Disabled, SourceTarget)
}

func (g *Gate) set(to State, src Source) {
	g.mu.Lock()
	from, changed := g.transition(to)
	g.mu.Unlock()

	if changed {
		g.notify(from, to, src)
	}
}

// transition moves to the new state. Callers hold g.mu.
func (g *Gate) transition(to State) (from State, changed bool) {
	from = g.state
	if from == to {
		return from, false
	}
	g.state = to
	close(g.changed)
	g.changed = make(chan struct{})
	return from, true
}

func (g *Gate) notify(from, to State, src Source) {
	if g.onChange != nil {
		g.onChange(from, to, src)
	}
}
