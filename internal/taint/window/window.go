// Package window implements the tracing window that gates propagation.
//
// Tracking starts when execution reaches the entry point of a designated
// entry function and stops when it reaches the entry point of a designated
// exit function. The match is by name and is not reentrant: re-entering the
// entry function while already tracking, or the exit function while idle,
// keeps the current state.
package window

import "fmt"

// State is the window state.
type State uint8

const (
	// Idle is the initial state; propagation is disabled.
	Idle State = iota
	// Tracking enables propagation.
	Tracking
)

// String returns "idle" or "tracking".
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Tracking:
		return "tracking"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Default symbols delimiting the window.
const (
	DefaultEntry = "main"
	DefaultExit  = "exit"
)

// Window is the two-state tracing flag of one analysis session.
type Window struct {
	entry string
	exit  string
	state State

	// onChange, if set, is called on every real transition.
	onChange func(from, to State, symbol string)
}

// New creates an Idle window delimited by entry and exit. Empty names select
// the defaults.
func New(entry, exit string) *Window {
	if entry == "" {
		entry = DefaultEntry
	}
	if exit == "" {
		exit = DefaultExit
	}
	return &Window{entry: entry, exit: exit}
}

// OnChange registers fn to run on every Idle<->Tracking transition.
func (w *Window) OnChange(fn func(from, to State, symbol string)) {
	w.onChange = fn
}

// Entry returns the entry symbol.
func (w *Window) Entry() string { return w.entry }

// Exit returns the exit symbol.
func (w *Window) Exit() string { return w.exit }

// State returns the current state.
func (w *Window) State() State { return w.state }

// Tracking reports whether propagation is enabled.
//
//go:nosplit
func (w *Window) Tracking() bool { return w.state == Tracking }

// Enter handles control reaching the entry point of function name and
// returns the resulting state. Names other than the entry and exit symbols
// leave the state unchanged.
//
// When entry and exit name the same function, the entry transition wins.
func (w *Window) Enter(name string) State {
	switch name {
	case w.entry:
		w.transition(Tracking, name)
	case w.exit:
		w.transition(Idle, name)
	}
	return w.state
}

// Start forces the Tracking state.
func (w *Window) Start() { w.transition(Tracking, w.entry) }

// Stop forces the Idle state.
func (w *Window) Stop() { w.transition(Idle, w.exit) }

// Reset returns the window to Idle without firing the change hook.
func (w *Window) Reset() { w.state = Idle }

func (w *Window) transition(to State, symbol string) {
	if w.state == to {
		return
	}
	from := w.state
	w.state = to
	if w.onChange != nil {
		w.onChange(from, to, symbol)
	}
}
