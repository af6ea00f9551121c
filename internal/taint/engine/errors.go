package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrNotStarted is returned by operations on a session that is not
	// between Start and End.
	ErrNotStarted = errors.New("engine: session not started")

	// ErrAlreadyStarted is returned by Start on a running session.
	ErrAlreadyStarted = errors.New("engine: session already started")

	// ErrSessionAborted is returned for every event after a fatal error.
	ErrSessionAborted = errors.New("engine: session aborted")
)

// ContractError reports an event the instrumentation layer must never send.
type ContractError struct {
	Event Event
	Msg   string
	Err   error // underlying cause, may be nil
}

func (e *ContractError) Error() string {
	kind := "nil"
	if e.Event != nil {
		kind = e.Event.Kind().String()
	}
	s := fmt.Sprintf("engine: contract violation in %s event: %s", kind, e.Msg)
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *ContractError) Unwrap() error { return e.Err }

func contractf(ev Event, err error, format string, args ...any) *ContractError {
	return &ContractError{Event: ev, Msg: fmt.Sprintf(format, args...), Err: err}
}
