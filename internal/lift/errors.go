package lift

import (
	"errors"
	"fmt"
)

// ErrUnsupported is wrapped by LiftErrors for instructions outside the
// supported subset.
var ErrUnsupported = errors.New("unsupported instruction")

// LiftError reports a guest instruction that could not be lifted.
type LiftError struct {
	Addr uint64
	Inst string // Intel syntax, empty if decoding failed
	Msg  string
	Err  error
}

func (e *LiftError) Error() string {
	if e.Inst == "" {
		return fmt.Sprintf("lift 0x%x: %s", e.Addr, e.Msg)
	}
	return fmt.Sprintf("lift 0x%x (%s): %s", e.Addr, e.Inst, e.Msg)
}

func (e *LiftError) Unwrap() error { return e.Err }
