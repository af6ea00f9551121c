package instrument

import (
	"github.com/kolkov/ddetector/internal/taint/engine"
	"github.com/kolkov/ddetector/internal/taint/regshadow"
	"github.com/kolkov/ddetector/internal/taint/shadowtemp"
	"github.com/kolkov/ddetector/internal/vex"
)

// Callee is the helper name of every inserted Dirty statement.
const Callee = "ddetector_hook"

// Context carries the run-time values a hook needs to build its event.
type Context struct {
	Thread regshadow.ThreadID
	Args   []uint64 // evaluated Dirty arguments
}

// Hook is the Data of an inserted Dirty statement.
type Hook interface {
	// Event builds the engine event for one execution of the hook.
	Event(ctx Context) engine.Event
}

// HookOf returns the hook carried by s, if s was inserted by an Instrumenter.
func HookOf(s vex.Stmt) (Hook, bool) {
	d, ok := s.(vex.Dirty)
	if !ok || d.Callee != Callee {
		return nil, false
	}
	h, ok := d.Data.(Hook)
	return h, ok
}

// fixedHook emits an event that depends on nothing at run time.
type fixedHook struct {
	ev engine.Event
}

func (h fixedHook) Event(Context) engine.Event { return h.ev }

type regReadHook struct {
	offset, size int
	dst          shadowtemp.TempID
}

func (h regReadHook) Event(ctx Context) engine.Event {
	return engine.RegRead{Thread: ctx.Thread, Offset: h.offset, Size: h.size, Dst: h.dst}
}

type regWriteHook struct {
	offset, size int
	src          engine.Operand
}

func (h regWriteHook) Event(ctx Context) engine.Event {
	return engine.RegWrite{Thread: ctx.Thread, Offset: h.offset, Size: h.size, Src: h.src}
}

// loadHook takes the effective address as its only argument.
type loadHook struct {
	dst  shadowtemp.TempID
	size int
}

func (h loadHook) Event(ctx Context) engine.Event {
	return engine.Load{Dst: h.dst, Addr: arg0(ctx), Size: h.size}
}

// storeHook takes the effective address as its only argument.
type storeHook struct {
	size int
	src  engine.Operand
}

func (h storeHook) Event(ctx Context) engine.Event {
	return engine.Store{Addr: arg0(ctx), Size: h.size, Src: h.src}
}

func arg0(ctx Context) uint64 {
	if len(ctx.Args) == 0 {
		return 0
	}
	return ctx.Args[0]
}

func operand(e vex.Expr) engine.Operand {
	switch e := e.(type) {
	case vex.RdTmp:
		return engine.Tmp(shadowtemp.TempID(e.Tmp))
	case vex.Const:
		return engine.Const(e.Value)
	default:
		// Sanity guarantees atoms.
		return engine.Const(0)
	}
}

func dirty(h Hook, args ...vex.Expr) vex.Dirty {
	return vex.Dirty{Callee: Callee, Args: args, Data: h}
}
