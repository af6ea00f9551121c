package engine

import (
	"errors"
	"fmt"

	"github.com/kolkov/ddetector/internal/config"
	"github.com/kolkov/ddetector/internal/syscalls"
	"github.com/kolkov/ddetector/internal/taint/regshadow"
	"github.com/kolkov/ddetector/internal/taint/setdepot"
	"github.com/kolkov/ddetector/internal/taint/shadowtemp"
	"github.com/kolkov/ddetector/internal/taint/taintset"
)

// slotSize is the register shadow granule: one depot handle.
const slotSize = setdepot.HandleSize

// Handle applies one event.
//
// This is the HOT PATH: it runs for every instrumented operation of the
// guest. While the window is Idle it only counts the event.
//
// Returns ErrNotStarted outside Start/End, ErrSessionAborted after a fatal
// error, and otherwise the fatal error itself (a *ContractError, or an error
// wrapping shadowmem.ErrPageBudget or shadowmem.ErrAddressRange). A non-nil
// result other than ErrNotStarted aborts the session.
func (s *Session) Handle(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return ErrNotStarted
	}
	if s.aborted != nil {
		return fmt.Errorf("%w: %v", ErrSessionAborted, s.aborted)
	}

	if err := s.dispatch(ev); err != nil {
		s.aborted = err
		s.log.Errorf("session aborted: %v", err)
		return err
	}
	return nil
}

// HandleAll applies events in order and stops at the first error.
func (s *Session) HandleAll(events []Event) error {
	for i, ev := range events {
		if err := s.Handle(ev); err != nil {
			return fmt.Errorf("event %d: %w", i, err)
		}
	}
	return nil
}

// dispatch routes ev. Every event kind has an explicit case.
func (s *Session) dispatch(ev Event) error {
	if ev == nil {
		return contractf(nil, nil, "nil event")
	}
	s.stats.Events[ev.Kind()]++
	if s.log.Enabled(config.TraceLevel) {
		s.log.Tracef("%s %+v [%s]", ev.Kind(), ev, s.win.State())
	}

	switch e := ev.(type) {
	case InstrBoundary:
		if s.resolver != nil {
			if name, ok := s.resolver.FunctionAt(e.Addr); ok {
				s.win.Enter(name)
			}
		}
		return nil
	case FunctionEntry:
		s.win.Enter(e.Name)
		return nil
	}

	if !s.win.Tracking() {
		s.stats.Skipped++
		return nil
	}

	switch e := ev.(type) {
	case RegRead:
		return s.regRead(e)
	case RegWrite:
		return s.regWrite(e)
	case Move:
		return s.move(e)
	case BinOp:
		return s.union(e, e.Dst, e.A, e.B)
	case UnOp:
		if !s.ext.Unary {
			return s.gap(e, e.Dst)
		}
		return s.union(e, e.Dst, e.A)
	case TriOp:
		if !s.ext.Ternary {
			return s.gap(e, e.Dst)
		}
		return s.union(e, e.Dst, e.A, e.B, e.C)
	case QuadOp:
		if !s.ext.Quaternary {
			return s.gap(e, e.Dst)
		}
		return s.union(e, e.Dst, e.A, e.B, e.C, e.D)
	case Load:
		if !s.ext.Loads {
			return s.gap(e, e.Dst)
		}
		return s.load(e)
	case Store:
		if !s.ext.Stores {
			return s.gap(e, shadowtemp.Invalid)
		}
		return s.store(e)
	case SyscallComplete:
		return s.syscall(e)
	default:
		return contractf(ev, nil, "unknown event type %T", ev)
	}
}

// gap records an operation whose provenance is dropped. The destination,
// if any, is cleared: the result carries no origins.
func (s *Session) gap(ev Event, dst shadowtemp.TempID) error {
	if err := s.temps.Set(dst, taintset.Empty()); err != nil {
		return contractf(ev, err, "destination %s", dst)
	}
	s.stats.Dropped++
	return nil
}

func (s *Session) setTemp(ev Event, t shadowtemp.TempID, set taintset.Set) error {
	if err := s.temps.Set(t, set); err != nil {
		return contractf(ev, err, "destination %s", t)
	}
	s.stats.Propagated++
	return nil
}

func (s *Session) regRead(e RegRead) error {
	if e.Offset < 0 || e.Size <= 0 {
		return contractf(e, nil, "bad register [%d, %d)", e.Offset, e.Offset+e.Size)
	}
	return s.setTemp(e, e.Dst, s.readRegister(e.Thread, e.Offset, e.Size))
}

func (s *Session) regWrite(e RegWrite) error {
	if e.Offset < 0 || e.Size <= 0 {
		return contractf(e, nil, "bad register [%d, %d)", e.Offset, e.Offset+e.Size)
	}
	var set taintset.Set
	if !e.Src.Const {
		set = s.temps.View(e.Src.Temp)
	}
	s.writeRegister(e.Thread, e.Offset, e.Size, set)
	s.stats.Propagated++
	return nil
}

func (s *Session) move(e Move) error {
	if e.Src < 0 || int(e.Src) >= s.temps.Cap() {
		return contractf(e, nil, "move from invalid source %s", e.Src)
	}
	return s.setTemp(e, e.Dst, s.temps.View(e.Src))
}

// union sets dst to the union of the operands' sets.
func (s *Session) union(ev Event, dst shadowtemp.TempID, ops ...Operand) error {
	out := taintset.Empty()
	for _, op := range ops {
		if op.Const {
			continue
		}
		taintset.Merge(&out, s.temps.View(op.Temp))
	}
	return s.setTemp(ev, dst, out)
}

func (s *Session) load(e Load) error {
	return s.setTemp(e, e.Dst, s.memoryUnion(e.Addr, e.Size))
}

func (s *Session) store(e Store) error {
	if e.Src.Const {
		s.stats.Propagated++
		return nil
	}
	src := s.temps.View(e.Src.Temp)
	for i := 0; i < e.Size; i++ {
		if err := s.mem.MergeInto(e.Addr+uint64(i), src); err != nil {
			return err
		}
	}
	s.stats.Propagated++
	return nil
}

// syscall self-taints every byte a read-like syscall filled.
func (s *Session) syscall(e SyscallComplete) error {
	r, ok := s.syscalls.Decode(e.Number, e.Args, e.Result)
	if !ok {
		return nil
	}
	s.log.Debugf("%s on thread %d filled %s", syscalls.Name(e.Number), e.Thread, r)
	for a := r.Addr; a != r.End(); a++ {
		if err := s.mem.Set(a, taintset.Origin(a)); err != nil {
			return fmt.Errorf("%s into %s: %w", syscalls.Name(e.Number), r, err)
		}
	}
	s.stats.TaintedBytes += r.Len
	s.stats.Propagated++
	return nil
}

// memoryUnion returns the union of the taint sets of [addr, addr+size).
func (s *Session) memoryUnion(addr uint64, size int) taintset.Set {
	out := taintset.Empty()
	for i := 0; i < size; i++ {
		taintset.Merge(&out, s.mem.View(addr+uint64(i)))
	}
	return out
}

// readRegister unions the sets stored in every slot overlapping the
// register. The result aliases depot storage when a single slot is read.
func (s *Session) readRegister(tid regshadow.ThreadID, offset, size int) taintset.Set {
	first := offset &^ (slotSize - 1)
	end := offset + size
	if end-first <= slotSize {
		return s.lookup(s.regs.Get(tid, first, slotSize))
	}
	out := taintset.Empty()
	for slot := first; slot < end; slot += slotSize {
		taintset.Merge(&out, s.lookup(s.regs.Get(tid, slot, slotSize)))
	}
	return out
}

func (s *Session) lookup(b []byte) taintset.Set {
	h := setdepot.Get(b)
	if h != setdepot.None && !s.depot.Known(h) {
		s.log.Warnf("register shadow holds unknown handle %d", h)
	}
	return s.depot.Lookup(h)
}

// writeRegister stores set's handle into every slot overlapping the register.
func (s *Session) writeRegister(tid regshadow.ThreadID, offset, size int, set taintset.Set) {
	var buf [slotSize]byte
	setdepot.Put(buf[:], s.depot.Intern(set))
	first := offset &^ (slotSize - 1)
	for slot := first; slot < offset+size; slot += slotSize {
		s.regs.Set(tid, slot, slotSize, buf[:])
	}
}

// IsFatal reports whether err aborted a session.
func IsFatal(err error) bool {
	return err != nil && !errors.Is(err, ErrNotStarted) && !errors.Is(err, ErrAlreadyStarted)
}
