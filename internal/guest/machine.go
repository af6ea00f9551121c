// Package guest runs instrumented guest code.
//
// A Machine owns an amd64 guest state (registers laid out as in
// vex.GuestStateSize), sparse memory and a cache of instrumented blocks.
// Run translates the block at the program counter, instruments it once,
// and interprets it. Every hook statement builds an engine event that is
// handed to the taint session, so the session observes exactly the
// operations the guest performs, in order.
//
// Syscalls are serviced by a handler table (read from an io.Reader, write
// to an io.Writer, exit). After each serviced syscall the session receives
// a SyscallComplete event.
package guest

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/kolkov/ddetector/internal/config"
	"github.com/kolkov/ddetector/internal/instrument"
	"github.com/kolkov/ddetector/internal/syscalls"
	"github.com/kolkov/ddetector/internal/taint/engine"
	"github.com/kolkov/ddetector/internal/taint/regshadow"
	"github.com/kolkov/ddetector/internal/vex"
)

// Translator lifts guest code at addr into a block. code holds the mapped
// bytes starting at addr.
type Translator interface {
	Translate(addr uint64, code []byte) (*vex.Block, error)
}

// EventSink receives the events built by hook statements.
// *engine.Session implements it.
type EventSink interface {
	Handle(ev engine.Event) error
}

// Limits and defaults.
const (
	// MaxBlockBytes is the most code handed to the Translator at once.
	MaxBlockBytes = 256

	// DefaultHaltAddr is the return address that ends Run.
	DefaultHaltAddr = 0
)

var (
	// ErrStepLimit is returned when Run executes more blocks than allowed.
	ErrStepLimit = errors.New("guest: step limit reached")

	// ErrHalted is returned by Run on a machine that already exited.
	ErrHalted = errors.New("guest: machine halted")
)

// Machine interprets instrumented blocks.
//
// Thread Safety: NOT thread-safe. The guest is single threaded.
type Machine struct {
	regs [vex.GuestStateSize]byte
	mem  *Memory

	translate Translator
	instr     *instrument.Instrumenter
	sink      EventSink
	thread    regshadow.ThreadID
	log       *config.LogGroup

	cache map[uint64]*vex.Block
	temps []uint64
	args  []uint64

	stdin          io.Reader
	stdout, stderr io.Writer
	handlers       map[uint64]SyscallHandler

	haltAddr uint64
	maxSteps uint64
	steps    uint64

	exited   bool
	exitCode int
}

// Option configures a Machine.
type Option func(*Machine)

// WithSink sends hook events to s, typically an *engine.Session.
func WithSink(s EventSink) Option {
	return func(m *Machine) { m.sink = s }
}

// WithInstrumenter sets the instrumenter applied to every translated block.
func WithInstrumenter(in *instrument.Instrumenter) Option {
	return func(m *Machine) { m.instr = in }
}

// WithThread sets the thread id reported in events.
func WithThread(tid regshadow.ThreadID) Option {
	return func(m *Machine) { m.thread = tid }
}

// WithStdio sets the streams behind file descriptors 0, 1 and 2.
func WithStdio(stdin io.Reader, stdout, stderr io.Writer) Option {
	return func(m *Machine) {
		m.stdin, m.stdout, m.stderr = stdin, stdout, stderr
	}
}

// WithSyscall installs or replaces the handler of syscall number n.
func WithSyscall(n uint64, h SyscallHandler) Option {
	return func(m *Machine) { m.handlers[n] = h }
}

// WithStepLimit bounds the number of executed blocks. Zero means no limit.
func WithStepLimit(n uint64) Option {
	return func(m *Machine) { m.maxSteps = n }
}

// WithHaltAddr sets the address whose execution ends Run.
func WithHaltAddr(addr uint64) Option {
	return func(m *Machine) { m.haltAddr = addr }
}

// WithLogger sets the logger.
func WithLogger(l *config.LogGroup) Option {
	return func(m *Machine) { m.log = l }
}

// New creates a Machine over mem that translates code with t.
func New(mem *Memory, t Translator, opts ...Option) *Machine {
	m := &Machine{
		mem:       mem,
		translate: t,
		thread:    1,
		log:       config.Discard(),
		cache:     make(map[uint64]*vex.Block),
		stdin:     eofReader{},
		stdout:    io.Discard,
		stderr:    io.Discard,
		handlers:  defaultHandlers(),
		haltAddr:  DefaultHaltAddr,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.instr == nil {
		m.instr = instrument.New(instrument.WithLogger(m.log))
	}
	return m
}

// Memory returns the guest memory.
func (m *Machine) Memory() *Memory { return m.mem }

// Thread returns the guest thread id.
func (m *Machine) Thread() regshadow.ThreadID { return m.thread }

// Reg returns the low size bytes of the guest state at offset.
func (m *Machine) Reg(offset, size int) uint64 {
	var buf [8]byte
	copy(buf[:], m.regs[offset:offset+min(size, 8)])
	return binary.LittleEndian.Uint64(buf[:])
}

// SetReg writes the low size bytes of v at offset. Other bytes are kept.
func (m *Machine) SetReg(offset, size int, v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	copy(m.regs[offset:offset+min(size, 8)], buf[:])
}

// PC returns the program counter.
func (m *Machine) PC() uint64 { return m.Reg(vex.OffsetRIP, 8) }

// SetPC sets the program counter.
func (m *Machine) SetPC(pc uint64) { m.SetReg(vex.OffsetRIP, 8, pc) }

// Push pushes a 64-bit value on the guest stack.
func (m *Machine) Push(v uint64) error {
	sp := m.Reg(vex.OffsetRSP, 8) - 8
	if err := m.mem.WriteUint(sp, 8, v); err != nil {
		return err
	}
	m.SetReg(vex.OffsetRSP, 8, sp)
	return nil
}

// SetupStack maps size bytes below top, points rsp at top and pushes the
// halt address so that a final ret ends Run.
func (m *Machine) SetupStack(top, size uint64) error {
	m.mem.Map(top-size, size)
	m.SetReg(vex.OffsetRSP, 8, top)
	return m.Push(m.haltAddr)
}

// Exited reports whether the guest terminated, and its exit status.
func (m *Machine) Exited() (code int, ok bool) { return m.exitCode, m.exited }

// Steps returns the number of executed blocks.
func (m *Machine) Steps() uint64 { return m.steps }

// InstrumentStats returns the instrumentation statistics of all translated
// blocks.
func (m *Machine) InstrumentStats() instrument.Stats { return m.instr.Stats() }

// Run executes from the current program counter until the guest exits,
// returns to the halt address, faults, or ctx is done.
//
// A guest that returns to the halt address, or ends a block with
// vex.JumpExit, exits with the low 32 bits of rax as its status.
func (m *Machine) Run(ctx context.Context) error {
	if m.exited {
		return ErrHalted
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		pc := m.PC()
		if pc == m.haltAddr {
			m.exit(int(int32(m.Reg(vex.OffsetRAX, 4))))
			return nil
		}
		if m.maxSteps > 0 && m.steps >= m.maxSteps {
			return fmt.Errorf("%w (%d blocks)", ErrStepLimit, m.steps)
		}
		m.steps++

		b, err := m.block(pc)
		if err != nil {
			return err
		}
		next, jump, err := m.exec(b)
		if err != nil {
			return err
		}
		m.SetPC(next)

		switch jump {
		case vex.JumpSyscall:
			if err := m.syscall(); err != nil {
				return err
			}
		case vex.JumpExit:
			m.exit(int(int32(m.Reg(vex.OffsetRAX, 4))))
		}
		if m.exited {
			m.log.Debugf("guest exited with status %d after %d blocks", m.exitCode, m.steps)
			return nil
		}
	}
}

// block returns the instrumented block at pc, translating it on first use.
func (m *Machine) block(pc uint64) (*vex.Block, error) {
	if b, ok := m.cache[pc]; ok {
		return b, nil
	}
	code := m.mem.Fetch(pc, MaxBlockBytes)
	if len(code) == 0 {
		return nil, &FaultError{Addr: pc, Size: 1}
	}
	raw, err := m.translate.Translate(pc, code)
	if err != nil {
		return nil, fmt.Errorf("translate 0x%x: %w", pc, err)
	}
	b, err := m.instr.Instrument(raw)
	if err != nil {
		return nil, err
	}
	m.log.Tracef("translated block 0x%x:\n%s", pc, b)
	m.cache[pc] = b
	return b, nil
}

// exec interprets b and returns where control goes next.
func (m *Machine) exec(b *vex.Block) (next uint64, jump vex.JumpKind, err error) {
	if cap(m.temps) < len(b.Types) {
		m.temps = make([]uint64, len(b.Types))
	}
	temps := m.temps[:len(b.Types)]
	atom := func(e vex.Expr) uint64 {
		switch e := e.(type) {
		case vex.RdTmp:
			return temps[e.Tmp]
		case vex.Const:
			return e.Value & e.Ty.Mask()
		}
		return 0
	}

	for _, s := range b.Stmts {
		switch s := s.(type) {
		case vex.IMark:
			m.SetPC(s.Addr)

		case vex.WrTmp:
			v, err := m.eval(s.Data, atom)
			if err != nil {
				return 0, 0, fmt.Errorf("guest: 0x%x: %w", m.PC(), err)
			}
			temps[s.Tmp] = v & b.Types[s.Tmp].Mask()

		case vex.Put:
			m.SetReg(s.Offset, b.TypeOf(s.Data).Size(), atom(s.Data))

		case vex.Store:
			if err := m.mem.WriteUint(atom(s.Addr), b.TypeOf(s.Data).Size(), atom(s.Data)); err != nil {
				return 0, 0, err
			}

		case vex.Exit:
			if atom(s.Guard) != 0 {
				return s.Dst, s.Kind, nil
			}

		case vex.Dirty:
			h, ok := instrument.HookOf(s)
			if !ok || m.sink == nil {
				continue
			}
			m.args = m.args[:0]
			for _, a := range s.Args {
				m.args = append(m.args, atom(a))
			}
			ev := h.Event(instrument.Context{Thread: m.thread, Args: m.args})
			if err := m.sink.Handle(ev); err != nil {
				return 0, 0, fmt.Errorf("guest: 0x%x: %w", m.PC(), err)
			}
		}
	}
	return atom(b.Next), b.Jump, nil
}

func (m *Machine) eval(e vex.Expr, atom func(vex.Expr) uint64) (uint64, error) {
	switch e := e.(type) {
	case vex.RdTmp, vex.Const:
		return atom(e), nil
	case vex.Get:
		return m.Reg(e.Offset, e.Ty.Size()), nil
	case vex.Binop:
		return vex.EvalBinop(e.Op, e.Ty, atom(e.A), atom(e.B))
	case vex.Unop:
		return vex.EvalUnop(e.Op, e.Ty, e.From, atom(e.A))
	case vex.Triop:
		return vex.EvalTriop(e.Op, e.Ty, atom(e.A), atom(e.B), atom(e.C))
	case vex.Qop:
		return vex.EvalQop(e.Op, e.Ty, atom(e.A), atom(e.B), atom(e.C), atom(e.D))
	case vex.Load:
		return m.mem.ReadUint(atom(e.Addr), e.Ty.Size())
	default:
		return 0, fmt.Errorf("cannot evaluate %T", e)
	}
}

// syscall services the syscall described by the guest registers.
func (m *Machine) syscall() error {
	nr := m.Reg(vex.OffsetRAX, 8)
	var args syscalls.Args
	for i, off := range vex.SyscallArgOffsets {
		args[i] = m.Reg(off, 8)
	}

	h, ok := m.handlers[nr]
	if !ok {
		m.log.Debugf("unsupported syscall %s", syscalls.Name(nr))
		h = sysNosys
	}
	res, err := h(m, args)
	if err != nil {
		return fmt.Errorf("guest: %s: %w", syscalls.Name(nr), err)
	}
	if m.exited {
		return nil
	}
	m.SetReg(vex.OffsetRAX, 8, uint64(res))
	m.log.Tracef("%s(%#x, %#x, %#x) = %d", syscalls.Name(nr), args[0], args[1], args[2], res)

	if m.sink == nil {
		return nil
	}
	return m.sink.Handle(engine.SyscallComplete{Thread: m.thread, Number: nr, Args: args, Result: res})
}

func (m *Machine) exit(code int) {
	m.exited = true
	m.exitCode = code
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }
