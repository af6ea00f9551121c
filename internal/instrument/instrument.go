// Package instrument inserts taint engine hooks into translated blocks.
//
// This is the per-unit callback of the binary translation pipeline: each
// freshly lifted vex.Block passes through Instrument before it is executed.
// The instrumenter walks the statements and, after every statement the
// engine models, inserts a Dirty call whose Hook builds the matching event:
//
//	IMark(a)                 -> InstrBoundary{a}
//	t = GET(off)             -> RegRead{off, size, t}
//	t = u                    -> Move{t, u}
//	t = Binop(a, b)          -> BinOp{t, a, b}
//	t = Unop/Triop/Qop(...)  -> UnOp/TriOp/QuadOp
//	t = LD(addr)             -> Load{t, addr, size}
//	PUT(off) = a             -> RegWrite{off, size, a}
//	ST(addr) = a             -> Store{addr, size, a}
//
// Hooks for the unpropagated kinds are inserted too; the engine decides
// whether they propagate. Constant assignments (t = 0x1) are not
// instrumented.
//
// Example Transformation:
//
//	// INPUT:
//	------ IMark(0x401000, 3) ------
//	t0 = GET:I64(16)
//	t1 = Add64(t0, 0x1)
//	PUT(16) = t1
//
//	// OUTPUT:
//	------ IMark(0x401000, 3) ------
//	DIRTY ddetector_hook()           // InstrBoundary
//	t0 = GET:I64(16)
//	DIRTY ddetector_hook()           // RegRead
//	t1 = Add64(t0, 0x1)
//	DIRTY ddetector_hook()           // BinOp
//	PUT(16) = t1
//	DIRTY ddetector_hook()           // RegWrite
//
// Thread Safety: An Instrumenter is NOT thread-safe.
package instrument

import (
	"fmt"

	"github.com/kolkov/ddetector/internal/config"
	"github.com/kolkov/ddetector/internal/symbols"
	"github.com/kolkov/ddetector/internal/taint/engine"
	"github.com/kolkov/ddetector/internal/taint/shadowtemp"
	"github.com/kolkov/ddetector/internal/vex"
)

// Stats tracks instrumentation statistics.
//
//	Instrumented 12 blocks:
//	  - 40 boundaries (31 elided)
//	  - 25 register reads, 18 register writes
//	  - 9 moves, 22 binary ops, 3 unpropagated ops
//	  - 6 loads, 4 stores
//	  - 2 constant assignments skipped
type Stats struct {
	Blocks           int
	Boundaries       int // InstrBoundary hooks inserted
	BoundariesElided int // IMarks skipped by the boundary filter
	RegReads         int
	RegWrites        int
	Moves            int
	BinOps           int
	OtherOps         int // unary, ternary and quaternary ops
	Loads            int
	Stores           int
	ConstsSkipped    int
}

// Total returns the number of hooks inserted.
func (s *Stats) Total() int {
	return s.Boundaries + s.RegReads + s.RegWrites + s.Moves + s.BinOps + s.OtherOps + s.Loads + s.Stores
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.Blocks += o.Blocks
	s.Boundaries += o.Boundaries
	s.BoundariesElided += o.BoundariesElided
	s.RegReads += o.RegReads
	s.RegWrites += o.RegWrites
	s.Moves += o.Moves
	s.BinOps += o.BinOps
	s.OtherOps += o.OtherOps
	s.Loads += o.Loads
	s.Stores += o.Stores
	s.ConstsSkipped += o.ConstsSkipped
}

// Instrumenter is the per-unit instrumentation callback.
type Instrumenter struct {
	// filter, when set, limits boundary hooks to function entry points.
	filter   symbols.Resolver
	maxTemps int
	log      *config.LogGroup
	stats    Stats
}

// Option configures an Instrumenter.
type Option func(*Instrumenter)

// WithBoundaryFilter inserts InstrBoundary hooks only at addresses r
// resolves to a function. The window can only change at such addresses, so
// the engine sees the same transitions with far fewer events.
func WithBoundaryFilter(r symbols.Resolver) Option {
	return func(in *Instrumenter) { in.filter = r }
}

// WithMaxTemps rejects blocks using more temps than the shadow temp table
// holds.
func WithMaxTemps(n int) Option {
	return func(in *Instrumenter) { in.maxTemps = n }
}

// WithLogger sets the logger.
func WithLogger(l *config.LogGroup) Option {
	return func(in *Instrumenter) { in.log = l }
}

// New creates an Instrumenter.
func New(opts ...Option) *Instrumenter {
	in := &Instrumenter{maxTemps: shadowtemp.DefaultMaxTemps, log: config.Discard()}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Stats returns the statistics accumulated over all blocks.
func (in *Instrumenter) Stats() Stats { return in.stats }

// Instrument returns an instrumented copy of b. b itself is not modified.
//
// Returns *InstrumentationError if b is malformed or uses more temps than
// the shadow temp table holds.
func (in *Instrumenter) Instrument(b *vex.Block) (*vex.Block, error) {
	if err := vex.Sanity(b); err != nil {
		ie := NewInstrumentationError(b.Addr, 0, -1, "malformed block")
		ie.Err = err
		return nil, ie
	}
	if len(b.Types) > in.maxTemps {
		return nil, NewInstrumentationErrorWithSuggestion(b.Addr, 0, -1,
			fmt.Sprintf("block uses %d temps, shadow table holds %d", len(b.Types), in.maxTemps),
			"raise max-temps in the configuration")
	}

	out := &vex.Block{
		Addr:  b.Addr,
		Next:  b.Next,
		Jump:  b.Jump,
		Types: append([]vex.Ty(nil), b.Types...),
		Stmts: make([]vex.Stmt, 0, 2*len(b.Stmts)),
	}
	var st Stats
	st.Blocks = 1
	var insn uint64

	for i, s := range b.Stmts {
		out.Add(s)
		hook, err := in.hookFor(b, s, &st)
		if err != nil {
			ie := NewInstrumentationError(b.Addr, insn, i, err.Error())
			ie.Err = err
			return nil, ie
		}
		if m, ok := s.(vex.IMark); ok {
			insn = m.Addr
		}
		if hook != nil {
			out.Add(*hook)
		}
	}

	in.stats.Add(st)
	in.log.Tracef("instrumented block 0x%x: %d stmts, %d hooks", b.Addr, len(b.Stmts), st.Total())
	return out, nil
}

// hookFor returns the hook statement to insert after s, or nil.
func (in *Instrumenter) hookFor(b *vex.Block, s vex.Stmt, st *Stats) (*vex.Dirty, error) {
	var d vex.Dirty
	switch s := s.(type) {
	case vex.IMark:
		if in.filter != nil {
			if _, ok := in.filter.FunctionAt(s.Addr); !ok {
				st.BoundariesElided++
				return nil, nil
			}
		}
		st.Boundaries++
		d = dirty(fixedHook{engine.InstrBoundary{Addr: s.Addr}})

	case vex.WrTmp:
		dst := shadowtemp.TempID(s.Tmp)
		switch e := s.Data.(type) {
		case vex.Get:
			st.RegReads++
			d = dirty(regReadHook{offset: e.Offset, size: e.Ty.Size(), dst: dst})
		case vex.RdTmp:
			st.Moves++
			d = dirty(fixedHook{engine.Move{Dst: dst, Src: shadowtemp.TempID(e.Tmp)}})
		case vex.Const:
			st.ConstsSkipped++
			return nil, nil
		case vex.Binop:
			st.BinOps++
			d = dirty(fixedHook{engine.BinOp{Dst: dst, Op: opName(e.Op, e.Ty), A: operand(e.A), B: operand(e.B)}})
		case vex.Unop:
			st.OtherOps++
			d = dirty(fixedHook{engine.UnOp{Dst: dst, Op: opName(e.Op, e.Ty), A: operand(e.A)}})
		case vex.Triop:
			st.OtherOps++
			d = dirty(fixedHook{engine.TriOp{Dst: dst, Op: opName(e.Op, e.Ty),
				A: operand(e.A), B: operand(e.B), C: operand(e.C)}})
		case vex.Qop:
			st.OtherOps++
			d = dirty(fixedHook{engine.QuadOp{Dst: dst, Op: opName(e.Op, e.Ty),
				A: operand(e.A), B: operand(e.B), C: operand(e.C), D: operand(e.D)}})
		case vex.Load:
			st.Loads++
			d = dirty(loadHook{dst: dst, size: e.Ty.Size()}, e.Addr)
		default:
			return nil, fmt.Errorf("cannot instrument expression %T", s.Data)
		}

	case vex.Put:
		st.RegWrites++
		d = dirty(regWriteHook{offset: s.Offset, size: b.TypeOf(s.Data).Size(), src: operand(s.Data)})

	case vex.Store:
		st.Stores++
		d = dirty(storeHook{size: b.TypeOf(s.Data).Size(), src: operand(s.Data)}, s.Addr)

	case vex.Exit, vex.Dirty:
		return nil, nil

	default:
		return nil, fmt.Errorf("cannot instrument statement %T", s)
	}
	return &d, nil
}

func opName(op vex.Op, ty vex.Ty) string {
	return fmt.Sprintf("%s%d", op, ty.Bits())
}
