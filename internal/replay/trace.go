// Package replay feeds recorded event traces through a taint session.
//
// A trace is a YAML document holding optional session overrides, initial
// taint seeds, a list of engine events and optional expectations:
//
//	entry-symbol: main
//	extensions: {loads: true}
//	seed:
//	  memory:
//	    - {addr: 0x1000, size: 4}          # each byte is its own origin
//	  registers:
//	    - {reg: rdi, origins: [0x10]}
//	events:
//	  - {kind: func-entry, name: main}
//	  - {kind: load, dst: 0, addr: 0x1000, size: 4}
//	  - {kind: binop, op: Add64, dst: 1, a: t0, b: 0x1}
//	  - {kind: store, addr: 0x2000, size: 4, src: t1}
//	expect:
//	  memory:
//	    - {addr: 0x2000, size: 4, origins: [0x1000, 0x1001, 0x1002, 0x1003]}
//
// Operands are "tN" for temps and integer literals for constants.
// Registers are named ("rax") or given as guest state offsets.
package replay

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kolkov/ddetector/internal/config"
	"github.com/kolkov/ddetector/internal/syscalls"
	"github.com/kolkov/ddetector/internal/taint/engine"
	"github.com/kolkov/ddetector/internal/taint/regshadow"
	"github.com/kolkov/ddetector/internal/taint/shadowtemp"
	"github.com/kolkov/ddetector/internal/vex"
)

// Trace is a parsed event trace.
type Trace struct {
	Name        string             `yaml:"name"`
	EntrySymbol string             `yaml:"entry-symbol"`
	ExitSymbol  string             `yaml:"exit-symbol"`
	Extensions  *config.Extensions `yaml:"extensions"`
	Seed        Seed               `yaml:"seed"`
	Expect      Expect             `yaml:"expect"`

	RawEvents []RawEvent `yaml:"events"`

	// Events holds RawEvents converted by Parse.
	Events []engine.Event `yaml:"-"`
}

// Seed is taint installed before the first event.
type Seed struct {
	Memory    []MemorySeed   `yaml:"memory"`
	Registers []RegisterSeed `yaml:"registers"`
}

// MemorySeed taints [Addr, Addr+Size). Without Origin every byte becomes
// its own origin.
type MemorySeed struct {
	Addr   uint64  `yaml:"addr"`
	Size   int     `yaml:"size"`
	Origin *uint64 `yaml:"origin"`
}

// RegisterSeed sets the taint of one register.
type RegisterSeed struct {
	Thread  regshadow.ThreadID `yaml:"thread"`
	Reg     Register           `yaml:"reg"`
	Size    int                `yaml:"size"`
	Origins []uint64           `yaml:"origins"`
}

// Expect lists taint the trace should leave behind.
type Expect struct {
	Memory    []MemoryExpect   `yaml:"memory"`
	Registers []RegisterExpect `yaml:"registers"`
	Temps     []TempExpect     `yaml:"temps"`
}

// MemoryExpect requires every byte of [Addr, Addr+Size) to hold Origins.
type MemoryExpect struct {
	Addr    uint64   `yaml:"addr"`
	Size    int      `yaml:"size"`
	Origins []uint64 `yaml:"origins"`
}

// RegisterExpect requires a register to hold Origins.
type RegisterExpect struct {
	Thread  regshadow.ThreadID `yaml:"thread"`
	Reg     Register           `yaml:"reg"`
	Size    int                `yaml:"size"`
	Origins []uint64           `yaml:"origins"`
}

// TempExpect requires a temp to hold Origins.
type TempExpect struct {
	Temp    shadowtemp.TempID `yaml:"temp"`
	Origins []uint64          `yaml:"origins"`
}

// RawEvent is the YAML form of one engine event. Which fields apply
// depends on Kind.
type RawEvent struct {
	Kind   string             `yaml:"kind"`
	Thread regshadow.ThreadID `yaml:"thread"`
	Dst    *shadowtemp.TempID `yaml:"dst"`
	Src    *Operand           `yaml:"src"`
	Op     string             `yaml:"op"`
	A      *Operand           `yaml:"a"`
	B      *Operand           `yaml:"b"`
	C      *Operand           `yaml:"c"`
	D      *Operand           `yaml:"d"`
	Reg    *Register          `yaml:"reg"`
	Addr   uint64             `yaml:"addr"`
	Size   int                `yaml:"size"`
	Name   string             `yaml:"name"`
	Number *uint64            `yaml:"number"`
	Args   []uint64           `yaml:"args"`
	Result int64              `yaml:"result"`
}

// Operand is an event operand: a temp or a constant.
type Operand struct {
	engine.Operand
}

// UnmarshalYAML parses "tN" or an integer literal.
func (o *Operand) UnmarshalYAML(n *yaml.Node) error {
	op, err := ParseOperand(n.Value)
	if err != nil {
		return err
	}
	o.Operand = op
	return nil
}

// ParseOperand parses "tN" as a temp and anything else as an integer
// constant in Go literal syntax.
func ParseOperand(s string) (engine.Operand, error) {
	if t, ok := strings.CutPrefix(s, "t"); ok {
		id, err := strconv.ParseInt(t, 10, 32)
		if err != nil || id < 0 {
			return engine.Operand{}, fmt.Errorf("bad temp %q", s)
		}
		return engine.Tmp(shadowtemp.TempID(id)), nil
	}
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		iv, ierr := strconv.ParseInt(s, 0, 64)
		if ierr != nil {
			return engine.Operand{}, fmt.Errorf("bad operand %q", s)
		}
		v = uint64(iv)
	}
	return engine.Const(v), nil
}

// Register is a guest state offset given by name or number.
type Register int

// UnmarshalYAML parses a register name or offset.
func (r *Register) UnmarshalYAML(n *yaml.Node) error {
	off, err := ParseRegister(n.Value)
	if err != nil {
		return err
	}
	*r = Register(off)
	return nil
}

// ParseRegister returns the guest state offset of a named register, or
// parses s as a decimal offset.
func ParseRegister(s string) (int, error) {
	if off, ok := vex.LookupRegister(strings.ToLower(s)); ok {
		return off, nil
	}
	off, err := strconv.Atoi(s)
	if err != nil || off < 0 {
		return 0, fmt.Errorf("unknown register %q", s)
	}
	return off, nil
}

// ErrNoEvents is returned by Parse for a trace without events.
var ErrNoEvents = errors.New("replay: trace has no events")

// Load reads and parses a trace file.
func Load(filename string) (*Trace, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}
	t, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return t, nil
}

// Parse decodes a trace and converts its events. Unknown fields are
// rejected.
func Parse(b []byte) (*Trace, error) {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	var t Trace
	if err := dec.Decode(&t); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNoEvents
		}
		return nil, fmt.Errorf("replay: %w", err)
	}
	if len(t.RawEvents) == 0 {
		return nil, ErrNoEvents
	}
	t.Events = make([]engine.Event, 0, len(t.RawEvents))
	for i, raw := range t.RawEvents {
		ev, err := raw.Event()
		if err != nil {
			return nil, fmt.Errorf("replay: event %d (%s): %w", i, raw.Kind, err)
		}
		t.Events = append(t.Events, ev)
	}
	return &t, nil
}

// Event converts r to an engine event.
func (r RawEvent) Event() (engine.Event, error) {
	k, ok := engine.ParseKind(r.Kind)
	if !ok {
		return nil, fmt.Errorf("unknown kind %q", r.Kind)
	}
	size := r.Size
	if size == 0 {
		size = 8
	}

	switch k {
	case engine.KindRegRead:
		dst, reg, err := r.dstReg()
		if err != nil {
			return nil, err
		}
		return engine.RegRead{Thread: r.thread(), Offset: reg, Size: size, Dst: dst}, nil
	case engine.KindRegWrite:
		if r.Reg == nil {
			return nil, errors.New("reg-write needs reg")
		}
		src, err := r.operand("src", r.Src)
		if err != nil {
			return nil, err
		}
		return engine.RegWrite{Thread: r.thread(), Offset: int(*r.Reg), Size: size, Src: src}, nil
	case engine.KindMove:
		dst, err := r.dst()
		if err != nil {
			return nil, err
		}
		src, err := r.operand("src", r.Src)
		if err != nil {
			return nil, err
		}
		if src.Const {
			return nil, errors.New("move source must be a temp")
		}
		return engine.Move{Dst: dst, Src: src.Temp}, nil
	case engine.KindBinOp, engine.KindUnOp, engine.KindTriOp, engine.KindQuadOp:
		return r.operation(k)
	case engine.KindLoad:
		dst, err := r.dst()
		if err != nil {
			return nil, err
		}
		return engine.Load{Dst: dst, Addr: r.Addr, Size: size}, nil
	case engine.KindStore:
		src, err := r.operand("src", r.Src)
		if err != nil {
			return nil, err
		}
		return engine.Store{Addr: r.Addr, Size: size, Src: src}, nil
	case engine.KindInstrBoundary:
		return engine.InstrBoundary{Addr: r.Addr}, nil
	case engine.KindFunctionEntry:
		if r.Name == "" {
			return nil, errors.New("func-entry needs name")
		}
		return engine.FunctionEntry{Name: r.Name}, nil
	case engine.KindSyscallComplete:
		if r.Number == nil {
			return nil, errors.New("syscall needs number")
		}
		if len(r.Args) > syscalls.MaxArgs {
			return nil, fmt.Errorf("syscall has %d args, at most %d", len(r.Args), syscalls.MaxArgs)
		}
		ev := engine.SyscallComplete{Thread: r.thread(), Number: *r.Number, Result: r.Result}
		copy(ev.Args[:], r.Args)
		return ev, nil
	}
	return nil, fmt.Errorf("unhandled kind %s", k)
}

func (r RawEvent) operation(k engine.Kind) (engine.Event, error) {
	dst, err := r.dst()
	if err != nil {
		return nil, err
	}
	if r.Op == "" {
		return nil, fmt.Errorf("%s needs op", k)
	}
	a, err := r.operand("a", r.A)
	if err != nil {
		return nil, err
	}
	if k == engine.KindUnOp {
		return engine.UnOp{Dst: dst, Op: r.Op, A: a}, nil
	}
	b, err := r.operand("b", r.B)
	if err != nil {
		return nil, err
	}
	if k == engine.KindBinOp {
		return engine.BinOp{Dst: dst, Op: r.Op, A: a, B: b}, nil
	}
	c, err := r.operand("c", r.C)
	if err != nil {
		return nil, err
	}
	if k == engine.KindTriOp {
		return engine.TriOp{Dst: dst, Op: r.Op, A: a, B: b, C: c}, nil
	}
	d, err := r.operand("d", r.D)
	if err != nil {
		return nil, err
	}
	return engine.QuadOp{Dst: dst, Op: r.Op, A: a, B: b, C: c, D: d}, nil
}

func (r RawEvent) thread() regshadow.ThreadID { return thread(r.Thread) }

func (r RawEvent) dst() (shadowtemp.TempID, error) {
	if r.Dst == nil {
		return shadowtemp.Invalid, fmt.Errorf("%s needs dst", r.Kind)
	}
	return *r.Dst, nil
}

func (r RawEvent) dstReg() (shadowtemp.TempID, int, error) {
	dst, err := r.dst()
	if err != nil {
		return dst, 0, err
	}
	if r.Reg == nil {
		return dst, 0, fmt.Errorf("%s needs reg", r.Kind)
	}
	return dst, int(*r.Reg), nil
}

func (r RawEvent) operand(field string, o *Operand) (engine.Operand, error) {
	if o == nil {
		return engine.Operand{}, fmt.Errorf("%s needs %s", r.Kind, field)
	}
	return o.Operand, nil
}

// Apply copies the trace's window symbols into cfg and enables the
// extensions the trace asks for. Extensions already enabled in cfg stay on.
func (t *Trace) Apply(cfg *config.Config) {
	if t.EntrySymbol != "" {
		cfg.EntrySymbol = t.EntrySymbol
	}
	if t.ExitSymbol != "" {
		cfg.ExitSymbol = t.ExitSymbol
	}
	if x := t.Extensions; x != nil {
		e := &cfg.Extensions
		e.Loads = e.Loads || x.Loads
		e.Stores = e.Stores || x.Stores
		e.Unary = e.Unary || x.Unary
		e.Ternary = e.Ternary || x.Ternary
		e.Quaternary = e.Quaternary || x.Quaternary
	}
}
