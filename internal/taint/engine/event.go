package engine

import (
	"fmt"

	"github.com/kolkov/ddetector/internal/syscalls"
	"github.com/kolkov/ddetector/internal/taint/regshadow"
	"github.com/kolkov/ddetector/internal/taint/shadowtemp"
)

// Kind enumerates event kinds.
type Kind uint8

const (
	KindRegRead Kind = iota
	KindRegWrite
	KindMove
	KindBinOp
	KindUnOp
	KindTriOp
	KindQuadOp
	KindLoad
	KindStore
	KindInstrBoundary
	KindFunctionEntry
	KindSyscallComplete

	numKinds
)

var kindNames = [numKinds]string{
	KindRegRead:         "reg-read",
	KindRegWrite:        "reg-write",
	KindMove:            "move",
	KindBinOp:           "binop",
	KindUnOp:            "unop",
	KindTriOp:           "triop",
	KindQuadOp:          "quadop",
	KindLoad:            "load",
	KindStore:           "store",
	KindInstrBoundary:   "instr",
	KindFunctionEntry:   "func-entry",
	KindSyscallComplete: "syscall",
}

func (k Kind) String() string {
	if k < numKinds {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// ParseKind returns the kind named s.
func ParseKind(s string) (Kind, bool) {
	for k, name := range kindNames {
		if name == s {
			return Kind(k), true
		}
	}
	return 0, false
}

// Event is one instrumentation event. The set of implementations is closed.
type Event interface {
	Kind() Kind
	isEvent()
}

// Operand is an operation input: either a temp or a literal constant.
type Operand struct {
	Temp  shadowtemp.TempID
	Const bool
	Value uint64 // valid when Const
}

// Tmp returns a temp operand.
func Tmp(t shadowtemp.TempID) Operand { return Operand{Temp: t} }

// Const returns a constant operand.
func Const(v uint64) Operand { return Operand{Temp: shadowtemp.Invalid, Const: true, Value: v} }

func (o Operand) String() string {
	if o.Const {
		return fmt.Sprintf("0x%x", o.Value)
	}
	return o.Temp.String()
}

// RegRead materializes a guest register into a temp.
type RegRead struct {
	Thread regshadow.ThreadID
	Offset int // guest state offset of the register
	Size   int // register width in bytes
	Dst    shadowtemp.TempID
}

// RegWrite stores an operand into a guest register.
type RegWrite struct {
	Thread regshadow.ThreadID
	Offset int
	Size   int
	Src    Operand
}

// Move is an identity temp-to-temp copy.
type Move struct {
	Dst shadowtemp.TempID
	Src shadowtemp.TempID
}

// BinOp is a two-operand arithmetic or logic operation.
type BinOp struct {
	Dst  shadowtemp.TempID
	Op   string
	A, B Operand
}

// UnOp is a one-operand operation.
type UnOp struct {
	Dst shadowtemp.TempID
	Op  string
	A   Operand
}

// TriOp is a three-operand operation.
type TriOp struct {
	Dst     shadowtemp.TempID
	Op      string
	A, B, C Operand
}

// QuadOp is a four-operand (fused) operation.
type QuadOp struct {
	Dst        shadowtemp.TempID
	Op         string
	A, B, C, D Operand
}

// Load reads Size bytes of guest memory at Addr into a temp.
type Load struct {
	Dst  shadowtemp.TempID
	Addr uint64
	Size int
}

// Store writes an operand to Size bytes of guest memory at Addr.
type Store struct {
	Addr uint64
	Size int
	Src  Operand
}

// InstrBoundary marks the start of the guest instruction at Addr.
type InstrBoundary struct {
	Addr uint64
}

// FunctionEntry reports control reaching the entry point of a named function.
type FunctionEntry struct {
	Name string
}

// SyscallComplete reports a finished guest syscall.
type SyscallComplete struct {
	Thread regshadow.ThreadID
	Number uint64
	Args   syscalls.Args
	Result int64
}

func (RegRead) Kind() Kind         { return KindRegRead }
func (RegWrite) Kind() Kind        { return KindRegWrite }
func (Move) Kind() Kind            { return KindMove }
func (BinOp) Kind() Kind           { return KindBinOp }
func (UnOp) Kind() Kind            { return KindUnOp }
func (TriOp) Kind() Kind           { return KindTriOp }
func (QuadOp) Kind() Kind          { return KindQuadOp }
func (Load) Kind() Kind            { return KindLoad }
func (Store) Kind() Kind           { return KindStore }
func (InstrBoundary) Kind() Kind   { return KindInstrBoundary }
func (FunctionEntry) Kind() Kind   { return KindFunctionEntry }
func (SyscallComplete) Kind() Kind { return KindSyscallComplete }

func (RegRead) isEvent()         {}
func (RegWrite) isEvent()        {}
func (Move) isEvent()            {}
func (BinOp) isEvent()           {}
func (UnOp) isEvent()            {}
func (TriOp) isEvent()           {}
func (QuadOp) isEvent()          {}
func (Load) isEvent()            {}
func (Store) isEvent()           {}
func (InstrBoundary) isEvent()   {}
func (FunctionEntry) isEvent()   {}
func (SyscallComplete) isEvent() {}
