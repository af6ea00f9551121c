// Package vex is a small flat intermediate representation for translated
// guest code.
//
// A Block is one translated unit: a straight-line list of statements over
// block-local temporaries, ending in a jump to Next. Operands of operations
// are atoms (RdTmp or Const), so each WrTmp computes exactly one operation.
//
//	------ IMark(0x401000, 3) ------
//	t0 = GET:I64(16)
//	t1 = Add64(t0, 0x1)
//	PUT(16) = t1
//	goto {Boring} 0x401003
package vex

import "fmt"

// Ty is a value type.
type Ty uint8

const (
	TyInvalid Ty = iota
	I1
	I8
	I16
	I32
	I64
	I128
)

// Size returns the width in bytes (I1 occupies one byte).
func (t Ty) Size() int {
	switch t {
	case I1, I8:
		return 1
	case I16:
		return 2
	case I32:
		return 4
	case I64:
		return 8
	case I128:
		return 16
	default:
		return 0
	}
}

// Bits returns the width in bits.
func (t Ty) Bits() int {
	if t == I1 {
		return 1
	}
	return t.Size() * 8
}

// Mask returns the value mask of t. I128 values are truncated to 64 bits.
func (t Ty) Mask() uint64 {
	b := t.Bits()
	if b == 0 || b >= 64 {
		return ^uint64(0)
	}
	return 1<<uint(b) - 1
}

func (t Ty) String() string {
	switch t {
	case I1:
		return "I1"
	case I8:
		return "I8"
	case I16:
		return "I16"
	case I32:
		return "I32"
	case I64:
		return "I64"
	case I128:
		return "I128"
	default:
		return fmt.Sprintf("Ty(%d)", uint8(t))
	}
}

// Temp is a block-local temporary index.
type Temp int32

// NoTemp marks a missing temp.
const NoTemp Temp = -1

func (t Temp) String() string {
	if t < 0 {
		return "t<none>"
	}
	return fmt.Sprintf("t%d", int32(t))
}

// JumpKind classifies a block exit.
type JumpKind uint8

const (
	JumpBoring JumpKind = iota
	JumpCall
	JumpRet
	JumpSyscall
	JumpExit // guest terminated
)

func (k JumpKind) String() string {
	switch k {
	case JumpBoring:
		return "Boring"
	case JumpCall:
		return "Call"
	case JumpRet:
		return "Ret"
	case JumpSyscall:
		return "Syscall"
	case JumpExit:
		return "Exit"
	default:
		return fmt.Sprintf("JumpKind(%d)", uint8(k))
	}
}
