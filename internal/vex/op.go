package vex

import (
	"errors"
	"fmt"
	"math/bits"
)

// Op is an operation code. Width comes from the enclosing expression's Ty.
type Op uint8

const (
	OpInvalid Op = iota

	// Binary.
	OpAdd
	OpSub
	OpMul
	OpDivU
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
	OpSar
	OpCmpEQ
	OpCmpNE
	OpCmpLTU
	OpCmpLTS

	// Unary.
	OpNot
	OpNeg
	OpZExt // zero-extend or truncate from From to Ty
	OpSExt // sign-extend from From to Ty
	OpPopcnt

	// Ternary.
	OpITE    // A != 0 ? B : C
	OpAddMod // (A + B) mod C, C == 0 yields A + B

	// Quaternary.
	OpMulAdd // A * B + C, D is a rounding mode and is ignored

	numOps
)

var opNames = [numOps]string{
	OpInvalid: "Invalid",
	OpAdd:     "Add",
	OpSub:     "Sub",
	OpMul:     "Mul",
	OpDivU:    "DivU",
	OpAnd:     "And",
	OpOr:      "Or",
	OpXor:     "Xor",
	OpShl:     "Shl",
	OpShr:     "Shr",
	OpSar:     "Sar",
	OpCmpEQ:   "CmpEQ",
	OpCmpNE:   "CmpNE",
	OpCmpLTU:  "CmpLTU",
	OpCmpLTS:  "CmpLTS",
	OpNot:     "Not",
	OpNeg:     "Neg",
	OpZExt:    "ZExt",
	OpSExt:    "SExt",
	OpPopcnt:  "Popcnt",
	OpITE:     "ITE",
	OpAddMod:  "AddMod",
	OpMulAdd:  "MulAdd",
}

func (o Op) String() string {
	if o < numOps {
		return opNames[o]
	}
	return fmt.Sprintf("Op(%d)", uint8(o))
}

// Arity returns the number of operands o takes, 0 for invalid ops.
func (o Op) Arity() int {
	switch {
	case o >= OpAdd && o <= OpCmpLTS:
		return 2
	case o >= OpNot && o <= OpPopcnt:
		return 1
	case o == OpITE || o == OpAddMod:
		return 3
	case o == OpMulAdd:
		return 4
	default:
		return 0
	}
}

// ErrDivideByZero is returned by EvalBinop for a zero divisor.
var ErrDivideByZero = errors.New("vex: divide by zero")

// signExtend interprets the low bits of v as a signed value of type t.
func signExtend(v uint64, t Ty) int64 {
	b := t.Bits()
	if b >= 64 {
		return int64(v)
	}
	shift := uint(64 - b)
	return int64(v<<shift) >> shift
}

func boolVal(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// EvalBinop computes a binary op at width ty. Comparison results are I1.
func EvalBinop(op Op, ty Ty, a, b uint64) (uint64, error) {
	m := ty.Mask()
	a, b = a&m, b&m
	var r uint64
	switch op {
	case OpAdd:
		r = a + b
	case OpSub:
		r = a - b
	case OpMul:
		r = a * b
	case OpDivU:
		if b == 0 {
			return 0, ErrDivideByZero
		}
		r = a / b
	case OpAnd:
		r = a & b
	case OpOr:
		r = a | b
	case OpXor:
		r = a ^ b
	case OpShl:
		r = a << (b & 63)
	case OpShr:
		r = a >> (b & 63)
	case OpSar:
		r = uint64(signExtend(a, ty) >> (b & 63))
	case OpCmpEQ:
		return boolVal(a == b), nil
	case OpCmpNE:
		return boolVal(a != b), nil
	case OpCmpLTU:
		return boolVal(a < b), nil
	case OpCmpLTS:
		return boolVal(signExtend(a, ty) < signExtend(b, ty)), nil
	default:
		return 0, fmt.Errorf("vex: %s is not a binary op", op)
	}
	return r & m, nil
}

// EvalUnop computes a unary op producing ty from an operand of type from.
func EvalUnop(op Op, ty, from Ty, a uint64) (uint64, error) {
	switch op {
	case OpNot:
		return ^a & ty.Mask(), nil
	case OpNeg:
		return -a & ty.Mask(), nil
	case OpZExt:
		return a & from.Mask() & ty.Mask(), nil
	case OpSExt:
		return uint64(signExtend(a&from.Mask(), from)) & ty.Mask(), nil
	case OpPopcnt:
		return uint64(bits.OnesCount64(a & ty.Mask())), nil
	default:
		return 0, fmt.Errorf("vex: %s is not a unary op", op)
	}
}

// EvalTriop computes a ternary op at width ty.
func EvalTriop(op Op, ty Ty, a, b, c uint64) (uint64, error) {
	m := ty.Mask()
	switch op {
	case OpITE:
		if a != 0 {
			return b & m, nil
		}
		return c & m, nil
	case OpAddMod:
		s := (a + b) & m
		if c&m == 0 {
			return s, nil
		}
		return s % (c & m), nil
	default:
		return 0, fmt.Errorf("vex: %s is not a ternary op", op)
	}
}

// EvalQop computes a quaternary op at width ty.
func EvalQop(op Op, ty Ty, a, b, c, _ uint64) (uint64, error) {
	switch op {
	case OpMulAdd:
		return (a*b + c) & ty.Mask(), nil
	default:
		return 0, fmt.Errorf("vex: %s is not a quaternary op", op)
	}
}
