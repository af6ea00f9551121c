package vex

import (
	"fmt"
	"strings"
)

// Expr is an IR expression.
type Expr interface {
	fmt.Stringer
	isExpr()
}

// RdTmp reads a temp.
type RdTmp struct {
	Tmp Temp
}

// Const is a literal.
type Const struct {
	Ty    Ty
	Value uint64
}

// Get reads a guest register at a guest state offset.
type Get struct {
	Offset int
	Ty     Ty
}

// Binop applies a binary op to two atoms.
type Binop struct {
	Op   Op
	Ty   Ty
	A, B Expr
}

// Unop applies a unary op. From is the operand type for extensions.
type Unop struct {
	Op   Op
	Ty   Ty
	From Ty
	A    Expr
}

// Triop applies a three-operand op.
type Triop struct {
	Op      Op
	Ty      Ty
	A, B, C Expr
}

// Qop applies a four-operand op.
type Qop struct {
	Op         Op
	Ty         Ty
	A, B, C, D Expr
}

// Load reads Ty from guest memory (little endian).
type Load struct {
	Ty   Ty
	Addr Expr
}

func (RdTmp) isExpr() {}
func (Const) isExpr() {}
func (Get) isExpr()   {}
func (Binop) isExpr() {}
func (Unop) isExpr()  {}
func (Triop) isExpr() {}
func (Qop) isExpr()   {}
func (Load) isExpr()  {}

func (e RdTmp) String() string { return e.Tmp.String() }
func (e Const) String() string { return fmt.Sprintf("0x%x", e.Value) }
func (e Get) String() string   { return fmt.Sprintf("GET:%s(%d)", e.Ty, e.Offset) }
func (e Binop) String() string { return fmt.Sprintf("%s%d(%s, %s)", e.Op, e.Ty.Bits(), e.A, e.B) }
func (e Unop) String() string {
	if e.Op == OpZExt || e.Op == OpSExt {
		return fmt.Sprintf("%s%dto%d(%s)", e.Op, e.From.Bits(), e.Ty.Bits(), e.A)
	}
	return fmt.Sprintf("%s%d(%s)", e.Op, e.Ty.Bits(), e.A)
}
func (e Triop) String() string {
	return fmt.Sprintf("%s%d(%s, %s, %s)", e.Op, e.Ty.Bits(), e.A, e.B, e.C)
}
func (e Qop) String() string {
	return fmt.Sprintf("%s%d(%s, %s, %s, %s)", e.Op, e.Ty.Bits(), e.A, e.B, e.C, e.D)
}
func (e Load) String() string { return fmt.Sprintf("LD:%s(%s)", e.Ty, e.Addr) }

// IsAtom reports whether e is an RdTmp or a Const.
func IsAtom(e Expr) bool {
	switch e.(type) {
	case RdTmp, Const:
		return true
	}
	return false
}

// Stmt is an IR statement.
type Stmt interface {
	fmt.Stringer
	isStmt()
}

// IMark marks the start of the guest instruction at Addr.
type IMark struct {
	Addr uint64
	Len  int
}

// WrTmp assigns an expression to a temp. Each temp is assigned once per block.
type WrTmp struct {
	Tmp  Temp
	Data Expr
}

// Put writes an atom to a guest register.
type Put struct {
	Offset int
	Data   Expr
}

// Store writes an atom to guest memory.
type Store struct {
	Addr Expr
	Data Expr
}

// Exit leaves the block for Dst when Guard is non-zero.
type Exit struct {
	Guard Expr
	Dst   uint64
	Kind  JumpKind
}

// Dirty calls an instrumentation helper. Args are evaluated at run time and
// passed to the helper alongside Data.
type Dirty struct {
	Callee string
	Args   []Expr
	Data   any
}

func (IMark) isStmt() {}
func (WrTmp) isStmt() {}
func (Put) isStmt()   {}
func (Store) isStmt() {}
func (Exit) isStmt()  {}
func (Dirty) isStmt() {}

func (s IMark) String() string { return fmt.Sprintf("------ IMark(0x%x, %d) ------", s.Addr, s.Len) }
func (s WrTmp) String() string { return fmt.Sprintf("%s = %s", s.Tmp, s.Data) }
func (s Put) String() string   { return fmt.Sprintf("PUT(%d) = %s", s.Offset, s.Data) }
func (s Store) String() string { return fmt.Sprintf("ST(%s) = %s", s.Addr, s.Data) }
func (s Exit) String() string {
	return fmt.Sprintf("if (%s) { goto {%s} 0x%x }", s.Guard, s.Kind, s.Dst)
}
func (s Dirty) String() string {
	args := make([]string, len(s.Args))
	for i, a := range s.Args {
		args[i] = a.String()
	}
	return fmt.Sprintf("DIRTY %s(%s)", s.Callee, strings.Join(args, ", "))
}

// Block is one translated unit.
type Block struct {
	Addr  uint64
	Stmts []Stmt
	Next  Expr
	Jump  JumpKind

	// Types holds the type of every temp, indexed by Temp.
	Types []Ty
}

// NewTemp allocates a temp of type ty.
func (b *Block) NewTemp(ty Ty) Temp {
	b.Types = append(b.Types, ty)
	return Temp(len(b.Types) - 1)
}

// TypeOf returns the type of e within b.
func (b *Block) TypeOf(e Expr) Ty {
	switch e := e.(type) {
	case RdTmp:
		if e.Tmp < 0 || int(e.Tmp) >= len(b.Types) {
			return TyInvalid
		}
		return b.Types[e.Tmp]
	case Const:
		return e.Ty
	case Get:
		return e.Ty
	case Binop:
		if e.Op >= OpCmpEQ && e.Op <= OpCmpLTS {
			return I1
		}
		return e.Ty
	case Unop:
		return e.Ty
	case Triop:
		return e.Ty
	case Qop:
		return e.Ty
	case Load:
		return e.Ty
	default:
		return TyInvalid
	}
}

// Add appends statements.
func (b *Block) Add(stmts ...Stmt) {
	b.Stmts = append(b.Stmts, stmts...)
}

// Instructions returns the IMark statements of b.
func (b *Block) Instructions() []IMark {
	var out []IMark
	for _, s := range b.Stmts {
		if m, ok := s.(IMark); ok {
			out = append(out, m)
		}
	}
	return out
}

// Clone returns a copy of b whose statement and type slices are independent.
func (b *Block) Clone() *Block {
	c := *b
	c.Stmts = append([]Stmt(nil), b.Stmts...)
	c.Types = append([]Ty(nil), b.Types...)
	return &c
}

func (b *Block) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "IRSB 0x%x {\n", b.Addr)
	for i, ty := range b.Types {
		fmt.Fprintf(&sb, "   t%d:%s", i, ty)
		if i == len(b.Types)-1 {
			sb.WriteByte('\n')
		}
	}
	for _, s := range b.Stmts {
		fmt.Fprintf(&sb, "   %s\n", s)
	}
	if b.Next != nil {
		fmt.Fprintf(&sb, "   goto {%s} %s\n", b.Jump, b.Next)
	}
	sb.WriteString("}")
	return sb.String()
}
