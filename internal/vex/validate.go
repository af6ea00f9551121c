package vex

import "fmt"

// SanityError describes a malformed block.
type SanityError struct {
	Block uint64 // block address
	Index int    // statement index, -1 for the block exit
	Msg   string
}

func (e *SanityError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("vex: block 0x%x exit: %s", e.Block, e.Msg)
	}
	return fmt.Sprintf("vex: block 0x%x stmt %d: %s", e.Block, e.Index, e.Msg)
}

// Sanity checks that b is flat and well typed: operation operands are atoms,
// temps are declared, assigned once, and assigned before use.
func Sanity(b *Block) error {
	assigned := make([]bool, len(b.Types))
	fail := func(i int, format string, args ...any) error {
		return &SanityError{Block: b.Addr, Index: i, Msg: fmt.Sprintf(format, args...)}
	}

	var atom func(i int, e Expr) error
	atom = func(i int, e Expr) error {
		switch e := e.(type) {
		case RdTmp:
			if e.Tmp < 0 || int(e.Tmp) >= len(b.Types) {
				return fail(i, "undeclared temp %s", e.Tmp)
			}
			if !assigned[e.Tmp] {
				return fail(i, "%s used before assignment", e.Tmp)
			}
			return nil
		case Const:
			if e.Ty.Size() == 0 {
				return fail(i, "constant without type")
			}
			return nil
		case nil:
			return fail(i, "missing operand")
		default:
			return fail(i, "operand %s is not an atom", e)
		}
	}
	operands := func(i int, op Op, es ...Expr) error {
		if op.Arity() != len(es) {
			return fail(i, "%s takes %d operands, got %d", op, op.Arity(), len(es))
		}
		for _, e := range es {
			if err := atom(i, e); err != nil {
				return err
			}
		}
		return nil
	}

	for i, s := range b.Stmts {
		switch s := s.(type) {
		case IMark, Dirty:
		case WrTmp:
			if s.Tmp < 0 || int(s.Tmp) >= len(b.Types) {
				return fail(i, "undeclared temp %s", s.Tmp)
			}
			if assigned[s.Tmp] {
				return fail(i, "%s assigned twice", s.Tmp)
			}
			var err error
			switch d := s.Data.(type) {
			case RdTmp, Const:
				err = atom(i, d)
			case Get:
				if d.Offset < 0 || d.Ty.Size() == 0 {
					err = fail(i, "bad register read %s", d)
				}
			case Binop:
				err = operands(i, d.Op, d.A, d.B)
			case Unop:
				err = operands(i, d.Op, d.A)
			case Triop:
				err = operands(i, d.Op, d.A, d.B, d.C)
			case Qop:
				err = operands(i, d.Op, d.A, d.B, d.C, d.D)
			case Load:
				err = atom(i, d.Addr)
			default:
				err = fail(i, "unknown expression %T", s.Data)
			}
			if err != nil {
				return err
			}
			assigned[s.Tmp] = true
		case Put:
			if s.Offset < 0 {
				return fail(i, "negative register offset")
			}
			if err := atom(i, s.Data); err != nil {
				return err
			}
		case Store:
			if err := atom(i, s.Addr); err != nil {
				return err
			}
			if err := atom(i, s.Data); err != nil {
				return err
			}
		case Exit:
			if err := atom(i, s.Guard); err != nil {
				return err
			}
		default:
			return fail(i, "unknown statement %T", s)
		}
	}
	if b.Next == nil {
		return fail(-1, "no next address")
	}
	return atom(-1, b.Next)
}
