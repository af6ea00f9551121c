// Package lift translates x86-64 machine code into vex blocks.
//
// Supported: mov, movzx, movsx, movsxd, lea, add, sub, and, or, xor, imul
// (two and three operand forms), shl, shr, sar, neg, not, inc, dec, cmp,
// test, push, pop, leave, call, ret, jmp, jcc, syscall, hlt and nop.
//
// A block ends at the first control transfer, after MaxInsns
// instructions, or where the supplied code runs out.
//
// Flags are modeled lazily: cmp stores its operands in cc_dep1/cc_dep2,
// test stores (a & b, 0), and arithmetic stores (result, 0). Conditional
// jumps compare the two dependencies, so they are exact after cmp and test
// and approximate (zero and sign) after arithmetic. Overflow and carry of
// arithmetic are not modeled.
package lift

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"

	"github.com/kolkov/ddetector/internal/config"
	"github.com/kolkov/ddetector/internal/vex"
)

// DefaultMaxInsns bounds the instructions of one block.
const DefaultMaxInsns = 64

// Lifter translates guest code. It implements guest.Translator.
type Lifter struct {
	maxInsns int
	log      *config.LogGroup
}

// Option configures a Lifter.
type Option func(*Lifter)

// WithMaxInsns bounds the instructions per block.
func WithMaxInsns(n int) Option {
	return func(l *Lifter) { l.maxInsns = n }
}

// WithLogger sets the logger.
func WithLogger(lg *config.LogGroup) Option {
	return func(l *Lifter) { l.log = lg }
}

// New creates a Lifter.
func New(opts ...Option) *Lifter {
	l := &Lifter{maxInsns: DefaultMaxInsns, log: config.Discard()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Translate lifts the block starting at addr. code holds the guest bytes
// at addr.
func (l *Lifter) Translate(addr uint64, code []byte) (*vex.Block, error) {
	b := &builder{blk: &vex.Block{Addr: addr, Jump: vex.JumpBoring}}
	off := 0
	for n := 0; n < l.maxInsns && off < len(code); n++ {
		pc := addr + uint64(off)
		inst, err := x86asm.Decode(code[off:], 64)
		if err != nil {
			if n > 0 {
				// Possibly truncated; the next block starts here.
				break
			}
			return nil, &LiftError{Addr: pc, Msg: "cannot decode", Err: err}
		}
		b.pc, b.next = pc, pc+uint64(inst.Len)
		b.blk.Add(vex.IMark{Addr: pc, Len: inst.Len})

		done, err := b.lift(inst)
		if err != nil {
			return nil, &LiftError{Addr: pc, Inst: x86asm.IntelSyntax(inst, pc, nil), Msg: err.Error(), Err: err}
		}
		l.log.Tracef("0x%x: %s", pc, x86asm.IntelSyntax(inst, pc, nil))
		off += inst.Len
		if done {
			return b.blk, nil
		}
	}
	if off == 0 {
		return nil, &LiftError{Addr: addr, Msg: "no code"}
	}
	b.blk.Next = b.c64(addr + uint64(off))
	return b.blk, nil
}

// builder emits the statements of one block.
type builder struct {
	blk      *vex.Block
	pc, next uint64
}

func (b *builder) c64(v uint64) vex.Const { return vex.Const{Ty: vex.I64, Value: v} }

func (b *builder) tmp(ty vex.Ty, e vex.Expr) vex.RdTmp {
	t := b.blk.NewTemp(ty)
	b.blk.Add(vex.WrTmp{Tmp: t, Data: e})
	return vex.RdTmp{Tmp: t}
}

func (b *builder) binop(op vex.Op, ty vex.Ty, x, y vex.Expr) vex.RdTmp {
	rty := ty
	if op >= vex.OpCmpEQ && op <= vex.OpCmpLTS {
		rty = vex.I1
	}
	return b.tmp(rty, vex.Binop{Op: op, Ty: ty, A: x, B: y})
}

func (b *builder) unop(op vex.Op, ty, from vex.Ty, x vex.Expr) vex.RdTmp {
	return b.tmp(ty, vex.Unop{Op: op, Ty: ty, From: from, A: x})
}

func (b *builder) getReg(off int, ty vex.Ty) vex.RdTmp {
	return b.tmp(ty, vex.Get{Offset: off, Ty: ty})
}

// atom returns e as an atom, spilling it into a temp if needed.
func (b *builder) atom(ty vex.Ty, e vex.Expr) vex.Expr {
	if vex.IsAtom(e) {
		return e
	}
	return b.tmp(ty, e)
}

// addr computes the effective address of m.
func (b *builder) addr(m x86asm.Mem) (vex.Expr, error) {
	if m.Segment != 0 && m.Segment != x86asm.DS && m.Segment != x86asm.SS {
		return nil, fmt.Errorf("%w: segment %s", ErrUnsupported, m.Segment)
	}
	if m.Base == x86asm.RIP {
		return b.c64(b.next + uint64(m.Disp)), nil
	}

	var acc vex.Expr
	add := func(e vex.Expr) {
		if acc == nil {
			acc = e
			return
		}
		acc = b.binop(vex.OpAdd, vex.I64, acc, e)
	}
	if m.Base != 0 {
		loc, ok := locate(m.Base)
		if !ok || loc.ty != vex.I64 {
			return nil, fmt.Errorf("%w: base register %s", ErrUnsupported, m.Base)
		}
		add(b.getReg(loc.offset, vex.I64))
	}
	if m.Index != 0 {
		loc, ok := locate(m.Index)
		if !ok || loc.ty != vex.I64 {
			return nil, fmt.Errorf("%w: index register %s", ErrUnsupported, m.Index)
		}
		idx := vex.Expr(b.getReg(loc.offset, vex.I64))
		if m.Scale > 1 {
			idx = b.binop(vex.OpMul, vex.I64, idx, b.c64(uint64(m.Scale)))
		}
		add(idx)
	}
	if m.Disp != 0 || acc == nil {
		add(b.c64(uint64(m.Disp)))
	}
	return acc, nil
}

// width returns the operand type of arg.
func width(inst x86asm.Inst, arg x86asm.Arg) vex.Ty {
	switch a := arg.(type) {
	case x86asm.Reg:
		if loc, ok := locate(a); ok {
			return loc.ty
		}
	case x86asm.Mem:
		return tyOfBytes(inst.MemBytes)
	}
	return tyOfBytes(inst.DataSize / 8)
}

// read returns the value of arg as an atom of type ty.
func (b *builder) read(inst x86asm.Inst, arg x86asm.Arg, ty vex.Ty) (vex.Expr, error) {
	switch a := arg.(type) {
	case x86asm.Reg:
		loc, ok := locate(a)
		if !ok {
			return nil, fmt.Errorf("%w: register %s", ErrUnsupported, a)
		}
		return b.getReg(loc.offset, loc.ty), nil
	case x86asm.Mem:
		ea, err := b.addr(a)
		if err != nil {
			return nil, err
		}
		return b.tmp(ty, vex.Load{Ty: ty, Addr: ea}), nil
	case x86asm.Imm:
		return vex.Const{Ty: ty, Value: uint64(a) & ty.Mask()}, nil
	case x86asm.Rel:
		return b.c64(b.next + uint64(int64(a))), nil
	}
	return nil, fmt.Errorf("%w: operand %v", ErrUnsupported, arg)
}

// write stores v of type ty into arg.
func (b *builder) write(arg x86asm.Arg, ty vex.Ty, v vex.Expr) error {
	switch a := arg.(type) {
	case x86asm.Reg:
		loc, ok := locate(a)
		if !ok {
			return fmt.Errorf("%w: register %s", ErrUnsupported, a)
		}
		if loc.zext {
			// Clear the upper half first: both halves share one shadow slot.
			b.blk.Add(vex.Put{Offset: loc.offset + 4, Data: vex.Const{Ty: vex.I32}})
		}
		b.blk.Add(vex.Put{Offset: loc.offset, Data: v})
		return nil
	case x86asm.Mem:
		ea, err := b.addr(a)
		if err != nil {
			return err
		}
		b.blk.Add(vex.Store{Addr: b.atom(vex.I64, ea), Data: v})
		return nil
	}
	return fmt.Errorf("%w: destination %v", ErrUnsupported, arg)
}

// flags records the lazy condition code dependencies.
func (b *builder) flags(ty vex.Ty, dep1, dep2 vex.Expr) {
	if ty != vex.I64 {
		dep1 = b.unop(vex.OpSExt, vex.I64, ty, dep1)
		dep2 = b.unop(vex.OpSExt, vex.I64, ty, dep2)
	}
	b.blk.Add(
		vex.Put{Offset: vex.OffsetCCDep1, Data: dep1},
		vex.Put{Offset: vex.OffsetCCDep2, Data: dep2},
	)
}

func (b *builder) push(v vex.Expr) {
	sp := b.binop(vex.OpSub, vex.I64, b.getReg(vex.OffsetRSP, vex.I64), b.c64(8))
	b.blk.Add(
		vex.Store{Addr: sp, Data: v},
		vex.Put{Offset: vex.OffsetRSP, Data: sp},
	)
}

func (b *builder) pop() vex.RdTmp {
	sp := b.getReg(vex.OffsetRSP, vex.I64)
	v := b.tmp(vex.I64, vex.Load{Ty: vex.I64, Addr: sp})
	b.blk.Add(vex.Put{Offset: vex.OffsetRSP, Data: b.binop(vex.OpAdd, vex.I64, sp, b.c64(8))})
	return v
}

func (b *builder) end(next vex.Expr, jump vex.JumpKind) {
	b.blk.Next = next
	b.blk.Jump = jump
}

func sameReg(x, y x86asm.Arg) bool {
	rx, ok := x.(x86asm.Reg)
	return ok && x == y && rx != 0
}

var arith = map[x86asm.Op]vex.Op{
	x86asm.ADD: vex.OpAdd,
	x86asm.SUB: vex.OpSub,
	x86asm.AND: vex.OpAnd,
	x86asm.OR:  vex.OpOr,
	x86asm.XOR: vex.OpXor,
	x86asm.SHL: vex.OpShl,
	x86asm.SHR: vex.OpShr,
	x86asm.SAR: vex.OpSar,
}

// lift emits the statements of inst. It reports whether inst ends the block.
func (b *builder) lift(inst x86asm.Inst) (bool, error) {
	args := inst.Args
	switch inst.Op {
	case x86asm.NOP:
		return false, nil

	case x86asm.MOV:
		ty := width(inst, args[0])
		v, err := b.read(inst, args[1], ty)
		if err != nil {
			return false, err
		}
		return false, b.write(args[0], ty, v)

	case x86asm.MOVZX, x86asm.MOVSX, x86asm.MOVSXD:
		dty, sty := width(inst, args[0]), width(inst, args[1])
		v, err := b.read(inst, args[1], sty)
		if err != nil {
			return false, err
		}
		op := vex.OpSExt
		if inst.Op == x86asm.MOVZX {
			op = vex.OpZExt
		}
		return false, b.write(args[0], dty, b.unop(op, dty, sty, v))

	case x86asm.LEA:
		m, ok := args[1].(x86asm.Mem)
		if !ok {
			return false, fmt.Errorf("%w: lea source %v", ErrUnsupported, args[1])
		}
		ea, err := b.addr(m)
		if err != nil {
			return false, err
		}
		ty := width(inst, args[0])
		v := b.atom(vex.I64, ea)
		if ty != vex.I64 {
			v = b.unop(vex.OpZExt, ty, vex.I64, v)
		}
		return false, b.write(args[0], ty, v)

	case x86asm.ADD, x86asm.SUB, x86asm.AND, x86asm.OR, x86asm.XOR:
		ty := width(inst, args[0])
		if (inst.Op == x86asm.XOR || inst.Op == x86asm.SUB) && sameReg(args[0], args[1]) {
			// Zeroing idiom: the result depends on neither operand.
			zero := vex.Const{Ty: ty, Value: 0}
			b.flags(ty, zero, zero)
			return false, b.write(args[0], ty, zero)
		}
		return false, b.arith(inst, arith[inst.Op], ty, args[0], args[1])

	case x86asm.SHL, x86asm.SHR, x86asm.SAR:
		ty := width(inst, args[0])
		x, err := b.read(inst, args[0], ty)
		if err != nil {
			return false, err
		}
		n, err := b.read(inst, args[1], vex.I8)
		if err != nil {
			return false, err
		}
		mask := uint64(31)
		if ty == vex.I64 {
			mask = 63
		}
		n = b.binop(vex.OpAnd, vex.I8, n, vex.Const{Ty: vex.I8, Value: mask})
		r := b.binop(arith[inst.Op], ty, x, n)
		b.flags(ty, r, vex.Const{Ty: ty})
		return false, b.write(args[0], ty, r)

	case x86asm.IMUL:
		return false, b.imul(inst)

	case x86asm.INC, x86asm.DEC:
		op := vex.OpAdd
		if inst.Op == x86asm.DEC {
			op = vex.OpSub
		}
		return false, b.arith(inst, op, width(inst, args[0]), args[0], x86asm.Imm(1))

	case x86asm.NEG, x86asm.NOT:
		ty := width(inst, args[0])
		x, err := b.read(inst, args[0], ty)
		if err != nil {
			return false, err
		}
		if inst.Op == x86asm.NOT {
			return false, b.write(args[0], ty, b.unop(vex.OpNot, ty, ty, x))
		}
		r := b.unop(vex.OpNeg, ty, ty, x)
		b.flags(ty, r, vex.Const{Ty: ty})
		return false, b.write(args[0], ty, r)

	case x86asm.CMP, x86asm.TEST:
		ty := width(inst, args[0])
		x, err := b.read(inst, args[0], ty)
		if err != nil {
			return false, err
		}
		y, err := b.read(inst, args[1], ty)
		if err != nil {
			return false, err
		}
		if inst.Op == x86asm.TEST {
			b.flags(ty, b.binop(vex.OpAnd, ty, x, y), vex.Const{Ty: ty})
		} else {
			b.flags(ty, x, y)
		}
		return false, nil

	case x86asm.PUSH:
		v, err := b.read(inst, args[0], vex.I64)
		if err != nil {
			return false, err
		}
		if ty := width(inst, args[0]); ty != vex.I64 {
			if _, isImm := args[0].(x86asm.Imm); !isImm {
				return false, fmt.Errorf("%w: %s push", ErrUnsupported, ty)
			}
		}
		b.push(v)
		return false, nil

	case x86asm.POP:
		return false, b.write(args[0], vex.I64, b.pop())

	case x86asm.LEAVE:
		b.blk.Add(vex.Put{Offset: vex.OffsetRSP, Data: b.getReg(vex.OffsetRBP, vex.I64)})
		b.blk.Add(vex.Put{Offset: vex.OffsetRBP, Data: b.pop()})
		return false, nil

	case x86asm.CALL:
		target, err := b.read(inst, args[0], vex.I64)
		if err != nil {
			return false, err
		}
		b.push(b.c64(b.next))
		b.end(target, vex.JumpCall)
		return true, nil

	case x86asm.RET:
		ra := b.pop()
		if imm, ok := args[0].(x86asm.Imm); ok && imm != 0 {
			sp := b.binop(vex.OpAdd, vex.I64, b.getReg(vex.OffsetRSP, vex.I64), b.c64(uint64(imm)))
			b.blk.Add(vex.Put{Offset: vex.OffsetRSP, Data: sp})
		}
		b.end(ra, vex.JumpRet)
		return true, nil

	case x86asm.JMP:
		target, err := b.read(inst, args[0], vex.I64)
		if err != nil {
			return false, err
		}
		b.end(target, vex.JumpBoring)
		return true, nil

	case x86asm.JE, x86asm.JNE, x86asm.JB, x86asm.JAE, x86asm.JBE, x86asm.JA,
		x86asm.JL, x86asm.JGE, x86asm.JLE, x86asm.JG, x86asm.JS, x86asm.JNS:
		rel, ok := args[0].(x86asm.Rel)
		if !ok {
			return false, fmt.Errorf("%w: jcc operand %v", ErrUnsupported, args[0])
		}
		b.blk.Add(vex.Exit{Guard: b.cond(inst.Op), Dst: b.next + uint64(int64(rel)), Kind: vex.JumpBoring})
		b.end(b.c64(b.next), vex.JumpBoring)
		return true, nil

	case x86asm.SYSCALL:
		b.end(b.c64(b.next), vex.JumpSyscall)
		return true, nil

	case x86asm.HLT:
		b.end(b.c64(b.next), vex.JumpExit)
		return true, nil
	}
	return false, ErrUnsupported
}

// arith emits dst = dst op src and sets the flags from the result.
func (b *builder) arith(inst x86asm.Inst, op vex.Op, ty vex.Ty, dst, src x86asm.Arg) error {
	x, err := b.read(inst, dst, ty)
	if err != nil {
		return err
	}
	y, err := b.read(inst, src, ty)
	if err != nil {
		return err
	}
	r := b.binop(op, ty, x, y)
	b.flags(ty, r, vex.Const{Ty: ty})
	return b.write(dst, ty, r)
}

func (b *builder) imul(inst x86asm.Inst) error {
	args := inst.Args
	if args[1] == nil {
		return fmt.Errorf("%w: one-operand imul", ErrUnsupported)
	}
	ty := width(inst, args[0])
	x, err := b.read(inst, args[1], ty)
	if err != nil {
		return err
	}
	var y vex.Expr
	if args[2] != nil {
		y, err = b.read(inst, args[2], ty)
	} else {
		y, err = b.read(inst, args[0], ty)
	}
	if err != nil {
		return err
	}
	r := b.binop(vex.OpMul, ty, x, y)
	b.flags(ty, r, vex.Const{Ty: ty})
	return b.write(args[0], ty, r)
}

// cond computes the guard of a conditional jump from the lazy flags.
func (b *builder) cond(op x86asm.Op) vex.Expr {
	d1 := b.getReg(vex.OffsetCCDep1, vex.I64)
	d2 := b.getReg(vex.OffsetCCDep2, vex.I64)
	var c vex.RdTmp
	negate := false
	switch op {
	case x86asm.JE, x86asm.JNE:
		c, negate = b.binop(vex.OpCmpEQ, vex.I64, d1, d2), op == x86asm.JNE
	case x86asm.JB, x86asm.JAE:
		c, negate = b.binop(vex.OpCmpLTU, vex.I64, d1, d2), op == x86asm.JAE
	case x86asm.JA, x86asm.JBE:
		c, negate = b.binop(vex.OpCmpLTU, vex.I64, d2, d1), op == x86asm.JBE
	case x86asm.JL, x86asm.JGE:
		c, negate = b.binop(vex.OpCmpLTS, vex.I64, d1, d2), op == x86asm.JGE
	case x86asm.JG, x86asm.JLE:
		c, negate = b.binop(vex.OpCmpLTS, vex.I64, d2, d1), op == x86asm.JLE
	case x86asm.JS, x86asm.JNS:
		diff := b.binop(vex.OpSub, vex.I64, d1, d2)
		c, negate = b.binop(vex.OpCmpLTS, vex.I64, diff, b.c64(0)), op == x86asm.JNS
	}
	if negate {
		return b.binop(vex.OpXor, vex.I1, c, vex.Const{Ty: vex.I1, Value: 1})
	}
	return c
}
