package guest

import (
	"bytes"
	"context"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolkov/ddetector/internal/config"
	"github.com/kolkov/ddetector/internal/symbols"
	"github.com/kolkov/ddetector/internal/syscalls"
	"github.com/kolkov/ddetector/internal/taint/engine"
	"github.com/kolkov/ddetector/internal/taint/regshadow"
	"github.com/kolkov/ddetector/internal/taint/taintset"
	"github.com/kolkov/ddetector/internal/vex"
)

// blocks is a Translator serving prepared blocks.
type blocks map[uint64]*vex.Block

func (bs blocks) Translate(addr uint64, _ []byte) (*vex.Block, error) {
	b, ok := bs[addr]
	if !ok {
		return nil, fmt.Errorf("no block at 0x%x", addr)
	}
	return b.Clone(), nil
}

func c64(v uint64) vex.Const { return vex.Const{Ty: vex.I64, Value: v} }

func put(off int, v uint64) vex.Stmt { return vex.Put{Offset: off, Data: c64(v)} }

// readProgram reads 4 bytes into 0x2000, stores their value plus one at
// 0x3000, and returns 7.
func readProgram() blocks {
	b0 := &vex.Block{Addr: 0x1000, Jump: vex.JumpSyscall, Next: c64(0x1010)}
	b0.Add(
		vex.IMark{Addr: 0x1000, Len: 16},
		put(vex.OffsetRAX, syscalls.NumRead),
		put(vex.OffsetRDI, 0),
		put(vex.OffsetRSI, 0x2000),
		put(vex.OffsetRDX, 4),
	)

	b1 := &vex.Block{Addr: 0x1010, Jump: vex.JumpRet, Next: c64(DefaultHaltAddr)}
	t0 := b1.NewTemp(vex.I32)
	t1 := b1.NewTemp(vex.I32)
	b1.Add(
		vex.IMark{Addr: 0x1010, Len: 8},
		vex.WrTmp{Tmp: t0, Data: vex.Load{Ty: vex.I32, Addr: c64(0x2000)}},
		vex.WrTmp{Tmp: t1, Data: vex.Binop{Op: vex.OpAdd, Ty: vex.I32, A: vex.RdTmp{Tmp: t0}, B: vex.Const{Ty: vex.I32, Value: 1}}},
		vex.Store{Addr: c64(0x3000), Data: vex.RdTmp{Tmp: t1}},
		put(vex.OffsetRAX, 7),
	)
	return blocks{0x1000: b0, 0x1010: b1}
}

func newMemory() *Memory {
	mem := NewMemory()
	mem.Map(0x1000, PageSize)
	mem.Map(0x2000, 2*PageSize)
	return mem
}

func newSession(t *testing.T, ext config.Extensions) *engine.Session {
	t.Helper()
	cfg := config.NewDefault()
	cfg.Extensions = ext
	s, err := engine.NewSession(cfg,
		engine.WithResolver(symbols.NewTable(symbols.Symbol{Name: "main", Addr: 0x1000})),
		engine.WithLogger(config.Discard()))
	require.NoError(t, err)
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.End() })
	return s
}

func TestMachine_ReadPropagatesThroughMemory(t *testing.T) {
	s := newSession(t, config.Extensions{Loads: true, Stores: true})
	mem := newMemory()
	m := New(mem, readProgram(), WithSink(s), WithStdio(strings.NewReader("abcd"), nil, nil))
	m.SetPC(0x1000)
	require.NoError(t, m.SetupStack(0x10000, PageSize))

	require.NoError(t, m.Run(context.Background()))

	code, ok := m.Exited()
	assert.True(t, ok)
	assert.Equal(t, 7, code)

	v, err := mem.ReadUint(0x3000, 4)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x64636262), v)

	want := taintset.Of(0x2000, 0x2001, 0x2002, 0x2003)
	for a := uint64(0x2000); a < 0x2004; a++ {
		assert.True(t, s.Memory(a).Equal(taintset.Of(taintset.Origin(a))), "0x%x", a)
	}
	for a := uint64(0x3000); a < 0x3004; a++ {
		assert.True(t, s.Memory(a).Equal(want), "0x%x: %s", a, s.Memory(a))
	}
	assert.True(t, s.Memory(0x3004).IsEmpty())

	st := s.Stats()
	assert.Equal(t, uint64(1), st.Count(engine.KindSyscallComplete))
	assert.Equal(t, uint64(2), st.Count(engine.KindInstrBoundary))
	assert.Equal(t, 2, m.InstrumentStats().Blocks)
}

func TestMachine_GapsLeaveMemoryClean(t *testing.T) {
	s := newSession(t, config.Extensions{})
	m := New(newMemory(), readProgram(), WithSink(s), WithStdio(strings.NewReader("abcd"), nil, nil))
	m.SetPC(0x1000)
	require.NoError(t, m.SetupStack(0x10000, PageSize))
	require.NoError(t, m.Run(context.Background()))

	assert.Equal(t, 1, s.Memory(0x2000).Len())
	assert.True(t, s.Memory(0x3000).IsEmpty())
	assert.Equal(t, uint64(2), s.Stats().Dropped)
}

func TestMachine_ShortRead(t *testing.T) {
	s := newSession(t, config.Extensions{})
	m := New(newMemory(), readProgram(), WithSink(s), WithStdio(strings.NewReader("ab"), nil, nil))
	m.SetPC(0x1000)
	require.NoError(t, m.SetupStack(0x10000, PageSize))
	require.NoError(t, m.Run(context.Background()))

	assert.Equal(t, 1, s.Memory(0x2001).Len())
	assert.True(t, s.Memory(0x2002).IsEmpty())
}

func TestMachine_WriteAndExit(t *testing.T) {
	b := &vex.Block{Addr: 0x1000, Jump: vex.JumpSyscall, Next: c64(0x1010)}
	b.Add(
		vex.IMark{Addr: 0x1000, Len: 16},
		put(vex.OffsetRAX, syscalls.NumWrite),
		put(vex.OffsetRDI, 1),
		put(vex.OffsetRSI, 0x2000),
		put(vex.OffsetRDX, 3),
	)
	e := &vex.Block{Addr: 0x1010, Jump: vex.JumpSyscall, Next: c64(0x1020)}
	e.Add(
		vex.IMark{Addr: 0x1010, Len: 16},
		put(vex.OffsetRAX, syscalls.NumExitGroup),
		put(vex.OffsetRDI, 3),
	)

	mem := newMemory()
	require.NoError(t, mem.Write(0x2000, []byte("hi\n")))
	var out bytes.Buffer
	m := New(mem, blocks{0x1000: b, 0x1010: e}, WithStdio(nil, &out, nil))
	m.SetPC(0x1000)

	require.NoError(t, m.Run(context.Background()))
	code, ok := m.Exited()
	require.True(t, ok)
	assert.Equal(t, 3, code)
	assert.Equal(t, "hi\n", out.String())
	assert.Equal(t, uint64(3), m.Reg(vex.OffsetRAX, 8), "write result")

	assert.ErrorIs(t, m.Run(context.Background()), ErrHalted)
}

func TestMachine_UnknownSyscall(t *testing.T) {
	b := &vex.Block{Addr: 0x1000, Jump: vex.JumpSyscall, Next: c64(DefaultHaltAddr)}
	b.Add(vex.IMark{Addr: 0x1000, Len: 2}, put(vex.OffsetRAX, 9999))

	s := newSession(t, config.Extensions{})
	m := New(newMemory(), blocks{0x1000: b}, WithSink(s))
	m.SetPC(0x1000)
	require.NoError(t, m.Run(context.Background()))

	code, _ := m.Exited()
	assert.Equal(t, int(-syscalls.ErrnoNOSYS), code)
	assert.Equal(t, uint64(1), s.Stats().Count(engine.KindSyscallComplete))
}

func TestMachine_CustomSyscall(t *testing.T) {
	b := &vex.Block{Addr: 0x1000, Jump: vex.JumpSyscall, Next: c64(DefaultHaltAddr)}
	b.Add(vex.IMark{Addr: 0x1000, Len: 2}, put(vex.OffsetRAX, 500), put(vex.OffsetRDI, 41))

	var seen syscalls.Args
	m := New(newMemory(), blocks{0x1000: b}, WithSyscall(500, func(_ *Machine, args syscalls.Args) (int64, error) {
		seen = args
		return int64(args[0] + 1), nil
	}))
	m.SetPC(0x1000)
	require.NoError(t, m.Run(context.Background()))

	assert.Equal(t, uint64(41), seen[0])
	code, _ := m.Exited()
	assert.Equal(t, 42, code)
}

func TestMachine_ConditionalExit(t *testing.T) {
	b := &vex.Block{Addr: 0x1000, Jump: vex.JumpBoring, Next: c64(0x1000)}
	t0 := b.NewTemp(vex.I64)
	t1 := b.NewTemp(vex.I1)
	b.Add(
		vex.IMark{Addr: 0x1000, Len: 4},
		vex.WrTmp{Tmp: t0, Data: vex.Get{Offset: vex.OffsetRCX, Ty: vex.I64}},
		vex.WrTmp{Tmp: t1, Data: vex.Binop{Op: vex.OpCmpEQ, Ty: vex.I64, A: vex.RdTmp{Tmp: t0}, B: c64(0)}},
		vex.Exit{Guard: vex.RdTmp{Tmp: t1}, Dst: DefaultHaltAddr, Kind: vex.JumpBoring},
		vex.WrTmp{Tmp: b.NewTemp(vex.I64), Data: vex.Binop{Op: vex.OpSub, Ty: vex.I64, A: vex.RdTmp{Tmp: t0}, B: c64(1)}},
	)
	b.Add(vex.Put{Offset: vex.OffsetRCX, Data: vex.RdTmp{Tmp: 2}})

	m := New(newMemory(), blocks{0x1000: b})
	m.SetReg(vex.OffsetRCX, 8, 5)
	m.SetPC(0x1000)
	require.NoError(t, m.Run(context.Background()))
	assert.Equal(t, uint64(6), m.Steps())
	assert.Equal(t, uint64(0), m.Reg(vex.OffsetRCX, 8))
}

func TestMachine_StepLimit(t *testing.T) {
	b := &vex.Block{Addr: 0x1000, Jump: vex.JumpBoring, Next: c64(0x1000)}
	b.Add(vex.IMark{Addr: 0x1000, Len: 2})

	m := New(newMemory(), blocks{0x1000: b}, WithStepLimit(10))
	m.SetPC(0x1000)
	err := m.Run(context.Background())
	assert.True(t, errors.Is(err, ErrStepLimit))
	assert.Equal(t, uint64(10), m.Steps())
}

func TestMachine_Canceled(t *testing.T) {
	b := &vex.Block{Addr: 0x1000, Jump: vex.JumpBoring, Next: c64(0x1000)}
	b.Add(vex.IMark{Addr: 0x1000, Len: 2})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := New(newMemory(), blocks{0x1000: b})
	m.SetPC(0x1000)
	assert.ErrorIs(t, m.Run(ctx), context.Canceled)
}

func TestMachine_Faults(t *testing.T) {
	b := &vex.Block{Addr: 0x1000, Jump: vex.JumpBoring, Next: c64(DefaultHaltAddr)}
	b.Add(vex.IMark{Addr: 0x1000, Len: 4}, vex.Store{Addr: c64(0x900000), Data: c64(1)})

	m := New(newMemory(), blocks{0x1000: b})
	m.SetPC(0x1000)
	var fe *FaultError
	require.True(t, errors.As(m.Run(context.Background()), &fe))
	assert.True(t, fe.Write)
	assert.Equal(t, uint64(0x900000), fe.Addr)

	// Executing unmapped code faults before translation.
	m = New(newMemory(), blocks{})
	m.SetPC(0x800000)
	require.True(t, errors.As(m.Run(context.Background()), &fe))
	assert.False(t, fe.Write)
}

func TestMachine_SessionErrorStops(t *testing.T) {
	cfg := config.NewDefault()
	s, err := engine.NewSession(cfg, engine.WithLogger(config.Discard()))
	require.NoError(t, err)

	m := New(newMemory(), readProgram(), WithSink(s))
	m.SetPC(0x1000)
	assert.ErrorIs(t, m.Run(context.Background()), engine.ErrNotStarted)
}

func TestMemory_ReadWrite(t *testing.T) {
	mem := NewMemory()
	mem.Map(0x1ffe, 4)
	assert.Equal(t, 2, mem.Pages())

	require.NoError(t, mem.WriteUint(0x1ffe, 4, 0xdeadbeef))
	v, err := mem.ReadUint(0x1ffe, 4)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xdeadbeef), v)

	v, err = mem.ReadUint(0x2000, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xad), v)

	err = mem.Write(0x2ffe, []byte{1, 2, 3, 4})
	var fe *FaultError
	require.True(t, errors.As(err, &fe))
	assert.Contains(t, fe.Error(), "write fault at 0x2ffe")

	got, _ := mem.ReadUint(0x2ffe, 2)
	assert.Equal(t, uint64(0), got, "nothing written on fault")
}

func TestMemory_FetchAndRegions(t *testing.T) {
	mem := NewMemory()
	mem.Map(0x1000, 2*PageSize)
	mem.Map(0x8000, 1)

	assert.Len(t, mem.Fetch(0x2ff0, 64), 16)
	assert.Len(t, mem.Fetch(0x1000, 64), 64)
	assert.Empty(t, mem.Fetch(0x5000, 64))

	assert.Equal(t, [][2]uint64{{0x1000, 0x3000}, {0x8000, 0x9000}}, mem.Regions())
}

// minimalELF builds a static x86-64 executable with one PT_LOAD segment.
func minimalELF(t *testing.T, vaddr uint64, code []byte, bss uint64) []byte {
	t.Helper()
	const ehsize, phsize = 64, 56
	var buf bytes.Buffer
	hdr := elf.Header64{
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_X86_64),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     vaddr + ehsize + phsize,
		Phoff:     ehsize,
		Ehsize:    ehsize,
		Phentsize: phsize,
		Phnum:     1,
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	filesz := uint64(ehsize + phsize + len(code))
	prog := elf.Prog64{
		Type:   uint32(elf.PT_LOAD),
		Flags:  uint32(elf.PF_R | elf.PF_X),
		Vaddr:  vaddr,
		Paddr:  vaddr,
		Filesz: filesz,
		Memsz:  filesz + bss,
		Align:  PageSize,
	}
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, hdr))
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, prog))
	buf.Write(code)
	return buf.Bytes()
}

func TestLoadELF(t *testing.T) {
	code := []byte{0x90, 0x90, 0xc3}
	raw := minimalELF(t, 0x400000, code, 0x2000)
	f, err := elf.NewFile(bytes.NewReader(raw))
	require.NoError(t, err)

	mem := NewMemory()
	img, err := LoadELF(f, mem)
	require.NoError(t, err)

	assert.Equal(t, uint64(0x400000+120), img.Entry)
	require.Len(t, img.Segments, 1)
	assert.Equal(t, uint64(len(raw)), img.Segments[0].Loaded)
	assert.Equal(t, code, mem.Fetch(img.Entry, 3))
	assert.True(t, mem.Mapped(0x400000+uint64(len(raw))+0x1000), "bss is mapped")
}

func TestLoadELF_Rejects(t *testing.T) {
	raw := minimalELF(t, 0x400000, []byte{0xc3}, 0)
	raw[18] = byte(elf.EM_AARCH64)
	f, err := elf.NewFile(bytes.NewReader(raw))
	require.NoError(t, err)

	_, err = LoadELF(f, NewMemory())
	assert.ErrorIs(t, err, ErrUnsupportedBinary)
}

func TestMachine_HaltAddrAndThread(t *testing.T) {
	s := newSession(t, config.Extensions{})
	require.NoError(t, s.SetRegisterTaint(3, vex.OffsetRBX, 8, taintset.Of(9)))

	b := &vex.Block{Addr: 0x1000, Jump: vex.JumpRet, Next: c64(0xdead0000)}
	t0 := b.NewTemp(vex.I64)
	b.Add(
		vex.IMark{Addr: 0x1000, Len: 3},
		vex.WrTmp{Tmp: t0, Data: vex.Get{Offset: vex.OffsetRBX, Ty: vex.I64}},
		vex.Put{Offset: vex.OffsetRAX, Data: vex.RdTmp{Tmp: t0}},
	)

	m := New(newMemory(), blocks{0x1000: b}, WithSink(s), WithThread(3), WithHaltAddr(0xdead0000))
	m.SetReg(vex.OffsetRBX, 8, 5)
	m.SetPC(0x1000)
	require.NoError(t, m.Run(context.Background()))

	code, ok := m.Exited()
	assert.True(t, ok)
	assert.Equal(t, 5, code)
	assert.Equal(t, regshadow.ThreadID(3), m.Thread())
	assert.True(t, s.RegisterTaint(3, vex.OffsetRAX, 8).Equal(taintset.Of(9)))
	assert.True(t, s.RegisterTaint(1, vex.OffsetRAX, 8).IsEmpty())
}

func TestMachine_LoadClearsReusedTemp(t *testing.T) {
	s := newSession(t, config.Extensions{})
	require.NoError(t, s.SetRegisterTaint(1, vex.OffsetRAX, 8, taintset.Of(0xdead)))

	a := &vex.Block{Addr: 0x1000, Jump: vex.JumpBoring, Next: c64(0x1010)}
	ta := a.NewTemp(vex.I64)
	a.Add(
		vex.IMark{Addr: 0x1000, Len: 3},
		vex.WrTmp{Tmp: ta, Data: vex.Get{Offset: vex.OffsetRAX, Ty: vex.I64}},
		vex.Put{Offset: vex.OffsetRBX, Data: vex.RdTmp{Tmp: ta}},
	)
	b := &vex.Block{Addr: 0x1010, Jump: vex.JumpRet, Next: c64(DefaultHaltAddr)}
	tb := b.NewTemp(vex.I64)
	b.Add(
		vex.IMark{Addr: 0x1010, Len: 7},
		vex.WrTmp{Tmp: tb, Data: vex.Load{Ty: vex.I64, Addr: c64(0x2100)}},
		vex.Put{Offset: vex.OffsetRCX, Data: vex.RdTmp{Tmp: tb}},
	)
	require.Equal(t, ta, tb, "blocks share temp indices")

	m := New(newMemory(), blocks{0x1000: a, 0x1010: b}, WithSink(s))
	m.SetPC(0x1000)
	require.NoError(t, m.Run(context.Background()))

	assert.True(t, s.RegisterTaint(1, vex.OffsetRBX, 8).Equal(taintset.Of(0xdead)))
	assert.True(t, s.Memory(0x2100).IsEmpty())
	assert.True(t, s.RegisterTaint(1, vex.OffsetRCX, 8).IsEmpty(), "stale temp leaked through the load")
}
