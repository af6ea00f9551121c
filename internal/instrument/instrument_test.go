package instrument

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolkov/ddetector/internal/symbols"
	"github.com/kolkov/ddetector/internal/taint/engine"
	"github.com/kolkov/ddetector/internal/vex"
)

// block builds:
//
//	IMark(0x401000)
//	t0 = GET:I64(16)
//	t1 = Add64(t0, 0x1)
//	t2 = t1
//	t3 = LD:I32(t2)
//	t4 = Not32(t3)
//	t5 = 0x7
//	ST(t2) = t4
//	PUT(24) = t1
//	IMark(0x401004)
//	t6 = MulAdd64(t0, t1, t0, 0x0)
//	t7 = ITE64(t0, t1, 0x2)
func block() *vex.Block {
	b := &vex.Block{Addr: 0x401000, Next: vex.Const{Ty: vex.I64, Value: 0x401008}}
	t0 := b.NewTemp(vex.I64)
	t1 := b.NewTemp(vex.I64)
	t2 := b.NewTemp(vex.I64)
	t3 := b.NewTemp(vex.I32)
	t4 := b.NewTemp(vex.I32)
	t5 := b.NewTemp(vex.I64)
	t6 := b.NewTemp(vex.I64)
	t7 := b.NewTemp(vex.I64)
	one := vex.Const{Ty: vex.I64, Value: 1}
	b.Add(
		vex.IMark{Addr: 0x401000, Len: 4},
		vex.WrTmp{Tmp: t0, Data: vex.Get{Offset: 16, Ty: vex.I64}},
		vex.WrTmp{Tmp: t1, Data: vex.Binop{Op: vex.OpAdd, Ty: vex.I64, A: vex.RdTmp{Tmp: t0}, B: one}},
		vex.WrTmp{Tmp: t2, Data: vex.RdTmp{Tmp: t1}},
		vex.WrTmp{Tmp: t3, Data: vex.Load{Ty: vex.I32, Addr: vex.RdTmp{Tmp: t2}}},
		vex.WrTmp{Tmp: t4, Data: vex.Unop{Op: vex.OpNot, Ty: vex.I32, From: vex.I32, A: vex.RdTmp{Tmp: t3}}},
		vex.WrTmp{Tmp: t5, Data: vex.Const{Ty: vex.I64, Value: 7}},
		vex.Store{Addr: vex.RdTmp{Tmp: t2}, Data: vex.RdTmp{Tmp: t4}},
		vex.Put{Offset: 24, Data: vex.RdTmp{Tmp: t1}},
		vex.IMark{Addr: 0x401004, Len: 4},
		vex.WrTmp{Tmp: t6, Data: vex.Qop{Op: vex.OpMulAdd, Ty: vex.I64,
			A: vex.RdTmp{Tmp: t0}, B: vex.RdTmp{Tmp: t1}, C: vex.RdTmp{Tmp: t0}, D: vex.Const{Ty: vex.I64}}},
		vex.WrTmp{Tmp: t7, Data: vex.Triop{Op: vex.OpITE, Ty: vex.I64,
			A: vex.RdTmp{Tmp: t0}, B: vex.RdTmp{Tmp: t1}, C: vex.Const{Ty: vex.I64, Value: 2}}},
	)
	return b
}

// events returns the events of every hook in b, running each with args.
func events(b *vex.Block, args ...uint64) []engine.Event {
	var out []engine.Event
	for _, s := range b.Stmts {
		if h, ok := HookOf(s); ok {
			out = append(out, h.Event(Context{Thread: 3, Args: args}))
		}
	}
	return out
}

func TestInstrument_Events(t *testing.T) {
	in := New()
	out, err := in.Instrument(block())
	require.NoError(t, err)

	got := events(out, 0x5000)
	want := []engine.Event{
		engine.InstrBoundary{Addr: 0x401000},
		engine.RegRead{Thread: 3, Offset: 16, Size: 8, Dst: 0},
		engine.BinOp{Dst: 1, Op: "Add64", A: engine.Tmp(0), B: engine.Const(1)},
		engine.Move{Dst: 2, Src: 1},
		engine.Load{Dst: 3, Addr: 0x5000, Size: 4},
		engine.UnOp{Dst: 4, Op: "Not32", A: engine.Tmp(3)},
		engine.Store{Addr: 0x5000, Size: 4, Src: engine.Tmp(4)},
		engine.RegWrite{Thread: 3, Offset: 24, Size: 8, Src: engine.Tmp(1)},
		engine.InstrBoundary{Addr: 0x401004},
		engine.QuadOp{Dst: 6, Op: "MulAdd64", A: engine.Tmp(0), B: engine.Tmp(1), C: engine.Tmp(0), D: engine.Const(0)},
		engine.TriOp{Dst: 7, Op: "ITE64", A: engine.Tmp(0), B: engine.Tmp(1), C: engine.Const(2)},
	}
	assert.Equal(t, want, got)

	st := in.Stats()
	assert.Equal(t, 1, st.Blocks)
	assert.Equal(t, 2, st.Boundaries)
	assert.Equal(t, 1, st.ConstsSkipped)
	assert.Equal(t, 3, st.OtherOps)
	assert.Equal(t, len(want), st.Total())
}

func TestInstrument_HookFollowsStatement(t *testing.T) {
	out, err := New().Instrument(block())
	require.NoError(t, err)

	// Every hook directly follows the statement it describes.
	for i, s := range out.Stmts {
		if _, ok := HookOf(s); ok {
			require.Greater(t, i, 0)
			_, prevIsHook := HookOf(out.Stmts[i-1])
			assert.False(t, prevIsHook, "stmt %d: two hooks in a row", i)
		}
	}
	require.NoError(t, vex.Sanity(out))
	assert.Contains(t, out.String(), "DIRTY ddetector_hook(t2)")
}

func TestInstrument_DoesNotModifyInput(t *testing.T) {
	b := block()
	n := len(b.Stmts)
	_, err := New().Instrument(b)
	require.NoError(t, err)
	assert.Len(t, b.Stmts, n)
}

func TestInstrument_BoundaryFilter(t *testing.T) {
	syms := symbols.NewTable(symbols.Symbol{Name: "main", Addr: 0x401004})
	in := New(WithBoundaryFilter(syms))

	out, err := in.Instrument(block())
	require.NoError(t, err)

	var boundaries []engine.Event
	for _, ev := range events(out) {
		if ev.Kind() == engine.KindInstrBoundary {
			boundaries = append(boundaries, ev)
		}
	}
	assert.Equal(t, []engine.Event{engine.InstrBoundary{Addr: 0x401004}}, boundaries)
	assert.Equal(t, 1, in.Stats().BoundariesElided)
}

func TestInstrument_TooManyTemps(t *testing.T) {
	in := New(WithMaxTemps(4))
	_, err := in.Instrument(block())

	var ie *InstrumentationError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, uint64(0x401000), ie.Block)
	assert.Contains(t, ie.Suggestion, "max-temps")
}

func TestInstrument_Malformed(t *testing.T) {
	b := block()
	b.Next = nil

	_, err := New().Instrument(b)
	var ie *InstrumentationError
	require.True(t, errors.As(err, &ie))
	var se *vex.SanityError
	assert.True(t, errors.As(err, &se), "cause is kept")
}

func TestInstrument_StatsAccumulate(t *testing.T) {
	in := New()
	for i := 0; i < 3; i++ {
		_, err := in.Instrument(block())
		require.NoError(t, err)
	}
	st := in.Stats()
	assert.Equal(t, 3, st.Blocks)
	assert.Equal(t, 6, st.Boundaries)
}

func TestHookOf_Foreign(t *testing.T) {
	_, ok := HookOf(vex.Dirty{Callee: "other", Data: fixedHook{}})
	assert.False(t, ok)
	_, ok = HookOf(vex.IMark{})
	assert.False(t, ok)
}

// TestInstrumentationError_Error tests error message formatting.
func TestInstrumentationError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *InstrumentationError
		expected string
	}{
		{
			name:     "block level",
			err:      NewInstrumentationError(0x401000, 0, -1, "malformed block"),
			expected: "block 0x401000: malformed block",
		},
		{
			name:     "statement",
			err:      NewInstrumentationError(0x401000, 0x401003, 4, "cannot instrument"),
			expected: "block 0x401000, insn 0x401003, stmt 4: cannot instrument",
		},
		{
			name:     "with suggestion",
			err:      NewInstrumentationErrorWithSuggestion(0x10, 0, 2, "too big", "shrink it"),
			expected: "block 0x10, stmt 2: too big\n\nSuggestion: shrink it",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
			if tt.err.Suggestion != "" && !strings.Contains(tt.err.Error(), "Suggestion:") {
				t.Error("suggestion missing from message")
			}
		})
	}
}
