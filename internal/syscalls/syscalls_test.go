package syscalls

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTable_DecodeRead(t *testing.T) {
	tb := Default()

	r, ok := tb.Decode(NumRead, Args{0, 0x1000, 16}, 4)
	require.True(t, ok)
	assert.Equal(t, Range{Addr: 0x1000, Len: 4}, r)
	assert.Equal(t, uint64(0x1004), r.End())
	assert.Equal(t, "[0x1000, 0x1004)", r.String())
}

func TestTable_DecodeNoWrite(t *testing.T) {
	tb := Default()

	tests := []struct {
		name   string
		number uint64
		result int64
	}{
		{"error result", NumRead, -ErrnoBADF},
		{"eof", NumRead, 0},
		{"not read-like", NumWrite, 4},
		{"unknown", 9999, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := tb.Decode(tt.number, Args{0, 0x1000, 16}, tt.result)
			assert.False(t, ok)
		})
	}
}

func TestTable_DecodeClampsToCapacity(t *testing.T) {
	tb := Default()

	r, ok := tb.Decode(NumPread64, Args{3, 0x2000, 8, 0}, 64)
	require.True(t, ok)
	assert.Equal(t, uint64(8), r.Len)

	_, ok = tb.Decode(NumRead, Args{0, 0x2000, 0}, 5)
	assert.False(t, ok, "zero capacity writes nothing")
}

func TestTable_DecodeRejectsWrap(t *testing.T) {
	tb := Default()

	_, ok := tb.Decode(NumRead, Args{0, ^uint64(0) - 1, 8}, 8)
	assert.False(t, ok)
	_, ok = tb.Decode(NumRead, Args{0, ^uint64(0) - 7, 8}, 8)
	assert.False(t, ok, "range ending exactly at 2^64")

	r, ok := tb.Decode(NumRead, Args{0, ^uint64(0) - 8, 8}, 8)
	require.True(t, ok)
	assert.Equal(t, ^uint64(0), r.End())
}

func TestTable_AddCustom(t *testing.T) {
	tb, err := NewTable(Spec{Number: 500, BufArg: 2, LenArg: 3})
	require.NoError(t, err)

	s, ok := tb.Lookup(500)
	require.True(t, ok)
	assert.Equal(t, "sys_500", s.Name)

	r, ok := tb.Decode(500, Args{0, 0, 0x3000, 2}, 2)
	require.True(t, ok)
	assert.Equal(t, uint64(0x3000), r.Addr)

	assert.Len(t, tb.Specs(), len(Builtin())+1)
}

func TestTable_AddInvalid(t *testing.T) {
	_, err := NewTable(Spec{Number: 1, Name: "bad", BufArg: 6, LenArg: 0})
	assert.Error(t, err)

	_, err = NewTable(Spec{Number: 1, Name: "bad", BufArg: 1, LenArg: 1})
	assert.Error(t, err)
}

func TestTable_SpecsOrdered(t *testing.T) {
	specs := Default().Specs()
	for i := 1; i < len(specs); i++ {
		assert.Less(t, specs[i-1].Number, specs[i].Number)
	}
}

func TestName(t *testing.T) {
	assert.Equal(t, "read", Name(NumRead))
	assert.Equal(t, "exit_group", Name(NumExitGroup))
	assert.Equal(t, "sys_4242", Name(4242))
}
