package symbols

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTable_FunctionAt(t *testing.T) {
	tb := NewTable(
		Symbol{Name: "main", Addr: 0x401000, Size: 0x40},
		Symbol{Name: "exit", Addr: 0x402000, Size: 0x10},
	)

	name, ok := tb.FunctionAt(0x401000)
	require.True(t, ok)
	assert.Equal(t, "main", name)

	_, ok = tb.FunctionAt(0x401004)
	assert.False(t, ok, "only entry points resolve")

	addr, ok := tb.Lookup("exit")
	require.True(t, ok)
	assert.Equal(t, uint64(0x402000), addr)
}

func TestTable_DuplicateAddress(t *testing.T) {
	tb := NewTable(
		Symbol{Name: "first", Addr: 0x10},
		Symbol{Name: "alias", Addr: 0x10},
	)

	name, _ := tb.FunctionAt(0x10)
	assert.Equal(t, "first", name)
	assert.Equal(t, 2, tb.Len())
}

func TestTable_Containing(t *testing.T) {
	tb := NewTable(
		Symbol{Name: "b", Addr: 0x200, Size: 0x20},
		Symbol{Name: "a", Addr: 0x100, Size: 0x10},
	)

	s, ok := tb.Containing(0x205)
	require.True(t, ok)
	assert.Equal(t, "b", s.Name)

	_, ok = tb.Containing(0x150)
	assert.False(t, ok)

	_, ok = tb.Containing(0x50)
	assert.False(t, ok)

	syms := tb.Symbols()
	require.Len(t, syms, 2)
	assert.Equal(t, "a", syms[0].Name)
}

func TestOpen_Missing(t *testing.T) {
	_, err := Open("testdata/does-not-exist")
	assert.Error(t, err)
}
