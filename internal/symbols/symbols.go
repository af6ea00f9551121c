// Package symbols resolves guest code addresses to function names.
//
// The tracing window asks, at every instruction boundary, whether the
// address is the entry point of a named function. Only exact entry points
// resolve; addresses inside a function body do not.
package symbols

import (
	"debug/elf"
	"fmt"
	"sort"
)

// Resolver answers entry-point queries.
type Resolver interface {
	// FunctionAt returns the name of the function whose entry point is addr.
	FunctionAt(addr uint64) (name string, ok bool)
}

// Symbol is one function entry.
type Symbol struct {
	Name string
	Addr uint64
	Size uint64
}

// Table is a static Resolver.
type Table struct {
	byAddr map[uint64]string
	byName map[string]uint64
	syms   []Symbol // sorted by address
}

// NewTable builds a table from syms. When two symbols share an address the
// first one wins.
func NewTable(syms ...Symbol) *Table {
	t := &Table{
		byAddr: make(map[uint64]string, len(syms)),
		byName: make(map[string]uint64, len(syms)),
	}
	for _, s := range syms {
		t.Add(s)
	}
	return t
}

// Add inserts one symbol.
func (t *Table) Add(s Symbol) {
	if _, dup := t.byAddr[s.Addr]; !dup {
		t.byAddr[s.Addr] = s.Name
	}
	if _, dup := t.byName[s.Name]; !dup {
		t.byName[s.Name] = s.Addr
	}
	i := sort.Search(len(t.syms), func(i int) bool { return t.syms[i].Addr > s.Addr })
	t.syms = append(t.syms, Symbol{})
	copy(t.syms[i+1:], t.syms[i:])
	t.syms[i] = s
}

// FunctionAt implements Resolver.
func (t *Table) FunctionAt(addr uint64) (string, bool) {
	name, ok := t.byAddr[addr]
	return name, ok
}

// Lookup returns the entry address of a named function.
func (t *Table) Lookup(name string) (uint64, bool) {
	addr, ok := t.byName[name]
	return addr, ok
}

// Containing returns the function whose [Addr, Addr+Size) covers addr.
// Used for report annotation, not for window matching.
func (t *Table) Containing(addr uint64) (Symbol, bool) {
	i := sort.Search(len(t.syms), func(i int) bool { return t.syms[i].Addr > addr }) - 1
	for ; i >= 0; i-- {
		s := t.syms[i]
		if addr >= s.Addr && addr < s.Addr+s.Size {
			return s, true
		}
		if s.Size > 0 {
			break
		}
	}
	return Symbol{}, false
}

// Symbols returns all symbols ordered by address.
func (t *Table) Symbols() []Symbol {
	out := make([]Symbol, len(t.syms))
	copy(out, t.syms)
	return out
}

// Len returns the number of symbols.
func (t *Table) Len() int { return len(t.syms) }

// FromELF reads the function symbols of an ELF file.
func FromELF(f *elf.File) (*Table, error) {
	syms, err := f.Symbols()
	if err != nil {
		return nil, fmt.Errorf("can't read symbols: %w", err)
	}
	t := NewTable()
	for _, s := range syms {
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Value == 0 || s.Name == "" {
			continue
		}
		t.Add(Symbol{Name: s.Name, Addr: s.Value, Size: s.Size})
	}
	return t, nil
}

// Open reads the function symbols of the ELF file at path.
func Open(path string) (*Table, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return FromELF(f)
}
