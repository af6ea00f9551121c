// Package syscalls decodes completed guest syscalls into the memory ranges
// they filled from an external source.
//
// A read-like syscall is described by a Spec naming which raw argument holds
// the destination buffer and which holds its capacity. On completion the
// engine asks the Table for the range actually written: [buf, buf+result),
// clamped to the capacity. Failed and zero-length reads write nothing, and
// neither does a range that would wrap past the top of the address space.
package syscalls

import (
	"fmt"
	"sort"
)

// MaxArgs is the number of raw syscall arguments captured per call.
const MaxArgs = 6

// Args holds the raw argument registers of one syscall.
type Args [MaxArgs]uint64

// Spec describes one read-like syscall.
type Spec struct {
	Number uint64
	Name   string
	BufArg int // index of the destination buffer argument
	LenArg int // index of the buffer capacity argument
}

// Validate checks argument indexes.
func (s Spec) Validate() error {
	if s.BufArg < 0 || s.BufArg >= MaxArgs {
		return fmt.Errorf("syscall %s(%d): buffer argument %d out of range", s.Name, s.Number, s.BufArg)
	}
	if s.LenArg < 0 || s.LenArg >= MaxArgs {
		return fmt.Errorf("syscall %s(%d): length argument %d out of range", s.Name, s.Number, s.LenArg)
	}
	if s.BufArg == s.LenArg {
		return fmt.Errorf("syscall %s(%d): buffer and length share argument %d", s.Name, s.Number, s.BufArg)
	}
	return nil
}

// Range is a guest memory range [Addr, Addr+Len).
type Range struct {
	Addr uint64
	Len  uint64
}

// End returns the first address past the range.
func (r Range) End() uint64 { return r.Addr + r.Len }

func (r Range) String() string {
	return fmt.Sprintf("[0x%x, 0x%x)", r.Addr, r.End())
}

// Table maps syscall numbers to read-like specs.
type Table struct {
	specs map[uint64]Spec
}

// Builtin returns the read-like syscalls known out of the box.
func Builtin() []Spec {
	return []Spec{
		{Number: NumRead, Name: "read", BufArg: 1, LenArg: 2},
		{Number: NumPread64, Name: "pread64", BufArg: 1, LenArg: 2},
		{Number: NumRecvfrom, Name: "recvfrom", BufArg: 1, LenArg: 2},
	}
}

// NewTable creates a table holding the builtin specs followed by extra.
// A later spec with the same number replaces an earlier one.
func NewTable(extra ...Spec) (*Table, error) {
	t := &Table{specs: make(map[uint64]Spec)}
	for _, s := range Builtin() {
		t.specs[s.Number] = s
	}
	for _, s := range extra {
		if err := t.Add(s); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Default returns a table with only the builtin specs.
func Default() *Table {
	t, err := NewTable()
	if err != nil {
		panic(err) // builtins are valid
	}
	return t
}

// Add registers or replaces a spec.
func (t *Table) Add(s Spec) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if s.Name == "" {
		s.Name = Name(s.Number)
	}
	t.specs[s.Number] = s
	return nil
}

// Lookup returns the spec for a syscall number.
func (t *Table) Lookup(number uint64) (Spec, bool) {
	s, ok := t.specs[number]
	return s, ok
}

// Decode returns the destination range filled by a completed syscall.
// ok is false when the syscall is not read-like or wrote nothing
// (result <= 0).
func (t *Table) Decode(number uint64, args Args, result int64) (r Range, ok bool) {
	s, found := t.specs[number]
	if !found || result <= 0 {
		return Range{}, false
	}
	n := uint64(result)
	if capacity := args[s.LenArg]; n > capacity {
		n = capacity
	}
	buf := args[s.BufArg]
	if n == 0 || buf+n < buf {
		// Nothing written, or a buffer running past the top of the
		// address space.
		return Range{}, false
	}
	return Range{Addr: buf, Len: n}, true
}

// Specs returns all specs ordered by number.
func (t *Table) Specs() []Spec {
	out := make([]Spec, 0, len(t.specs))
	for _, s := range t.specs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

// Name returns a printable name for a guest syscall number.
func Name(number uint64) string {
	switch number {
	case NumRead:
		return "read"
	case NumWrite:
		return "write"
	case NumPread64:
		return "pread64"
	case NumRecvfrom:
		return "recvfrom"
	case NumExit:
		return "exit"
	case NumExitGroup:
		return "exit_group"
	default:
		return fmt.Sprintf("sys_%d", number)
	}
}
