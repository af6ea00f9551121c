package guest

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/exp/slices"
)

// PageSize is the guest page granule.
const PageSize = 4096

// FaultError reports an access to unmapped guest memory.
type FaultError struct {
	Addr  uint64
	Size  int
	Write bool
}

func (e *FaultError) Error() string {
	op := "read"
	if e.Write {
		op = "write"
	}
	return fmt.Sprintf("guest: %s fault at 0x%x (%d bytes)", op, e.Addr, e.Size)
}

// Memory is sparse little-endian guest memory. Pages exist only once
// mapped; accesses outside mapped pages fault.
type Memory struct {
	pages map[uint64]*[PageSize]byte
}

// NewMemory creates an empty address space.
func NewMemory() *Memory {
	return &Memory{pages: make(map[uint64]*[PageSize]byte)}
}

// Map makes [addr, addr+size) accessible, zero filled. Already mapped pages
// keep their contents.
func (m *Memory) Map(addr, size uint64) {
	if size == 0 {
		return
	}
	for p := addr / PageSize; p <= (addr+size-1)/PageSize; p++ {
		if m.pages[p] == nil {
			m.pages[p] = new([PageSize]byte)
		}
	}
}

// Mapped reports whether addr is accessible.
func (m *Memory) Mapped(addr uint64) bool {
	return m.pages[addr/PageSize] != nil
}

// Pages returns the number of mapped pages.
func (m *Memory) Pages() int {
	return len(m.pages)
}

// Regions returns the mapped ranges in address order, adjacent pages merged.
func (m *Memory) Regions() [][2]uint64 {
	idx := make([]uint64, 0, len(m.pages))
	for p := range m.pages {
		idx = append(idx, p)
	}
	slices.Sort(idx)

	var out [][2]uint64
	for _, p := range idx {
		start := p * PageSize
		if n := len(out); n > 0 && out[n-1][1] == start {
			out[n-1][1] = start + PageSize
			continue
		}
		out = append(out, [2]uint64{start, start + PageSize})
	}
	return out
}

func (m *Memory) check(addr uint64, size int, write bool) error {
	if size == 0 {
		return nil
	}
	end := addr + uint64(size) - 1
	if end < addr {
		return &FaultError{Addr: addr, Size: size, Write: write}
	}
	for p := addr / PageSize; p <= end/PageSize; p++ {
		if m.pages[p] == nil {
			return &FaultError{Addr: addr, Size: size, Write: write}
		}
	}
	return nil
}

// Read fills b from guest memory at addr.
func (m *Memory) Read(addr uint64, b []byte) error {
	if err := m.check(addr, len(b), false); err != nil {
		return err
	}
	for n := 0; n < len(b); {
		a := addr + uint64(n)
		pg := m.pages[a/PageSize]
		n += copy(b[n:], pg[a%PageSize:])
	}
	return nil
}

// Write copies b into guest memory at addr. Nothing is written on fault.
func (m *Memory) Write(addr uint64, b []byte) error {
	if err := m.check(addr, len(b), true); err != nil {
		return err
	}
	for n := 0; n < len(b); {
		a := addr + uint64(n)
		pg := m.pages[a/PageSize]
		n += copy(pg[a%PageSize:], b[n:])
	}
	return nil
}

// ReadUint reads a size-byte little-endian value. Bytes beyond the eighth
// are read but not returned.
func (m *Memory) ReadUint(addr uint64, size int) (uint64, error) {
	var buf [16]byte
	if size > len(buf) {
		size = len(buf)
	}
	if err := m.Read(addr, buf[:size]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:8]), nil
}

// WriteUint writes the low size bytes of v little endian.
func (m *Memory) WriteUint(addr uint64, size int, v uint64) error {
	var buf [16]byte
	if size > len(buf) {
		size = len(buf)
	}
	binary.LittleEndian.PutUint64(buf[:8], v)
	return m.Write(addr, buf[:size])
}

// Fetch returns a copy of up to limit bytes starting at addr, stopping at the
// first unmapped page.
func (m *Memory) Fetch(addr uint64, limit int) []byte {
	out := make([]byte, 0, limit)
	for len(out) < limit {
		a := addr + uint64(len(out))
		pg := m.pages[a/PageSize]
		if pg == nil {
			break
		}
		chunk := pg[a%PageSize:]
		if rem := limit - len(out); len(chunk) > rem {
			chunk = chunk[:rem]
		}
		out = append(out, chunk...)
	}
	return out
}
