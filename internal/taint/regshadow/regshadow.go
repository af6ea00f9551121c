// Package regshadow provides per-thread register shadow storage.
//
// Each guest thread owns a shadow copy of its register file: a byte array
// laid out exactly like the guest state, so that the shadow of the register
// at guest offset N lives at shadow offset N. The taint engine stores an
// 8-byte set-depot handle at a register's offset.
//
// Storage is the interface the engine consumes; Area is the in-process
// implementation used by the guest runtime and tests. A real binary
// translation framework would provide its own Storage over the shadow half
// of its guest state.
package regshadow

import "fmt"

// ThreadID identifies a guest thread.
type ThreadID uint32

// Storage is byte-addressed shadow register storage.
type Storage interface {
	// Get returns size shadow bytes at offset for thread tid. Bytes never
	// written read as zero.
	Get(tid ThreadID, offset, size int) []byte
	// Set writes len(b) shadow bytes at offset for thread tid. size is the
	// width of the guest register being shadowed and may differ from len(b).
	Set(tid ThreadID, offset, size int, b []byte)
}

// DefaultAreaSize covers the amd64 guest state layout used by the lifter
// with room to spare.
const DefaultAreaSize = 1024

// Area is a Storage backed by one growable byte slice per thread.
//
// Layout:
//   - threads[tid]: shadow bytes, index == guest state offset
//   - grown on demand to the highest written offset
//
// Thread Safety: NOT safe for concurrent use.
type Area struct {
	threads map[ThreadID][]byte
	size    int
}

// NewArea creates an empty shadow area whose per-thread arrays start at size
// bytes. size <= 0 selects DefaultAreaSize.
func NewArea(size int) *Area {
	if size <= 0 {
		size = DefaultAreaSize
	}
	return &Area{threads: make(map[ThreadID][]byte), size: size}
}

// bytes returns tid's shadow array grown to hold end bytes.
func (a *Area) bytes(tid ThreadID, end int) []byte {
	buf := a.threads[tid]
	if len(buf) >= end {
		return buf
	}
	n := a.size
	for n < end {
		n *= 2
	}
	grown := make([]byte, n)
	copy(grown, buf)
	a.threads[tid] = grown
	return grown
}

// Get implements Storage.
func (a *Area) Get(tid ThreadID, offset, size int) []byte {
	out := make([]byte, size)
	if offset < 0 || size <= 0 {
		return out
	}
	buf := a.threads[tid]
	if offset < len(buf) {
		copy(out, buf[offset:])
	}
	return out
}

// Set implements Storage.
func (a *Area) Set(tid ThreadID, offset, size int, b []byte) {
	if offset < 0 {
		panic(fmt.Sprintf("regshadow: negative offset %d", offset))
	}
	buf := a.bytes(tid, offset+len(b))
	copy(buf[offset:], b)
}

// Threads returns the number of threads with a shadow array.
func (a *Area) Threads() int {
	return len(a.threads)
}

// Release drops every thread's shadow array.
func (a *Area) Release() {
	a.threads = make(map[ThreadID][]byte)
}
