// Package setdepot interns taint sets behind fixed-width handles.
//
// The register shadow area is a byte array laid out like the guest register
// file, so it can only hold fixed-size values. The depot stores each distinct
// taint set once and hands out an 8-byte handle that fits in that area.
//
// Design (adapted from a stack depot):
//   - Interned sets are immutable; callers clone before mutating
//   - Deduplication by FNV-1a hash of the sorted origins, verified by Equal
//   - Handle 0 (None) is reserved for "no provenance"
//   - Grows until Release; register shadows are few and sets repeat heavily
//
// Usage:
//
//	d := setdepot.New()
//	h := d.Intern(taintset.Of(0x1000))
//	var buf [setdepot.HandleSize]byte
//	setdepot.Put(buf[:], h)
//	s := d.Lookup(setdepot.Get(buf[:])) // {0x1000}
//
// Thread Safety: NOT safe for concurrent use; the session mutex guards it.
package setdepot

import (
	"encoding/binary"
	"hash/fnv"

	"github.com/kolkov/ddetector/internal/taint/taintset"
)

// HandleSize is the byte width of an encoded handle.
const HandleSize = 8

// Handle identifies an interned set.
type Handle uint64

// None is the handle of the empty set. Zeroed shadow bytes decode to None.
const None Handle = 0

// Depot is a deduplicating store of immutable taint sets.
type Depot struct {
	sets   []taintset.Set      // sets[h-1] is the set of handle h
	byHash map[uint64][]Handle // FNV-1a hash -> handles with that hash
}

// New creates an empty depot.
func New() *Depot {
	return &Depot{byHash: make(map[uint64][]Handle)}
}

// Intern returns the handle of s, storing a copy of s on first sight.
// Empty and absent sets intern to None.
//
// Performance: one hash over the origins plus a map lookup; allocates only
// for a new distinct set.
func (d *Depot) Intern(s taintset.Set) Handle {
	if s.IsEmpty() {
		return None
	}

	h := hashSet(s)
	for _, cand := range d.byHash[h] {
		if d.sets[cand-1].Equal(s) {
			return cand
		}
	}

	d.sets = append(d.sets, s.Clone())
	handle := Handle(len(d.sets))
	d.byHash[h] = append(d.byHash[h], handle)
	return handle
}

// Lookup returns the set stored under h. None and unknown handles yield the
// absent set. The result is shared and must not be mutated.
func (d *Depot) Lookup(h Handle) taintset.Set {
	if h == None || uint64(h) > uint64(len(d.sets)) {
		return taintset.Set{}
	}
	return d.sets[h-1]
}

// Known reports whether h was returned by Intern (None is always known).
func (d *Depot) Known(h Handle) bool {
	return h == None || uint64(h) <= uint64(len(d.sets))
}

// Len returns the number of distinct non-empty sets stored.
func (d *Depot) Len() int {
	return len(d.sets)
}

// Stats returns the number of distinct sets and the total origins they hold.
//
// Performance: O(N) over stored sets. Do not call on the hot path.
func (d *Depot) Stats() (uniqueSets, totalOrigins int) {
	for _, s := range d.sets {
		totalOrigins += s.Len()
	}
	return len(d.sets), totalOrigins
}

// Release drops every stored set. Handles issued earlier become unknown.
func (d *Depot) Release() {
	d.sets = nil
	d.byHash = make(map[uint64][]Handle)
}

// Put encodes h into the first HandleSize bytes of b (little endian).
func Put(b []byte, h Handle) {
	binary.LittleEndian.PutUint64(b[:HandleSize], uint64(h))
}

// Get decodes a handle from the first HandleSize bytes of b. Shorter
// buffers are zero-extended.
func Get(b []byte) Handle {
	if len(b) >= HandleSize {
		return Handle(binary.LittleEndian.Uint64(b[:HandleSize]))
	}
	var tmp [HandleSize]byte
	copy(tmp[:], b)
	return Handle(binary.LittleEndian.Uint64(tmp[:]))
}

// hashSet computes the FNV-1a hash of the sorted origins of s.
func hashSet(s taintset.Set) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	s.ForEach(func(o taintset.Origin) bool {
		binary.LittleEndian.PutUint64(buf[:], uint64(o))
		_, _ = h.Write(buf[:]) // Write never returns an error for hash.Hash.
		return true
	})
	return h.Sum64()
}
