// Package taintset implements the provenance set carried by every shadow
// byte, temporary and register.
//
// A Set holds origin addresses: the addresses of input bytes whose contents
// causally influenced a value. Origins are kept sorted and unique in a
// capacity-amortized slice, so membership is a binary search and union is a
// linear merge.
//
// # Absent versus empty
//
// The zero Set is the absent entry: the slot has never been observed and
// holds no allocation. Empty() returns a present set with no origins, meaning
// the value was observed and carries no tracked provenance. Both answer
// Len() == 0; IsAbsent tells them apart.
//
// # Copy semantics
//
// Merge and Union copy origins into the destination and never alias the
// source's backing array. A Set handed to another owner must be passed
// through Clone first, which the shadow tables do on every store.
package taintset

import (
	"fmt"
	"strings"

	"golang.org/x/exp/slices"
)

// Origin is an address used as a provenance identity.
type Origin uint64

// String formats the origin as a hex address.
func (o Origin) String() string {
	return fmt.Sprintf("0x%x", uint64(o))
}

// Set is a set of origins. The zero value is the absent set.
type Set struct {
	origins []Origin // sorted ascending, no duplicates; nil means absent
}

// Empty returns a present set with no origins.
func Empty() Set {
	return Set{origins: []Origin{}}
}

// Of returns a set holding the given origins. Duplicates are collapsed.
func Of(origins ...Origin) Set {
	s := Set{origins: make([]Origin, 0, len(origins))}
	for _, o := range origins {
		s.Insert(o)
	}
	return s
}

// IsAbsent reports whether s is the zero (never observed) set.
func (s Set) IsAbsent() bool {
	return s.origins == nil
}

// IsEmpty reports whether s carries no origins. Absent sets are empty.
func (s Set) IsEmpty() bool {
	return len(s.origins) == 0
}

// Len returns the number of origins in s.
func (s Set) Len() int {
	return len(s.origins)
}

// Contains reports whether o is in s.
func (s Set) Contains(o Origin) bool {
	_, found := slices.BinarySearch(s.origins, o)
	return found
}

// Insert adds o to s. It reports whether o was newly added.
//
// Inserting into an absent set makes it present.
func (s *Set) Insert(o Origin) bool {
	i, found := slices.BinarySearch(s.origins, o)
	if found {
		return false
	}
	if s.origins == nil {
		s.origins = make([]Origin, 0, 1)
	}
	s.origins = slices.Insert(s.origins, i, o)
	return true
}

// Merge inserts every origin of src into dst. src is left unmodified and
// dst never shares src's backing array afterwards.
//
// Merging an absent src into an absent dst leaves dst absent. Merging a
// present empty src marks dst as present.
func Merge(dst *Set, src Set) {
	if src.origins == nil {
		return
	}
	if len(src.origins) == 0 {
		if dst.origins == nil {
			dst.origins = []Origin{}
		}
		return
	}
	if len(dst.origins) == 0 {
		dst.origins = slices.Clone(src.origins)
		return
	}
	if len(src.origins) == 1 {
		dst.Insert(src.origins[0])
		return
	}
	dst.origins = mergeSorted(dst.origins, src.origins)
}

// Union returns a new set holding the origins of a and b.
//
// The result is absent only when both inputs are absent.
func Union(a, b Set) Set {
	out := a.Clone()
	Merge(&out, b)
	return out
}

// mergeSorted merges two sorted, duplicate-free slices into a fresh slice.
func mergeSorted(a, b []Origin) []Origin {
	out := make([]Origin, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			out = append(out, a[i])
			i++
		case a[i] > b[j]:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}

// Clone returns an independent copy of s. Absent stays absent.
func (s Set) Clone() Set {
	if s.origins == nil {
		return Set{}
	}
	return Set{origins: slices.Clone(s.origins)}
}

// Origins returns the origins of s in ascending order. The slice is a copy.
func (s Set) Origins() []Origin {
	return slices.Clone(s.origins)
}

// ForEach calls fn for every origin in ascending order until fn returns false.
func (s Set) ForEach(fn func(Origin) bool) {
	for _, o := range s.origins {
		if !fn(o) {
			return
		}
	}
}

// Equal reports whether s and t hold the same origins. Absent and empty sets
// compare equal.
func (s Set) Equal(t Set) bool {
	return slices.Equal(s.origins, t.origins)
}

// String formats s as "{0x1000, 0x1001}".
func (s Set) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, o := range s.origins {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(o.String())
	}
	b.WriteByte('}')
	return b.String()
}
