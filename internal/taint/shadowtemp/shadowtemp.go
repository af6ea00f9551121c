// Package shadowtemp holds the taint of block-local temporaries.
//
// Temporaries are the SSA-like values of one translated block. The table is
// a single dense slice sized to the maximum temp count and reused across
// blocks without clearing. Every event with a destination temp assigns it,
// including operations whose provenance is dropped, so a stale entry from an
// earlier block is overwritten before it can be observed.
package shadowtemp

import (
	"fmt"

	"github.com/kolkov/ddetector/internal/taint/taintset"
)

// TempID indexes a temporary within a block.
type TempID int32

// Invalid is the sentinel temp. Get on it yields the absent set and Set on
// it is a no-op.
const Invalid TempID = -1

// DefaultMaxTemps is the table size used when none is configured.
const DefaultMaxTemps = 1 << 16

// Valid reports whether t is not the Invalid sentinel.
func (t TempID) Valid() bool {
	return t != Invalid
}

// String formats t as "t5".
func (t TempID) String() string {
	if t == Invalid {
		return "t<invalid>"
	}
	return fmt.Sprintf("t%d", int32(t))
}

// RangeError reports a temp index beyond the table size.
type RangeError struct {
	Temp TempID
	Max  int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("shadowtemp: %s out of range [0, %d)", e.Temp, e.Max)
}

// Table maps temporaries to taint sets.
type Table struct {
	sets []taintset.Set
}

// New creates a table for n temporaries. n <= 0 selects DefaultMaxTemps.
func New(n int) *Table {
	if n <= 0 {
		n = DefaultMaxTemps
	}
	return &Table{sets: make([]taintset.Set, n)}
}

// Cap returns the number of temporaries the table holds.
func (tb *Table) Cap() int {
	return len(tb.sets)
}

// Get returns a copy of t's taint set. Invalid, never-written and
// out-of-range temps return the absent set.
func (tb *Table) Get(t TempID) taintset.Set {
	return tb.View(t).Clone()
}

// View returns t's stored set without copying. The result must not be mutated.
//
//go:nosplit
func (tb *Table) View(t TempID) taintset.Set {
	if t < 0 || int(t) >= len(tb.sets) {
		return taintset.Set{}
	}
	return tb.sets[t]
}

// Set replaces t's taint with a copy of s. A fresh assignment fully
// determines the temp's provenance; nothing carries over from earlier uses.
//
// Set on Invalid is a no-op. An index beyond the table returns *RangeError.
func (tb *Table) Set(t TempID, s taintset.Set) error {
	if t == Invalid {
		return nil
	}
	if t < 0 || int(t) >= len(tb.sets) {
		return &RangeError{Temp: t, Max: len(tb.sets)}
	}
	if s.IsAbsent() {
		// Observed, no provenance.
		tb.sets[t] = taintset.Empty()
		return nil
	}
	tb.sets[t] = s.Clone()
	return nil
}

// Release drops the table.
func (tb *Table) Release() {
	tb.sets = nil
}
