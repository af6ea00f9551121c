package engine

import (
	"fmt"
	"strings"
)

// Stats counts what a session has done since Start.
type Stats struct {
	Events [numKinds]uint64 // events received, per kind

	Propagated   uint64 // rules applied while tracking
	Skipped      uint64 // propagating events ignored while idle
	Dropped      uint64 // unpropagated kinds seen while tracking
	Transitions  uint64 // window state changes
	TaintedBytes uint64 // bytes self-tainted by read-like syscalls

	PagesAllocated uint64 // shadow pages allocated over the session
	LivePages      int    // shadow pages currently held
	UniqueSets     int    // distinct register taint sets interned
}

// Total returns the number of events received.
func (st Stats) Total() uint64 {
	var n uint64
	for _, c := range st.Events {
		n += c
	}
	return n
}

// Count returns the number of events of kind k.
func (st Stats) Count(k Kind) uint64 {
	if k >= numKinds {
		return 0
	}
	return st.Events[k]
}

// String formats the non-zero counters on one line.
func (st Stats) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "events=%d", st.Total())
	for k, c := range st.Events {
		if c != 0 {
			fmt.Fprintf(&b, " %s=%d", Kind(k), c)
		}
	}
	fmt.Fprintf(&b, " propagated=%d skipped=%d dropped=%d transitions=%d tainted-bytes=%d pages=%d",
		st.Propagated, st.Skipped, st.Dropped, st.Transitions, st.TaintedBytes, st.LivePages)
	return b.String()
}
