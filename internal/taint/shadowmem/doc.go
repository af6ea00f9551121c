// Package shadowmem implements byte-granular shadow memory for taint tracking.
//
// Shadow memory records, for every byte of guest memory that ever received
// tainted data, the set of origin addresses that influenced it. It is the
// long-lived half of the taint state; temporaries and registers hold the
// short-lived half.
//
// # Overview
//
// The address space is covered by a two-level sparse table:
//
//	address = [ top index | page offset ]
//	            high bits    low PageBits bits
//
// The top level is a table of optional pages. A page is a dense array of
// taintset.Set values, one per byte. A page is allocated on the first Set
// into its range and is never freed until Release.
//
// For a 32-bit guest (Geometry32) the top level is a dense slice of 65536
// page slots and every page holds 65536 entries, the classic 64K x 64K
// layout. For a 64-bit guest (Geometry64) a dense top level would be
// 2^52 slots, so the top level becomes a sparse map keyed by page index and
// pages shrink to 4096 entries to match typical scattered 64-bit layouts.
//
// # Usage
//
//	sm := shadowmem.New(shadowmem.Geometry32)
//	if err := sm.Set(0x1000, 0x1000); err != nil {
//	    // page budget exhausted or address out of range: fatal for the session
//	}
//	s := sm.Get(0x1000) // {0x1000}
//
// # Accumulation
//
// Set inserts into the byte's existing set. A byte written by two tainted
// sources carries both origins; nothing in the engine ever clears an entry.
//
// # Thread Safety
//
// ShadowMemory is NOT safe for concurrent use. The analysis session guards
// it with a single mutex together with the temporaries table.
package shadowmem
