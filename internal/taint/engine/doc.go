// Package engine implements dynamic data-dependency propagation.
//
// A Session owns all shadow state of one analysis: shadow memory, the shadow
// temp table, the set depot backing register shadows, and the tracing
// window. The instrumentation layer delivers Events to Session.Handle
// synchronously and in program order; the session applies one propagation
// rule per event kind:
//
//	RegRead          temp := shadow(register)
//	RegWrite         shadow(register) := temp (empty for a constant)
//	Move             dst := src (src must be a valid temp)
//	BinOp            dst := A ∪ B (constants contribute nothing)
//	UnOp, TriOp,
//	QuadOp, Load     dst := {} unless the matching Extension is on
//	Store            not propagated unless Extensions.Stores is on
//	InstrBoundary    window transition if the address is a function entry
//	FunctionEntry    window transition by name
//	SyscallComplete  each byte b of a read-like destination: mem[b] ∪= {b}
//
// Rules fire only while the window is Tracking. While Idle no shadow state
// is touched.
//
// # Register Shadows
//
// The register shadow area is byte-addressed like the guest state. The
// session divides it into 8-byte slots and stores one set-depot handle per
// slot. A register access covers every slot overlapping
// [offset, offset+size): a write stores the same handle in each, a read
// unions the sets of all of them. Sub-registers therefore share the taint of
// their containing slot.
//
// # Errors
//
// Contract violations by the instrumentation layer (a move from an invalid
// temp, an out-of-range temp id, an unknown event) and resource exhaustion
// (shadow page budget) abort the session: Handle returns the cause once and
// ErrSessionAborted for every later event.
//
// # Thread Safety
//
// All Session methods are safe for concurrent use; a single mutex serializes
// them. Interleaving between guest threads is not modeled.
package engine
