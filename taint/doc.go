// Package taint tracks byte-level data dependencies through a running
// program.
//
// Every guest byte that a read-like syscall fills becomes an origin: its
// own address is its provenance identity. The engine follows those origins
// through register reads and writes, temporaries of the instrumented
// block, arithmetic and stores, so that at any point each tainted byte of
// memory carries the set of input addresses that influenced it.
//
// # Quick Start
//
// The ddetector command runs a static x86-64 ELF binary under the engine:
//
//	$ ddetector run ./prog < input.bin
//
// Embedders that produce their own instrumentation events drive a Session
// directly:
//
//	s, err := taint.NewSession(nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := s.Start(); err != nil {
//		log.Fatal(err)
//	}
//	defer s.End()
//
//	s.Handle(taint.FunctionEntry{Name: "main"})
//	s.Handle(taint.SyscallComplete{Thread: 1, Number: 0, Args: taint.SyscallArgs{0, buf, 16}, Result: 16})
//
// # API Overview
//
// The package provides:
//   - Session construction: [NewSession], [DefaultConfig], [LoadConfig]
//   - Events: [RegRead], [RegWrite], [Move], [BinOp], [Load], [Store],
//     [SyscallComplete], [FunctionEntry], [InstrBoundary] and the
//     operations that drop provenance by default ([UnOp], [TriOp], [QuadOp])
//   - Queries on the session: Memory, MemoryRange, Temp, RegisterTaint
//   - Reporting: [WriteReport]
//   - Version information: [GetInfo], [Version]
//
// # Trace Window
//
// Events only propagate between the entry point of the configured entry
// function (main by default) and the entry point of the exit function
// (exit by default). Outside the window they are counted and ignored.
// The window moves on FunctionEntry events, and on InstrBoundary events
// when the session has a symbol table ([WithSymbols]).
//
// # Propagation Gaps
//
// Loads, stores, unary, ternary and quaternary operations do not propagate
// by default: their destinations keep whatever taint they had. Enable them
// one by one through [Extensions] in the configuration.
//
// # Errors
//
// An event that breaks the engine's contract (a move from an invalid temp,
// a temp beyond the table) returns a [*ContractError] and aborts the
// session; every later event returns [ErrSessionAborted]. Exceeding the
// configured shadow page budget is fatal the same way.
package taint
