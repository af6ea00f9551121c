// Package taint provides the public API of the ddetector taint engine.
//
// See doc.go for detailed documentation and examples.
package taint

import (
	"io"

	"github.com/kolkov/ddetector/internal/config"
	"github.com/kolkov/ddetector/internal/report"
	"github.com/kolkov/ddetector/internal/symbols"
	"github.com/kolkov/ddetector/internal/syscalls"
	"github.com/kolkov/ddetector/internal/taint/engine"
	"github.com/kolkov/ddetector/internal/taint/shadowtemp"
	"github.com/kolkov/ddetector/internal/taint/taintset"
)

// Session is one analysis session: shadow memory, temps, register shadow
// and the trace window, alive between Start and End.
type Session = engine.Session

// Config holds session settings. Start from DefaultConfig or LoadConfig.
type Config = config.Config

// Extensions enables propagation through operation kinds that drop
// provenance by default.
type Extensions = config.Extensions

// Option configures a Session.
type Option = engine.Option

// Origin is the address of an input byte, used as a provenance identity.
type Origin = taintset.Origin

// Set is a set of origins. The zero Set is absent; see [taintset.Set].
type Set = taintset.Set

// Temp identifies a temporary of the instrumented block.
type Temp = shadowtemp.TempID

// Event is one instrumentation event. Its implementations are the types
// below and no others.
type Event = engine.Event

// Event types.
type (
	RegRead         = engine.RegRead
	RegWrite        = engine.RegWrite
	Move            = engine.Move
	BinOp           = engine.BinOp
	UnOp            = engine.UnOp
	TriOp           = engine.TriOp
	QuadOp          = engine.QuadOp
	Load            = engine.Load
	Store           = engine.Store
	InstrBoundary   = engine.InstrBoundary
	FunctionEntry   = engine.FunctionEntry
	SyscallComplete = engine.SyscallComplete
)

// Operand is an operation input: a temp or a literal constant.
type Operand = engine.Operand

// SyscallArgs holds the raw arguments of a completed syscall.
type SyscallArgs = syscalls.Args

// Symbol is a named function entry point.
type Symbol = symbols.Symbol

// Errors returned by Session methods.
var (
	ErrNotStarted     = engine.ErrNotStarted
	ErrAlreadyStarted = engine.ErrAlreadyStarted
	ErrSessionAborted = engine.ErrSessionAborted
)

// ContractError reports an event that violates the engine's contract.
// It aborts the session.
type ContractError = engine.ContractError

// DefaultConfig returns the default configuration: window main..exit,
// amd64 geometry, every documented propagation gap in place.
func DefaultConfig() *Config {
	return config.NewDefault()
}

// LoadConfig reads and validates a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// NewSession creates a session. A nil cfg selects DefaultConfig. Call
// Start before sending events and End to release shadow memory:
//
//	s, err := taint.NewSession(nil)
//	if err != nil {
//		return err
//	}
//	if err := s.Start(); err != nil {
//		return err
//	}
//	defer s.End()
func NewSession(cfg *Config, opts ...Option) (*Session, error) {
	return engine.NewSession(cfg, opts...)
}

// Tmp returns a temp operand.
func Tmp(t Temp) Operand { return engine.Tmp(t) }

// Const returns a constant operand. Constants carry no provenance.
func Const(v uint64) Operand { return engine.Const(v) }

// Of returns a set holding origins.
func Of(origins ...Origin) Set { return taintset.Of(origins...) }

// WithSymbols makes instruction boundaries move the trace window when
// they land on the entry point of a listed function.
func WithSymbols(syms ...Symbol) Option {
	return engine.WithResolver(symbols.NewTable(syms...))
}

// WithLogOutput sends session logs to w at the named level ("error",
// "warn", "info", "debug", "trace").
func WithLogOutput(w io.Writer, level string) (Option, error) {
	lvl, err := config.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	return engine.WithLogger(config.NewLogGroupTo(w, lvl)), nil
}

// WithoutLogging silences the session.
func WithoutLogging() Option {
	return engine.WithLogger(config.Discard())
}

// WriteReport writes a plain text summary of the session's tainted memory
// to w: merged ranges, dependency clusters and set size statistics.
// The session must be started.
func WriteReport(w io.Writer, s *Session) error {
	r := report.Build(s)
	st := s.Stats()
	r.Engine = &st
	r.Window = s.Window().String()
	return report.NewTextWriter(w).Write(r)
}
