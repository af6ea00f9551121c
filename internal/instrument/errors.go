// Package instrument - Error types for block instrumentation.
//
// Errors point at the guest instruction whose statements could not be
// instrumented and may carry a suggestion.
//
// Example output:
//
//	block 0x401000, insn 0x401003, stmt 4: block uses 70000 temps, shadow table holds 65536
//
//	Suggestion: raise max-temps in the configuration
package instrument

import "fmt"

// InstrumentationError represents an error during instrumentation with context.
//
// Fields:
//   - Block: Guest address of the translated unit
//   - Insn: Guest address of the instruction being instrumented (0 if none yet)
//   - Index: Statement index within the block (-1 for block-level errors)
//   - Message: Human-readable error description
//   - Suggestion: Optional hint for fixing the error
//   - Err: Underlying cause, if any
//
// Thread Safety: Immutable after creation, safe for concurrent use.
type InstrumentationError struct {
	Block      uint64
	Insn       uint64
	Index      int
	Message    string
	Suggestion string
	Err        error
}

// Error implements the error interface.
//
// Format: block 0x..., insn 0x..., stmt N: message
//
// If Suggestion is non-empty, it's appended on a new line with "Suggestion: " prefix.
func (e *InstrumentationError) Error() string {
	result := fmt.Sprintf("block 0x%x", e.Block)
	if e.Insn != 0 {
		result += fmt.Sprintf(", insn 0x%x", e.Insn)
	}
	if e.Index >= 0 {
		result += fmt.Sprintf(", stmt %d", e.Index)
	}
	result += ": " + e.Message
	if e.Suggestion != "" {
		result += fmt.Sprintf("\n\nSuggestion: %s", e.Suggestion)
	}
	return result
}

// Unwrap returns the underlying cause.
func (e *InstrumentationError) Unwrap() error { return e.Err }

// NewInstrumentationError creates an error located at statement index of a
// block whose current instruction is insn.
func NewInstrumentationError(block, insn uint64, index int, msg string) *InstrumentationError {
	return &InstrumentationError{
		Block:   block,
		Insn:    insn,
		Index:   index,
		Message: msg,
	}
}

// NewInstrumentationErrorWithSuggestion creates an error with suggestion.
//
// Use this when you can provide actionable guidance to the user.
func NewInstrumentationErrorWithSuggestion(block, insn uint64, index int, msg, suggestion string) *InstrumentationError {
	err := NewInstrumentationError(block, insn, index, msg)
	err.Suggestion = suggestion
	return err
}
