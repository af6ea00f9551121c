package vex

import "fmt"

// Guest state layout of an amd64 guest. Offsets are in bytes; every
// integer register occupies 8 bytes.
const (
	OffsetRAX = 16 + 8*iota
	OffsetRCX
	OffsetRDX
	OffsetRBX
	OffsetRSP
	OffsetRBP
	OffsetRSI
	OffsetRDI
	OffsetR8
	OffsetR9
	OffsetR10
	OffsetR11
	OffsetR12
	OffsetR13
	OffsetR14
	OffsetR15

	// Lazy condition codes: the operands of the last flag-setting
	// instruction.
	OffsetCCOp
	OffsetCCDep1
	OffsetCCDep2
	OffsetCCNDep

	OffsetDFlag
	OffsetRIP

	// GuestStateSize is the size of the amd64 guest state.
	GuestStateSize
)

// NumGPR is the number of general purpose registers.
const NumGPR = 16

var gprNames = [NumGPR]string{
	"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi",
	"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
}

// GPROffset returns the guest state offset of general purpose register i
// in encoding order (rax, rcx, rdx, rbx, rsp, rbp, rsi, rdi, r8..r15).
func GPROffset(i int) int { return OffsetRAX + 8*i }

// RegisterName returns the name of the guest register at offset, with a
// byte suffix for offsets inside a register ("rax+1").
func RegisterName(offset int) string {
	base := offset &^ 7
	var name string
	switch {
	case base >= OffsetRAX && base <= OffsetR15:
		name = gprNames[(base-OffsetRAX)/8]
	case base == OffsetCCOp:
		name = "cc_op"
	case base == OffsetCCDep1:
		name = "cc_dep1"
	case base == OffsetCCDep2:
		name = "cc_dep2"
	case base == OffsetCCNDep:
		name = "cc_ndep"
	case base == OffsetDFlag:
		name = "dflag"
	case base == OffsetRIP:
		name = "rip"
	default:
		return fmt.Sprintf("off%d", offset)
	}
	if offset != base {
		return fmt.Sprintf("%s+%d", name, offset-base)
	}
	return name
}

// LookupRegister returns the offset of a register by name.
func LookupRegister(name string) (int, bool) {
	for i, n := range gprNames {
		if n == name {
			return GPROffset(i), true
		}
	}
	switch name {
	case "rip":
		return OffsetRIP, true
	case "cc_dep1":
		return OffsetCCDep1, true
	case "cc_dep2":
		return OffsetCCDep2, true
	}
	return 0, false
}

// Syscall ABI of an amd64 guest: number in rax, arguments in rdi, rsi,
// rdx, r10, r8, r9, result in rax.
var SyscallArgOffsets = [6]int{OffsetRDI, OffsetRSI, OffsetRDX, OffsetR10, OffsetR8, OffsetR9}
