package lift

import (
	"golang.org/x/arch/x86/x86asm"

	"github.com/kolkov/ddetector/internal/vex"
)

// location is where a register lives in the guest state.
type location struct {
	offset int
	ty     vex.Ty
	// zext is set for 32-bit registers: writes clear the upper half.
	zext bool
}

// locate maps a decoded register to its guest state location.
func locate(r x86asm.Reg) (location, bool) {
	switch {
	case r >= x86asm.AL && r <= x86asm.R15B:
		k := int(r - x86asm.AL)
		switch {
		case k < 4:
			return location{offset: vex.GPROffset(k), ty: vex.I8}, true
		case k < 8: // ah, ch, dh, bh
			return location{offset: vex.GPROffset(k-4) + 1, ty: vex.I8}, true
		default:
			return location{offset: vex.GPROffset(k - 4), ty: vex.I8}, true
		}
	case r >= x86asm.AX && r <= x86asm.R15W:
		return location{offset: vex.GPROffset(int(r - x86asm.AX)), ty: vex.I16}, true
	case r >= x86asm.EAX && r <= x86asm.R15L:
		return location{offset: vex.GPROffset(int(r - x86asm.EAX)), ty: vex.I32, zext: true}, true
	case r >= x86asm.RAX && r <= x86asm.R15:
		return location{offset: vex.GPROffset(int(r - x86asm.RAX)), ty: vex.I64}, true
	}
	return location{}, false
}

func tyOfBytes(n int) vex.Ty {
	switch n {
	case 1:
		return vex.I8
	case 2:
		return vex.I16
	case 4:
		return vex.I32
	case 8:
		return vex.I64
	}
	return vex.TyInvalid
}
