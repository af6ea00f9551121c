//go:build !(linux && amd64)

package syscalls

// Guest syscall numbers of the linux/amd64 ABI, for hosts whose
// golang.org/x/sys/unix constants describe a different ABI.
const (
	NumRead      = 0
	NumWrite     = 1
	NumPread64   = 17
	NumRecvfrom  = 45
	NumExit      = 60
	NumExitGroup = 231
)

// Guest errno values returned as negative syscall results.
const (
	ErrnoBADF  = 9
	ErrnoFAULT = 14
	ErrnoNOSYS = 38
	ErrnoINVAL = 22
)
