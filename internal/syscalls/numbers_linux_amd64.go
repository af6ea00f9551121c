//go:build linux && amd64

package syscalls

import "golang.org/x/sys/unix"

// Guest syscall numbers. On a linux/amd64 host they come straight from the
// host ABI.
const (
	NumRead      = unix.SYS_READ
	NumWrite     = unix.SYS_WRITE
	NumPread64   = unix.SYS_PREAD64
	NumRecvfrom  = unix.SYS_RECVFROM
	NumExit      = unix.SYS_EXIT
	NumExitGroup = unix.SYS_EXIT_GROUP
)

// Guest errno values returned as negative syscall results.
const (
	ErrnoBADF  = int64(unix.EBADF)
	ErrnoFAULT = int64(unix.EFAULT)
	ErrnoNOSYS = int64(unix.ENOSYS)
	ErrnoINVAL = int64(unix.EINVAL)
)
