package guest

import (
	"errors"
	"io"

	"github.com/kolkov/ddetector/internal/syscalls"
)

// SyscallHandler services one syscall. It returns the guest result (a
// negative errno on failure); a non-nil error stops the machine.
type SyscallHandler func(m *Machine, args syscalls.Args) (int64, error)

// maxIO caps the bytes moved by a single read or write.
const maxIO = 1 << 20

func defaultHandlers() map[uint64]SyscallHandler {
	return map[uint64]SyscallHandler{
		syscalls.NumRead:      sysRead,
		syscalls.NumWrite:     sysWrite,
		syscalls.NumExit:      sysExit,
		syscalls.NumExitGroup: sysExit,
	}
}

// sysRead: read(fd, buf, count). Only fd 0 is open.
func sysRead(m *Machine, args syscalls.Args) (int64, error) {
	fd, buf, count := args[0], args[1], args[2]
	if fd != 0 {
		return -syscalls.ErrnoBADF, nil
	}
	if count == 0 {
		return 0, nil
	}
	if count > maxIO {
		count = maxIO
	}
	if !m.mem.Mapped(buf) {
		return -syscalls.ErrnoFAULT, nil
	}

	data := make([]byte, count)
	n, err := io.ReadAtLeast(m.stdin, data, 1)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	if err := m.mem.Write(buf, data[:n]); err != nil {
		return -syscalls.ErrnoFAULT, nil
	}
	return int64(n), nil
}

// sysWrite: write(fd, buf, count). fd 1 and 2 are open.
func sysWrite(m *Machine, args syscalls.Args) (int64, error) {
	fd, buf, count := args[0], args[1], args[2]
	var w io.Writer
	switch fd {
	case 1:
		w = m.stdout
	case 2:
		w = m.stderr
	default:
		return -syscalls.ErrnoBADF, nil
	}
	if count > maxIO {
		count = maxIO
	}
	data := make([]byte, count)
	if err := m.mem.Read(buf, data); err != nil {
		return -syscalls.ErrnoFAULT, nil
	}
	n, err := w.Write(data)
	if err != nil {
		return 0, err
	}
	return int64(n), nil
}

func sysExit(m *Machine, args syscalls.Args) (int64, error) {
	m.exit(int(int32(args[0])))
	return 0, nil
}

func sysNosys(*Machine, syscalls.Args) (int64, error) {
	return -syscalls.ErrnoNOSYS, nil
}
