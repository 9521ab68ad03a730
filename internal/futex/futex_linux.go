//go:build linux

package futex

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Linux futex operations, process-private.
const (
	FUTEX_WAIT_PRIVATE = 128 // FUTEX_WAIT | FUTEX_PRIVATE_FLAG
	FUTEX_WAKE_PRIVATE = 129 // FUTEX_WAKE | FUTEX_PRIVATE_FLAG
)

const futexSupported = true

// futexWait sleeps in the kernel while *addr == val. unix.Syscall6 goes
// through entersyscall, so the runtime hands the P to another M while this
// one is blocked.
func futexWait(addr *uint32, val uint32) error {
	// Re-check before entering the kernel; the kernel re-checks again
	// atomically with queueing us, which closes the lost-wake window.
	if atomic.LoadUint32(addr) != val {
		return nil
	}

	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		FUTEX_WAIT_PRIVATE,
		uintptr(val),
		0, // no timeout
		0,
		0,
	)

	switch errno {
	case 0, unix.EAGAIN, unix.EINTR:
		// woken, value already changed, or interrupted: all spurious to callers
		return nil
	case unix.ENOSYS:
		return fmt.Errorf("%w: %w", errUnsupported, errno)
	default:
		return fmt.Errorf("futex wait failed: %w", errno)
	}
}

// futexWake wakes up to n waiters on addr and returns how many were woken.
func futexWake(addr *uint32, n int) (int, error) {
	r1, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		FUTEX_WAKE_PRIVATE,
		uintptr(n),
		0,
		0,
		0,
	)

	switch errno {
	case 0:
		return int(r1), nil
	case unix.ENOSYS:
		return 0, fmt.Errorf("%w: %w", errUnsupported, errno)
	default:
		return 0, fmt.Errorf("futex wake failed: %w", errno)
	}
}
