//go:build !linux

package futex

const futexSupported = false

func futexWait(addr *uint32, val uint32) error {
	return errUnsupported
}

func futexWake(addr *uint32, n int) (int, error) {
	return 0, errUnsupported
}
