// Package futex provides the "wait until changed" / "wake one" pair the
// channels block on.
//
// On Linux the pair maps to FUTEX_WAIT_PRIVATE and FUTEX_WAKE_PRIVATE. Other
// platforms, or RINGCHAN_WAIT_BACKEND=cond, use a table of mutex/cond buckets
// with the same contract: Wait may return without the value having changed,
// so callers always re-check their condition in a loop.
package futex

import (
	"errors"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/aradilov/ringchan/internal/config"
	"github.com/aradilov/ringchan/internal/logging"
)

const (
	backendFutex int32 = iota
	backendCond
)

var errUnsupported = errors.New("futex operations not supported on this platform")

var backend atomic.Int32

func init() {
	cfg, err := config.Get()
	if err != nil {
		logging.L().Error("invalid configuration, using defaults", zap.Error(err))
	}
	if cfg.WaitBackend == "cond" || !futexSupported {
		backend.Store(backendCond)
	}
}

// Backend reports the active implementation: "futex" or "cond".
func Backend() string {
	if backend.Load() == backendCond {
		return "cond"
	}
	return "futex"
}

// Wait blocks the calling goroutine while *addr == expected. It returns when
// the value differs, when WakeOne is called for addr, or spuriously.
func Wait(addr *uint32, expected uint32) {
	if backend.Load() == backendCond {
		condWait(addr, expected)
		return
	}
	if err := futexWait(addr, expected); err != nil {
		fallback(err)
	}
}

// WakeOne wakes at most one goroutine blocked in Wait on addr. Wakeups are
// not queued: with no waiter the call has no effect.
func WakeOne(addr *uint32) {
	if backend.Load() == backendCond {
		condWake(addr)
		return
	}
	if _, err := futexWake(addr, 1); err != nil {
		fallback(err)
		condWake(addr)
	}
}

// fallback switches to the portable backend when the kernel lacks futex
// support. Other errors are logged and the call is treated as spurious.
func fallback(err error) {
	if errors.Is(err, errUnsupported) {
		if backend.Swap(backendCond) != backendCond {
			logging.L().Warn("futex unavailable, switching to cond backend", zap.Error(err))
		}
		return
	}
	logging.L().Warn("futex call failed", zap.Error(err))
}
