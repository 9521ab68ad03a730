// Package ringchan provides the lock-free building blocks shared by the
// channel packages: an unbounded multi-producer single-consumer queue made of
// linked ring segments, a fixed-capacity slot arena, and the stats types the
// channels report.
//
// The channels themselves live in sub-packages:
//
//	mpsc     counting MPSC channel, futex wait on a message counter
//	directed MPSC channel waking one fixed consumer handle
//	oneshot  single-value handoff, refcounted or exclusively owned
package ringchan

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/aradilov/ringchan/internal/logging"
)

// ErrDisconnected is returned by a blocking receive when no sender remains
// and no message is buffered.
var ErrDisconnected = fmt.Errorf("channel is disconnected")

// slot is a sequence-numbered cell. seq controls visibility and ownership:
// a producer publishes position pos by storing seq = pos+1 after writing val.
type slot[T any] struct {
	seq atomic.Uint64
	val T
}

// SetLogger installs the logger used by every package of the module.
// By default nothing is logged.
func SetLogger(l *zap.Logger) {
	logging.Set(l)
}
