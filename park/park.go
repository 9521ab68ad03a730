// Package park provides explicit goroutine parking handles.
//
// A Thread is the wake target recorded by directed channels and oneshot
// slots. Whoever consumes from such a channel parks on the handle; senders
// unpark it. The handle is created by the consumer and passed explicitly at
// channel construction, so the wake target never depends on which goroutine
// happened to build the channel.
package park

import (
	"sync/atomic"

	"github.com/aradilov/ringchan/internal/futex"
)

const (
	empty    uint32 = 0
	notified uint32 = 1
	parked   uint32 = ^uint32(0) // empty - 1
)

// Thread is a parking handle for a single consumer goroutine.
//
// Unpark stores at most one token: an Unpark that happens before Park makes
// that Park return immediately. Park may also return spuriously, so callers
// re-check their condition in a loop. Only one goroutine may Park on a handle
// at a time; any number may Unpark it.
type Thread struct {
	state uint32
	name  string
}

// NewThread creates a handle. The name is only used in logs and stats.
func NewThread(name string) *Thread {
	return &Thread{name: name}
}

// Name returns the handle name.
func (t *Thread) Name() string {
	return t.name
}

// Park blocks until a token is available and consumes it.
func (t *Thread) Park() {
	// notified -> empty consumes the token; empty -> parked announces sleep.
	if atomic.AddUint32(&t.state, ^uint32(0)) == empty {
		return
	}
	for {
		futex.Wait(&t.state, parked)
		if atomic.CompareAndSwapUint32(&t.state, notified, empty) {
			return
		}
		// spurious wakeup, still parked
	}
}

// Unpark makes a token available and wakes the parked goroutine if any.
func (t *Thread) Unpark() {
	if atomic.SwapUint32(&t.state, notified) == parked {
		futex.WakeOne(&t.state)
	}
}

// Notified reports whether a token is pending. Advisory only.
func (t *Thread) Notified() bool {
	return atomic.LoadUint32(&t.state) == notified
}
