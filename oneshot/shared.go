package oneshot

import (
	"sync/atomic"

	"github.com/aradilov/ringchan/park"
)

// shared is the reference-counted block behind New.
type shared[T any] struct {
	cell[T]
	refs     atomic.Int32
	receiver *park.Thread
	onDrop   func(T)
}

func (s *shared[T]) release() {
	if s.refs.Add(-1) == 0 {
		s.drop(s.onDrop)
	}
}

// New creates a linked pair. receiver is the handle the receiving goroutine
// parks on.
func New[T any](receiver *park.Thread, opts ...Option[T]) (*Sender[T], *Receiver[T]) {
	if receiver == nil {
		panic("oneshot: nil receiver")
	}
	s := &shared[T]{receiver: receiver, onDrop: dropHook(opts)}
	s.refs.Store(2)
	return &Sender[T]{s: s}, &Receiver[T]{s: s}
}

// Sender sends the single value.
type Sender[T any] struct {
	s    *shared[T]
	used atomic.Bool
}

// Send delivers v. It never blocks. Sending twice panics.
func (tx *Sender[T]) Send(v T) {
	if tx.used.Swap(true) {
		panic("oneshot: send on used sender")
	}
	tx.s.put(v, tx.s.receiver)
	tx.s.release()
}

// Close drops the sender without sending. No-op after Send.
func (tx *Sender[T]) Close() {
	if tx.used.Swap(true) {
		return
	}
	tx.s.release()
}

// Receiver receives the single value.
type Receiver[T any] struct {
	s    *shared[T]
	used atomic.Bool
}

// IsReady reports whether the value has been sent. Advisory: only Recv
// may read the value.
func (rx *Receiver[T]) IsReady() bool {
	return rx.s.ready.Load()
}

// Recv blocks until the value arrives and returns it. Receiving twice
// panics.
func (rx *Receiver[T]) Recv() T {
	if rx.used.Swap(true) {
		panic("oneshot: receive on used receiver")
	}
	v := rx.s.take(rx.s.receiver)
	rx.s.release()
	return v
}

// Close drops the receiver without receiving. No-op after Recv.
func (rx *Receiver[T]) Close() {
	if rx.used.Swap(true) {
		return
	}
	rx.s.release()
}
