package oneshot

import (
	"sync/atomic"

	"github.com/aradilov/ringchan"
	"github.com/aradilov/ringchan/park"
)

// Slot is storage for one exclusive handoff. Split it into its endpoints;
// the receiver owns the slot from then on.
type Slot[T any] struct {
	cell[T]
	split   atomic.Bool
	onDrop  func(T)
	release func() // returns arena storage; nil for heap slots
}

// NewSlot allocates a standalone slot.
func NewSlot[T any](opts ...Option[T]) *Slot[T] {
	return &Slot[T]{onDrop: dropHook(opts)}
}

// Split returns the endpoints of the slot. A slot can be split once.
func (s *Slot[T]) Split(receiver *park.Thread) (*ExclusiveSender[T], *ExclusiveReceiver[T]) {
	if receiver == nil {
		panic("oneshot: nil receiver")
	}
	if s.split.Swap(true) {
		panic("oneshot: slot split twice")
	}
	return &ExclusiveSender[T]{slot: s, receiver: receiver},
		&ExclusiveReceiver[T]{slot: s, receiver: receiver}
}

func (s *Slot[T]) free() {
	s.drop(s.onDrop)
	if s.release != nil {
		s.release()
	}
}

// ExclusiveSender writes into a slot owned by its receiver. It must not be
// used after the receiver has received or been closed.
type ExclusiveSender[T any] struct {
	slot     *Slot[T]
	receiver *park.Thread
	used     atomic.Bool
}

// Send delivers v. Sending twice panics.
func (tx *ExclusiveSender[T]) Send(v T) {
	if tx.used.Swap(true) {
		panic("oneshot: send on used sender")
	}
	// tx.receiver is our own copy: the slot may be released as soon as put
	// raises the flag.
	tx.slot.put(v, tx.receiver)
}

// Close marks the sender used without sending.
func (tx *ExclusiveSender[T]) Close() {
	tx.used.Store(true)
}

// ExclusiveReceiver owns the slot and releases it on Recv or Close.
type ExclusiveReceiver[T any] struct {
	slot     *Slot[T]
	receiver *park.Thread
	used     atomic.Bool
}

// IsReady reports whether the value has been sent. Advisory only.
func (rx *ExclusiveReceiver[T]) IsReady() bool {
	return rx.slot.ready.Load()
}

// Recv blocks until the value arrives, releases the slot and returns the
// value. Receiving twice panics.
func (rx *ExclusiveReceiver[T]) Recv() T {
	if rx.used.Swap(true) {
		panic("oneshot: receive on used receiver")
	}
	v := rx.slot.take(rx.receiver)
	rx.slot.free()
	return v
}

// Close releases the slot without receiving; a value already sent goes to
// the drop hook.
func (rx *ExclusiveReceiver[T]) Close() {
	if rx.used.Swap(true) {
		return
	}
	rx.slot.free()
}

// Arena hands out exclusive slots from fixed storage. Released slots are
// reused immediately.
type Arena[T any] struct {
	slots  *ringchan.Arena[Slot[T]]
	onDrop func(T)
}

// NewArena creates an arena of capacity slots.
// Capacity must be a power of two (1<<k) and at least 2.
func NewArena[T any](capacity uint64, opts ...Option[T]) *Arena[T] {
	return &Arena[T]{
		slots:  ringchan.NewArena[Slot[T]](capacity),
		onDrop: dropHook(opts),
	}
}

// Split allocates a slot and returns its endpoints, or ErrArenaFull.
func (a *Arena[T]) Split(receiver *park.Thread) (*ExclusiveSender[T], *ExclusiveReceiver[T], error) {
	pos, ok := a.slots.Alloc()
	if !ok {
		return nil, nil, ErrArenaFull
	}
	s := a.slots.At(pos)
	s.onDrop = a.onDrop
	s.release = func() { a.slots.Release(pos) }
	tx, rx := s.Split(receiver)
	return tx, rx, nil
}

// InUse returns the number of allocated slots. Advisory only.
func (a *Arena[T]) InUse() int {
	return a.slots.InUse()
}

// Cap returns the arena capacity.
func (a *Arena[T]) Cap() int {
	return a.slots.Cap()
}
