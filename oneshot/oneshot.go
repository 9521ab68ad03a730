// Package oneshot transfers exactly one value from one sender to one
// receiver.
//
// The value is written straight into a slot, then a readiness flag is raised
// and the receiving handle unparked; Recv swaps the flag back and moves the
// value out. Both endpoints are consumed by use: a second Send or a second
// Recv panics.
//
// Two ownership strategies are offered. New returns endpoints sharing a
// reference-counted block that is released when both endpoints are done,
// whatever happened. NewSlot/Split and Arena return exclusive endpoints where
// only the receiver releases the slot; the sender must not be used once the
// receiver is done. That contract is not checked.
//
// If the sender is closed without sending, Recv blocks forever.
package oneshot

import (
	"fmt"
	"sync/atomic"

	"github.com/aradilov/ringchan"
	"github.com/aradilov/ringchan/park"
)

// ErrArenaFull is returned by Arena.Split when every slot is in use.
var ErrArenaFull = fmt.Errorf("oneshot arena is full")

// Option configures a slot. Only the drop hook applies to oneshot slots.
type Option[T any] = ringchan.Option[T]

// WithDrop installs a hook run on a value that was sent but never received
// when its slot is released.
func WithDrop[T any](fn func(T)) Option[T] { return ringchan.WithDrop(fn) }

func dropHook[T any](opts []Option[T]) func(T) {
	var o ringchan.Options[T]
	for _, opt := range opts {
		opt(&o)
	}
	return o.OnDrop
}

// cell is the write-once storage shared by both strategies.
type cell[T any] struct {
	ready atomic.Bool
	value T
}

// put writes v and publishes it. Nothing in the cell may be touched after
// the flag is raised: the receiver may release the slot right away.
func (c *cell[T]) put(v T, receiver *park.Thread) {
	c.value = v
	c.ready.Store(true)
	receiver.Unpark()
}

// take waits for the flag and moves the value out.
func (c *cell[T]) take(receiver *park.Thread) T {
	for !c.ready.Swap(false) {
		receiver.Park()
	}
	v := c.value
	var zero T
	c.value = zero
	return v
}

// drop runs the hook on a value that was written and never taken.
func (c *cell[T]) drop(onDrop func(T)) {
	if !c.ready.Swap(false) {
		return
	}
	v := c.value
	var zero T
	c.value = zero
	if onDrop != nil {
		onDrop(v)
	}
}
