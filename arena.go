package ringchan

import (
	"fmt"
	"sync/atomic"
)

// Arena is fixed-capacity storage addressed by index. Alloc hands out a free
// index, Release returns it; both may be called concurrently from many
// goroutines. The arena does not track who uses an index: after Release the
// storage may be handed to another Alloc at once.
type Arena[T any] struct {
	free  *freeList
	data  []T
	inUse []atomic.Bool
}

// NewArena creates an arena of capacity values.
// Capacity must be a power of two (1<<k) and at least 2.
func NewArena[T any](capacity uint64) *Arena[T] {
	if capacity < 2 || (capacity&(capacity-1)) != 0 {
		panic("capacity must be power of 2 and >= 2")
	}
	if capacity > 1<<32 {
		panic("capacity must fit in 32 bits")
	}

	return &Arena[T]{
		free:  newFreeList(capacity),
		data:  make([]T, capacity),
		inUse: make([]atomic.Bool, capacity),
	}
}

// Alloc reserves an index. Returns (0, false) if every index is in use.
func (a *Arena[T]) Alloc() (int, bool) {
	pos, ok := a.free.get()
	if !ok {
		return 0, false
	}
	a.inUse[pos].Store(true)
	return int(pos), true
}

// At returns the storage of an allocated index.
func (a *Arena[T]) At(pos int) *T {
	return &a.data[pos]
}

// Release zeroes the storage at pos and returns the index.
// Releasing an index that is not allocated panics.
func (a *Arena[T]) Release(pos int) {
	if !a.inUse[pos].CompareAndSwap(true, false) {
		panic(fmt.Sprintf("arena: release of free index %d", pos))
	}
	var zero T
	a.data[pos] = zero
	a.free.put(uint32(pos))
}

// Cap returns the fixed arena capacity.
func (a *Arena[T]) Cap() int {
	return len(a.data)
}

// InUse returns the number of allocated indices. Advisory only.
func (a *Arena[T]) InUse() int {
	n := 0
	for i := range a.inUse {
		if a.inUse[i].Load() {
			n++
		}
	}
	return n
}
