package ringchan

import (
	"runtime"
	"sync/atomic"
)

// freeList is a bounded MPMC ring of slot indices. Both ends are claimed with
// CAS, so any goroutine may take or return an index.
//
// Original algorithm by Dmitry Vyukov
// https://www.1024cores.net/home/lock-free-algorithms/queues/bounded-mpmc-queue
type freeList struct {
	// padded: putPos and getPos are hit from different goroutines
	_        [64]byte
	mask     uint64
	capacity uint64
	slots    []slot[uint32]
	_        [64]byte
	putPos   atomic.Uint64 // next position to return an index to
	_        [64]byte
	getPos   atomic.Uint64 // next position to take an index from
	_        [64]byte
}

// newFreeList creates a full free list holding 0..capacity-1.
func newFreeList(capacity uint64) *freeList {
	slots := make([]slot[uint32], capacity)
	for i := uint64(0); i < capacity; i++ {
		// slot i already holds index i, published for position i
		slots[i].val = uint32(i)
		slots[i].seq.Store(i + 1)
	}

	l := &freeList{
		mask:     capacity - 1,
		capacity: capacity,
		slots:    slots,
	}
	l.putPos.Store(capacity)
	return l
}

// put returns an index. The list never holds more than capacity indices, so
// a slot that looks occupied is one an allocator has claimed but not yet
// cleared; put waits for it.
func (l *freeList) put(v uint32) {
	for spins := uint32(1); ; spins++ {
		pos := l.putPos.Load()
		s := &l.slots[pos&l.mask]

		// seq == pos: the index taken from this slot one lap ago is cleared.
		// seq < pos: its allocator has not cleared it yet. seq > pos: stale pos.
		if s.seq.Load() == pos && l.putPos.CompareAndSwap(pos, pos+1) {
			s.val = v
			s.seq.Store(pos + 1)
			return
		}
		if spins%goschedEvery == 0 {
			runtime.Gosched()
		}
	}
}

// get takes an index. Returns (0, false) if every index is in use.
func (l *freeList) get() (uint32, bool) {
	for spins := uint32(1); ; spins++ {
		pos := l.getPos.Load()
		s := &l.slots[pos&l.mask]

		switch diff := int64(s.seq.Load()) - int64(pos+1); {
		case diff < 0:
			// every index is allocated
			return 0, false
		case diff == 0 && l.getPos.CompareAndSwap(pos, pos+1):
			v := s.val
			// the slot now waits for the put at pos+capacity
			s.seq.Store(pos + l.capacity)
			return v, true
		}
		// stale pos or lost the CAS to a concurrent get
		if spins%goschedEvery == 0 {
			runtime.Gosched()
		}
	}
}
