package ringchan

import (
	"sync/atomic"
)

// segment is one link of a Queue: a fixed run of slots covering global
// positions [base, base+len(slots)). Unlike the bounded ring a segment is
// filled once; when it is exhausted the queue moves on to the next segment.
type segment[T any] struct {
	// Optional padding to avoid false sharing between frequently accessed fields
	_       [64]byte
	base    uint64 // global position of slots[0]
	slots   []slot[T]
	_       [64]byte
	enqueue atomic.Uint64 // next local index to reserve, updated by producers
	_       [64]byte
	next    atomic.Pointer[segment[T]]
	_       [64]byte
}

func newSegment[T any](size uint64) *segment[T] {
	return &segment[T]{slots: make([]slot[T], size)}
}

// reserve claims the next local index. ok is false when the segment is full.
// May be called concurrently from many goroutines (producers).
func (s *segment[T]) reserve() (uint64, bool) {
	idx := s.enqueue.Add(1) - 1
	return idx, idx < uint64(len(s.slots))
}

// publish stores v at a reserved index and makes it visible to the consumer.
func (s *segment[T]) publish(idx uint64, v T) {
	sl := &s.slots[idx]
	sl.val = v
	// publish the value: seq = pos+1
	sl.seq.Store(s.base + idx + 1)
}

// take reads the value at idx if it is published.
// IMPORTANT: must be called from a single consumer goroutine.
func (s *segment[T]) take(idx uint64) (T, bool) {
	var zero T
	sl := &s.slots[idx]

	pos := s.base + idx
	diff := int64(sl.seq.Load()) - int64(pos+1)
	if diff != 0 {
		// diff < 0 => slot not published for this position yet: either the
		// producer is still writing or nothing was reserved here.
		// diff > 0 cannot happen: bases only grow within a queue.
		return zero, false
	}

	v := sl.val
	sl.val = zero // drop the reference for the garbage collector
	return v, true
}

// reset prepares an exhausted segment for reuse at a new base. Stale seq
// values stay in the slots: they belong to lower positions and can never
// match base+idx+1 again.
func (s *segment[T]) reset(base uint64) {
	s.base = base
	s.enqueue.Store(0)
	s.next.Store(nil)
}
