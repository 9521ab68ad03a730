package ringchan

import (
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/aradilov/ringchan/epoch"
	"github.com/aradilov/ringchan/internal/config"
	"github.com/aradilov/ringchan/internal/logging"
)

const goschedEvery = 64 // reduce runtime.Gosched() frequency in hot loops

// Queue is an unbounded lock-free FIFO for many producers and one consumer.
//
// Producers reserve positions with a fetch-add on the tail segment and never
// block each other; a full segment is followed by a new one linked with CAS.
// Exhausted segments are retired through the caller's epoch guard and reused
// only after every guard that could still reference them is gone.
//
// Every Push and TryPop takes a guard freshly pinned in the queue's
// collector; never keep a guard pinned across a blocking wait.
type Queue[T any] struct {
	_         [64]byte
	size      uint64
	collector *epoch.Collector
	pool      sync.Pool
	_       [64]byte
	tail    atomic.Pointer[segment[T]] // updated by multiple producers
	_       [64]byte
	head    *segment[T] // owned by the single consumer
	headIdx uint64      // local index of the next pop in head
	_       [64]byte

	stats stats
}

// DefaultSegmentSize returns RINGCHAN_SEGMENT_SIZE or its default.
func DefaultSegmentSize() uint64 {
	cfg, err := config.Get()
	if err != nil {
		logging.L().Error("invalid configuration, using defaults", zap.Error(err))
	}
	return cfg.SegmentSize
}

// NewQueue creates an empty queue whose segments hold segmentSize values,
// reclaimed through the default epoch collector.
// segmentSize must be a power of two (1<<k).
func NewQueue[T any](segmentSize uint64) *Queue[T] {
	return NewQueueWithCollector[T](segmentSize, epoch.Default())
}

// NewQueueWithCollector is NewQueue with an explicit epoch collector. Guards
// passed to Push and TryPop must be pinned in c.
func NewQueueWithCollector[T any](segmentSize uint64, c *epoch.Collector) *Queue[T] {
	if segmentSize == 0 || (segmentSize&(segmentSize-1)) != 0 {
		panic("segment size must be power of 2 and > 0")
	}
	if c == nil {
		panic("queue: nil epoch collector")
	}

	q := &Queue[T]{size: segmentSize, collector: c}
	first := newSegment[T](segmentSize)
	q.stats.segmentsAllocated.Add(1)
	q.head = first
	q.tail.Store(first)
	return q
}

// Collector returns the epoch collector guarding the queue's segments.
func (q *Queue[T]) Collector() *epoch.Collector {
	return q.collector
}

// checkGuard panics unless g is pinned in the queue's collector: a guard
// from another collector does not hold back this queue's reclamation.
func (q *Queue[T]) checkGuard(g *epoch.Guard) {
	if g.Collector() != q.collector {
		panic("queue: guard is not pinned in the queue's collector")
	}
}

// SegmentSize returns the number of slots per segment.
func (q *Queue[T]) SegmentSize() uint64 {
	return q.size
}

// Push appends v at the tail. Never blocks, never fails. g must be pinned in
// the queue's collector; it keeps every segment Push touches from being
// recycled under it.
// May be called concurrently from many goroutines (producers).
func (q *Queue[T]) Push(v T, g *epoch.Guard) {
	q.checkGuard(g)
	var spins uint32
	for {
		seg := q.tail.Load()
		if idx, ok := seg.reserve(); ok {
			seg.publish(idx, v)
			q.stats.pushes.Add(1)
			return
		}

		// segment is full: follow or create its successor
		next := seg.next.Load()
		if next == nil {
			fresh := q.segmentAt(seg.base + q.size)
			if seg.next.CompareAndSwap(nil, fresh) {
				next = fresh
				logging.L().Debug("queue segment linked", zap.Uint64("base", fresh.base))
			} else {
				// another producer linked first; fresh was never visible
				q.pool.Put(fresh)
				next = seg.next.Load()
			}
		}
		q.tail.CompareAndSwap(seg, next)

		spins++
		if spins%goschedEvery == 0 {
			runtime.Gosched()
		}
	}
}

// TryPop removes the head value. It returns (zero, false) when the queue is
// empty or when the head position is reserved by a producer that has not
// published yet; in the latter case a later call succeeds.
// IMPORTANT: must be called from a single consumer goroutine.
func (q *Queue[T]) TryPop(g *epoch.Guard) (T, bool) {
	q.checkGuard(g)
	seg := q.head
	if q.headIdx == q.size {
		next := seg.next.Load()
		if next == nil {
			// queue is logically empty (consumer is ahead of producers)
			q.stats.popEmpty.Add(1)
			var zero T
			return zero, false
		}
		// The producer that linked next may not have moved the tail yet.
		// The tail lags the chain by at most one segment, so after this CAS
		// it is past seg and no guard pinned from now on can reach seg.
		q.tail.CompareAndSwap(seg, next)
		q.head, q.headIdx = next, 0
		g.Defer(func() { q.recycle(seg) })
		seg = next
	}

	v, ok := seg.take(q.headIdx)
	if ok {
		q.headIdx++
		q.stats.pops.Add(1)
		return v, true
	}

	if seg.enqueue.Load() > q.headIdx {
		// position reserved, producer is not done yet
		q.stats.popInFlight.Add(1)
	} else {
		q.stats.popEmpty.Add(1)
	}
	return v, false
}

// Drain pops every published value and passes it to fn.
// IMPORTANT: must be called from the single consumer goroutine, or after all
// producers and the consumer are gone.
func (q *Queue[T]) Drain(fn func(T)) int {
	n := 0
	for {
		g := q.collector.Pin()
		v, ok := q.TryPop(&g)
		g.Unpin()
		if !ok {
			return n
		}
		n++
		if fn != nil {
			fn(v)
		}
	}
}

// segmentAt returns a segment for base, reusing a recycled one if possible.
func (q *Queue[T]) segmentAt(base uint64) *segment[T] {
	if v := q.pool.Get(); v != nil {
		seg := v.(*segment[T])
		seg.reset(base)
		q.stats.segmentsReused.Add(1)
		return seg
	}
	seg := newSegment[T](q.size)
	seg.base = base
	q.stats.segmentsAllocated.Add(1)
	return seg
}

// recycle runs after the grace period of a retired segment.
func (q *Queue[T]) recycle(seg *segment[T]) {
	q.stats.segmentsRecycled.Add(1)
	q.pool.Put(seg)
}

// Stats retrieves the current statistics of the queue.
func (q *Queue[T]) Stats() Stats {
	return q.stats.snapshot()
}
