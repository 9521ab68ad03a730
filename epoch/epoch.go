// Package epoch implements epoch-based memory reclamation.
//
// A Guard pins its goroutine to the current global epoch for the duration of
// one operation on a shared structure. Memory unlinked from the structure is
// retired with Guard.Defer and only handed back for reuse once the global
// epoch has advanced twice past the retirement epoch; an advance requires
// every pinned guard to have observed the current epoch, so by then no guard
// that could have seen the memory is still pinned.
//
// Guards must be scoped to a single operation and never held across a
// blocking wait: a pinned guard stops the epoch from advancing for everyone.
package epoch

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/valyala/fastrand"
	"go.uber.org/zap"

	"github.com/aradilov/ringchan/internal/config"
	"github.com/aradilov/ringchan/internal/logging"
)

const pinnedBit = 1

// record is a participant slot. epoch holds (e<<1)|pinnedBit while pinned
// and 0 otherwise.
type record struct {
	_     [64]byte
	epoch atomic.Uint64
	inUse atomic.Bool
}

type deferred struct {
	fn    func()
	epoch uint64
	next  *deferred
}

// Collector is an epoch domain: a global epoch, a table of participant
// records and a list of retired callbacks.
type Collector struct {
	_            [64]byte
	global       atomic.Uint64
	_            [64]byte
	records      []record
	garbage      atomic.Pointer[deferred]
	collecting   atomic.Bool
	unpins       atomic.Uint64
	collectEvery uint64

	advances  atomic.Uint64
	reclaimed atomic.Uint64
	pending   atomic.Int64
}

// Stats is a snapshot of collector counters.
type Stats struct {
	Epoch     uint64
	Advances  uint64
	Reclaimed uint64
	Pending   int64
	Pinned    int
}

// NewCollector creates a collector with room for slots simultaneously pinned
// guards. Pin yields while all slots are taken.
func NewCollector(slots int, collectEvery uint64) *Collector {
	if slots <= 0 {
		panic("epoch slots must be > 0")
	}
	if collectEvery == 0 {
		collectEvery = 1
	}
	return &Collector{
		records:      make([]record, slots),
		collectEvery: collectEvery,
	}
}

var (
	defaultOnce      sync.Once
	defaultCollector *Collector
)

// Default returns the process-wide collector, sized from RINGCHAN_EPOCH_SLOTS.
func Default() *Collector {
	defaultOnce.Do(func() {
		cfg, err := config.Get()
		if err != nil {
			logging.L().Error("invalid configuration, using defaults", zap.Error(err))
		}
		defaultCollector = NewCollector(cfg.EpochSlots, cfg.CollectEvery)
	})
	return defaultCollector
}

// Pin pins the calling goroutine in the default collector.
func Pin() Guard {
	return Default().Pin()
}

// Pin claims a participant record and publishes the current global epoch in
// it. The returned guard must be unpinned by the same operation.
func (c *Collector) Pin() Guard {
	n := uint32(len(c.records))
	start := fastrand.Uint32n(n)
	for {
		for i := uint32(0); i < n; i++ {
			r := &c.records[(start+i)%n]
			if r.inUse.Load() || !r.inUse.CompareAndSwap(false, true) {
				continue
			}
			e := c.global.Load()
			r.epoch.Store(e<<1 | pinnedBit)
			return Guard{c: c, r: r, epoch: e}
		}
		// every record is pinned: wait for an operation to finish
		runtime.Gosched()
	}
}

// Guard is a pinned participant. The zero Guard is not pinned.
type Guard struct {
	c     *Collector
	r     *record
	epoch uint64
}

// Epoch returns the epoch observed when the guard was pinned.
func (g *Guard) Epoch() uint64 {
	return g.epoch
}

// Collector returns the collector the guard is pinned in, or nil if the
// guard is not pinned.
func (g *Guard) Collector() *Collector {
	if g == nil || g.r == nil {
		return nil
	}
	return g.c
}

// Defer retires fn: it runs once no guard pinned now can still be pinned.
// fn runs on whichever goroutine performs the collection.
func (g *Guard) Defer(fn func()) {
	if g.r == nil {
		panic("epoch: defer on unpinned guard")
	}
	c := g.c
	d := &deferred{fn: fn, epoch: c.global.Load()}
	c.push(d, d)
	c.pending.Add(1)
}

// Unpin releases the participant record. Unpinning twice panics.
func (g *Guard) Unpin() {
	r := g.r
	if r == nil {
		panic("epoch: guard unpinned twice")
	}
	g.r = nil
	r.epoch.Store(0)
	r.inUse.Store(false)

	c := g.c
	if c.unpins.Add(1)%c.collectEvery == 0 {
		c.Collect()
	}
}

// push prepends the chain first..last to the garbage list.
func (c *Collector) push(first, last *deferred) {
	for {
		head := c.garbage.Load()
		last.next = head
		if c.garbage.CompareAndSwap(head, first) {
			return
		}
	}
}

// tryAdvance moves the global epoch forward if every pinned record has
// observed the current one.
func (c *Collector) tryAdvance() bool {
	e := c.global.Load()
	for i := range c.records {
		v := c.records[i].epoch.Load()
		if v&pinnedBit != 0 && v>>1 != e {
			return false
		}
	}
	if !c.global.CompareAndSwap(e, e+1) {
		return false
	}
	c.advances.Add(1)
	logging.L().Debug("epoch advanced", zap.Uint64("epoch", e+1))
	return true
}

// Collect tries to advance the epoch and runs every retired callback whose
// grace period has passed. It returns the number of callbacks run.
func (c *Collector) Collect() int {
	c.tryAdvance()
	if !c.collecting.CompareAndSwap(false, true) {
		return 0
	}
	defer c.collecting.Store(false)

	list := c.garbage.Swap(nil)
	if list == nil {
		return 0
	}

	e := c.global.Load()
	var keepHead, keepTail *deferred
	ran := 0
	for d := list; d != nil; {
		next := d.next
		if d.epoch+2 <= e {
			d.fn()
			ran++
		} else {
			d.next = keepHead
			keepHead = d
			if keepTail == nil {
				keepTail = d
			}
		}
		d = next
	}
	if keepHead != nil {
		c.push(keepHead, keepTail)
	}
	if ran > 0 {
		c.reclaimed.Add(uint64(ran))
		c.pending.Add(-int64(ran))
	}
	return ran
}

// Flush collects until nothing is pending or no further progress is
// possible because a guard is still pinned.
func (c *Collector) Flush() int {
	total := 0
	for i := 0; i < 4 && c.pending.Load() > 0; i++ {
		total += c.Collect()
	}
	return total
}

// Stats returns a snapshot of the collector counters.
func (c *Collector) Stats() Stats {
	pinned := 0
	for i := range c.records {
		if c.records[i].epoch.Load()&pinnedBit != 0 {
			pinned++
		}
	}
	return Stats{
		Epoch:     c.global.Load(),
		Advances:  c.advances.Load(),
		Reclaimed: c.reclaimed.Load(),
		Pending:   c.pending.Load(),
		Pinned:    pinned,
	}
}
