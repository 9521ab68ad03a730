package mpsc

import (
	"iter"
	"runtime"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/aradilov/ringchan"
	"github.com/aradilov/ringchan/epoch"
	"github.com/aradilov/ringchan/internal/futex"
	"github.com/aradilov/ringchan/internal/logging"
)

// ErrDisconnected is returned by Recv once every sender is closed and no
// message is left.
var ErrDisconnected = ringchan.ErrDisconnected

const (
	// disconnectedBit is set in the counter word when the last sender
	// closes, so a receiver sleeping on the word is woken by the change.
	disconnectedBit uint32 = 1 << 31
	countMask              = disconnectedBit - 1

	goschedEvery = 64
)

// Option configures a channel. See ringchan.WithName, WithSegmentSize and
// WithDrop.
type Option[T any] = ringchan.Option[T]

type channel[T any] struct {
	_        [64]byte
	messages uint32 // futex word: pending count | disconnectedBit
	_        [60]byte
	waiting  atomic.Uint32 // receiver is in, or about to enter, futex.Wait
	_        [60]byte
	senders  atomic.Int64 // live Sender handles
	handles  atomic.Int64 // live Sender handles + the Receiver
	queue    *ringchan.Queue[T]
	opts     ringchan.Options[T]
}

// New creates a channel and returns its first sender and its only receiver.
func New[T any](opts ...Option[T]) (*Sender[T], *Receiver[T]) {
	o := ringchan.BuildOptions(opts...)
	ch := &channel[T]{
		queue: ringchan.NewQueueWithCollector[T](o.SegmentSize, o.Collector),
		opts:  o,
	}
	ch.senders.Store(1)
	ch.handles.Store(2)

	return &Sender[T]{ch: ch}, &Receiver[T]{ch: ch}
}

func (ch *channel[T]) count() uint32 {
	return atomic.LoadUint32(&ch.messages) & countMask
}

// disconnected reports "no sender and nothing buffered". Senders are read
// first: once they are zero no further send can happen, so the counter read
// after it is final.
func (ch *channel[T]) disconnected() bool {
	return ch.senders.Load() == 0 && ch.count() == 0
}

// pop removes the value a successful counter decrement paid for. The value
// is pushed before the counter is incremented, but the head position may
// still be held by a slower producer that reserved earlier; wait for it.
func (ch *channel[T]) pop() T {
	var spins uint32
	for {
		g := ch.queue.Collector().Pin()
		v, ok := ch.queue.TryPop(&g)
		g.Unpin()
		if ok {
			return v
		}
		spins++
		if spins%goschedEvery == 0 {
			runtime.Gosched()
		}
	}
}

// release drops one handle reference; the last one frees the channel.
func (ch *channel[T]) release() {
	if ch.handles.Add(-1) != 0 {
		return
	}
	n := ch.queue.Drain(ch.opts.OnDrop)
	if n > 0 {
		logging.L().Warn("channel freed with undelivered values",
			zap.String("channel", ch.opts.Name),
			zap.Int("undelivered", n),
		)
		return
	}
	logging.L().Debug("channel freed", zap.String("channel", ch.opts.Name))
}

// Sender is a producer handle. Senders may be used from any goroutine;
// Clone gives each producer its own handle.
type Sender[T any] struct {
	ch     *channel[T]
	closed atomic.Bool
}

// Send enqueues v and wakes the receiver. Send never blocks.
// Sending on a closed handle panics.
func (s *Sender[T]) Send(v T) {
	if s.closed.Load() {
		panic("mpsc: send on closed sender")
	}
	ch := s.ch

	g := ch.queue.Collector().Pin()
	ch.queue.Push(v, &g)
	g.Unpin()

	if atomic.AddUint32(&ch.messages, 1)&countMask == 0 {
		panic("mpsc: message counter overflow")
	}
	// The receiver stores waiting before it sleeps on the counter, and we
	// load it after the increment: if we see 0 here the receiver will see
	// the new count when it compares the word.
	if ch.waiting.Load() != 0 {
		futex.WakeOne(&ch.messages)
	}
}

// Clone returns a new handle to the same channel and adds one live sender.
func (s *Sender[T]) Clone() *Sender[T] {
	if s.closed.Load() {
		panic("mpsc: clone of closed sender")
	}
	s.ch.senders.Add(1)
	s.ch.handles.Add(1)
	return &Sender[T]{ch: s.ch}
}

// Close drops the handle. Closing twice is a no-op. Closing the last sender
// disconnects the channel: the receiver drains what is buffered and then
// gets ErrDisconnected.
func (s *Sender[T]) Close() {
	if s.closed.Swap(true) {
		return
	}
	ch := s.ch
	if ch.senders.Add(-1) == 0 {
		atomic.OrUint32(&ch.messages, disconnectedBit)
		futex.WakeOne(&ch.messages)
		logging.L().Debug("channel disconnected", zap.String("channel", ch.opts.Name))
	}
	ch.release()
}

// Receiver is the single consumer handle. Its methods must not be called
// concurrently.
type Receiver[T any] struct {
	ch     *channel[T]
	closed atomic.Bool
}

func (r *Receiver[T]) mustBeOpen() {
	if r.closed.Load() {
		panic("mpsc: receive on closed receiver")
	}
}

// Recv blocks until a value is available and returns it, or returns
// ErrDisconnected when every sender is closed and nothing is buffered.
func (r *Receiver[T]) Recv() (T, error) {
	r.mustBeOpen()
	ch := r.ch
	for {
		m := atomic.LoadUint32(&ch.messages)
		if m&countMask > 0 {
			if atomic.CompareAndSwapUint32(&ch.messages, m, m-1) {
				return ch.pop(), nil
			}
			// a producer moved the counter, retry
			continue
		}

		if ch.disconnected() {
			var zero T
			return zero, ErrDisconnected
		}

		ch.waiting.Store(1)
		futex.Wait(&ch.messages, m)
		ch.waiting.Store(0)
	}
}

// TryRecv returns a value if one is counted, without blocking. It cannot
// tell "empty for now" from "disconnected"; both return false.
//
// The counter is decremented together with the pop, so Ready and Len stay
// exact when TryRecv and Recv are mixed.
func (r *Receiver[T]) TryRecv() (T, bool) {
	r.mustBeOpen()
	var zero T
	ch := r.ch
	if ch.disconnected() {
		return zero, false
	}
	for {
		m := atomic.LoadUint32(&ch.messages)
		if m&countMask == 0 {
			return zero, false
		}
		if atomic.CompareAndSwapUint32(&ch.messages, m, m-1) {
			return ch.pop(), true
		}
	}
}

// Ready reports whether a message is buffered.
func (r *Receiver[T]) Ready() bool {
	return r.ch.count() > 0
}

// Len returns the number of buffered messages.
func (r *Receiver[T]) Len() int {
	return int(r.ch.count())
}

// Senders returns the number of live sender handles.
func (r *Receiver[T]) Senders() int64 {
	return r.ch.senders.Load()
}

// All iterates over received values until the channel is disconnected.
func (r *Receiver[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		for {
			v, err := r.Recv()
			if err != nil {
				return
			}
			if !yield(v) {
				return
			}
		}
	}
}

// Close drops the receiver. Values still buffered are handed to the drop
// hook once the last sender is closed too.
func (r *Receiver[T]) Close() {
	if r.closed.Swap(true) {
		return
	}
	r.ch.release()
}

// Stats returns a snapshot of the channel counters.
func (r *Receiver[T]) Stats() ringchan.ChannelStats {
	q := r.ch.queue.Stats()
	return ringchan.ChannelStats{
		Name:     r.ch.opts.Name,
		Kind:     "counting",
		Pending:  uint64(r.ch.count()),
		Senders:  r.ch.senders.Load(),
		Sent:     q.Pushes,
		Received: q.Pops,
		Queue:    q,
	}
}

// WithName names the channel in logs and metrics.
func WithName[T any](name string) Option[T] { return ringchan.WithName[T](name) }

// WithSegmentSize sets the queue segment size.
func WithSegmentSize[T any](size uint64) Option[T] { return ringchan.WithSegmentSize[T](size) }

// WithCollector reclaims queue segments through c.
func WithCollector[T any](c *epoch.Collector) Option[T] { return ringchan.WithCollector[T](c) }

// WithDrop installs a hook for values never received.
func WithDrop[T any](fn func(T)) Option[T] { return ringchan.WithDrop(fn) }
