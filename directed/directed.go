// Package directed implements an unbounded MPSC channel whose senders wake
// one fixed consumer handle.
//
// Instead of a message counter the channel keeps a single readiness flag.
// Any number of sends between two receives collapse into one flag set and one
// unpark; the queue, not the flag, keeps the exact number of values. The
// consumer handle is given at construction and recorded in every sender, so
// the receiving goroutine must park on that handle, i.e. be the goroutine the
// handle was created for.
package directed

import (
	"iter"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/aradilov/ringchan"
	"github.com/aradilov/ringchan/epoch"
	"github.com/aradilov/ringchan/internal/logging"
	"github.com/aradilov/ringchan/park"
)

// ErrDisconnected is returned by Recv once every sender is closed and no
// message is left.
var ErrDisconnected = ringchan.ErrDisconnected

// Option configures a channel.
type Option[T any] = ringchan.Option[T]

// WithName names the channel in logs and metrics.
func WithName[T any](name string) Option[T] { return ringchan.WithName[T](name) }

// WithSegmentSize sets the queue segment size.
func WithSegmentSize[T any](size uint64) Option[T] { return ringchan.WithSegmentSize[T](size) }

// WithCollector reclaims queue segments through c.
func WithCollector[T any](c *epoch.Collector) Option[T] { return ringchan.WithCollector[T](c) }

// WithDrop installs a hook for values never received.
func WithDrop[T any](fn func(T)) Option[T] { return ringchan.WithDrop(fn) }

type channel[T any] struct {
	_        [64]byte
	ready    atomic.Bool // set by senders after a push
	_        [63]byte
	senders  atomic.Int64
	handles  atomic.Int64
	consumer *park.Thread
	queue    *ringchan.Queue[T]
	opts     ringchan.Options[T]
}

// New creates a channel whose receiver runs on the goroutine owning
// consumer.
func New[T any](consumer *park.Thread, opts ...Option[T]) (*Sender[T], *Receiver[T]) {
	if consumer == nil {
		panic("directed: nil consumer")
	}
	o := ringchan.BuildOptions(opts...)
	ch := &channel[T]{
		consumer: consumer,
		queue:    ringchan.NewQueueWithCollector[T](o.SegmentSize, o.Collector),
		opts:     o,
	}
	ch.senders.Store(1)
	ch.handles.Store(2)

	return &Sender[T]{ch: ch}, &Receiver[T]{ch: ch}
}

func (ch *channel[T]) tryPop() (T, bool) {
	g := ch.queue.Collector().Pin()
	defer g.Unpin()
	return ch.queue.TryPop(&g)
}

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

// Sender is a producer handle bound to the channel's consumer.
type Sender[T any] struct {
	ch     *channel[T]
	closed atomic.Bool
}

// Send enqueues v, raises the readiness flag and unparks the consumer.
func (s *Sender[T]) Send(v T) {
	if s.closed.Load() {
		panic("directed: send on closed sender")
	}
	ch := s.ch

	g := ch.queue.Collector().Pin()
	ch.queue.Push(v, &g)
	g.Unpin()

	ch.ready.Store(true)
	ch.consumer.Unpark()
}

// Clone returns a new handle with the same recorded consumer.
func (s *Sender[T]) Clone() *Sender[T] {
	if s.closed.Load() {
		panic("directed: clone of closed sender")
	}
	s.ch.senders.Add(1)
	s.ch.handles.Add(1)
	return &Sender[T]{ch: s.ch}
}

// Target returns the consumer handle this sender wakes.
func (s *Sender[T]) Target() *park.Thread {
	return s.ch.consumer
}

// Close drops the handle; closing the last sender wakes the consumer so a
// parked Recv can report the disconnect.
func (s *Sender[T]) Close() {
	if s.closed.Swap(true) {
		return
	}
	ch := s.ch
	if ch.senders.Add(-1) == 0 {
		ch.consumer.Unpark()
		logging.L().Debug("channel disconnected", zap.String("channel", ch.opts.Name))
	}
	ch.release()
}

// Receiver is the single consumer handle. It must only be used by the
// goroutine that parks on the channel's consumer handle.
type Receiver[T any] struct {
	ch     *channel[T]
	closed atomic.Bool
}

func (r *Receiver[T]) mustBeOpen() {
	if r.closed.Load() {
		panic("directed: receive on closed receiver")
	}
}

// Recv blocks until a value is available, or returns ErrDisconnected when
// every sender is closed and the queue is empty.
func (r *Receiver[T]) Recv() (T, error) {
	r.mustBeOpen()
	ch := r.ch
	for {
		if v, ok := ch.tryPop(); ok {
			return v, nil
		}
		// A send published after the pop above raised the flag: look again
		// before sleeping. Otherwise its unpark is still ahead of us and
		// leaves a token for Park.
		if ch.ready.Swap(false) {
			continue
		}
		if ch.senders.Load() == 0 {
			if v, ok := ch.tryPop(); ok {
				return v, nil
			}
			var zero T
			return zero, ErrDisconnected
		}
		ch.consumer.Park()
	}
}

// TryRecv pops a value if one is published. Best effort: a send in progress
// may be missed. Returns false both when empty and when disconnected.
func (r *Receiver[T]) TryRecv() (T, bool) {
	r.mustBeOpen()
	return r.ch.tryPop()
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

// Close drops the receiver.
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
		Kind:     "directed",
		Pending:  q.Len(),
		Senders:  r.ch.senders.Load(),
		Sent:     q.Pushes,
		Received: q.Pops,
		Queue:    q,
	}
}
