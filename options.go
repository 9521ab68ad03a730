package ringchan

import (
	"github.com/google/uuid"

	"github.com/aradilov/ringchan/epoch"
)

// Options are the construction settings shared by the channel kinds.
type Options[T any] struct {
	// Name identifies the channel in logs and metrics.
	Name string
	// SegmentSize is the queue segment size, see NewQueue.
	SegmentSize uint64
	// Collector reclaims queue segments; epoch.Default() when nil.
	Collector *epoch.Collector
	// OnDrop receives every value that was sent but never received when the
	// channel is freed.
	OnDrop func(T)
}

// Option configures a channel.
type Option[T any] func(*Options[T])

// WithName names the channel.
func WithName[T any](name string) Option[T] {
	return func(o *Options[T]) { o.Name = name }
}

// WithSegmentSize overrides RINGCHAN_SEGMENT_SIZE for one channel.
func WithSegmentSize[T any](size uint64) Option[T] {
	return func(o *Options[T]) { o.SegmentSize = size }
}

// WithCollector reclaims the channel's queue segments through c instead of
// the process-wide collector.
func WithCollector[T any](c *epoch.Collector) Option[T] {
	return func(o *Options[T]) { o.Collector = c }
}

// WithDrop installs a hook for undelivered values, e.g. to close files that
// were sent but never received.
func WithDrop[T any](fn func(T)) Option[T] {
	return func(o *Options[T]) { o.OnDrop = fn }
}

// BuildOptions applies opts over the defaults. Unnamed channels get a short
// random name.
func BuildOptions[T any](opts ...Option[T]) Options[T] {
	var o Options[T]
	for _, opt := range opts {
		opt(&o)
	}
	if o.Name == "" {
		o.Name = uuid.NewString()[:8]
	}
	if o.SegmentSize == 0 {
		o.SegmentSize = DefaultSegmentSize()
	}
	if o.Collector == nil {
		o.Collector = epoch.Default()
	}
	return o
}
