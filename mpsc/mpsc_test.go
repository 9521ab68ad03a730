package mpsc

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/aradilov/ringchan"
	"github.com/aradilov/ringchan/epoch"
)

// recvWithin fails the test if Recv does not return within d.
func recvWithin[T any](t *testing.T, rx *Receiver[T], d time.Duration) (T, error) {
	t.Helper()
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := rx.Recv()
		done <- result{v, err}
	}()
	select {
	case r := <-done:
		return r.v, r.err
	case <-time.After(d):
		t.Fatalf("recv blocked for more than %v", d)
		var zero T
		return zero, nil
	}
}

func TestSendRecvReady(t *testing.T) {
	tx, rx := New[int]()
	defer tx.Close()
	defer rx.Close()

	assert.False(t, rx.Ready())
	tx.Send(1)
	tx.Send(2)
	assert.True(t, rx.Ready())
	assert.Equal(t, 2, rx.Len())

	v, err := rx.Recv()
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.Equal(t, 1, rx.Len())

	v, err = rx.Recv()
	require.NoError(t, err)
	assert.Equal(t, 2, v)
	assert.False(t, rx.Ready())
	assert.Equal(t, 0, rx.Len())
}

func TestTryRecv(t *testing.T) {
	tx, rx := New[string]()
	defer rx.Close()

	_, ok := rx.TryRecv()
	assert.False(t, ok, "fresh channel returned a value")

	tx.Send("a")
	v, ok := rx.TryRecv()
	require.True(t, ok)
	assert.Equal(t, "a", v)
	assert.False(t, rx.Ready(), "counter not decremented with the pop")

	_, ok = rx.TryRecv()
	assert.False(t, ok)

	tx.Send("b")
	tx.Close()
	v, ok = rx.TryRecv()
	require.True(t, ok, "buffered value lost after disconnect")
	assert.Equal(t, "b", v)

	_, ok = rx.TryRecv()
	assert.False(t, ok)
}

func TestMixedTryRecvAndRecvKeepCounter(t *testing.T) {
	tx, rx := New[int]()
	defer tx.Close()
	defer rx.Close()

	for i := 0; i < 10; i++ {
		tx.Send(i)
	}
	for i := 0; i < 10; i++ {
		var v int
		if i%2 == 0 {
			var ok bool
			v, ok = rx.TryRecv()
			require.True(t, ok)
		} else {
			var err error
			v, err = rx.Recv()
			require.NoError(t, err)
		}
		assert.Equal(t, i, v)
		assert.Equal(t, 9-i, rx.Len())
	}
}

func TestSenderCounting(t *testing.T) {
	tx, rx := New[int]()
	defer rx.Close()
	assert.Equal(t, int64(1), rx.Senders())

	tx1 := tx.Clone()
	assert.Equal(t, int64(2), rx.Senders())
	tx2 := tx1.Clone()
	assert.Equal(t, int64(3), rx.Senders())

	tx1.Close()
	assert.Equal(t, int64(2), rx.Senders())
	tx1.Close() // idempotent
	assert.Equal(t, int64(2), rx.Senders())

	tx.Close()
	tx2.Close()
	assert.Equal(t, int64(0), rx.Senders())

	_, err := recvWithin(t, rx, time.Second)
	assert.ErrorIs(t, err, ErrDisconnected)
}

func TestDisconnectDrainsBufferFirst(t *testing.T) {
	tx, rx := New[int]()
	defer rx.Close()

	tx.Send(7)
	tx.Close()

	v, err := rx.Recv()
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	_, err = rx.Recv()
	assert.ErrorIs(t, err, ErrDisconnected)
}

func TestCloseWakesBlockedReceiver(t *testing.T) {
	tx, rx := New[int]()
	defer rx.Close()

	done := make(chan error, 1)
	go func() {
		_, err := rx.Recv()
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	tx.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrDisconnected)
	case <-time.After(2 * time.Second):
		t.Fatal("receiver not woken by the last sender closing")
	}
}

func TestSendWakesBlockedReceiver(t *testing.T) {
	tx, rx := New[int]()
	defer tx.Close()
	defer rx.Close()

	go func() {
		time.Sleep(20 * time.Millisecond)
		tx.Send(42)
	}()

	v, err := recvWithin(t, rx, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestIterateUntilDisconnect(t *testing.T) {
	tx, rx := New[int]()
	defer rx.Close()

	var count atomic.Int64
	done := make(chan struct{})
	go func() {
		for range rx.All() {
			count.Add(1)
		}
		close(done)
	}()

	for i := 0; i < 100; i++ {
		tx.Send(i)
	}
	tx.Close()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("iteration did not end after the sender was closed")
	}
	assert.Equal(t, int64(100), count.Load())
}

func TestIterateBreak(t *testing.T) {
	tx, rx := New[int]()
	defer tx.Close()
	defer rx.Close()

	for i := 0; i < 5; i++ {
		tx.Send(i)
	}
	var got []int
	for v := range rx.All() {
		got = append(got, v)
		if len(got) == 3 {
			break
		}
	}
	assert.Equal(t, []int{0, 1, 2}, got)
	assert.Equal(t, 2, rx.Len())
}

// Values pushed by many producers are each received once, and every
// producer's values arrive in its own send order.
func TestConcurrentProducers(t *testing.T) {
	const (
		producers   = 8
		perProducer = 20_000
	)

	tx, rx := New[int](WithSegmentSize[int](32))
	defer rx.Close()

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		s := tx.Clone()
		go func(p int) {
			defer wg.Done()
			defer s.Close()
			for i := 0; i < perProducer; i++ {
				s.Send(p*perProducer + i)
			}
		}(p)
	}
	tx.Close()

	seen := make([]int, producers*perProducer)
	last := make([]int, producers)
	for i := range last {
		last[i] = -1
	}
	received := 0
	for v := range rx.All() {
		p := v / perProducer
		if v <= last[p] {
			t.Fatalf("producer %d: %d after %d (FIFO violated)", p, v, last[p])
		}
		last[p] = v
		seen[v]++
		received++
	}
	wg.Wait()

	assert.Equal(t, producers*perProducer, received)
	for v, n := range seen {
		if n != 1 {
			t.Fatalf("value %d seen %d times (expected 1)", v, n)
		}
	}

	st := rx.Stats()
	assert.Equal(t, "counting", st.Kind)
	assert.Equal(t, uint64(producers*perProducer), st.Received)
	assert.Zero(t, st.Pending)
	assert.Zero(t, st.Senders)
}

// Tiny segments and a collection on every unpin keep segments retiring and
// being reused while 16 producers race on the tail.
func TestSegmentChurn(t *testing.T) {
	const (
		producers   = 16
		perProducer = 5_000
	)

	for _, segmentSize := range []uint64{1, 2, 4} {
		tx, rx := New[int](
			WithSegmentSize[int](segmentSize),
			WithCollector[int](epoch.NewCollector(64, 1)),
		)

		var wg sync.WaitGroup
		wg.Add(producers)
		for p := 0; p < producers; p++ {
			s := tx.Clone()
			go func(p int) {
				defer wg.Done()
				defer s.Close()
				for i := 0; i < perProducer; i++ {
					s.Send(p*perProducer + i)
				}
			}(p)
		}
		tx.Close()

		seen := make([]int, producers*perProducer)
		last := make([]int, producers)
		for i := range last {
			last[i] = -1
		}
		done := make(chan struct{})
		go func() {
			defer close(done)
			for v := range rx.All() {
				p := v / perProducer
				if v <= last[p] {
					t.Errorf("segment size %d: producer %d: %d after %d (FIFO violated)", segmentSize, p, v, last[p])
					return
				}
				last[p] = v
				seen[v]++
			}
		}()

		select {
		case <-done:
		case <-time.After(30 * time.Second):
			t.Fatalf("segment size %d: receiver stalled with %d pending", segmentSize, rx.Len())
		}
		wg.Wait()

		for v, n := range seen {
			if n != 1 {
				t.Fatalf("segment size %d: value %d seen %d times (expected 1)", segmentSize, v, n)
			}
		}
		rx.Close()
	}
}

func TestDropHookOnFree(t *testing.T) {
	var dropped []int
	tx, rx := New[int](WithDrop(func(v int) { dropped = append(dropped, v) }), WithName[int]("jobs"))

	tx.Send(1)
	tx.Send(2)
	rx.Close()
	assert.Empty(t, dropped, "values dropped while a sender is alive")

	tx.Send(3) // the receiver is gone but the channel is not freed yet
	tx.Close()
	assert.Equal(t, []int{1, 2, 3}, dropped)
	assert.Equal(t, "jobs", rx.Stats().Name)
}

func TestUndeliveredValuesAreLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	ringchan.SetLogger(zap.New(core))
	defer ringchan.SetLogger(nil)

	tx, rx := New[int](WithName[int]("audit"))
	tx.Send(1)
	rx.Close()
	tx.Close()

	entries := logs.FilterMessage("channel freed with undelivered values").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "audit", entries[0].ContextMap()["channel"])
	assert.Equal(t, int64(1), entries[0].ContextMap()["undelivered"])
}

func TestMisusePanics(t *testing.T) {
	tx, rx := New[int]()
	tx.Close()
	assert.Panics(t, func() { tx.Send(1) })
	assert.Panics(t, func() { tx.Clone() })

	rx.Close()
	assert.Panics(t, func() { _, _ = rx.Recv() })
	assert.Panics(t, func() { _, _ = rx.TryRecv() })
}

func BenchmarkChannel_1P1C(b *testing.B) {
	tx, rx := New[int]()
	defer rx.Close()

	go func() {
		defer tx.Close()
		for i := 0; i < b.N; i++ {
			tx.Send(i)
		}
	}()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := rx.Recv(); err != nil {
			b.Fatal(err)
		}
	}
	b.StopTimer()
}

func BenchmarkChannel_MP1C(b *testing.B) {
	const producers = 8
	tx, rx := New[int]()
	defer rx.Close()
	perProducer := b.N / producers

	for p := 0; p < producers; p++ {
		s := tx.Clone()
		go func() {
			defer s.Close()
			for i := 0; i < perProducer; i++ {
				s.Send(i)
			}
		}()
	}
	tx.Close()

	b.ResetTimer()
	for range rx.All() {
	}
	b.StopTimer()
}
