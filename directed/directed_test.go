package directed

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aradilov/ringchan/epoch"
	"github.com/aradilov/ringchan/park"
)

func TestSendRecv(t *testing.T) {
	tx, rx := New[int](park.NewThread("consumer"))
	defer tx.Close()
	defer rx.Close()

	tx.Send(1)
	tx.Send(2)

	v, err := rx.Recv()
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	v, err = rx.Recv()
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	_, ok := rx.TryRecv()
	assert.False(t, ok)
}

// Several sends raise the flag once; every value must still be received
// without waiting for another send.
func TestCollapsedSignals(t *testing.T) {
	tx, rx := New[int](park.NewThread("consumer"))
	defer tx.Close()
	defer rx.Close()

	for i := 0; i < 50; i++ {
		tx.Send(i)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			v, err := rx.Recv()
			if err != nil || v != i {
				t.Errorf("expected %d, got %d (%v)", i, v, err)
				return
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("receiver parked with values still queued")
	}
}

func TestTryRecvFreshChannel(t *testing.T) {
	tx, rx := New[string](park.NewThread("consumer"))
	defer tx.Close()
	defer rx.Close()

	_, ok := rx.TryRecv()
	assert.False(t, ok)
}

func TestSendWakesParkedReceiver(t *testing.T) {
	consumer := park.NewThread("consumer")
	tx, rx := New[int](consumer)
	defer tx.Close()
	defer rx.Close()

	got := make(chan int, 1)
	go func() {
		v, err := rx.Recv()
		if err == nil {
			got <- v
		}
	}()

	time.Sleep(20 * time.Millisecond)
	tx.Send(42)

	select {
	case v := <-got:
		assert.Equal(t, 42, v)
	case <-time.After(2 * time.Second):
		t.Fatal("parked receiver was not woken")
	}
}

func TestDisconnect(t *testing.T) {
	consumer := park.NewThread("consumer")
	tx, rx := New[int](consumer)
	defer rx.Close()

	tx2 := tx.Clone()
	tx3 := tx2.Clone()
	assert.Equal(t, int64(3), rx.Senders())
	assert.Same(t, consumer, tx3.Target())

	tx.Send(9)
	tx.Close()
	tx2.Close()

	done := make(chan error, 1)
	go func() {
		v, err := rx.Recv()
		if err != nil || v != 9 {
			done <- err
			return
		}
		_, err = rx.Recv()
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	tx3.Close()
	assert.Equal(t, int64(0), rx.Senders())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrDisconnected)
	case <-time.After(2 * time.Second):
		t.Fatal("receiver not woken by the last sender closing")
	}
}

func TestManyProducers(t *testing.T) {
	const (
		producers   = 8
		perProducer = 10_000
	)

	tx, rx := New[int](park.NewThread("consumer"), WithSegmentSize[int](16), WithName[int]("events"))
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
	for v := range rx.All() {
		p := v / perProducer
		if v <= last[p] {
			t.Fatalf("producer %d: %d after %d (FIFO violated)", p, v, last[p])
		}
		last[p] = v
		seen[v]++
	}
	wg.Wait()

	for v, n := range seen {
		if n != 1 {
			t.Fatalf("value %d seen %d times (expected 1)", v, n)
		}
	}

	st := rx.Stats()
	assert.Equal(t, "events", st.Name)
	assert.Equal(t, "directed", st.Kind)
	assert.Zero(t, st.Pending)
}

// Tiny segments and a collection on every unpin keep segments retiring and
// being reused while 16 producers race on the tail.
func TestSegmentChurn(t *testing.T) {
	const (
		producers   = 16
		perProducer = 5_000
	)

	for _, segmentSize := range []uint64{1, 2, 4} {
		tx, rx := New[int](park.NewThread("consumer"),
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
			t.Fatalf("segment size %d: receiver stalled with %d pending", segmentSize, rx.Stats().Pending)
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

func TestDropHook(t *testing.T) {
	var dropped []string
	tx, rx := New[string](park.NewThread("consumer"), WithDrop(func(s string) { dropped = append(dropped, s) }))

	tx.Send("x")
	tx.Close()
	rx.Close()
	assert.Equal(t, []string{"x"}, dropped)
}

func TestMisusePanics(t *testing.T) {
	assert.Panics(t, func() { New[int](nil) })

	tx, rx := New[int](park.NewThread("consumer"))
	tx.Close()
	assert.Panics(t, func() { tx.Send(1) })
	rx.Close()
	assert.Panics(t, func() { _, _ = rx.Recv() })
}

func BenchmarkChannel_MP1C(b *testing.B) {
	const producers = 8
	tx, rx := New[int](park.NewThread("bench"))
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
