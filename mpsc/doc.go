// Package mpsc implements an unbounded multi-producer single-consumer
// channel that blocks its receiver on a futex-style wait over a message
// counter.
//
// Every Send pushes into a lock-free queue, then increments the counter and
// wakes the receiver. Recv decrements the counter with CAS and pops exactly
// one value; when the counter is zero it sleeps until the counter word
// changes. The counter always equals the number of values sent and not yet
// received, so Ready and Len are exact at the moment they are read.
//
// Senders are counted explicitly: Clone adds one, Close removes one. Once
// the last sender is closed and the buffer is empty, Recv returns
// ErrDisconnected instead of blocking, and iteration with All ends.
//
//	tx, rx := mpsc.New[int]()
//	go func() {
//		defer tx.Close()
//		for i := 0; i < 100; i++ {
//			tx.Send(i)
//		}
//	}()
//	for v := range rx.All() {
//		fmt.Println(v)
//	}
//
// There is no timeout or cancellation: a Recv with live senders and no
// messages waits until one arrives.
package mpsc
