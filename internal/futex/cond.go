package futex

import (
	"sync"
	"sync/atomic"
	"unsafe"
)

const bucketCount = 64

// bucket serialises waiters and wakers of every address hashing to it.
type bucket struct {
	mu      sync.Mutex
	cond    sync.Cond
	waiters int
	_       [40]byte
}

var buckets [bucketCount]bucket

func init() {
	for i := range buckets {
		buckets[i].cond.L = &buckets[i].mu
	}
}

func bucketFor(addr *uint32) *bucket {
	h := uintptr(unsafe.Pointer(addr)) >> 2
	h ^= h >> 7
	return &buckets[h%bucketCount]
}

// condWait is the portable Wait. The value is compared under the bucket lock
// and condWake takes the same lock, so a change made before condWake is
// either seen here or followed by a broadcast we are already waiting for.
func condWait(addr *uint32, expected uint32) {
	b := bucketFor(addr)
	b.mu.Lock()
	if atomic.LoadUint32(addr) == expected {
		b.waiters++
		b.cond.Wait()
		b.waiters--
	}
	b.mu.Unlock()
}

// condWake broadcasts: other addresses in the bucket see a spurious wakeup.
func condWake(addr *uint32) {
	b := bucketFor(addr)
	b.mu.Lock()
	if b.waiters > 0 {
		b.cond.Broadcast()
	}
	b.mu.Unlock()
}
