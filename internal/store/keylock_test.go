package store

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyLock_SerializesSameKey(t *testing.T) {
	kl := newKeyLock()
	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := kl.Lock("33612345678")
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
	assert.Equal(t, 0, kl.size())
}

func TestKeyLock_DistinctKeysIndependent(t *testing.T) {
	kl := newKeyLock()
	unlockA := kl.Lock("a")
	unlockB := kl.Lock("b") // would deadlock if keys shared a mutex
	assert.Equal(t, 2, kl.size())
	unlockA()
	unlockB()
	assert.Equal(t, 0, kl.size())
}
