package keylock

import (
	"sync"
	"testing"
)

func TestLockSerializesSameKey(t *testing.T) {
	t.Parallel()

	kl := New()
	const n = 50
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := kl.Lock("order-1")
			counter++
			unlock()
		}()
	}
	wg.Wait()

	if counter != n {
		t.Fatalf("counter=%d, expected %d", counter, n)
	}
	if len(kl.locks) != 0 {
		t.Fatalf("locks map not drained: %d entries", len(kl.locks))
	}
}

func TestLockIndependentKeys(t *testing.T) {
	t.Parallel()

	kl := New()
	unlockA := kl.Lock("a")

	done := make(chan struct{})
	go func() {
		unlockB := kl.Lock("b")
		unlockB()
		close(done)
	}()
	<-done // must not deadlock while "a" is held
	unlockA()
}
