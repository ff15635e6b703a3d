package orchestrator

import (
	"sync"
	"testing"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	var km keyedMutex
	const workers = 50

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("t1")
			counter++
			unlock()
		}()
	}
	wg.Wait()

	if counter != workers {
		t.Errorf("counter = %d, want %d", counter, workers)
	}
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	var km keyedMutex

	unlockA := km.Lock("a")
	done := make(chan struct{})
	go func() {
		unlockB := km.Lock("b")
		unlockB()
		close(done)
	}()
	<-done // key b must not wait on key a
	unlockA()
}

func TestKeyedMutexCleansUpEntries(t *testing.T) {
	var km keyedMutex
	unlock := km.Lock("t1")
	unlock()

	km.mu.Lock()
	defer km.mu.Unlock()
	if len(km.locks) != 0 {
		t.Errorf("lock map holds %d entries after release, want 0", len(km.locks))
	}
}
