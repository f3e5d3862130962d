package session

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRegistryAcquireRelease(t *testing.T) {
	r := NewRegistry()

	release, ok := r.TryAcquire("channel:1")
	if !ok {
		t.Fatal("first acquire should succeed")
	}

	if _, ok := r.TryAcquire("channel:1"); ok {
		t.Error("second acquire should fail while held")
	}

	release()

	release2, ok := r.TryAcquire("channel:1")
	if !ok {
		t.Error("acquire after release should succeed")
	}
	release2()
}

func TestRegistryIndependentKeys(t *testing.T) {
	r := NewRegistry()

	release1, ok := r.TryAcquire("user:a:0")
	if !ok {
		t.Fatal("acquire failed")
	}
	defer release1()

	release2, ok := r.TryAcquire("user:b:0")
	if !ok {
		t.Error("different key should not block")
	}
	defer release2()
}

func TestRegistryBoundedWaitSucceeds(t *testing.T) {
	r := NewRegistry()

	release, ok := r.TryAcquire("channel:3")
	if !ok {
		t.Fatal("acquire failed")
	}

	go func() {
		time.Sleep(30 * time.Millisecond)
		release()
	}()

	start := time.Now()
	release2, ok := r.Acquire("channel:3", time.Second)
	if !ok {
		t.Fatal("acquire within wait window should succeed")
	}
	release2()

	if time.Since(start) > 500*time.Millisecond {
		t.Error("acquire took longer than the holder needed")
	}
}

func TestRegistryBoundedWaitTimesOut(t *testing.T) {
	r := NewRegistry()

	release, ok := r.TryAcquire("channel:4")
	if !ok {
		t.Fatal("acquire failed")
	}
	defer release()

	if _, ok := r.Acquire("channel:4", 30*time.Millisecond); ok {
		t.Error("acquire should time out while the holder keeps the lock")
	}
}

func TestRegistryMutualExclusion(t *testing.T) {
	r := NewRegistry()

	var inCritical int32
	var overlaps int32
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			release, ok := r.Acquire("shared", 5*time.Second)
			if !ok {
				t.Error("acquire timed out under contention")
				return
			}
			defer release()

			if !atomic.CompareAndSwapInt32(&inCritical, 0, 1) {
				atomic.AddInt32(&overlaps, 1)
			}
			counter++
			atomic.StoreInt32(&inCritical, 0)
		}()
	}
	wg.Wait()

	if overlaps != 0 {
		t.Errorf("detected %d overlapping critical sections", overlaps)
	}
	if counter != 100 {
		t.Errorf("expected 100 increments, got %d", counter)
	}
}
