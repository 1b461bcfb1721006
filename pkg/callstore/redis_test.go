package callstore

import (
	"testing"
	"time"
)

func TestRedisKeyLock_SecondHolderWaitsForFirst(t *testing.T) {
	r := NewRedis(nil)

	held := r.acquireKey("call-1")

	entered := make(chan struct{})
	go func() {
		lock := r.acquireKey("call-1")
		close(entered)
		r.releaseKey("call-1", lock)
	}()

	// A delete releasing its own reference must not hand a fresh mutex to
	// the waiting writer while the first one still holds the key.
	select {
	case <-entered:
		t.Fatal("second holder entered while the key lock was held")
	case <-time.After(50 * time.Millisecond):
	}

	r.releaseKey("call-1", held)

	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("waiting holder never acquired the key lock")
	}
}

func TestRedisKeyLock_EntriesFreedAfterUse(t *testing.T) {
	r := NewRedis(nil)

	first := r.acquireKey("call-1")
	done := make(chan struct{})
	go func() {
		second := r.acquireKey("call-1")
		r.releaseKey("call-1", second)
		close(done)
	}()

	r.releaseKey("call-1", first)
	<-done

	other := r.acquireKey("call-2")
	r.releaseKey("call-2", other)

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.locks) != 0 {
		t.Errorf("lock entries leaked: %d", len(r.locks))
	}
}
