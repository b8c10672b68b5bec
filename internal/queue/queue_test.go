package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSessionLaneSerializesSameSession(t *testing.T) {
	m := NewManager(1, 10)
	var concurrent int32
	var maxObserved int32
	var wg sync.WaitGroup

	run := func() {
		defer wg.Done()
		release, err := m.Enqueue(context.Background(), "session-a")
		if err != nil {
			t.Error(err)
			return
		}
		defer release()
		n := atomic.AddInt32(&concurrent, 1)
		for {
			max := atomic.LoadInt32(&maxObserved)
			if n <= max || atomic.CompareAndSwapInt32(&maxObserved, max, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&concurrent, -1)
	}

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go run()
	}
	wg.Wait()

	if maxObserved > 1 {
		t.Fatalf("expected session lane to serialize turns, observed %d concurrent", maxObserved)
	}
}

func TestGlobalLaneBoundsTotalConcurrency(t *testing.T) {
	m := NewManager(10, 2)
	var concurrent int32
	var maxObserved int32
	var wg sync.WaitGroup

	run := func(session string) {
		defer wg.Done()
		release, err := m.Enqueue(context.Background(), session)
		if err != nil {
			t.Error(err)
			return
		}
		defer release()
		n := atomic.AddInt32(&concurrent, 1)
		for {
			max := atomic.LoadInt32(&maxObserved)
			if n <= max || atomic.CompareAndSwapInt32(&maxObserved, max, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&concurrent, -1)
	}

	for i := 0; i < 6; i++ {
		wg.Add(1)
		go run("session-" + string(rune('a'+i)))
	}
	wg.Wait()

	if maxObserved > 2 {
		t.Fatalf("expected global cap of 2, observed %d concurrent", maxObserved)
	}
}

func TestEnqueueRespectsCancellation(t *testing.T) {
	m := NewManager(1, 1)
	release, err := m.Enqueue(context.Background(), "s")
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = m.Enqueue(ctx, "s")
	if err == nil {
		t.Fatal("expected context deadline error while lane is held")
	}
}

func TestStatsReportsOccupancy(t *testing.T) {
	m := NewManager(1, 3)
	release, err := m.Enqueue(context.Background(), "s")
	if err != nil {
		t.Fatal(err)
	}
	stats := m.Stats()
	if stats.Active != 1 {
		t.Fatalf("expected 1 active, got %d", stats.Active)
	}
	if stats.MaxConcurrent != 3 {
		t.Fatalf("expected max concurrent 3, got %d", stats.MaxConcurrent)
	}
	release()
	stats = m.Stats()
	if stats.Active != 0 {
		t.Fatalf("expected 0 active after release, got %d", stats.Active)
	}
}
