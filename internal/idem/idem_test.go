package idem

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestTryAcquireOnce(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	ok, err := s.TryAcquire(ctx, "msg:M1", time.Hour)
	if err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}
	if !ok {
		t.Fatal("first TryAcquire should succeed")
	}

	// N subsequent calls within the TTL are duplicates.
	for i := 0; i < 5; i++ {
		ok, err := s.TryAcquire(ctx, "msg:M1", time.Hour)
		if err != nil {
			t.Fatalf("TryAcquire retry %d: %v", i, err)
		}
		if ok {
			t.Fatalf("retry %d should observe duplicate", i)
		}
	}
}

func TestTryAcquireExpires(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()
	s.SetClock(func() time.Time { return now })
	ctx := context.Background()

	if ok, _ := s.TryAcquire(ctx, "msg:M2", time.Minute); !ok {
		t.Fatal("first acquire should succeed")
	}

	// Advance past the TTL; the key is free again.
	now = now.Add(time.Minute + time.Second)
	if ok, _ := s.TryAcquire(ctx, "msg:M2", time.Minute); !ok {
		t.Fatal("acquire after expiry should succeed")
	}
}

func TestExists(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if ok, _ := s.Exists(ctx, "msg:M3"); ok {
		t.Fatal("key should not exist before acquire")
	}
	s.TryAcquire(ctx, "msg:M3", time.Hour)
	if ok, _ := s.Exists(ctx, "msg:M3"); !ok {
		t.Fatal("key should exist after acquire")
	}
}

func TestTryAcquireConcurrent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	const racers = 32
	var wg sync.WaitGroup
	wins := make(chan int, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ok, err := s.TryAcquire(ctx, "msg:race", time.Hour)
			if err != nil {
				t.Errorf("racer %d: %v", n, err)
				return
			}
			if ok {
				wins <- n
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	var count int
	for range wins {
		count++
	}
	if count != 1 {
		t.Fatalf("expected exactly one winner, got %d", count)
	}
}

func TestDistinctKeysIndependent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		key := fmt.Sprintf("msg:M%d", i)
		if ok, _ := s.TryAcquire(ctx, key, time.Hour); !ok {
			t.Errorf("key %s should acquire independently", key)
		}
	}
}
