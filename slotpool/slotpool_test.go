package slotpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolBound(t *testing.T) {
	const size = 2
	p := New(size)

	var inUse, maxInUse atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := p.Acquire(context.Background())
			if err != nil {
				t.Error(err)
				return
			}
			n := inUse.Add(1)
			for {
				cur := maxInUse.Load()
				if n <= cur || maxInUse.CompareAndSwap(cur, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inUse.Add(-1)
			p.Release(s)
		}()
	}
	wg.Wait()

	if got := maxInUse.Load(); got > size {
		t.Fatalf("observed %d concurrent holders, bound is %d", got, size)
	}
	if p.InUse() != 0 {
		t.Fatalf("InUse = %d after all released, want 0", p.InUse())
	}
}

func TestAcquireHonorsContext(t *testing.T) {
	p := New(1)
	s, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := p.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}

	p.Release(s)
	if _, err := p.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestTryAcquire(t *testing.T) {
	p := New(1)
	s, ok := p.TryAcquire()
	if !ok {
		t.Fatal("expected first TryAcquire to succeed")
	}
	if _, ok := p.TryAcquire(); ok {
		t.Fatal("expected second TryAcquire to fail")
	}
	p.Release(s)
	if _, ok := p.TryAcquire(); !ok {
		t.Fatal("expected TryAcquire after release to succeed")
	}
}

func TestSlotIndexesStable(t *testing.T) {
	p := New(3)
	seen := map[int]bool{}
	var held []Slot
	for i := 0; i < 3; i++ {
		s, err := p.Acquire(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if s.Index < 0 || s.Index >= 3 {
			t.Fatalf("slot index %d out of range", s.Index)
		}
		if seen[s.Index] {
			t.Fatalf("slot index %d handed out twice", s.Index)
		}
		seen[s.Index] = true
		held = append(held, s)
	}
	for _, s := range held {
		p.Release(s)
	}
}

func TestNewClampsSize(t *testing.T) {
	if got := New(0).Size(); got != 1 {
		t.Fatalf("Size = %d, want 1", got)
	}
	if got := New(-5).Size(); got != 1 {
		t.Fatalf("Size = %d, want 1", got)
	}
}
