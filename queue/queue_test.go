package queue_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/docmill/docmill/dbopen"
	"github.com/docmill/docmill/queue"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	return dbopen.OpenMemory(t)
}

func newQ(t *testing.T, db *sql.DB, opts queue.Options) *queue.Q {
	t.Helper()
	q := queue.New(db, opts)
	if err := q.EnsureSchema(context.Background()); err != nil {
		t.Fatal(err)
	}
	return q
}

func TestEnqueueAndClaim(t *testing.T) {
	db := openDB(t)
	q := newQ(t, db, queue.Options{Visibility: time.Second})
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "/in/report.docx", "report.docx")
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Fatal("expected a task ID")
	}

	task, err := q.Claim(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if task == nil {
		t.Fatal("expected a task")
	}
	if task.ID != id {
		t.Fatalf("got id %q, want %q", task.ID, id)
	}
	if task.Path != "/in/report.docx" {
		t.Fatalf("got path %q, want /in/report.docx", task.Path)
	}
	if task.Name != "report.docx" {
		t.Fatalf("got name %q, want report.docx", task.Name)
	}
	if task.Attempts != 1 {
		t.Fatalf("got attempts %d, want 1", task.Attempts)
	}

	// Second claim returns nil: task is invisible.
	task2, err := q.Claim(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if task2 != nil {
		t.Fatal("expected nil, task should be invisible")
	}
}

func TestEnqueueDeduplicatesPath(t *testing.T) {
	db := openDB(t)
	q := newQ(t, db, queue.Options{Visibility: time.Second})
	ctx := context.Background()

	id1, err := q.Enqueue(ctx, "/in/scan.pdf", "scan.pdf")
	if err != nil {
		t.Fatal(err)
	}
	if id1 == "" {
		t.Fatal("first enqueue should insert")
	}

	id2, err := q.Enqueue(ctx, "/in/scan.pdf", "scan.pdf")
	if err != nil {
		t.Fatal(err)
	}
	if id2 != "" {
		t.Fatalf("second enqueue should be a no-op, got id %q", id2)
	}

	n, _ := q.Len(ctx)
	if n != 1 {
		t.Fatalf("queue len = %d, want 1", n)
	}
}

func TestAck(t *testing.T) {
	db := openDB(t)
	q := newQ(t, db, queue.Options{Visibility: time.Second})
	ctx := context.Background()

	q.Enqueue(ctx, "/in/a.pdf", "a.pdf")
	task, _ := q.Claim(ctx)
	if err := q.Ack(ctx, task.ID); err != nil {
		t.Fatal(err)
	}

	n, _ := q.Len(ctx)
	if n != 0 {
		t.Fatalf("queue should be empty after ack, got %d", n)
	}
}

func TestNack(t *testing.T) {
	db := openDB(t)
	q := newQ(t, db, queue.Options{Visibility: 10 * time.Second})
	ctx := context.Background()

	q.Enqueue(ctx, "/in/retry.pdf", "retry.pdf")
	task, _ := q.Claim(ctx)

	// Nack makes it visible again immediately.
	if err := q.Nack(ctx, task.ID); err != nil {
		t.Fatal(err)
	}

	task2, err := q.Claim(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if task2 == nil {
		t.Fatal("expected task after nack")
	}
	if task2.Attempts != 2 {
		t.Fatalf("got attempts %d, want 2", task2.Attempts)
	}
}

func TestVisibilityTimeout(t *testing.T) {
	db := openDB(t)
	q := newQ(t, db, queue.Options{Visibility: 50 * time.Millisecond})
	ctx := context.Background()

	q.Enqueue(ctx, "/in/slow.pdf", "slow.pdf")
	q.Claim(ctx) // claimed, invisible for 50ms

	// Immediately invisible.
	task, _ := q.Claim(ctx)
	if task != nil {
		t.Fatal("task should be invisible")
	}

	// Wait for visibility to expire.
	time.Sleep(80 * time.Millisecond)

	task, err := q.Claim(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if task == nil {
		t.Fatal("task should have reappeared")
	}
	if task.Attempts != 2 {
		t.Fatalf("got attempts %d, want 2", task.Attempts)
	}
}

func TestExtend(t *testing.T) {
	db := openDB(t)
	q := newQ(t, db, queue.Options{Visibility: 50 * time.Millisecond})
	ctx := context.Background()

	q.Enqueue(ctx, "/in/long.pdf", "long.pdf")
	task, _ := q.Claim(ctx)

	// Extend by 500ms: must not reappear after the original 50ms.
	if err := q.Extend(ctx, task.ID, 500*time.Millisecond); err != nil {
		t.Fatal(err)
	}

	time.Sleep(80 * time.Millisecond)

	task2, _ := q.Claim(ctx)
	if task2 != nil {
		t.Fatal("task should still be invisible after extend")
	}
}

func TestMultipleQueues(t *testing.T) {
	db := openDB(t)
	q1 := newQ(t, db, queue.Options{Queue: "inbox", Visibility: time.Second})
	q2 := newQ(t, db, queue.Options{Queue: "reprocess", Visibility: time.Second})
	ctx := context.Background()

	// The same path can sit in two queues; dedup is per queue.
	q1.Enqueue(ctx, "/in/shared.pdf", "shared.pdf")
	q2.Enqueue(ctx, "/in/shared.pdf", "shared.pdf")

	t1, _ := q1.Claim(ctx)
	t2, _ := q2.Claim(ctx)

	if t1 == nil || t1.Queue != "inbox" {
		t.Fatal("q1 should claim its own task")
	}
	if t2 == nil || t2.Queue != "reprocess" {
		t.Fatal("q2 should claim its own task")
	}

	// q1 should not see q2's task.
	extra, _ := q1.Claim(ctx)
	if extra != nil {
		t.Fatal("q1 should have no more tasks")
	}
}

func TestPurge(t *testing.T) {
	db := openDB(t)
	q := newQ(t, db, queue.Options{})
	ctx := context.Background()

	q.Enqueue(ctx, "/in/a.pdf", "a.pdf")
	q.Enqueue(ctx, "/in/b.pdf", "b.pdf")

	if err := q.Purge(ctx); err != nil {
		t.Fatal(err)
	}
	n, _ := q.Len(ctx)
	if n != 0 {
		t.Fatalf("expected 0 after purge, got %d", n)
	}
}

func TestRunProcessesBacklog(t *testing.T) {
	db := openDB(t)
	q := newQ(t, db, queue.Options{
		Visibility:   5 * time.Second,
		PollInterval: 10 * time.Millisecond,
	})
	ctx := context.Background()

	q.Enqueue(ctx, "/in/one.pdf", "one.pdf")
	q.Enqueue(ctx, "/in/two.pdf", "two.pdf")
	q.Enqueue(ctx, "/in/three.pdf", "three.pdf")

	var mu sync.Mutex
	var got []string

	runCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	q.Run(runCtx, 2, func(_ context.Context, task *queue.Task) error {
		mu.Lock()
		got = append(got, task.Name)
		n := len(got)
		mu.Unlock()
		if n == 3 {
			cancel()
		}
		return nil
	})

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 3 {
		t.Fatalf("expected 3 tasks, got %d: %v", len(got), got)
	}

	n, _ := q.Len(context.Background())
	if n != 0 {
		t.Fatalf("expected 0 remaining, got %d", n)
	}
}

func TestRunNacksOnHandlerError(t *testing.T) {
	db := openDB(t)
	q := newQ(t, db, queue.Options{
		Visibility:   5 * time.Second,
		PollInterval: 10 * time.Millisecond,
	})
	ctx := context.Background()

	q.Enqueue(ctx, "/in/flaky.pdf", "flaky.pdf")

	var mu sync.Mutex
	attempts := 0

	runCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	q.Run(runCtx, 1, func(_ context.Context, task *queue.Task) error {
		mu.Lock()
		attempts++
		a := attempts
		mu.Unlock()
		if a == 1 {
			return errors.New("transient failure")
		}
		cancel()
		return nil
	})

	mu.Lock()
	defer mu.Unlock()
	if attempts < 2 {
		t.Fatalf("expected at least 2 attempts, got %d", attempts)
	}
}

func TestRunBoundsConcurrency(t *testing.T) {
	db := openDB(t)
	q := newQ(t, db, queue.Options{
		Visibility:   5 * time.Second,
		PollInterval: 10 * time.Millisecond,
	})
	ctx := context.Background()

	const total = 8
	const workers = 2

	for i := 0; i < total; i++ {
		q.Enqueue(ctx, fmt.Sprintf("/in/doc-%d.pdf", i), fmt.Sprintf("doc-%d.pdf", i))
	}

	var current, peak, processed atomic.Int32

	runCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	q.Run(runCtx, workers, func(_ context.Context, task *queue.Task) error {
		c := current.Add(1)
		for {
			p := peak.Load()
			if c <= p || peak.CompareAndSwap(p, c) {
				break
			}
		}

		time.Sleep(20 * time.Millisecond) // simulate work

		current.Add(-1)
		if processed.Add(1) >= total {
			cancel()
		}
		return nil
	})

	if got := int(processed.Load()); got != total {
		t.Fatalf("expected %d processed, got %d", total, got)
	}
	if p := int(peak.Load()); p > workers {
		t.Fatalf("peak concurrency = %d, exceeds workers = %d", p, workers)
	}
}

func TestRunExtendsVisibilityWhileProcessing(t *testing.T) {
	db := openDB(t)
	q := newQ(t, db, queue.Options{
		Visibility:   60 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
	})
	ctx := context.Background()

	q.Enqueue(ctx, "/in/big.pdf", "big.pdf")

	// The handler outlives the visibility window several times over. The
	// heartbeat must keep the task invisible, so it is handled exactly once.
	var invocations atomic.Int32

	runCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	q.Run(runCtx, 2, func(_ context.Context, task *queue.Task) error {
		if invocations.Add(1) == 1 {
			time.Sleep(250 * time.Millisecond)
			cancel()
		}
		return nil
	})

	if n := invocations.Load(); n != 1 {
		t.Fatalf("task handled %d times, want exactly 1", n)
	}
	n, _ := q.Len(context.Background())
	if n != 0 {
		t.Fatalf("expected empty queue after ack, got %d", n)
	}
}

func TestRunDropsAfterMaxAttempts(t *testing.T) {
	db := openDB(t)

	var mu sync.Mutex
	var dropped []string

	q := newQ(t, db, queue.Options{
		Visibility:   10 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
		MaxAttempts:  2,
		OnDiscard: func(_ context.Context, task *queue.Task) {
			mu.Lock()
			dropped = append(dropped, task.Path)
			mu.Unlock()
		},
	})
	ctx := context.Background()

	q.Enqueue(ctx, "/in/poison.pdf", "poison.pdf")

	// Claim and nack twice to exhaust the attempts.
	for i := 0; i < 2; i++ {
		time.Sleep(15 * time.Millisecond)
		task, err := q.Claim(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if task == nil {
			t.Fatalf("expected task on attempt %d", i+1)
		}
		q.Nack(ctx, task.ID)
	}

	// Third delivery has attempts=3 > MaxAttempts=2. Run must drop it
	// without calling the handler.
	var handled bool
	runCtx, runCancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer runCancel()
	q.Run(runCtx, 1, func(_ context.Context, task *queue.Task) error {
		handled = true
		return nil
	})

	if handled {
		t.Fatal("handler should not have been called for a dropped task")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(dropped) != 1 || dropped[0] != "/in/poison.pdf" {
		t.Fatalf("OnDiscard got %v, want [/in/poison.pdf]", dropped)
	}
	n, _ := q.Len(ctx)
	if n != 0 {
		t.Fatalf("dropped task should be deleted, got len=%d", n)
	}
}
