package queue_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/docmill/docmill/queue"
)

// writeDoc drops a stub file into dir, backdating its mtime by age so tests
// control whether the settle window has passed.
func writeDoc(t *testing.T, dir, name string, age time.Duration) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("stub"), 0o644); err != nil {
		t.Fatal(err)
	}
	if age > 0 {
		old := time.Now().Add(-age)
		if err := os.Chtimes(path, old, old); err != nil {
			t.Fatal(err)
		}
	}
	return path
}

func TestWatcherEnqueuesSettledFiles(t *testing.T) {
	db := openDB(t)
	q := newQ(t, db, queue.Options{Visibility: time.Second})
	dir := t.TempDir()

	settled := writeDoc(t, dir, "report.pdf", time.Hour)
	writeDoc(t, dir, "uploading.pdf", 0) // fresh, still inside the settle window

	w := queue.NewWatcher(q, dir, queue.WatchOptions{
		Interval: 10 * time.Millisecond,
		Settle:   30 * time.Minute,
	})

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() { defer wg.Done(); w.Run(ctx) }()

	time.Sleep(60 * time.Millisecond)
	cancel()
	wg.Wait()

	task, err := q.Claim(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if task == nil {
		t.Fatal("expected the settled file to be enqueued")
	}
	if task.Path != settled {
		t.Fatalf("got path %q, want %q", task.Path, settled)
	}
	if task.Name != "report.pdf" {
		t.Fatalf("got name %q, want report.pdf", task.Name)
	}

	extra, _ := q.Claim(context.Background())
	if extra != nil {
		t.Fatalf("unsettled file enqueued: %s", extra.Path)
	}
}

func TestWatcherSkipsHiddenAndUnknown(t *testing.T) {
	db := openDB(t)
	q := newQ(t, db, queue.Options{Visibility: time.Second})
	dir := t.TempDir()

	writeDoc(t, dir, ".partial.pdf", time.Hour)
	writeDoc(t, dir, "notes.txt", time.Hour)
	writeDoc(t, dir, "report.docx", time.Hour)
	if err := os.Mkdir(filepath.Join(dir, "done"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeDoc(t, filepath.Join(dir, "done"), "nested.pdf", time.Hour)

	w := queue.NewWatcher(q, dir, queue.WatchOptions{
		Interval: 10 * time.Millisecond,
		Settle:   time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() { defer wg.Done(); w.Run(ctx) }()

	time.Sleep(60 * time.Millisecond)
	cancel()
	wg.Wait()

	n, _ := q.Len(context.Background())
	if n != 1 {
		t.Fatalf("queue len = %d, want 1 (only report.docx)", n)
	}
	task, _ := q.Claim(context.Background())
	if task == nil || task.Name != "report.docx" {
		t.Fatalf("got %+v, want report.docx", task)
	}
}

func TestWatcherDedupesAcrossScans(t *testing.T) {
	db := openDB(t)
	q := newQ(t, db, queue.Options{Visibility: time.Second})
	dir := t.TempDir()

	writeDoc(t, dir, "report.pdf", time.Hour)

	w := queue.NewWatcher(q, dir, queue.WatchOptions{
		Interval: 5 * time.Millisecond,
		Settle:   time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() { defer wg.Done(); w.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()
	wg.Wait()

	s := w.Stats()
	if s.Scans < 5 {
		t.Fatalf("expected several scans, got %d", s.Scans)
	}
	if s.Enqueued != 1 {
		t.Fatalf("enqueued = %d, want 1 despite repeated scans", s.Enqueued)
	}
	n, _ := q.Len(context.Background())
	if n != 1 {
		t.Fatalf("queue len = %d, want 1", n)
	}
}

func TestWatcherCountsScanErrors(t *testing.T) {
	db := openDB(t)
	q := newQ(t, db, queue.Options{Visibility: time.Second})

	w := queue.NewWatcher(q, filepath.Join(t.TempDir(), "missing"), queue.WatchOptions{
		Interval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() { defer wg.Done(); w.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	wg.Wait()

	s := w.Stats()
	if s.Errors == 0 {
		t.Fatal("expected scan errors for a missing directory")
	}
	if s.Enqueued != 0 {
		t.Fatalf("enqueued = %d, want 0", s.Enqueued)
	}
}

func TestWatcherFeedsConsumer(t *testing.T) {
	db := openDB(t)
	q := newQ(t, db, queue.Options{
		Visibility:   time.Second,
		PollInterval: 10 * time.Millisecond,
	})
	dir := t.TempDir()

	path := writeDoc(t, dir, "contract.pdf", time.Hour)

	w := queue.NewWatcher(q, dir, queue.WatchOptions{
		Interval: 10 * time.Millisecond,
		Settle:   time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() { defer wg.Done(); w.Run(ctx) }()

	var mu sync.Mutex
	var handled []string
	q.Run(ctx, 1, func(_ context.Context, task *queue.Task) error {
		mu.Lock()
		handled = append(handled, task.Path)
		mu.Unlock()
		cancel()
		return nil
	})
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(handled) != 1 || handled[0] != path {
		t.Fatalf("handled %v, want [%s]", handled, path)
	}
	n, _ := q.Len(context.Background())
	if n != 0 {
		t.Fatalf("queue len = %d, want 0 after ack", n)
	}
}
