package jobs

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/docmill/docmill/internal/testdoc"
	"github.com/docmill/docmill/pipeline"
)

// gaugeObserver tracks how many jobs run at once.
type gaugeObserver struct {
	live, max atomic.Int32
}

func (g *gaugeObserver) JobStarted(string, string, int) {
	n := g.live.Add(1)
	for {
		cur := g.max.Load()
		if n <= cur || g.max.CompareAndSwap(cur, n) {
			break
		}
	}
}

func (g *gaugeObserver) StageFinished(string, pipeline.StageResult) {}

func (g *gaugeObserver) JobFinished(string, pipeline.Status, time.Duration, error) {
	g.live.Add(-1)
}

func TestPoolBoundsConcurrentJobs(t *testing.T) {
	tools := &fakeTools{t: t, delay: 15 * time.Millisecond}
	gauge := &gaugeObserver{}

	cfg := DefaultConfig()
	cfg.WorkspaceRoot = filepath.Join(t.TempDir(), "ws")
	coord, err := NewCoordinator(cfg, tools, gauge, nil)
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	pool := NewPool(coord, 2, nil)

	tasks := make([]Task, 6)
	for i := range tasks {
		tasks[i] = Task{Data: testdoc.TextPDF(reportPages), DeclaredName: "doc.pdf"}
	}
	results := pool.Process(context.Background(), tasks)

	seen := map[string]bool{}
	for i, r := range results {
		if r.Err != nil {
			t.Fatalf("task %d: %v", i, r.Err)
		}
		if r.Bundle == nil || seen[r.Bundle.JobID] {
			t.Fatalf("task %d: missing or duplicate job id", i)
		}
		seen[r.Bundle.JobID] = true
	}
	if got := gauge.max.Load(); got > 2 {
		t.Fatalf("observed %d concurrent jobs with 2 workers", got)
	}
}

func TestPoolProcessKeepsTaskOrder(t *testing.T) {
	tools := &fakeTools{t: t}
	coord, _, _ := newTestCoordinator(t, nil, tools)
	pool := NewPool(coord, 2, nil)

	page := []string{"Enough body text on this page to count as a real text layer."}
	tasks := []Task{
		{Data: testdoc.TextPDF([][]string{page}), DeclaredName: "one.pdf"},
		{Data: testdoc.TextPDF([][]string{page, page}), DeclaredName: "two.pdf"},
		{Data: []byte("not a document at all"), DeclaredName: "bad.txt"},
		{Data: testdoc.TextPDF([][]string{page, page, page}), DeclaredName: "three.pdf"},
	}
	results := pool.Process(context.Background(), tasks)
	if len(results) != len(tasks) {
		t.Fatalf("expected %d results, got %d", len(tasks), len(results))
	}

	wantPages := []int{1, 2, 0, 3}
	for i, r := range results {
		if i == 2 {
			if r.Err == nil {
				t.Fatal("expected the garbage task to fail")
			}
			continue
		}
		if r.Err != nil {
			t.Fatalf("task %d: %v", i, r.Err)
		}
		if got := r.Bundle.PageCount(); got != wantPages[i] {
			t.Fatalf("task %d: expected %d pages, got %d", i, wantPages[i], got)
		}
	}
}

func TestPoolDoHonorsContext(t *testing.T) {
	tools := &fakeTools{t: t, delay: 300 * time.Millisecond}
	coord, _, _ := newTestCoordinator(t, nil, tools)
	pool := NewPool(coord, 1, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := pool.Do(context.Background(), Task{Data: testdoc.TextPDF(reportPages), DeclaredName: "a.pdf"}); err != nil {
			t.Errorf("first task: %v", err)
		}
	}()

	// Let the first task claim the only worker slot.
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := pool.Do(ctx, Task{Data: testdoc.TextPDF(reportPages), DeclaredName: "b.pdf"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	<-done
}
