package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/docmill/docmill/slotpool"
)

// Task is one conversion to run.
type Task struct {
	Data         []byte
	DeclaredName string
	Options      Options
}

// TaskResult pairs a task's bundle with its error, in task order.
type TaskResult struct {
	Bundle *ArtifactBundle
	Err    error
}

// Pool bounds how many jobs run at once. The render slot pool already
// bounds LibreOffice; this bound covers everything else a job holds, the
// workspace and rasterizer and OCR invocations included.
type Pool struct {
	coord  *Coordinator
	slots  *slotpool.Pool
	logger *slog.Logger
}

// NewPool returns a pool running jobs through coord on up to workers
// goroutines.
func NewPool(coord *Coordinator, workers int, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{coord: coord, slots: slotpool.New(workers), logger: logger}
}

// Do runs one task, blocking first for a worker slot.
func (p *Pool) Do(ctx context.Context, t Task) (*ArtifactBundle, error) {
	slot, err := p.slots.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("jobs: waiting for worker: %w", err)
	}
	defer p.slots.Release(slot)
	return p.coord.Run(ctx, t.Data, t.DeclaredName, t.Options)
}

// Process fans tasks out across the worker slots and collects results in
// task order. Individual failures land in their TaskResult; Process itself
// always runs every task.
func (p *Pool) Process(ctx context.Context, tasks []Task) []TaskResult {
	p.logger.Debug("jobs: processing batch", "tasks", len(tasks), "workers", p.slots.Size())
	results := make([]TaskResult, len(tasks))
	var wg sync.WaitGroup
	for i, t := range tasks {
		wg.Add(1)
		go func(i int, t Task) {
			defer wg.Done()
			b, err := p.Do(ctx, t)
			results[i] = TaskResult{Bundle: b, Err: err}
		}(i, t)
	}
	wg.Wait()
	return results
}
