// Package queue implements a crash-safe pending-conversion queue backed by
// SQLite. Files arriving in a watched directory become rows here; workers
// claim rows, convert the file, and ack. A claimed row is invisible to other
// workers for a configurable duration; if the holder crashes or stalls past
// the timeout the row reappears and someone else picks it up. No external
// broker: a daemon restarting mid-conversion loses nothing but time.
//
// Expected schema (created automatically by EnsureSchema):
//
//	CREATE TABLE IF NOT EXISTS pending_conversions (
//	    id         TEXT PRIMARY KEY,
//	    queue      TEXT NOT NULL DEFAULT '',
//	    path       TEXT NOT NULL,
//	    name       TEXT NOT NULL DEFAULT '',
//	    visible_at INTEGER NOT NULL DEFAULT 0,  -- milliseconds since epoch
//	    created_at INTEGER NOT NULL,            -- milliseconds since epoch
//	    attempts   INTEGER NOT NULL DEFAULT 0,
//	    UNIQUE (queue, path)
//	);
//
// The UNIQUE(queue, path) constraint makes Enqueue idempotent per file, so a
// directory scanner can offer the same path on every pass without flooding
// the queue.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/docmill/docmill/idgen"
)

// Task is a pending conversion: one file waiting to go through the pipeline.
type Task struct {
	ID        string
	Queue     string
	Path      string // absolute path of the input document
	Name      string // filename as it arrived, kept as the classification hint
	VisibleAt time.Time
	CreatedAt time.Time
	Attempts  int
}

// Options configures queue behaviour.
type Options struct {
	// Queue is the logical queue name. Multiple queues can coexist in the
	// same table. Default: "" (the default queue).
	Queue string
	// Visibility is how long a claimed task stays invisible. Run extends it
	// on a heartbeat while the handler is busy, so it only needs to outlast
	// a crash detection window, not the longest conversion. Default: 2m.
	Visibility time.Duration
	// PollInterval is the delay between claim attempts in the Run loop.
	// Default: 1s.
	PollInterval time.Duration
	// MaxAttempts limits how many times a task can be redelivered before
	// being dropped. 0 means unlimited. Default: 0.
	MaxAttempts int
	// OnDiscard is called when Run drops a task that exceeded MaxAttempts,
	// before its row is deleted. The watch daemon uses it to move the file
	// out of the inbox so the scanner does not enqueue it again.
	OnDiscard func(ctx context.Context, t *Task)
	// NewID overrides the task ID generator. Default: idgen.Default.
	NewID idgen.Generator
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Visibility <= 0 {
		o.Visibility = 2 * time.Minute
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.NewID == nil {
		o.NewID = idgen.Default
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Q is the queue handle.
type Q struct {
	db   *sql.DB
	opts Options
}

// New creates a queue handle. Call EnsureSchema once at startup, then
// Enqueue and Claim (or Run) as needed.
func New(db *sql.DB, opts Options) *Q {
	opts.defaults()
	return &Q{db: db, opts: opts}
}

// EnsureSchema creates the pending_conversions table and index if they
// don't exist.
func (q *Q) EnsureSchema(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS pending_conversions (
			id         TEXT PRIMARY KEY,
			queue      TEXT NOT NULL DEFAULT '',
			path       TEXT NOT NULL,
			name       TEXT NOT NULL DEFAULT '',
			visible_at INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			attempts   INTEGER NOT NULL DEFAULT 0,
			UNIQUE (queue, path)
		);
		CREATE INDEX IF NOT EXISTS idx_pending_visible ON pending_conversions (queue, visible_at);
	`)
	return err
}

// Enqueue inserts an immediately visible task for path and returns its ID.
// If the path is already queued the call is a no-op and returns "".
func (q *Q) Enqueue(ctx context.Context, path, name string) (string, error) {
	id := q.opts.NewID()
	now := time.Now().UnixMilli()
	res, err := q.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO pending_conversions (id, queue, path, name, visible_at, created_at) VALUES (?,?,?,?,?,?)`,
		id, q.opts.Queue, path, name, now, now,
	)
	if err != nil {
		return "", err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil // path already queued
	}
	return id, nil
}

// Claim atomically picks the oldest visible task, marks it invisible for the
// configured visibility duration, and returns it. Returns nil, nil if no
// task is available.
func (q *Q) Claim(ctx context.Context) (*Task, error) {
	now := time.Now()
	hideUntil := now.Add(q.opts.Visibility).UnixMilli()

	row := q.db.QueryRowContext(ctx, `
		UPDATE pending_conversions
		SET visible_at = ?, attempts = attempts + 1
		WHERE id = (
			SELECT id FROM pending_conversions
			WHERE queue = ? AND visible_at <= ?
			ORDER BY visible_at ASC
			LIMIT 1
		)
		RETURNING id, queue, path, name, visible_at, created_at, attempts`,
		hideUntil, q.opts.Queue, now.UnixMilli(),
	)

	var t Task
	var visAt, creAt int64
	err := row.Scan(&t.ID, &t.Queue, &t.Path, &t.Name, &visAt, &creAt, &t.Attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t.VisibleAt = time.UnixMilli(visAt)
	t.CreatedAt = time.UnixMilli(creAt)
	return &t, nil
}

// Ack deletes a successfully processed task.
func (q *Q) Ack(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx,
		`DELETE FROM pending_conversions WHERE id = ? AND queue = ?`, id, q.opts.Queue,
	)
	return err
}

// Nack makes a task immediately visible again so another worker can pick it up.
func (q *Q) Nack(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE pending_conversions SET visible_at = 0 WHERE id = ? AND queue = ?`, id, q.opts.Queue,
	)
	return err
}

// Extend pushes the visibility timeout forward for a task that needs more
// processing time. Run calls it on a heartbeat for every in-flight task.
func (q *Q) Extend(ctx context.Context, id string, extra time.Duration) error {
	hideUntil := time.Now().Add(extra).UnixMilli()
	_, err := q.db.ExecContext(ctx,
		`UPDATE pending_conversions SET visible_at = ? WHERE id = ? AND queue = ?`,
		hideUntil, id, q.opts.Queue,
	)
	return err
}

// Purge deletes all tasks in the queue.
func (q *Q) Purge(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx,
		`DELETE FROM pending_conversions WHERE queue = ?`, q.opts.Queue,
	)
	return err
}

// Len returns the total number of tasks (visible + invisible) in the queue.
func (q *Q) Len(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pending_conversions WHERE queue = ?`, q.opts.Queue,
	).Scan(&n)
	return n, err
}

// Handler converts a claimed task. Return nil to ack, non-nil to nack.
type Handler func(ctx context.Context, t *Task) error

// Run claims tasks and dispatches each to handler, with at most workers
// handlers running concurrently. A task is claimed only once a worker slot
// is free, so a busy consumer never hoards invisible tasks it cannot start.
// Run blocks until ctx is cancelled, draining in-flight handlers before
// returning.
func (q *Q) Run(ctx context.Context, workers int, handler Handler) {
	if workers < 1 {
		workers = 1
	}
	log := q.opts.Logger
	log.Info("queue: consumer started",
		"queue", q.opts.Queue,
		"workers", workers,
		"visibility", q.opts.Visibility,
		"poll", q.opts.PollInterval,
	)

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("queue: consumer stopping, draining in-flight handlers", "queue", q.opts.Queue)
			wg.Wait()
			log.Info("queue: consumer stopped", "queue", q.opts.Queue)
			return
		case <-ticker.C:
			q.drain(ctx, sem, &wg, handler, log)
		}
	}
}

// drain claims and dispatches until the queue has nothing visible or ctx is
// cancelled. Each claim waits for a free worker slot first.
func (q *Q) drain(ctx context.Context, sem chan struct{}, wg *sync.WaitGroup, handler Handler, log *slog.Logger) {
	for {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return
		}

		task, err := q.Claim(ctx)
		if err != nil {
			<-sem
			if ctx.Err() == nil {
				log.Warn("queue: claim failed", "error", err, "queue", q.opts.Queue)
			}
			return
		}
		if task == nil {
			<-sem
			return // nothing visible
		}

		// Drop if max attempts exceeded.
		if q.opts.MaxAttempts > 0 && task.Attempts > q.opts.MaxAttempts {
			log.Warn("queue: task exceeded max attempts, dropping",
				"id", task.ID, "path", task.Path, "attempts", task.Attempts, "queue", q.opts.Queue)
			if q.opts.OnDiscard != nil {
				q.opts.OnDiscard(ctx, task)
			}
			_ = q.Ack(ctx, task.ID)
			<-sem
			continue
		}

		wg.Add(1)
		go func(t *Task) {
			defer wg.Done()
			defer func() { <-sem }()

			hctx, stop := context.WithCancel(ctx)
			defer stop()
			go q.keepVisible(hctx, t.ID)

			if err := handler(ctx, t); err != nil {
				log.Warn("queue: handler failed, nacking", "id", t.ID, "path", t.Path, "error", err, "queue", q.opts.Queue)
				_ = q.Nack(context.Background(), t.ID)
			} else {
				_ = q.Ack(context.Background(), t.ID)
			}
		}(task)
	}
}

// keepVisible extends the visibility of a claimed task on a fixed heartbeat
// while its handler runs, so a conversion longer than the visibility window
// is not redelivered to another worker.
func (q *Q) keepVisible(ctx context.Context, id string) {
	beat := time.NewTicker(q.opts.Visibility / 2)
	defer beat.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-beat.C:
			if err := q.Extend(ctx, id, q.opts.Visibility); err != nil && ctx.Err() == nil {
				q.opts.Logger.Warn("queue: extend failed", "id", id, "error", err)
			}
		}
	}
}
