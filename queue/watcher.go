package queue

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"time"
)

// DefaultExtensions lists the filename extensions the watcher enqueues by
// default. It matches the document families the classifier understands.
var DefaultExtensions = []string{
	".pdf",
	".doc", ".docx", ".odt", ".rtf",
	".ppt", ".pptx", ".odp",
	".xls", ".xlsx", ".ods",
	".png", ".jpg", ".jpeg", ".tif", ".tiff", ".bmp", ".gif", ".webp",
}

// WatchOptions tunes the directory watcher.
type WatchOptions struct {
	// Interval is the directory poll frequency. Default: 2s.
	Interval time.Duration
	// Settle is how long a file must sit unmodified before it is enqueued,
	// so a half-copied upload is not converted. Default: 2s.
	Settle time.Duration
	// Extensions lists accepted filename extensions, lowercase with the
	// leading dot. Default: DefaultExtensions.
	Extensions []string
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *WatchOptions) defaults() {
	if o.Interval <= 0 {
		o.Interval = 2 * time.Second
	}
	if o.Settle <= 0 {
		o.Settle = 2 * time.Second
	}
	if o.Extensions == nil {
		o.Extensions = DefaultExtensions
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Watcher polls a directory and enqueues each settled document file it
// finds. Deduplication is the queue's UNIQUE(queue, path) constraint, so
// offering the same file on every scan is harmless; a file is re-enqueued
// only if its row was removed while the file still sits in the directory.
// Hidden files, subdirectories, and unknown extensions are ignored.
type Watcher struct {
	q    *Q
	dir  string
	opts WatchOptions

	// Counters for observability (exported via Stats).
	scans    atomic.Int64
	enqueued atomic.Int64
	errors   atomic.Int64
}

// WatchStats are point-in-time counters.
type WatchStats struct {
	Scans    int64 `json:"scans"`
	Enqueued int64 `json:"enqueued"`
	Errors   int64 `json:"errors"`
}

// NewWatcher creates a watcher feeding q from dir. Call Run to start the loop.
func NewWatcher(q *Q, dir string, opts WatchOptions) *Watcher {
	opts.defaults()
	return &Watcher{q: q, dir: dir, opts: opts}
}

// Stats returns the current counters.
func (w *Watcher) Stats() WatchStats {
	return WatchStats{
		Scans:    w.scans.Load(),
		Enqueued: w.enqueued.Load(),
		Errors:   w.errors.Load(),
	}
}

// Run blocks until ctx is cancelled, scanning the directory at the
// configured interval. The first scan happens immediately.
func (w *Watcher) Run(ctx context.Context) {
	log := w.opts.Logger
	log.Info("queue: watcher started", "dir", w.dir, "interval", w.opts.Interval, "settle", w.opts.Settle)

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	w.scan(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info("queue: watcher stopped", "dir", w.dir)
			return
		case <-ticker.C:
			w.scan(ctx)
		}
	}
}

func (w *Watcher) scan(ctx context.Context) {
	w.scans.Add(1)
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.errors.Add(1)
		w.opts.Logger.Warn("queue: scan failed", "dir", w.dir, "error", err)
		return
	}

	now := time.Now()
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, ".") || !w.accepts(name) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue // removed between readdir and stat
		}
		if now.Sub(info.ModTime()) < w.opts.Settle {
			continue // still being written
		}

		id, err := w.q.Enqueue(ctx, filepath.Join(w.dir, name), name)
		if err != nil {
			w.errors.Add(1)
			w.opts.Logger.Warn("queue: enqueue failed", "file", name, "error", err)
			continue
		}
		if id != "" {
			w.enqueued.Add(1)
			w.opts.Logger.Info("queue: file enqueued", "file", name, "id", id, "size", info.Size())
		}
	}
}

func (w *Watcher) accepts(name string) bool {
	return slices.Contains(w.opts.Extensions, strings.ToLower(filepath.Ext(name)))
}
