package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/docmill/docmill/dbopen"
	"github.com/docmill/docmill/idgen"
	"github.com/docmill/docmill/jobs"
	"github.com/docmill/docmill/observability"
	"github.com/docmill/docmill/queue"
	"github.com/docmill/docmill/toolrun"
)

// workerName identifies the watch daemon in heartbeats and events.
const workerName = "docmill-watch"

// daemonConfig is the watch daemon's YAML config: the conversion settings
// inline at the top level, plus the inbox layout and observability knobs.
type daemonConfig struct {
	jobs.Config `yaml:",inline"`

	Watch watchConfig `yaml:"watch"`
	Obs   obsConfig   `yaml:"observability"`
}

type watchConfig struct {
	// Inbox is the directory scanned for incoming documents.
	Inbox string `yaml:"inbox"`
	// OutDir receives one artifact subdirectory per converted document.
	OutDir string `yaml:"out_dir"`
	// DoneDir and FailedDir receive the original files after processing.
	DoneDir   string `yaml:"done_dir"`
	FailedDir string `yaml:"failed_dir"`
	// StateDir holds queue.db and observability.db.
	StateDir string `yaml:"state_dir"`

	ScanIntervalSec int `yaml:"scan_interval_sec"`
	SettleSec       int `yaml:"settle_sec"`
	VisibilitySec   int `yaml:"visibility_sec"`
	MaxAttempts     int `yaml:"max_attempts"`

	// Extensions restricts which files are enqueued. Empty means the
	// watcher's defaults.
	Extensions []string `yaml:"extensions"`
}

type obsConfig struct {
	HeartbeatSec  int  `yaml:"heartbeat_sec"`
	RetentionDays int  `yaml:"retention_days"`
	Vacuum        bool `yaml:"vacuum"`
}

func defaultDaemonConfig() *daemonConfig {
	return &daemonConfig{
		Config: *jobs.DefaultConfig(),
		Watch: watchConfig{
			Inbox:           "inbox",
			OutDir:          "out",
			DoneDir:         "done",
			FailedDir:       "failed",
			StateDir:        "state",
			ScanIntervalSec: 2,
			SettleSec:       2,
			VisibilitySec:   120,
			MaxAttempts:     3,
		},
		Obs: obsConfig{
			HeartbeatSec:  15,
			RetentionDays: 30,
		},
	}
}

// loadDaemonConfig reads path over the defaults. An empty path returns the
// defaults unchanged.
func loadDaemonConfig(path string) (*daemonConfig, error) {
	cfg := defaultDaemonConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

func (w *watchConfig) validate() error {
	if w.Inbox == "" {
		return errors.New("watch: inbox directory not configured")
	}
	if w.StateDir == "" {
		return errors.New("watch: state_dir not configured")
	}
	return nil
}

func runWatch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configPath := fs.String("config", envOr("DOCMILL_CONFIG", ""), "YAML config file")
	inbox := fs.String("inbox", "", "inbox directory (overrides config)")
	logLevel := fs.String("log-level", envOr("DOCMILL_LOG_LEVEL", "info"), "log level: debug, info, warn, error")
	fs.Parse(args)

	logger := newLogger(*logLevel)
	cfg, err := loadDaemonConfig(*configPath)
	if err != nil {
		return err
	}
	if *inbox != "" {
		cfg.Watch.Inbox = *inbox
	}
	if err := cfg.Watch.validate(); err != nil {
		return err
	}
	for _, dir := range []string{cfg.Watch.Inbox, cfg.Watch.OutDir, cfg.Watch.DoneDir, cfg.Watch.FailedDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("watch: %w", err)
		}
	}

	queueDB, err := dbopen.Open(filepath.Join(cfg.Watch.StateDir, "queue.db"), dbopen.WithMkdirAll())
	if err != nil {
		return fmt.Errorf("watch: open queue db: %w", err)
	}
	defer queueDB.Close()

	// Observability lives in its own database file to keep its writes off
	// the queue's lock.
	obsDB, err := dbopen.Open(filepath.Join(cfg.Watch.StateDir, "observability.db"), dbopen.WithMkdirAll())
	if err != nil {
		return fmt.Errorf("watch: open observability db: %w", err)
	}
	defer obsDB.Close()
	if err := observability.Init(obsDB); err != nil {
		return fmt.Errorf("watch: observability schema: %w", err)
	}

	metrics := observability.NewMetricsManager(obsDB, 100, 5*time.Second)
	auditLog := observability.NewAuditLogger(obsDB, 1000)
	events := observability.NewEventLogger(obsDB)
	recorder := observability.NewRecorder(workerName, metrics, auditLog, events)
	defer recorder.Close()

	heartbeat := observability.NewHeartbeatWriter(obsDB, workerName, time.Duration(cfg.Obs.HeartbeatSec)*time.Second)
	heartbeat.Start(ctx)
	defer heartbeat.Stop()

	coord, err := jobs.NewCoordinator(&cfg.Config, nil, recorder, logger)
	if err != nil {
		return err
	}

	d := &daemon{
		cfg:     cfg,
		coord:   coord,
		events:  events,
		logger:  logger,
		newStem: idgen.Timestamped(idgen.NanoID(6)),
	}
	q := queue.New(queueDB, queue.Options{
		Visibility:  time.Duration(cfg.Watch.VisibilitySec) * time.Second,
		MaxAttempts: cfg.Watch.MaxAttempts,
		OnDiscard:   d.discard,
		Logger:      logger,
	})
	if err := q.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("watch: queue schema: %w", err)
	}
	d.queue = q

	watcher := queue.NewWatcher(q, cfg.Watch.Inbox, queue.WatchOptions{
		Interval:   time.Duration(cfg.Watch.ScanIntervalSec) * time.Second,
		Settle:     time.Duration(cfg.Watch.SettleSec) * time.Second,
		Extensions: cfg.Watch.Extensions,
		Logger:     logger,
	})
	go watcher.Run(ctx)
	go d.maintenanceLoop(ctx, obsDB, metrics)

	logger.Info("docmill: watching", "inbox", cfg.Watch.Inbox, "workers", cfg.Workers, "state", cfg.Watch.StateDir)
	q.Run(ctx, cfg.Workers, d.handle)
	logger.Info("docmill: watch stopped")
	return nil
}

// daemon carries the watch loop's collaborators into the queue handler.
type daemon struct {
	cfg     *daemonConfig
	queue   *queue.Q
	coord   *jobs.Coordinator
	events  *observability.EventLogger
	logger  *slog.Logger
	newStem idgen.Generator
}

// handle converts one queued file. A nil return acks the task; an error
// leaves it for redelivery.
func (d *daemon) handle(ctx context.Context, t *queue.Task) error {
	data, err := os.ReadFile(t.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			d.logger.Warn("docmill: queued file vanished", "path", t.Path)
			return nil
		}
		return fmt.Errorf("read %s: %w", t.Path, err)
	}

	stem := d.newStem()
	bundle, runErr := d.coord.Run(ctx, data, t.Name, jobs.Options{})
	if runErr != nil {
		if refusedInput(runErr) {
			// The tools will refuse this input on every attempt. Park it
			// instead of burning retries.
			d.moveTo(ctx, t, d.cfg.Watch.FailedDir, stem, "refused")
			return nil
		}
		return runErr
	}

	if err := writeBundle(filepath.Join(d.cfg.Watch.OutDir, stem), bundle); err != nil {
		return err
	}
	d.moveTo(ctx, t, d.cfg.Watch.DoneDir, stem, "")
	d.logger.Info("docmill: converted", "document", t.Name, "stem", stem, "summary", bundle.Summary())
	return nil
}

// discard is the queue's poison-task hook: the file failed MaxAttempts
// times, move it out of the inbox so the scanner cannot re-enqueue it.
func (d *daemon) discard(ctx context.Context, t *queue.Task) {
	d.logger.Warn("docmill: discarding after repeated failures", "document", t.Name, "attempts", t.Attempts)
	d.moveTo(ctx, t, d.cfg.Watch.FailedDir, d.newStem(), "max-attempts")
}

// moveTo relocates the inbox file so the scanner stops offering it. The
// destination keeps the stem prefix so artifacts and originals correlate.
func (d *daemon) moveTo(ctx context.Context, t *queue.Task, dir, stem, reason string) {
	dst := filepath.Join(dir, stem+"_"+filepath.Base(t.Path))
	if err := os.Rename(t.Path, dst); err != nil {
		d.logger.Error("docmill: move failed", "from", t.Path, "to", dst, "error", err)
		return
	}
	if reason != "" {
		d.events.LogEvent(ctx, observability.Event{
			Type:     "file_discarded",
			Service:  workerName,
			Document: t.Name,
			Action:   reason,
			Details:  dst,
			Success:  false,
		})
	}
}

// maintenanceLoop samples the queue depth every minute and applies the
// retention policy once a day.
func (d *daemon) maintenanceLoop(ctx context.Context, obsDB *sql.DB, metrics *observability.MetricsManager) {
	depth := time.NewTicker(time.Minute)
	defer depth.Stop()
	retention := time.NewTicker(24 * time.Hour)
	defer retention.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-depth.C:
			n, err := d.queue.Len(ctx)
			if err != nil {
				d.logger.Warn("docmill: queue depth", "error", err)
				continue
			}
			metrics.RecordSimple(observability.MetricQueueDepth, float64(n), "tasks")
		case <-retention.C:
			days := d.cfg.Obs.RetentionDays
			if days <= 0 {
				continue
			}
			err := observability.Cleanup(ctx, obsDB, observability.RetentionConfig{
				EventsDays:     days,
				HeartbeatsDays: days,
				MetricsDays:    days,
				AuditDays:      days,
				RunVacuumAfter: d.cfg.Obs.Vacuum,
			})
			if err != nil {
				d.logger.Warn("docmill: retention cleanup", "error", err)
			}
		}
	}
}

// refusedInput reports whether the failure is a deterministic input
// rejection that no retry can fix.
func refusedInput(err error) bool {
	var te *toolrun.ToolError
	return errors.As(err, &te) && te.Kind == toolrun.KindRefusedInput
}
