package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/docmill/docmill/dbopen"
	"github.com/docmill/docmill/observability"
	"github.com/docmill/docmill/queue"
)

// runStatus reads the daemon's state databases and prints worker health,
// queue depth, and recent events. It never writes; a stopped daemon still
// reports its last known state.
func runStatus(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", envOr("DOCMILL_CONFIG", ""), "YAML config file")
	eventsN := fs.Int("events", 10, "recent events to show")
	logLevel := fs.String("log-level", envOr("DOCMILL_LOG_LEVEL", "warn"), "log level: debug, info, warn, error")
	fs.Parse(args)

	newLogger(*logLevel)
	cfg, err := loadDaemonConfig(*configPath)
	if err != nil {
		return err
	}

	obsPath := filepath.Join(cfg.Watch.StateDir, "observability.db")
	if _, err := os.Stat(obsPath); err != nil {
		return fmt.Errorf("status: no daemon state under %s", cfg.Watch.StateDir)
	}
	obsDB, err := dbopen.Open(obsPath)
	if err != nil {
		return err
	}
	defer obsDB.Close()

	// Stale means three missed beats.
	staleAfter := 3 * time.Duration(cfg.Obs.HeartbeatSec) * time.Second
	beats, err := observability.AllLatestHeartbeats(ctx, obsDB, staleAfter)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "WORKER\tSTATE\tPID\tHOST\tGOROUTINES\tHEAP MB\tLAST BEAT")
	for _, b := range beats {
		state := "alive"
		if !b.Alive {
			state = fmt.Sprintf("stale %s", b.StaleSince.Round(time.Second))
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d\t%.1f\t%s\n",
			b.WorkerName, state, b.PID, b.Hostname, b.GoroutinesCount, b.MemoryAllocMB,
			b.Timestamp.Format(time.RFC3339))
	}
	if len(beats) == 0 {
		fmt.Fprintln(w, "(no heartbeats recorded)")
	}
	w.Flush()

	if n, ok := queueDepth(ctx, cfg); ok {
		fmt.Printf("\nqueue: %d pending\n", n)
	}

	events, err := observability.RecentEvents(ctx, obsDB, "", *eventsN)
	if err != nil {
		return err
	}
	if len(events) > 0 {
		fmt.Println("\nrecent events:")
		ew := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		for _, e := range events {
			outcome := "ok"
			if !e.Success {
				outcome = "failed"
			}
			fmt.Fprintf(ew, "%s\t%s\t%s\t%s\n",
				e.CreatedAt.Format(time.RFC3339), e.Type, e.Document, outcome)
		}
		ew.Flush()
	}
	return nil
}

// queueDepth opens queue.db read-style and reports the pending count. A
// missing or unreadable queue is not an error for status.
func queueDepth(ctx context.Context, cfg *daemonConfig) (int, bool) {
	path := filepath.Join(cfg.Watch.StateDir, "queue.db")
	if _, err := os.Stat(path); err != nil {
		return 0, false
	}
	db, err := dbopen.Open(path)
	if err != nil {
		return 0, false
	}
	defer db.Close()
	q := queue.New(db, queue.Options{})
	if err := q.EnsureSchema(ctx); err != nil {
		return 0, false
	}
	n, err := q.Len(ctx)
	if err != nil {
		return 0, false
	}
	return n, true
}
