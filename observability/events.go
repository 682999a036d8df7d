package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/docmill/docmill/dbopen"
	"github.com/docmill/docmill/idgen"
)

// Event represents a conversion lifecycle event to record.
type Event struct {
	EventID  string // filled in by queries; ignored on write
	Type     string // e.g. "job_accepted", "job_completed", "job_failed", "file_discarded"
	Service  string // e.g. "docmill-watch", "docmill-cli"
	JobID    string
	Document string
	Action   string
	Details  string // optional JSON
	Success  bool

	CreatedAt time.Time // filled in by queries; ignored on write
}

// EventLogger writes conversion events to the conversion_events table.
type EventLogger struct {
	db    *sql.DB
	newID idgen.Generator
}

// EventLoggerOption configures an EventLogger.
type EventLoggerOption func(*EventLogger)

// WithEventIDGenerator sets a custom ID generator for event IDs.
func WithEventIDGenerator(gen idgen.Generator) EventLoggerOption {
	return func(l *EventLogger) { l.newID = gen }
}

// NewEventLogger creates a logger backed by the given observability database.
func NewEventLogger(db *sql.DB, opts ...EventLoggerOption) *EventLogger {
	l := &EventLogger{
		db:    db,
		newID: idgen.Prefixed("evt_", idgen.Default),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// LogEvent records a conversion event. Non-blocking: errors are logged via
// slog but do not propagate, so a failing observability store never blocks
// a conversion.
func (l *EventLogger) LogEvent(ctx context.Context, event Event) {
	eventID := l.newID()
	_, err := dbopen.Exec(ctx, l.db, `
		INSERT INTO conversion_events (
			event_id, event_type, service_name, job_id, document,
			action, details, success, created_at
		) VALUES (?,?,?,?,?,?,?,?,?)`,
		eventID, event.Type, event.Service, event.JobID, event.Document,
		event.Action, event.Details, event.Success, time.Now().Unix())
	if err != nil {
		slog.Error("observability event log failed", "error", err, "event_type", event.Type)
	}
}

// RecentEvents returns the newest events, optionally filtered by type.
// Pass empty eventType for all types.
func RecentEvents(ctx context.Context, db *sql.DB, eventType string, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT event_id, event_type, service_name, job_id, document,
		action, details, success, created_at
		FROM conversion_events`
	var args []any
	if eventType != "" {
		q += " WHERE event_type = ?"
		args = append(args, eventType)
	}
	q += " ORDER BY created_at DESC, event_id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		var e Event
		var jobID, document, details sql.NullString
		var ts int64
		if err := rows.Scan(&e.EventID, &e.Type, &e.Service, &jobID, &document,
			&e.Action, &details, &e.Success, &ts); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.JobID = jobID.String
		e.Document = document.String
		e.Details = details.String
		e.CreatedAt = time.Unix(ts, 0)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// RetentionConfig specifies per-table retention in days. Zero means no cleanup.
type RetentionConfig struct {
	EventsDays     int
	HeartbeatsDays int
	MetricsDays    int
	AuditDays      int
	RunVacuumAfter bool
}

// Cleanup deletes records exceeding the retention thresholds.
func Cleanup(ctx context.Context, db *sql.DB, cfg RetentionConfig) error {
	now := time.Now().Unix()

	// allowedTables and allowedColumns are whitelists to prevent SQL injection
	// if this pattern is ever refactored to accept external input.
	allowedTables := map[string]bool{
		"conversion_events":  true,
		"worker_heartbeats":  true,
		"metrics_timeseries": true,
		"job_audit_log":      true,
	}
	allowedColumns := map[string]bool{
		"created_at": true,
		"timestamp":  true,
	}

	type cleanupTarget struct {
		table  string
		column string
		days   int
	}
	targets := []cleanupTarget{
		{"conversion_events", "created_at", cfg.EventsDays},
		{"worker_heartbeats", "timestamp", cfg.HeartbeatsDays},
		{"metrics_timeseries", "timestamp", cfg.MetricsDays},
		{"job_audit_log", "timestamp", cfg.AuditDays},
	}

	for _, t := range targets {
		if t.days <= 0 {
			continue
		}
		if !allowedTables[t.table] || !allowedColumns[t.column] {
			return fmt.Errorf("cleanup: invalid table/column %s/%s", t.table, t.column)
		}
		cutoff := now - int64(t.days*86400)
		q := fmt.Sprintf("DELETE FROM %s WHERE %s < ?", t.table, t.column)
		if _, err := dbopen.Exec(ctx, db, q, cutoff); err != nil {
			return fmt.Errorf("cleanup %s: %w", t.table, err)
		}
	}

	if cfg.RunVacuumAfter {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			return fmt.Errorf("vacuum: %w", err)
		}
	}
	return nil
}
