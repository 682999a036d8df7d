package observability

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/docmill/docmill/pipeline"
	"github.com/docmill/docmill/toolrun"
)

// Recorder translates job lifecycle callbacks into events, metrics and audit
// entries. It satisfies the coordinator's Observer interface and is safe for
// concurrent use; all persistence is async.
type Recorder struct {
	service string
	metrics *MetricsManager
	audit   *AuditLogger
	events  *EventLogger

	names sync.Map // jobID -> declared document name
}

// NewRecorder bundles the observability components under one observer.
// service names the emitting process, e.g. "docmill-watch".
func NewRecorder(service string, metrics *MetricsManager, audit *AuditLogger, events *EventLogger) *Recorder {
	return &Recorder{service: service, metrics: metrics, audit: audit, events: events}
}

// JobStarted records the acceptance event and the input size metric.
func (r *Recorder) JobStarted(jobID, declaredName string, size int) {
	r.names.Store(jobID, declaredName)
	r.events.LogEvent(context.Background(), Event{
		Type:     "job_accepted",
		Service:  r.service,
		JobID:    jobID,
		Document: declaredName,
		Action:   "accept",
		Success:  true,
	})
	r.metrics.RecordSimple(MetricJobInputBytes, float64(size), "bytes")
}

// StageFinished writes one audit entry per pipeline stage and a duration
// metric for stages that actually ran.
func (r *Recorder) StageFinished(jobID string, sr pipeline.StageResult) {
	entry := &AuditEntry{
		Component:  "pipeline",
		Operation:  string(sr.Kind),
		JobID:      jobID,
		Document:   r.documentFor(jobID),
		DurationMs: sr.Elapsed.Milliseconds(),
		Status:     auditStatus(sr.Status),
	}
	if sr.Err != nil {
		entry.ErrorMessage = sr.Err.Error()
		var te *toolrun.ToolError
		if errors.As(sr.Err, &te) {
			entry.ErrorCode = string(te.Kind)
		}
	} else if sr.Status == pipeline.StatusSucceeded {
		result := map[string]any{"artifacts": len(sr.Artifacts)}
		if sr.Detail != "" {
			result["detail"] = sr.Detail
		}
		if len(sr.Warnings) > 0 {
			result["warnings"] = sr.Warnings
		}
		if b, err := json.Marshal(result); err == nil {
			entry.Result = string(b)
		}
	}
	r.audit.LogAsync(entry)

	if sr.Status == pipeline.StatusSucceeded || sr.Status == pipeline.StatusFailed {
		r.metrics.Record(&Metric{
			Name:      MetricStageDurationMs,
			Timestamp: time.Now(),
			Value:     float64(sr.Elapsed.Milliseconds()),
			Labels:    map[string]string{"stage": string(sr.Kind), "status": string(sr.Status)},
			Unit:      "milliseconds",
		})
	}
}

// JobFinished records the terminal event plus job duration and count metrics.
func (r *Recorder) JobFinished(jobID string, status pipeline.Status, elapsed time.Duration, err error) {
	document := r.documentFor(jobID)
	r.names.Delete(jobID)

	eventType := "job_completed"
	success := true
	details := map[string]any{"status": string(status), "duration_ms": elapsed.Milliseconds()}
	if err != nil {
		eventType = "job_failed"
		success = false
		details["error"] = err.Error()
	}
	var detailsJSON string
	if b, e := json.Marshal(details); e == nil {
		detailsJSON = string(b)
	}
	r.events.LogEvent(context.Background(), Event{
		Type:     eventType,
		Service:  r.service,
		JobID:    jobID,
		Document: document,
		Action:   "convert",
		Details:  detailsJSON,
		Success:  success,
	})

	labels := map[string]string{"status": string(status)}
	now := time.Now()
	r.metrics.Record(&Metric{
		Name:      MetricJobDurationMs,
		Timestamp: now,
		Value:     float64(elapsed.Milliseconds()),
		Labels:    labels,
		Unit:      "milliseconds",
	})
	r.metrics.Record(&Metric{
		Name:      MetricJobsProcessed,
		Timestamp: now,
		Value:     1,
		Labels:    labels,
		Unit:      "count",
	})
}

// Close flushes the buffered components. The EventLogger writes synchronously
// and needs no shutdown.
func (r *Recorder) Close() error {
	err := r.audit.Close()
	if merr := r.metrics.Close(); err == nil {
		err = merr
	}
	return err
}

func (r *Recorder) documentFor(jobID string) string {
	if v, ok := r.names.Load(jobID); ok {
		return v.(string)
	}
	return ""
}

func auditStatus(s pipeline.StageStatus) string {
	switch s {
	case pipeline.StatusSucceeded:
		return "success"
	case pipeline.StatusFailed:
		return "error"
	case pipeline.StatusSkipped:
		return "skipped"
	default:
		return string(s)
	}
}
