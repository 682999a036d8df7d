package jobs

import (
	"errors"
	"fmt"

	"github.com/docmill/docmill/pipeline"
)

// ErrInputTooLarge rejects oversize payloads before any stage runs.
var ErrInputTooLarge = errors.New("jobs: input exceeds size limit")

// JobError is the failure outcome of one job. It pins the failing stage and
// keeps every stage result recorded before the failure, so best-effort
// consumers can see how far the job got.
type JobError struct {
	JobID string
	// Stage is the failing stage, or empty when the job failed before the
	// pipeline started (validation, workspace, classification).
	Stage  pipeline.StageKind
	Stages []pipeline.StageResult
	Err    error
}

func (e *JobError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("job %s: stage %s: %v", e.JobID, e.Stage, e.Err)
	}
	return fmt.Sprintf("job %s: %v", e.JobID, e.Err)
}

func (e *JobError) Unwrap() error { return e.Err }
