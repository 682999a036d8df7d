package pipeline

import (
	"fmt"
	"time"
)

// StageKind identifies one unit of pipeline work.
type StageKind string

const (
	StageClassify    StageKind = "classify"
	StageConvert     StageKind = "convert-to-pdf"
	StageRasterize   StageKind = "rasterize"
	StageExtractText StageKind = "extract-text"
	StageOCR         StageKind = "ocr"
)

// StageStatus is the lifecycle state of a single stage.
type StageStatus string

const (
	StatusPending   StageStatus = "pending"
	StatusRunning   StageStatus = "running"
	StatusSucceeded StageStatus = "succeeded"
	StatusFailed    StageStatus = "failed"
	StatusSkipped   StageStatus = "skipped"
)

// ValidTransition reports whether a stage may move between two statuses.
// Pending stages either start running or are skipped by a gate; running
// stages terminate in success or failure. Terminal statuses never change.
func ValidTransition(from, to StageStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusRunning || to == StatusSkipped
	case StatusRunning:
		return to == StatusSucceeded || to == StatusFailed
	default:
		return false
	}
}

// Status is the pipeline-level terminal state.
type Status string

const (
	Completed             Status = "completed"
	CompletedWithWarnings Status = "completed-with-warnings"
	Failed                Status = "failed"
)

// OutputFormat is one artifact class a caller can request.
type OutputFormat string

const (
	OutputPDF    OutputFormat = "pdf"
	OutputImages OutputFormat = "images"
	OutputText   OutputFormat = "text"
)

// ParseOutputFormat validates a format name from config or CLI input.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputPDF, OutputImages, OutputText:
		return OutputFormat(s), nil
	}
	return "", fmt.Errorf("pipeline: unknown output format %q", s)
}

// HasFormat reports whether set contains f. An empty set requests everything.
func HasFormat(set []OutputFormat, f OutputFormat) bool {
	if len(set) == 0 {
		return true
	}
	for _, x := range set {
		if x == f {
			return true
		}
	}
	return false
}

// StageResult is the record of one executed or skipped stage. It is
// appended to the run's result list once and never mutated afterwards.
type StageResult struct {
	Kind      StageKind
	Status    StageStatus
	Artifacts []string
	Detail    string
	Warnings  []string
	Err       error
	Elapsed   time.Duration
}

// ResultByKind returns the first result for kind, or nil.
func ResultByKind(results []StageResult, kind StageKind) *StageResult {
	for i := range results {
		if results[i].Kind == kind {
			return &results[i]
		}
	}
	return nil
}
