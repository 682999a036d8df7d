// Package pipeline sequences document-conversion stages through a small
// state machine. Each stage moves Pending → Running → Succeeded/Failed, or
// Pending → Skipped when its gate declines. A failed mandatory stage halts
// the run immediately; optional stages downgrade their failure to a warning.
// The only dynamic branch is a stage gate: a deterministic predicate over
// the results recorded so far (used to run OCR only when native text
// extraction came back insufficient).
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/docmill/docmill/toolrun"
)

// Output is what a stage hands back on success.
type Output struct {
	// Artifacts are workspace-relative or absolute paths produced by the
	// stage, in a stage-defined order.
	Artifacts []string
	Detail    string
	Warnings  []string
}

// Stage is one schedulable unit. Run executes the work; Gate, when set, is
// consulted just before Run and must be deterministic for the same prior
// results.
type Stage struct {
	Kind     StageKind
	Optional bool
	Gate     func(prior []StageResult) bool
	Run      func(ctx context.Context) (*Output, error)
}

// Result is the outcome of a whole pipeline run.
type Result struct {
	Status      Status
	Stages      []StageResult
	FailedStage StageKind
	Err         error
}

// Warnings collects every stage warning in execution order.
func (r *Result) Warnings() []string {
	var out []string
	for _, sr := range r.Stages {
		out = append(out, sr.Warnings...)
	}
	return out
}

// Config configures a Runner.
type Config struct {
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Runner executes stage sequences.
type Runner struct {
	cfg Config
}

// NewRunner returns a Runner ready for use.
func NewRunner(cfg Config) *Runner {
	cfg.defaults()
	return &Runner{cfg: cfg}
}

// Run executes stages in order. Results for every reached stage are
// recorded, including the failing one; stages after a mandatory failure are
// never started, so their tools are never invoked.
func (r *Runner) Run(ctx context.Context, stages []Stage) *Result {
	res := &Result{Status: Completed}
	warned := false

	for _, st := range stages {
		if err := ctx.Err(); err != nil {
			res.Status = Failed
			res.FailedStage = st.Kind
			res.Err = err
			return res
		}

		status := StatusPending

		if st.Gate != nil && !st.Gate(res.Stages) {
			if err := advance(&status, StatusSkipped); err != nil {
				r.cfg.Logger.Error("pipeline: stage state", "stage", st.Kind, "error", err)
			}
			res.Stages = append(res.Stages, StageResult{Kind: st.Kind, Status: StatusSkipped})
			r.cfg.Logger.Debug("pipeline: stage skipped", "stage", st.Kind)
			continue
		}

		if err := advance(&status, StatusRunning); err != nil {
			r.cfg.Logger.Error("pipeline: stage state", "stage", st.Kind, "error", err)
		}
		r.cfg.Logger.Debug("pipeline: stage start", "stage", st.Kind)

		start := time.Now()
		out, err := runStage(ctx, st)
		elapsed := time.Since(start)

		sr := StageResult{Kind: st.Kind, Elapsed: elapsed}
		if out != nil {
			sr.Artifacts = out.Artifacts
			sr.Detail = out.Detail
			sr.Warnings = out.Warnings
			if len(out.Warnings) > 0 {
				warned = true
			}
		}

		if err != nil {
			if e := advance(&status, StatusFailed); e != nil {
				r.cfg.Logger.Error("pipeline: stage state", "stage", st.Kind, "error", e)
			}
			sr.Status = StatusFailed
			sr.Err = err
			res.Stages = append(res.Stages, sr)

			if st.Optional {
				warned = true
				r.cfg.Logger.Warn("pipeline: optional stage failed",
					"stage", st.Kind, "error", err, "duration_ms", elapsed.Milliseconds())
				continue
			}

			r.cfg.Logger.Warn("pipeline: stage failed",
				"stage", st.Kind, "error", err, "duration_ms", elapsed.Milliseconds())
			res.Status = Failed
			res.FailedStage = st.Kind
			res.Err = err
			return res
		}

		if e := advance(&status, StatusSucceeded); e != nil {
			r.cfg.Logger.Error("pipeline: stage state", "stage", st.Kind, "error", e)
		}
		sr.Status = StatusSucceeded
		res.Stages = append(res.Stages, sr)
		r.cfg.Logger.Debug("pipeline: stage done",
			"stage", st.Kind, "artifacts", len(sr.Artifacts), "duration_ms", elapsed.Milliseconds())
	}

	if warned {
		res.Status = CompletedWithWarnings
	}
	return res
}

// runStage isolates a stage execution so a panicking stage surfaces as a
// classified crash instead of taking the worker down.
func runStage(ctx context.Context, st Stage) (out *Output, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			out = nil
			err = &toolrun.ToolError{
				Kind:    toolrun.KindCrashed,
				Tool:    string(st.Kind),
				Message: fmt.Sprintf("stage panicked: %v", rec),
			}
		}
	}()
	return st.Run(ctx)
}

func advance(status *StageStatus, to StageStatus) error {
	if !ValidTransition(*status, to) {
		return fmt.Errorf("pipeline: invalid transition %s -> %s", *status, to)
	}
	*status = to
	return nil
}
