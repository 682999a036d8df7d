// Package toolrun executes external converter binaries. It owns the one
// subprocess contract every adapter shares: run a single process with a
// hard wall-clock timeout, capture stdout/stderr and the exit status, kill
// the whole process group on expiry or cancellation, and classify the raw
// outcome into a coarse tool error. Adapters supply the per-tool
// classification; the rest of the pipeline only ever sees the classified
// kind.
package toolrun

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// Invocation describes one external-process execution.
type Invocation struct {
	// Tool is a short name used in logs and errors ("soffice", "pdftoppm").
	Tool    string
	Command string
	Args    []string
	// Dir is the working directory, normally the job workspace.
	Dir string
	// Env entries are appended to the inherited environment.
	Env     []string
	Timeout time.Duration
}

// Result captures what the subprocess did.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
	TimedOut bool
}

// Runner runs invocations. The process-backed implementation is ExecRunner;
// tests substitute fakes.
type Runner interface {
	Run(ctx context.Context, inv Invocation) (Result, error)
}

// killWait is how long a cancelled process gets to die before Wait gives up
// on its copying goroutines.
const killWait = 3 * time.Second

// ExecRunner runs invocations as real subprocesses. Each child is placed in
// its own process group so that timeouts and cancellation take down helper
// processes the tool forked, not just the direct child.
type ExecRunner struct {
	Logger *slog.Logger
}

func (r *ExecRunner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// Run executes inv and blocks until the process exits, the timeout fires,
// or ctx is cancelled. A non-zero exit is not an error here; callers
// classify the Result. The returned error is reserved for processes that
// could not be started or were torn down by timeout/cancellation.
func (r *ExecRunner) Run(ctx context.Context, inv Invocation) (Result, error) {
	log := r.logger()

	if inv.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, inv.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, inv.Command, inv.Args...)
	cmd.Dir = inv.Dir
	if len(inv.Env) > 0 {
		cmd.Env = append(os.Environ(), inv.Env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		// Negative pid signals the whole group.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = killWait

	log.Debug("toolrun: exec", "tool", inv.Tool, "command", inv.Command, "args", inv.Args, "dir", inv.Dir)

	start := time.Now()
	err := cmd.Run()
	res := Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
		TimedOut: errors.Is(ctx.Err(), context.DeadlineExceeded),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			log.Debug("toolrun: exited",
				"tool", inv.Tool, "exit_code", res.ExitCode, "duration_ms", res.Duration.Milliseconds())
			if res.TimedOut {
				return res, &ToolError{Kind: KindTimeout, Tool: inv.Tool, Message: "timed out after " + inv.Timeout.String()}
			}
			return res, nil
		}
		if res.TimedOut {
			return res, &ToolError{Kind: KindTimeout, Tool: inv.Tool, Message: "timed out after " + inv.Timeout.String()}
		}
		// Not an exit status: the process never ran (missing binary,
		// permission, cancelled before start).
		res.ExitCode = -1
		log.Debug("toolrun: start failed", "tool", inv.Tool, "error", err)
		return res, &ToolError{Kind: KindCrashed, Tool: inv.Tool, Message: "start failed", Err: err}
	}

	res.ExitCode = 0
	log.Debug("toolrun: exited", "tool", inv.Tool, "exit_code", 0, "duration_ms", res.Duration.Milliseconds())
	return res, nil
}

// Classifier inspects a finished invocation and reports a tool error, or
// nil when the result is usable. Each adapter carries its own rules: the
// tools disagree wildly about what their exit codes mean.
type Classifier func(Result) *ToolError

// Invoke runs inv through r and classifies the outcome. Crashed and
// resource-exhausted results are retried exactly once; refused input is
// surfaced immediately; timeouts are retried only when retryTimeout is set.
func Invoke(ctx context.Context, r Runner, inv Invocation, classify Classifier, retryTimeout bool) (Result, error) {
	log := slog.Default()
	if er, ok := r.(*ExecRunner); ok {
		log = er.logger()
	}

	res, err := runOnce(ctx, r, inv, classify)
	if err == nil {
		return res, nil
	}

	var te *ToolError
	if !errors.As(err, &te) {
		return res, &ToolError{Kind: KindCrashed, Tool: inv.Tool, Message: "unclassified failure", Err: err}
	}
	if !te.Retriable(retryTimeout) || ctx.Err() != nil {
		return res, te
	}

	log.Warn("toolrun: retrying invocation", "tool", inv.Tool, "kind", te.Kind, "error", te)
	res, err = runOnce(ctx, r, inv, classify)
	if err == nil {
		return res, nil
	}
	if !errors.As(err, &te) {
		return res, &ToolError{Kind: KindCrashed, Tool: inv.Tool, Message: "unclassified failure", Err: err}
	}
	return res, te
}

func runOnce(ctx context.Context, r Runner, inv Invocation, classify Classifier) (Result, error) {
	res, err := r.Run(ctx, inv)
	if err != nil {
		return res, err
	}
	if classify != nil {
		if te := classify(res); te != nil {
			return res, te
		}
	}
	return res, nil
}
