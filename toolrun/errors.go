package toolrun

import (
	"fmt"
	"strings"
)

// Kind is the coarse classification of a failed tool invocation.
type Kind string

const (
	// KindCrashed covers abnormal termination and anything unclassified.
	KindCrashed Kind = "tool-crashed"
	// KindRefusedInput means the tool rejected the document itself. Never
	// retried: the same bytes produce the same refusal.
	KindRefusedInput Kind = "tool-refused-input"
	// KindResourceExhausted covers out-of-memory and disk-full failures.
	KindResourceExhausted Kind = "tool-resource-exhausted"
	// KindTimeout means the wall-clock bound expired and the process group
	// was killed.
	KindTimeout Kind = "timeout"
)

// ToolError is a classified tool failure.
type ToolError struct {
	Kind     Kind
	Tool     string
	Message  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ToolError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Tool, e.Kind)
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	if e.ExitCode != 0 {
		fmt.Fprintf(&b, " (exit %d)", e.ExitCode)
	}
	if e.Stderr != "" {
		fmt.Fprintf(&b, ": %s", e.Stderr)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *ToolError) Unwrap() error { return e.Err }

// Retriable reports whether one more attempt is worth making. Crashes and
// resource exhaustion often clear on retry; refused input never does.
// Timeouts retry only when the caller opted in.
func (e *ToolError) Retriable(retryTimeout bool) bool {
	switch e.Kind {
	case KindCrashed, KindResourceExhausted:
		return true
	case KindTimeout:
		return retryTimeout
	default:
		return false
	}
}

// StderrExcerpt trims stderr to a single diagnostic line for error messages.
func StderrExcerpt(stderr []byte, max int) string {
	s := strings.TrimSpace(string(stderr))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if max > 0 && len(s) > max {
		s = s[:max]
	}
	return s
}
