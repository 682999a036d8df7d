package toolrun

import (
	"errors"
	"strings"
	"testing"
)

func TestToolErrorRetriable(t *testing.T) {
	tests := []struct {
		kind         Kind
		retryTimeout bool
		want         bool
	}{
		{KindCrashed, false, true},
		{KindResourceExhausted, false, true},
		{KindRefusedInput, false, false},
		{KindRefusedInput, true, false},
		{KindTimeout, false, false},
		{KindTimeout, true, true},
	}
	for _, tt := range tests {
		e := &ToolError{Kind: tt.kind}
		if got := e.Retriable(tt.retryTimeout); got != tt.want {
			t.Errorf("Retriable(%s, retryTimeout=%v) = %v, want %v", tt.kind, tt.retryTimeout, got, tt.want)
		}
	}
}

func TestToolErrorMessage(t *testing.T) {
	e := &ToolError{
		Kind:     KindCrashed,
		Tool:     "pdftoppm",
		Message:  "render failed",
		ExitCode: 99,
		Stderr:   "Syntax Error: couldn't read xref table",
	}
	msg := e.Error()
	for _, want := range []string{"pdftoppm", "tool-crashed", "render failed", "exit 99", "xref table"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
}

func TestToolErrorUnwrap(t *testing.T) {
	inner := errors.New("inner")
	e := &ToolError{Kind: KindCrashed, Tool: "x", Err: inner}
	if !errors.Is(e, inner) {
		t.Fatal("expected errors.Is to reach wrapped error")
	}
}

func TestStderrExcerpt(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"", 80, ""},
		{"  one line  \n", 80, "one line"},
		{"first\nsecond\nthird", 80, "first"},
		{"abcdefghij", 4, "abcd"},
		{"short", 0, "short"},
	}
	for _, tt := range tests {
		if got := StderrExcerpt([]byte(tt.in), tt.max); got != tt.want {
			t.Errorf("StderrExcerpt(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}
