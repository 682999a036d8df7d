package textfmt

import (
	"strings"
	"testing"
)

func TestFormatMergesWrappedLines(t *testing.T) {
	in := "The quick brown fox jumps\nover the lazy dog and\nkeeps running."
	want := "The quick brown fox jumps over the lazy dog and keeps running."
	if got := Format(in); got != want {
		t.Fatalf("Format = %q, want %q", got, want)
	}
}

func TestFormatKeepsParagraphBreaks(t *testing.T) {
	in := "First paragraph line one\nline two.\n\nSecond paragraph."
	got := Format(in)
	want := "First paragraph line one line two.\n\nSecond paragraph."
	if got != want {
		t.Fatalf("Format = %q, want %q", got, want)
	}
}

func TestFormatHeadings(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "all caps",
			in:   "INTRODUCTION\nThis report covers the fiscal year\nin some detail.",
			want: "INTRODUCTION\n\nThis report covers the fiscal year in some detail.",
		},
		{
			name: "title case",
			in:   "Quarterly Revenue Summary\nRevenue grew by ten percent\nyear over year.",
			want: "Quarterly Revenue Summary\n\nRevenue grew by ten percent year over year.",
		},
		{
			name: "long title-case line is prose",
			in:   "The Nine Word Line That Looks Like A Title Sentence\ncontinues here.",
			want: "The Nine Word Line That Looks Like A Title Sentence continues here.",
		},
		{
			name: "trailing comma is prose",
			in:   "Dear Valued Customer,\nthank you for writing.",
			want: "Dear Valued Customer, thank you for writing.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Format(tt.in); got != tt.want {
				t.Fatalf("Format = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatBullets(t *testing.T) {
	in := strings.Join([]string{
		"Shopping list",
		"- apples",
		"* oranges",
		"• pears",
		"1. milk",
		"2) bread",
		"(a) salt",
	}, "\n")
	got := Format(in)
	for _, item := range []string{"• apples", "• oranges", "• pears", "• milk", "• bread", "• salt"} {
		if !strings.Contains(got, item) {
			t.Errorf("Format output missing %q:\n%s", item, got)
		}
	}
	if strings.Contains(got, "1.") || strings.Contains(got, "(a)") {
		t.Errorf("numbered markers not normalized:\n%s", got)
	}
}

func TestFormatBulletsStayOnOwnLines(t *testing.T) {
	in := "- first item\n- second item"
	got := Format(in)
	want := "• first item\n\n• second item"
	if got != want {
		t.Fatalf("Format = %q, want %q", got, want)
	}
}

func TestFormatCollapsesSpaces(t *testing.T) {
	in := "too   many    spaces\there"
	got := Format(in)
	want := "too many spaces here"
	if got != want {
		t.Fatalf("Format = %q, want %q", got, want)
	}
}

func TestFormatIdempotent(t *testing.T) {
	in := "TITLE\n\nBody text wraps\nacross lines.\n\n- item one\n- item two"
	once := Format(in)
	twice := Format(once)
	if once != twice {
		t.Fatalf("Format not idempotent:\nonce:  %q\ntwice: %q", once, twice)
	}
}

func TestFormatEmpty(t *testing.T) {
	if got := Format(""); got != "" {
		t.Fatalf("Format(%q) = %q, want empty", "", got)
	}
	if got := Format("\n\n\n"); got != "" {
		t.Fatalf("Format(blanks) = %q, want empty", got)
	}
}
