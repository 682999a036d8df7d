package jobs

import (
	"strings"
	"time"

	"github.com/docmill/docmill/docclass"
	"github.com/docmill/docmill/ocr"
	"github.com/docmill/docmill/pipeline"
)

// Text source tags recorded in the bundle.
const (
	TextSourceNative = "native"
	TextSourceOCR    = "ocr"
)

// PageImage is one rendered page carried out of the workspace.
type PageImage struct {
	// Page is the 1-indexed page number in the source document.
	Page int
	PNG  []byte
}

// ArtifactBundle is the outcome of a completed job. Artifacts are carried
// by value: the workspace that produced them is already gone by the time
// the caller sees the bundle.
type ArtifactBundle struct {
	JobID  string
	Family docclass.Family
	// Detail is the concrete input format ("docx", "jpeg", ...).
	Detail string

	Status   pipeline.Status
	Stages   []pipeline.StageResult
	Warnings []string
	Elapsed  time.Duration

	// PDF is present when the caller requested a pdf artifact and one was
	// produced (or the input already was one).
	PDF []byte
	// Pages are the rasterized page images in ascending page order.
	Pages []PageImage

	// Text is the normalized extracted text.
	Text string
	// TextSource records which engine produced Text: "native" or "ocr".
	TextSource string
	// OCRLanguages, OCRConfidence and Spans are set when OCR ran.
	OCRLanguages  []string
	OCRConfidence float64
	Spans         []ocr.Span
}

// PageCount reports how many page images the bundle carries.
func (b *ArtifactBundle) PageCount() int { return len(b.Pages) }

// SpanLanguages lists the distinct languages attributed across spans, in
// first-appearance order.
func (b *ArtifactBundle) SpanLanguages() []string {
	seen := map[string]bool{}
	var out []string
	for _, sp := range b.Spans {
		if sp.Language != "" && !seen[sp.Language] {
			seen[sp.Language] = true
			out = append(out, sp.Language)
		}
	}
	return out
}

// Summary renders a one-line human description for logs and CLI output.
func (b *ArtifactBundle) Summary() string {
	var parts []string
	parts = append(parts, string(b.Status))
	if len(b.PDF) > 0 {
		parts = append(parts, "pdf")
	}
	if len(b.Pages) > 0 {
		parts = append(parts, "images")
	}
	if b.Text != "" {
		parts = append(parts, "text("+b.TextSource+")")
	}
	return strings.Join(parts, " ")
}
