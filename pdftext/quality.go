package pdftext

import (
	"strings"
	"unicode"
)

// Thresholds tune the OCR-fallback decision. The defaults suit mixed
// business documents; deployments dealing mostly in scans should raise
// MinCharsPerPage.
type Thresholds struct {
	// MinCharsPerPage is the extraction coverage below which an image-bearing
	// PDF is presumed scanned.
	MinCharsPerPage float64 `yaml:"min_chars_per_page"`
	// MinPrintableRatio guards against extractions that technically return
	// text but mostly garbage glyph mappings.
	MinPrintableRatio float64 `yaml:"min_printable_ratio"`
}

// DefaultThresholds returns the standard tuning.
func DefaultThresholds() Thresholds {
	return Thresholds{MinCharsPerPage: 50, MinPrintableRatio: 0.85}
}

// Quality captures metrics about a native text extraction.
type Quality struct {
	Pages           int     `json:"pages"`
	Chars           int     `json:"chars"`
	CharsPerPage    float64 `json:"chars_per_page"`
	PrintableRatio  float64 `json:"printable_ratio"`
	WordlikeRatio   float64 `json:"wordlike_ratio"`
	HasImageStreams bool    `json:"has_image_streams"`
}

// NeedsOCR reports whether the extraction is too thin or too garbled to
// stand on its own. Deterministic: the same extraction always gets the
// same verdict.
func (q Quality) NeedsOCR(t Thresholds) bool {
	if q.CharsPerPage < t.MinCharsPerPage && q.HasImageStreams {
		return true
	}
	return q.PrintableRatio < t.MinPrintableRatio
}

// printableRatio returns the share of characters that are meaningful text.
// Private Use Area runes, the replacement character and stray control
// bytes are what broken font mappings produce.
func printableRatio(text string) float64 {
	if len(text) == 0 {
		return 1.0
	}
	total, printable := 0, 0
	for _, r := range text {
		total++
		if garbageRune(r) {
			continue
		}
		if unicode.IsPrint(r) || r == '\n' || r == '\r' || r == '\t' {
			printable++
		}
	}
	if total == 0 {
		return 1.0
	}
	return float64(printable) / float64(total)
}

func garbageRune(r rune) bool {
	if r >= 0xE000 && r <= 0xF8FF {
		return true
	}
	if r == 0xFFFD {
		return true
	}
	if r < 0x0020 && r != '\n' && r != '\r' && r != '\t' {
		return true
	}
	return false
}

// wordlikeRatio returns the share of whitespace-separated tokens with a
// plausible word length (2–15 runes).
func wordlikeRatio(text string) float64 {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return 0
	}
	wordlike := 0
	for _, f := range fields {
		if n := len([]rune(f)); n >= 2 && n <= 15 {
			wordlike++
		}
	}
	return float64(wordlike) / float64(len(fields))
}
