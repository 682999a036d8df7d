package jobs

import (
	"fmt"
	"regexp"
	"time"

	"github.com/docmill/docmill/pdfops"
	"github.com/docmill/docmill/pipeline"
)

// Options are the per-job knobs a caller may set. The zero value asks for
// every output format with the configured default languages.
type Options struct {
	// OCRLanguages are ordered tesseract language hints; the first is the
	// document's primary language. Empty means the configured default.
	OCRLanguages []string
	// OutputFormats limits which artifacts the job produces. Empty means
	// all of pdf, images and text.
	OutputFormats []pipeline.OutputFormat
	// BestEffort returns partial artifacts alongside the recorded failure
	// instead of suppressing output on pipeline failure.
	BestEffort bool
	// TimeoutOverride replaces every tool's configured timeout when positive.
	TimeoutOverride time.Duration
	// RetryTimeouts opts timed-out tool invocations into the single retry.
	RetryTimeouts bool
	// PageRange restricts rasterization and OCR to a page selection like
	// "1,3,5-8". Empty means all pages.
	PageRange string
}

// tesseract language codes: ISO 639-2/T plus script suffixes (chi_sim,
// aze_cyrl, ...).
var langRe = regexp.MustCompile(`^[a-z]{3}(_[a-zA-Z]+)?$`)

// normalized fills defaults and deduplicates while preserving caller order.
func (o Options) normalized(cfg *Config) Options {
	if len(o.OCRLanguages) == 0 {
		o.OCRLanguages = cfg.OCR.Languages
	}
	o.OCRLanguages = dedupe(o.OCRLanguages)

	seen := map[pipeline.OutputFormat]bool{}
	var formats []pipeline.OutputFormat
	for _, f := range o.OutputFormats {
		if !seen[f] {
			seen[f] = true
			formats = append(formats, f)
		}
	}
	o.OutputFormats = formats
	return o
}

func (o Options) validate() error {
	for _, f := range o.OutputFormats {
		if _, err := pipeline.ParseOutputFormat(string(f)); err != nil {
			return err
		}
	}
	for _, lang := range o.OCRLanguages {
		if !langRe.MatchString(lang) {
			return fmt.Errorf("jobs: bad ocr language %q", lang)
		}
	}
	if o.TimeoutOverride < 0 {
		return fmt.Errorf("jobs: negative timeout override")
	}
	if o.PageRange != "" {
		if _, err := pdfops.ParsePages(o.PageRange, 0); err != nil {
			return fmt.Errorf("jobs: %w", err)
		}
	}
	return nil
}

func dedupe(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
