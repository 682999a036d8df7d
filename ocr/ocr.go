// Package ocr recognizes text in page images through tesseract. Each page
// is one invocation in TSV mode, which yields per-word confidence alongside
// the text; words are grouped back into line spans, and every span gets a
// best-effort language attribution against the requested language hints.
package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/docmill/docmill/toolrun"
)

// DefaultMaxPages bounds how many pages one job will OCR. Scanned
// contracts run long; past this point latency and memory beat utility.
const DefaultMaxPages = 30

// Config configures an Engine.
type Config struct {
	// Binary is the tesseract executable. Default "tesseract".
	Binary string
	// Languages are the default recognition hints. Default ["eng"].
	Languages []string
	// MaxPages caps pages per request. Default 30.
	MaxPages int
	// Timeout bounds one page invocation. Default 2m.
	Timeout time.Duration
	// RetryTimeout opts timed-out invocations into the single retry.
	RetryTimeout bool
	Logger       *slog.Logger
}

func (c *Config) defaults() {
	if c.Binary == "" {
		c.Binary = "tesseract"
	}
	if len(c.Languages) == 0 {
		c.Languages = []string{"eng"}
	}
	if c.MaxPages <= 0 {
		c.MaxPages = DefaultMaxPages
	}
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Minute
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// PageRef points at one page image to recognize.
type PageRef struct {
	// Page is the 1-indexed page number in the source document.
	Page int
	Path string
}

// Request describes one recognition run.
type Request struct {
	Images []PageRef
	// Languages override the configured hints when non-empty.
	Languages []string
	// Timeout overrides the configured per-page bound when positive.
	Timeout time.Duration
	// RetryTimeout opts this request into the timeout retry even when the
	// config does not.
	RetryTimeout bool
}

// Span is one recognized line with its attribution.
type Span struct {
	Page int
	Line int
	Text string
	// Language is the requested hint whose script best matches the text.
	Language string
	// Confidence is the mean word confidence, 0..1.
	Confidence float64
}

// PageResult is the recognition outcome for one page.
type PageResult struct {
	Page       int
	Text       string
	Confidence float64
	Spans      []Span
}

// Result is the recognition outcome for a whole request.
type Result struct {
	Pages      []PageResult
	Languages  []string
	Confidence float64
	Warnings   []string
}

// Text joins non-empty page texts in page order.
func (r *Result) Text() string {
	var parts []string
	for _, p := range r.Pages {
		if p.Text != "" {
			parts = append(parts, p.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Engine runs tesseract.
type Engine struct {
	cfg    Config
	runner toolrun.Runner
}

// New returns an Engine running invocations through runner.
func New(cfg Config, runner toolrun.Runner) *Engine {
	cfg.defaults()
	if runner == nil {
		runner = &toolrun.ExecRunner{Logger: cfg.Logger}
	}
	return &Engine{cfg: cfg, runner: runner}
}

// Recognize OCRs the request's pages in order. A page that still fails
// after its retry contributes empty text and a warning; the whole run fails
// only when every page does, or on cancellation.
func (e *Engine) Recognize(ctx context.Context, req Request) (*Result, error) {
	if len(req.Images) == 0 {
		return nil, fmt.Errorf("ocr: no page images")
	}

	langs := req.Languages
	if len(langs) == 0 {
		langs = e.cfg.Languages
	}
	langArg := strings.Join(langs, "+")

	images := append([]PageRef(nil), req.Images...)
	sort.Slice(images, func(i, j int) bool { return images[i].Page < images[j].Page })

	timeout := e.cfg.Timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	retry := e.cfg.RetryTimeout || req.RetryTimeout

	res := &Result{Languages: langs}
	if len(images) > e.cfg.MaxPages {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("ocr capped at %d of %d pages", e.cfg.MaxPages, len(images)))
		images = images[:e.cfg.MaxPages]
	}

	var confSum float64
	var confN int
	failures := 0
	var firstErr error

	for _, img := range images {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, err := e.recognizePage(ctx, img, langArg, langs, timeout, retry)
		if err != nil {
			failures++
			if firstErr == nil {
				firstErr = err
			}
			res.Warnings = append(res.Warnings, fmt.Sprintf("page %d: %v", img.Page, err))
			res.Pages = append(res.Pages, PageResult{Page: img.Page})
			continue
		}
		res.Pages = append(res.Pages, *page)
		for _, sp := range page.Spans {
			confSum += sp.Confidence
			confN++
		}
	}

	if failures == len(images) {
		return nil, fmt.Errorf("ocr: every page failed: %w", firstErr)
	}
	if confN > 0 {
		res.Confidence = confSum / float64(confN)
	}

	e.cfg.Logger.Debug("ocr: recognized",
		"pages", len(res.Pages), "failed_pages", failures, "languages", langArg, "confidence", res.Confidence)
	return res, nil
}

func (e *Engine) recognizePage(ctx context.Context, img PageRef, langArg string, langs []string, timeout time.Duration, retryTimeout bool) (*PageResult, error) {
	inv := toolrun.Invocation{
		Tool:    "tesseract",
		Command: e.cfg.Binary,
		Args:    []string{img.Path, "stdout", "-l", langArg, "--oem", "1", "--psm", "3", "tsv"},
		Timeout: timeout,
	}
	res, err := toolrun.Invoke(ctx, e.runner, inv, classify, retryTimeout)
	if err != nil {
		return nil, err
	}

	spans := groupSpans(parseTSV(res.Stdout), img.Page, langs)

	var texts []string
	var confSum float64
	for _, sp := range spans {
		texts = append(texts, sp.Text)
		confSum += sp.Confidence
	}
	page := &PageResult{Page: img.Page, Text: strings.Join(texts, "\n"), Spans: spans}
	if len(spans) > 0 {
		page.Confidence = confSum / float64(len(spans))
	}
	return page, nil
}

// classify maps tesseract exits onto the tool error taxonomy. Unreadable
// image complaints are refusals; memory complaints are exhaustion; the rest
// of its grab-bag exit 1 modes are crashes.
func classify(res toolrun.Result) *toolrun.ToolError {
	if res.ExitCode == 0 {
		return nil
	}
	excerpt := toolrun.StderrExcerpt(res.Stderr, 200)
	lower := strings.ToLower(string(res.Stderr))
	switch {
	case strings.Contains(lower, "out of memory") || strings.Contains(lower, "cannot allocate"):
		return &toolrun.ToolError{Kind: toolrun.KindResourceExhausted, Tool: "tesseract", ExitCode: res.ExitCode, Stderr: excerpt}
	case strings.Contains(lower, "cannot open") ||
		strings.Contains(lower, "could not open") ||
		strings.Contains(lower, "unsupported image") ||
		strings.Contains(lower, "corrupt"):
		return &toolrun.ToolError{Kind: toolrun.KindRefusedInput, Tool: "tesseract", ExitCode: res.ExitCode, Stderr: excerpt}
	default:
		return &toolrun.ToolError{Kind: toolrun.KindCrashed, Tool: "tesseract", ExitCode: res.ExitCode, Stderr: excerpt}
	}
}

// word is one level-5 TSV row.
type word struct {
	block, par, line int
	conf             float64
	text             string
}

// parseTSV extracts word rows from tesseract TSV output. Columns: level,
// page_num, block_num, par_num, line_num, word_num, left, top, width,
// height, conf, text.
func parseTSV(out []byte) []word {
	var words []word
	lines := strings.Split(string(out), "\n")
	for i, ln := range lines {
		if i == 0 || ln == "" {
			continue
		}
		cols := strings.Split(ln, "\t")
		if len(cols) < 12 {
			continue
		}
		if cols[0] != "5" {
			continue
		}
		conf, err := strconv.ParseFloat(cols[10], 64)
		if err != nil || conf < 0 {
			continue
		}
		text := strings.TrimSpace(cols[11])
		if text == "" {
			continue
		}
		block, _ := strconv.Atoi(cols[2])
		par, _ := strconv.Atoi(cols[3])
		line, _ := strconv.Atoi(cols[4])
		words = append(words, word{block: block, par: par, line: line, conf: conf / 100, text: text})
	}
	return words
}

// groupSpans folds words into line spans. Tesseract numbers lines within a
// paragraph, so the span identity is the (block, par, line) triple.
func groupSpans(words []word, page int, langs []string) []Span {
	type key struct{ block, par, line int }
	var order []key
	grouped := map[key][]word{}
	for _, w := range words {
		k := key{w.block, w.par, w.line}
		if _, ok := grouped[k]; !ok {
			order = append(order, k)
		}
		grouped[k] = append(grouped[k], w)
	}

	spans := make([]Span, 0, len(order))
	for i, k := range order {
		ws := grouped[k]
		var texts []string
		var confSum float64
		for _, w := range ws {
			texts = append(texts, w.text)
			confSum += w.conf
		}
		text := strings.Join(texts, " ")
		spans = append(spans, Span{
			Page:       page,
			Line:       i + 1,
			Text:       text,
			Language:   attributeLanguage(text, langs),
			Confidence: confSum / float64(len(ws)),
		})
	}
	return spans
}
