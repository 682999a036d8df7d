// Package raster renders PDF pages to PNG images through pdftoppm. One
// invocation rasterizes one contiguous page window; arbitrary page subsets
// are filtered from that window afterwards so the stage still spends exactly
// one subprocess.
package raster

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/docmill/docmill/toolrun"
)

// pagePrefix is the output filename stem; pdftoppm appends -<nr>.png with
// zero padding that depends on the page count.
const pagePrefix = "page"

// DefaultDPI matches the resolution OCR engines are calibrated for.
const DefaultDPI = 150

// Config configures a Rasterizer.
type Config struct {
	// Binary is the pdftoppm executable. Default "pdftoppm".
	Binary string
	// DPI is the default render resolution. Default 150.
	DPI int
	// Timeout bounds one invocation. Default 2m.
	Timeout time.Duration
	// RetryTimeout opts timed-out invocations into the single retry.
	RetryTimeout bool
	Logger       *slog.Logger
}

func (c *Config) defaults() {
	if c.Binary == "" {
		c.Binary = "pdftoppm"
	}
	if c.DPI <= 0 {
		c.DPI = DefaultDPI
	}
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Minute
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// PageImage is one rendered page. Page is the 1-indexed number in the
// source PDF, not the position in the returned slice.
type PageImage struct {
	Page int
	Path string
}

// Request describes one rasterization.
type Request struct {
	// PDF is the input file path.
	PDF string
	// OutDir receives the page images and must exist.
	OutDir string
	// DPI overrides the configured default when positive.
	DPI int
	// Pages limits output to these 1-indexed pages. Empty means all pages.
	Pages []int
	// Timeout overrides the configured bound when positive.
	Timeout time.Duration
	// RetryTimeout opts this request into the timeout retry even when the
	// config does not.
	RetryTimeout bool
}

// Rasterizer converts PDFs to per-page PNGs.
type Rasterizer struct {
	cfg    Config
	runner toolrun.Runner
}

// New returns a Rasterizer running invocations through runner.
func New(cfg Config, runner toolrun.Runner) *Rasterizer {
	cfg.defaults()
	if runner == nil {
		runner = &toolrun.ExecRunner{Logger: cfg.Logger}
	}
	return &Rasterizer{cfg: cfg, runner: runner}
}

// Rasterize renders req.PDF into req.OutDir and returns the page images
// ordered by ascending page number.
func (r *Rasterizer) Rasterize(ctx context.Context, req Request) ([]PageImage, error) {
	dpi := req.DPI
	if dpi <= 0 {
		dpi = r.cfg.DPI
	}
	timeout := r.cfg.Timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}

	args := []string{"-r", strconv.Itoa(dpi), "-png"}
	if len(req.Pages) > 0 {
		lo, hi := pageWindow(req.Pages)
		args = append(args, "-f", strconv.Itoa(lo), "-l", strconv.Itoa(hi))
	}
	args = append(args, req.PDF, filepath.Join(req.OutDir, pagePrefix))

	inv := toolrun.Invocation{
		Tool:    "pdftoppm",
		Command: r.cfg.Binary,
		Args:    args,
		Dir:     req.OutDir,
		Timeout: timeout,
	}

	res, err := toolrun.Invoke(ctx, r.runner, inv, classify, r.cfg.RetryTimeout || req.RetryTimeout)
	if err != nil {
		return nil, err
	}

	images, err := collectPages(req.OutDir)
	if err != nil {
		return nil, err
	}
	if len(req.Pages) > 0 {
		images = filterPages(images, req.Pages)
	}
	if len(images) == 0 {
		return nil, &toolrun.ToolError{
			Kind:    toolrun.KindRefusedInput,
			Tool:    "pdftoppm",
			Message: "produced no page images",
			Stderr:  toolrun.StderrExcerpt(res.Stderr, 200),
		}
	}

	r.cfg.Logger.Debug("raster: rendered",
		"pdf", req.PDF, "dpi", dpi, "pages", len(images), "duration_ms", res.Duration.Milliseconds())
	return images, nil
}

// classify maps pdftoppm exits onto the tool error taxonomy. Exit 1 is a
// broken or unreadable PDF, 3 an encrypted one; both are refusals of the
// input itself. Memory complaints on stderr mean exhaustion regardless of
// the exit code.
func classify(res toolrun.Result) *toolrun.ToolError {
	if res.ExitCode == 0 {
		return nil
	}
	excerpt := toolrun.StderrExcerpt(res.Stderr, 200)
	lower := strings.ToLower(string(res.Stderr))
	if strings.Contains(lower, "out of memory") || strings.Contains(lower, "cannot allocate") {
		return &toolrun.ToolError{Kind: toolrun.KindResourceExhausted, Tool: "pdftoppm", ExitCode: res.ExitCode, Stderr: excerpt}
	}
	switch res.ExitCode {
	case 1, 3:
		return &toolrun.ToolError{Kind: toolrun.KindRefusedInput, Tool: "pdftoppm", ExitCode: res.ExitCode, Stderr: excerpt}
	default:
		return &toolrun.ToolError{Kind: toolrun.KindCrashed, Tool: "pdftoppm", ExitCode: res.ExitCode, Stderr: excerpt}
	}
}

func pageWindow(pages []int) (lo, hi int) {
	lo, hi = pages[0], pages[0]
	for _, p := range pages[1:] {
		if p < lo {
			lo = p
		}
		if p > hi {
			hi = p
		}
	}
	return lo, hi
}

// collectPages globs the output directory for rendered pages. The numeric
// suffix is the authoritative page number; pdftoppm zero-pads it, so sorting
// must be numeric, not lexical.
func collectPages(dir string) ([]PageImage, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("raster: read output dir: %w", err)
	}
	var images []PageImage
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, pagePrefix+"-") || !strings.HasSuffix(name, ".png") {
			continue
		}
		nr := strings.TrimSuffix(strings.TrimPrefix(name, pagePrefix+"-"), ".png")
		page, err := strconv.Atoi(nr)
		if err != nil || page < 1 {
			continue
		}
		images = append(images, PageImage{Page: page, Path: filepath.Join(dir, name)})
	}
	sort.Slice(images, func(i, j int) bool { return images[i].Page < images[j].Page })
	return images, nil
}

func filterPages(images []PageImage, pages []int) []PageImage {
	want := make(map[int]bool, len(pages))
	for _, p := range pages {
		want[p] = true
	}
	kept := images[:0]
	for _, img := range images {
		if want[img.Page] {
			kept = append(kept, img)
		}
	}
	return kept
}
