// Package render converts office documents to PDF through headless
// LibreOffice. LibreOffice tolerates only a few concurrent instances per
// host before profile corruption sets in, so every conversion first takes a
// slot from a bounded FIFO pool and runs against that slot's pinned user
// profile directory. Word-processing documents go through an ODT
// intermediate; going native-format-first produces noticeably better PDFs
// out of legacy .doc files than the direct route.
package render

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docmill/docmill/docclass"
	"github.com/docmill/docmill/slotpool"
	"github.com/docmill/docmill/toolrun"
)

const (
	// writerFilter keeps fonts embedded and images at original resolution;
	// the defaults downsample scans badly enough to hurt OCR later.
	writerFilter  = "pdf:writer_pdf_Export:EmbedStandardFonts=true;ReduceImageResolution=false"
	impressFilter = "pdf:impress_pdf_Export"
	calcFilter    = "pdf:calc_pdf_Export"
)

// Config configures a Renderer.
type Config struct {
	// Binary is the LibreOffice executable. Default "libreoffice".
	Binary string
	// Slots bounds concurrent LibreOffice instances. Default 2.
	Slots int
	// ProfileRoot holds one user-profile directory per slot.
	ProfileRoot string
	// Timeout bounds each conversion step. Default 2m.
	Timeout time.Duration
	// RetryTimeout opts timed-out invocations into the single retry.
	RetryTimeout bool
	Logger       *slog.Logger
}

func (c *Config) defaults() {
	if c.Binary == "" {
		c.Binary = "libreoffice"
	}
	if c.Slots <= 0 {
		c.Slots = 2
	}
	if c.ProfileRoot == "" {
		c.ProfileRoot = filepath.Join(os.TempDir(), "docmill-lo-profiles")
	}
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Minute
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Request describes one document conversion.
type Request struct {
	// Input is the office document path.
	Input string
	// OutDir receives intermediate and final outputs and must exist.
	OutDir string
	// Family steers the export filter.
	Family docclass.Family
	// Timeout overrides the configured per-step bound when positive.
	Timeout time.Duration
	// RetryTimeout opts this request into the timeout retry even when the
	// config does not.
	RetryTimeout bool
}

// Renderer converts office documents to PDF.
type Renderer struct {
	cfg    Config
	runner toolrun.Runner
	pool   *slotpool.Pool
}

// New returns a Renderer with its slot pool prefilled.
func New(cfg Config, runner toolrun.Runner) *Renderer {
	cfg.defaults()
	if runner == nil {
		runner = &toolrun.ExecRunner{Logger: cfg.Logger}
	}
	return &Renderer{cfg: cfg, runner: runner, pool: slotpool.New(cfg.Slots)}
}

// ToPDF converts req.Input into a PDF inside req.OutDir and returns the PDF
// path. The slot is held across both steps of a two-step conversion so the
// intermediate never waits on a second acquisition.
func (r *Renderer) ToPDF(ctx context.Context, req Request) (string, error) {
	steps, err := planSteps(req)
	if err != nil {
		return "", err
	}

	slot, err := r.pool.Acquire(ctx)
	if err != nil {
		return "", fmt.Errorf("render: waiting for slot: %w", err)
	}
	defer r.pool.Release(slot)

	profile, err := r.slotProfile(slot)
	if err != nil {
		return "", err
	}

	timeout := r.cfg.Timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	retry := r.cfg.RetryTimeout || req.RetryTimeout

	input := req.Input
	var out string
	for _, step := range steps {
		out, err = r.convert(ctx, input, req.OutDir, step, profile, timeout, retry)
		if err != nil {
			return "", err
		}
		input = out
	}
	return out, nil
}

// step is one --convert-to pass.
type step struct {
	filter string
	ext    string
}

func planSteps(req Request) ([]step, error) {
	switch req.Family {
	case docclass.FamilyOfficeDocument:
		if strings.EqualFold(filepath.Ext(req.Input), ".odt") {
			return []step{{writerFilter, ".pdf"}}, nil
		}
		return []step{{"odt", ".odt"}, {writerFilter, ".pdf"}}, nil
	case docclass.FamilyPresentation:
		return []step{{impressFilter, ".pdf"}}, nil
	case docclass.FamilySpreadsheet:
		return []step{{calcFilter, ".pdf"}}, nil
	}
	return nil, fmt.Errorf("render: family %q is not convertible to pdf", req.Family)
}

func (r *Renderer) slotProfile(slot slotpool.Slot) (string, error) {
	dir := filepath.Join(r.cfg.ProfileRoot, fmt.Sprintf("profile-%d", slot.Index))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("render: create profile dir: %w", err)
	}
	return dir, nil
}

func (r *Renderer) convert(ctx context.Context, input, outDir string, st step, profile string, timeout time.Duration, retryTimeout bool) (string, error) {
	inv := toolrun.Invocation{
		Tool:    "soffice",
		Command: r.cfg.Binary,
		Args: []string{
			"--headless", "--norestore", "--nologo", "--invisible",
			"-env:UserInstallation=file://" + profile,
			"--convert-to", st.filter,
			"--outdir", outDir,
			input,
		},
		Dir:     outDir,
		Timeout: timeout,
	}

	res, err := toolrun.Invoke(ctx, r.runner, inv, classify, retryTimeout)
	if err != nil {
		return "", err
	}

	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	out := filepath.Join(outDir, base+st.ext)
	if _, statErr := os.Stat(out); statErr != nil {
		// LibreOffice reports success and writes nothing when it cannot
		// parse the document. Treat the absent output as the refusal it is.
		return "", &toolrun.ToolError{
			Kind:    toolrun.KindRefusedInput,
			Tool:    "soffice",
			Message: fmt.Sprintf("no %s produced for %s", st.ext, filepath.Base(input)),
			Stderr:  toolrun.StderrExcerpt(res.Stderr, 200),
		}
	}

	r.cfg.Logger.Debug("render: converted",
		"input", input, "filter", st.filter, "output", out, "duration_ms", res.Duration.Milliseconds())
	return out, nil
}

// classify maps LibreOffice exits onto the tool error taxonomy. Exit codes
// carry little signal (failure often exits 0); the load-failure marker on
// output is the one reliable refusal indicator. Exit 81 is the
// profile-restart quirk and clears on retry.
func classify(res toolrun.Result) *toolrun.ToolError {
	combined := strings.ToLower(string(res.Stdout) + string(res.Stderr))
	if strings.Contains(combined, "source file could not be loaded") {
		return &toolrun.ToolError{
			Kind: toolrun.KindRefusedInput, Tool: "soffice",
			ExitCode: res.ExitCode, Stderr: toolrun.StderrExcerpt(res.Stderr, 200),
		}
	}
	if res.ExitCode == 0 {
		return nil
	}
	if strings.Contains(combined, "out of memory") || strings.Contains(combined, "cannot allocate") {
		return &toolrun.ToolError{
			Kind: toolrun.KindResourceExhausted, Tool: "soffice",
			ExitCode: res.ExitCode, Stderr: toolrun.StderrExcerpt(res.Stderr, 200),
		}
	}
	return &toolrun.ToolError{
		Kind: toolrun.KindCrashed, Tool: "soffice",
		ExitCode: res.ExitCode, Stderr: toolrun.StderrExcerpt(res.Stderr, 200),
	}
}
