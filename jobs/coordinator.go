// Package jobs runs whole conversion jobs: acquire a workspace, classify
// the payload, drive the stage pipeline, assemble the artifact bundle,
// release the workspace. The coordinator owns every resource a job touches;
// nothing a job allocated survives its return.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/docmill/docmill/docclass"
	"github.com/docmill/docmill/idgen"
	"github.com/docmill/docmill/imgprep"
	"github.com/docmill/docmill/ocr"
	"github.com/docmill/docmill/pdfops"
	"github.com/docmill/docmill/pdftext"
	"github.com/docmill/docmill/pipeline"
	"github.com/docmill/docmill/raster"
	"github.com/docmill/docmill/render"
	"github.com/docmill/docmill/textfmt"
	"github.com/docmill/docmill/toolrun"
	"github.com/docmill/docmill/workspace"
)

// Observer receives job lifecycle events. Implementations must be safe for
// concurrent use; the pool runs jobs in parallel.
type Observer interface {
	JobStarted(jobID, declaredName string, size int)
	StageFinished(jobID string, sr pipeline.StageResult)
	JobFinished(jobID string, status pipeline.Status, elapsed time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) JobStarted(string, string, int)                            {}
func (nopObserver) StageFinished(string, pipeline.StageResult)                {}
func (nopObserver) JobFinished(string, pipeline.Status, time.Duration, error) {}

// Coordinator runs conversion jobs end to end.
type Coordinator struct {
	cfg        *Config
	logger     *slog.Logger
	observer   Observer
	workspaces *workspace.Manager
	renderer   *render.Renderer
	rasterizer *raster.Rasterizer
	engine     *ocr.Engine
	pipe       *pipeline.Runner
}

// NewCoordinator wires the adapters from cfg. A nil runner uses real
// subprocesses; a nil observer drops events.
func NewCoordinator(cfg *Config, runner toolrun.Runner, observer Observer, logger *slog.Logger) (*Coordinator, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("jobs: config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	if runner == nil {
		runner = &toolrun.ExecRunner{Logger: logger}
	}
	return &Coordinator{
		cfg:        cfg,
		logger:     logger,
		observer:   observer,
		workspaces: workspace.NewManager(workspace.Config{Root: cfg.WorkspaceRoot, Logger: logger}),
		renderer:   render.New(cfg.renderConfig(logger), runner),
		rasterizer: raster.New(cfg.rasterConfig(logger), runner),
		engine:     ocr.New(cfg.ocrConfig(logger), runner),
		pipe:       pipeline.NewRunner(pipeline.Config{Logger: logger}),
	}, nil
}

// jobState carries artifacts between stage closures. Stages run strictly in
// order within one goroutine, so no locking.
type jobState struct {
	input   string
	pdf     string
	images  []raster.PageImage
	extract *pdftext.Result
	ocrRes  *ocr.Result
}

// Run executes one job. On failure the error is a *JobError pinning the
// failing stage; with Options.BestEffort set, a partial bundle is returned
// alongside that error instead of nil.
func (c *Coordinator) Run(ctx context.Context, data []byte, declaredName string, opts Options) (*ArtifactBundle, error) {
	jobID := idgen.New()
	start := time.Now()

	c.logger.Info("jobs: job accepted", "job_id", jobID, "name", declaredName, "bytes", len(data))
	c.observer.JobStarted(jobID, declaredName, len(data))

	bundle, err := c.run(ctx, jobID, data, declaredName, opts)

	elapsed := time.Since(start)
	status := pipeline.Failed
	if bundle != nil {
		bundle.Elapsed = elapsed
		status = bundle.Status
	}
	c.observer.JobFinished(jobID, status, elapsed, err)

	if err != nil {
		c.logger.Warn("jobs: job failed",
			"job_id", jobID, "status", status, "error", err, "duration_ms", elapsed.Milliseconds())
	} else {
		c.logger.Info("jobs: job finished",
			"job_id", jobID, "status", status, "duration_ms", elapsed.Milliseconds())
	}
	return bundle, err
}

func (c *Coordinator) run(ctx context.Context, jobID string, data []byte, declaredName string, opts Options) (*ArtifactBundle, error) {
	opts = opts.normalized(c.cfg)
	if err := opts.validate(); err != nil {
		return nil, &JobError{JobID: jobID, Err: err}
	}
	if int64(len(data)) > c.cfg.MaxInputBytes() {
		return nil, &JobError{JobID: jobID,
			Err: fmt.Errorf("%w: %d bytes (limit %d)", ErrInputTooLarge, len(data), c.cfg.MaxInputBytes())}
	}

	ws, err := c.acquireWorkspace(ctx, jobID)
	if err != nil {
		return nil, &JobError{JobID: jobID, Err: err}
	}
	defer c.workspaces.Release(ws)

	clsStart := time.Now()
	cls, err := docclass.Classify(data, declaredName)
	clsResult := pipeline.StageResult{Kind: pipeline.StageClassify, Elapsed: time.Since(clsStart)}
	if err != nil {
		clsResult.Status = pipeline.StatusFailed
		clsResult.Err = err
		c.observer.StageFinished(jobID, clsResult)
		return nil, &JobError{JobID: jobID, Stage: pipeline.StageClassify,
			Stages: []pipeline.StageResult{clsResult}, Err: err}
	}
	clsResult.Status = pipeline.StatusSucceeded
	clsResult.Detail = string(cls.Family) + "/" + cls.Detail
	c.observer.StageFinished(jobID, clsResult)
	c.logger.Debug("jobs: classified", "job_id", jobID, "family", cls.Family, "detail", cls.Detail)

	plan, err := docclass.Plan(cls.Family, opts.OutputFormats)
	if err != nil {
		return nil, &JobError{JobID: jobID, Stage: pipeline.StageClassify,
			Stages: []pipeline.StageResult{clsResult}, Err: err}
	}

	inputPath, err := ws.WriteFile("input"+extFor(cls, declaredName), data)
	if err != nil {
		return nil, &JobError{JobID: jobID, Stages: []pipeline.StageResult{clsResult}, Err: err}
	}
	st := &jobState{input: inputPath}

	res := c.pipe.Run(ctx, c.buildStages(ws, cls, plan, opts, st))
	for _, sr := range res.Stages {
		c.observer.StageFinished(jobID, sr)
	}
	allStages := append([]pipeline.StageResult{clsResult}, res.Stages...)

	if res.Status == pipeline.Failed {
		jerr := &JobError{JobID: jobID, Stage: res.FailedStage, Stages: allStages, Err: res.Err}
		if opts.BestEffort {
			return c.assemble(ws, jobID, cls, allStages, res, opts, st), jerr
		}
		return nil, jerr
	}
	return c.assemble(ws, jobID, cls, allStages, res, opts, st), nil
}

// acquireWorkspace retries allocation once after a backoff; transient disk
// pressure often clears within a beat, anything longer is fatal anyway.
func (c *Coordinator) acquireWorkspace(ctx context.Context, jobID string) (*workspace.Workspace, error) {
	ws, err := c.workspaces.Acquire(jobID)
	if err == nil {
		return ws, nil
	}
	var rerr *workspace.ResourceError
	if !errors.As(err, &rerr) {
		return nil, err
	}
	c.logger.Warn("jobs: workspace acquire failed, retrying once", "job_id", jobID, "error", err)
	select {
	case <-time.After(c.cfg.acquireBackoff()):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return c.workspaces.Acquire(jobID)
}

// buildStages turns the static plan into executable stages. When native text
// extraction is planned and text was requested, a gated OCR stage is chained
// after it; the gate fires only on insufficient extraction, so jobs with a
// real text layer never pay for the engine.
func (c *Coordinator) buildStages(ws *workspace.Workspace, cls docclass.Classification, plan []pipeline.StageKind, opts Options, st *jobState) []pipeline.Stage {
	var stages []pipeline.Stage
	for _, kind := range plan {
		switch kind {
		case pipeline.StageConvert:
			stages = append(stages, pipeline.Stage{Kind: kind, Run: c.convertStage(ws, cls, opts, st)})
		case pipeline.StageRasterize:
			stages = append(stages, pipeline.Stage{Kind: kind, Run: c.rasterizeStage(ws, opts, st)})
		case pipeline.StageExtractText:
			stages = append(stages, pipeline.Stage{Kind: kind, Run: c.extractStage(ws, st)})
		case pipeline.StageOCR:
			stages = append(stages, pipeline.Stage{Kind: kind, Run: c.ocrImageStage(ws, opts, st)})
		}
	}
	if cls.Family != docclass.FamilyImage &&
		hasKind(plan, pipeline.StageExtractText) &&
		pipeline.HasFormat(opts.OutputFormats, pipeline.OutputText) {
		stages = append(stages, pipeline.Stage{
			Kind: pipeline.StageOCR,
			Gate: c.ocrGate(st),
			Run:  c.ocrPagesStage(ws, opts, st),
		})
	}
	return stages
}

func (c *Coordinator) convertStage(ws *workspace.Workspace, cls docclass.Classification, opts Options, st *jobState) func(context.Context) (*pipeline.Output, error) {
	return func(ctx context.Context) (*pipeline.Output, error) {
		outDir, err := ws.Mkdir("render")
		if err != nil {
			return nil, err
		}
		if cls.Family == docclass.FamilyImage {
			return c.imageToPDF(outDir, cls.Detail, st)
		}
		pdf, err := c.renderer.ToPDF(ctx, render.Request{
			Input:        st.input,
			OutDir:       outDir,
			Family:       cls.Family,
			Timeout:      opts.TimeoutOverride,
			RetryTimeout: opts.RetryTimeouts,
		})
		if err != nil {
			return nil, err
		}
		st.pdf = pdf
		return &pipeline.Output{Artifacts: []string{pdf}, Detail: "pdf"}, nil
	}
}

// imageToPDF wraps a single image into a one-page PDF in-process. Formats
// the importer cannot take directly are re-encoded as PNG first.
func (c *Coordinator) imageToPDF(outDir, detail string, st *jobState) (*pipeline.Output, error) {
	src := st.input
	switch detail {
	case "png", "jpeg", "tiff":
	default:
		dst := filepath.Join(outDir, "image.png")
		if err := imgprep.Normalize(st.input, dst, imgprep.Options{}); err != nil {
			return nil, &toolrun.ToolError{Kind: toolrun.KindRefusedInput, Tool: "imgprep",
				Message: "cannot decode image", Err: err}
		}
		src = dst
	}
	pdf := filepath.Join(outDir, "image.pdf")
	if err := pdfops.ImagesToPDF([]string{src}, pdf); err != nil {
		return nil, &toolrun.ToolError{Kind: toolrun.KindRefusedInput, Tool: "pdfcpu",
			Message: "cannot import image", Err: err}
	}
	st.pdf = pdf
	return &pipeline.Output{Artifacts: []string{pdf}, Detail: "pdf"}, nil
}

func (c *Coordinator) rasterizeStage(ws *workspace.Workspace, opts Options, st *jobState) func(context.Context) (*pipeline.Output, error) {
	return func(ctx context.Context) (*pipeline.Output, error) {
		src := st.pdf
		if src == "" {
			src = st.input
		}
		outDir, err := ws.Mkdir("pages")
		if err != nil {
			return nil, err
		}
		var pages []int
		if opts.PageRange != "" {
			n, err := pdfops.PageCount(src)
			if err != nil {
				return nil, &toolrun.ToolError{Kind: toolrun.KindRefusedInput, Tool: "pdfcpu",
					Message: "cannot read page count", Err: err}
			}
			if pages, err = pdfops.ParsePages(opts.PageRange, n); err != nil {
				return nil, &toolrun.ToolError{Kind: toolrun.KindRefusedInput, Tool: "pdfcpu",
					Message: "bad page selection", Err: err}
			}
		}
		images, err := c.rasterizer.Rasterize(ctx, raster.Request{
			PDF:          src,
			OutDir:       outDir,
			Pages:        pages,
			Timeout:      opts.TimeoutOverride,
			RetryTimeout: opts.RetryTimeouts,
		})
		if err != nil {
			return nil, err
		}
		st.images = images
		arts := make([]string, len(images))
		for i, img := range images {
			arts[i] = img.Path
		}
		return &pipeline.Output{Artifacts: arts, Detail: fmt.Sprintf("%d pages", len(images))}, nil
	}
}

// extractStage never fails the job: an unreadable text layer is exactly the
// case OCR exists for, so extraction trouble downgrades to a warning and an
// empty result that makes the OCR gate fire.
func (c *Coordinator) extractStage(ws *workspace.Workspace, st *jobState) func(context.Context) (*pipeline.Output, error) {
	return func(ctx context.Context) (*pipeline.Output, error) {
		src := st.pdf
		if src == "" {
			src = st.input
		}
		res, err := pdftext.Extract(src)
		if err != nil {
			st.extract = &pdftext.Result{Quality: pdftext.Quality{
				Pages:           len(st.images),
				HasImageStreams: true,
			}}
			return &pipeline.Output{
				Warnings: []string{fmt.Sprintf("native text extraction failed: %v", err)},
			}, nil
		}
		st.extract = res

		out := &pipeline.Output{
			Detail: fmt.Sprintf("%d chars over %d pages", res.Quality.Chars, res.Quality.Pages),
		}
		if path, werr := ws.WriteFile("native.txt", []byte(res.Text())); werr == nil {
			out.Artifacts = []string{path}
		}
		return out, nil
	}
}

// ocrGate is the pipeline's one dynamic branch. Deterministic: same
// extraction, same verdict.
func (c *Coordinator) ocrGate(st *jobState) func([]pipeline.StageResult) bool {
	return func(prior []pipeline.StageResult) bool {
		sr := pipeline.ResultByKind(prior, pipeline.StageExtractText)
		if sr == nil || sr.Status != pipeline.StatusSucceeded || st.extract == nil {
			return false
		}
		return st.extract.Quality.NeedsOCR(c.cfg.Quality)
	}
}

// ocrPagesStage recognizes the rasterized pages of a document whose native
// text came back insufficient.
func (c *Coordinator) ocrPagesStage(ws *workspace.Workspace, opts Options, st *jobState) func(context.Context) (*pipeline.Output, error) {
	return func(ctx context.Context) (*pipeline.Output, error) {
		if len(st.images) == 0 {
			return nil, &toolrun.ToolError{Kind: toolrun.KindRefusedInput, Tool: "ocr",
				Message: "no page images to recognize"}
		}
		ocrDir, err := ws.Mkdir("ocr")
		if err != nil {
			return nil, err
		}
		refs := make([]ocr.PageRef, 0, len(st.images))
		for _, img := range st.images {
			dst := filepath.Join(ocrDir, filepath.Base(img.Path))
			if err := imgprep.Normalize(img.Path, dst, imgprep.DefaultOptions()); err != nil {
				c.logger.Warn("jobs: ocr preprocess failed, using raw page",
					"page", img.Page, "error", err)
				dst = img.Path
			}
			refs = append(refs, ocr.PageRef{Page: img.Page, Path: dst})
		}
		return c.recognize(ctx, ws, opts, st, refs)
	}
}

// ocrImageStage recognizes a plain image input directly; there is nothing
// to rasterize.
func (c *Coordinator) ocrImageStage(ws *workspace.Workspace, opts Options, st *jobState) func(context.Context) (*pipeline.Output, error) {
	return func(ctx context.Context) (*pipeline.Output, error) {
		ocrDir, err := ws.Mkdir("ocr")
		if err != nil {
			return nil, err
		}
		dst := filepath.Join(ocrDir, "page-1.png")
		if err := imgprep.Normalize(st.input, dst, imgprep.DefaultOptions()); err != nil {
			return nil, &toolrun.ToolError{Kind: toolrun.KindRefusedInput, Tool: "imgprep",
				Message: "cannot decode image", Err: err}
		}
		return c.recognize(ctx, ws, opts, st, []ocr.PageRef{{Page: 1, Path: dst}})
	}
}

func (c *Coordinator) recognize(ctx context.Context, ws *workspace.Workspace, opts Options, st *jobState, refs []ocr.PageRef) (*pipeline.Output, error) {
	res, err := c.engine.Recognize(ctx, ocr.Request{
		Images:       refs,
		Languages:    opts.OCRLanguages,
		Timeout:      opts.TimeoutOverride,
		RetryTimeout: opts.RetryTimeouts,
	})
	if err != nil {
		return nil, err
	}
	st.ocrRes = res

	out := &pipeline.Output{
		Detail:   fmt.Sprintf("%d pages, confidence %.2f", len(res.Pages), res.Confidence),
		Warnings: res.Warnings,
	}
	if path, werr := ws.WriteFile("ocr.txt", []byte(res.Text())); werr == nil {
		out.Artifacts = []string{path}
	}
	return out, nil
}

// assemble reads the artifacts the caller asked for out of the workspace
// while it still exists. Everything in the bundle is carried by value.
func (c *Coordinator) assemble(ws *workspace.Workspace, jobID string, cls docclass.Classification, stages []pipeline.StageResult, res *pipeline.Result, opts Options, st *jobState) *ArtifactBundle {
	b := &ArtifactBundle{
		JobID:    jobID,
		Family:   cls.Family,
		Detail:   cls.Detail,
		Status:   res.Status,
		Stages:   stages,
		Warnings: res.Warnings(),
	}

	if pipeline.HasFormat(opts.OutputFormats, pipeline.OutputPDF) {
		b.PDF = c.pdfBytes(ws, cls, st, b)
	}
	if pipeline.HasFormat(opts.OutputFormats, pipeline.OutputImages) {
		for _, img := range st.images {
			data, err := os.ReadFile(img.Path)
			if err != nil {
				b.Warnings = append(b.Warnings, fmt.Sprintf("page %d image unreadable: %v", img.Page, err))
				continue
			}
			b.Pages = append(b.Pages, PageImage{Page: img.Page, PNG: data})
		}
	}
	if pipeline.HasFormat(opts.OutputFormats, pipeline.OutputText) {
		switch {
		case st.ocrRes != nil:
			b.Text = textfmt.Format(st.ocrRes.Text())
			b.TextSource = TextSourceOCR
			b.OCRLanguages = st.ocrRes.Languages
			b.OCRConfidence = st.ocrRes.Confidence
			for _, p := range st.ocrRes.Pages {
				b.Spans = append(b.Spans, p.Spans...)
			}
		case st.extract != nil:
			b.Text = textfmt.Format(st.extract.Text())
			b.TextSource = TextSourceNative
		}
	}
	return b
}

// pdfBytes picks the PDF artifact: the converted file when a conversion
// ran, otherwise the (normalized) input for PDF-family jobs.
func (c *Coordinator) pdfBytes(ws *workspace.Workspace, cls docclass.Classification, st *jobState, b *ArtifactBundle) []byte {
	path := st.pdf
	if path == "" {
		if cls.Family != docclass.FamilyPDF {
			return nil
		}
		path = st.input
		if out, err := ws.Join("normalized.pdf"); err == nil {
			if err := pdfops.Optimize(st.input, out); err == nil {
				path = out
			} else {
				b.Warnings = append(b.Warnings, fmt.Sprintf("pdf normalization failed, passing input through: %v", err))
			}
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		b.Warnings = append(b.Warnings, fmt.Sprintf("pdf artifact unreadable: %v", err))
		return nil
	}
	return data
}

// extFor picks the stored input's extension; LibreOffice keys format
// detection off it for legacy files.
func extFor(cls docclass.Classification, declaredName string) string {
	switch cls.Detail {
	case "":
		if ext := filepath.Ext(declaredName); ext != "" {
			return ext
		}
		return ".bin"
	case "jpeg":
		return ".jpg"
	case "tiff":
		return ".tif"
	}
	return "." + cls.Detail
}

func hasKind(plan []pipeline.StageKind, k pipeline.StageKind) bool {
	for _, kind := range plan {
		if kind == k {
			return true
		}
	}
	return false
}
