package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docmill/docmill/jobs"
	"github.com/docmill/docmill/pipeline"
)

func runConvert(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("convert", flag.ExitOnError)
	in := fs.String("in", "", "input document (required)")
	out := fs.String("out", "out", "directory for the produced artifacts")
	formats := fs.String("formats", "", "comma-separated artifacts to produce: pdf,images,text (default all)")
	langs := fs.String("langs", "", "comma-separated OCR language hints, primary first")
	pages := fs.String("pages", "", "page selection for rasterize and OCR, e.g. 1,3,5-8")
	bestEffort := fs.Bool("best-effort", false, "keep partial artifacts when a stage fails")
	timeout := fs.Duration("timeout", 0, "per-tool timeout override, e.g. 90s")
	retryTimeouts := fs.Bool("retry-timeouts", false, "retry a timed-out tool invocation once")
	configPath := fs.String("config", envOr("DOCMILL_CONFIG", ""), "YAML config file")
	logLevel := fs.String("log-level", envOr("DOCMILL_LOG_LEVEL", "info"), "log level: debug, info, warn, error")
	fs.Parse(args)

	logger := newLogger(*logLevel)
	if *in == "" {
		fs.Usage()
		return errors.New("convert: -in is required")
	}

	cfg, err := loadJobsConfig(*configPath)
	if err != nil {
		return err
	}
	coord, err := jobs.NewCoordinator(cfg, nil, nil, logger)
	if err != nil {
		return err
	}
	opts, err := parseOptions(*formats, *langs, *pages, *bestEffort, *timeout, *retryTimeouts)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(*in)
	if err != nil {
		return fmt.Errorf("convert: %w", err)
	}

	bundle, runErr := coord.Run(ctx, data, filepath.Base(*in), opts)
	if bundle != nil {
		if err := writeBundle(*out, bundle); err != nil {
			return err
		}
		fmt.Println(bundle.Summary())
	}
	if runErr != nil {
		return fmt.Errorf("convert: %w", runErr)
	}
	return nil
}

func runBatch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("batch", flag.ExitOnError)
	out := fs.String("out", "out", "root directory; each document gets its own subdirectory")
	formats := fs.String("formats", "", "comma-separated artifacts to produce: pdf,images,text (default all)")
	langs := fs.String("langs", "", "comma-separated OCR language hints, primary first")
	pages := fs.String("pages", "", "page selection for rasterize and OCR, e.g. 1,3,5-8")
	bestEffort := fs.Bool("best-effort", false, "keep partial artifacts when a stage fails")
	timeout := fs.Duration("timeout", 0, "per-tool timeout override, e.g. 90s")
	retryTimeouts := fs.Bool("retry-timeouts", false, "retry a timed-out tool invocation once")
	workers := fs.Int("workers", 0, "concurrent conversions (default from config)")
	configPath := fs.String("config", envOr("DOCMILL_CONFIG", ""), "YAML config file")
	logLevel := fs.String("log-level", envOr("DOCMILL_LOG_LEVEL", "info"), "log level: debug, info, warn, error")
	fs.Parse(args)

	logger := newLogger(*logLevel)
	files := fs.Args()
	if len(files) == 0 {
		fs.Usage()
		return errors.New("batch: no input files")
	}

	cfg, err := loadJobsConfig(*configPath)
	if err != nil {
		return err
	}
	if *workers > 0 {
		cfg.Workers = *workers
	}
	coord, err := jobs.NewCoordinator(cfg, nil, nil, logger)
	if err != nil {
		return err
	}
	opts, err := parseOptions(*formats, *langs, *pages, *bestEffort, *timeout, *retryTimeouts)
	if err != nil {
		return err
	}

	tasks := make([]jobs.Task, 0, len(files))
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("batch: %w", err)
		}
		tasks = append(tasks, jobs.Task{Data: data, DeclaredName: filepath.Base(f), Options: opts})
	}

	pool := jobs.NewPool(coord, cfg.Workers, logger)
	results := pool.Process(ctx, tasks)

	failed := 0
	for i, res := range results {
		name := filepath.Base(files[i])
		if res.Bundle != nil {
			dir := uniqueDir(*out, stemOf(name))
			if err := writeBundle(dir, res.Bundle); err != nil {
				return err
			}
			fmt.Printf("%s: %s -> %s\n", name, res.Bundle.Summary(), dir)
		}
		if res.Err != nil {
			failed++
			fmt.Printf("%s: failed: %v\n", name, res.Err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("batch: %d of %d conversions failed", failed, len(files))
	}
	return nil
}

func loadJobsConfig(path string) (*jobs.Config, error) {
	if path == "" {
		return jobs.DefaultConfig(), nil
	}
	return jobs.LoadConfig(path)
}

func parseOptions(formats, langs, pages string, bestEffort bool, timeout time.Duration, retryTimeouts bool) (jobs.Options, error) {
	opts := jobs.Options{
		OCRLanguages:    splitList(langs),
		BestEffort:      bestEffort,
		TimeoutOverride: timeout,
		RetryTimeouts:   retryTimeouts,
		PageRange:       pages,
	}
	for _, s := range splitList(formats) {
		f, err := pipeline.ParseOutputFormat(s)
		if err != nil {
			return jobs.Options{}, err
		}
		opts.OutputFormats = append(opts.OutputFormats, f)
	}
	return opts, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// writeBundle lays the bundle out on disk: document.pdf, pages/page-0001.png
// and so on, text.txt. Absent artifacts produce no files.
func writeBundle(dir string, b *jobs.ArtifactBundle) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("write artifacts: %w", err)
	}
	if len(b.PDF) > 0 {
		if err := os.WriteFile(filepath.Join(dir, "document.pdf"), b.PDF, 0o644); err != nil {
			return fmt.Errorf("write artifacts: %w", err)
		}
	}
	if len(b.Pages) > 0 {
		pagesDir := filepath.Join(dir, "pages")
		if err := os.MkdirAll(pagesDir, 0o755); err != nil {
			return fmt.Errorf("write artifacts: %w", err)
		}
		for _, p := range b.Pages {
			name := fmt.Sprintf("page-%04d.png", p.Page)
			if err := os.WriteFile(filepath.Join(pagesDir, name), p.PNG, 0o644); err != nil {
				return fmt.Errorf("write artifacts: %w", err)
			}
		}
	}
	if b.Text != "" {
		if err := os.WriteFile(filepath.Join(dir, "text.txt"), []byte(b.Text), 0o644); err != nil {
			return fmt.Errorf("write artifacts: %w", err)
		}
	}
	return nil
}

func stemOf(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// uniqueDir returns root/stem, or root/stem-2, root/stem-3 and so on when a
// batch carries duplicate basenames.
func uniqueDir(root, stem string) string {
	dir := filepath.Join(root, stem)
	for i := 2; ; i++ {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			return dir
		}
		dir = filepath.Join(root, fmt.Sprintf("%s-%d", stem, i))
	}
}
