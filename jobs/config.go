package jobs

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/docmill/docmill/ocr"
	"github.com/docmill/docmill/pdftext"
	"github.com/docmill/docmill/raster"
	"github.com/docmill/docmill/render"
)

// Config holds the full conversion-service configuration.
type Config struct {
	// WorkspaceRoot is the parent directory for per-job scratch space.
	WorkspaceRoot string `yaml:"workspace_root"`
	// Workers bounds concurrently running jobs.
	Workers    int `yaml:"workers"`
	MaxInputMB int `yaml:"max_input_mb"`
	// AcquireRetryBackoffMS is the pause before the single workspace
	// re-acquisition attempt.
	AcquireRetryBackoffMS int `yaml:"acquire_retry_backoff_ms"`

	Render RenderConfig `yaml:"render"`
	Raster RasterConfig `yaml:"raster"`
	OCR    OCRConfig    `yaml:"ocr"`
	// Quality tunes the native-text-or-OCR decision.
	Quality pdftext.Thresholds `yaml:"quality"`
}

// RenderConfig configures the LibreOffice conversion tool.
type RenderConfig struct {
	Binary      string `yaml:"binary"`
	Slots       int    `yaml:"slots"`
	ProfileRoot string `yaml:"profile_root"`
	TimeoutSec  int    `yaml:"timeout_sec"`
}

// RasterConfig configures the pdftoppm rasterizer.
type RasterConfig struct {
	Binary     string `yaml:"binary"`
	DPI        int    `yaml:"dpi"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// OCRConfig configures the tesseract engine.
type OCRConfig struct {
	Binary     string   `yaml:"binary"`
	Languages  []string `yaml:"languages"`
	MaxPages   int      `yaml:"max_pages"`
	TimeoutSec int      `yaml:"timeout_sec"`
}

// DefaultConfig returns sane defaults.
func DefaultConfig() *Config {
	return &Config{
		WorkspaceRoot:         filepath.Join(os.TempDir(), "docmill"),
		Workers:               2,
		MaxInputMB:            25,
		AcquireRetryBackoffMS: 500,
		Render: RenderConfig{
			Binary:     "libreoffice",
			Slots:      2,
			TimeoutSec: 120,
		},
		Raster: RasterConfig{
			Binary:     "pdftoppm",
			DPI:        raster.DefaultDPI,
			TimeoutSec: 120,
		},
		OCR: OCRConfig{
			Binary:     "tesseract",
			Languages:  []string{"eng"},
			MaxPages:   ocr.DefaultMaxPages,
			TimeoutSec: 120,
		},
		Quality: pdftext.DefaultThresholds(),
	}
}

// LoadConfig reads and parses a YAML config file. Returns DefaultConfig merged with the file.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks that required fields are present and values are sane.
func (c *Config) Validate() error {
	if c.WorkspaceRoot == "" {
		return fmt.Errorf("workspace_root is required")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be > 0")
	}
	if c.MaxInputMB <= 0 {
		return fmt.Errorf("max_input_mb must be > 0")
	}
	if c.AcquireRetryBackoffMS < 0 {
		return fmt.Errorf("acquire_retry_backoff_ms must be >= 0")
	}
	if c.Render.Slots <= 0 {
		return fmt.Errorf("render.slots must be > 0")
	}
	if c.Render.TimeoutSec <= 0 || c.Raster.TimeoutSec <= 0 || c.OCR.TimeoutSec <= 0 {
		return fmt.Errorf("tool timeouts must be > 0")
	}
	if c.Raster.DPI < 50 || c.Raster.DPI > 600 {
		return fmt.Errorf("raster.dpi must be within 50..600")
	}
	if len(c.OCR.Languages) == 0 {
		return fmt.Errorf("ocr.languages must not be empty")
	}
	for _, lang := range c.OCR.Languages {
		if !langRe.MatchString(lang) {
			return fmt.Errorf("ocr.languages: bad language %q", lang)
		}
	}
	if c.OCR.MaxPages <= 0 {
		return fmt.Errorf("ocr.max_pages must be > 0")
	}
	if c.Quality.MinCharsPerPage < 0 {
		return fmt.Errorf("quality.min_chars_per_page must be >= 0")
	}
	if c.Quality.MinPrintableRatio < 0 || c.Quality.MinPrintableRatio > 1 {
		return fmt.Errorf("quality.min_printable_ratio must be within 0..1")
	}
	return nil
}

// MaxInputBytes returns the input size limit in bytes.
func (c *Config) MaxInputBytes() int64 { return int64(c.MaxInputMB) * 1024 * 1024 }

func (c *Config) acquireBackoff() time.Duration {
	return time.Duration(c.AcquireRetryBackoffMS) * time.Millisecond
}

func (c *Config) renderConfig(logger *slog.Logger) render.Config {
	return render.Config{
		Binary:      c.Render.Binary,
		Slots:       c.Render.Slots,
		ProfileRoot: c.Render.ProfileRoot,
		Timeout:     time.Duration(c.Render.TimeoutSec) * time.Second,
		Logger:      logger,
	}
}

func (c *Config) rasterConfig(logger *slog.Logger) raster.Config {
	return raster.Config{
		Binary:  c.Raster.Binary,
		DPI:     c.Raster.DPI,
		Timeout: time.Duration(c.Raster.TimeoutSec) * time.Second,
		Logger:  logger,
	}
}

func (c *Config) ocrConfig(logger *slog.Logger) ocr.Config {
	return ocr.Config{
		Binary:    c.OCR.Binary,
		Languages: c.OCR.Languages,
		MaxPages:  c.OCR.MaxPages,
		Timeout:   time.Duration(c.OCR.TimeoutSec) * time.Second,
		Logger:    logger,
	}
}
