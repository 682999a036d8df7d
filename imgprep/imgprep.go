// Package imgprep prepares raster images for OCR. Recognition engines do
// markedly better on clean grayscale input at a sane resolution, so every
// page image goes through the same normalization before it reaches the
// engine: decode whatever arrived (including TIFF, BMP and WebP), flatten
// to grayscale, cap the longest edge, and re-encode as PNG.
package imgprep

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	// Register decoders beyond the defaults; scanned pages arrive in all of
	// these.
	_ "golang.org/x/image/webp"
)

// Options tunes normalization.
type Options struct {
	// MaxDimension caps the longer image edge in pixels; 0 disables
	// downscaling. Scans beyond ~4500px only slow the engine down.
	MaxDimension int
	// Grayscale flattens color before recognition.
	Grayscale bool
}

// DefaultOptions are used by the OCR stage.
func DefaultOptions() Options {
	return Options{MaxDimension: 4500, Grayscale: true}
}

// Normalize reads srcPath, applies opts, and writes a PNG to dstPath.
func Normalize(srcPath, dstPath string, opts Options) error {
	img, err := imaging.Open(srcPath)
	if err != nil {
		return fmt.Errorf("imgprep: open %s: %w", srcPath, err)
	}

	img = apply(img, opts)

	if err := imaging.Save(img, dstPath); err != nil {
		return fmt.Errorf("imgprep: save %s: %w", dstPath, err)
	}
	return nil
}

func apply(img image.Image, opts Options) image.Image {
	if opts.Grayscale {
		img = imaging.Grayscale(img)
	}
	if opts.MaxDimension > 0 {
		b := img.Bounds()
		if b.Dx() > opts.MaxDimension || b.Dy() > opts.MaxDimension {
			img = imaging.Fit(img, opts.MaxDimension, opts.MaxDimension, imaging.Lanczos)
		}
	}
	return img
}
