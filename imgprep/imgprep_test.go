package imgprep

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func writeTestPNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 200, A: 255})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
}

func decode(t *testing.T, path string) image.Image {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return img
}

func TestNormalizeGrayscale(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in.png")
	dst := filepath.Join(dir, "out.png")
	writeTestPNG(t, src, 120, 80)

	if err := Normalize(src, dst, Options{Grayscale: true}); err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	img := decode(t, dst)
	if img.Bounds().Dx() != 120 || img.Bounds().Dy() != 80 {
		t.Errorf("dimensions changed: %v", img.Bounds())
	}
	r, g, b, _ := img.At(60, 40).RGBA()
	if r != g || g != b {
		t.Errorf("pixel not gray: r=%d g=%d b=%d", r, g, b)
	}
}

func TestNormalizeDownscale(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in.png")
	dst := filepath.Join(dir, "out.png")
	writeTestPNG(t, src, 400, 200)

	if err := Normalize(src, dst, Options{MaxDimension: 100}); err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	img := decode(t, dst)
	if img.Bounds().Dx() > 100 || img.Bounds().Dy() > 100 {
		t.Errorf("not downscaled: %v", img.Bounds())
	}
	// Aspect ratio is preserved by Fit.
	if img.Bounds().Dx() != 100 || img.Bounds().Dy() != 50 {
		t.Errorf("unexpected fit: %v", img.Bounds())
	}
}

func TestNormalizeSmallImageUntouched(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in.png")
	dst := filepath.Join(dir, "out.png")
	writeTestPNG(t, src, 50, 30)

	if err := Normalize(src, dst, Options{MaxDimension: 100}); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	img := decode(t, dst)
	if img.Bounds().Dx() != 50 || img.Bounds().Dy() != 30 {
		t.Errorf("small image resized: %v", img.Bounds())
	}
}

func TestNormalizeMissingInput(t *testing.T) {
	dir := t.TempDir()
	err := Normalize(filepath.Join(dir, "nope.png"), filepath.Join(dir, "out.png"), DefaultOptions())
	if err == nil {
		t.Fatal("expected error for missing input")
	}
}
