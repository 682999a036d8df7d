// Package pdfops wraps the pdfcpu operations the toolchain needs for PDF
// manipulation: merging, trimming, rotation, optimization, password handling
// and building PDFs from page images. Everything runs in-process, no
// external binaries involved.
package pdfops

import (
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PageCount reports the number of pages in the PDF at path.
func PageCount(path string) (int, error) {
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("page count %s: %w", path, err)
	}
	return n, nil
}

// Merge concatenates the input PDFs into one output file, in order.
func Merge(inFiles []string, outFile string) error {
	if len(inFiles) < 2 {
		return fmt.Errorf("merge needs at least two inputs, got %d", len(inFiles))
	}
	if err := api.MergeCreateFile(inFiles, outFile, false, model.NewDefaultConfiguration()); err != nil {
		return fmt.Errorf("merge into %s: %w", outFile, err)
	}
	return nil
}

// Trim writes a new PDF containing only the selected pages. The selection
// uses pdfcpu syntax ("1,3,5-8", "even", "1-"), not ParsePages output.
func Trim(inFile, outFile, selection string) error {
	pages, err := api.ParsePageSelection(selection)
	if err != nil {
		return fmt.Errorf("page selection %q: %w", selection, err)
	}
	if err := api.TrimFile(inFile, outFile, pages, model.NewDefaultConfiguration()); err != nil {
		return fmt.Errorf("trim %s: %w", inFile, err)
	}
	return nil
}

// Rotate rotates the selected pages by rotation degrees (multiple of 90).
// An empty selection rotates every page.
func Rotate(inFile, outFile string, rotation int, selection string) error {
	var pages []string
	if selection != "" {
		var err error
		pages, err = api.ParsePageSelection(selection)
		if err != nil {
			return fmt.Errorf("page selection %q: %w", selection, err)
		}
	}
	if err := api.RotateFile(inFile, outFile, rotation, pages, model.NewDefaultConfiguration()); err != nil {
		return fmt.Errorf("rotate %s: %w", inFile, err)
	}
	return nil
}

// Optimize rewrites the PDF with duplicate and unused objects removed.
func Optimize(inFile, outFile string) error {
	if err := api.OptimizeFile(inFile, outFile, model.NewDefaultConfiguration()); err != nil {
		return fmt.Errorf("optimize %s: %w", inFile, err)
	}
	return nil
}

// Encrypt writes an AES-256 encrypted copy protected by the given passwords.
func Encrypt(inFile, outFile, userPW, ownerPW string) error {
	conf := model.NewDefaultConfiguration()
	conf.UserPW = userPW
	conf.OwnerPW = ownerPW
	if err := api.EncryptFile(inFile, outFile, conf); err != nil {
		return fmt.Errorf("encrypt %s: %w", inFile, err)
	}
	return nil
}

// Decrypt removes encryption using the given password.
func Decrypt(inFile, outFile, password string) error {
	conf := model.NewDefaultConfiguration()
	conf.UserPW = password
	conf.OwnerPW = password
	if err := api.DecryptFile(inFile, outFile, conf); err != nil {
		return fmt.Errorf("decrypt %s: %w", inFile, err)
	}
	return nil
}

// ImagesToPDF builds a PDF with one page per input image, in order.
// PNG, JPEG, TIFF and WebP inputs are supported.
func ImagesToPDF(imgFiles []string, outFile string) error {
	if len(imgFiles) == 0 {
		return fmt.Errorf("images to pdf: no input images")
	}
	imp := pdfcpu.DefaultImportConfig()
	if err := api.ImportImagesFile(imgFiles, outFile, imp, model.NewDefaultConfiguration()); err != nil {
		return fmt.Errorf("import %d images into %s: %w", len(imgFiles), outFile, err)
	}
	return nil
}
