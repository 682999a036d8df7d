// Package docclass determines what kind of document a byte payload is and
// which pipeline stages it needs. Detection trusts file signatures, not the
// declared filename: extensions lie, and a mislabeled upload must still
// land in the right converter. The declared name is consulted only to
// disambiguate inside an already-proven container family (legacy OLE2
// files whose directory cannot be read).
package docclass

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/richardlehane/mscfb"
)

// Family is the coarse document class driving stage selection.
type Family string

const (
	FamilyOfficeDocument Family = "office-document"
	FamilyPresentation   Family = "presentation"
	FamilySpreadsheet    Family = "spreadsheet"
	FamilyPDF            Family = "pdf"
	FamilyImage          Family = "image"
	FamilyUnknown        Family = "unknown"
)

// Classification is the sniffing outcome.
type Classification struct {
	Family Family
	// Container is the byte-level envelope: "pdf", "zip", "ole2", "image".
	Container string
	// Detail is the concrete format inside the container ("docx", "odt",
	// "xls", "jpeg", ...). Best effort; may be empty.
	Detail string
}

// UnsupportedFormatError reports input no converter can handle. It is
// fatal: classification is deterministic, so retrying cannot help.
type UnsupportedFormatError struct {
	DeclaredName string
	Sniffed      string
}

func (e *UnsupportedFormatError) Error() string {
	if e.Sniffed != "" {
		return fmt.Sprintf("docclass: unsupported format (declared %q, looks like %s)", e.DeclaredName, e.Sniffed)
	}
	return fmt.Sprintf("docclass: unsupported format (declared %q)", e.DeclaredName)
}

var (
	magicPDF  = []byte("%PDF-")
	magicZIP  = []byte("PK\x03\x04")
	magicOLE2 = []byte{0xd0, 0xcf, 0x11, 0xe0, 0xa1, 0xb1, 0x1a, 0xe1}
	magicPNG  = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}
	magicJPEG = []byte{0xff, 0xd8, 0xff}
	magicGIF  = []byte("GIF8")
	magicBMP  = []byte("BM")
	magicTIFI = []byte("II*\x00")
	magicTIFM = []byte("MM\x00*")
	magicRIFF = []byte("RIFF")
)

// Classify inspects data and returns its family. The error, when non-nil,
// is always an *UnsupportedFormatError. Pure: no filesystem, no processes.
func Classify(data []byte, declaredName string) (Classification, error) {
	switch {
	case bytes.HasPrefix(data, magicPDF):
		return Classification{Family: FamilyPDF, Container: "pdf", Detail: "pdf"}, nil

	case bytes.HasPrefix(data, magicZIP):
		return classifyZip(data, declaredName)

	case bytes.HasPrefix(data, magicOLE2):
		return classifyOLE2(data, declaredName)

	case bytes.HasPrefix(data, magicPNG):
		return Classification{Family: FamilyImage, Container: "image", Detail: "png"}, nil
	case bytes.HasPrefix(data, magicJPEG):
		return Classification{Family: FamilyImage, Container: "image", Detail: "jpeg"}, nil
	case bytes.HasPrefix(data, magicGIF):
		return Classification{Family: FamilyImage, Container: "image", Detail: "gif"}, nil
	case bytes.HasPrefix(data, magicTIFI), bytes.HasPrefix(data, magicTIFM):
		return Classification{Family: FamilyImage, Container: "image", Detail: "tiff"}, nil
	case bytes.HasPrefix(data, magicBMP):
		return Classification{Family: FamilyImage, Container: "image", Detail: "bmp"}, nil
	case bytes.HasPrefix(data, magicRIFF) && len(data) >= 12 && bytes.Equal(data[8:12], []byte("WEBP")):
		return Classification{Family: FamilyImage, Container: "image", Detail: "webp"}, nil
	}

	return Classification{Family: FamilyUnknown}, &UnsupportedFormatError{DeclaredName: declaredName}
}

// classifyZip distinguishes OOXML and OpenDocument payloads from arbitrary
// archives by their internal structure.
func classifyZip(data []byte, declaredName string) (Classification, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Classification{Family: FamilyUnknown},
			&UnsupportedFormatError{DeclaredName: declaredName, Sniffed: "corrupt zip"}
	}

	var hasContentTypes bool
	for _, f := range zr.File {
		switch {
		case f.Name == "mimetype":
			if cls, ok := classifyODF(f); ok {
				return cls, nil
			}
		case f.Name == "[Content_Types].xml":
			hasContentTypes = true
		case strings.HasPrefix(f.Name, "word/"):
			return Classification{Family: FamilyOfficeDocument, Container: "zip", Detail: "docx"}, nil
		case strings.HasPrefix(f.Name, "ppt/"):
			return Classification{Family: FamilyPresentation, Container: "zip", Detail: "pptx"}, nil
		case strings.HasPrefix(f.Name, "xl/"):
			return Classification{Family: FamilySpreadsheet, Container: "zip", Detail: "xlsx"}, nil
		}
	}

	sniffed := "zip archive"
	if hasContentTypes {
		sniffed = "ooxml without document part"
	}
	return Classification{Family: FamilyUnknown},
		&UnsupportedFormatError{DeclaredName: declaredName, Sniffed: sniffed}
}

// classifyODF reads the OpenDocument mimetype entry. The entry is stored
// uncompressed by convention but the zip reader handles either.
func classifyODF(f *zip.File) (Classification, bool) {
	rc, err := f.Open()
	if err != nil {
		return Classification{}, false
	}
	defer rc.Close()
	mime, err := io.ReadAll(io.LimitReader(rc, 128))
	if err != nil {
		return Classification{}, false
	}
	switch strings.TrimSpace(string(mime)) {
	case "application/vnd.oasis.opendocument.text":
		return Classification{Family: FamilyOfficeDocument, Container: "zip", Detail: "odt"}, true
	case "application/vnd.oasis.opendocument.presentation":
		return Classification{Family: FamilyPresentation, Container: "zip", Detail: "odp"}, true
	case "application/vnd.oasis.opendocument.spreadsheet":
		return Classification{Family: FamilySpreadsheet, Container: "zip", Detail: "ods"}, true
	}
	return Classification{}, false
}

// classifyOLE2 reads the compound-file directory and recognizes the legacy
// Office formats by their well-known stream names. When the directory is
// unreadable the declared extension breaks the tie; at this point the
// bytes are proven to be an OLE2 office container, so the extension is
// only picking among siblings.
func classifyOLE2(data []byte, declaredName string) (Classification, error) {
	if r, err := mscfb.New(bytes.NewReader(data)); err == nil {
		for entry, err := r.Next(); err == nil; entry, err = r.Next() {
			switch entry.Name {
			case "WordDocument":
				return Classification{Family: FamilyOfficeDocument, Container: "ole2", Detail: "doc"}, nil
			case "PowerPoint Document":
				return Classification{Family: FamilyPresentation, Container: "ole2", Detail: "ppt"}, nil
			case "Workbook", "Book":
				return Classification{Family: FamilySpreadsheet, Container: "ole2", Detail: "xls"}, nil
			}
		}
	}

	switch strings.ToLower(filepath.Ext(declaredName)) {
	case ".doc", ".dot", ".rtf":
		return Classification{Family: FamilyOfficeDocument, Container: "ole2", Detail: "doc"}, nil
	case ".ppt", ".pot", ".pps":
		return Classification{Family: FamilyPresentation, Container: "ole2", Detail: "ppt"}, nil
	case ".xls", ".xlt":
		return Classification{Family: FamilySpreadsheet, Container: "ole2", Detail: "xls"}, nil
	}

	return Classification{Family: FamilyUnknown},
		&UnsupportedFormatError{DeclaredName: declaredName, Sniffed: "ole2 container"}
}
