// Package testdoc builds tiny but structurally valid documents for tests:
// single-object-stream PDFs with a real text layer, image-only PDFs that
// look like scans, and small PNGs. Everything is generated in memory so
// tests never depend on binary fixtures.
package testdoc

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
)

// TextPDF returns a PDF with one page per element of pages; each page shows
// its lines through the standard text operators, so native extraction finds
// them.
func TextPDF(pages [][]string) []byte {
	if len(pages) == 0 {
		pages = [][]string{{"placeholder"}}
	}

	b := newPDFBuilder()

	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 4+2*i)
	}

	b.object(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.object(2, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", join(kids), len(pages)))
	b.object(3, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")

	for i, lines := range pages {
		pageObj := 4 + 2*i
		contentObj := pageObj + 1
		b.object(pageObj, fmt.Sprintf(
			"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>",
			contentObj))

		var content bytes.Buffer
		content.WriteString("BT\n/F1 12 Tf\n12 TL\n72 720 Td\n")
		for _, line := range lines {
			fmt.Fprintf(&content, "(%s) Tj\nT*\n", escapeLiteral(line))
		}
		content.WriteString("ET")
		b.stream(contentObj, content.Bytes())
	}

	return b.finish()
}

// ImagePDF returns a PDF whose pages contain only a drawn image and no text
// layer, the shape of scanned paper.
func ImagePDF(numPages int) []byte {
	if numPages < 1 {
		numPages = 1
	}

	b := newPDFBuilder()

	kids := make([]string, numPages)
	for i := range kids {
		kids[i] = fmt.Sprintf("%d 0 R", 4+2*i)
	}

	b.object(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.object(2, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", join(kids), numPages))

	// A 2x2 8-bit grayscale image, stored raw.
	pixels := []byte{0x00, 0xff, 0xff, 0x00}
	b.rawStream(3,
		"<< /Type /XObject /Subtype /Image /Width 2 /Height 2 /ColorSpace /DeviceGray /BitsPerComponent 8 /Length 4 >>",
		pixels)

	content := []byte("q\n612 0 0 792 0 0 cm\n/Im0 Do\nQ")
	for i := 0; i < numPages; i++ {
		pageObj := 4 + 2*i
		contentObj := pageObj + 1
		b.object(pageObj, fmt.Sprintf(
			"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /XObject << /Im0 3 0 R >> >> /Contents %d 0 R >>",
			contentObj))
		b.stream(contentObj, content)
	}

	return b.finish()
}

// PNG returns an encoded RGBA PNG of the given size with a gradient fill.
func PNG(w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(37 * x), G: uint8(53 * y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// pdfBuilder accumulates numbered objects and writes a correct xref table.
type pdfBuilder struct {
	buf     bytes.Buffer
	offsets map[int]int
	maxObj  int
}

func newPDFBuilder() *pdfBuilder {
	b := &pdfBuilder{offsets: map[int]int{}}
	b.buf.WriteString("%PDF-1.4\n")
	return b
}

func (b *pdfBuilder) object(num int, body string) {
	b.mark(num)
	fmt.Fprintf(&b.buf, "%d 0 obj\n%s\nendobj\n", num, body)
}

func (b *pdfBuilder) stream(num int, data []byte) {
	b.mark(num)
	fmt.Fprintf(&b.buf, "%d 0 obj\n<< /Length %d >>\nstream\n", num, len(data))
	b.buf.Write(data)
	b.buf.WriteString("\nendstream\nendobj\n")
}

func (b *pdfBuilder) rawStream(num int, dict string, data []byte) {
	b.mark(num)
	fmt.Fprintf(&b.buf, "%d 0 obj\n%s\nstream\n", num, dict)
	b.buf.Write(data)
	b.buf.WriteString("\nendstream\nendobj\n")
}

func (b *pdfBuilder) mark(num int) {
	b.offsets[num] = b.buf.Len()
	if num > b.maxObj {
		b.maxObj = num
	}
}

func (b *pdfBuilder) finish() []byte {
	xrefStart := b.buf.Len()
	size := b.maxObj + 1
	fmt.Fprintf(&b.buf, "xref\n0 %d\n", size)
	b.buf.WriteString("0000000000 65535 f \n")
	for i := 1; i < size; i++ {
		fmt.Fprintf(&b.buf, "%010d 00000 n \n", b.offsets[i])
	}
	fmt.Fprintf(&b.buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", size, xrefStart)
	return b.buf.Bytes()
}

func escapeLiteral(s string) string {
	var out bytes.Buffer
	for _, r := range s {
		switch r {
		case '(', ')', '\\':
			out.WriteByte('\\')
			out.WriteRune(r)
		default:
			out.WriteRune(r)
		}
	}
	return out.String()
}

func join(parts []string) string {
	var out bytes.Buffer
	for i, p := range parts {
		if i > 0 {
			out.WriteByte(' ')
		}
		out.WriteString(p)
	}
	return out.String()
}
