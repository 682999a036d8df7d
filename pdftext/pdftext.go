// Package pdftext extracts native text from PDFs and scores how usable the
// extraction is. It is the cheap first pass of the text stage: when a PDF
// carries a real text layer the pipeline is done without ever waking the
// OCR engine, and when it does not (scanned paper, exported slides with
// outlined fonts) the quality score says so deterministically.
package pdftext

import (
	"fmt"
	"io"
	"os"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// PageText is the native text of one page. Page numbers are 1-indexed;
// pages with no text layer are present with an empty Text.
type PageText struct {
	Page int
	Text string
}

// Result is a whole-document extraction.
type Result struct {
	Pages   []PageText
	Quality Quality
}

// Text joins all page text with blank lines between pages.
func (r *Result) Text() string {
	var out []byte
	for _, p := range r.Pages {
		if p.Text == "" {
			continue
		}
		if len(out) > 0 {
			out = append(out, '\n', '\n')
		}
		out = append(out, p.Text...)
	}
	return string(out)
}

// Extract reads the PDF at path and returns per-page native text plus
// quality metrics. A structurally unreadable PDF is an error; a readable
// PDF with no text layer is not, that being what the quality score is for.
func Extract(path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("pdftext: open: %w", err)
	}
	defer f.Close()

	conf := model.NewDefaultConfiguration()
	ctx, err := api.ReadValidateAndOptimize(f, conf)
	if err != nil {
		return nil, fmt.Errorf("pdftext: read %s: %w", path, err)
	}

	res := &Result{}
	totalChars := 0
	var allText []byte

	for pageNr := 1; pageNr <= ctx.PageCount; pageNr++ {
		text := pageText(ctx, pageNr)
		totalChars += len([]rune(text))
		res.Pages = append(res.Pages, PageText{Page: pageNr, Text: text})
		if text != "" {
			if len(allText) > 0 {
				allText = append(allText, '\n')
			}
			allText = append(allText, text...)
		}
	}

	full := string(allText)
	q := Quality{
		Pages:           ctx.PageCount,
		Chars:           totalChars,
		PrintableRatio:  printableRatio(full),
		WordlikeRatio:   wordlikeRatio(full),
		HasImageStreams: hasImageXObjects(ctx),
	}
	if ctx.PageCount > 0 {
		q.CharsPerPage = float64(totalChars) / float64(ctx.PageCount)
	}
	res.Quality = q
	return res, nil
}

func pageText(ctx *model.Context, pageNr int) string {
	r, err := pdfcpu.ExtractPageContent(ctx, pageNr)
	if err != nil {
		return ""
	}
	data, err := io.ReadAll(r)
	if err != nil || len(data) == 0 {
		return ""
	}
	return textFromContent(data)
}

// hasImageXObjects reports whether any page draws an image. Checked via the
// optimizer's per-page index first, then a raw xref scan for files the
// optimizer did not annotate.
func hasImageXObjects(ctx *model.Context) bool {
	if ctx.Optimize != nil {
		for pageNr := 1; pageNr <= ctx.PageCount; pageNr++ {
			if len(pdfcpu.ImageObjNrs(ctx, pageNr)) > 0 {
				return true
			}
		}
	}
	for _, entry := range ctx.Table {
		if entry == nil || entry.Free || entry.Compressed {
			continue
		}
		sd, ok := entry.Object.(types.StreamDict)
		if !ok {
			continue
		}
		if subtype, found := sd.Find("Subtype"); found {
			if name, isName := subtype.(types.Name); isName && name == "Image" {
				return true
			}
		}
	}
	return false
}
