package docclass

import (
	"fmt"

	"github.com/docmill/docmill/pipeline"
)

// stageProduces maps each stage to the artifact class it contributes.
var stageProduces = map[pipeline.StageKind]pipeline.OutputFormat{
	pipeline.StageConvert:     pipeline.OutputPDF,
	pipeline.StageRasterize:   pipeline.OutputImages,
	pipeline.StageExtractText: pipeline.OutputText,
	pipeline.StageOCR:         pipeline.OutputText,
}

// Plan returns the ordered stage list for a family, restricted to what the
// requested formats actually need. The canonical sequences are:
//
//	office-document/presentation/spreadsheet → convert-to-pdf, rasterize, extract-text
//	pdf                                      → rasterize, extract-text
//	image                                    → ocr (convert-to-pdf first when a PDF is requested)
//
// The list is cut after the last stage contributing a requested format;
// interior stages stay because later ones depend on their artifacts. An
// empty plan is valid: it means the input already is the only artifact
// asked for (a PDF in, PDF out job, say). When text is requested, OCR runs
// as a conditional successor of extract-text, so it is not part of the
// static plan for text-bearing families.
func Plan(family Family, formats []pipeline.OutputFormat) ([]pipeline.StageKind, error) {
	var canonical []pipeline.StageKind

	switch family {
	case FamilyOfficeDocument, FamilyPresentation, FamilySpreadsheet:
		canonical = []pipeline.StageKind{pipeline.StageConvert, pipeline.StageRasterize, pipeline.StageExtractText}
	case FamilyPDF:
		canonical = []pipeline.StageKind{pipeline.StageRasterize, pipeline.StageExtractText}
	case FamilyImage:
		canonical = []pipeline.StageKind{pipeline.StageOCR}
		if pipeline.HasFormat(formats, pipeline.OutputPDF) {
			canonical = []pipeline.StageKind{pipeline.StageConvert, pipeline.StageOCR}
		}
	default:
		return nil, fmt.Errorf("docclass: no plan for family %q", family)
	}

	last := -1
	for i, kind := range canonical {
		if pipeline.HasFormat(formats, stageProduces[kind]) {
			last = i
		}
	}
	return canonical[:last+1], nil
}
