package geometry

import (
	"strings"

	tmodel "github.com/tsawler/tabula/model"
	"github.com/tsawler/tabula/tables"
	"github.com/tsawler/tabula/text"

	"github.com/local/questionextractor/internal/model"
)

// TableDetector finds tabular regions from positioned text fragments.
type TableDetector struct {
	detector *tables.GeometricDetector
}

// NewTableDetector wraps the geometric detector with its default configuration.
func NewTableDetector() *TableDetector {
	return &TableDetector{detector: tables.NewGeometricDetector()}
}

// DetectedTable is a table region together with its non-empty cells.
type DetectedTable struct {
	BBox  model.BBox
	Cells []model.TextBlock
}

// Detect runs table detection on one page. Boxes are returned in top-left space.
func (td *TableDetector) Detect(page model.PageInfo, fragments []text.TextFragment) ([]DetectedTable, error) {
	if len(fragments) == 0 {
		return nil, nil
	}
	tp := tmodel.NewPage(page.Width, page.Height)
	tp.Number = page.Number
	for _, f := range fragments {
		tp.RawText = append(tp.RawText, tmodel.TextFragment{
			Text:     f.Text,
			BBox:     tmodel.BBox{X: f.X, Y: f.Y, Width: f.Width, Height: f.Height},
			FontSize: f.FontSize,
			FontName: f.FontName,
		})
	}
	found, err := td.detector.Detect(tp)
	if err != nil {
		return nil, err
	}
	out := make([]DetectedTable, 0, len(found))
	for _, t := range found {
		dt := DetectedTable{BBox: flip(t.BBox, page.Height)}
		for _, row := range t.Rows {
			for _, cell := range row {
				txt := strings.TrimSpace(cell.Text)
				if txt == "" {
					continue
				}
				dt.Cells = append(dt.Cells, model.TextBlock{
					Text: txt,
					BBox: flip(cell.BBox, page.Height),
					Page: page.Number,
				})
			}
		}
		out = append(out, dt)
	}
	return out, nil
}

// flip converts a bottom-left PDF box into the top-left space used everywhere else.
func flip(b tmodel.BBox, pageHeight float64) model.BBox {
	return model.BBox{
		X0: b.X,
		Y0: pageHeight - (b.Y + b.Height),
		X1: b.X + b.Width,
		Y1: pageHeight - b.Y,
	}
}
