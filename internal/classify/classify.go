// Package classify decides whether a document is laid out as running text or
// as a grid of table cells.
package classify

import (
	"sort"

	"github.com/local/questionextractor/internal/model"
)

// DefaultThreshold is the table density above which a document is treated as
// table-dominant.
const DefaultThreshold = 0.5

// Strategy selects the segmentation approach.
type Strategy string

const (
	TextDominant  Strategy = "text"
	TableDominant Strategy = "table"
)

// Decision is the classifier output.
type Decision struct {
	Strategy     Strategy
	TableDensity float64
}

// Classify computes the share of page area covered by table regions and picks
// a strategy. Overlapping table regions are counted once.
func Classify(pages []model.PageInfo, blocks []model.TextBlock, regions []model.AssetRegion, threshold float64) model.Result[Decision] {
	if len(blocks) == 0 {
		return model.Fatal[Decision](model.ClassificationFailure, "document has no text blocks")
	}
	var total float64
	byPage := make(map[int]model.PageInfo, len(pages))
	for _, p := range pages {
		total += p.Area()
		byPage[p.Number] = p
	}
	if total <= 0 {
		return model.Fatal[Decision](model.ClassificationFailure, "document has no page geometry")
	}

	tables := map[int][]model.BBox{}
	for _, r := range regions {
		if r.Kind != model.AssetTable {
			continue
		}
		p, ok := byPage[r.Page]
		if !ok {
			continue
		}
		clipped, ok := r.BBox.Intersect(model.BBox{X1: p.Width, Y1: p.Height})
		if !ok {
			continue
		}
		tables[r.Page] = append(tables[r.Page], clipped)
	}
	var covered float64
	for _, boxes := range tables {
		covered += unionArea(boxes)
	}

	d := Decision{Strategy: TextDominant, TableDensity: covered / total}
	if d.TableDensity > threshold {
		d.Strategy = TableDominant
	}
	return model.OK(d)
}

// unionArea computes the area covered by boxes using coordinate compression.
func unionArea(boxes []model.BBox) float64 {
	if len(boxes) == 0 {
		return 0
	}
	xs := make([]float64, 0, 2*len(boxes))
	ys := make([]float64, 0, 2*len(boxes))
	for _, b := range boxes {
		xs = append(xs, b.X0, b.X1)
		ys = append(ys, b.Y0, b.Y1)
	}
	xs = dedupe(xs)
	ys = dedupe(ys)

	var area float64
	for i := 0; i+1 < len(xs); i++ {
		for j := 0; j+1 < len(ys); j++ {
			cell := model.BBox{X0: xs[i], Y0: ys[j], X1: xs[i+1], Y1: ys[j+1]}
			for _, b := range boxes {
				if b.Contains(cell, 0) {
					area += cell.Area()
					break
				}
			}
		}
	}
	return area
}

func dedupe(v []float64) []float64 {
	sort.Float64s(v)
	out := v[:0]
	for _, x := range v {
		if len(out) == 0 || x != out[len(out)-1] {
			out = append(out, x)
		}
	}
	return out
}
