// Package geometry turns PDF pages into ordered text blocks and asset regions.
package geometry

import (
	"fmt"
	"sort"
	"strings"

	"github.com/local/questionextractor/internal/model"
)

// Index is the normalized geometry of one document.
type Index struct {
	Pages   []model.PageInfo
	Blocks  []model.TextBlock
	Regions []model.AssetRegion
}

// TotalPages returns the highest page number known to the index.
func (ix Index) TotalPages() int {
	n := 0
	for _, p := range ix.Pages {
		if p.Number > n {
			n = p.Number
		}
	}
	return n
}

// BuildIndex sorts blocks and regions into page and reading order and assigns
// reading order indexes and region ids. The result does not depend on the order
// of the input slices except as a final tie-break.
func BuildIndex(pages []model.PageInfo, blocks []model.TextBlock, regions []model.AssetRegion) Index {
	ix := Index{
		Pages:   append([]model.PageInfo(nil), pages...),
		Blocks:  make([]model.TextBlock, 0, len(blocks)),
		Regions: append([]model.AssetRegion(nil), regions...),
	}
	sort.SliceStable(ix.Pages, func(i, j int) bool { return ix.Pages[i].Number < ix.Pages[j].Number })

	for _, b := range blocks {
		if strings.TrimSpace(b.Text) == "" {
			continue
		}
		ix.Blocks = append(ix.Blocks, b)
	}
	sort.SliceStable(ix.Blocks, func(i, j int) bool {
		a, b := ix.Blocks[i], ix.Blocks[j]
		if a.Page != b.Page {
			return a.Page < b.Page
		}
		if a.BBox.Y0 != b.BBox.Y0 {
			return a.BBox.Y0 < b.BBox.Y0
		}
		return a.BBox.X0 < b.BBox.X0
	})
	for i := range ix.Blocks {
		ix.Blocks[i].Order = i
	}

	sort.SliceStable(ix.Regions, func(i, j int) bool {
		a, b := ix.Regions[i], ix.Regions[j]
		if a.Page != b.Page {
			return a.Page < b.Page
		}
		if a.BBox.Y0 != b.BBox.Y0 {
			return a.BBox.Y0 < b.BBox.Y0
		}
		if a.BBox.X0 != b.BBox.X0 {
			return a.BBox.X0 < b.BBox.X0
		}
		return a.Kind < b.Kind
	})
	counters := map[string]int{}
	for i := range ix.Regions {
		r := &ix.Regions[i]
		key := fmt.Sprintf("p%d-%s", r.Page, r.Kind)
		counters[key]++
		if r.ID == "" {
			r.ID = fmt.Sprintf("%s-%d", key, counters[key])
		}
	}
	return ix
}
