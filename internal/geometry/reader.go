package geometry

import (
	"context"
	"fmt"
	"image"
	"sync"

	fitz "github.com/gen2brain/go-fitz"
	"github.com/rs/zerolog"
	"github.com/tsawler/tabula"
	"github.com/tsawler/tabula/layout"
	"golang.org/x/sync/errgroup"

	"github.com/local/questionextractor/internal/model"
)

// Reader extracts the geometry index from a local PDF file.
type Reader struct {
	Workers        int
	DetectGraphics bool
	Cleaner        *LineCleaner
	Graphics       *GraphicsDetector
	Tables         *TableDetector
	Log            zerolog.Logger
}

// NewReader returns a reader with default detectors.
func NewReader(workers int, log zerolog.Logger) *Reader {
	if workers <= 0 {
		workers = 1
	}
	return &Reader{
		Workers:        workers,
		DetectGraphics: true,
		Cleaner:        NewLineCleaner(),
		Graphics:       NewGraphicsDetector(),
		Tables:         NewTableDetector(),
		Log:            log,
	}
}

type pageGeometry struct {
	info    model.PageInfo
	blocks  []model.TextBlock
	regions []model.AssetRegion
}

// Read opens path and builds an Index over every page. Pages are processed
// concurrently and each worker opens its own document handle. A page that
// cannot be read contributes no blocks; only a document that cannot be
// opened at all is an error.
func (r *Reader) Read(ctx context.Context, path string) (Index, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return Index{}, fmt.Errorf("open pdf: %w", err)
	}
	total := doc.NumPage()
	doc.Close()

	results := make([]pageGeometry, total)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.Workers)
	var mu sync.Mutex
	var warned int
	for i := 0; i < total; i++ {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			pg, warns, err := r.readPage(path, i)
			if err != nil {
				r.Log.Warn().Err(err).Str("path", path).Int("page", i+1).Msg("page unreadable; no blocks")
				pg = pageGeometry{info: model.PageInfo{Number: i + 1}}
				warns++
			}
			results[i] = pg
			if warns > 0 {
				mu.Lock()
				warned += warns
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Index{}, err
	}

	var pages []model.PageInfo
	var blocks []model.TextBlock
	var regions []model.AssetRegion
	for _, pg := range results {
		pages = append(pages, pg.info)
		blocks = append(blocks, pg.blocks...)
		regions = append(regions, pg.regions...)
	}
	ix := BuildIndex(pages, blocks, regions)
	r.Log.Debug().
		Str("path", path).
		Int("pages", total).
		Int("blocks", len(ix.Blocks)).
		Int("regions", len(ix.Regions)).
		Int("extract_warnings", warned).
		Msg("geometry index built")
	return ix, nil
}

func (r *Reader) readPage(path string, idx int) (pageGeometry, int, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return pageGeometry{}, 0, fmt.Errorf("open pdf: %w", err)
	}
	defer doc.Close()

	bound, err := doc.Bound(idx)
	if err != nil {
		return pageGeometry{}, 0, fmt.Errorf("bound: %w", err)
	}
	info := model.PageInfo{Number: idx + 1, Width: float64(bound.Dx()), Height: float64(bound.Dy())}

	frags, warns, err := tabula.Open(path).Pages(idx + 1).Fragments()
	if err != nil {
		return pageGeometry{}, 0, fmt.Errorf("fragments: %w", err)
	}

	lines := layout.NewLineDetector().Detect(frags, info.Width, info.Height)
	blocks := make([]model.TextBlock, 0, len(lines.Lines))
	for _, l := range lines.Lines {
		blocks = append(blocks, model.TextBlock{
			Text: l.Text,
			BBox: flip(l.BBox, info.Height),
			Page: info.Number,
		})
	}
	blocks = r.Cleaner.Clean(info, blocks)

	pg := pageGeometry{info: info}
	tables, err := r.Tables.Detect(info, frags)
	if err != nil {
		r.Log.Warn().Err(err).Int("page", info.Number).Msg("table detection failed")
		tables = nil
	}
	blocks = replaceTableLines(blocks, tables)
	var tableBoxes []model.BBox
	for _, t := range tables {
		tableBoxes = append(tableBoxes, t.BBox)
		pg.regions = append(pg.regions, model.AssetRegion{Kind: model.AssetTable, BBox: t.BBox, Page: info.Number})
	}

	if r.DetectGraphics {
		img, err := doc.ImageDPI(idx, r.Graphics.DPI)
		if err != nil {
			r.Log.Warn().Err(err).Int("page", info.Number).Msg("page render failed; skipping graphics")
		} else {
			for _, b := range r.detectGraphics(img, blocks, tableBoxes) {
				pg.regions = append(pg.regions, model.AssetRegion{Kind: model.AssetImage, BBox: b, Page: info.Number})
			}
		}
	}
	pg.blocks = blocks
	return pg, len(warns), nil
}

func (r *Reader) detectGraphics(img image.Image, blocks []model.TextBlock, tables []model.BBox) []model.BBox {
	text := make([]model.BBox, 0, len(blocks))
	for _, b := range blocks {
		text = append(text, b.BBox)
	}
	return r.Graphics.Detect(img, text, tables)
}

// replaceTableLines swaps line blocks whose centre falls inside a table for
// the table's cells, so each cell is segmented on its own.
func replaceTableLines(blocks []model.TextBlock, tables []DetectedTable) []model.TextBlock {
	if len(tables) == 0 {
		return blocks
	}
	out := blocks[:0:0]
	for _, b := range blocks {
		if tableIndex(b.BBox, tables) < 0 {
			out = append(out, b)
		}
	}
	for _, t := range tables {
		out = append(out, t.Cells...)
	}
	return out
}

func tableIndex(b model.BBox, tables []DetectedTable) int {
	cx := (b.X0 + b.X1) / 2
	cy := (b.Y0 + b.Y1) / 2
	for i, t := range tables {
		if cx >= t.BBox.X0 && cx <= t.BBox.X1 && cy >= t.BBox.Y0 && cy <= t.BBox.Y1 {
			return i
		}
	}
	return -1
}
