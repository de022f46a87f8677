package geometry

import (
	"image"
	"image/color"
	"sort"

	"github.com/local/questionextractor/internal/model"
)

const (
	// AnalysisDPI is the render resolution used for graphics detection.
	AnalysisDPI = 150.0

	// MinGraphicsSizeCM is the smallest side, in cm, of a kept graphic.
	MinGraphicsSizeCM = 1.5

	// BinaryThreshold separates content from background (0-255, higher keeps more).
	BinaryThreshold = 200

	// MinComponentPixels filters specks.
	MinComponentPixels = 100

	// mergeGapPt joins components closer than this, in points.
	mergeGapPt = 8.0

	// textCoverLimit drops candidates whose area is mostly text lines.
	textCoverLimit = 0.5
)

// Component is a connected group of dark pixels.
type Component struct {
	MinX       int
	MinY       int
	MaxX       int
	MaxY       int
	Width      int
	Height     int
	PixelCount int
}

// GraphicsDetector finds picture regions on a rendered page.
type GraphicsDetector struct {
	DPI       float64
	MinSizeCM float64
}

// NewGraphicsDetector returns a detector with the default analysis settings.
func NewGraphicsDetector() *GraphicsDetector {
	return &GraphicsDetector{DPI: AnalysisDPI, MinSizeCM: MinGraphicsSizeCM}
}

// Detect returns graphic boxes in page points. Text line boxes and table
// regions on the same page are used to discard glyph clusters and grids.
func (gd *GraphicsDetector) Detect(img image.Image, text []model.BBox, tables []model.BBox) []model.BBox {
	binary := applyThreshold(toGrayscale(img), BinaryThreshold)
	components := findConnectedComponents(binary, MinComponentPixels)

	ptPerPixel := 72.0 / gd.DPI
	cmPerPixel := 2.54 / gd.DPI

	var boxes []model.BBox
	for _, c := range components {
		boxes = append(boxes, model.BBox{
			X0: float64(c.MinX) * ptPerPixel,
			Y0: float64(c.MinY) * ptPerPixel,
			X1: float64(c.MaxX+1) * ptPerPixel,
			Y1: float64(c.MaxY+1) * ptPerPixel,
		})
	}
	boxes = mergeNear(boxes, mergeGapPt)

	minPt := gd.MinSizeCM / cmPerPixel * ptPerPixel
	var out []model.BBox
	for _, b := range boxes {
		if b.Width() < minPt || b.Height() < minPt {
			continue
		}
		if insideAny(b, tables) || coveredByText(b, text) > textCoverLimit {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Y0 != out[j].Y0 {
			return out[i].Y0 < out[j].Y0
		}
		return out[i].X0 < out[j].X0
	})
	return out
}

func toGrayscale(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	bounds := img.Bounds()
	gray := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			gray.Set(x, y, color.GrayModel.Convert(img.At(x, y)))
		}
	}
	return gray
}

// applyThreshold maps dark pixels to 0 and everything else to 255.
func applyThreshold(img *image.Gray, threshold uint8) *image.Gray {
	bounds := img.Bounds()
	binary := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			if img.GrayAt(x, y).Y < threshold {
				binary.SetGray(x, y, color.Gray{Y: 0})
			} else {
				binary.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return binary
}

func findConnectedComponents(img *image.Gray, minPixels int) []Component {
	bounds := img.Bounds()
	visited := make([][]bool, bounds.Dy())
	for i := range visited {
		visited[i] = make([]bool, bounds.Dx())
	}

	var components []Component
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			if visited[y-bounds.Min.Y][x-bounds.Min.X] || img.GrayAt(x, y).Y == 255 {
				continue
			}
			comp := floodFill(img, visited, x, y, bounds)
			if comp.PixelCount >= minPixels {
				components = append(components, comp)
			}
		}
	}
	return components
}

// floodFill is iterative so large drawings cannot exhaust the stack.
func floodFill(img *image.Gray, visited [][]bool, startX, startY int, bounds image.Rectangle) Component {
	comp := Component{MinX: startX, MinY: startY, MaxX: startX, MaxY: startY}
	stack := []image.Point{{X: startX, Y: startY}}

	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		x, y := p.X, p.Y

		if x < bounds.Min.X || x >= bounds.Max.X || y < bounds.Min.Y || y >= bounds.Max.Y {
			continue
		}
		if visited[y-bounds.Min.Y][x-bounds.Min.X] || img.GrayAt(x, y).Y == 255 {
			continue
		}
		visited[y-bounds.Min.Y][x-bounds.Min.X] = true
		comp.PixelCount++

		if x < comp.MinX {
			comp.MinX = x
		}
		if x > comp.MaxX {
			comp.MaxX = x
		}
		if y < comp.MinY {
			comp.MinY = y
		}
		if y > comp.MaxY {
			comp.MaxY = y
		}

		stack = append(stack,
			image.Point{X: x + 1, Y: y},
			image.Point{X: x - 1, Y: y},
			image.Point{X: x, Y: y + 1},
			image.Point{X: x, Y: y - 1},
		)
	}

	comp.Width = comp.MaxX - comp.MinX + 1
	comp.Height = comp.MaxY - comp.MinY + 1
	return comp
}

// mergeNear unions boxes whose gap is below gap points until nothing changes.
func mergeNear(boxes []model.BBox, gap float64) []model.BBox {
	merged := append([]model.BBox(nil), boxes...)
	for changed := true; changed; {
		changed = false
		for i := 0; i < len(merged) && !changed; i++ {
			grown := model.BBox{X0: merged[i].X0 - gap, Y0: merged[i].Y0 - gap, X1: merged[i].X1 + gap, Y1: merged[i].Y1 + gap}
			for j := i + 1; j < len(merged); j++ {
				if _, ok := grown.Intersect(merged[j]); ok {
					merged[i] = merged[i].Union(merged[j])
					merged = append(merged[:j], merged[j+1:]...)
					changed = true
					break
				}
			}
		}
	}
	return merged
}

func insideAny(b model.BBox, regions []model.BBox) bool {
	for _, r := range regions {
		if r.Contains(b, 2) {
			return true
		}
	}
	return false
}

// coveredByText returns the fraction of b covered by text line boxes.
func coveredByText(b model.BBox, lines []model.BBox) float64 {
	area := b.Area()
	if area == 0 {
		return 0
	}
	var covered float64
	for _, l := range lines {
		if in, ok := b.Intersect(l); ok {
			covered += in.Area()
		}
	}
	if covered > area {
		covered = area
	}
	return covered / area
}
