package model

import "math"

// BBox is an axis-aligned box in PDF points with a top-left origin.
type BBox struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

func (b BBox) Width() float64  { return b.X1 - b.X0 }
func (b BBox) Height() float64 { return b.Y1 - b.Y0 }

// Area returns 0 for inverted boxes.
func (b BBox) Area() float64 {
	if !b.Valid() {
		return 0
	}
	return b.Width() * b.Height()
}

// Valid reports whether the box has non-negative extent and finite corners.
func (b BBox) Valid() bool {
	for _, v := range []float64{b.X0, b.Y0, b.X1, b.Y1} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return b.X1 >= b.X0 && b.Y1 >= b.Y0
}

// IsZero reports whether the box is the zero value.
func (b BBox) IsZero() bool { return b == BBox{} }

// Union returns the smallest box covering both. A zero box is the identity.
func (b BBox) Union(o BBox) BBox {
	if b.IsZero() {
		return o
	}
	if o.IsZero() {
		return b
	}
	return BBox{
		X0: math.Min(b.X0, o.X0),
		Y0: math.Min(b.Y0, o.Y0),
		X1: math.Max(b.X1, o.X1),
		Y1: math.Max(b.Y1, o.Y1),
	}
}

// Intersect returns the overlap of two boxes and whether it is non-empty.
func (b BBox) Intersect(o BBox) (BBox, bool) {
	r := BBox{
		X0: math.Max(b.X0, o.X0),
		Y0: math.Max(b.Y0, o.Y0),
		X1: math.Min(b.X1, o.X1),
		Y1: math.Min(b.Y1, o.Y1),
	}
	if r.X1 <= r.X0 || r.Y1 <= r.Y0 {
		return BBox{}, false
	}
	return r, true
}

// Contains reports whether o lies inside b, allowing tol points of slack on every edge.
func (b BBox) Contains(o BBox, tol float64) bool {
	return o.X0 >= b.X0-tol && o.Y0 >= b.Y0-tol && o.X1 <= b.X1+tol && o.Y1 <= b.Y1+tol
}

// VerticalOverlap returns the length of the shared y interval.
func (b BBox) VerticalOverlap(o BBox) float64 {
	return math.Max(0, math.Min(b.Y1, o.Y1)-math.Max(b.Y0, o.Y0))
}

// HorizontalOverlap returns the length of the shared x interval.
func (b BBox) HorizontalOverlap(o BBox) float64 {
	return math.Max(0, math.Min(b.X1, o.X1)-math.Max(b.X0, o.X0))
}

// Array returns the box as [x0, y0, x1, y1].
func (b BBox) Array() [4]float64 { return [4]float64{b.X0, b.Y0, b.X1, b.Y1} }

// PageBox is a box tied to a page.
type PageBox struct {
	Page int
	BBox BBox
}
