package model

import "strings"

// PageInfo describes one page of a source document.
type PageInfo struct {
	Number int
	Width  float64
	Height float64
}

// Area returns the page area in square points.
func (p PageInfo) Area() float64 {
	if p.Width <= 0 || p.Height <= 0 {
		return 0
	}
	return p.Width * p.Height
}

// TextBlock is one line or table cell of text. Order is the global reading order.
type TextBlock struct {
	Text  string
	BBox  BBox
	Page  int
	Order int
}

// AssetKind distinguishes pictures from tabular regions.
type AssetKind string

const (
	AssetImage AssetKind = "image"
	AssetTable AssetKind = "table"
)

// AssetRegion is a detected visual object on a page.
type AssetRegion struct {
	ID         string
	Kind       AssetKind
	BBox       BBox
	Page       int
	PayloadRef string
}

// RawSpan is the slice of blocks that belongs to one candidate question.
type RawSpan struct {
	Marker string
	Rule   string
	Blocks []TextBlock
	// BodyStart is the byte offset in Blocks[0].Text where the body begins.
	BodyStart int
	FirstPage int
	LastPage  int
}

// Body joins the span text after the marker. Offsets returns the byte range
// each block occupies in the body, so callers can map text back to geometry.
func (s RawSpan) Body() (string, [][2]int) {
	var sb strings.Builder
	offsets := make([][2]int, len(s.Blocks))
	for i, b := range s.Blocks {
		text := b.Text
		if i == 0 {
			if s.BodyStart > len(text) {
				text = ""
			} else {
				text = text[s.BodyStart:]
			}
		} else {
			sb.WriteByte('\n')
		}
		start := sb.Len()
		sb.WriteString(text)
		offsets[i] = [2]int{start, sb.Len()}
	}
	return sb.String(), offsets
}

// QuestionType is the coarse category of a question or sub-part.
type QuestionType string

const (
	TypeMCQ         QuestionType = "mcq"
	TypeMultiPart   QuestionType = "multi_part"
	TypeShortAnswer QuestionType = "short_answer"
	TypeMisc        QuestionType = "misc"
)

// MCQOption is one lettered choice.
type MCQOption struct {
	Label string `json:"label"`
	Text  string `json:"text"`
}

// Relationship records how an asset was linked.
type Relationship string

const (
	Contained Relationship = "contained"
	Nearest   Relationship = "nearest"
)

// AssetRef points into the document's region pool by index.
type AssetRef struct {
	Region       int
	ID           string
	Relationship Relationship
	// Distance is the gap in points from the node's top edge to the region
	// for nearest links. Zero for contained links.
	Distance float64
}

// QuestionNode is a question (Depth 0) or a sub-part.
type QuestionNode struct {
	Number   string
	Text     string
	Type     QuestionType
	Depth    int
	Family   string
	Children []*QuestionNode
	Options  []MCQOption
	Assets   []AssetRef
	Page     int

	// Envelopes holds one box per page the node touches, in page order.
	Envelopes []PageBox

	// Start and End delimit the node in its span body, marker included.
	Start int
	End   int
}

// MCQ reports whether the node carries a usable option list.
func (n *QuestionNode) MCQ() bool { return len(n.Options) >= 2 }

// Envelope returns the node's box on a page.
func (n *QuestionNode) Envelope(page int) (BBox, bool) {
	for _, e := range n.Envelopes {
		if e.Page == page {
			return e.BBox, true
		}
	}
	return BBox{}, false
}

// Walk visits the subtree in pre-order. Returning false skips a node's children.
func (n *QuestionNode) Walk(fn func(node *QuestionNode, parent *QuestionNode) bool) {
	var visit func(node, parent *QuestionNode)
	visit = func(node, parent *QuestionNode) {
		if !fn(node, parent) {
			return
		}
		for _, c := range node.Children {
			visit(c, node)
		}
	}
	visit(n, nil)
}
