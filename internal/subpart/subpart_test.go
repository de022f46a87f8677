package subpart

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/local/questionextractor/internal/model"
)

type shape struct {
	Number   string
	Text     string
	Depth    int
	Children []shape
}

func toShape(n *model.QuestionNode) shape {
	s := shape{Number: n.Number, Text: n.Text, Depth: n.Depth}
	for _, c := range n.Children {
		s.Children = append(s.Children, toShape(c))
	}
	return s
}

func span(marker string, bodyStart int, texts ...string) model.RawSpan {
	s := model.RawSpan{Marker: marker, Rule: "numeric", BodyStart: bodyStart, FirstPage: 1, LastPage: 1}
	for i, t := range texts {
		s.Blocks = append(s.Blocks, model.TextBlock{
			Text: t,
			Page: 1,
			BBox: model.BBox{X0: 50, Y0: float64(100 + 20*i), X1: 500, Y1: float64(112 + 20*i)},
		})
	}
	return s
}

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		span model.RawSpan
		want shape
	}{
		{
			name: "inline alpha parts",
			span: span("1.", 3, "1. Find x. a. first part b. second part"),
			want: shape{Number: "1.", Text: "Find x.", Children: []shape{
				{Number: "a.", Text: "first part", Depth: 1},
				{Number: "b.", Text: "second part", Depth: 1},
			}},
		},
		{
			name: "family alternation",
			span: span("1.", 3, "1. Solve", "a. part one", "(i) inner", "b. part two"),
			want: shape{Number: "1.", Text: "Solve", Children: []shape{
				{Number: "a.", Text: "part one", Depth: 1, Children: []shape{
					{Number: "(i)", Text: "inner", Depth: 2},
				}},
				{Number: "b.", Text: "part two", Depth: 1},
			}},
		},
		{
			name: "paren alpha with roman",
			span: span("2.", 3, "2. Consider", "(a) one (i) x (ii) y", "(b) two"),
			want: shape{Number: "2.", Text: "Consider", Children: []shape{
				{Number: "(a)", Text: "one", Depth: 1, Children: []shape{
					{Number: "(i)", Text: "x", Depth: 2},
					{Number: "(ii)", Text: "y", Depth: 2},
				}},
				{Number: "(b)", Text: "two", Depth: 1},
			}},
		},
		{
			name: "no markers",
			span: span("3.", 3, "3. Explain why", "the sky is blue."),
			want: shape{Number: "3.", Text: "Explain why\nthe sky is blue."},
		},
		{
			name: "marker must follow whitespace",
			span: span("4.", 3, "4. See data.a. and x(a) here"),
			want: shape{Number: "4.", Text: "See data.a. and x(a) here"},
		},
	}
	p := NewParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := p.Parse(tt.span)
			if res.Status != model.StatusOK {
				t.Fatalf("unexpected status %s: %v", res.Status, res.Issues)
			}
			if diff := cmp.Diff(tt.want, toShape(res.Value)); diff != "" {
				t.Errorf("tree mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseOutOfSequenceMarkers(t *testing.T) {
	tests := []struct {
		name   string
		span   model.RawSpan
		want   shape
		issues []model.Issue
	}{
		{
			name: "skipped label is text",
			span: span("5.", 3, "5. Go a. one c. skipped"),
			want: shape{Number: "5.", Text: "Go", Children: []shape{
				{Number: "a.", Text: "one c. skipped", Depth: 1},
			}},
			issues: []model.Issue{
				{Kind: model.HierarchyParseWarning, QuestionRef: "5.", Detail: `marker "c." out of sequence after "a."; kept as text`},
			},
		},
		{
			name: "skipped then restarted label",
			span: span("1.", 3, "1. Go", "a. one", "c. skipped b", "a. again"),
			want: shape{Number: "1.", Text: "Go", Children: []shape{
				{Number: "a.", Text: "one\nc. skipped b\na. again", Depth: 1},
			}},
			issues: []model.Issue{
				{Kind: model.HierarchyParseWarning, QuestionRef: "1.", Detail: `marker "c." out of sequence after "a."; kept as text`},
				{Kind: model.HierarchyParseWarning, QuestionRef: "1.", Detail: `marker "a." out of sequence after "a."; kept as text`},
			},
		},
		{
			name: "restart at every level",
			span: span("1.", 3, "1. Q a. x (a) y (i) z a. w (a) v (i) u"),
			want: shape{Number: "1.", Text: "Q", Children: []shape{
				{Number: "a.", Depth: 1, Text: "x", Children: []shape{
					{Number: "(a)", Depth: 2, Text: "y", Children: []shape{
						{Number: "(i)", Depth: 3, Text: "z a. w (a) v (i) u"},
					}},
				}},
			}},
			issues: []model.Issue{
				{Kind: model.HierarchyParseWarning, QuestionRef: "1.", Detail: `marker "a." out of sequence after "a."; kept as text`},
				{Kind: model.HierarchyParseWarning, QuestionRef: "1. a.", Detail: `marker "(a)" out of sequence after "(a)"; kept as text`},
				{Kind: model.HierarchyParseWarning, QuestionRef: "1. a. (a)", Detail: `marker "(i)" out of sequence after "(i)"; kept as text`},
			},
		},
	}
	p := NewParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := p.Parse(tt.span)
			if res.Status != model.StatusWarning {
				t.Fatalf("expected warning status, got %s", res.Status)
			}
			if diff := cmp.Diff(tt.issues, res.Issues); diff != "" {
				t.Errorf("issues mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.want, toShape(res.Value)); diff != "" {
				t.Errorf("tree mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseDepthCap(t *testing.T) {
	p := &Parser{Families: DefaultFamilies(), MaxDepth: 1}
	res := p.Parse(span("1.", 3, "1. Q", "a. part", "(i) deep", "b. other"))
	if res.Status != model.StatusWarning || res.Issues[0].Kind != model.HierarchyParseWarning {
		t.Fatalf("expected hierarchy warning, got %+v", res)
	}
	a := res.Value.Children[0]
	if a.Text != "part\n(i) deep" || len(a.Children) != 0 {
		t.Errorf("expected flattened text, got %q with %d children", a.Text, len(a.Children))
	}
	if res.Issues[0].QuestionRef != "1. a." {
		t.Errorf("unexpected ref %q", res.Issues[0].QuestionRef)
	}
}

func TestParseEnvelopes(t *testing.T) {
	s := span("1.", 3, "1. Solve", "a. part one", "more of a", "b. part two")
	s.Blocks[3].Page = 2
	s.Blocks[3].BBox = model.BBox{X0: 50, Y0: 40, X1: 300, Y1: 52}
	s.LastPage = 2

	root := NewParser().Parse(s).Value
	if len(root.Envelopes) != 2 {
		t.Fatalf("expected root on 2 pages, got %+v", root.Envelopes)
	}
	a := root.Children[0]
	want := []model.PageBox{{Page: 1, BBox: model.BBox{X0: 50, Y0: 120, X1: 500, Y1: 152}}}
	if diff := cmp.Diff(want, a.Envelopes); diff != "" {
		t.Errorf("a. envelope mismatch (-want +got):\n%s", diff)
	}
	b := root.Children[1]
	if b.Page != 2 {
		t.Errorf("expected b. on page 2, got %d", b.Page)
	}
	if env, ok := root.Envelope(1); !ok || !env.Contains(a.Envelopes[0].BBox, 0) {
		t.Errorf("root envelope should contain child envelope")
	}
}

func TestRomanOrdinal(t *testing.T) {
	for label, want := range map[string]int{"i": 1, "ii": 2, "iv": 4, "ix": 9, "xiv": 14, "iiii": 0, "vx": 0, "": 0} {
		if got := romanOrdinal(label); got != want {
			t.Errorf("romanOrdinal(%q): expected %d, got %d", label, want, got)
		}
	}
}
