package segment

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/local/questionextractor/internal/classify"
	"github.com/local/questionextractor/internal/model"
)

func blocksOf(texts ...string) []model.TextBlock {
	out := make([]model.TextBlock, len(texts))
	for i, t := range texts {
		out[i] = model.TextBlock{Text: t, Page: 1 + i/4, Order: i}
	}
	return out
}

func TestRuleSetMatch(t *testing.T) {
	rs := MustDefault()
	tests := []struct {
		text   string
		cells  bool
		rule   string
		marker string
		ok     bool
	}{
		{"1. Find x.", false, "numeric", "1.", true},
		{"12.", false, "numeric", "12.", true},
		{"1.5 is a number", false, "", "", false},
		{"Question 3 Describe", false, "question", "Question 3", true},
		{"QUESTION 4", false, "question", "QUESTION 4", true},
		{"Practice Example 2", false, "practice", "Practice Example 2", true},
		{"see question 2", false, "", "", false},
		{"7", false, "", "", false},
		{"7", true, "cell", "7", true},
		{"Q7)", true, "cell", "Q7", true},
		{"Q. 12:", true, "cell", "Q. 12", true},
		{"7 apples", true, "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			m, ok := rs.Match(tt.text, tt.cells)
			if ok != tt.ok {
				t.Fatalf("expected match=%v, got %v (%+v)", tt.ok, ok, m)
			}
			if m.Rule != tt.rule || m.Marker != tt.marker {
				t.Errorf("expected %s/%q, got %s/%q", tt.rule, tt.marker, m.Rule, m.Marker)
			}
		})
	}
}

func TestNewRuleSetErrors(t *testing.T) {
	if _, err := NewRuleSet(nil); err == nil {
		t.Errorf("expected error for empty table")
	}
	if _, err := NewRuleSet([]Rule{{Name: "bad", Pattern: `^(\d+`}}); err == nil {
		t.Errorf("expected compile error")
	}
	if _, err := NewRuleSet([]Rule{{Name: "nogroup", Pattern: `^\d+\.`}}); err == nil {
		t.Errorf("expected missing group error")
	}
}

func TestPriorityOrder(t *testing.T) {
	rs, err := NewRuleSet([]Rule{
		{Name: "late", Priority: 50, Pattern: `^(?P<marker>\d+)`},
		{Name: "early", Priority: 5, Pattern: `^(?P<marker>\d+\.)`},
	})
	if err != nil {
		t.Fatal(err)
	}
	m, _ := rs.Match("3. x", false)
	if m.Rule != "early" {
		t.Errorf("expected early rule to win, got %s", m.Rule)
	}
	if got := rs.Rules()[0].Name; got != "early" {
		t.Errorf("expected rules sorted by priority, got %s first", got)
	}
}

func TestTextSegmenterSpansAndGap(t *testing.T) {
	blocks := blocksOf(
		"Answer all questions.",
		"1. Find x.",
		"a. first part",
		"2. Describe y.",
		"continued text",
		"3",
		"Question 4",
	)
	res := ForStrategy(classify.TextDominant, nil).Segment(blocks)
	if res.Status != model.StatusOK {
		t.Fatalf("unexpected status %s", res.Status)
	}
	seg := res.Value

	var markers []string
	seen := map[int]int{}
	for _, s := range seg.Spans {
		markers = append(markers, s.Marker)
		for _, b := range s.Blocks {
			seen[b.Order]++
		}
	}
	for _, b := range seg.Gap {
		seen[b.Order]++
	}
	if diff := cmp.Diff([]string{"1.", "2.", "Question 4"}, markers); diff != "" {
		t.Errorf("markers mismatch (-want +got):\n%s", diff)
	}
	for _, b := range blocks {
		if seen[b.Order] != 1 {
			t.Errorf("block %d (%q) claimed %d times", b.Order, b.Text, seen[b.Order])
		}
	}
	if len(seg.Gap) != 1 || seg.Gap[0].Text != "Answer all questions." {
		t.Errorf("unexpected gap %+v", seg.Gap)
	}

	second := seg.Spans[1]
	if len(second.Blocks) != 3 || second.FirstPage != 1 || second.LastPage != 2 {
		t.Errorf("unexpected second span %+v", second)
	}
	body, _ := seg.Spans[0].Body()
	if body != "Find x.\na. first part" {
		t.Errorf("unexpected body %q", body)
	}
}

func TestTableSegmenterUsesCells(t *testing.T) {
	blocks := blocksOf("Q1", "Describe photosynthesis.", "2", "Explain osmosis.")
	seg := ForStrategy(classify.TableDominant, nil).Segment(blocks).Value
	if len(seg.Spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(seg.Spans))
	}
	body, _ := seg.Spans[1].Body()
	if seg.Spans[1].Marker != "2" || body != "\nExplain osmosis." {
		t.Errorf("unexpected span %q body %q", seg.Spans[1].Marker, body)
	}
}

func TestSegmentEmpty(t *testing.T) {
	res := TextSegmenter{Rules: MustDefault()}.Segment(blocksOf("no markers here"))
	if res.Status != model.StatusWarning || res.Issues[0].Kind != model.SegmentationEmpty {
		t.Fatalf("expected segmentation_empty warning, got %+v", res)
	}
	if len(res.Value.Gap) != 1 {
		t.Errorf("expected block to stay in the gap")
	}
}
