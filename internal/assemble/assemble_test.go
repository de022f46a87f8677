package assemble

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/local/questionextractor/internal/classify"
	"github.com/local/questionextractor/internal/model"
)

func sampleInput() Input {
	q1 := &model.QuestionNode{Number: "1.", Text: "Find x.", Page: 1, Children: []*model.QuestionNode{
		{Number: "a.", Text: "first part", Page: 1, Depth: 1},
		{Number: "b.", Text: "Explain the second part", Page: 1, Depth: 1, Assets: []model.AssetRef{{Region: 0, ID: "p1-image-1", Relationship: model.Contained}}},
	}}
	q2 := &model.QuestionNode{Number: "Question 2", Text: "Pick a colour", Page: 2, Options: []model.MCQOption{
		{Label: "A", Text: "red"}, {Label: "B", Text: "blue"},
	}}
	q3 := &model.QuestionNode{Number: "3.", Text: "", Page: 2}
	q4 := &model.QuestionNode{Number: "4.", Text: "Let θ vary", Page: 3}
	return Input{
		PDFName:    "paper.pdf",
		PDFPath:    "/data/paper.pdf",
		TotalPages: 3,
		Decision:   classify.Decision{Strategy: classify.TextDominant, TableDensity: 0.1},
		Roots:      []*model.QuestionNode{q1, q2, q3, q4},
		Regions: []model.AssetRegion{
			{ID: "p1-image-1", Kind: model.AssetImage, Page: 1, BBox: model.BBox{X0: 10, Y0: 10, X1: 50, Y1: 50}},
			{ID: "p2-table-1", Kind: model.AssetTable, Page: 2, BBox: model.BBox{X0: 10, Y0: 10, X1: 50, Y1: 50}},
		},
		Descriptions: map[int]string{0: "a right triangle"},
		Issues:       []model.Issue{{Kind: model.AssetLinkOverflow, Detail: "table p2-table-1 on page 2 has no owner"}},
	}
}

func TestAssemble(t *testing.T) {
	res := Assemble(sampleInput())
	doc := res.Value
	if res.Status != model.StatusWarning {
		t.Fatalf("expected warning for the dropped question, got %s", res.Status)
	}

	var numbers, types []string
	for _, q := range doc.Questions {
		numbers = append(numbers, q.Number)
		types = append(types, q.Type)
	}
	if diff := cmp.Diff([]string{"1.", "Question 2", "4."}, numbers); diff != "" {
		t.Errorf("numbers mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"multi_part", "mcq", "misc"}, types); diff != "" {
		t.Errorf("types mismatch (-want +got):\n%s", diff)
	}

	wantStats := Stats{
		TotalQuestions:  3,
		MCQCount:        1,
		SubpartCount:    2,
		ImagesExtracted: 1,
		TablesExtracted: 1,
		ProcessingErrors: []ProcessingError{
			{Reason: "asset_link_overflow", Detail: "table p2-table-1 on page 2 has no owner"},
			{QuestionRef: "3.", Reason: "validation_failed", Detail: "no content"},
		},
	}
	if diff := cmp.Diff(wantStats, doc.Stats); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}

	b := doc.Questions[0].Subparts[1]
	if b.Type != "short_answer" || len(b.Assets) != 1 {
		t.Fatalf("unexpected sub-part %+v", b)
	}
	wantAsset := Asset{ID: "p1-image-1", Type: "image", BBox: [4]float64{10, 10, 50, 50}, Page: 1, Relationship: "contained", Description: "a right triangle"}
	if diff := cmp.Diff(wantAsset, b.Assets[0]); diff != "" {
		t.Errorf("asset mismatch (-want +got):\n%s", diff)
	}
	if got := doc.Questions[2].Latex; got != `Let \theta vary` {
		t.Errorf("expected latex rendering, got %q", got)
	}
	if doc.Metadata.DominanceType != "text-dominant" || doc.Metadata.ExtractionMethod != "TextSegmenter" {
		t.Errorf("unexpected metadata %+v", doc.Metadata)
	}
}

func TestAssembleIsDeterministic(t *testing.T) {
	a, err := Marshal(Assemble(sampleInput()).Value)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Marshal(Assemble(sampleInput()).Value)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Errorf("expected byte-identical output")
	}
	if strings.Contains(string(a), "timestamp") {
		t.Errorf("document must not carry timestamps")
	}
}

func TestValidationRules(t *testing.T) {
	tests := []struct {
		name string
		node *model.QuestionNode
		want string
	}{
		{"empty number", &model.QuestionNode{Text: "x", Page: 1}, "empty question number"},
		{"bad page", &model.QuestionNode{Number: "1.", Text: "x"}, "invalid page 0"},
		{"duplicate sibling", &model.QuestionNode{Number: "1.", Page: 1, Children: []*model.QuestionNode{
			{Number: "a.", Text: "x", Page: 1}, {Number: "a.", Text: "y", Page: 1},
		}}, "duplicate sub-part label a."},
		{"single option", &model.QuestionNode{Number: "1.", Text: "x", Page: 1, Options: []model.MCQOption{{Label: "A"}}}, "mcq flag inconsistent with 1 options"},
		{"unknown region", &model.QuestionNode{Number: "1.", Text: "x", Page: 1, Assets: []model.AssetRef{{Region: 5, ID: "r"}}}, "asset r references unknown region"},
		{"nested failure", &model.QuestionNode{Number: "1.", Page: 1, Children: []*model.QuestionNode{{Number: "a.", Text: "x"}}}, "a.: invalid page 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Assemble(Input{Roots: []*model.QuestionNode{tt.node}})
			errs := res.Value.Stats.ProcessingErrors
			if len(errs) != 1 || errs[0].Detail != tt.want {
				t.Errorf("expected %q, got %+v", tt.want, errs)
			}
			if len(res.Value.Questions) != 0 {
				t.Errorf("expected question to be dropped")
			}
		})
	}
}

func TestFailedDocument(t *testing.T) {
	doc := Failed(Input{PDFName: "empty.pdf"}, &model.StageError{Kind: model.ClassificationFailure, Detail: "document has no text blocks"})
	raw, err := Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		t.Fatal(err)
	}
	if generic["questions"] != nil || generic["status"] != "failed" {
		t.Errorf("unexpected failed document %s", raw)
	}
	errInfo, _ := generic["error"].(map[string]any)
	if errInfo["reason"] != "classification_failure" {
		t.Errorf("unexpected error %v", generic["error"])
	}
}

func TestAssembleKeepsSparseSubparts(t *testing.T) {
	root := &model.QuestionNode{Number: "1.", Text: "Look at the two graphs.", Page: 1, Children: []*model.QuestionNode{
		{Number: "a.", Page: 1, Depth: 1, Assets: []model.AssetRef{{Region: 0, ID: "p1-image-1", Relationship: model.Contained}}},
		{Number: "b.", Text: "Explain the difference.", Page: 1, Depth: 1},
		{Number: "c.", Page: 1, Depth: 1},
	}}
	in := Input{
		Roots: []*model.QuestionNode{root, {Number: "2.", Text: "Define force.", Page: 1}},
		Regions: []model.AssetRegion{
			{ID: "p1-image-1", Kind: model.AssetImage, Page: 1, BBox: model.BBox{X0: 60, Y0: 130, X1: 300, Y1: 260}},
		},
	}
	res := Assemble(in)
	doc := res.Value
	if len(doc.Questions) != 2 {
		t.Fatalf("expected both questions kept, got %d: %+v", len(doc.Questions), doc.Stats.ProcessingErrors)
	}
	a := doc.Questions[0].Subparts[0]
	if len(a.Assets) != 1 || a.Assets[0].ID != "p1-image-1" {
		t.Errorf("expected the figure under a., got %+v", a.Assets)
	}
	want := []ProcessingError{{QuestionRef: "1.", Reason: "hierarchy_parse_warning", Detail: "c.: empty sub-part"}}
	if diff := cmp.Diff(want, doc.Stats.ProcessingErrors); diff != "" {
		t.Errorf("processing errors mismatch (-want +got):\n%s", diff)
	}
	if res.Status != model.StatusWarning {
		t.Errorf("expected warning status, got %s", res.Status)
	}
	if doc.Stats.SubpartCount != 3 {
		t.Errorf("expected 3 sub-parts, got %d", doc.Stats.SubpartCount)
	}
}

func TestNearestLinkConfidence(t *testing.T) {
	tests := []struct {
		rel  model.Relationship
		dist float64
		want string
	}{
		{model.Contained, 0, ""},
		{model.Nearest, 0, "high"},
		{model.Nearest, 199.5, "high"},
		{model.Nearest, 200, "medium"},
		{model.Nearest, 399, "medium"},
		{model.Nearest, 400, "low"},
		{model.Nearest, 1e9, "low"},
	}
	for _, tt := range tests {
		root := &model.QuestionNode{Number: "1.", Text: "See the figure.", Page: 1, Assets: []model.AssetRef{
			{Region: 0, ID: "p1-image-1", Relationship: tt.rel, Distance: tt.dist},
		}}
		doc := Assemble(Input{
			Roots:   []*model.QuestionNode{root},
			Regions: []model.AssetRegion{{ID: "p1-image-1", Kind: model.AssetImage, Page: 1, BBox: model.BBox{X0: 10, Y0: 10, X1: 50, Y1: 50}}},
		}).Value
		if got := doc.Questions[0].Assets[0].Confidence; got != tt.want {
			t.Errorf("%s at %v: expected %q, got %q", tt.rel, tt.dist, tt.want, got)
		}
	}
}
