package engine

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/local/questionextractor/internal/assemble"
	"github.com/local/questionextractor/internal/geometry"
	"github.com/local/questionextractor/internal/model"
)

func line(text string, y float64) model.TextBlock {
	return model.TextBlock{Text: text, Page: 1, BBox: model.BBox{X0: 10, Y0: y, X1: 500, Y1: y + 10}}
}

func sampleIndex() geometry.Index {
	blocks := []model.TextBlock{
		line("1. Find x. a. first part b. second part", 50),
		line("Question 2", 100),
		line("A: red", 112),
		line("B: blue", 124),
		line("C: green", 136),
		line("3. Study the figure", 200),
		line("It has a circuit.", 300),
		line("4. Another", 320),
	}
	regions := []model.AssetRegion{
		{Kind: model.AssetImage, Page: 1, BBox: model.BBox{X0: 100, Y0: 220, X1: 300, Y1: 290}},
	}
	return geometry.BuildIndex([]model.PageInfo{{Number: 1, Width: 600, Height: 800}}, blocks, regions)
}

type fakeReader struct {
	ix  geometry.Index
	err error
}

func (f fakeReader) Read(context.Context, string) (geometry.Index, error) { return f.ix, f.err }

func TestRunSample(t *testing.T) {
	e := New(fakeReader{ix: sampleIndex()}, Options{}, zerolog.Nop())
	doc, err := e.Run(context.Background(), Input{PDFPath: "/data/exam.pdf"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Status != assemble.StatusOK || doc.Metadata.PDFName != "exam.pdf" {
		t.Fatalf("unexpected document header %+v %s", doc.Metadata, doc.Status)
	}
	if doc.Metadata.DominanceType != "text-dominant" {
		t.Errorf("expected text-dominant, got %s", doc.Metadata.DominanceType)
	}

	var numbers []string
	for _, q := range doc.Questions {
		numbers = append(numbers, q.Number)
	}
	if diff := cmp.Diff([]string{"1.", "Question 2", "3.", "4."}, numbers); diff != "" {
		t.Fatalf("question numbers mismatch (-want +got):\n%s", diff)
	}

	q1 := doc.Questions[0]
	if q1.Text != "Find x." || !q1.SubpartFlag || q1.MCQFlag || q1.Type != "multi_part" {
		t.Errorf("unexpected question 1: %+v", q1)
	}
	var parts []string
	for _, s := range q1.Subparts {
		parts = append(parts, s.Number+" "+s.Text)
	}
	if diff := cmp.Diff([]string{"a. first part", "b. second part"}, parts); diff != "" {
		t.Errorf("subparts mismatch (-want +got):\n%s", diff)
	}

	q2 := doc.Questions[1]
	want := []model.MCQOption{{Label: "A", Text: "red"}, {Label: "B", Text: "blue"}, {Label: "C", Text: "green"}}
	if diff := cmp.Diff(want, q2.Options); diff != "" {
		t.Errorf("options mismatch (-want +got):\n%s", diff)
	}
	if !q2.MCQFlag || q2.Type != "mcq" {
		t.Errorf("expected mcq question 2, got %+v", q2)
	}

	q3 := doc.Questions[2]
	if len(q3.Assets) != 1 || q3.Assets[0].ID != "p1-image-1" || q3.Assets[0].Relationship != "contained" {
		t.Errorf("expected figure contained in question 3, got %+v", q3.Assets)
	}
	if len(doc.Questions[3].Assets) != 0 {
		t.Errorf("question 4 must not own the figure")
	}

	wantStats := assemble.Stats{
		TotalQuestions:   4,
		MCQCount:         1,
		SubpartCount:     2,
		ImagesExtracted:  1,
		ProcessingErrors: []assemble.ProcessingError{},
	}
	if diff := cmp.Diff(wantStats, doc.Stats); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	e := New(fakeReader{ix: sampleIndex()}, Options{}, zerolog.Nop())
	var outs [][]byte
	for i := 0; i < 2; i++ {
		doc, err := e.Run(context.Background(), Input{PDFPath: "exam.pdf"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		b, err := assemble.Marshal(doc)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		outs = append(outs, b)
	}
	if !bytes.Equal(outs[0], outs[1]) {
		t.Errorf("runs differ:\n%s\n---\n%s", outs[0], outs[1])
	}
}

func TestRunZeroBlocksFails(t *testing.T) {
	ix := geometry.BuildIndex([]model.PageInfo{{Number: 1, Width: 600, Height: 800}}, nil, nil)
	doc, err := New(fakeReader{ix: ix}, Options{}, zerolog.Nop()).Run(context.Background(), Input{PDFPath: "blank.pdf"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Status != assemble.StatusFailed || doc.Questions != nil {
		t.Fatalf("expected failed document with null questions, got %+v", doc)
	}
	if doc.Error == nil || doc.Error.Reason != string(model.ClassificationFailure) {
		t.Errorf("expected classification failure, got %+v", doc.Error)
	}
	b, err := assemble.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !bytes.Contains(b, []byte(`"questions": null`)) {
		t.Errorf("expected null questions in JSON:\n%s", b)
	}
}

func TestRunReaderError(t *testing.T) {
	boom := errors.New("cannot open")
	_, err := New(fakeReader{err: boom}, Options{}, zerolog.Nop()).Run(context.Background(), Input{PDFPath: "x.pdf"})
	if !errors.Is(err, boom) {
		t.Errorf("expected reader error, got %v", err)
	}
}

func TestRunSegmentationEmpty(t *testing.T) {
	ix := geometry.BuildIndex([]model.PageInfo{{Number: 1, Width: 600, Height: 800}},
		[]model.TextBlock{line("Instructions to candidates", 50)}, nil)
	doc := New(nil, Options{}, zerolog.Nop()).Process(context.Background(), ix, Input{PDFPath: "notes.pdf"})
	if doc.Status != assemble.StatusOK || len(doc.Questions) != 0 {
		t.Fatalf("expected empty ok document, got %+v", doc)
	}
	if len(doc.Stats.ProcessingErrors) != 1 || doc.Stats.ProcessingErrors[0].Reason != string(model.SegmentationEmpty) {
		t.Errorf("expected segmentation_empty, got %+v", doc.Stats.ProcessingErrors)
	}
}

type fakeEnricher struct{ fail bool }

func (f fakeEnricher) DescribeRegions(_ context.Context, _ string, regions []model.AssetRegion, only []int) (map[int]string, map[int]error) {
	texts, errs := map[int]string{}, map[int]error{}
	for _, i := range only {
		if f.fail {
			errs[i] = context.DeadlineExceeded
			continue
		}
		texts[i] = "figure " + regions[i].ID
	}
	return texts, errs
}

func TestRunEnrichment(t *testing.T) {
	tests := []struct {
		name     string
		enricher fakeEnricher
		wantDesc string
		wantErrs []assemble.ProcessingError
	}{
		{"described", fakeEnricher{}, "figure p1-image-1", []assemble.ProcessingError{}},
		{"timeout", fakeEnricher{fail: true}, "", []assemble.ProcessingError{{
			QuestionRef: "3.",
			Reason:      string(model.EnrichmentTimeout),
			Detail:      "p1-image-1: context deadline exceeded",
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(fakeReader{ix: sampleIndex()}, Options{Enricher: tt.enricher}, zerolog.Nop())
			doc, err := e.Run(context.Background(), Input{PDFPath: "exam.pdf", Enrich: true})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := doc.Questions[2].Assets[0].Description; got != tt.wantDesc {
				t.Errorf("expected description %q, got %q", tt.wantDesc, got)
			}
			if diff := cmp.Diff(tt.wantErrs, doc.Stats.ProcessingErrors); diff != "" {
				t.Errorf("processing errors mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRunKeepsQuestionWithEmptySubpart(t *testing.T) {
	blocks := []model.TextBlock{
		line("1. Look at the two graphs.", 50),
		line("a.", 70),
		line("b. Explain the difference.", 200),
		line("2. Define force.", 250),
	}
	regions := []model.AssetRegion{
		{Kind: model.AssetImage, Page: 1, BBox: model.BBox{X0: 100, Y0: 90, X1: 300, Y1: 180}},
	}
	ix := geometry.BuildIndex([]model.PageInfo{{Number: 1, Width: 600, Height: 800}}, blocks, regions)

	doc, err := New(fakeReader{ix: ix}, Options{}, zerolog.Nop()).Run(context.Background(), Input{PDFPath: "graphs.pdf"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(doc.Questions) != 2 || doc.Questions[0].Number != "1." {
		t.Fatalf("expected both questions, got %+v", doc.Stats)
	}
	q1 := doc.Questions[0]
	if len(q1.Subparts) != 2 || q1.Subparts[0].Number != "a." || q1.Subparts[0].Text != "" {
		t.Errorf("unexpected sub-parts %+v", q1.Subparts)
	}
	if len(q1.Assets) != 1 || q1.Assets[0].ID != "p1-image-1" {
		t.Errorf("expected the figure on question 1, got %+v", q1.Assets)
	}
	want := []assemble.ProcessingError{{QuestionRef: "1.", Reason: "hierarchy_parse_warning", Detail: "a.: empty sub-part"}}
	if diff := cmp.Diff(want, doc.Stats.ProcessingErrors); diff != "" {
		t.Errorf("processing errors mismatch (-want +got):\n%s", diff)
	}
}
