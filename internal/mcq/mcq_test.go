package mcq

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/local/questionextractor/internal/model"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		text string
		mcq  bool
		lead string
		opts []model.MCQOption
	}{
		{
			name: "colon labels",
			text: "A: red\nB: blue\nC: green",
			mcq:  true,
			opts: []model.MCQOption{{Label: "A", Text: "red"}, {Label: "B", Text: "blue"}, {Label: "C", Text: "green"}},
		},
		{
			name: "paren labels inline with lead",
			text: "Which is a prime? (A) 4 (B) 7 (C) 9 (D) 12",
			mcq:  true,
			lead: "Which is a prime?",
			opts: []model.MCQOption{{Label: "A", Text: "4"}, {Label: "B", Text: "7"}, {Label: "C", Text: "9"}, {Label: "D", Text: "12"}},
		},
		{
			name: "close paren labels",
			text: "Pick one\nA) yes\nB) no",
			mcq:  true,
			lead: "Pick one",
			opts: []model.MCQOption{{Label: "A", Text: "yes"}, {Label: "B", Text: "no"}},
		},
		{
			name: "single label is not mcq",
			text: "Note A: this is a remark",
			lead: "Note A: this is a remark",
		},
		{
			name: "label must follow whitespace",
			text: "Compute f(A) and g(B) values",
			lead: "Compute f(A) and g(B) values",
		},
		{
			name: "empty text",
			text: "",
		},
	}
	e := Default()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := e.Extract(tt.text, "Q1")
			if res.Status != model.StatusOK {
				t.Fatalf("unexpected status %s", res.Status)
			}
			got := res.Value
			if got.MCQ != tt.mcq || got.Lead != tt.lead {
				t.Errorf("expected mcq=%v lead=%q, got mcq=%v lead=%q", tt.mcq, tt.lead, got.MCQ, got.Lead)
			}
			if diff := cmp.Diff(tt.opts, got.Options); diff != "" {
				t.Errorf("options mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestExtractDuplicateLabel(t *testing.T) {
	res := Default().Extract("A: one B: two A: three", "Q7")
	if res.Status != model.StatusWarning {
		t.Fatalf("expected warning, got %s", res.Status)
	}
	if res.Issues[0].Kind != model.DuplicateMCQLabel || res.Issues[0].QuestionRef != "Q7" {
		t.Errorf("unexpected issue %+v", res.Issues[0])
	}
	want := []model.MCQOption{{Label: "A", Text: "three"}, {Label: "B", Text: "two"}}
	if diff := cmp.Diff(want, res.Value.Options); diff != "" {
		t.Errorf("options mismatch (-want +got):\n%s", diff)
	}
}

func TestCustomRules(t *testing.T) {
	e, err := NewExtractor([]Rule{{Name: "numbered", Pattern: `^([1-4])\)`}})
	if err != nil {
		t.Fatal(err)
	}
	res := e.Extract("Choose 1) cat 2) dog", "Q1")
	if !res.Value.MCQ || len(res.Value.Options) != 2 || res.Value.Options[1].Label != "2" {
		t.Errorf("unexpected extraction %+v", res.Value)
	}
	if _, err := NewExtractor([]Rule{{Name: "nolabel", Pattern: `^[A-Z]:`}}); err == nil {
		t.Errorf("expected error for pattern without label group")
	}
}
