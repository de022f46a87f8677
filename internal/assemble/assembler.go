// Package assemble validates question trees and renders the output document.
package assemble

import (
	"errors"
	"fmt"

	"github.com/local/questionextractor/internal/classify"
	"github.com/local/questionextractor/internal/latex"
	"github.com/local/questionextractor/internal/model"
)

// Input is everything the assembler needs for one document.
type Input struct {
	PDFName    string
	PDFPath    string
	TotalPages int
	Decision   classify.Decision
	Roots      []*model.QuestionNode
	Regions    []model.AssetRegion
	// Descriptions maps region indexes to enrichment text.
	Descriptions map[int]string
	// Issues are the upstream stage issues, in the order they were raised.
	Issues []model.Issue
}

// Assemble builds the output document. Questions failing validation are
// dropped and recorded; the document itself never fails here.
func Assemble(in Input) model.Result[*Document] {
	doc := &Document{
		Metadata:  metadata(in),
		Questions: make([]Question, 0, len(in.Roots)),
		Status:    StatusOK,
	}
	issues := append([]model.Issue(nil), in.Issues...)

	for _, root := range in.Roots {
		root.Walk(func(n, _ *model.QuestionNode) bool {
			n.Type = QuestionType(n)
			return true
		})
		warnings, err := validate(root, in.Regions)
		if err != nil {
			issues = append(issues, model.Issue{
				Kind:        model.ValidationFailed,
				QuestionRef: root.Number,
				Detail:      err.Error(),
			})
			continue
		}
		issues = append(issues, warnings...)
		q := convert(root, in)
		doc.Questions = append(doc.Questions, q)
		if q.MCQFlag {
			doc.Stats.MCQCount++
		}
		root.Walk(func(n, parent *model.QuestionNode) bool {
			if parent != nil {
				doc.Stats.SubpartCount++
			}
			return true
		})
	}
	doc.Stats.TotalQuestions = len(doc.Questions)
	for _, r := range in.Regions {
		switch r.Kind {
		case model.AssetImage:
			doc.Stats.ImagesExtracted++
		case model.AssetTable:
			doc.Stats.TablesExtracted++
		}
	}
	doc.Stats.ProcessingErrors = processingErrors(issues)
	return model.Warn(doc, issues[len(in.Issues):]...)
}

// Failed builds the document for a terminal stage error. Questions is null.
func Failed(in Input, err *model.StageError) *Document {
	issues := append(append([]model.Issue(nil), in.Issues...), model.Issue{Kind: err.Kind, Detail: err.Detail})
	return &Document{
		Metadata: metadata(in),
		Stats:    Stats{ProcessingErrors: processingErrors(dedupeIssues(issues))},
		Status:   StatusFailed,
		Error:    &ErrorInfo{Reason: string(err.Kind), Detail: err.Detail},
	}
}

func metadata(in Input) Metadata {
	m := Metadata{
		PDFName:      in.PDFName,
		PDFPath:      in.PDFPath,
		TotalPages:   in.TotalPages,
		TableDensity: in.Decision.TableDensity,
	}
	switch in.Decision.Strategy {
	case classify.TableDominant:
		m.DominanceType, m.ExtractionMethod = "table-dominant", "TableSegmenter"
	case classify.TextDominant:
		m.DominanceType, m.ExtractionMethod = "text-dominant", "TextSegmenter"
	}
	return m
}

func convert(n *model.QuestionNode, in Input) Question {
	q := Question{
		Number:      n.Number,
		Type:        string(n.Type),
		Text:        n.Text,
		Page:        n.Page,
		SubpartFlag: len(n.Children) > 0,
		MCQFlag:     n.MCQ(),
		Subparts:    make([]Question, 0, len(n.Children)),
		Options:     make([]model.MCQOption, 0, len(n.Options)),
		Assets:      make([]Asset, 0, len(n.Assets)),
	}
	if latex.Detect(n.Text) {
		q.Latex = latex.Render(n.Text)
	}
	q.Options = append(q.Options, n.Options...)
	for _, a := range n.Assets {
		r := in.Regions[a.Region]
		q.Assets = append(q.Assets, Asset{
			ID:           r.ID,
			Type:         string(r.Kind),
			BBox:         r.BBox.Array(),
			Page:         r.Page,
			Relationship: string(a.Relationship),
			Confidence:   linkConfidence(a),
			Description:  in.Descriptions[a.Region],
		})
	}
	for _, c := range n.Children {
		q.Subparts = append(q.Subparts, convert(c, in))
	}
	return q
}

var errNoContent = errors.New("no content")

// linkConfidence grades a nearest link by its vertical gap. Contained links
// carry no grade.
func linkConfidence(a model.AssetRef) string {
	if a.Relationship != model.Nearest {
		return ""
	}
	switch {
	case a.Distance < 200:
		return "high"
	case a.Distance < 400:
		return "medium"
	default:
		return "low"
	}
}

// validate checks every node of the tree. An empty sub-part is kept and
// reported as a warning; any other failure rejects the whole root.
func validate(root *model.QuestionNode, regions []model.AssetRegion) ([]model.Issue, error) {
	var (
		warnings []model.Issue
		err      error
	)
	root.Walk(func(n, _ *model.QuestionNode) bool {
		if err != nil {
			return false
		}
		err = validateNode(n, regions)
		if n == root || err == nil {
			return err == nil
		}
		if errors.Is(err, errNoContent) {
			warnings = append(warnings, model.Issue{
				Kind:        model.HierarchyParseWarning,
				QuestionRef: root.Number,
				Detail:      fmt.Sprintf("%s: empty sub-part", n.Number),
			})
			err = validateShape(n, regions)
			if err == nil {
				return true
			}
		}
		err = fmt.Errorf("%s: %w", n.Number, err)
		return false
	})
	return warnings, err
}

func validateNode(n *model.QuestionNode, regions []model.AssetRegion) error {
	if n.Number == "" {
		return fmt.Errorf("empty question number")
	}
	if n.Text == "" && len(n.Children) == 0 && len(n.Options) == 0 && len(n.Assets) == 0 {
		return errNoContent
	}
	return validateShape(n, regions)
}

// validateShape runs the structural checks that hold for empty nodes too.
func validateShape(n *model.QuestionNode, regions []model.AssetRegion) error {
	if n.Page < 1 {
		return fmt.Errorf("invalid page %d", n.Page)
	}
	seen := map[string]bool{}
	for _, c := range n.Children {
		if seen[c.Number] {
			return fmt.Errorf("duplicate sub-part label %s", c.Number)
		}
		seen[c.Number] = true
	}
	labels := map[string]bool{}
	for _, o := range n.Options {
		if labels[o.Label] {
			return fmt.Errorf("duplicate option label %s", o.Label)
		}
		labels[o.Label] = true
	}
	if (n.Type == model.TypeMCQ) != n.MCQ() || n.MCQ() != (len(n.Options) > 0) {
		return fmt.Errorf("mcq flag inconsistent with %d options", len(n.Options))
	}
	for _, a := range n.Assets {
		if a.Region < 0 || a.Region >= len(regions) {
			return fmt.Errorf("asset %s references unknown region", a.ID)
		}
		if b := regions[a.Region].BBox; !b.Valid() || b.Area() == 0 {
			return fmt.Errorf("asset %s has invalid bbox", a.ID)
		}
	}
	return nil
}

func processingErrors(issues []model.Issue) []ProcessingError {
	out := make([]ProcessingError, 0, len(issues))
	for _, is := range issues {
		out = append(out, ProcessingError{QuestionRef: is.QuestionRef, Reason: string(is.Kind), Detail: is.Detail})
	}
	return out
}

// dedupeIssues drops an issue identical to the one before it.
func dedupeIssues(issues []model.Issue) []model.Issue {
	out := issues[:0:0]
	for i, is := range issues {
		if i > 0 && is == issues[i-1] {
			continue
		}
		out = append(out, is)
	}
	return out
}
