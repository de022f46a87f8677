package segment

import (
	"fmt"
	"strings"

	"github.com/local/questionextractor/internal/classify"
	"github.com/local/questionextractor/internal/model"
)

// Segmentation is the segmenter output. Gap holds the blocks before the
// first boundary; every other block belongs to exactly one span.
type Segmentation struct {
	Spans []model.RawSpan
	Gap   []model.TextBlock
}

// Segmenter splits an ordered block stream into question spans.
type Segmenter interface {
	Segment(blocks []model.TextBlock) model.Result[Segmentation]
}

// TextSegmenter treats blocks as running lines. Cell-only rules are ignored.
type TextSegmenter struct {
	Rules *RuleSet
}

// TableSegmenter treats blocks as table cells and also applies cell-only rules.
type TableSegmenter struct {
	Rules *RuleSet
}

// ForStrategy returns the segmenter for a classifier decision.
func ForStrategy(s classify.Strategy, rules *RuleSet) Segmenter {
	if rules == nil {
		rules = MustDefault()
	}
	if s == classify.TableDominant {
		return TableSegmenter{Rules: rules}
	}
	return TextSegmenter{Rules: rules}
}

func (s TextSegmenter) Segment(blocks []model.TextBlock) model.Result[Segmentation] {
	return segment(s.Rules, blocks, false)
}

func (s TableSegmenter) Segment(blocks []model.TextBlock) model.Result[Segmentation] {
	return segment(s.Rules, blocks, true)
}

func segment(rules *RuleSet, blocks []model.TextBlock, cells bool) model.Result[Segmentation] {
	var out Segmentation
	var cur *model.RawSpan
	flush := func() {
		if cur != nil {
			out.Spans = append(out.Spans, *cur)
			cur = nil
		}
	}
	for _, b := range blocks {
		if m, ok := rules.Match(b.Text, cells); ok {
			flush()
			cur = &model.RawSpan{
				Marker:    strings.TrimSpace(m.Marker),
				Rule:      m.Rule,
				Blocks:    []model.TextBlock{b},
				BodyStart: m.BodyStart,
				FirstPage: b.Page,
				LastPage:  b.Page,
			}
			continue
		}
		if cur == nil {
			out.Gap = append(out.Gap, b)
			continue
		}
		cur.Blocks = append(cur.Blocks, b)
		if b.Page > cur.LastPage {
			cur.LastPage = b.Page
		}
	}
	flush()

	if len(out.Spans) == 0 {
		return model.Warn(out, model.Issue{
			Kind:   model.SegmentationEmpty,
			Detail: fmt.Sprintf("no question boundary in %d blocks", len(blocks)),
		})
	}
	return model.OK(out)
}
