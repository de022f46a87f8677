// Package mcq pulls lettered answer options out of question text.
package mcq

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/local/questionextractor/internal/model"
)

// Rule is one label token pattern. Pattern must be anchored and capture the
// label in group 1.
type Rule struct {
	Name    string `yaml:"name"`
	Pattern string `yaml:"pattern"`
}

// DefaultRules recognises "(A)" and "A:" / "A)".
func DefaultRules() []Rule {
	return []Rule{
		{Name: "paren", Pattern: `^\(([A-Z])\)`},
		{Name: "colon", Pattern: `^([A-Z])[:)]`},
	}
}

// Extraction is the option list of one node.
type Extraction struct {
	Options []model.MCQOption
	Lead    string
	MCQ     bool
}

// Extractor finds options with a fixed rule table.
type Extractor struct {
	rules []*regexp.Regexp
	names []string
}

// NewExtractor compiles rules.
func NewExtractor(rules []Rule) (*Extractor, error) {
	if len(rules) == 0 {
		return nil, fmt.Errorf("mcq: empty rule table")
	}
	e := &Extractor{}
	for _, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("mcq: rule %q: %w", r.Name, err)
		}
		if re.NumSubexp() < 1 {
			return nil, fmt.Errorf("mcq: rule %q must capture the label", r.Name)
		}
		e.rules = append(e.rules, re)
		e.names = append(e.names, r.Name)
	}
	return e, nil
}

// Default returns the extractor for DefaultRules.
func Default() *Extractor {
	e, err := NewExtractor(DefaultRules())
	if err != nil {
		panic(err)
	}
	return e
}

type label struct {
	pos, end int
	text     string
}

// Extract finds options in text. ref names the node in issues.
func (e *Extractor) Extract(text, ref string) model.Result[Extraction] {
	labels := e.labels(text)
	distinct := map[string]bool{}
	for _, l := range labels {
		distinct[l.text] = true
	}
	if len(distinct) < 2 {
		return model.OK(Extraction{Lead: text})
	}

	var issues []model.Issue
	var opts []model.MCQOption
	index := map[string]int{}
	for i, l := range labels {
		end := len(text)
		if i+1 < len(labels) {
			end = labels[i+1].pos
		}
		body := squash(text[l.end:end])
		if at, dup := index[l.text]; dup {
			issues = append(issues, model.Issue{
				Kind:        model.DuplicateMCQLabel,
				QuestionRef: ref,
				Detail:      fmt.Sprintf("label %s repeated; keeping the later text", l.text),
			})
			opts[at].Text = body
			continue
		}
		index[l.text] = len(opts)
		opts = append(opts, model.MCQOption{Label: l.text, Text: body})
	}
	return model.Warn(Extraction{
		Options: opts,
		Lead:    strings.TrimSpace(text[:labels[0].pos]),
		MCQ:     true,
	}, issues...)
}

// labels returns non-overlapping label tokens at text start or after whitespace.
func (e *Extractor) labels(text string) []label {
	var out []label
	for i := 0; i < len(text); i++ {
		if i > 0 && !isSpace(text[i-1]) {
			continue
		}
		for _, re := range e.rules {
			m := re.FindStringSubmatchIndex(text[i:])
			if m == nil || m[0] != 0 {
				continue
			}
			out = append(out, label{pos: i, end: i + m[1], text: text[i+m[2] : i+m[3]]})
			i += m[1] - 1
			break
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].pos < out[b].pos })
	return out
}

func squash(s string) string { return strings.Join(strings.Fields(s), " ") }

func isSpace(b byte) bool { return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\f' || b == '\v' }
