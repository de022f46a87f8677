// Package segment finds top-level question boundaries in a block stream.
package segment

import (
	"fmt"
	"regexp"
	"sort"
)

// markerGroup is the named group every boundary pattern must define.
const markerGroup = "marker"

// Rule is one boundary pattern. Lower Priority values are tried first.
type Rule struct {
	Name     string `yaml:"name"`
	Pattern  string `yaml:"pattern"`
	Priority int    `yaml:"priority"`
	CellOnly bool   `yaml:"cell_only,omitempty"`
}

// DefaultRules is the built-in boundary table.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "numeric", Priority: 10, Pattern: `^\s*(?P<marker>\d{1,3}\.)(?:\s|$)`},
		{Name: "question", Priority: 20, Pattern: `(?i)^\s*(?P<marker>question\s+\d+)\b`},
		{Name: "practice", Priority: 30, Pattern: `(?i)^\s*(?P<marker>practice\s+example\s+\d+)\b`},
		{Name: "cell", Priority: 40, CellOnly: true, Pattern: `^\s*(?P<marker>(?:Q\.?\s*)?\d{1,3})[.):]?\s*$`},
	}
}

type compiledRule struct {
	Rule
	re     *regexp.Regexp
	marker int
}

// RuleSet is a compiled, priority-ordered rule table.
type RuleSet struct {
	rules []compiledRule
}

// Match is a boundary hit at the start of a block.
type Match struct {
	Rule      string
	Marker    string
	BodyStart int
}

// NewRuleSet compiles rules. Patterns must be anchored at the start of the
// text and define a "marker" group.
func NewRuleSet(rules []Rule) (*RuleSet, error) {
	if len(rules) == 0 {
		return nil, fmt.Errorf("segment: empty rule table")
	}
	rs := &RuleSet{}
	for _, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("segment: rule %q: %w", r.Name, err)
		}
		idx := re.SubexpIndex(markerGroup)
		if idx < 0 {
			return nil, fmt.Errorf("segment: rule %q has no %q group", r.Name, markerGroup)
		}
		rs.rules = append(rs.rules, compiledRule{Rule: r, re: re, marker: idx})
	}
	sort.SliceStable(rs.rules, func(i, j int) bool { return rs.rules[i].Priority < rs.rules[j].Priority })
	return rs, nil
}

// MustDefault returns the compiled default table.
func MustDefault() *RuleSet {
	rs, err := NewRuleSet(DefaultRules())
	if err != nil {
		panic(err)
	}
	return rs
}

// Rules returns the table in priority order.
func (rs *RuleSet) Rules() []Rule {
	out := make([]Rule, len(rs.rules))
	for i, r := range rs.rules {
		out[i] = r.Rule
	}
	return out
}

// Match tests text against the table. Cell-only rules apply only when cells is set.
func (rs *RuleSet) Match(text string, cells bool) (Match, bool) {
	for _, r := range rs.rules {
		if r.CellOnly && !cells {
			continue
		}
		loc := r.re.FindStringSubmatchIndex(text)
		if loc == nil || loc[0] != 0 {
			continue
		}
		m := Match{Rule: r.Name, BodyStart: loc[1]}
		if s, e := loc[2*r.marker], loc[2*r.marker+1]; s >= 0 {
			m.Marker = text[s:e]
		}
		return m, true
	}
	return Match{}, false
}
