// Package subpart decomposes a question body into nested sub-parts.
package subpart

import (
	"regexp"
	"strings"
)

// Family is one kind of sub-part marker. Pattern is matched at a candidate
// position and must capture the label in group 1.
type Family struct {
	Name    string
	Pattern *regexp.Regexp
	Ordinal func(label string) int
}

// DefaultFamilies returns the marker families in tie-break order.
func DefaultFamilies() []Family {
	return []Family{
		{Name: "alpha", Pattern: regexp.MustCompile(`^([a-z])\.`), Ordinal: letterOrdinal},
		{Name: "paren-alpha", Pattern: regexp.MustCompile(`^\(([a-z])\)`), Ordinal: letterOrdinal},
		{Name: "roman", Pattern: regexp.MustCompile(`^\(([ivxlcdm]+)\)`), Ordinal: romanOrdinal},
	}
}

func letterOrdinal(label string) int {
	if len(label) != 1 || label[0] < 'a' || label[0] > 'z' {
		return 0
	}
	return int(label[0]-'a') + 1
}

var romanValues = map[byte]int{'i': 1, 'v': 5, 'x': 10, 'l': 50, 'c': 100, 'd': 500, 'm': 1000}

// romanOrdinal returns 0 for numerals that are not in canonical form.
func romanOrdinal(label string) int {
	total := 0
	for i := 0; i < len(label); i++ {
		v, ok := romanValues[label[i]]
		if !ok {
			return 0
		}
		if i+1 < len(label) && romanValues[label[i+1]] > v {
			total -= v
		} else {
			total += v
		}
	}
	if total <= 0 || toRoman(total) != label {
		return 0
	}
	return total
}

func toRoman(n int) string {
	steps := []struct {
		v int
		s string
	}{
		{1000, "m"}, {900, "cm"}, {500, "d"}, {400, "cd"},
		{100, "c"}, {90, "xc"}, {50, "l"}, {40, "xl"},
		{10, "x"}, {9, "ix"}, {5, "v"}, {4, "iv"}, {1, "i"},
	}
	var sb strings.Builder
	for _, st := range steps {
		for n >= st.v {
			sb.WriteString(st.s)
			n -= st.v
		}
	}
	return sb.String()
}
