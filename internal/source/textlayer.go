package source

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	fitz "github.com/gen2brain/go-fitz"
)

// DefaultMinTextChars is the sampled character count below which a
// document is reported as having no text layer.
const DefaultMinTextChars = 50

// TextLayer is the result of sampling a PDF for extractable text.
type TextLayer struct {
	Checked bool
	Pages   []int
	Chars   int
	OK      bool
}

type textDoc interface {
	NumPage() int
	Text(page int) (string, error)
	Close() error
}

var openText = func(path string) (textDoc, error) { return fitz.New(path) }

// ProbeTextLayer counts non-space characters on a few sampled pages and
// stops as soon as minChars is reached.
func ProbeTextLayer(path string, minChars int) (TextLayer, error) {
	if minChars <= 0 {
		minChars = DefaultMinTextChars
	}
	d, err := openText(path)
	if err != nil {
		return TextLayer{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer d.Close()

	tl := TextLayer{Checked: true, Pages: samplePages(d.NumPage())}
	for _, p := range tl.Pages {
		text, err := d.Text(p)
		if err != nil {
			continue
		}
		tl.Chars += countVisible(text)
		if tl.Chars >= minChars {
			break
		}
	}
	tl.OK = tl.Chars >= minChars
	return tl, nil
}

// samplePages picks every page of short documents, otherwise the first,
// quartile, middle and last pages. The choice is deterministic.
func samplePages(total int) []int {
	if total <= 0 {
		return nil
	}
	if total <= 5 {
		out := make([]int, total)
		for i := range out {
			out[i] = i
		}
		return out
	}
	set := map[int]struct{}{0: {}, total / 4: {}, total / 2: {}, (3 * total) / 4: {}, total - 1: {}}
	out := make([]int, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

func countVisible(s string) int {
	return len([]rune(strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)))
}
