package subpart

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/local/questionextractor/internal/model"
)

// DefaultMaxDepth caps sub-part nesting below the question.
const DefaultMaxDepth = 4

// Parser builds the sub-part tree of a span.
type Parser struct {
	Families []Family
	MaxDepth int
}

// NewParser returns a parser with the default families and depth cap.
func NewParser() *Parser {
	return &Parser{Families: DefaultFamilies(), MaxDepth: DefaultMaxDepth}
}

type token struct {
	pos     int
	end     int
	family  int
	ordinal int
	text    string
}

type parseState struct {
	body    string
	tokens  []token
	offsets [][2]int
	blocks  []model.TextBlock
	issues  []model.Issue
}

// Parse turns one span into a question tree rooted at depth 0.
func (p *Parser) Parse(span model.RawSpan) model.Result[*model.QuestionNode] {
	body, offsets := span.Body()
	st := &parseState{
		body:    body,
		tokens:  p.scan(body),
		offsets: offsets,
		blocks:  span.Blocks,
	}
	root := &model.QuestionNode{
		Number: span.Marker,
		Family: span.Rule,
		Page:   span.FirstPage,
		Start:  0,
		End:    len(body),
	}
	p.fill(st, root, 0, len(body), nil, span.Marker)

	// The root owns every block of the span, including a marker-only first block.
	root.Envelopes = envelopes(span.Blocks)
	for _, c := range root.Children {
		root.Envelopes = mergeEnvelopes(root.Envelopes, c.Envelopes)
	}
	return model.Warn(root, st.issues...)
}

// scan finds every marker token that starts at the body start or after
// whitespace and is followed by whitespace or the end.
func (p *Parser) scan(body string) []token {
	var out []token
	for i := 0; i < len(body); i++ {
		if i > 0 && !isSpace(body[i-1]) {
			continue
		}
		for fi, f := range p.Families {
			m := f.Pattern.FindStringSubmatchIndex(body[i:])
			if m == nil || m[0] != 0 {
				continue
			}
			end := i + m[1]
			if end < len(body) && !isSpace(body[end]) {
				continue
			}
			ord := f.Ordinal(body[i+m[2] : i+m[3]])
			if ord <= 0 {
				continue
			}
			out = append(out, token{pos: i, end: end, family: fi, ordinal: ord, text: body[i:end]})
		}
	}
	return out
}

// fill sets node text and children for the body range [lo, hi).
func (p *Parser) fill(st *parseState, node *model.QuestionNode, lo, hi int, stack []int, ref string) {
	opener, ok := p.opener(st.tokens, lo, hi, stack)
	if !ok {
		node.Text = cleanText(st.body[lo:hi])
		return
	}
	if node.Depth >= p.maxDepth() {
		st.issues = append(st.issues, model.Issue{
			Kind:        model.HierarchyParseWarning,
			QuestionRef: ref,
			Detail:      fmt.Sprintf("depth cap %d reached at %q; remainder kept as text", p.maxDepth(), opener.text),
		})
		node.Text = cleanText(st.body[lo:hi])
		return
	}

	siblings := []token{opener}
	for _, t := range st.tokens {
		last := siblings[len(siblings)-1]
		if t.pos <= last.pos || t.pos >= hi {
			continue
		}
		if t.family == opener.family && t.ordinal == last.ordinal+1 {
			siblings = append(siblings, t)
		}
	}

	node.Text = cleanText(st.body[lo:opener.pos])
	childStack := append(append([]int(nil), stack...), opener.family)
	st.flagStrays(siblings, hi, childStack, ref)
	for i, s := range siblings {
		end := hi
		if i+1 < len(siblings) {
			end = siblings[i+1].pos
		}
		child := &model.QuestionNode{
			Number: s.text,
			Depth:  node.Depth + 1,
			Family: p.Families[s.family].Name,
			Start:  s.pos,
			End:    end,
		}
		p.fill(st, child, s.end, end, childStack, ref+" "+s.text)
		child.Envelopes = st.envelopeFor(s.pos, end)
		for _, gc := range child.Children {
			child.Envelopes = mergeEnvelopes(child.Envelopes, gc.Envelopes)
		}
		child.Page = node.Page
		if len(child.Envelopes) > 0 {
			child.Page = child.Envelopes[0].Page
		}
		node.Children = append(node.Children, child)
	}
}

// opener picks the earliest first-ordinal marker of a family not already open.
func (p *Parser) opener(tokens []token, lo, hi int, stack []int) (token, bool) {
	for _, t := range tokens {
		if t.pos < lo || t.pos >= hi || t.ordinal != 1 || contains(stack, t.family) {
			continue
		}
		return t, true
	}
	return token{}, false
}

// flagStrays records every marker of the siblings' family inside the range
// that did not become a sibling. Such markers end up as text further down.
func (st *parseState) flagStrays(siblings []token, hi int, open []int, ref string) {
	first, cur := siblings[0], 0
	for _, t := range st.tokens {
		if t.family != first.family || t.pos <= first.pos || t.pos >= hi {
			continue
		}
		for cur+1 < len(siblings) && siblings[cur+1].pos <= t.pos {
			cur++
		}
		if siblings[cur].pos == t.pos || st.reinterpretable(t, open) {
			continue
		}
		st.issues = append(st.issues, model.Issue{
			Kind:        model.HierarchyParseWarning,
			QuestionRef: ref,
			Detail:      fmt.Sprintf("marker %q out of sequence after %q; kept as text", t.text, siblings[cur].text),
		})
	}
}

// reinterpretable reports whether the text of t also reads as a marker of a
// family that can still open deeper down, as "(i)" does for roman numerals.
func (st *parseState) reinterpretable(t token, open []int) bool {
	for _, o := range st.tokens {
		if o.pos == t.pos && o.family != t.family && !contains(open, o.family) {
			return true
		}
	}
	return false
}

func (p *Parser) maxDepth() int {
	if p.MaxDepth <= 0 {
		return DefaultMaxDepth
	}
	return p.MaxDepth
}

// envelopeFor unions the boxes of blocks overlapping the body range, per page.
func (st *parseState) envelopeFor(start, end int) []model.PageBox {
	var picked []model.TextBlock
	for i, off := range st.offsets {
		if off[0] < end && off[1] > start {
			picked = append(picked, st.blocks[i])
		}
	}
	return envelopes(picked)
}

func envelopes(blocks []model.TextBlock) []model.PageBox {
	var out []model.PageBox
	for _, b := range blocks {
		out = mergeEnvelopes(out, []model.PageBox{{Page: b.Page, BBox: b.BBox}})
	}
	return out
}

// mergeEnvelopes unions add into base page by page, keeping page order.
func mergeEnvelopes(base, add []model.PageBox) []model.PageBox {
	for _, a := range add {
		merged := false
		for i := range base {
			if base[i].Page == a.Page {
				base[i].BBox = base[i].BBox.Union(a.BBox)
				merged = true
				break
			}
		}
		if !merged {
			base = append(base, a)
		}
	}
	for i := 1; i < len(base); i++ {
		for j := i; j > 0 && base[j].Page < base[j-1].Page; j-- {
			base[j], base[j-1] = base[j-1], base[j]
		}
	}
	return base
}

func cleanText(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

func contains(stack []int, f int) bool {
	for _, s := range stack {
		if s == f {
			return true
		}
	}
	return false
}

func isSpace(b byte) bool { return b < 0x80 && unicode.IsSpace(rune(b)) }
