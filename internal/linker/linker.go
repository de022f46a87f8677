// Package linker attaches image and table regions to question nodes.
package linker

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"github.com/tidwall/rtree"

	"github.com/local/questionextractor/internal/model"
)

const (
	// DefaultTolerance is the slack, in points, for full containment.
	DefaultTolerance = 2.0
	// DefaultMinOverlap is the share of region height a node must cover
	// to count as containing it.
	DefaultMinOverlap = 0.6

	farAway = 1e9
)

// Linker assigns every region to at most one node.
type Linker struct {
	Tolerance  float64
	MinOverlap float64
	Log        zerolog.Logger
}

// New returns a linker with the default thresholds.
func New(log zerolog.Logger) *Linker {
	return &Linker{Tolerance: DefaultTolerance, MinOverlap: DefaultMinOverlap, Log: log}
}

// Summary counts the outcome of a linking pass.
type Summary struct {
	Contained  int
	Nearest    int
	Unassigned []int
}

type entry struct {
	node   *model.QuestionNode
	parent int
	order  int
}

// Link appends AssetRefs to the nodes of roots. Regions are referenced by their
// index in regions; each index is handed out at most once.
func (l *Linker) Link(roots []*model.QuestionNode, regions []model.AssetRegion) model.Result[Summary] {
	entries := flatten(roots)
	trees := map[int]*rtree.RTreeG[int]{}
	for i, e := range entries {
		for _, env := range e.node.Envelopes {
			tr, ok := trees[env.Page]
			if !ok {
				tr = &rtree.RTreeG[int]{}
				trees[env.Page] = tr
			}
			tr.Insert([2]float64{env.BBox.X0, env.BBox.Y0}, [2]float64{env.BBox.X1, env.BBox.Y1}, i)
		}
	}

	order := make([]int, len(regions))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ra, rb := regions[order[a]], regions[order[b]]
		if ra.Page != rb.Page {
			return ra.Page < rb.Page
		}
		if ra.BBox.Y0 != rb.BBox.Y0 {
			return ra.BBox.Y0 < rb.BBox.Y0
		}
		return ra.BBox.X0 < rb.BBox.X0
	})

	var sum Summary
	var issues []model.Issue
	assigned := make([]bool, len(regions))
	for _, ri := range order {
		if assigned[ri] {
			continue
		}
		r := regions[ri]
		owner, rel, dist := -1, model.Relationship(""), 0.0
		if tr := trees[r.Page]; tr != nil {
			if o, ok := l.contained(entries, tr, r); ok {
				owner, rel = o, model.Contained
			} else if o, d, ok := nearest(entries, tr, r); ok {
				owner, rel, dist = o, model.Nearest, d
			}
		}
		if owner < 0 {
			if o, ok := firstOnPage(entries, r.Page+1); ok {
				owner, rel, dist = o, model.Nearest, farAway
			}
		}
		if owner < 0 {
			sum.Unassigned = append(sum.Unassigned, ri)
			issues = append(issues, model.Issue{
				Kind:   model.AssetLinkOverflow,
				Detail: fmt.Sprintf("%s %s on page %d has no owner", r.Kind, r.ID, r.Page),
			})
			l.Log.Warn().Str("region", r.ID).Int("page", r.Page).Msg("asset region left unassigned")
			continue
		}
		assigned[ri] = true
		n := entries[owner].node
		n.Assets = append(n.Assets, model.AssetRef{Region: ri, ID: r.ID, Relationship: rel, Distance: dist})
		if rel == model.Contained {
			sum.Contained++
		} else {
			sum.Nearest++
		}
	}
	return model.Warn(sum, issues...)
}

// contained returns the deepest node on a single ancestor chain that holds r.
func (l *Linker) contained(entries []entry, tr *rtree.RTreeG[int], r model.AssetRegion) (int, bool) {
	tol := l.Tolerance
	var full, partial []int
	tr.Search(
		[2]float64{r.BBox.X0 - tol, r.BBox.Y0 - tol},
		[2]float64{r.BBox.X1 + tol, r.BBox.Y1 + tol},
		func(_, _ [2]float64, idx int) bool {
			env, _ := entries[idx].node.Envelope(r.Page)
			switch {
			case env.Contains(r.BBox, tol):
				full = append(full, idx)
			case l.overlaps(env, r.BBox):
				partial = append(partial, idx)
			}
			return true
		},
	)
	cands := full
	if len(cands) == 0 {
		cands = partial
	}
	if len(cands) == 0 {
		return 0, false
	}
	sort.Ints(cands)
	deepest := cands[0]
	for _, c := range cands[1:] {
		if entries[c].node.Depth >= entries[deepest].node.Depth {
			deepest = c
		}
	}
	for _, c := range cands {
		if c != deepest && !isAncestor(entries, c, deepest) {
			return 0, false
		}
	}
	return deepest, true
}

func (l *Linker) overlaps(env, region model.BBox) bool {
	h := region.Height()
	if h <= 0 || env.HorizontalOverlap(region) <= 0 {
		return false
	}
	return env.VerticalOverlap(region)/h >= l.MinOverlap
}

// nearest picks the node whose top edge is closest above the region's top.
func nearest(entries []entry, tr *rtree.RTreeG[int], r model.AssetRegion) (int, float64, bool) {
	best, bestDist := -1, 0.0
	tr.Search(
		[2]float64{-farAway, -farAway},
		[2]float64{farAway, r.BBox.Y0},
		func(_, _ [2]float64, idx int) bool {
			env, _ := entries[idx].node.Envelope(r.Page)
			d := r.BBox.Y0 - env.Y0
			if d < 0 {
				return true
			}
			if best < 0 || d < bestDist || (d == bestDist && better(entries, idx, best)) {
				best, bestDist = idx, d
			}
			return true
		},
	)
	return best, bestDist, best >= 0
}

// better breaks distance ties: deeper first, then later in document order.
func better(entries []entry, a, b int) bool {
	da, db := entries[a].node.Depth, entries[b].node.Depth
	if da != db {
		return da > db
	}
	return entries[a].order > entries[b].order
}

func firstOnPage(entries []entry, page int) (int, bool) {
	for i, e := range entries {
		if _, ok := e.node.Envelope(page); ok {
			return i, true
		}
	}
	return 0, false
}

func isAncestor(entries []entry, anc, idx int) bool {
	for p := entries[idx].parent; p >= 0; p = entries[p].parent {
		if p == anc {
			return true
		}
	}
	return false
}

// flatten lists every node in pre-order with its parent index.
func flatten(roots []*model.QuestionNode) []entry {
	var out []entry
	var visit func(n *model.QuestionNode, parent int)
	visit = func(n *model.QuestionNode, parent int) {
		idx := len(out)
		out = append(out, entry{node: n, parent: parent, order: idx})
		for _, c := range n.Children {
			visit(c, idx)
		}
	}
	for _, r := range roots {
		visit(r, -1)
	}
	return out
}
