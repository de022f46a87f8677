// Package engine drives one document through geometry, classification,
// segmentation, sub-part parsing, option extraction, asset linking and
// assembly.
package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/local/questionextractor/internal/assemble"
	"github.com/local/questionextractor/internal/classify"
	"github.com/local/questionextractor/internal/geometry"
	"github.com/local/questionextractor/internal/linker"
	"github.com/local/questionextractor/internal/mcq"
	mpkg "github.com/local/questionextractor/internal/metrics"
	"github.com/local/questionextractor/internal/model"
	"github.com/local/questionextractor/internal/segment"
	"github.com/local/questionextractor/internal/subpart"
)

// DefaultEnrichTimeout bounds the description of a single image asset.
const DefaultEnrichTimeout = 20 * time.Second

// GeometryReader produces the page geometry of a local PDF.
type GeometryReader interface {
	Read(ctx context.Context, path string) (geometry.Index, error)
}

// Enricher describes image regions. Every requested index is returned in
// exactly one of the two maps.
type Enricher interface {
	DescribeRegions(ctx context.Context, pdfPath string, regions []model.AssetRegion, only []int) (map[int]string, map[int]error)
}

// Options tunes the pipeline. Zero values fall back to defaults.
type Options struct {
	Threshold     float64
	Segments      *segment.RuleSet
	Options       *mcq.Extractor
	Parser        *subpart.Parser
	Linker        *linker.Linker
	Enricher      Enricher
	EnrichTimeout time.Duration
}

// Engine is stateless between documents and safe for concurrent use as
// long as its Enricher is.
type Engine struct {
	reader GeometryReader
	opts   Options
	log    zerolog.Logger
}

func New(reader GeometryReader, opts Options, log zerolog.Logger) *Engine {
	if opts.Threshold <= 0 {
		opts.Threshold = classify.DefaultThreshold
	}
	if opts.Segments == nil {
		opts.Segments = segment.MustDefault()
	}
	if opts.Options == nil {
		opts.Options = mcq.Default()
	}
	if opts.Parser == nil {
		opts.Parser = subpart.NewParser()
	}
	if opts.Linker == nil {
		opts.Linker = linker.New(log)
	}
	if opts.EnrichTimeout <= 0 {
		opts.EnrichTimeout = DefaultEnrichTimeout
	}
	return &Engine{reader: reader, opts: opts, log: log}
}

// Input names one document run.
type Input struct {
	PDFPath string
	// PDFName defaults to the base name of PDFPath.
	PDFName string
	Enrich  bool
}

// Run reads the PDF and processes it. The error is reserved for documents
// that cannot be opened; extraction failures come back as a failed document.
func (e *Engine) Run(ctx context.Context, in Input) (*assemble.Document, error) {
	start := time.Now()
	ix, err := e.reader.Read(ctx, in.PDFPath)
	mpkg.ObserveStage("geometry", time.Since(start))
	if err != nil {
		return nil, err
	}
	return e.Process(ctx, ix, in), nil
}

// Process runs every stage after geometry on an existing index.
func (e *Engine) Process(ctx context.Context, ix geometry.Index, in Input) *assemble.Document {
	if in.PDFName == "" {
		in.PDFName = filepath.Base(in.PDFPath)
	}
	ain := assemble.Input{
		PDFName:    in.PDFName,
		PDFPath:    in.PDFPath,
		TotalPages: ix.TotalPages(),
		Regions:    ix.Regions,
	}
	log := e.log.With().Str("pdf", in.PDFName).Logger()

	t := time.Now()
	cls := classify.Classify(ix.Pages, ix.Blocks, ix.Regions, e.opts.Threshold)
	mpkg.ObserveStage("classify", time.Since(t))
	if cls.Failed() {
		var se *model.StageError
		if !errors.As(cls.Err, &se) {
			se = &model.StageError{Kind: model.ClassificationFailure, Detail: cls.Err.Error()}
		}
		doc := assemble.Failed(ain, se)
		log.Error().Err(cls.Err).Int("blocks", len(ix.Blocks)).Msg("classification failed")
		record(doc, "", cls.Issues)
		return doc
	}
	ain.Decision = cls.Value
	issues := append([]model.Issue(nil), cls.Issues...)
	log.Debug().
		Str("strategy", string(cls.Value.Strategy)).
		Float64("table_density", cls.Value.TableDensity).
		Msg("document classified")

	t = time.Now()
	seg := segment.ForStrategy(cls.Value.Strategy, e.opts.Segments).Segment(ix.Blocks)
	issues = append(issues, seg.Issues...)
	for _, span := range seg.Value.Spans {
		res := e.opts.Parser.Parse(span)
		issues = append(issues, res.Issues...)
		ain.Roots = append(ain.Roots, res.Value)
	}
	for _, root := range ain.Roots {
		issues = append(issues, e.extractOptions(root, root.Number)...)
	}
	mpkg.ObserveStage("segment", time.Since(t))

	t = time.Now()
	link := e.opts.Linker.Link(ain.Roots, ix.Regions)
	issues = append(issues, link.Issues...)
	mpkg.ObserveStage("link", time.Since(t))
	mpkg.AddLinked(string(model.Contained), link.Value.Contained)
	mpkg.AddLinked(string(model.Nearest), link.Value.Nearest)

	if in.Enrich && e.opts.Enricher != nil {
		t = time.Now()
		var enrichIssues []model.Issue
		ain.Descriptions, enrichIssues = e.enrich(ctx, in.PDFPath, ain.Roots, ix.Regions)
		issues = append(issues, enrichIssues...)
		mpkg.ObserveStage("enrich", time.Since(t))
	}

	t = time.Now()
	ain.Issues = issues
	res := assemble.Assemble(ain)
	mpkg.ObserveStage("assemble", time.Since(t))
	doc := res.Value
	record(doc, string(cls.Value.Strategy), append(issues, res.Issues...))
	log.Info().
		Str("strategy", string(cls.Value.Strategy)).
		Int("questions", doc.Stats.TotalQuestions).
		Int("mcq", doc.Stats.MCQCount).
		Int("subparts", doc.Stats.SubpartCount).
		Int("assets_contained", link.Value.Contained).
		Int("assets_nearest", link.Value.Nearest).
		Int("issues", len(doc.Stats.ProcessingErrors)).
		Msg("document extracted")
	return doc
}

// extractOptions runs option extraction on every node of a tree. A node with
// options keeps only its lead text.
func (e *Engine) extractOptions(n *model.QuestionNode, ref string) []model.Issue {
	res := e.opts.Options.Extract(n.Text, ref)
	if res.Value.MCQ {
		n.Text = res.Value.Lead
		n.Options = res.Value.Options
	}
	issues := res.Issues
	for _, c := range n.Children {
		issues = append(issues, e.extractOptions(c, ref+" "+c.Number)...)
	}
	return issues
}

// enrich describes linked image regions. It runs detached from ctx
// cancellation, bounded by the enrichment timeout per asset.
func (e *Engine) enrich(ctx context.Context, pdfPath string, roots []*model.QuestionNode, regions []model.AssetRegion) (map[int]string, []model.Issue) {
	owner := map[int]string{}
	var only []int
	for _, root := range roots {
		walkRefs(root, root.Number, func(n *model.QuestionNode, ref string) {
			for _, a := range n.Assets {
				if regions[a.Region].Kind == model.AssetImage {
					owner[a.Region] = ref
					only = append(only, a.Region)
				}
			}
		})
	}
	if len(only) == 0 {
		return nil, nil
	}
	sort.Ints(only)

	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.EnrichTimeout*time.Duration(len(only)))
	defer cancel()
	texts, errs := e.opts.Enricher.DescribeRegions(dctx, pdfPath, regions, only)

	var issues []model.Issue
	for _, i := range only {
		err, failed := errs[i]
		if !failed {
			continue
		}
		issues = append(issues, model.Issue{
			Kind:        model.EnrichmentTimeout,
			QuestionRef: owner[i],
			Detail:      regions[i].ID + ": " + err.Error(),
		})
	}
	return texts, issues
}

func walkRefs(n *model.QuestionNode, ref string, fn func(*model.QuestionNode, string)) {
	fn(n, ref)
	for _, c := range n.Children {
		walkRefs(c, ref+" "+c.Number, fn)
	}
}

func record(doc *assemble.Document, strategy string, issues []model.Issue) {
	for _, is := range issues {
		mpkg.IncIssue(string(is.Kind))
	}
	if strategy == "" {
		strategy = "none"
	}
	mpkg.IncDocument(doc.Status, strings.ToLower(strategy))
}
