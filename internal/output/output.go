// Package output writes extraction results: the document JSON, one PNG per
// linked asset and, optionally, a copy of both in S3.
//
// Layout:
//
//	<Dir>/<pdf_stem>/<pdf_stem>.json
//	<Dir>/<pdf_stem>/assets/<asset_id>.png
//
// With a bucket configured the same files go to results/<job_id>/... and
// asset_path holds the s3:// URL.
package output

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/local/questionextractor/internal/assemble"
	"github.com/local/questionextractor/internal/imagerender"
	"github.com/local/questionextractor/internal/model"
)

// Uploader stores one object and returns its URL.
type Uploader interface {
	Upload(ctx context.Context, bucket, key string, data []byte, contentType string) (string, error)
}

// RegionCropper renders asset regions of one document.
type RegionCropper interface {
	CropPNG(r model.AssetRegion) ([]byte, error)
	Close() error
}

// Manager owns the result directory.
type Manager struct {
	Dir    string
	S3     Uploader
	Bucket string
	// OpenCropper defaults to a go-fitz cropper.
	OpenCropper func(pdfPath string) (RegionCropper, error)
}

// NewManager returns a Manager writing below dir. s3 may be nil.
func NewManager(dir string, s3 Uploader, bucket string) *Manager {
	if dir == "" {
		dir = filepath.Join("uploads", "results")
	}
	return &Manager{Dir: dir, S3: s3, Bucket: bucket}
}

// Written describes where a result went.
type Written struct {
	JSONPath string
	S3URL    string
	Assets   int
	// Skipped lists asset ids whose image could not be produced.
	Skipped []string
}

// Write exports the assets of doc, fills their asset_path and writes the
// document JSON. Assets are cropped from localPDF, or from the document's
// pdf_path when localPDF is empty. jobID names the S3 prefix; the pdf stem
// is used when empty.
func (m *Manager) Write(ctx context.Context, jobID, localPDF string, doc *assemble.Document) (Written, error) {
	stem := Stem(doc.Metadata.PDFName)
	dir := filepath.Join(m.Dir, stem)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Written{}, fmt.Errorf("create result dir: %w", err)
	}
	prefix := jobID
	if prefix == "" {
		prefix = stem
	}
	w := Written{JSONPath: filepath.Join(dir, stem+".json")}

	if localPDF == "" {
		localPDF = doc.Metadata.PDFPath
	}
	if err := m.exportAssets(ctx, dir, prefix, localPDF, doc, &w); err != nil {
		return w, err
	}

	data, err := assemble.Marshal(doc)
	if err != nil {
		return w, fmt.Errorf("marshal document: %w", err)
	}
	if err := os.WriteFile(w.JSONPath, data, 0o644); err != nil {
		return w, fmt.Errorf("write %s: %w", w.JSONPath, err)
	}
	if m.uploads() {
		url, err := m.S3.Upload(ctx, m.Bucket, path.Join("results", prefix, stem+".json"), data, "application/json")
		if err != nil {
			return w, err
		}
		w.S3URL = url
	}
	log.Info().Str("pdf", doc.Metadata.PDFName).Str("json", w.JSONPath).Int("assets", w.Assets).
		Str("s3_url", w.S3URL).Msg("result written")
	return w, nil
}

func (m *Manager) uploads() bool { return m.S3 != nil && m.Bucket != "" }

func (m *Manager) exportAssets(ctx context.Context, dir, prefix, pdfPath string, doc *assemble.Document, w *Written) error {
	var assets []*assemble.Asset
	doc.Walk(func(q *assemble.Question) {
		for i := range q.Assets {
			assets = append(assets, &q.Assets[i])
		}
	})
	if len(assets) == 0 {
		return nil
	}

	open := m.OpenCropper
	if open == nil {
		open = func(p string) (RegionCropper, error) { return imagerender.OpenCropper(p) }
	}
	cropper, err := open(pdfPath)
	if err != nil {
		log.Warn().Err(err).Str("pdf", pdfPath).Msg("cannot open document for asset export")
		for _, a := range assets {
			w.Skipped = append(w.Skipped, a.ID)
		}
		return nil
	}
	defer cropper.Close()

	assetDir := filepath.Join(dir, "assets")
	if err := os.MkdirAll(assetDir, 0o755); err != nil {
		return fmt.Errorf("create asset dir: %w", err)
	}
	for _, a := range assets {
		if err := ctx.Err(); err != nil {
			return err
		}
		b := model.BBox{X0: a.BBox[0], Y0: a.BBox[1], X1: a.BBox[2], Y1: a.BBox[3]}
		png, err := cropper.CropPNG(model.AssetRegion{ID: a.ID, Page: a.Page, BBox: b})
		if err != nil {
			log.Warn().Err(err).Str("asset_id", a.ID).Msg("asset crop failed")
			w.Skipped = append(w.Skipped, a.ID)
			continue
		}
		name := fileName(a.ID)
		local := filepath.Join(assetDir, name)
		if err := os.WriteFile(local, png, 0o644); err != nil {
			return fmt.Errorf("write asset %s: %w", a.ID, err)
		}
		a.Path = local
		if m.uploads() {
			url, err := m.S3.Upload(ctx, m.Bucket, path.Join("results", prefix, "assets", name), png, "image/png")
			if err != nil {
				return err
			}
			a.Path = url
		}
		w.Assets++
	}
	return nil
}

// Stem strips directory and extension from a pdf name.
func Stem(name string) string {
	base := filepath.Base(name)
	s := strings.TrimSuffix(base, filepath.Ext(base))
	if s == "" || s == "." || s == string(filepath.Separator) {
		return "document"
	}
	return s
}

func fileName(assetID string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", "..", "_")
	return r.Replace(assetID) + ".png"
}
