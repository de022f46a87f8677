// Package source turns document references into local PDF files.
//
// Supported references:
//   - file://path or absolute/relative filesystem paths
//   - http(s):// URLs (downloaded to a temp file)
//   - s3://bucket/key (downloaded through the storage client)
//   - bare keys, resolved against the default bucket
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rs/zerolog/log"

	"github.com/local/questionextractor/internal/filetype"
)

var (
	// ErrUnsupported is returned for files that are neither PDF nor a
	// convertible office document.
	ErrUnsupported = errors.New("unsupported file type")
	// ErrInvalidPDF is returned when the PDF cannot be parsed.
	ErrInvalidPDF = errors.New("invalid pdf")
	// ErrNotFound is returned when the reference does not exist.
	ErrNotFound = errors.New("document not found")
)

const defaultMaxBytes = 200 << 20

// Downloader fetches objects from a bucket.
type Downloader interface {
	Download(ctx context.Context, bucket, key string) ([]byte, error)
}

// Converter turns an office document into a PDF inside outDir.
type Converter interface {
	ConvertToPDF(ctx context.Context, inputPath, outDir string) (string, error)
}

// Resolver fetches documents. A nil S3 rejects s3 references and a nil
// Converter rejects office documents.
type Resolver struct {
	S3            Downloader
	HTTP          *http.Client
	Converter     Converter
	DefaultBucket string
	TempDir       string
	MaxBytes      int64
	// PageCount defaults to pdfcpu.
	PageCount func(path string) (int, error)
	// ProbeText samples the text layer after validation. Scanned
	// documents are still returned; Text.OK reports the outcome.
	ProbeText    bool
	MinTextChars int
}

// Document is a fetched PDF. Close removes any temporary files.
type Document struct {
	Path  string
	Name  string
	Pages int
	Type  filetype.Info
	Text  TextLayer
	temps []string
}

// Close removes temporary files created while fetching.
func (d *Document) Close() error {
	var errs []error
	for i := len(d.temps) - 1; i >= 0; i-- {
		if err := os.RemoveAll(d.temps[i]); err != nil {
			errs = append(errs, err)
		}
	}
	d.temps = nil
	return errors.Join(errs...)
}

// Normalize rewrites a bare key into an s3:// reference when a default
// bucket is configured and no local file of that name exists.
func Normalize(ref, defaultBucket string) string {
	ref = stripFragment(strings.TrimSpace(ref))
	if strings.Contains(ref, "://") || defaultBucket == "" || filepath.IsAbs(ref) {
		return ref
	}
	if _, err := os.Stat(ref); err == nil {
		return ref
	}
	return fmt.Sprintf("s3://%s/%s", defaultBucket, strings.TrimPrefix(ref, "/"))
}

// Fetch resolves ref to a validated local PDF.
func (r *Resolver) Fetch(ctx context.Context, ref string) (*Document, error) {
	ref = Normalize(ref, r.DefaultBucket)
	doc := &Document{}
	var err error
	switch {
	case strings.HasPrefix(ref, "s3://"):
		doc.Path, doc.Name, err = r.fetchS3(ctx, ref)
		doc.temps = append(doc.temps, doc.Path)
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		doc.Path, doc.Name, err = r.fetchHTTP(ctx, ref)
		doc.temps = append(doc.temps, doc.Path)
	default:
		doc.Path = strings.TrimPrefix(ref, "file://")
		doc.Name = filepath.Base(doc.Path)
		if _, statErr := os.Stat(doc.Path); statErr != nil {
			err = fmt.Errorf("%w: %s", ErrNotFound, doc.Path)
		}
	}
	if err != nil {
		_ = doc.Close()
		return nil, err
	}
	if err := r.prepare(ctx, doc); err != nil {
		_ = doc.Close()
		return nil, err
	}
	log.Debug().Str("ref", ref).Str("path", doc.Path).Int("pages", doc.Pages).Msg("document fetched")
	return doc, nil
}

// prepare checks the file type, converts office documents and counts pages.
func (r *Resolver) prepare(ctx context.Context, doc *Document) error {
	info, err := filetype.Detect(doc.Path)
	if err != nil {
		return err
	}
	doc.Type = info
	switch info.Kind {
	case filetype.PDF:
	case filetype.Office:
		if r.Converter == nil {
			return fmt.Errorf("%w: %s (no converter configured)", ErrUnsupported, info.Description)
		}
		outDir, err := os.MkdirTemp(r.TempDir, "qx-convert-*")
		if err != nil {
			return fmt.Errorf("failed to create conversion dir: %w", err)
		}
		doc.temps = append(doc.temps, outDir)
		pdf, err := r.Converter.ConvertToPDF(ctx, doc.Path, outDir)
		if err != nil {
			return fmt.Errorf("convert %s: %w", doc.Name, err)
		}
		doc.Path = pdf
		doc.Name = stem(doc.Name) + ".pdf"
	default:
		return fmt.Errorf("%w: %s", ErrUnsupported, info.Description)
	}

	count := r.PageCount
	if count == nil {
		count = api.PageCountFile
	}
	n, err := count(doc.Path)
	if err != nil {
		return fmt.Errorf("%w: page count failed: %v", ErrInvalidPDF, err)
	}
	doc.Pages = n

	if r.ProbeText {
		tl, err := ProbeTextLayer(doc.Path, r.MinTextChars)
		if err != nil {
			log.Warn().Err(err).Str("file", doc.Name).Msg("text layer probe failed")
			return nil
		}
		doc.Text = tl
		if !tl.OK {
			log.Warn().Str("file", doc.Name).Int("chars", tl.Chars).Ints("pages", tl.Pages).Msg("no text layer, document looks scanned")
		}
	}
	return nil
}

func (r *Resolver) fetchS3(ctx context.Context, ref string) (string, string, error) {
	bucket, key, err := SplitS3(ref)
	if err != nil {
		return "", "", err
	}
	if r.S3 == nil {
		return "", "", fmt.Errorf("s3 reference %s but no S3 client configured", ref)
	}
	data, err := r.S3.Download(ctx, bucket, key)
	if err != nil {
		return "", "", err
	}
	name := path.Base(key)
	p, err := r.writeTemp(name, data)
	if err != nil {
		return "", "", err
	}
	log.Info().Str("bucket", bucket).Str("key", key).Str("file", filepath.Base(p)).Msg("downloaded s3 document to temp")
	return p, name, nil
}

func (r *Resolver) fetchHTTP(ctx context.Context, ref string) (string, string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", "", fmt.Errorf("invalid url %q: %w", ref, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return "", "", err
	}
	cli := r.HTTP
	if cli == nil {
		cli = http.DefaultClient
	}
	resp, err := cli.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("download %s: %w", ref, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", "", fmt.Errorf("%w: %s", ErrNotFound, ref)
	case resp.StatusCode != http.StatusOK:
		return "", "", fmt.Errorf("download %s: http %d", ref, resp.StatusCode)
	}
	limit := r.MaxBytes
	if limit <= 0 {
		limit = defaultMaxBytes
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return "", "", fmt.Errorf("download %s: %w", ref, err)
	}
	if int64(len(data)) > limit {
		return "", "", fmt.Errorf("download %s: larger than %d bytes", ref, limit)
	}
	name := path.Base(u.Path)
	if name == "" || name == "/" || name == "." {
		name = "download.pdf"
	}
	p, err := r.writeTemp(name, data)
	return p, name, err
}

// writeTemp keeps the original extension so converters see the right type.
func (r *Resolver) writeTemp(name string, data []byte) (string, error) {
	ext := filepath.Ext(name)
	if ext == "" {
		ext = ".pdf"
	}
	f, err := os.CreateTemp(r.TempDir, "qx-src-*"+ext)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	return f.Name(), nil
}

// SplitS3 parses s3://bucket/key.
func SplitS3(ref string) (bucket, key string, err error) {
	rest := strings.TrimPrefix(ref, "s3://")
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("invalid s3 url: %s", ref)
	}
	return bucket, key, nil
}

func stripFragment(ref string) string {
	if i := strings.Index(ref, "#"); i >= 0 {
		return ref[:i]
	}
	return ref
}

func stem(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}
