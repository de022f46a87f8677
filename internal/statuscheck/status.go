package statuscheck

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	fitz "github.com/gen2brain/go-fitz"
)

// RedisPinger models the minimal Redis capability we need for status checks.
type RedisPinger interface {
	Ping(ctx context.Context) error
}

// BucketPinger checks access to a bucket.
type BucketPinger interface {
	Ping(ctx context.Context, bucket string) error
}

// VersionReporter is a converter that can report its version.
type VersionReporter interface {
	Version(ctx context.Context) (string, error)
}

// Checker aggregates health checks for external dependencies.
type Checker struct {
	opts       Options
	httpClient *http.Client
}

// Options configures the Checker. Nil dependencies report as not configured.
type Options struct {
	Redis      RedisPinger
	S3         BucketPinger
	S3Bucket   string
	Converter  VersionReporter
	HTTPClient *http.Client

	OpenAIKey    string
	AnthropicKey string
	GeminiKey    string
	// Base URLs default to the public endpoints.
	OpenAIBaseURL    string
	AnthropicBaseURL string
	GeminiBaseURL    string
}

// Status represents the readiness of a subsystem.
type Status struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Summary bundles all subsystem statuses.
type Summary struct {
	Redis       Status `json:"redis"`
	S3          Status `json:"s3"`
	LibreOffice Status `json:"libreoffice"`
	OpenAI      Status `json:"openai"`
	Anthropic   Status `json:"anthropic"`
	Gemini      Status `json:"gemini"`
	MuPDF       Status `json:"mupdf"`
}

// Healthy reports whether the components needed to serve jobs are up.
// Providers are optional: enrichment degrades to a recorded issue.
func (s Summary) Healthy() bool { return s.Redis.OK && s.MuPDF.OK }

// New creates a new Checker with the provided options.
func New(opts Options) *Checker {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	opts.OpenAIKey = strings.TrimSpace(opts.OpenAIKey)
	opts.AnthropicKey = strings.TrimSpace(opts.AnthropicKey)
	opts.GeminiKey = strings.TrimSpace(opts.GeminiKey)
	if opts.OpenAIBaseURL == "" {
		opts.OpenAIBaseURL = "https://api.openai.com"
	}
	if opts.AnthropicBaseURL == "" {
		opts.AnthropicBaseURL = "https://api.anthropic.com"
	}
	if opts.GeminiBaseURL == "" {
		opts.GeminiBaseURL = "https://generativelanguage.googleapis.com"
	}
	return &Checker{opts: opts, httpClient: client}
}

// Summary returns the current status snapshot.
func (c *Checker) Summary(ctx context.Context) Summary {
	return Summary{
		Redis:       c.checkRedis(ctx),
		S3:          c.checkS3(ctx),
		LibreOffice: c.checkLibreOffice(ctx),
		OpenAI:      c.checkOpenAI(ctx),
		Anthropic:   c.checkAnthropic(ctx),
		Gemini:      c.checkGemini(ctx),
		MuPDF:       c.checkMuPDF(),
	}
}

func (c *Checker) checkRedis(ctx context.Context) Status {
	if c.opts.Redis == nil {
		return Status{OK: false, Message: "client unavailable"}
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.opts.Redis.Ping(ctx); err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	return Status{OK: true, Message: "Connected"}
}

func (c *Checker) checkS3(ctx context.Context) Status {
	if c.opts.S3 == nil || c.opts.S3Bucket == "" {
		return Status{OK: false, Message: "Bucket not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.opts.S3.Ping(ctx, c.opts.S3Bucket); err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	return Status{OK: true, Message: "Connected"}
}

func (c *Checker) checkLibreOffice(ctx context.Context) Status {
	if c.opts.Converter == nil {
		return Status{OK: false, Message: "Not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	v, err := c.opts.Converter.Version(ctx)
	if err != nil {
		return Status{OK: false, Message: "Binary not found"}
	}
	return Status{OK: true, Message: v}
}

func (c *Checker) checkOpenAI(ctx context.Context) Status {
	if c.opts.OpenAIKey == "" {
		return Status{OK: false, Message: "API key missing"}
	}
	return c.probe(ctx, c.opts.OpenAIBaseURL+"/v1/models?limit=1", map[string]string{
		"Authorization": "Bearer " + c.opts.OpenAIKey,
	})
}

func (c *Checker) checkAnthropic(ctx context.Context) Status {
	if c.opts.AnthropicKey == "" {
		return Status{OK: false, Message: "API key missing"}
	}
	return c.probe(ctx, c.opts.AnthropicBaseURL+"/v1/models", map[string]string{
		"x-api-key":         c.opts.AnthropicKey,
		"anthropic-version": "2023-06-01",
	})
}

func (c *Checker) checkGemini(ctx context.Context) Status {
	if c.opts.GeminiKey == "" {
		return Status{OK: false, Message: "API key missing"}
	}
	return c.probe(ctx, c.opts.GeminiBaseURL+"/v1beta/models?pageSize=1", map[string]string{
		"x-goog-api-key": c.opts.GeminiKey,
	})
}

func (c *Checker) probe(ctx context.Context, url string, headers map[string]string) Status {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return Status{OK: false, Message: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}
	return Status{OK: true, Message: "Available"}
}

// checkMuPDF opens a one-page document through the linked MuPDF.
func (c *Checker) checkMuPDF() Status {
	doc, err := fitz.NewFromMemory(probePDF())
	if err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	defer doc.Close()
	if doc.NumPage() != 1 {
		return Status{OK: false, Message: "unexpected page count"}
	}
	return Status{OK: true, Message: "Available"}
}

func probePDF() []byte {
	objs := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 72 72] >>",
	}
	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, o := range objs {
		offsets[i] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, o)
	}
	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)
	return b.Bytes()
}

func trimError(err error) string {
	if err == nil {
		return ""
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	msg := err.Error()
	if len(msg) > 120 {
		return msg[:120]
	}
	return msg
}
