package rules

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/local/questionextractor/internal/mcq"
	"github.com/local/questionextractor/internal/segment"
)

func TestLoadFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	body := `
options:
  - name: lower
    pattern: '^\(([a-e])\)'
max_depth: 2
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := LoadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(segment.DefaultRules(), f.Segments); diff != "" {
		t.Errorf("segments should default (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]mcq.Rule{{Name: "lower", Pattern: `^\(([a-e])\)`}}, f.Options); diff != "" {
		t.Errorf("options mismatch (-want +got):\n%s", diff)
	}
	if f.MaxDepth != 2 || f.Threshold != 0.5 || f.Linking.MinOverlap != 0.6 {
		t.Errorf("unexpected scalars %+v", f)
	}

	opts, err := f.EngineOptions(zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.Parser.MaxDepth != 2 {
		t.Errorf("expected max depth 2, got %d", opts.Parser.MaxDepth)
	}
	res := opts.Options.Extract("Pick (a) one (b) two", "1.")
	if !res.Value.MCQ || len(res.Value.Options) != 2 {
		t.Errorf("custom option rule not applied: %+v", res.Value)
	}
}

func TestEngineOptionsErrors(t *testing.T) {
	tests := []struct {
		name string
		f    File
	}{
		{"bad segment pattern", File{Segments: []segment.Rule{{Name: "x", Pattern: "("}}}},
		{"segment without marker group", File{Segments: []segment.Rule{{Name: "x", Pattern: `^\d+\.`}}}},
		{"option without capture", File{Options: []mcq.Rule{{Name: "x", Pattern: `^[A-Z]:`}}}},
		{"threshold of one", File{Threshold: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := tt.f
			f.applyDefaults()
			if _, err := f.EngineOptions(zerolog.Nop()); err == nil {
				t.Errorf("expected error")
			}
		})
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	b, err := Default().Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, want := range []string{"segments:", "name: numeric", "cell_only: true", "table_density_threshold: 0.5"} {
		if !strings.Contains(string(b), want) {
			t.Errorf("expected %q in:\n%s", want, b)
		}
	}
}
