// Package rules loads the boundary and option rule tables from YAML.
package rules

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/local/questionextractor/internal/classify"
	"github.com/local/questionextractor/internal/engine"
	"github.com/local/questionextractor/internal/linker"
	"github.com/local/questionextractor/internal/mcq"
	"github.com/local/questionextractor/internal/segment"
	"github.com/local/questionextractor/internal/subpart"
)

// File is the on-disk rule configuration. Missing sections keep defaults.
type File struct {
	Segments  []segment.Rule `yaml:"segments"`
	Options   []mcq.Rule     `yaml:"options"`
	Threshold float64        `yaml:"table_density_threshold"`
	MaxDepth  int            `yaml:"max_depth"`
	Linking   Linking        `yaml:"linking"`
}

// Linking holds the asset linker tolerances.
type Linking struct {
	Tolerance  float64 `yaml:"tolerance"`
	MinOverlap float64 `yaml:"min_overlap"`
}

// Default returns the built-in tables.
func Default() *File {
	f := &File{}
	f.applyDefaults()
	return f
}

// LoadFile reads a YAML rule file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	f.applyDefaults()
	return &f, nil
}

func (f *File) applyDefaults() {
	if len(f.Segments) == 0 {
		f.Segments = segment.DefaultRules()
	}
	if len(f.Options) == 0 {
		f.Options = mcq.DefaultRules()
	}
	if f.Threshold <= 0 {
		f.Threshold = classify.DefaultThreshold
	}
	if f.MaxDepth <= 0 {
		f.MaxDepth = subpart.DefaultMaxDepth
	}
	if f.Linking.Tolerance <= 0 {
		f.Linking.Tolerance = linker.DefaultTolerance
	}
	if f.Linking.MinOverlap <= 0 {
		f.Linking.MinOverlap = linker.DefaultMinOverlap
	}
}

// Marshal renders the tables as YAML.
func (f *File) Marshal() ([]byte, error) { return yaml.Marshal(f) }

// EngineOptions compiles the tables into engine options.
func (f *File) EngineOptions(log zerolog.Logger) (engine.Options, error) {
	segs, err := segment.NewRuleSet(f.Segments)
	if err != nil {
		return engine.Options{}, fmt.Errorf("segment rules: %w", err)
	}
	opts, err := mcq.NewExtractor(f.Options)
	if err != nil {
		return engine.Options{}, fmt.Errorf("option rules: %w", err)
	}
	if f.Threshold >= 1 {
		return engine.Options{}, fmt.Errorf("table_density_threshold %.2f must be below 1", f.Threshold)
	}
	parser := subpart.NewParser()
	parser.MaxDepth = f.MaxDepth
	l := linker.New(log)
	l.Tolerance = f.Linking.Tolerance
	l.MinOverlap = f.Linking.MinOverlap
	return engine.Options{
		Threshold: f.Threshold,
		Segments:  segs,
		Options:   opts,
		Parser:    parser,
		Linker:    l,
	}, nil
}
