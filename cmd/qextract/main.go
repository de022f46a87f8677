package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	cfgpkg "github.com/local/questionextractor/internal/config"
	"github.com/local/questionextractor/internal/converter"
	"github.com/local/questionextractor/internal/engine"
	"github.com/local/questionextractor/internal/enrich"
	"github.com/local/questionextractor/internal/geometry"
	"github.com/local/questionextractor/internal/limiter"
	logpkg "github.com/local/questionextractor/internal/logger"
	"github.com/local/questionextractor/internal/output"
	"github.com/local/questionextractor/internal/rules"
	"github.com/local/questionextractor/internal/source"
)

type globals struct {
	rulesFile string
	logLevel  string
}

func main() {
	_ = godotenv.Load()
	g := &globals{}
	root := &cobra.Command{
		Use:           "qextract",
		Short:         "Extract structured questions from exam PDFs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logpkg.Init(logpkg.Options{Service: "qextract", Level: g.logLevel, Pretty: true, Stderr: true})
		},
	}
	root.PersistentFlags().StringVar(&g.rulesFile, "rules", os.Getenv("RULES_FILE"), "YAML rule file overriding the built-in tables")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "info", "log level: debug|info|warn|error")

	root.AddCommand(extractCmd(g), batchCmd(g), rulesCmd(g))

	err := root.Execute()
	logpkg.Close()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (g *globals) loadRules() (*rules.File, error) {
	if g.rulesFile == "" {
		return rules.Default(), nil
	}
	return rules.LoadFile(g.rulesFile)
}

// pipeline bundles what one extraction needs.
type pipeline struct {
	resolver *source.Resolver
	engine   *engine.Engine
	output   *output.Manager
}

func (g *globals) newPipeline(ctx context.Context, outDir string, withEnrich bool) (*pipeline, error) {
	cfg := cfgpkg.FromEnv()
	rf, err := g.loadRules()
	if err != nil {
		return nil, err
	}
	if cfg.Engine.Threshold > 0 {
		rf.Threshold = cfg.Engine.Threshold
	}
	opts, err := rf.EngineOptions(log.Logger)
	if err != nil {
		return nil, err
	}
	opts.EnrichTimeout = cfg.Engine.EnrichTimeout
	if withEnrich {
		breaker := limiter.NewLocal(limiter.Options{
			MaxInflight: cfg.Worker.MaxInflightPerModel,
			BaseBackoff: cfg.Worker.BreakerBaseBackoff,
			MaxBackoff:  cfg.Worker.BreakerMaxBackoff,
		})
		regions, err := enrich.Setup(ctx, enrich.Keys{
			OpenAI:    cfg.Providers.OpenAIKey,
			Anthropic: cfg.Providers.AnthropicKey,
			Gemini:    cfg.Providers.GeminiKey,
		}, cfg.Providers.Targets, breaker, cfg.Worker.RequestTimeout)
		if err != nil {
			return nil, err
		}
		if regions != nil {
			opts.Enricher = regions
		}
	}
	if outDir == "" {
		outDir = cfg.Output.ResultDir
	}
	return &pipeline{
		resolver: &source.Resolver{
			HTTP:      &http.Client{Timeout: cfg.Worker.RequestTimeout},
			Converter: converter.NewLibreOffice(cfg.Server.LibreOffice, cfg.Server.ConvertWorkers, cfg.Server.ConvertTimeout),
			TempDir:   cfg.Worker.TempDir,
			ProbeText: true,
		},
		engine: engine.New(geometry.NewReader(cfg.Engine.PageWorkers, log.Logger), opts, log.Logger),
		output: output.NewManager(outDir, nil, ""),
	}, nil
}
