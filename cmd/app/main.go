package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	cfgpkg "github.com/local/questionextractor/internal/config"
	"github.com/local/questionextractor/internal/converter"
	"github.com/local/questionextractor/internal/dispatcher"
	"github.com/local/questionextractor/internal/engine"
	"github.com/local/questionextractor/internal/enrich"
	"github.com/local/questionextractor/internal/geometry"
	"github.com/local/questionextractor/internal/limiter"
	logpkg "github.com/local/questionextractor/internal/logger"
	"github.com/local/questionextractor/internal/metrics"
	"github.com/local/questionextractor/internal/orchestrator"
	"github.com/local/questionextractor/internal/output"
	"github.com/local/questionextractor/internal/queue"
	"github.com/local/questionextractor/internal/rules"
	"github.com/local/questionextractor/internal/source"
	"github.com/local/questionextractor/internal/statuscheck"
	"github.com/local/questionextractor/internal/storage"
	"github.com/local/questionextractor/internal/store"
)

func main() {
	_ = godotenv.Load()
	cfg := cfgpkg.FromEnv()

	if err := logpkg.Init(logpkg.Options{
		Service:      "questionextractor",
		Level:        cfg.Logging.Level,
		Pretty:       cfg.Logging.Pretty,
		File:         cfg.Logging.File,
		MaxSizeMB:    cfg.Logging.MaxSizeMB,
		MaxBackups:   cfg.Logging.MaxBackups,
		MaxAgeDays:   cfg.Logging.MaxAgeDays,
		Compress:     cfg.Logging.Compress,
		SendToAxiom:  cfg.Axiom.Send && cfg.Axiom.APIKey != "",
		AxiomAPIKey:  cfg.Axiom.APIKey,
		AxiomOrgID:   cfg.Axiom.OrgID,
		AxiomDataset: cfg.Axiom.Dataset,
		AxiomFlush:   cfg.Axiom.FlushInterval,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
	}
	defer logpkg.Close()

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	metrics.Init()

	ctx := context.Background()

	// Redis backs the queue, job status, results and the provider breaker.
	rdb, err := store.Connect(ctx, cfg.Queue.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	rq, err := queue.NewWithClient(rdb, cfg.Queue.Stream, cfg.Queue.Group, cfg.Queue.PollInterval)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init queue")
	}
	defer rq.Close()
	statusStore := store.NewRedisStatus(rdb, cfg.Queue.StatusTTL)
	resultStore := store.NewResultStore(rdb, cfg.Queue.ResultTTL)

	// S3 is optional
	var (
		s3c      *storage.S3Client
		download source.Downloader
		upload   output.Uploader
		bucketPg statuscheck.BucketPinger
	)
	if cfg.S3Enabled() {
		s3c, err = storage.NewS3Client(ctx, storage.Options{
			Region:    cfg.Storage.Region,
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			Password:  cfg.Storage.Password,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init s3 client")
		}
		download, upload, bucketPg = s3c, s3c, s3c
	}

	soffice := converter.NewLibreOffice(cfg.Server.LibreOffice, cfg.Server.ConvertWorkers, cfg.Server.ConvertTimeout)
	resolver := &source.Resolver{
		S3:            download,
		HTTP:          &http.Client{Timeout: cfg.Worker.RequestTimeout},
		Converter:     soffice,
		DefaultBucket: cfg.Storage.Bucket,
		TempDir:       cfg.Worker.TempDir,
		ProbeText:     true,
	}

	ruleFile := rules.Default()
	if cfg.Engine.RulesFile != "" {
		if ruleFile, err = rules.LoadFile(cfg.Engine.RulesFile); err != nil {
			log.Fatal().Err(err).Str("file", cfg.Engine.RulesFile).Msg("failed to load rules")
		}
	}
	if cfg.Engine.Threshold > 0 {
		ruleFile.Threshold = cfg.Engine.Threshold
	}
	engOpts, err := ruleFile.EngineOptions(log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid rules")
	}
	engOpts.EnrichTimeout = cfg.Engine.EnrichTimeout

	breaker := limiter.NewWithClient(rdb, limiter.Options{
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
		log.Fatal().Err(err).Msg("failed to init vision providers")
	}
	if regions != nil {
		engOpts.Enricher = regions
	}
	eng := engine.New(geometry.NewReader(cfg.Engine.PageWorkers, log.Logger), engOpts, log.Logger)

	results := output.NewManager(cfg.Output.ResultDir, upload, cfg.Output.S3Bucket)

	worker := dispatcher.New(dispatcher.Config{
		Concurrency: cfg.Worker.Concurrency,
		JobTimeout:  cfg.Worker.JobTimeout,
		MaxAttempts: cfg.Worker.JobMaxAttempts,
		BaseBackoff: cfg.Worker.RetryBaseDelay,
		MaxBackoff:  cfg.Worker.RetryMaxDelay,
		TempDir:     cfg.Worker.TempDir,
		TempMaxAge:  cfg.Worker.TempMaxAge,
	}, dispatcher.Deps{
		Queue:   rq,
		Status:  statusStore,
		Results: resultStore,
		Source:  resolver,
		Engine:  eng,
		Output:  results,
	})
	if cfg.Worker.Enabled {
		worker.Start()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			worker.Stop(sctx)
		}()
	}

	health := statuscheck.New(statuscheck.Options{
		Redis:        rq,
		S3:           bucketPg,
		S3Bucket:     cfg.Storage.Bucket,
		Converter:    soffice,
		OpenAIKey:    cfg.Providers.OpenAIKey,
		AnthropicKey: cfg.Providers.AnthropicKey,
		GeminiKey:    cfg.Providers.GeminiKey,
	})

	orch := orchestrator.New(orchestrator.Dependencies{
		Queue:         rq,
		Status:        statusStore,
		Results:       resultStore,
		Sync:          worker,
		Health:        health,
		DefaultBucket: cfg.Storage.Bucket,
		UploadDir:     cfg.Server.UploadDir,
		SyncTimeout:   cfg.Server.SyncTimeout,
		MaxUploadMB:   cfg.Server.MaxUploadMB,
	})
	mux := http.NewServeMux()
	orch.RegisterRoutes(mux)

	srv := &http.Server{Addr: ":" + cfg.Server.Port, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Info().Str("port", cfg.Server.Port).Bool("dispatcher", cfg.Worker.Enabled).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(sctx)
	log.Info().Msg("shutdown complete")
}
