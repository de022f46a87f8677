package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// AxiomConfig holds Axiom logging configuration.
type AxiomConfig struct {
	Send          bool
	APIKey        string
	OrgID         string
	Dataset       string
	FlushInterval time.Duration
}

// ProvidersConfig holds vision provider credentials and the failover order.
type ProvidersConfig struct {
	OpenAIKey    string
	AnthropicKey string
	GeminiKey    string
	// Targets is "provider:model,provider:model" in failover order.
	Targets string
}

// WorkerConfig defines worker behavior and limits.
type WorkerConfig struct {
	Enabled             bool
	Concurrency         int
	JobTimeout          time.Duration
	RequestTimeout      time.Duration
	JobMaxAttempts      int
	RetryBaseDelay      time.Duration
	RetryMaxDelay       time.Duration
	MaxInflightPerModel int
	BreakerBaseBackoff  time.Duration
	BreakerMaxBackoff   time.Duration
	TempDir             string
	TempMaxAge          time.Duration
}

// QueueConfig defines queue connectivity and names.
type QueueConfig struct {
	RedisURL     string
	Stream       string
	Group        string
	PollInterval time.Duration
	StatusTTL    time.Duration
	ResultTTL    time.Duration
}

// EngineConfig tunes the extraction pipeline.
type EngineConfig struct {
	RulesFile     string
	Threshold     float64
	EnrichTimeout time.Duration
	PageWorkers   int
}

// OutputConfig says where documents and cropped assets are written.
type OutputConfig struct {
	ResultDir string
	S3Bucket  string
}

// StorageConfig configures S3 access for sources and results.
type StorageConfig struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Password  string
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           string
	UploadDir      string
	MaxUploadMB    int64
	SyncTimeout    time.Duration
	LibreOffice    string
	ConvertWorkers int
	ConvertTimeout time.Duration
}

// Config is the top-level configuration.
type Config struct {
	Logging   LoggingConfig
	Axiom     AxiomConfig
	Providers ProvidersConfig
	Worker    WorkerConfig
	Queue     QueueConfig
	Engine    EngineConfig
	Output    OutputConfig
	Storage   StorageConfig
	Server    ServerConfig
}

// FromEnv loads configuration from environment with sensible defaults.
func FromEnv() Config {
	cfg := Config{}

	cfg.Logging = LoggingConfig{
		Level:      getEnv("LOG_LEVEL", "info"),
		Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
		File:       getEnv("LOG_FILE", "logs/questionextractor.log"),
		MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
		MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
		MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
		Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
	}

	baseDataset := getEnv("AXIOM_DATASET", "dev")
	cfg.Axiom = AxiomConfig{
		Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
		APIKey:        getEnv("AXIOM_API_KEY", ""),
		OrgID:         getEnv("AXIOM_ORG_ID", ""),
		Dataset:       baseDataset + "_questionextractor",
		FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
	}

	cfg.Providers = ProvidersConfig{
		OpenAIKey:    getEnv("OPENAI_API_KEY", ""),
		AnthropicKey: getEnv("ANTHROPIC_API_KEY", ""),
		GeminiKey:    getEnv("GEMINI_API_KEY", ""),
		Targets:      getEnv("ENRICH_TARGETS", "openai:gpt-4.1-mini,anthropic:claude-3-5-haiku-latest,gemini:gemini-2.0-flash"),
	}

	cfg.Worker = WorkerConfig{
		Enabled:             parseBool(getEnv("RUN_DISPATCHER", "true")),
		Concurrency:         parseInt(getEnv("WORKER_CONCURRENCY", "2"), 2),
		JobTimeout:          parseDuration(getEnv("JOB_TIMEOUT", "10m"), 10*time.Minute),
		RequestTimeout:      parseDuration(getEnv("REQUEST_TIMEOUT", "60s"), 60*time.Second),
		JobMaxAttempts:      parseInt(getEnv("JOB_MAX_ATTEMPTS", "3"), 3),
		RetryBaseDelay:      parseDuration(getEnv("RETRY_BASE_DELAY", "5s"), 5*time.Second),
		RetryMaxDelay:       parseDuration(getEnv("RETRY_MAX_DELAY", "2m"), 2*time.Minute),
		MaxInflightPerModel: parseInt(getEnv("MAX_INFLIGHT_PER_MODEL", "2"), 2),
		BreakerBaseBackoff:  parseDuration(getEnv("BREAKER_BASE_BACKOFF", "30s"), 30*time.Second),
		BreakerMaxBackoff:   parseDuration(getEnv("BREAKER_MAX_BACKOFF", "5m"), 5*time.Minute),
		TempDir:             getEnv("TEMP_DIR", os.TempDir()),
		TempMaxAge:          parseDuration(getEnv("TEMP_MAX_AGE", "1h"), time.Hour),
	}

	cfg.Queue = QueueConfig{
		RedisURL:     getEnv("REDIS_URL", "redis://localhost:6379"),
		Stream:       getEnv("QUEUE_STREAM", "jobs:extract"),
		Group:        getEnv("QUEUE_GROUP", "workers:extract"),
		PollInterval: parseDuration(getEnv("QUEUE_POLL_INTERVAL", "1s"), time.Second),
		StatusTTL:    parseDuration(getEnv("STATUS_TTL", "72h"), 72*time.Hour),
		ResultTTL:    parseDuration(getEnv("RESULT_TTL", "72h"), 72*time.Hour),
	}

	cfg.Engine = EngineConfig{
		RulesFile:     getEnv("RULES_FILE", ""),
		Threshold:     parseFloat(getEnv("TABLE_DENSITY_THRESHOLD", ""), 0),
		EnrichTimeout: parseDuration(getEnv("ENRICH_TIMEOUT", "20s"), 20*time.Second),
		PageWorkers:   parseInt(getEnv("PAGE_WORKERS", "4"), 4),
	}

	cfg.Storage = StorageConfig{
		Region:    getEnv("AWS_REGION", "us-east-1"),
		Endpoint:  getEnv("AWS_S3_ENDPOINT", ""),
		AccessKey: getEnv("AWS_ACCESS_KEY_ID", ""),
		SecretKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
		Bucket:    getEnv("AWS_S3_BUCKET", ""),
		Password:  getEnv("STORAGE_PASSWORD", ""),
	}

	cfg.Output = OutputConfig{
		ResultDir: getEnv("RESULT_DIR", "uploads/results"),
		S3Bucket:  getEnv("OUTPUT_S3_BUCKET", ""),
	}

	cfg.Server = ServerConfig{
		Port:           getEnv("PORT", "8080"),
		UploadDir:      getEnv("UPLOAD_DIR", "uploads"),
		MaxUploadMB:    int64(parseInt(getEnv("MAX_UPLOAD_MB", "64"), 64)),
		SyncTimeout:    parseDuration(getEnv("SYNC_TIMEOUT", "2m"), 2*time.Minute),
		LibreOffice:    getEnv("LIBREOFFICE_BIN", "soffice"),
		ConvertWorkers: parseInt(getEnv("CONVERT_WORKERS", "2"), 2),
		ConvertTimeout: parseDuration(getEnv("CONVERT_TIMEOUT", "2m"), 2*time.Minute),
	}

	return cfg
}

// Validate reports settings that cannot work together.
func (c Config) Validate() error {
	var errs []error
	if c.Worker.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("WORKER_CONCURRENCY must be at least 1, got %d", c.Worker.Concurrency))
	}
	if c.Worker.JobMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("JOB_MAX_ATTEMPTS must be at least 1, got %d", c.Worker.JobMaxAttempts))
	}
	if c.Worker.RetryMaxDelay < c.Worker.RetryBaseDelay {
		errs = append(errs, errors.New("RETRY_MAX_DELAY is below RETRY_BASE_DELAY"))
	}
	if c.Engine.Threshold < 0 || c.Engine.Threshold >= 1 {
		errs = append(errs, fmt.Errorf("TABLE_DENSITY_THRESHOLD must be in [0,1), got %.2f", c.Engine.Threshold))
	}
	if c.Axiom.Send && (c.Axiom.APIKey == "" || c.Axiom.OrgID == "") {
		errs = append(errs, errors.New("SEND_LOGS_TO_AXIOM needs AXIOM_API_KEY and AXIOM_ORG_ID"))
	}
	if c.Output.S3Bucket != "" && c.Storage.Region == "" && c.Storage.Endpoint == "" {
		errs = append(errs, errors.New("OUTPUT_S3_BUCKET needs AWS_REGION or AWS_S3_ENDPOINT"))
	}
	for _, part := range strings.Split(c.Providers.Targets, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if p, m, ok := strings.Cut(part, ":"); !ok || p == "" || m == "" {
			errs = append(errs, fmt.Errorf("ENRICH_TARGETS entry %q is not provider:model", part))
		}
	}
	return errors.Join(errs...)
}

// S3Enabled reports whether any component needs an S3 client.
func (c Config) S3Enabled() bool {
	return c.Storage.Bucket != "" || c.Output.S3Bucket != "" || c.Storage.Endpoint != ""
}

// Helpers
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func parseFloat(s string, def float64) float64 {
	if s == "" {
		return def
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return def
}

func parseBool(s string) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

func devDefaultPretty() string {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	if env == "dev" || env == "development" || env == "local" {
		return "true"
	}
	return "false"
}
