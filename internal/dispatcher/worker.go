package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/questionextractor/internal/assemble"
	"github.com/local/questionextractor/internal/engine"
	"github.com/local/questionextractor/internal/limiter"
	"github.com/local/questionextractor/internal/metrics"
	"github.com/local/questionextractor/internal/output"
	"github.com/local/questionextractor/internal/queue"
	"github.com/local/questionextractor/internal/source"
	"github.com/local/questionextractor/internal/store"
)

type Queue interface {
	Dequeue(ctx context.Context, consumer string, timeout time.Duration) (queue.Message, bool, error)
	Ack(ctx context.Context, msgID string) error
	IsCancelled(ctx context.Context, jobID string) (bool, error)
	EnqueueDelayed(ctx context.Context, job queue.Job, executeAt time.Time) error
	AddDLQ(ctx context.Context, payload []byte, reason string) error
	IsIdemDone(ctx context.Context, key string) (bool, error)
	MarkIdemDone(ctx context.Context, key string, ttl time.Duration) error
}

type StatusStore interface {
	Set(ctx context.Context, jobID string, st store.Status) error
	Get(ctx context.Context, jobID string) (store.Status, bool, error)
}

type ResultStore interface {
	Save(ctx context.Context, jobID string, doc []byte) error
}

type Fetcher interface {
	Fetch(ctx context.Context, ref string) (*source.Document, error)
}

type Runner interface {
	Run(ctx context.Context, in engine.Input) (*assemble.Document, error)
}

type Writer interface {
	Write(ctx context.Context, jobID, localPDF string, doc *assemble.Document) (output.Written, error)
}

// depther is implemented by queues that can report their lengths.
type depther interface {
	Depths(ctx context.Context) (int64, int64, int64, error)
}

type Config struct {
	Concurrency    int
	Consumer       string
	DequeueTimeout time.Duration
	JobTimeout     time.Duration
	MaxAttempts    int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	IdemTTL        time.Duration
	// TempDir is swept for stale downloads every JanitorInterval.
	TempDir         string
	TempMaxAge      time.Duration
	JanitorInterval time.Duration
}

func (c *Config) defaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 2
	}
	if c.Consumer == "" {
		host, _ := os.Hostname()
		c.Consumer = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	if c.DequeueTimeout <= 0 {
		c.DequeueTimeout = 2 * time.Second
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 10 * time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 5 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 2 * time.Minute
	}
	if c.IdemTTL <= 0 {
		c.IdemTTL = 24 * time.Hour
	}
	if c.TempMaxAge <= 0 {
		c.TempMaxAge = time.Hour
	}
	if c.JanitorInterval <= 0 {
		c.JanitorInterval = 10 * time.Minute
	}
}

// Deps are the collaborators of a Worker. Results may be nil.
type Deps struct {
	Queue   Queue
	Status  StatusStore
	Results ResultStore
	Source  Fetcher
	Engine  Runner
	Output  Writer
}

// Worker runs extraction jobs from the queue.
type Worker struct {
	cfg  Config
	deps Deps
	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
	now  func() time.Time
}

func New(cfg Config, deps Deps) *Worker {
	cfg.defaults()
	return &Worker{cfg: cfg, deps: deps, stop: make(chan struct{}), now: time.Now}
}

// Start launches Concurrency consumers plus the janitor.
func (w *Worker) Start() {
	for i := 0; i < w.cfg.Concurrency; i++ {
		w.wg.Add(1)
		go w.loop(i)
	}
	w.wg.Add(1)
	go w.janitor()
}

// Stop signals the loops and waits for in-flight jobs or ctx.
func (w *Worker) Stop(ctx context.Context) error {
	w.once.Do(func() { close(w.stop) })
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop(id int) {
	defer w.wg.Done()
	consumer := fmt.Sprintf("%s-%d", w.cfg.Consumer, id)
	log.Info().Int("worker", id).Str("consumer", consumer).Msg("dispatcher worker started")
	for {
		select {
		case <-w.stop:
			log.Info().Int("worker", id).Msg("dispatcher worker stopped")
			return
		default:
		}

		msg, ok, err := w.deps.Queue.Dequeue(context.Background(), consumer, w.cfg.DequeueTimeout)
		if err != nil {
			log.Error().Err(err).Msg("queue dequeue error")
			time.Sleep(500 * time.Millisecond)
			continue
		}
		if !ok {
			continue
		}
		w.Handle(context.Background(), msg)
	}
}

func (w *Worker) janitor() {
	defer w.wg.Done()
	t := time.NewTicker(w.cfg.JanitorInterval)
	defer t.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-t.C:
			if n := source.CleanupTemps(w.cfg.TempDir, w.cfg.TempMaxAge); n > 0 {
				log.Info().Int("removed", n).Msg("stale temp files removed")
			}
			if d, ok := w.deps.Queue.(depther); ok {
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				_, _, _, _ = d.Depths(ctx)
				cancel()
			}
		}
	}
}

// Handle processes one delivery and always acknowledges it: failures are
// either re-enqueued with a delay or moved to the DLQ.
func (w *Worker) Handle(ctx context.Context, msg queue.Message) {
	defer func() {
		if err := w.deps.Queue.Ack(ctx, msg.ID); err != nil {
			log.Error().Err(err).Str("msg_id", msg.ID).Msg("ack failed")
		}
	}()
	if msg.Err != nil {
		log.Error().Err(msg.Err).Str("msg_id", msg.ID).Msg("undecodable job payload")
		_ = w.deps.Queue.AddDLQ(ctx, msg.Raw, msg.Err.Error())
		metrics.IncJob("invalid")
		return
	}
	job := msg.Job
	logger := log.With().Str("job_id", job.JobID).Int("attempt", job.Attempt).Logger()

	if cancelled, _ := w.deps.Queue.IsCancelled(ctx, job.JobID); cancelled {
		logger.Warn().Msg("job cancelled before processing; skipping")
		w.setCancelled(ctx, job.JobID)
		metrics.IncJob("cancelled")
		return
	}
	if done, _ := w.deps.Queue.IsIdemDone(ctx, job.IdempotencyKey); done {
		logger.Info().Str("key", job.IdempotencyKey).Msg("job already done; skipping duplicate")
		metrics.IncJob("duplicate")
		return
	}

	start := w.now()
	doc, written, err := w.process(ctx, job)
	switch {
	case errors.Is(err, errCancelled):
		logger.Warn().Msg("job cancelled during processing")
		w.setCancelled(ctx, job.JobID)
		metrics.IncJob("cancelled")
	case err != nil && isTransientError(err) && job.Attempt < w.cfg.MaxAttempts:
		delay := limiter.Backoff(w.cfg.BaseBackoff, w.cfg.MaxBackoff, int64(job.Attempt))
		next := job
		next.Attempt++
		if qerr := w.deps.Queue.EnqueueDelayed(ctx, next, w.now().Add(delay)); qerr != nil {
			logger.Error().Err(qerr).Msg("retry enqueue failed")
			w.fail(ctx, job, fmt.Errorf("%v; retry enqueue failed: %w", err, qerr))
			return
		}
		logger.Warn().Err(err).Dur("delay", delay).Msg("job failed; retry scheduled")
		w.update(ctx, job.JobID, func(st *store.Status) {
			st.Status = store.StateQueued
			st.Progress = 0
			st.Message = fmt.Sprintf("retry %d/%d in %s: %v", next.Attempt, w.cfg.MaxAttempts, delay, err)
		})
		metrics.IncJob("retried")
	case err != nil:
		w.fail(ctx, job, err)
	default:
		_ = w.deps.Queue.MarkIdemDone(ctx, job.IdempotencyKey, w.cfg.IdemTTL)
		w.finish(ctx, job, doc, written, start)
	}
}

// Extract runs job inline, bypassing the queue, and records its status
// like a queued job.
func (w *Worker) Extract(ctx context.Context, job queue.Job) (*assemble.Document, error) {
	start := w.now()
	doc, written, err := w.process(ctx, job)
	if err != nil {
		end := w.now()
		w.update(ctx, job.JobID, func(st *store.Status) {
			st.Status, st.Message, st.End = store.StateFailed, err.Error(), &end
		})
		metrics.IncJob("failed")
		return nil, err
	}
	w.finish(ctx, job, doc, written, start)
	return doc, nil
}

func (w *Worker) finish(ctx context.Context, job queue.Job, doc *assemble.Document, written output.Written, start time.Time) {
	end := w.now()
	outcome := "success"
	state, message := store.StateSuccess, "completed"
	if doc.Status == assemble.StatusFailed {
		outcome, state = "document_failed", store.StateFailed
		message = "extraction failed"
		if doc.Error != nil {
			message = fmt.Sprintf("%s: %s", doc.Error.Reason, doc.Error.Detail)
		}
	}
	w.update(ctx, job.JobID, func(st *store.Status) {
		st.Status, st.Progress, st.Message, st.End = state, 100, message, &end
		st.Metadata["pdf_name"] = doc.Metadata.PDFName
		st.Metadata["total_pages"] = doc.Metadata.TotalPages
		st.Metadata["total_questions"] = doc.Stats.TotalQuestions
		st.Metadata["result_local_path"] = written.JSONPath
		if written.S3URL != "" {
			st.Metadata["result_s3_url"] = written.S3URL
		}
	})
	log.Info().Str("job_id", job.JobID).Str("outcome", outcome).Int("questions", doc.Stats.TotalQuestions).
		Dur("duration", end.Sub(start)).Msg("job finished")
	metrics.IncJob(outcome)
}

var errCancelled = errors.New("job cancelled")

func (w *Worker) process(ctx context.Context, job queue.Job) (*assemble.Document, output.Written, error) {
	jctx, cancel := context.WithTimeout(ctx, w.cfg.JobTimeout)
	defer cancel()

	now := w.now()
	w.update(ctx, job.JobID, func(st *store.Status) {
		st.Status, st.Progress, st.Message = store.StateProcessing, 10, "fetching document"
		if st.Start == nil {
			st.Start = &now
		}
		st.Metadata["attempt"] = job.Attempt
		st.Metadata["file_path"] = job.FilePath
	})
	src, err := w.deps.Source.Fetch(jctx, job.FilePath)
	if err != nil {
		return nil, output.Written{}, fmt.Errorf("fetch %s: %w", job.FilePath, err)
	}
	defer src.Close()

	w.update(ctx, job.JobID, func(st *store.Status) {
		st.Progress, st.Message = 30, "extracting questions"
		st.Metadata["total_pages"] = src.Pages
		if src.Text.Checked {
			st.Metadata["text_layer"] = src.Text.OK
		}
	})
	doc, err := w.deps.Engine.Run(jctx, engine.Input{PDFPath: src.Path, PDFName: src.Name, Enrich: job.Enrich})
	if err != nil {
		return nil, output.Written{}, Retryable("engine", err)
	}

	// Uploads of cancelled jobs are skipped.
	if cancelled, _ := w.deps.Queue.IsCancelled(ctx, job.JobID); cancelled {
		return nil, output.Written{}, errCancelled
	}
	w.update(ctx, job.JobID, func(st *store.Status) { st.Progress, st.Message = 80, "writing result" })
	doc.Metadata.PDFPath = job.FilePath
	written, err := w.deps.Output.Write(jctx, job.JobID, src.Path, doc)
	if err != nil {
		return nil, written, Retryable("output", err)
	}
	if w.deps.Results != nil {
		data, err := assemble.Marshal(doc)
		if err != nil {
			return nil, written, err
		}
		if err := w.deps.Results.Save(ctx, job.JobID, data); err != nil {
			return nil, written, Retryable("result store", err)
		}
	}
	return doc, written, nil
}

func (w *Worker) fail(ctx context.Context, job queue.Job, err error) {
	log.Error().Err(err).Str("job_id", job.JobID).Int("attempt", job.Attempt).Msg("job failed; moving to DLQ")
	if payload, perr := job.Encode(); perr == nil {
		_ = w.deps.Queue.AddDLQ(ctx, payload, err.Error())
	}
	end := w.now()
	w.update(ctx, job.JobID, func(st *store.Status) {
		st.Status, st.Message, st.End = store.StateFailed, err.Error(), &end
	})
	metrics.IncJob("failed")
}

func (w *Worker) setCancelled(ctx context.Context, jobID string) {
	end := w.now()
	w.update(ctx, jobID, func(st *store.Status) {
		if st.Status == store.StateCancelled {
			return
		}
		st.Status, st.Progress, st.Message, st.End = store.StateCancelled, 0, "Cancelled", &end
	})
}

// update applies fn to the stored status, creating it when missing.
func (w *Worker) update(ctx context.Context, jobID string, fn func(st *store.Status)) {
	st, _, err := w.deps.Status.Get(ctx, jobID)
	if err != nil {
		log.Warn().Err(err).Str("job_id", jobID).Msg("status read failed")
	}
	if st.Metadata == nil {
		st.Metadata = map[string]any{}
	}
	fn(&st)
	if err := w.deps.Status.Set(ctx, jobID, st); err != nil {
		log.Warn().Err(err).Str("job_id", jobID).Msg("status write failed")
	}
}
