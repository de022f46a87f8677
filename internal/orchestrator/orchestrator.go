package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/questionextractor/internal/assemble"
	"github.com/local/questionextractor/internal/converter"
	"github.com/local/questionextractor/internal/filetype"
	"github.com/local/questionextractor/internal/metrics"
	"github.com/local/questionextractor/internal/queue"
	"github.com/local/questionextractor/internal/source"
	"github.com/local/questionextractor/internal/statuscheck"
	"github.com/local/questionextractor/internal/store"
)

type Queue interface {
	Enqueue(ctx context.Context, job queue.Job) error
	CancelJob(ctx context.Context, jobID string) error
}

type StatusStore interface {
	Set(ctx context.Context, jobID string, st store.Status) error
	Get(ctx context.Context, jobID string) (store.Status, bool, error)
}

type ResultStore interface {
	Get(ctx context.Context, jobID string) ([]byte, bool, error)
}

// Extractor runs a job inline for /extract_sync.
type Extractor interface {
	Extract(ctx context.Context, job queue.Job) (*assemble.Document, error)
}

// HealthChecker reports dependency status for /status.
type HealthChecker interface {
	Summary(ctx context.Context) statuscheck.Summary
}

type Dependencies struct {
	Queue   Queue
	Status  StatusStore
	Results ResultStore
	Sync    Extractor
	Health  HealthChecker
	// DefaultBucket resolves bare keys.
	DefaultBucket string
	UploadDir     string
	SyncTimeout   time.Duration
	MaxUploadMB   int64
}

type Orchestrator struct {
	deps Dependencies
}

func New(deps Dependencies) *Orchestrator {
	if deps.UploadDir == "" {
		deps.UploadDir = "uploads"
	}
	if deps.SyncTimeout <= 0 {
		deps.SyncTimeout = 2 * time.Minute
	}
	if deps.MaxUploadMB <= 0 {
		deps.MaxUploadMB = 64
	}
	return &Orchestrator{deps: deps}
}

func (o *Orchestrator) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/status", o.handleStatus)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/extract", o.handleExtract)
	mux.HandleFunc("/extract_upload", o.handleExtractUpload)
	mux.HandleFunc("/extract_sync", o.handleExtractSync)
	mux.HandleFunc("/progress/", o.handleProgress)
	mux.HandleFunc("/result/", o.handleResult)
	mux.HandleFunc("/cancel", o.handleCancelJob)
}

type extractReq struct {
	FilePath string `json:"file_path"`
	FileURL  string `json:"file_url"`
	UserName string `json:"user_name"`
	UserID   string `json:"user_id"`
	Enrich   bool   `json:"enrich"`
	Source   string `json:"source,omitempty"`
}

func (r extractReq) ref() string {
	if r.FilePath != "" {
		return r.FilePath
	}
	return r.FileURL
}

func (r extractReq) user() string {
	if r.UserName != "" {
		return r.UserName
	}
	return r.UserID
}

type extractResp struct {
	Status   string         `json:"status"`
	JobID    string         `json:"job_id"`
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func decodeExtractReq(w http.ResponseWriter, r *http.Request) (extractReq, bool) {
	var req extractReq
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return req, false
	}
	if strings.TrimSpace(req.ref()) == "" {
		http.Error(w, "missing file_path or file_url", http.StatusBadRequest)
		return req, false
	}
	if req.user() == "" {
		http.Error(w, "missing user_name or user_id", http.StatusBadRequest)
		return req, false
	}
	return req, true
}

// handleExtract enqueues a job for a document reference.
func (o *Orchestrator) handleExtract(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	req, ok := decodeExtractReq(w, r)
	if !ok {
		return
	}
	filePath := source.Normalize(req.ref(), o.deps.DefaultBucket)
	job := queue.NewJob(uuid.NewString(), filePath, req.user(), req.Source, req.Enrich)
	if !o.enqueue(w, r, job, nil) {
		return
	}
	writeJSON(w, http.StatusCreated, extractResp{
		Status:   "ok",
		JobID:    job.JobID,
		Message:  "Extraction job created successfully",
		Metadata: map[string]any{"file_path": filePath, "enrich": job.Enrich, "timestamp": time.Now().Format(time.RFC3339)},
	})
}

// handleExtractUpload accepts multipart/form-data uploads, stores them in
// the upload dir and enqueues a job for the stored copy.
func (o *Orchestrator) handleExtractUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, o.deps.MaxUploadMB<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "invalid multipart form", http.StatusBadRequest)
		return
	}
	file, hdr, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file", http.StatusBadRequest)
		return
	}
	defer file.Close()
	user := r.FormValue("user_name")
	if user == "" {
		http.Error(w, "missing user_name", http.StatusBadRequest)
		return
	}
	enrich := r.FormValue("enrich") == "on" || r.FormValue("enrich") == "true"

	if err := os.MkdirAll(o.deps.UploadDir, 0o755); err != nil {
		http.Error(w, "cannot create upload dir", http.StatusInternalServerError)
		return
	}
	jobID := uuid.NewString()
	name := filepath.Base(hdr.Filename)
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "upload.pdf"
	}
	// job prefix avoids collisions
	localPath := filepath.Join(o.deps.UploadDir, fmt.Sprintf("%s_%s", jobID, name))
	out, err := os.Create(localPath)
	if err != nil {
		http.Error(w, "cannot save upload", http.StatusInternalServerError)
		return
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		os.Remove(localPath)
		http.Error(w, "write failed", http.StatusInternalServerError)
		return
	}
	_ = out.Close()

	info, err := filetype.Detect(localPath)
	if err != nil || !info.Supported() {
		os.Remove(localPath)
		msg := "unsupported file type"
		if err == nil {
			msg = info.Description
		}
		http.Error(w, msg, http.StatusUnsupportedMediaType)
		return
	}

	job := queue.NewJob(jobID, "file://"+localPath, user, "upload", enrich)
	if !o.enqueue(w, r, job, map[string]any{"file_local": localPath, "file_type": info.MIMEType}) {
		os.Remove(localPath)
		return
	}
	writeJSON(w, http.StatusCreated, extractResp{Status: "ok", JobID: jobID, Message: "Upload job created"})
}

func (o *Orchestrator) enqueue(w http.ResponseWriter, r *http.Request, job queue.Job, meta map[string]any) bool {
	start := time.Now()
	md := map[string]any{"file_path": job.FilePath, "user": job.User, "source": job.Source, "enrich": job.Enrich}
	for k, v := range meta {
		md[k] = v
	}
	_ = o.deps.Status.Set(r.Context(), job.JobID, store.Status{Status: store.StateQueued, Message: "queued", Start: &start, Metadata: md})
	if err := o.deps.Queue.Enqueue(r.Context(), job); err != nil {
		log.Error().Err(err).Str("job_id", job.JobID).Msg("enqueue failed")
		end := time.Now()
		_ = o.deps.Status.Set(r.Context(), job.JobID, store.Status{Status: store.StateFailed, Message: "queue unavailable", Start: &start, End: &end, Metadata: md})
		http.Error(w, "queue unavailable", http.StatusServiceUnavailable)
		return false
	}
	log.Info().Str("job_id", job.JobID).Str("file_path", job.FilePath).Str("user", job.User).Msg("job enqueued")
	return true
}

// handleExtractSync runs the extraction inside the request and returns the document.
func (o *Orchestrator) handleExtractSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if o.deps.Sync == nil {
		http.Error(w, "synchronous extraction disabled", http.StatusNotImplemented)
		return
	}
	req, ok := decodeExtractReq(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), o.deps.SyncTimeout)
	defer cancel()
	job := queue.NewJob(uuid.NewString(), source.Normalize(req.ref(), o.deps.DefaultBucket), req.user(), "sync", req.Enrich)
	start := time.Now()
	_ = o.deps.Status.Set(ctx, job.JobID, store.Status{Status: store.StateProcessing, Message: "sync", Start: &start,
		Metadata: map[string]any{"file_path": job.FilePath, "user": job.User, "source": job.Source}})

	doc, err := o.deps.Sync.Extract(ctx, job)
	if err != nil {
		log.Warn().Err(err).Str("job_id", job.JobID).Msg("sync extraction failed")
		http.Error(w, err.Error(), syncErrorStatus(err))
		return
	}
	data, err := assemble.Marshal(doc)
	if err != nil {
		http.Error(w, "encode failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Job-ID", job.JobID)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func syncErrorStatus(err error) int {
	switch {
	case errors.Is(err, source.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, source.ErrUnsupported):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, source.ErrInvalidPDF), errors.Is(err, converter.ErrProtected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (o *Orchestrator) handleProgress(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/progress/")
	if id == "" {
		http.Error(w, "missing job id", http.StatusBadRequest)
		return
	}
	st, ok, err := o.deps.Status.Get(r.Context(), id)
	if err != nil {
		http.Error(w, "error", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    st.Status == store.StateSuccess,
		"job_id":     id,
		"status":     st.Status,
		"progress":   st.Progress,
		"message":    st.Message,
		"start_time": st.Start,
		"end_time":   st.End,
		"metadata":   st.Metadata,
	})
}

// handleResult serves the stored document JSON, or 202 while the job runs.
func (o *Orchestrator) handleResult(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/result/")
	st, ok, err := o.deps.Status.Get(r.Context(), id)
	if err != nil {
		http.Error(w, "error", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if o.deps.Results != nil {
		b, found, err := o.deps.Results.Get(r.Context(), id)
		if err != nil {
			http.Error(w, "failed to read result", http.StatusInternalServerError)
			return
		}
		if found {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write(b)
			return
		}
	}
	if st.Terminal() {
		writeJSON(w, http.StatusConflict, map[string]any{"job_id": id, "status": st.Status, "message": st.Message})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"job_id": id, "status": st.Status, "progress": st.Progress, "message": "not ready"})
}

type cancelReq struct {
	JobID  string `json:"job_id"`
	Reason string `json:"reason,omitempty"`
}

func (o *Orchestrator) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req cancelReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.JobID == "" {
		http.Error(w, "missing job_id", http.StatusBadRequest)
		return
	}
	st, ok, _ := o.deps.Status.Get(r.Context(), req.JobID)
	if ok && st.Terminal() {
		writeJSON(w, http.StatusConflict, map[string]any{"success": false, "job_id": req.JobID, "status": st.Status})
		return
	}
	// workers check the cancel set before starting and before writing results
	if err := o.deps.Queue.CancelJob(r.Context(), req.JobID); err != nil {
		http.Error(w, "cancel failed", http.StatusInternalServerError)
		return
	}
	st.Status = store.StateCancelled
	st.Progress = 0
	if req.Reason != "" {
		st.Message = fmt.Sprintf("Cancelled: %s", req.Reason)
	} else {
		st.Message = "Cancelled"
	}
	now := time.Now()
	st.End = &now
	_ = o.deps.Status.Set(r.Context(), req.JobID, st)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "job_id": req.JobID, "status": store.StateCancelled})
}

func (o *Orchestrator) handleStatus(w http.ResponseWriter, r *http.Request) {
	if o.deps.Health == nil {
		http.Error(w, "status checks disabled", http.StatusNotImplemented)
		return
	}
	s := o.deps.Health.Summary(r.Context())
	code := http.StatusOK
	if !s.Healthy() {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, s)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
