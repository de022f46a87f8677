package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/local/questionextractor/internal/assemble"
	"github.com/local/questionextractor/internal/engine"
	"github.com/local/questionextractor/internal/output"
	"github.com/local/questionextractor/internal/queue"
	"github.com/local/questionextractor/internal/source"
	"github.com/local/questionextractor/internal/store"
)

type fakeQueue struct {
	mu        sync.Mutex
	acked     []string
	delayed   []queue.Job
	delayedAt []time.Time
	dlq       []string
	cancelled map[string]bool
	idem      map[string]bool
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{cancelled: map[string]bool{}, idem: map[string]bool{}}
}

func (q *fakeQueue) Dequeue(context.Context, string, time.Duration) (queue.Message, bool, error) {
	return queue.Message{}, false, nil
}

func (q *fakeQueue) Ack(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked = append(q.acked, id)
	return nil
}

func (q *fakeQueue) IsCancelled(_ context.Context, id string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cancelled[id], nil
}

func (q *fakeQueue) EnqueueDelayed(_ context.Context, j queue.Job, at time.Time) error {
	q.delayed = append(q.delayed, j)
	q.delayedAt = append(q.delayedAt, at)
	return nil
}

func (q *fakeQueue) AddDLQ(_ context.Context, _ []byte, reason string) error {
	q.dlq = append(q.dlq, reason)
	return nil
}

func (q *fakeQueue) IsIdemDone(_ context.Context, key string) (bool, error) { return q.idem[key], nil }

func (q *fakeQueue) MarkIdemDone(_ context.Context, key string, _ time.Duration) error {
	q.idem[key] = true
	return nil
}

type memStatus struct{ m map[string]store.Status }

func (s *memStatus) Set(_ context.Context, id string, st store.Status) error {
	s.m[id] = st
	return nil
}

func (s *memStatus) Get(_ context.Context, id string) (store.Status, bool, error) {
	st, ok := s.m[id]
	return st, ok, nil
}

type memResults map[string][]byte

func (r memResults) Save(_ context.Context, id string, doc []byte) error {
	r[id] = doc
	return nil
}

type fakeSource struct {
	err   error
	calls int
}

func (f *fakeSource) Fetch(_ context.Context, ref string) (*source.Document, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &source.Document{Path: "/tmp/qx-src-1.pdf", Name: "exam.pdf", Pages: 2}, nil
}

type fakeEngine struct{ doc *assemble.Document }

func (f fakeEngine) Run(_ context.Context, in engine.Input) (*assemble.Document, error) {
	d := *f.doc
	d.Metadata.PDFPath = in.PDFPath
	d.Metadata.PDFName = in.PDFName
	return &d, nil
}

type fakeWriter struct{ localPDF, pdfPath string }

func (f *fakeWriter) Write(_ context.Context, jobID, localPDF string, doc *assemble.Document) (output.Written, error) {
	f.localPDF, f.pdfPath = localPDF, doc.Metadata.PDFPath
	return output.Written{JSONPath: "/results/exam/exam.json"}, nil
}

type harness struct {
	w       *Worker
	q       *fakeQueue
	status  *memStatus
	results memResults
	src     *fakeSource
	out     *fakeWriter
}

func newHarness(srcErr error, doc *assemble.Document) *harness {
	h := &harness{
		q:       newFakeQueue(),
		status:  &memStatus{m: map[string]store.Status{}},
		results: memResults{},
		src:     &fakeSource{err: srcErr},
		out:     &fakeWriter{},
	}
	if doc == nil {
		doc = &assemble.Document{Status: assemble.StatusOK, Stats: assemble.Stats{TotalQuestions: 3}}
	}
	h.w = New(Config{MaxAttempts: 3, BaseBackoff: time.Second, MaxBackoff: time.Minute}, Deps{
		Queue: h.q, Status: h.status, Results: h.results, Source: h.src,
		Engine: fakeEngine{doc: doc}, Output: h.out,
	})
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h.w.now = func() time.Time { return fixed }
	return h
}

func message(attempt int) queue.Message {
	j := queue.NewJob("job-1", "s3://b/exam.pdf", "ana", "api", false)
	j.Attempt = attempt
	return queue.Message{ID: "1-0", Job: j}
}

func TestHandleSuccess(t *testing.T) {
	h := newHarness(nil, nil)
	h.w.Handle(context.Background(), message(1))

	st := h.status.m["job-1"]
	if st.Status != store.StateSuccess || st.Progress != 100 || st.End == nil {
		t.Errorf("unexpected status %+v", st)
	}
	if st.Metadata["total_questions"] != 3 || st.Metadata["result_local_path"] != "/results/exam/exam.json" {
		t.Errorf("unexpected metadata %v", st.Metadata)
	}
	if _, ok := h.results["job-1"]; !ok {
		t.Errorf("expected result stored")
	}
	if h.out.localPDF != "/tmp/qx-src-1.pdf" || h.out.pdfPath != "s3://b/exam.pdf" {
		t.Errorf("expected crop from local copy and original ref in pdf_path, got %q %q", h.out.localPDF, h.out.pdfPath)
	}
	if !h.q.idem["doc:job-1"] || len(h.q.acked) != 1 {
		t.Errorf("expected idempotency mark and ack, got %v %v", h.q.idem, h.q.acked)
	}

	// redelivery of a finished job is a no-op
	h.w.Handle(context.Background(), message(1))
	if h.src.calls != 1 {
		t.Errorf("expected duplicate to be skipped, fetched %d times", h.src.calls)
	}
}

func TestHandleRetryAndDLQ(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		attempt   int
		wantRetry bool
	}{
		{"transient first attempt", errors.New("read tcp: connection reset by peer"), 1, true},
		{"transient last attempt", errors.New("download x: http 503"), 3, false},
		{"unsupported", fmt.Errorf("%w: text/plain", source.ErrUnsupported), 1, false},
		{"not found", fmt.Errorf("%w: x.pdf", source.ErrNotFound), 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(tt.err, nil)
			h.w.Handle(context.Background(), message(tt.attempt))
			st := h.status.m["job-1"]
			if tt.wantRetry {
				if len(h.q.delayed) != 1 || h.q.delayed[0].Attempt != tt.attempt+1 {
					t.Fatalf("expected retry with attempt %d, got %+v", tt.attempt+1, h.q.delayed)
				}
				if want := h.w.now().Add(time.Second); !h.q.delayedAt[0].Equal(want) {
					t.Errorf("expected retry at %v, got %v", want, h.q.delayedAt[0])
				}
				if st.Status != store.StateQueued || len(h.q.dlq) != 0 {
					t.Errorf("expected queued status and empty DLQ, got %q %v", st.Status, h.q.dlq)
				}
			} else {
				if len(h.q.delayed) != 0 || len(h.q.dlq) != 1 {
					t.Fatalf("expected DLQ only, got delayed=%d dlq=%d", len(h.q.delayed), len(h.q.dlq))
				}
				if st.Status != store.StateFailed {
					t.Errorf("expected failed status, got %q", st.Status)
				}
			}
			if len(h.q.acked) != 1 {
				t.Errorf("expected ack, got %v", h.q.acked)
			}
		})
	}
}

func TestHandleCancelled(t *testing.T) {
	h := newHarness(nil, nil)
	h.q.cancelled["job-1"] = true
	h.w.Handle(context.Background(), message(1))
	if h.src.calls != 0 {
		t.Errorf("cancelled job must not be fetched")
	}
	if st := h.status.m["job-1"]; st.Status != store.StateCancelled {
		t.Errorf("expected cancelled, got %q", st.Status)
	}
}

func TestHandleDocumentFailed(t *testing.T) {
	doc := &assemble.Document{
		Status: assemble.StatusFailed,
		Error:  &assemble.ErrorInfo{Reason: "classification_failure", Detail: "no text blocks"},
	}
	h := newHarness(nil, doc)
	h.w.Handle(context.Background(), message(1))
	st := h.status.m["job-1"]
	if st.Status != store.StateFailed || st.Message != "classification_failure: no text blocks" {
		t.Errorf("unexpected status %+v", st)
	}
	if len(h.q.dlq) != 0 {
		t.Errorf("document failures are results, not DLQ entries")
	}
	if _, ok := h.results["job-1"]; !ok {
		t.Errorf("failed document must still be stored")
	}
}

func TestHandleUndecodable(t *testing.T) {
	h := newHarness(nil, nil)
	h.w.Handle(context.Background(), queue.Message{ID: "9-0", Raw: []byte("{"), Err: errors.New("decode job: unexpected EOF")})
	if len(h.q.dlq) != 1 || len(h.q.acked) != 1 || h.src.calls != 0 {
		t.Errorf("expected DLQ+ack without processing, got dlq=%v acked=%v calls=%d", h.q.dlq, h.q.acked, h.src.calls)
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		err       error
		transient bool
	}{
		{Retryable("engine", errors.New("cannot open")), true},
		{context.DeadlineExceeded, true},
		{errors.New("operation error S3: GetObject, NoSuchKey"), false},
		{fmt.Errorf("fetch: %w", source.ErrInvalidPDF), false},
		{errors.New("something odd"), false},
	}
	for _, tt := range tests {
		if got := isTransientError(tt.err); got != tt.transient {
			t.Errorf("isTransientError(%v): expected %v, got %v", tt.err, tt.transient, got)
		}
	}
}
