package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestStatusTerminal(t *testing.T) {
	tests := map[string]bool{
		StateQueued: false, StateProcessing: false,
		StateSuccess: true, StateFailed: true, StateCancelled: true,
	}
	for state, want := range tests {
		if got := (Status{Status: state}).Terminal(); got != want {
			t.Errorf("%s: expected %v, got %v", state, want, got)
		}
	}
}

// TestRedisStores needs a disposable Redis at QX_TEST_REDIS_URL.
func TestRedisStores(t *testing.T) {
	url := os.Getenv("QX_TEST_REDIS_URL")
	if url == "" {
		t.Skip("QX_TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	c, err := Connect(ctx, url)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	id := uuid.NewString()
	st := NewRedisStatus(c, time.Minute)
	rs := NewResultStore(c, time.Minute)
	defer c.Del(ctx, st.key(id), rs.key(id))

	if _, ok, err := st.Get(ctx, id); ok || err != nil {
		t.Fatalf("expected no status, got ok=%v err=%v", ok, err)
	}
	start := time.Now().UTC().Truncate(time.Millisecond)
	in := Status{Status: StateProcessing, Progress: 40, Message: "engine", Start: &start,
		Metadata: map[string]any{"pdf_name": "exam.pdf"}}
	if err := st.Set(ctx, id, in); err != nil {
		t.Fatal(err)
	}
	got, ok, err := st.Get(ctx, id)
	if err != nil || !ok {
		t.Fatalf("expected status, got ok=%v err=%v", ok, err)
	}
	if got.Status != StateProcessing || got.Progress != 40 || !got.Start.Equal(start) || got.Metadata["pdf_name"] != "exam.pdf" {
		t.Errorf("unexpected status %+v", got)
	}

	if _, ok, _ := rs.Get(ctx, id); ok {
		t.Errorf("expected no result yet")
	}
	if err := rs.Save(ctx, id, []byte(`{"questions":[]}`)); err != nil {
		t.Fatal(err)
	}
	b, ok, err := rs.Get(ctx, id)
	if err != nil || !ok || string(b) != `{"questions":[]}` {
		t.Errorf("unexpected result %q ok=%v err=%v", b, ok, err)
	}
}
