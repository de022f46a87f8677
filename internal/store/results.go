package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// ResultStore keeps the finished document JSON of a job.
type ResultStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewResultStore(client *redis.Client, ttl time.Duration) *ResultStore {
	return &ResultStore{client: client, ttl: ttl}
}

func (s *ResultStore) key(jobID string) string { return fmt.Sprintf("job:%s:result", jobID) }

// Save stores the document JSON. ttl <= 0 keeps it forever.
func (s *ResultStore) Save(ctx context.Context, jobID string, doc []byte) error {
	return s.client.Set(ctx, s.key(jobID), doc, s.ttl).Err()
}

// Get returns the stored document; ok is false when there is none.
func (s *ResultStore) Get(ctx context.Context, jobID string) ([]byte, bool, error) {
	b, err := s.client.Get(ctx, s.key(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// Delete drops a stored result.
func (s *ResultStore) Delete(ctx context.Context, jobID string) error {
	return s.client.Del(ctx, s.key(jobID)).Err()
}
