package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/local/questionextractor/internal/metrics"
)

// Message is one delivery from the stream. Job is zero when the payload
// could not be decoded; Raw is kept for the DLQ.
type Message struct {
	ID  string
	Job Job
	Raw []byte
	Err error
}

// RedisQueue implements Redis Streams + consumer groups with a delayed ZSET mover.
type RedisQueue struct {
	client *redis.Client
	// streams / groups
	Stream string
	Group  string
	// keys
	CancelKey   string
	DelayedKey  string
	DLQStream   string
	IdemDoneKey string
	// ClaimIdle is how long a delivery may stay unacked before another
	// consumer takes it over.
	ClaimIdle time.Duration

	pollInterval time.Duration
	stop         chan struct{}
	stopOnce     sync.Once
}

// NewRedisQueue connects to Redis, ensures stream & group, and starts the delayed mover.
func NewRedisQueue(redisURL, stream, group string, poll time.Duration) (*RedisQueue, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	c := redis.NewClient(opt)
	q, err := NewWithClient(c, stream, group, poll)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	return q, nil
}

// NewWithClient uses an existing client. Close closes it.
func NewWithClient(c *redis.Client, stream, group string, poll time.Duration) (*RedisQueue, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if poll <= 0 {
		poll = 200 * time.Millisecond
	}
	q := &RedisQueue{
		client:       c,
		Stream:       stream,
		Group:        group,
		CancelKey:    stream + ":cancelled",
		DelayedKey:   stream + ":delayed",
		DLQStream:    stream + ":dlq",
		IdemDoneKey:  "idem:done:",
		ClaimIdle:    10 * time.Minute,
		pollInterval: poll,
		stop:         make(chan struct{}),
	}
	// MKSTREAM creates the stream if missing
	if err := c.XGroupCreateMkStream(ctx, stream, group, "0").Err(); err != nil && !isBusyGroupErr(err) {
		return nil, fmt.Errorf("xgroup create: %w", err)
	}
	go q.mover()
	return q, nil
}

func isBusyGroupErr(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToUpper(err.Error()), "BUSYGROUP")
}

// Close stops the mover and closes the client.
func (q *RedisQueue) Close() error {
	q.stopOnce.Do(func() { close(q.stop) })
	return q.client.Close()
}

// Ping checks redis connectivity.
func (q *RedisQueue) Ping(ctx context.Context) error { return q.client.Ping(ctx).Err() }

// Enqueue adds a job to the stream as a single-field entry {data: <json>}.
func (q *RedisQueue) Enqueue(ctx context.Context, job Job) error {
	data, err := job.Encode()
	if err != nil {
		return err
	}
	return q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.Stream,
		Values: map[string]any{"data": string(data)},
	}).Err()
}

// EnqueueDelayed schedules a job for later execution via ZSET.
func (q *RedisQueue) EnqueueDelayed(ctx context.Context, job Job, executeAt time.Time) error {
	data, err := job.Encode()
	if err != nil {
		return err
	}
	return q.client.ZAdd(ctx, q.DelayedKey, redis.Z{Score: float64(executeAt.UnixMilli()), Member: string(data)}).Err()
}

// Dequeue reads one message for consumer. Stale deliveries of dead
// consumers are claimed first. ok is false when the block timeout elapsed.
// The message must be acknowledged with Ack once handled.
func (q *RedisQueue) Dequeue(ctx context.Context, consumer string, timeout time.Duration) (Message, bool, error) {
	if m, ok := q.claimStale(ctx, consumer); ok {
		return m, true, nil
	}
	res, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.Group,
		Consumer: consumer,
		Streams:  []string{q.Stream, ">"},
		Count:    1,
		Block:    timeout,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Message{}, false, nil
		}
		return Message{}, false, err
	}
	if len(res) == 0 || len(res[0].Messages) == 0 {
		return Message{}, false, nil
	}
	return toMessage(res[0].Messages[0]), true, nil
}

func (q *RedisQueue) claimStale(ctx context.Context, consumer string) (Message, bool) {
	if q.ClaimIdle <= 0 {
		return Message{}, false
	}
	msgs, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.Stream,
		Group:    q.Group,
		Consumer: consumer,
		MinIdle:  q.ClaimIdle,
		Start:    "0-0",
		Count:    1,
	}).Result()
	if err != nil || len(msgs) == 0 {
		return Message{}, false
	}
	log.Warn().Str("msg_id", msgs[0].ID).Str("consumer", consumer).Msg("claimed stale delivery")
	return toMessage(msgs[0]), true
}

func toMessage(xm redis.XMessage) Message {
	m := Message{ID: xm.ID}
	switch t := xm.Values["data"].(type) {
	case string:
		m.Raw = []byte(t)
	case []byte:
		m.Raw = t
	}
	m.Job, m.Err = Decode(m.Raw)
	return m
}

// Ack marks a message as processed.
func (q *RedisQueue) Ack(ctx context.Context, msgID string) error {
	if msgID == "" {
		return nil
	}
	return q.client.XAck(ctx, q.Stream, q.Group, msgID).Err()
}

// CancelJob marks a job as cancelled. Workers check this before processing.
func (q *RedisQueue) CancelJob(ctx context.Context, jobID string) error {
	return q.client.SAdd(ctx, q.CancelKey, jobID).Err()
}

// IsCancelled returns true if job is cancelled.
func (q *RedisQueue) IsCancelled(ctx context.Context, jobID string) (bool, error) {
	return q.client.SIsMember(ctx, q.CancelKey, jobID).Result()
}

// AddDLQ pushes a failed payload to the DLQ stream with reason.
func (q *RedisQueue) AddDLQ(ctx context.Context, payload []byte, reason string) error {
	return q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.DLQStream,
		Values: map[string]any{"data": string(payload), "reason": reason, "failed_at": time.Now().UTC().Format(time.RFC3339)},
	}).Err()
}

// IsIdemDone returns true if the idempotency key is already marked done.
func (q *RedisQueue) IsIdemDone(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, nil
	}
	n, err := q.client.Exists(ctx, q.IdemDoneKey+key).Result()
	return n == 1, err
}

// MarkIdemDone marks the idempotency key as done with ttl.
func (q *RedisQueue) MarkIdemDone(ctx context.Context, key string, ttl time.Duration) error {
	if key == "" {
		return nil
	}
	return q.client.Set(ctx, q.IdemDoneKey+key, 1, ttl).Err()
}

// mover periodically moves due delayed jobs from ZSET into the stream.
func (q *RedisQueue) mover() {
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-q.stop:
			return
		case <-ticker.C:
			q.moveOnce()
		}
	}
}

func (q *RedisQueue) moveOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	vals, err := q.client.ZRangeByScore(ctx, q.DelayedKey, &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%d", time.Now().UnixMilli()), Count: 100,
	}).Result()
	if err != nil || len(vals) == 0 {
		return
	}
	for _, s := range vals {
		// ZREM first so two movers never both publish the same member
		n, err := q.client.ZRem(ctx, q.DelayedKey, s).Result()
		if err != nil || n == 0 {
			continue
		}
		if err := q.client.XAdd(ctx, &redis.XAddArgs{Stream: q.Stream, Values: map[string]any{"data": s}}).Err(); err != nil {
			log.Error().Err(err).Msg("delayed job publish failed")
		}
	}
}

// Depths returns approximate stream/deferred/dlq lengths and updates the gauges.
func (q *RedisQueue) Depths(ctx context.Context) (ready, delayed, dead int64, err error) {
	pipe := q.client.Pipeline()
	xlen := pipe.XLen(ctx, q.Stream)
	zcard := pipe.ZCard(ctx, q.DelayedKey)
	dxlen := pipe.XLen(ctx, q.DLQStream)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, 0, err
	}
	ready, delayed, dead = xlen.Val(), zcard.Val(), dxlen.Val()
	metrics.SetQueueDepth("stream", ready)
	metrics.SetQueueDepth("delayed", delayed)
	metrics.SetQueueDepth("dlq", dead)
	return ready, delayed, dead, nil
}
