// Package limiter bounds in-flight vision calls per provider:model and keeps
// a cooldown breaker for models that keep failing.
package limiter

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Options configures both limiter flavours.
type Options struct {
	RedisURL    string
	MaxInflight int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func (o *Options) defaults() {
	if o.MaxInflight <= 0 {
		o.MaxInflight = 2
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = 30 * time.Second
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 5 * time.Minute
	}
}

// slots hands out per provider:model in-process semaphores.
type slots struct {
	max int
	mu  sync.Mutex
	sem map[string]chan struct{}
}

// Allow tries to reserve a slot. The release func is always safe to call.
func (s *slots) Allow(provider, model string) (func(), bool) {
	key := strings.ToLower(provider) + ":" + strings.ToLower(model)
	s.mu.Lock()
	ch, ok := s.sem[key]
	if !ok {
		ch = make(chan struct{}, s.max)
		s.sem[key] = ch
	}
	s.mu.Unlock()
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, true
	default:
		return func() {}, false
	}
}

// Backoff doubles base per attempt up to max.
func Backoff(base, max time.Duration, attempts int64) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := base
	for i := int64(1); i < attempts; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		d = max
	}
	return d
}

// Adaptive shares breaker state across workers through Redis.
type Adaptive struct {
	slots
	rdb         *redis.Client
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

// New connects to Redis and returns a shared limiter.
func New(opts Options) (*Adaptive, error) {
	opts.defaults()
	ro, err := redis.ParseURL(opts.RedisURL)
	if err != nil {
		return nil, err
	}
	c := redis.NewClient(ro)
	if err := c.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return NewWithClient(c, opts), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(c *redis.Client, opts Options) *Adaptive {
	opts.defaults()
	return &Adaptive{
		slots:       slots{max: opts.MaxInflight, sem: map[string]chan struct{}{}},
		rdb:         c,
		baseBackoff: opts.BaseBackoff,
		maxBackoff:  opts.MaxBackoff,
	}
}

func (a *Adaptive) key(provider, model string) string {
	return fmt.Sprintf("qx:cb:%s:%s", strings.ToLower(provider), strings.ToLower(model))
}

// IsOpen reports whether provider:model is cooling down.
func (a *Adaptive) IsOpen(ctx context.Context, provider, model string) bool {
	ts, err := a.rdb.Get(ctx, a.key(provider, model)).Int64()
	if err != nil {
		return false
	}
	return time.Now().Unix() < ts
}

// Open sets or extends the cooldown and returns its length.
func (a *Adaptive) Open(ctx context.Context, provider, model string) time.Duration {
	k := a.key(provider, model)
	attempts, _ := a.rdb.Incr(ctx, k+":attempts").Result()
	d := Backoff(a.baseBackoff, a.maxBackoff, attempts)
	_ = a.rdb.Expire(ctx, k+":attempts", 2*a.maxBackoff).Err()
	_ = a.rdb.Set(ctx, k, time.Now().Add(d).Unix(), d).Err()
	return d
}

// Close resets the breaker.
func (a *Adaptive) Close(ctx context.Context, provider, model string) {
	k := a.key(provider, model)
	_ = a.rdb.Del(ctx, k, k+":attempts").Err()
}

func (a *Adaptive) CloseClient() error { return a.rdb.Close() }

// Local keeps breaker state in memory, for single-process use such as the CLI.
type Local struct {
	slots
	baseBackoff time.Duration
	maxBackoff  time.Duration
	now         func() time.Time

	mu       sync.Mutex
	until    map[string]time.Time
	attempts map[string]int64
}

// NewLocal returns an in-memory limiter.
func NewLocal(opts Options) *Local {
	opts.defaults()
	return &Local{
		slots:       slots{max: opts.MaxInflight, sem: map[string]chan struct{}{}},
		baseBackoff: opts.BaseBackoff,
		maxBackoff:  opts.MaxBackoff,
		now:         time.Now,
		until:       map[string]time.Time{},
		attempts:    map[string]int64{},
	}
}

func (l *Local) IsOpen(_ context.Context, provider, model string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.now().Before(l.until[provider+":"+model])
}

func (l *Local) Open(_ context.Context, provider, model string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := provider + ":" + model
	l.attempts[k]++
	d := Backoff(l.baseBackoff, l.maxBackoff, l.attempts[k])
	l.until[k] = l.now().Add(d)
	return d
}

func (l *Local) Close(_ context.Context, provider, model string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := provider + ":" + model
	delete(l.until, k)
	delete(l.attempts, k)
}
