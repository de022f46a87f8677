package enrich

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	mpkg "github.com/local/questionextractor/internal/metrics"
)

// DefaultPrompt asks for a short, exam-neutral description of a figure.
const DefaultPrompt = "Describe this figure from an exam paper in one or two sentences. " +
	"Mention axes, labels and values if present. Do not answer any question."

const defaultSystemPrompt = "You describe figures and tables from academic documents for accessibility."

// Target is one provider/model pair in failover order.
type Target struct {
	Provider string
	Model    string
}

func (t Target) String() string { return t.Provider + "/" + t.Model }

// ParseTargets reads "provider:model,provider:model".
func ParseTargets(s string) ([]Target, error) {
	var out []Target
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		p, m, ok := strings.Cut(part, ":")
		if !ok || p == "" || m == "" {
			return nil, fmt.Errorf("invalid target %q, want provider:model", part)
		}
		out = append(out, Target{Provider: strings.ToLower(p), Model: m})
	}
	return out, nil
}

// Breaker is the cooldown state shared by describers.
type Breaker interface {
	IsOpen(ctx context.Context, provider, model string) bool
	Open(ctx context.Context, provider, model string) time.Duration
	Close(ctx context.Context, provider, model string)
	Allow(provider, model string) (func(), bool)
}

// Describer tries targets in order until one answers.
type Describer struct {
	Clients   map[string]Client
	Targets   []Target
	Breaker   Breaker
	Timeout   time.Duration
	MaxTokens int
	Prompt    string
}

// NewDescriber keeps only targets with a registered client.
func NewDescriber(clients []Client, targets []Target, breaker Breaker, timeout time.Duration) *Describer {
	d := &Describer{
		Clients:   map[string]Client{},
		Breaker:   breaker,
		Timeout:   timeout,
		MaxTokens: 300,
		Prompt:    DefaultPrompt,
	}
	for _, c := range clients {
		d.Clients[c.Name()] = c
	}
	for _, t := range targets {
		if _, ok := d.Clients[t.Provider]; ok {
			d.Targets = append(d.Targets, t)
		}
	}
	return d
}

// Describe returns a description of one image. ctx bounds the whole
// failover chain; each attempt additionally gets its own Timeout.
func (d *Describer) Describe(ctx context.Context, imageB64, mime string) (string, error) {
	var lastErr error
	for i, t := range d.Targets {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if d.Breaker != nil && d.Breaker.IsOpen(ctx, t.Provider, t.Model) {
			log.Debug().Str("provider", t.Provider).Str("model", t.Model).Msg("breaker open, skipping target")
			continue
		}
		release := func() {}
		if d.Breaker != nil {
			var ok bool
			release, ok = d.Breaker.Allow(t.Provider, t.Model)
			if !ok {
				log.Debug().Str("provider", t.Provider).Str("model", t.Model).Msg("no free slot, skipping target")
				continue
			}
		}
		log.Debug().
			Str("provider", t.Provider).
			Str("model", t.Model).
			Msg(fmt.Sprintf("describing image [%d/%d]", i+1, len(d.Targets)))
		text, err := d.call(ctx, t, imageB64, mime)
		release()
		if err == nil {
			if d.Breaker != nil {
				d.Breaker.Close(ctx, t.Provider, t.Model)
			}
			mpkg.BreakerClosed(t.Provider, t.Model)
			return text, nil
		}
		lastErr = err
		if IsFatal(err) {
			log.Error().Err(err).Str("provider", t.Provider).Str("model", t.Model).Msg("fatal provider error")
			return "", err
		}
		if IsTransient(err) && d.Breaker != nil {
			cool := d.Breaker.Open(ctx, t.Provider, t.Model)
			mpkg.BreakerOpened(t.Provider, t.Model)
			log.Warn().Err(err).
				Str("provider", t.Provider).
				Str("model", t.Model).
				Dur("cooldown", cool).
				Msg("transient error, trying next target")
		}
	}
	if lastErr == nil {
		return "", ErrExhausted
	}
	return "", fmt.Errorf("%w: %v", ErrExhausted, lastErr)
}

func (d *Describer) call(ctx context.Context, t Target, imageB64, mime string) (string, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	resp, err := d.Clients[t.Provider].Do(cctx, Request{
		Model:        t.Model,
		SystemPrompt: defaultSystemPrompt,
		Prompt:       d.Prompt,
		ImageBase64:  imageB64,
		ImageMIME:    mime,
		MaxTokens:    d.MaxTokens,
		Timeout:      timeout,
	})
	dur := time.Since(start)
	if err != nil && cctx.Err() == context.DeadlineExceeded {
		mpkg.ObserveProvider(t.Provider, t.Model, "timeout", dur)
		return "", &TimeoutError{Provider: t.Provider, Model: t.Model}
	}
	mpkg.ObserveProvider(t.Provider, t.Model, result(err), dur)
	if err != nil {
		return "", err
	}
	log.Debug().
		Str("provider", t.Provider).
		Str("model", t.Model).
		Dur("duration", dur).
		Int("tokens_in", resp.TokensIn).
		Int("tokens_out", resp.TokensOut).
		Msg("provider call success")
	return strings.TrimSpace(resp.Text), nil
}
