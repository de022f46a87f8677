// Package enrich asks vision models to describe image assets.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Request is one vision call.
type Request struct {
	Model        string
	SystemPrompt string
	Prompt       string
	ImageBase64  string
	ImageMIME    string
	MaxTokens    int
	Timeout      time.Duration
}

type Response struct {
	Text      string
	TokensIn  int
	TokensOut int
}

// Client is implemented by each provider.
type Client interface {
	Name() string
	Do(ctx context.Context, req Request) (Response, error)
}

var (
	ErrRateLimited    = errors.New("rate_limited")
	ErrContentRefused = errors.New("content_refused")
	ErrExhausted      = errors.New("all providers exhausted")
)

func IsRateLimited(err error) bool    { return errors.Is(err, ErrRateLimited) }
func IsContentRefused(err error) bool { return errors.Is(err, ErrContentRefused) }

// HTTPError is a non-2xx answer from a provider.
type HTTPError struct {
	StatusCode int
	Body       string
	Provider   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d from %s: %s", e.StatusCode, e.Provider, e.Body)
}

// TimeoutError is returned when a single provider call runs out of time.
type TimeoutError struct {
	Provider string
	Model    string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout: %s/%s", e.Provider, e.Model)
}
