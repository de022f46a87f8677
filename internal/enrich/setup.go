package enrich

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Keys are provider API keys. Providers with an empty key are skipped.
type Keys struct {
	OpenAI    string
	Anthropic string
	Gemini    string
}

// Setup builds a RegionDescriber from the configured keys and targets.
// It returns nil when no target has a usable client.
func Setup(ctx context.Context, keys Keys, targets string, breaker Breaker, timeout time.Duration) (*RegionDescriber, error) {
	ts, err := ParseTargets(targets)
	if err != nil {
		return nil, err
	}
	var clients []Client
	if k := strings.TrimSpace(keys.OpenAI); k != "" {
		clients = append(clients, NewOpenAIClient(k))
	}
	if k := strings.TrimSpace(keys.Anthropic); k != "" {
		clients = append(clients, NewAnthropicClient(k))
	}
	if k := strings.TrimSpace(keys.Gemini); k != "" {
		g, err := NewGeminiClient(ctx, k)
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		clients = append(clients, g)
	}
	d := NewDescriber(clients, ts, breaker, timeout)
	if len(d.Targets) == 0 {
		log.Warn().Int("targets", len(ts)).Msg("no vision provider configured, enrichment disabled")
		return nil, nil
	}
	log.Info().Int("targets", len(d.Targets)).Str("first", d.Targets[0].String()).Msg("vision enrichment enabled")
	return NewRegionDescriber(d), nil
}
