package enrich

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"

	genai "google.golang.org/genai"
)

// GeminiClient calls Gemini through the genai SDK.
type GeminiClient struct {
	client *genai.Client
}

func NewGeminiClient(ctx context.Context, apiKey string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, errors.New("missing GOOGLE_API_KEY")
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, err
	}
	return &GeminiClient{client: c}, nil
}

func (g *GeminiClient) Name() string { return "gemini" }

func (g *GeminiClient) Do(ctx context.Context, req Request) (Response, error) {
	parts := []*genai.Part{{Text: req.Prompt}}
	if req.ImageBase64 != "" {
		data, err := base64.StdEncoding.DecodeString(req.ImageBase64)
		if err != nil {
			return Response{}, err
		}
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: req.ImageMIME, Data: data}})
	}
	var cfg *genai.GenerateContentConfig
	if req.SystemPrompt != "" || req.MaxTokens > 0 {
		cfg = &genai.GenerateContentConfig{MaxOutputTokens: int32(req.MaxTokens)}
		if req.SystemPrompt != "" {
			cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
		}
	}
	res, err := g.client.Models.GenerateContent(ctx, req.Model, []*genai.Content{{Role: genai.RoleUser, Parts: parts}}, cfg)
	if err != nil {
		return Response{}, mapGeminiError(err)
	}
	out := Response{Text: res.Text()}
	if res.UsageMetadata != nil {
		out.TokensIn = int(res.UsageMetadata.PromptTokenCount)
		out.TokensOut = int(res.UsageMetadata.CandidatesTokenCount)
	}
	if out.Text == "" && res.PromptFeedback != nil && res.PromptFeedback.BlockReason != "" {
		return Response{}, ErrContentRefused
	}
	return out, nil
}

func mapGeminiError(err error) error {
	code := 0
	var ae genai.APIError
	var aep *genai.APIError
	switch {
	case errors.As(err, &ae):
		code = ae.Code
	case errors.As(err, &aep):
		code = aep.Code
	default:
		return err
	}
	if code == http.StatusTooManyRequests {
		return ErrRateLimited
	}
	return &HTTPError{StatusCode: code, Body: err.Error(), Provider: "gemini"}
}
