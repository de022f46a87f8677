package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const openAIURL = "https://api.openai.com/v1/chat/completions"

type OpenAIClient struct {
	http    *http.Client
	apiKey  string
	baseURL string
}

func NewOpenAIClient(apiKey string) *OpenAIClient {
	return &OpenAIClient{http: &http.Client{}, apiKey: apiKey, baseURL: openAIURL}
}

func (c *OpenAIClient) Name() string { return "openai" }

type openAIMessage struct {
	Role    string           `json:"role"`
	Content []map[string]any `json:"content"`
}

type openAIChatReq struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

type openAIChatResp struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Refusal string `json:"refusal"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (c *OpenAIClient) Do(ctx context.Context, req Request) (Response, error) {
	if c.apiKey == "" {
		return Response{}, errors.New("missing OPENAI_API_KEY")
	}

	var messages []openAIMessage
	if req.SystemPrompt != "" {
		messages = append(messages, openAIMessage{
			Role:    "system",
			Content: []map[string]any{{"type": "text", "text": req.SystemPrompt}},
		})
	}
	var user []map[string]any
	if req.ImageBase64 != "" {
		user = append(user, map[string]any{
			"type":      "image_url",
			"image_url": map[string]string{"url": fmt.Sprintf("data:%s;base64,%s", req.ImageMIME, req.ImageBase64)},
		})
	}
	user = append(user, map[string]any{"type": "text", "text": req.Prompt})
	messages = append(messages, openAIMessage{Role: "user", Content: user})

	body, err := json.Marshal(openAIChatReq{Model: req.Model, Messages: messages, MaxTokens: req.MaxTokens})
	if err != nil {
		return Response{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return Response{}, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return Response{}, ErrRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return Response{}, &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b)), Provider: c.Name()}
	}

	var r openAIChatResp
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return Response{}, err
	}
	if len(r.Choices) == 0 {
		return Response{}, errors.New("no choices")
	}
	if r.Choices[0].Message.Refusal != "" {
		return Response{}, fmt.Errorf("%w: %s", ErrContentRefused, r.Choices[0].Message.Refusal)
	}
	return Response{
		Text:      r.Choices[0].Message.Content,
		TokensIn:  r.Usage.PromptTokens,
		TokensOut: r.Usage.CompletionTokens,
	}, nil
}
