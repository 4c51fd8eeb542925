package generator

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/dshills/triage-mcp/internal/resilience"
)

// ChatProvider speaks the OpenAI /chat/completions protocol. Perplexity
// uses the same shape and adds citations.
type ChatProvider struct {
	name        string
	model       string
	maxTokens   int
	temperature float64
	citations   bool
	client      *resty.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Citations []string `json:"citations,omitempty"`
}

func newChatProvider(cfg Config, baseURL, model string, citations bool) (*ChatProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s: %w", cfg.Name, ErrMissingAPIKey)
	}
	client := newClient(defaultString(cfg.BaseURL, baseURL), cfg.Timeout).SetAuthToken(cfg.APIKey)
	return &ChatProvider{
		name:        cfg.Name,
		model:       defaultString(cfg.Model, model),
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		citations:   citations,
		client:      client,
	}, nil
}

func (p *ChatProvider) Name() string { return p.name }

func (p *ChatProvider) Generate(ctx context.Context, payload resilience.Payload) (string, error) {
	if strings.TrimSpace(payload.Prompt) == "" {
		return "", &resilience.ClassifiedError{Class: resilience.ClassSystematic, Provider: p.name, Err: ErrEmptyPrompt}
	}

	req := chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt(payload)},
			{Role: "user", Content: userPrompt(payload)},
		},
		MaxTokens:   maxTokens(payload, p.maxTokens),
		Temperature: p.temperature,
	}

	var out chatResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("/chat/completions")
	if err := checkResponse(p.name, resp, err); err != nil {
		return "", err
	}

	if len(out.Choices) == 0 {
		return "", emptyCompletion(p.name)
	}
	text := strings.TrimSpace(out.Choices[0].Message.Content)
	if text == "" {
		return "", emptyCompletion(p.name)
	}

	if p.citations && len(out.Citations) > 0 {
		var b strings.Builder
		b.WriteString(text)
		b.WriteString("\n\nSources:")
		for i, c := range out.Citations {
			fmt.Fprintf(&b, "\n[%d] %s", i+1, c)
		}
		text = b.String()
	}
	return text, nil
}
