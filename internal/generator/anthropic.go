package generator

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/dshills/triage-mcp/internal/resilience"
)

// AnthropicProvider calls the Messages API
type AnthropicProvider struct {
	name        string
	model       string
	maxTokens   int
	temperature float64
	client      *resty.Client
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

func newAnthropicProvider(cfg Config) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s: %w", cfg.Name, ErrMissingAPIKey)
	}
	client := newClient(defaultString(cfg.BaseURL, AnthropicBaseURL), cfg.Timeout).
		SetHeader("x-api-key", cfg.APIKey).
		SetHeader("anthropic-version", AnthropicVersion)
	return &AnthropicProvider{
		name:        cfg.Name,
		model:       defaultString(cfg.Model, AnthropicModel),
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		client:      client,
	}, nil
}

func (p *AnthropicProvider) Name() string { return p.name }

func (p *AnthropicProvider) Generate(ctx context.Context, payload resilience.Payload) (string, error) {
	if strings.TrimSpace(payload.Prompt) == "" {
		return "", &resilience.ClassifiedError{Class: resilience.ClassSystematic, Provider: p.name, Err: ErrEmptyPrompt}
	}

	req := anthropicRequest{
		Model:       p.model,
		System:      systemPrompt(payload),
		Messages:    []anthropicMessage{{Role: "user", Content: userPrompt(payload)}},
		MaxTokens:   maxTokens(payload, p.maxTokens),
		Temperature: p.temperature,
	}

	var out anthropicResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("/v1/messages")
	if err := checkResponse(p.name, resp, err); err != nil {
		return "", err
	}

	var parts []string
	for _, block := range out.Content {
		if block.Type == "text" && strings.TrimSpace(block.Text) != "" {
			parts = append(parts, strings.TrimSpace(block.Text))
		}
	}
	if len(parts) == 0 {
		return "", emptyCompletion(p.name)
	}
	return strings.Join(parts, "\n\n"), nil
}
