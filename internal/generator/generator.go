package generator

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/dshills/triage-mcp/internal/resilience"
)

// Provider kinds
const (
	KindOpenAI     = "openai"
	KindAnthropic  = "anthropic"
	KindPerplexity = "perplexity"
	KindTemplate   = "template"
)

// Defaults per kind
const (
	OpenAIBaseURL     = "https://api.openai.com/v1"
	OpenAIModel       = "gpt-4o-mini"
	AnthropicBaseURL  = "https://api.anthropic.com"
	AnthropicModel    = "claude-sonnet-4-5"
	AnthropicVersion  = "2023-06-01"
	PerplexityBaseURL = "https://api.perplexity.ai"
	PerplexityModel   = "sonar"

	DefaultMaxTokens = 1024
	DefaultTimeout   = 20 * time.Second
)

var (
	ErrEmptyCompletion = errors.New("provider returned no content")
	ErrUnknownKind     = errors.New("unknown provider kind")
	ErrMissingAPIKey   = errors.New("api key is required")
	ErrEmptyPrompt     = errors.New("prompt cannot be empty")
)

// Config describes one entry of the ordered provider list
type Config struct {
	Name        string        `koanf:"name" validate:"required"`
	Kind        string        `koanf:"kind" validate:"required,oneof=openai anthropic perplexity template"`
	BaseURL     string        `koanf:"base_url" validate:"omitempty,url"`
	Model       string        `koanf:"model"`
	APIKey      string        `koanf:"api_key"`
	MaxTokens   int           `koanf:"max_tokens" validate:"gte=0"`
	Temperature float64       `koanf:"temperature" validate:"gte=0,lte=2"`
	Timeout     time.Duration `koanf:"timeout" validate:"gte=0"`
}

// New builds the provider described by cfg
func New(cfg Config) (resilience.Provider, error) {
	if cfg.Name == "" {
		cfg.Name = cfg.Kind
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	switch cfg.Kind {
	case KindOpenAI:
		return newChatProvider(cfg, OpenAIBaseURL, OpenAIModel, false)
	case KindPerplexity:
		return newChatProvider(cfg, PerplexityBaseURL, PerplexityModel, true)
	case KindAnthropic:
		return newAnthropicProvider(cfg)
	case KindTemplate:
		return NewTemplateProvider(cfg.Name), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, cfg.Kind)
	}
}

// NewAll builds providers in order, preserving the fallback sequence
func NewAll(cfgs []Config) ([]resilience.Provider, error) {
	providers := make([]resilience.Provider, 0, len(cfgs))
	seen := make(map[string]bool, len(cfgs))
	for i, cfg := range cfgs {
		p, err := New(cfg)
		if err != nil {
			return nil, fmt.Errorf("provider %d: %w", i, err)
		}
		if seen[p.Name()] {
			return nil, fmt.Errorf("provider %d: duplicate name %q", i, p.Name())
		}
		seen[p.Name()] = true
		providers = append(providers, p)
	}
	return providers, nil
}

func newClient(baseURL string, timeout time.Duration) *resty.Client {
	return resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
}

// checkResponse converts a resty outcome into the error the chain expects
func checkResponse(provider string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%s request: %w", provider, err)
	}
	if resp.IsError() {
		return resilience.NewHTTPError(provider, resp.StatusCode(), resp.String(), resp.Header())
	}
	return nil
}

func emptyCompletion(provider string) error {
	return &resilience.ClassifiedError{Class: resilience.ClassTransient, Provider: provider, Err: ErrEmptyCompletion}
}

func defaultString(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
