package embedder

import (
	"fmt"
	"strings"
	"time"
)

// Config holds embedder configuration
type Config struct {
	Provider   string        `koanf:"provider" validate:"oneof=openai jina local"`
	BaseURL    string        `koanf:"base_url" validate:"omitempty,url"`
	APIKey     string        `koanf:"api_key"`
	Model      string        `koanf:"model"`
	Dimension  int           `koanf:"dimension" validate:"min=0"`
	CacheSize  int           `koanf:"cache_size" validate:"min=0"`
	Timeout    time.Duration `koanf:"timeout"`
	MaxRetries int           `koanf:"max_retries" validate:"min=0"`
}

// DefaultConfig returns an offline configuration
func DefaultConfig() Config {
	return Config{
		Provider:   ProviderLocal,
		Dimension:  OpenAIDimension,
		CacheSize:  10000,
		Timeout:    DefaultTimeout,
		MaxRetries: MaxRetries,
	}
}

// New creates an embedder with explicit configuration, wrapped in an LRU
// cache when CacheSize is positive
func New(cfg Config) (Embedder, error) {
	var e Embedder
	retryCfg := DefaultRetryConfig()
	retryCfg.MaxRetries = cfg.MaxRetries

	switch strings.ToLower(cfg.Provider) {
	case ProviderOpenAI:
		p, err := NewHTTPProvider(ProviderOpenAI,
			orDefault(cfg.BaseURL, OpenAIBaseURL), cfg.APIKey,
			orDefault(cfg.Model, OpenAIModel), orDefaultInt(cfg.Dimension, OpenAIDimension),
			cfg.Timeout, retryCfg)
		if err != nil {
			return nil, err
		}
		e = p
	case ProviderJina:
		p, err := NewHTTPProvider(ProviderJina,
			orDefault(cfg.BaseURL, JinaBaseURL), cfg.APIKey,
			orDefault(cfg.Model, JinaModel), orDefaultInt(cfg.Dimension, JinaDimension),
			cfg.Timeout, retryCfg)
		if err != nil {
			return nil, err
		}
		e = p
	case ProviderLocal, "":
		e = NewLocalProvider(cfg.Dimension)
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}

	if cfg.CacheSize > 0 {
		e = WithCache(e, NewCache(cfg.CacheSize))
	}
	return e, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orDefaultInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
