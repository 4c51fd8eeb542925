package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"

	"github.com/dshills/triage-mcp/internal/embedder"
	"github.com/dshills/triage-mcp/internal/generator"
)

// Vendor API key variables read when a provider leaves api_key empty
const (
	EnvOpenAIAPIKey     = "OPENAI_API_KEY"
	EnvAnthropicAPIKey  = "ANTHROPIC_API_KEY"
	EnvPerplexityAPIKey = "PERPLEXITY_API_KEY"
	EnvJinaAPIKey       = "JINA_API_KEY"
)

// Loader builds a Config from defaults, a YAML file and the environment
type Loader struct {
	k        *koanf.Koanf
	validate *validator.Validate
	getenv   func(string) string
}

// NewLoader creates a loader
func NewLoader() *Loader {
	return &Loader{
		k:        koanf.New("."),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		getenv:   os.Getenv,
	}
}

// Load is shorthand for NewLoader().Load(path)
func Load(path string) (*Config, error) {
	return NewLoader().Load(path)
}

// Load layers defaults, the YAML file at path (skipped when path is
// empty) and TRIAGE_ environment variables, then validates the result
func (l *Loader) Load(path string) (*Config, error) {
	l.k = koanf.New(".")

	if err := l.k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}
	if path != "" {
		if err := l.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := l.loadEnvironment(); err != nil {
		return nil, err
	}

	cfg, err := l.unmarshal()
	if err != nil {
		return nil, err
	}
	l.applyVendorKeys(cfg)

	if err := l.Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile merges only the keys present in the file so sections it omits
// keep their defaults
func (l *Loader) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	for key, value := range flattenMap("", raw) {
		if err := l.k.Set(key, value); err != nil {
			return fmt.Errorf("failed to set key %s: %w", key, err)
		}
	}
	return nil
}

func (l *Loader) loadEnvironment() error {
	known := envMappings(l.k.Keys())
	err := l.k.Load(env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			name := strings.TrimPrefix(key, EnvPrefix)
			path, ok := known[name]
			if !ok {
				path = transformEnvKey(name)
			}
			if path == "providers" || strings.HasPrefix(path, "providers.") {
				// lists are configured in the file
				return "", nil
			}
			return path, value
		},
	}), nil)
	if err != nil {
		return fmt.Errorf("failed to load environment variables: %w", err)
	}
	return nil
}

// envMappings maps each known key to its environment name, so nested
// sections resolve exactly: NOTIFY_SLACK_WEBHOOK_URL -> notify.slack.webhook_url
func envMappings(keys []string) map[string]string {
	out := make(map[string]string, len(keys))
	for _, key := range keys {
		out[strings.ToUpper(strings.ReplaceAll(key, ".", "_"))] = key
	}
	return out
}

// transformEnvKey converts ROUTING_MAX_COMPLEXITY to routing.max_complexity
func transformEnvKey(s string) string {
	parts := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool { return r == '_' })
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	}
	return parts[0] + "." + strings.Join(parts[1:], "_")
}

func (l *Loader) unmarshal() (*Config, error) {
	var cfg Config
	if err := l.k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			Result:           &cfg,
			TagName:          "koanf",
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	return &cfg, nil
}

// applyVendorKeys fills empty API keys from the vendor's usual variable
func (l *Loader) applyVendorKeys(cfg *Config) {
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if p.APIKey != "" {
			continue
		}
		switch p.Kind {
		case generator.KindOpenAI:
			p.APIKey = l.getenv(EnvOpenAIAPIKey)
		case generator.KindAnthropic:
			p.APIKey = l.getenv(EnvAnthropicAPIKey)
		case generator.KindPerplexity:
			p.APIKey = l.getenv(EnvPerplexityAPIKey)
		}
	}

	if cfg.Embedding.APIKey == "" {
		switch cfg.Embedding.Provider {
		case embedder.ProviderOpenAI:
			cfg.Embedding.APIKey = l.getenv(EnvOpenAIAPIKey)
		case embedder.ProviderJina:
			cfg.Embedding.APIKey = l.getenv(EnvJinaAPIKey)
		}
	}
}

// Validate checks struct tags and cross-field rules
func (l *Loader) Validate(cfg *Config) error {
	if err := l.validate.Struct(cfg); err != nil {
		return err
	}
	return validateCustom(cfg)
}

func validateCustom(cfg *Config) error {
	var errs []error
	seen := make(map[string]bool, len(cfg.Providers))
	for _, p := range cfg.Providers {
		if seen[p.Name] {
			errs = append(errs, fmt.Errorf("duplicate provider name %q", p.Name))
		}
		seen[p.Name] = true
		if p.Kind != generator.KindTemplate && p.APIKey == "" {
			errs = append(errs, fmt.Errorf("provider %q requires an api_key", p.Name))
		}
	}
	if cfg.Embedding.Provider != embedder.ProviderLocal && cfg.Embedding.APIKey == "" {
		errs = append(errs, fmt.Errorf("embedding provider %s requires an api_key", cfg.Embedding.Provider))
	}
	errs = append(errs, validateFloors(cfg)...)
	return errors.Join(errs...)
}

// validateFloors keeps routing sample floors at or above the learning
// gate's phase boundaries. Routing admits n > floor, so floor+1 is the
// smallest count a path can see.
func validateFloors(cfg *Config) []error {
	var errs []error
	if cfg.Routing.AutoRespondMinExamples+1 < cfg.Learning.AutonomousAt {
		errs = append(errs, fmt.Errorf("routing.auto_respond_min_examples (%d) admits counts below learning.autonomous_at (%d)",
			cfg.Routing.AutoRespondMinExamples, cfg.Learning.AutonomousAt))
	}
	if cfg.Routing.DraftMinExamples+1 < cfg.Learning.AssistedAt {
		errs = append(errs, fmt.Errorf("routing.draft_min_examples (%d) admits counts below learning.assisted_at (%d)",
			cfg.Routing.DraftMinExamples, cfg.Learning.AssistedAt))
	}
	return errs
}

// flattenMap flattens a nested map into dot-notation keys
func flattenMap(prefix string, m map[string]any) map[string]any {
	result := make(map[string]any)
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			for fk, fv := range flattenMap(key, nested) {
				result[fk] = fv
			}
			continue
		}
		result[key] = v
	}
	return result
}
