// Package config loads layered configuration: built-in defaults, an
// optional YAML file, then TRIAGE_ environment overrides.
package config

import (
	"github.com/dshills/triage-mcp/internal/conversation"
	"github.com/dshills/triage-mcp/internal/embedder"
	"github.com/dshills/triage-mcp/internal/generator"
	"github.com/dshills/triage-mcp/internal/indexer"
	"github.com/dshills/triage-mcp/internal/learning"
	"github.com/dshills/triage-mcp/internal/logger"
	"github.com/dshills/triage-mcp/internal/maintenance"
	"github.com/dshills/triage-mcp/internal/metrics"
	"github.com/dshills/triage-mcp/internal/notify"
	"github.com/dshills/triage-mcp/internal/resilience"
	"github.com/dshills/triage-mcp/internal/retriever"
	"github.com/dshills/triage-mcp/internal/routing"
	"github.com/dshills/triage-mcp/internal/storage"
	"github.com/dshills/triage-mcp/internal/triage"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "TRIAGE_"

// Config is the complete service configuration
type Config struct {
	Server       ServerConfig             `koanf:"server"`
	Log          logger.Config            `koanf:"log"`
	Database     storage.Config           `koanf:"database"`
	Redis        conversation.RedisConfig `koanf:"redis"`
	Embedding    embedder.Config          `koanf:"embedding"`
	Retrieval    retriever.Config         `koanf:"retrieval"`
	Routing      routing.Config           `koanf:"routing"`
	Learning     learning.Config          `koanf:"learning"`
	Resilience   resilience.Config        `koanf:"resilience"`
	Providers    []generator.Config       `koanf:"providers" validate:"min=1,dive"`
	Notify       NotifyConfig             `koanf:"notify"`
	Conversation conversation.Config      `koanf:"conversation"`
	Maintenance  maintenance.Config       `koanf:"maintenance"`
	Indexer      indexer.Config           `koanf:"indexer"`
	Metrics      metrics.Config           `koanf:"metrics"`
	Triage       triage.Config            `koanf:"triage"`
}

// ServerConfig names the MCP server
type ServerConfig struct {
	Name    string `koanf:"name" validate:"required"`
	Version string `koanf:"version"`
}

// NotifyConfig controls operator alerting
type NotifyConfig struct {
	Slack      notify.SlackConfig `koanf:"slack"`
	BufferSize int                `koanf:"buffer_size" validate:"min=1"`
}

// Default returns the built-in configuration. It runs offline: SQLite
// storage, local embeddings and the template generator.
func Default() *Config {
	return &Config{
		Server:       ServerConfig{Name: "triage-mcp"},
		Log:          logger.Config{Mode: "production", Level: "info"},
		Database:     storage.DefaultConfig(),
		Redis:        conversation.RedisConfig{KeyPrefix: conversation.DefaultKeyPrefix},
		Embedding:    embedder.DefaultConfig(),
		Retrieval:    retriever.DefaultConfig(),
		Routing:      routing.DefaultConfig(),
		Learning:     learning.DefaultConfig(),
		Resilience:   resilience.DefaultConfig(),
		Providers:    []generator.Config{{Name: "template", Kind: generator.KindTemplate}},
		Notify:       NotifyConfig{BufferSize: notify.DefaultBufferSize},
		Conversation: conversation.DefaultConfig(),
		Maintenance:  maintenance.DefaultConfig(),
		Indexer:      indexer.DefaultConfig(),
		Metrics:      metrics.DefaultConfig(),
		Triage:       triage.DefaultConfig(),
	}
}
