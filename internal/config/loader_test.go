package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/triage-mcp/internal/generator"
	"github.com/dshills/triage-mcp/internal/storage"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "triage.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, storage.DriverSQLite, cfg.Database.Driver)
	assert.InDelta(t, 0.85, cfg.Routing.AutoRespondSimilarity, 1e-9)
	assert.Equal(t, 100, cfg.Routing.AutoRespondMinExamples)
	assert.Equal(t, 4, cfg.Routing.MaxComplexity)
	assert.Equal(t, 60.0, cfg.Retrieval.RRFConstant)
	assert.Equal(t, 3, cfg.Resilience.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.Resilience.Cooldown)
	assert.Equal(t, 4, cfg.Conversation.MaxTurns)
	require.Len(t, cfg.Providers, 1)
	assert.Equal(t, generator.KindTemplate, cfg.Providers[0].Kind)
	assert.Len(t, cfg.Learning.ThresholdTiers, 3)
}

func TestLoad_FileOverridesKeepOtherDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /var/lib/triage/triage.db
routing:
  draft_min_examples: 40
resilience:
  cooldown: 45s
conversation:
  escalation_phrases: ["ombudsman", "solicitor"]
providers:
  - name: primary
    kind: openai
    api_key: sk-test
    timeout: 10s
  - name: offline
    kind: template
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/triage/triage.db", cfg.Database.Path)
	assert.Equal(t, storage.DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, 40, cfg.Routing.DraftMinExamples)
	assert.Equal(t, 100, cfg.Routing.AutoRespondMinExamples)
	assert.Equal(t, 45*time.Second, cfg.Resilience.Cooldown)
	assert.Equal(t, 20*time.Second, cfg.Resilience.CallTimeout)
	assert.Equal(t, []string{"ombudsman", "solicitor"}, cfg.Conversation.EscalationPhrases)

	require.Len(t, cfg.Providers, 2)
	assert.Equal(t, "primary", cfg.Providers[0].Name)
	assert.Equal(t, 10*time.Second, cfg.Providers[0].Timeout)
	assert.Equal(t, generator.KindTemplate, cfg.Providers[1].Kind)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("TRIAGE_ROUTING_AUTO_RESPOND_SIMILARITY", "0.9")
	t.Setenv("TRIAGE_NOTIFY_SLACK_CHANNEL", "#strata-ops")
	t.Setenv("TRIAGE_RESILIENCE_CALL_TIMEOUT", "5s")
	t.Setenv("TRIAGE_REDIS_ENABLED", "true")
	t.Setenv("TRIAGE_REDIS_ADDR", "localhost:6379")
	t.Setenv("TRIAGE_METRICS_ENABLED", "false")

	path := writeConfig(t, "routing:\n  auto_respond_similarity: 0.88\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.InDelta(t, 0.9, cfg.Routing.AutoRespondSimilarity, 1e-9)
	assert.Equal(t, "#strata-ops", cfg.Notify.Slack.Channel)
	assert.Equal(t, 5*time.Second, cfg.Resilience.CallTimeout)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoad_VendorKeysFillProviders(t *testing.T) {
	t.Setenv(EnvAnthropicAPIKey, "anthropic-key")
	t.Setenv(EnvJinaAPIKey, "jina-key")

	path := writeConfig(t, `
embedding:
  provider: jina
providers:
  - name: claude
    kind: anthropic
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "anthropic-key", cfg.Providers[0].APIKey)
	assert.Equal(t, "jina-key", cfg.Embedding.APIKey)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"refine above auto respond", "routing:\n  refine_similarity: 0.9\n"},
		{"unknown driver", "database:\n  driver: mysql\n"},
		{"postgres without dsn", "database:\n  driver: postgres\n"},
		{"unknown provider kind", "providers:\n  - name: x\n    kind: cohere\n"},
		{"duplicate providers", "providers:\n  - name: x\n    kind: template\n  - name: x\n    kind: template\n"},
		{"provider without key", "providers:\n  - name: gpt\n    kind: openai\n"},
		{"no providers", "providers: []\n"},
		{"threshold out of range", "resilience:\n  failure_threshold: 0\n"},
		{"autonomy above auto respond floor", "learning:\n  autonomous_at: 200\n"},
		{"auto respond floor below autonomy", "routing:\n  auto_respond_min_examples: 50\n"},
		{"draft floor below assisted phase", "routing:\n  draft_min_examples: 10\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvOpenAIAPIKey, "")
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_FloorsFollowLearningGate(t *testing.T) {
	t.Setenv(EnvOpenAIAPIKey, "")
	cfg, err := Load(writeConfig(t, "learning:\n  autonomous_at: 200\nrouting:\n  auto_respond_min_examples: 199\n"))
	require.NoError(t, err)
	assert.Equal(t, 200, cfg.Learning.AutonomousAt)
	assert.Equal(t, 199, cfg.Routing.AutoRespondMinExamples)

	_, err = Load(writeConfig(t, "learning:\n  autonomous_at: 200\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "learning.autonomous_at")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestTransformEnvKey(t *testing.T) {
	assert.Equal(t, "routing.max_complexity", transformEnvKey("ROUTING_MAX_COMPLEXITY"))
	assert.Equal(t, "log.level", transformEnvKey("LOG__LEVEL"))
	assert.Equal(t, "debug", transformEnvKey("DEBUG"))
	assert.Equal(t, "", transformEnvKey("_"))
}

func TestEnvMappings(t *testing.T) {
	m := envMappings([]string{"notify.slack.webhook_url", "routing.max_complexity"})
	assert.Equal(t, "notify.slack.webhook_url", m["NOTIFY_SLACK_WEBHOOK_URL"])
	assert.Equal(t, "routing.max_complexity", m["ROUTING_MAX_COMPLEXITY"])
}
