package generator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/triage-mcp/internal/resilience"
)

func payload() resilience.Payload {
	return resilience.Payload{
		Kind:      resilience.KindGenerate,
		RequestID: "req-1",
		Prompt:    "Can I park a trailer in visitor parking?",
		Examples:  []string{"Visitor parking is for visitors' cars only, for up to 24 hours."},
	}
}

func TestChatProvider_Generate(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  No, trailers are not permitted.  "},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	p, err := New(Config{Name: "primary", Kind: KindOpenAI, BaseURL: srv.URL, APIKey: "sk-test", Model: "gpt-test"})
	require.NoError(t, err)
	assert.Equal(t, "primary", p.Name())

	text, err := p.Generate(context.Background(), payload())
	require.NoError(t, err)
	assert.Equal(t, "No, trailers are not permitted.", text)

	assert.Equal(t, "gpt-test", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, defaultGenerateSystem, got.Messages[0].Content)
	assert.Contains(t, got.Messages[1].Content, "Reference answers:")
	assert.Contains(t, got.Messages[1].Content, "[1] Visitor parking")
	assert.Contains(t, got.Messages[1].Content, "Can I park a trailer")
	assert.Equal(t, DefaultMaxTokens, got.MaxTokens)
}

func TestChatProvider_HTTPErrorsClassify(t *testing.T) {
	tests := []struct {
		status int
		class  resilience.Class
	}{
		{http.StatusTooManyRequests, resilience.ClassTransient},
		{http.StatusServiceUnavailable, resilience.ClassTransient},
		{http.StatusUnauthorized, resilience.ClassSystematic},
		{http.StatusBadRequest, resilience.ClassSystematic},
		{http.StatusInternalServerError, resilience.ClassCritical},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Retry-After", "3")
				http.Error(w, `{"error":"nope"}`, tt.status)
			}))
			defer srv.Close()

			p, err := New(Config{Kind: KindOpenAI, BaseURL: srv.URL, APIKey: "k"})
			require.NoError(t, err)

			_, err = p.Generate(context.Background(), payload())
			require.Error(t, err)
			var httpErr *resilience.HTTPError
			require.True(t, errors.As(err, &httpErr))
			assert.Equal(t, tt.status, httpErr.Status)
			assert.Equal(t, tt.class, resilience.Classify(p.Name(), err).Class)
		})
	}
}

func TestChatProvider_EmptyCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	p, err := New(Config{Kind: KindOpenAI, BaseURL: srv.URL, APIKey: "k"})
	require.NoError(t, err)

	_, err = p.Generate(context.Background(), payload())
	assert.ErrorIs(t, err, ErrEmptyCompletion)
	assert.Equal(t, resilience.ClassTransient, resilience.Classify(p.Name(), err).Class)
}

func TestChatProvider_EmptyPrompt(t *testing.T) {
	p, err := New(Config{Kind: KindOpenAI, BaseURL: "http://127.0.0.1:1", APIKey: "k"})
	require.NoError(t, err)

	_, err = p.Generate(context.Background(), resilience.Payload{Prompt: "  "})
	assert.ErrorIs(t, err, ErrEmptyPrompt)
	assert.Equal(t, resilience.ClassSystematic, resilience.Classify(p.Name(), err).Class)
}

func TestChatProvider_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	p, err := New(Config{Kind: KindOpenAI, BaseURL: srv.URL, APIKey: "k"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = p.Generate(ctx, payload())
	require.Error(t, err)
	assert.Equal(t, resilience.ClassTransient, resilience.Classify(p.Name(), err).Class)
}

func TestPerplexity_AppendsCitations(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Section 153 applies."}}],"citations":["https://legislation.example/ssma-2015/s153"]}`))
	}))
	defer srv.Close()

	p, err := New(Config{Name: "research", Kind: KindPerplexity, BaseURL: srv.URL, APIKey: "pplx"})
	require.NoError(t, err)

	pl := payload()
	pl.Kind = resilience.KindResearch
	text, err := p.Generate(context.Background(), pl)
	require.NoError(t, err)
	assert.Equal(t, "Section 153 applies.\n\nSources:\n[1] https://legislation.example/ssma-2015/s153", text)
	assert.Equal(t, PerplexityModel, got.Model)
	assert.Equal(t, defaultResearchSystem, got.Messages[0].Content)
}

func TestAnthropicProvider_Generate(t *testing.T) {
	var got anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "sk-ant", r.Header.Get("x-api-key"))
		assert.Equal(t, AnthropicVersion, r.Header.Get("anthropic-version"))
		assert.Empty(t, r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"First part."},{"type":"text","text":"Second part."}],"stop_reason":"end_turn"}`))
	}))
	defer srv.Close()

	p, err := New(Config{Name: "claude", Kind: KindAnthropic, BaseURL: srv.URL, APIKey: "sk-ant"})
	require.NoError(t, err)

	pl := payload()
	pl.System = "custom system"
	pl.MaxTokens = 256
	text, err := p.Generate(context.Background(), pl)
	require.NoError(t, err)
	assert.Equal(t, "First part.\n\nSecond part.", text)
	assert.Equal(t, "custom system", got.System)
	assert.Equal(t, 256, got.MaxTokens)
	assert.Equal(t, AnthropicModel, got.Model)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)
}

func TestAnthropicProvider_NoTextBlocks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content":[{"type":"tool_use"}]}`))
	}))
	defer srv.Close()

	p, err := New(Config{Kind: KindAnthropic, BaseURL: srv.URL, APIKey: "k"})
	require.NoError(t, err)
	_, err = p.Generate(context.Background(), payload())
	assert.ErrorIs(t, err, ErrEmptyCompletion)
}

func TestTemplateProvider(t *testing.T) {
	p := NewTemplateProvider("")
	assert.Equal(t, KindTemplate, p.Name())

	text, err := p.Generate(context.Background(), payload())
	require.NoError(t, err)
	assert.Equal(t, "Visitor parking is for visitors' cars only, for up to 24 hours.", text)

	research := payload()
	research.Kind = resilience.KindResearch
	research.Examples = append(research.Examples, "Trailers\nBy-law 12 covers trailers.")
	text, err = p.Generate(context.Background(), research)
	require.NoError(t, err)
	assert.Contains(t, text, "Related guidance:\n- Trailers")

	_, err = p.Generate(context.Background(), resilience.Payload{Prompt: "x"})
	assert.ErrorIs(t, err, ErrEmptyCompletion)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Kind: "bard"})
	assert.ErrorIs(t, err, ErrUnknownKind)

	_, err = New(Config{Kind: KindOpenAI})
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	_, err = New(Config{Kind: KindAnthropic})
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestNewAll(t *testing.T) {
	providers, err := NewAll([]Config{
		{Name: "primary", Kind: KindOpenAI, APIKey: "k"},
		{Name: "fallback", Kind: KindTemplate},
	})
	require.NoError(t, err)
	require.Len(t, providers, 2)
	assert.Equal(t, "primary", providers[0].Name())
	assert.Equal(t, "fallback", providers[1].Name())

	_, err = NewAll([]Config{{Kind: KindTemplate}, {Kind: KindTemplate}})
	assert.ErrorContains(t, err, "duplicate")
}
