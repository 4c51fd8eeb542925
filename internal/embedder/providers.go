package embedder

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/dshills/triage-mcp/internal/resilience"
	"github.com/dshills/triage-mcp/internal/textprep"
)

// Provider names
const (
	ProviderOpenAI = "openai"
	ProviderJina   = "jina"
	ProviderLocal  = "local"
)

// Provider defaults
const (
	OpenAIBaseURL   = "https://api.openai.com/v1"
	OpenAIModel     = "text-embedding-3-small"
	OpenAIDimension = 1536

	JinaBaseURL   = "https://api.jina.ai/v1"
	JinaModel     = "jina-embeddings-v3"
	JinaDimension = 1024

	LocalModel     = "hashed-ngrams"
	LocalDimension = 384

	MaxBatchSize     = 100
	MaxRetries       = 3
	InitialBackoffMs = 250
	MaxBackoffMs     = 8000
	DefaultTimeout   = 30 * time.Second
)

// HTTPProvider calls an OpenAI-compatible /embeddings endpoint.
// Jina serves the same request and response shape.
type HTTPProvider struct {
	name      string
	model     string
	dimension int
	client    *resty.Client
	retry     RetryConfig
}

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Model string `json:"model"`
}

// NewHTTPProvider creates a provider against baseURL
func NewHTTPProvider(name, baseURL, apiKey, model string, dimension int, timeout time.Duration, retryCfg RetryConfig) (*HTTPProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s api key is required", ErrInvalidInput, name)
	}
	if baseURL == "" || model == "" || dimension <= 0 {
		return nil, fmt.Errorf("%w: %s requires base url, model and dimension", ErrInvalidInput, name)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetAuthToken(apiKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &HTTPProvider{
		name:      name,
		model:     model,
		dimension: dimension,
		client:    client,
		retry:     retryCfg,
	}, nil
}

func (p *HTTPProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (p *HTTPProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ValidateBatch(texts); err != nil {
		return nil, err
	}
	return retryWithBackoff(ctx, p.retry, func(ctx context.Context) ([][]float32, error) {
		return p.post(ctx, texts)
	})
}

func (p *HTTPProvider) post(ctx context.Context, texts []string) ([][]float32, error) {
	req := embeddingRequest{Model: p.model, Input: texts}
	if p.name == ProviderOpenAI {
		req.Dimensions = p.dimension
	}

	var out embeddingResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("/embeddings")
	if err != nil {
		return nil, fmt.Errorf("%w: %s request: %w", ErrProviderFailed, p.name, err)
	}
	if resp.IsError() {
		return nil, resilience.NewHTTPError(p.name, resp.StatusCode(), resp.String(), resp.Header())
	}

	if len(out.Data) != len(texts) {
		return nil, p.malformed(fmt.Errorf("%w: returned %d embeddings for %d inputs", ErrProviderFailed, len(out.Data), len(texts)))
	}
	sort.Slice(out.Data, func(i, j int) bool { return out.Data[i].Index < out.Data[j].Index })

	vecs := make([][]float32, len(out.Data))
	for i, d := range out.Data {
		if len(d.Embedding) != p.dimension {
			return nil, p.malformed(fmt.Errorf("%w: returned %d, expected %d", ErrDimensionMismatch, len(d.Embedding), p.dimension))
		}
		vecs[i] = d.Embedding
	}
	return vecs, nil
}

// malformed marks a well-formed HTTP exchange with an unusable body;
// retrying the same request will not help
func (p *HTTPProvider) malformed(err error) error {
	return &resilience.ClassifiedError{Class: resilience.ClassSystematic, Provider: p.name, Err: err}
}

func (p *HTTPProvider) Dimension() int   { return p.dimension }
func (p *HTTPProvider) Provider() string { return p.name }
func (p *HTTPProvider) Model() string    { return p.model }
func (p *HTTPProvider) Close() error     { return nil }

// LocalProvider derives deterministic embeddings offline by hashing word
// and trigram features into a fixed-size signed vector. Texts sharing
// vocabulary land close together under cosine similarity.
type LocalProvider struct {
	dimension int
}

// NewLocalProvider creates an offline provider
func NewLocalProvider(dimension int) *LocalProvider {
	if dimension <= 0 {
		dimension = LocalDimension
	}
	return &LocalProvider{dimension: dimension}
}

func (p *LocalProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.vector(text), nil
}

func (p *LocalProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ValidateBatch(texts); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = p.vector(text)
	}
	return out, nil
}

func (p *LocalProvider) vector(text string) []float32 {
	vec := make([]float32, p.dimension)
	for _, word := range textprep.Tokenize(text) {
		p.add(vec, "w:"+word, 1.0)
	}
	for gram := range textprep.Trigrams(text) {
		p.add(vec, "t:"+gram, 0.5)
	}
	return NormalizeVector(vec)
}

func (p *LocalProvider) add(vec []float32, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(p.dimension))
	if (sum>>63)&1 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}

func (p *LocalProvider) Dimension() int   { return p.dimension }
func (p *LocalProvider) Provider() string { return ProviderLocal }
func (p *LocalProvider) Model() string    { return LocalModel }
func (p *LocalProvider) Close() error     { return nil }

// NormalizeVector scales v to unit length in place and returns it
func NormalizeVector(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}
