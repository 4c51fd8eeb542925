package retriever

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/triage-mcp/internal/embedder"
	"github.com/dshills/triage-mcp/internal/logger"
	"github.com/dshills/triage-mcp/internal/storage"
	"github.com/dshills/triage-mcp/pkg/types"
)

// ErrRetrievalFailed is returned when both the vector and keyword searches fail
var ErrRetrievalFailed = errors.New("retrieval failed")

// Mode defines how retrieval is performed
type Mode string

const (
	ModeHybrid  Mode = "hybrid"  // Vector + keyword with RRF
	ModeVector  Mode = "vector"  // Vector similarity only
	ModeKeyword Mode = "keyword" // Trigram keyword search only
)

// Defaults
const (
	DefaultK                   = 5
	MaxK                       = 50
	DefaultRRFConstant         = 60.0
	DefaultCandidateMultiplier = 4
	DefaultCacheSize           = 1000
	DefaultCacheTTL            = 10 * time.Minute
)

// Config holds retrieval policy
type Config struct {
	K                   int           `koanf:"k" validate:"min=1,max=50"`
	RRFConstant         float64       `koanf:"rrf_constant" validate:"gt=0"`
	CandidateMultiplier int           `koanf:"candidate_multiplier" validate:"min=1"`
	MinRelevance        float64       `koanf:"min_relevance" validate:"min=0,max=1"`
	CacheSize           int           `koanf:"cache_size" validate:"min=0"`
	CacheTTL            time.Duration `koanf:"cache_ttl"`
}

// DefaultConfig returns the default retrieval policy
func DefaultConfig() Config {
	return Config{
		K:                   DefaultK,
		RRFConstant:         DefaultRRFConstant,
		CandidateMultiplier: DefaultCandidateMultiplier,
		CacheSize:           DefaultCacheSize,
		CacheTTL:            DefaultCacheTTL,
	}
}

// Index is the similarity index read by the retriever
type Index interface {
	SearchVector(ctx context.Context, vector []float32, limit int, filters *storage.SearchFilters) ([]storage.VectorResult, error)
	SearchKeyword(ctx context.Context, query string, limit int, filters *storage.SearchFilters) ([]storage.KeywordResult, error)
	GetKnowledgeItems(ctx context.Context, ids []int64) (map[int64]*types.KnowledgeItem, error)
}

// Query contains parameters for a retrieval
type Query struct {
	Text      string
	Embedding []float32 // Optional precomputed embedding of Text
	Category  string    // Optional exact-match filter
	K         int
	Mode      Mode
	UseCache  bool
}

// Response contains fused matches and metadata
type Response struct {
	Matches        []types.KnowledgeMatch
	Mode           Mode
	Degraded       bool
	DegradedReason string
	CacheHit       bool
	VectorResults  int
	KeywordResults int
	Duration       time.Duration
}

// FusedSimilarity returns the best match's original similarity in [0,1],
// or 0 when nothing matched. While the vector search is healthy only
// vector similarity counts, so a keyword-only top match scores 0.
// Keyword similarity is used when the response was served from the
// keyword list alone.
func (r *Response) FusedSimilarity() float64 {
	if r == nil || len(r.Matches) == 0 {
		return 0
	}
	top := &r.Matches[0]
	if r.rankedByKeyword() {
		return top.Similarity()
	}
	return top.VectorScore()
}

// rankedByKeyword reports whether the ranking came from the keyword list alone
func (r *Response) rankedByKeyword() bool {
	return r.Mode == ModeKeyword || (r.Degraded && r.VectorResults == 0)
}

// cacheEntry represents a cached response with expiration time
type cacheEntry struct {
	response  *Response
	expiresAt time.Time
}

// Retriever coordinates hybrid retrieval over an Index
type Retriever struct {
	index    Index
	embedder embedder.Embedder
	cfg      Config
	log      *logger.Logger

	cache   *lru.Cache[[32]byte, *cacheEntry]
	cacheMu sync.RWMutex
}

// New creates a Retriever. emb may be nil, in which case queries without a
// precomputed embedding run keyword-only.
func New(index Index, emb embedder.Embedder, cfg Config, log *logger.Logger) (*Retriever, error) {
	if index == nil {
		return nil, fmt.Errorf("index is required")
	}
	cfg = cfg.withDefaults()
	if log == nil {
		log = logger.NewNop()
	}

	r := &Retriever{index: index, embedder: emb, cfg: cfg, log: log.Named("retriever")}
	if cfg.CacheSize > 0 {
		cache, err := lru.New[[32]byte, *cacheEntry](cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create query cache: %w", err)
		}
		r.cache = cache
	}
	return r, nil
}

func (c Config) withDefaults() Config {
	if c.K <= 0 {
		c.K = DefaultK
	}
	if c.RRFConstant <= 0 {
		c.RRFConstant = DefaultRRFConstant
	}
	if c.CandidateMultiplier <= 0 {
		c.CandidateMultiplier = DefaultCandidateMultiplier
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	return c
}

// Retrieve runs q and returns the top K fused matches
func (r *Retriever) Retrieve(ctx context.Context, q Query) (*Response, error) {
	start := time.Now()

	if err := r.normalize(&q); err != nil {
		return nil, fmt.Errorf("invalid query: %w", err)
	}

	if q.UseCache {
		if cached := r.checkCache(q); cached != nil {
			cached.CacheHit = true
			cached.Duration = time.Since(start)
			return cached, nil
		}
	}

	var resp *Response
	var err error
	switch q.Mode {
	case ModeHybrid:
		resp, err = r.hybrid(ctx, q)
	case ModeVector:
		resp, err = r.vectorOnly(ctx, q)
	case ModeKeyword:
		resp, err = r.keywordOnly(ctx, q)
	default:
		return nil, fmt.Errorf("unsupported retrieval mode: %s", q.Mode)
	}
	if err != nil {
		return nil, err
	}

	resp.Mode = q.Mode
	resp.Duration = time.Since(start)

	if q.UseCache && !resp.Degraded && len(resp.Matches) > 0 {
		r.storeInCache(q, resp)
	}
	return resp, nil
}

func (r *Retriever) normalize(q *Query) error {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return fmt.Errorf("query text cannot be empty")
	}
	if q.K <= 0 {
		q.K = r.cfg.K
	}
	if q.K > MaxK {
		q.K = MaxK
	}
	if q.Mode == "" {
		q.Mode = ModeHybrid
	}
	q.Category = strings.ToLower(strings.TrimSpace(q.Category))
	return nil
}

func (r *Retriever) filters(q Query) *storage.SearchFilters {
	return &storage.SearchFilters{Category: q.Category, MinRelevance: r.cfg.MinRelevance}
}

func (r *Retriever) depth(q Query) int {
	return q.K * r.cfg.CandidateMultiplier
}

func (r *Retriever) searchVector(ctx context.Context, q Query) ([]storage.VectorResult, error) {
	vec := q.Embedding
	if len(vec) == 0 {
		if r.embedder == nil {
			return nil, fmt.Errorf("no embedding available for query")
		}
		var err error
		vec, err = r.embedder.Embed(ctx, q.Text)
		if err != nil {
			return nil, fmt.Errorf("failed to generate query embedding: %w", err)
		}
	}
	return r.index.SearchVector(ctx, vec, r.depth(q), r.filters(q))
}

func (r *Retriever) searchKeyword(ctx context.Context, q Query) ([]storage.KeywordResult, error) {
	results, err := r.index.SearchKeyword(ctx, q.Text, r.depth(q), r.filters(q))
	if errors.Is(err, storage.ErrEmptyQuery) {
		return nil, nil
	}
	return results, err
}

// hybrid runs both searches concurrently and fuses them. One side may fail.
func (r *Retriever) hybrid(ctx context.Context, q Query) (*Response, error) {
	var (
		g          errgroup.Group
		vecResults []storage.VectorResult
		kwResults  []storage.KeywordResult
		vecErr     error
		kwErr      error
	)
	g.Go(func() error {
		vecResults, vecErr = r.searchVector(ctx, q)
		return nil
	})
	g.Go(func() error {
		kwResults, kwErr = r.searchKeyword(ctx, q)
		return nil
	})
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if vecErr != nil && kwErr != nil {
		return nil, fmt.Errorf("%w: vector: %w; keyword: %w", ErrRetrievalFailed, vecErr, kwErr)
	}

	resp := &Response{VectorResults: len(vecResults), KeywordResults: len(kwResults)}
	switch {
	case vecErr != nil:
		resp.Degraded = true
		resp.DegradedReason = "vector search unavailable: " + vecErr.Error()
		r.log.Warn("vector search failed, ranking by keyword only", "error", vecErr)
	case kwErr != nil:
		resp.Degraded = true
		resp.DegradedReason = "keyword search unavailable: " + kwErr.Error()
		r.log.Warn("keyword search failed, ranking by vector only", "error", kwErr)
	}

	fused := Fuse(vecResults, kwResults, r.cfg.RRFConstant)
	matches, err := r.hydrate(ctx, fused, q.K)
	if err != nil {
		return nil, err
	}
	resp.Matches = matches
	return resp, nil
}

func (r *Retriever) vectorOnly(ctx context.Context, q Query) (*Response, error) {
	results, err := r.searchVector(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRetrievalFailed, err)
	}
	matches, err := r.hydrate(ctx, Fuse(results, nil, r.cfg.RRFConstant), q.K)
	if err != nil {
		return nil, err
	}
	return &Response{Matches: matches, VectorResults: len(results)}, nil
}

func (r *Retriever) keywordOnly(ctx context.Context, q Query) (*Response, error) {
	results, err := r.searchKeyword(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRetrievalFailed, err)
	}
	matches, err := r.hydrate(ctx, Fuse(nil, results, r.cfg.RRFConstant), q.K)
	if err != nil {
		return nil, err
	}
	return &Response{Matches: matches, KeywordResults: len(results)}, nil
}

// hydrate loads items for the top limit matches, skipping vanished ones
func (r *Retriever) hydrate(ctx context.Context, fused []types.KnowledgeMatch, limit int) ([]types.KnowledgeMatch, error) {
	if len(fused) == 0 {
		return nil, nil
	}
	if limit > len(fused) {
		limit = len(fused)
	}
	top := fused[:limit]

	ids := make([]int64, len(top))
	for i, m := range top {
		ids[i] = m.ItemID
	}
	items, err := r.index.GetKnowledgeItems(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load matched items: %w", err)
	}

	out := make([]types.KnowledgeMatch, 0, len(top))
	for _, m := range top {
		item, ok := items[m.ItemID]
		if !ok {
			continue
		}
		m.Item = item
		m.Rank = len(out) + 1
		out = append(out, m)
	}
	return out, nil
}

// Fuse merges ranked vector and keyword lists with Reciprocal Rank Fusion.
// Input lists must be ordered best first; ranks are 1-based. The result is
// ordered by fused score descending, ties broken by original similarity and
// then item ID.
func Fuse(vector []storage.VectorResult, keyword []storage.KeywordResult, k float64) []types.KnowledgeMatch {
	if k <= 0 {
		k = DefaultRRFConstant
	}

	byID := make(map[int64]*types.KnowledgeMatch, len(vector)+len(keyword))
	get := func(id int64) *types.KnowledgeMatch {
		m, ok := byID[id]
		if !ok {
			m = &types.KnowledgeMatch{ItemID: id}
			byID[id] = m
		}
		return m
	}

	for i, vr := range vector {
		m := get(vr.ItemID)
		if m.VectorRank != 0 {
			continue
		}
		m.VectorRank = i + 1
		m.VectorSimilarity = vr.Similarity
		m.FusedScore += 1.0 / (k + float64(m.VectorRank))
	}
	for i, kr := range keyword {
		m := get(kr.ItemID)
		if m.KeywordRank != 0 {
			continue
		}
		m.KeywordRank = i + 1
		m.KeywordSimilarity = kr.Similarity
		m.FusedScore += 1.0 / (k + float64(m.KeywordRank))
	}

	out := make([]types.KnowledgeMatch, 0, len(byID))
	for _, m := range byID {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FusedScore != out[j].FusedScore {
			return out[i].FusedScore > out[j].FusedScore
		}
		si, sj := out[i].Similarity(), out[j].Similarity()
		if si != sj {
			return si > sj
		}
		return out[i].ItemID < out[j].ItemID
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// checkCache returns a copy of a live cached response, or nil
func (r *Retriever) checkCache(q Query) *Response {
	if r.cache == nil {
		return nil
	}
	hash := computeQueryHash(q)

	r.cacheMu.RLock()
	entry, found := r.cache.Get(hash)
	if !found {
		r.cacheMu.RUnlock()
		return nil
	}
	if time.Now().After(entry.expiresAt) {
		r.cacheMu.RUnlock()
		r.cacheMu.Lock()
		r.cache.Remove(hash)
		r.cacheMu.Unlock()
		return nil
	}
	resp := copyResponse(entry.response)
	r.cacheMu.RUnlock()
	return resp
}

func (r *Retriever) storeInCache(q Query, resp *Response) {
	if r.cache == nil {
		return
	}
	entry := &cacheEntry{
		response:  copyResponse(resp),
		expiresAt: time.Now().Add(r.cfg.CacheTTL),
	}
	r.cacheMu.Lock()
	r.cache.Add(computeQueryHash(q), entry)
	r.cacheMu.Unlock()
}

// copyResponse deep-copies the matches and their items
func copyResponse(src *Response) *Response {
	if src == nil {
		return nil
	}
	dst := *src
	dst.Matches = make([]types.KnowledgeMatch, len(src.Matches))
	for i, m := range src.Matches {
		dst.Matches[i] = m
		if m.Item != nil {
			item := *m.Item
			item.Keywords = append([]string(nil), m.Item.Keywords...)
			item.Embedding = append([]float32(nil), m.Item.Embedding...)
			if m.Item.LastUsedAt != nil {
				t := *m.Item.LastUsedAt
				item.LastUsedAt = &t
			}
			dst.Matches[i].Item = &item
		}
	}
	return &dst
}

// computeQueryHash computes a unique hash for a query
func computeQueryHash(q Query) [32]byte {
	var data strings.Builder
	data.WriteString(q.Text)
	data.WriteString("|")
	data.WriteString(string(q.Mode))
	data.WriteString("|")
	data.WriteString(q.Category)
	data.WriteString("|")
	data.WriteString(strconv.Itoa(q.K))
	data.WriteString("|")
	buf := make([]byte, 0, 4*len(q.Embedding))
	for _, v := range q.Embedding {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
	}
	data.Write(buf)
	return sha256.Sum256([]byte(data.String()))
}

// InvalidateCache drops every cached response
func (r *Retriever) InvalidateCache() {
	if r.cache == nil {
		return
	}
	r.cacheMu.Lock()
	r.cache.Purge()
	r.cacheMu.Unlock()
}

// CacheLen returns the number of cached responses
func (r *Retriever) CacheLen() int {
	if r.cache == nil {
		return 0
	}
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return r.cache.Len()
}
