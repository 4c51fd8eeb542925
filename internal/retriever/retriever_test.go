package retriever

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/triage-mcp/internal/embedder"
	"github.com/dshills/triage-mcp/internal/storage"
	"github.com/dshills/triage-mcp/pkg/types"
)

// fakeIndex serves canned ranked lists
type fakeIndex struct {
	vector     []storage.VectorResult
	keyword    []storage.KeywordResult
	vectorErr  error
	keywordErr error
	items      map[int64]*types.KnowledgeItem

	vectorCalls  atomic.Int32
	keywordCalls atomic.Int32
	lastFilters  *storage.SearchFilters
	lastLimit    int
}

func (f *fakeIndex) SearchVector(_ context.Context, _ []float32, limit int, filters *storage.SearchFilters) ([]storage.VectorResult, error) {
	f.vectorCalls.Add(1)
	f.lastLimit = limit
	f.lastFilters = filters
	return f.vector, f.vectorErr
}

func (f *fakeIndex) SearchKeyword(_ context.Context, _ string, _ int, _ *storage.SearchFilters) ([]storage.KeywordResult, error) {
	f.keywordCalls.Add(1)
	return f.keyword, f.keywordErr
}

func (f *fakeIndex) GetKnowledgeItems(_ context.Context, ids []int64) (map[int64]*types.KnowledgeItem, error) {
	out := make(map[int64]*types.KnowledgeItem)
	for _, id := range ids {
		if item, ok := f.items[id]; ok {
			out[id] = item
		}
	}
	return out, nil
}

func itemsFor(ids ...int64) map[int64]*types.KnowledgeItem {
	m := make(map[int64]*types.KnowledgeItem)
	for _, id := range ids {
		m[id] = &types.KnowledgeItem{ID: id, Title: "item", Body: "body", Category: "general"}
	}
	return m
}

// mockEmbedder implements embedder.Embedder for testing
type mockEmbedder struct {
	err   error
	calls atomic.Int32
}

func (m *mockEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	m.calls.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	return []float32{1, 0, 0}, nil
}

func (m *mockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		v, err := m.Embed(ctx, texts[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (m *mockEmbedder) Dimension() int   { return 3 }
func (m *mockEmbedder) Provider() string { return "mock" }
func (m *mockEmbedder) Model() string    { return "mock-model" }
func (m *mockEmbedder) Close() error     { return nil }

func newTestRetriever(t *testing.T, idx Index, emb embedder.Embedder) *Retriever {
	t.Helper()
	r, err := New(idx, emb, DefaultConfig(), nil)
	require.NoError(t, err)
	return r
}

func TestFuse_TopOfBothListsScoresTwoOverSixtyOne(t *testing.T) {
	fused := Fuse(
		[]storage.VectorResult{{ItemID: 7, Similarity: 0.93}},
		[]storage.KeywordResult{{ItemID: 7, Similarity: 0.61}},
		60,
	)
	require.Len(t, fused, 1)
	assert.Equal(t, 2.0/61.0, fused[0].FusedScore)
	assert.Equal(t, 1, fused[0].VectorRank)
	assert.Equal(t, 1, fused[0].KeywordRank)
	assert.Equal(t, 0.93, fused[0].VectorSimilarity)
	assert.Equal(t, 0.61, fused[0].KeywordSimilarity)
}

func TestFuse_ItemInOneListStillScores(t *testing.T) {
	fused := Fuse(
		[]storage.VectorResult{{ItemID: 1, Similarity: 0.9}, {ItemID: 2, Similarity: 0.8}},
		[]storage.KeywordResult{{ItemID: 3, Similarity: 0.7}, {ItemID: 1, Similarity: 0.5}},
		60,
	)
	require.Len(t, fused, 3)

	byID := make(map[int64]types.KnowledgeMatch)
	for _, m := range fused {
		byID[m.ItemID] = m
	}
	assert.Equal(t, 1.0/61+1.0/62, byID[1].FusedScore)
	assert.Equal(t, 1.0/62, byID[2].FusedScore)
	assert.Equal(t, 1.0/61, byID[3].FusedScore)
	assert.Greater(t, byID[2].FusedScore, 0.0)
	assert.Equal(t, 0, byID[3].VectorRank)

	assert.Equal(t, int64(1), fused[0].ItemID)
	assert.Equal(t, int64(3), fused[1].ItemID)
	assert.Equal(t, int64(2), fused[2].ItemID)
	for i, m := range fused {
		assert.Equal(t, i+1, m.Rank)
	}
}

func TestFuse_Symmetric(t *testing.T) {
	a := Fuse([]storage.VectorResult{{ItemID: 1}, {ItemID: 2}}, []storage.KeywordResult{{ItemID: 2}, {ItemID: 1}}, 60)
	require.Len(t, a, 2)
	assert.Equal(t, a[0].FusedScore, a[1].FusedScore)
}

func TestFuse_DuplicateEntriesCountOnce(t *testing.T) {
	fused := Fuse([]storage.VectorResult{{ItemID: 1}, {ItemID: 1}}, nil, 60)
	require.Len(t, fused, 1)
	assert.Equal(t, 1.0/61, fused[0].FusedScore)
}

func TestFuse_DefaultConstant(t *testing.T) {
	fused := Fuse([]storage.VectorResult{{ItemID: 1}}, nil, 0)
	assert.Equal(t, 1.0/61, fused[0].FusedScore)
}

func TestRetrieve_Hybrid(t *testing.T) {
	idx := &fakeIndex{
		vector:  []storage.VectorResult{{ItemID: 1, Similarity: 0.91}, {ItemID: 2, Similarity: 0.7}},
		keyword: []storage.KeywordResult{{ItemID: 1, Similarity: 0.8}, {ItemID: 3, Similarity: 0.4}},
		items:   itemsFor(1, 2, 3),
	}
	emb := &mockEmbedder{}
	r := newTestRetriever(t, idx, emb)

	resp, err := r.Retrieve(context.Background(), Query{Text: "visitor parking", Category: " Parking ", K: 2})
	require.NoError(t, err)
	assert.False(t, resp.Degraded)
	assert.Equal(t, ModeHybrid, resp.Mode)
	require.Len(t, resp.Matches, 2)
	assert.Equal(t, int64(1), resp.Matches[0].ItemID)
	assert.NotNil(t, resp.Matches[0].Item)
	assert.Equal(t, 0.91, resp.FusedSimilarity())
	assert.Equal(t, "parking", idx.lastFilters.Category)
	assert.Equal(t, 2*DefaultCandidateMultiplier, idx.lastLimit)
	assert.Equal(t, int32(1), emb.calls.Load())
}

func TestRetrieve_PrecomputedEmbeddingSkipsEmbedder(t *testing.T) {
	idx := &fakeIndex{vector: []storage.VectorResult{{ItemID: 1, Similarity: 0.5}}, items: itemsFor(1)}
	emb := &mockEmbedder{}
	r := newTestRetriever(t, idx, emb)

	_, err := r.Retrieve(context.Background(), Query{Text: "q", Embedding: []float32{0, 1, 0}})
	require.NoError(t, err)
	assert.Equal(t, int32(0), emb.calls.Load())
}

func TestRetrieve_VectorFailureDegradesToKeyword(t *testing.T) {
	idx := &fakeIndex{
		keyword: []storage.KeywordResult{{ItemID: 4, Similarity: 0.66}},
		items:   itemsFor(4),
	}
	r := newTestRetriever(t, idx, &mockEmbedder{err: errors.New("embedding service down")})

	resp, err := r.Retrieve(context.Background(), Query{Text: "elevator broken"})
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	assert.Contains(t, resp.DegradedReason, "embedding service down")
	require.Len(t, resp.Matches, 1)
	assert.Equal(t, 0.66, resp.FusedSimilarity())
	assert.Equal(t, int32(0), idx.vectorCalls.Load())
}

func TestRetrieve_IndexVectorFailureDegrades(t *testing.T) {
	idx := &fakeIndex{
		vectorErr: errors.New("vector index unavailable"),
		keyword:   []storage.KeywordResult{{ItemID: 4, Similarity: 0.3}},
		items:     itemsFor(4),
	}
	r := newTestRetriever(t, idx, &mockEmbedder{})

	resp, err := r.Retrieve(context.Background(), Query{Text: "elevator"})
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	assert.Len(t, resp.Matches, 1)
}

func TestRetrieve_NoEmbedderDegrades(t *testing.T) {
	idx := &fakeIndex{keyword: []storage.KeywordResult{{ItemID: 4, Similarity: 0.3}}, items: itemsFor(4)}
	r := newTestRetriever(t, idx, nil)

	resp, err := r.Retrieve(context.Background(), Query{Text: "elevator"})
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
}

func TestRetrieve_KeywordFailureDegradesToVector(t *testing.T) {
	idx := &fakeIndex{
		vector:     []storage.VectorResult{{ItemID: 2, Similarity: 0.77}},
		keywordErr: errors.New("fts missing"),
		items:      itemsFor(2),
	}
	r := newTestRetriever(t, idx, &mockEmbedder{})

	resp, err := r.Retrieve(context.Background(), Query{Text: "noise"})
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	assert.Contains(t, resp.DegradedReason, "keyword")
	assert.Equal(t, 0.77, resp.FusedSimilarity())
}

func TestRetrieve_BothFail(t *testing.T) {
	idx := &fakeIndex{vectorErr: errors.New("a"), keywordErr: errors.New("b")}
	r := newTestRetriever(t, idx, &mockEmbedder{})

	_, err := r.Retrieve(context.Background(), Query{Text: "noise"})
	assert.ErrorIs(t, err, ErrRetrievalFailed)
}

func TestRetrieve_EmptyKeywordQueryIsNotFailure(t *testing.T) {
	idx := &fakeIndex{
		vector:     []storage.VectorResult{{ItemID: 2, Similarity: 0.5}},
		keywordErr: storage.ErrEmptyQuery,
		items:      itemsFor(2),
	}
	r := newTestRetriever(t, idx, &mockEmbedder{})

	resp, err := r.Retrieve(context.Background(), Query{Text: "a of"})
	require.NoError(t, err)
	assert.False(t, resp.Degraded)
}

func TestRetrieve_SkipsVanishedItems(t *testing.T) {
	idx := &fakeIndex{
		vector: []storage.VectorResult{{ItemID: 1, Similarity: 0.9}, {ItemID: 2, Similarity: 0.8}},
		items:  itemsFor(2),
	}
	r := newTestRetriever(t, idx, &mockEmbedder{})

	resp, err := r.Retrieve(context.Background(), Query{Text: "x"})
	require.NoError(t, err)
	require.Len(t, resp.Matches, 1)
	assert.Equal(t, int64(2), resp.Matches[0].ItemID)
	assert.Equal(t, 1, resp.Matches[0].Rank)
}

func TestRetrieve_NoMatches(t *testing.T) {
	r := newTestRetriever(t, &fakeIndex{}, &mockEmbedder{})
	resp, err := r.Retrieve(context.Background(), Query{Text: "x"})
	require.NoError(t, err)
	assert.Empty(t, resp.Matches)
	assert.Equal(t, 0.0, resp.FusedSimilarity())
}

func TestRetrieve_Validation(t *testing.T) {
	r := newTestRetriever(t, &fakeIndex{}, &mockEmbedder{})
	_, err := r.Retrieve(context.Background(), Query{Text: "   "})
	assert.Error(t, err)

	_, err = r.Retrieve(context.Background(), Query{Text: "x", Mode: "semantic"})
	assert.Error(t, err)

	_, err = New(nil, nil, DefaultConfig(), nil)
	assert.Error(t, err)
}

func TestRetrieve_Modes(t *testing.T) {
	idx := &fakeIndex{
		vector:  []storage.VectorResult{{ItemID: 1, Similarity: 0.9}},
		keyword: []storage.KeywordResult{{ItemID: 2, Similarity: 0.4}},
		items:   itemsFor(1, 2),
	}
	r := newTestRetriever(t, idx, &mockEmbedder{})

	resp, err := r.Retrieve(context.Background(), Query{Text: "x", Mode: ModeVector})
	require.NoError(t, err)
	require.Len(t, resp.Matches, 1)
	assert.Equal(t, int64(1), resp.Matches[0].ItemID)
	assert.Equal(t, int32(0), idx.keywordCalls.Load())

	resp, err = r.Retrieve(context.Background(), Query{Text: "x", Mode: ModeKeyword})
	require.NoError(t, err)
	require.Len(t, resp.Matches, 1)
	assert.Equal(t, int64(2), resp.Matches[0].ItemID)

	idx.vectorErr = errors.New("down")
	_, err = r.Retrieve(context.Background(), Query{Text: "x", Mode: ModeVector})
	assert.ErrorIs(t, err, ErrRetrievalFailed)
}

func TestRetrieve_Cache(t *testing.T) {
	idx := &fakeIndex{vector: []storage.VectorResult{{ItemID: 1, Similarity: 0.9}}, items: itemsFor(1)}
	r := newTestRetriever(t, idx, &mockEmbedder{})
	q := Query{Text: "visitor parking", UseCache: true}

	first, err := r.Retrieve(context.Background(), q)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)
	first.Matches[0].Item.Title = "mutated"

	second, err := r.Retrieve(context.Background(), q)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, "item", second.Matches[0].Item.Title)
	assert.Equal(t, int32(1), idx.vectorCalls.Load())

	r.InvalidateCache()
	assert.Equal(t, 0, r.CacheLen())
	_, err = r.Retrieve(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, int32(2), idx.vectorCalls.Load())
}

func TestRetrieve_DegradedNotCached(t *testing.T) {
	idx := &fakeIndex{keyword: []storage.KeywordResult{{ItemID: 1, Similarity: 0.4}}, items: itemsFor(1)}
	r := newTestRetriever(t, idx, &mockEmbedder{err: errors.New("down")})

	_, err := r.Retrieve(context.Background(), Query{Text: "x", UseCache: true})
	require.NoError(t, err)
	assert.Equal(t, 0, r.CacheLen())
}

func TestComputeQueryHash(t *testing.T) {
	a := computeQueryHash(Query{Text: "x", Mode: ModeHybrid, K: 5})
	assert.Equal(t, a, computeQueryHash(Query{Text: "x", Mode: ModeHybrid, K: 5}))
	assert.NotEqual(t, a, computeQueryHash(Query{Text: "x", Mode: ModeHybrid, K: 6}))
	assert.NotEqual(t, a, computeQueryHash(Query{Text: "x", Mode: ModeHybrid, K: 5, Category: "parking"}))

	e1 := computeQueryHash(Query{Text: "x", Mode: ModeHybrid, K: 5, Embedding: []float32{1, 0}})
	assert.NotEqual(t, a, e1)
	assert.Equal(t, e1, computeQueryHash(Query{Text: "x", Mode: ModeHybrid, K: 5, Embedding: []float32{1, 0}}))
	assert.NotEqual(t, e1, computeQueryHash(Query{Text: "x", Mode: ModeHybrid, K: 5, Embedding: []float32{0, 1}}))
}

func TestRetrieve_CacheKeyedByEmbedding(t *testing.T) {
	idx := &fakeIndex{vector: []storage.VectorResult{{ItemID: 1, Similarity: 0.9}}, items: itemsFor(1)}
	r := newTestRetriever(t, idx, &mockEmbedder{})
	ctx := context.Background()

	_, err := r.Retrieve(ctx, Query{Text: "visitor parking", Embedding: []float32{1, 0, 0}, UseCache: true})
	require.NoError(t, err)
	other, err := r.Retrieve(ctx, Query{Text: "visitor parking", Embedding: []float32{0, 1, 0}, UseCache: true})
	require.NoError(t, err)
	assert.False(t, other.CacheHit)
	assert.Equal(t, int32(2), idx.vectorCalls.Load())

	again, err := r.Retrieve(ctx, Query{Text: "visitor parking", Embedding: []float32{0, 1, 0}, UseCache: true})
	require.NoError(t, err)
	assert.True(t, again.CacheHit)
	assert.Equal(t, int32(2), idx.vectorCalls.Load())
}

func TestFusedSimilarity_SourceList(t *testing.T) {
	keywordTop := types.KnowledgeMatch{ItemID: 2, Rank: 1, KeywordRank: 1, KeywordSimilarity: 0.97}
	both := types.KnowledgeMatch{ItemID: 1, Rank: 1, VectorRank: 1, VectorSimilarity: 0.6, KeywordRank: 2, KeywordSimilarity: 0.9}

	tests := []struct {
		name string
		resp Response
		want float64
	}{
		{"hybrid keyword-only top scores zero", Response{Mode: ModeHybrid, Matches: []types.KnowledgeMatch{keywordTop}, VectorResults: 3, KeywordResults: 1}, 0},
		{"hybrid uses vector similarity", Response{Mode: ModeHybrid, Matches: []types.KnowledgeMatch{both}, VectorResults: 1, KeywordResults: 2}, 0.6},
		{"degraded to keyword", Response{Mode: ModeHybrid, Degraded: true, Matches: []types.KnowledgeMatch{keywordTop}, KeywordResults: 1}, 0.97},
		{"degraded to vector", Response{Mode: ModeHybrid, Degraded: true, Matches: []types.KnowledgeMatch{both}, VectorResults: 1}, 0.6},
		{"keyword mode", Response{Mode: ModeKeyword, Matches: []types.KnowledgeMatch{keywordTop}, KeywordResults: 1}, 0.97},
		{"no matches", Response{Mode: ModeHybrid}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.resp.FusedSimilarity(), 1e-9)
		})
	}
}

func TestRetrieve_SQLite(t *testing.T) {
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	items := []*types.KnowledgeItem{
		{Title: "Visitor parking", Body: "Visitor parking stalls on P1 allow 24 hour stays.", Category: "parking", Embedding: []float32{1, 0, 0}},
		{Title: "Parking permits", Body: "Residents display a permit on the dashboard.", Category: "parking", Embedding: []float32{0.8, 0.6, 0}},
		{Title: "Pets", Body: "Dogs and cats must be registered.", Category: "bylaws", Embedding: []float32{0, 1, 0}},
	}
	for _, it := range items {
		require.NoError(t, store.UpsertKnowledgeItem(ctx, it))
	}

	r := newTestRetriever(t, store, &mockEmbedder{})
	resp, err := r.Retrieve(ctx, Query{Text: "visitor parking overnight", K: 3})
	require.NoError(t, err)
	assert.False(t, resp.Degraded)
	require.NotEmpty(t, resp.Matches)
	assert.Equal(t, "Visitor parking", resp.Matches[0].Item.Title)
	assert.Equal(t, 2.0/61.0, resp.Matches[0].FusedScore)
	assert.InDelta(t, 1.0, resp.FusedSimilarity(), 1e-6)

	resp, err = r.Retrieve(ctx, Query{Text: "dogs", Category: "bylaws"})
	require.NoError(t, err)
	for _, m := range resp.Matches {
		assert.Equal(t, "bylaws", m.Item.Category)
	}
}
