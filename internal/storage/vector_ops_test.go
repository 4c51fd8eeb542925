package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedSearchData(t *testing.T, s *SQLiteStorage) map[string]int64 {
	t.Helper()
	ctx := context.Background()
	items := []struct {
		title, body, category string
		vec                   []float32
	}{
		{"Visitor parking", "Visitor parking stalls are available on P1 for up to 24 hours.", "parking", []float32{1, 0, 0}},
		{"Parking permits", "Residents must display a parking permit on the dashboard.", "parking", []float32{0.8, 0.6, 0}},
		{"Pet registration", "Register dogs and cats with the strata manager.", "bylaws", []float32{0, 1, 0}},
		{"Garbage room", "Recycling is collected on Tuesdays.", "building", []float32{0, 0, 1}},
	}
	ids := make(map[string]int64)
	for _, it := range items {
		item := newItem(it.title, it.body, it.category, it.vec)
		require.NoError(t, s.UpsertKnowledgeItem(ctx, item))
		ids[it.title] = item.ID
	}
	return ids
}

func TestSearchVector(t *testing.T) {
	s := setupTestDB(t)
	ids := seedSearchData(t, s)
	ctx := context.Background()

	results, err := s.SearchVector(ctx, []float32{1, 0, 0}, 3, nil)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, ids["Visitor parking"], results[0].ItemID)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-6)
	assert.Equal(t, ids["Parking permits"], results[1].ItemID)
	assert.InDelta(t, 0.8, results[1].Similarity, 1e-6)

	filtered, err := s.SearchVector(ctx, []float32{1, 0, 0}, 5, &SearchFilters{Category: "bylaws"})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, ids["Pet registration"], filtered[0].ItemID)

	relevant, err := s.SearchVector(ctx, []float32{1, 0, 0}, 5, &SearchFilters{MinRelevance: 0.5})
	require.NoError(t, err)
	assert.Len(t, relevant, 2)
}

func TestSearchVector_EdgeCases(t *testing.T) {
	s := setupTestDB(t)
	seedSearchData(t, s)
	ctx := context.Background()

	results, err := s.SearchVector(ctx, []float32{1, 0, 0}, 0, nil)
	require.NoError(t, err)
	assert.Empty(t, results)

	// Dimension mismatch matches nothing
	results, err = s.SearchVector(ctx, []float32{1, 0}, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchKeyword(t *testing.T) {
	s := setupTestDB(t)
	ids := seedSearchData(t, s)
	ctx := context.Background()

	results, err := s.SearchKeyword(ctx, "visitor parking", 5, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, ids["Visitor parking"], results[0].ItemID)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-9)
	for _, r := range results {
		assert.Greater(t, r.Similarity, 0.0)
		assert.LessOrEqual(t, r.Similarity, 1.0)
	}

	filtered, err := s.SearchKeyword(ctx, "parking", 5, &SearchFilters{Category: "bylaws"})
	require.NoError(t, err)
	assert.Empty(t, filtered)

	_, err = s.SearchKeyword(ctx, "a of", 5, nil)
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestSearchKeyword_OperatorsAreLiteral(t *testing.T) {
	s := setupTestDB(t)
	seedSearchData(t, s)

	_, err := s.SearchKeyword(context.Background(), `parking AND "NOT" (dogs*)`, 5, nil)
	assert.NoError(t, err)
}

func TestBuildFTSQuery(t *testing.T) {
	assert.Equal(t, `"visitor" OR "parking"`, buildFTSQuery("Visitor parking, visitor!"))
	assert.Equal(t, "", buildFTSQuery("to be or"))
}

func TestSerializeVector(t *testing.T) {
	in := []float32{0.5, -1.25, 3}
	assert.Equal(t, in, deserializeVector(serializeVector(in)))
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1}, []float32{1, 2}))
	assert.Equal(t, 0.0, CosineSimilarity([]float32{0, 0}, []float32{1, 2}))
}
