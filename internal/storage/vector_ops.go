package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/dshills/triage-mcp/internal/textprep"
)

// searchVector performs vector similarity search using cosine similarity
func searchVector(ctx context.Context, db *sql.DB, queryVector []float32, limit int, filters *SearchFilters) ([]VectorResult, error) {
	if limit <= 0 {
		return []VectorResult{}, nil
	}
	if VectorExtensionAvailable {
		return searchVectorOptimized(ctx, db, queryVector, limit, filters)
	}
	return searchVectorFallback(ctx, db, queryVector, limit, filters)
}

// searchVectorOptimized uses the sqlite-vec extension to rank inside SQLite
func searchVectorOptimized(ctx context.Context, db *sql.DB, queryVector []float32, limit int, filters *SearchFilters) ([]VectorResult, error) {
	blob := serializeVector(queryVector)

	// vec_distance_cosine returns distance (lower is better)
	query := `
		SELECT id, 1.0 - vec_distance_cosine(embedding, ?) AS similarity
		FROM knowledge_items
		WHERE status = 'active' AND embedding IS NOT NULL AND embedding_dim = ?
	`
	args := []interface{}{blob, len(queryVector)}
	query, args = applyCategoryFilter(query, args, filters)
	if filters != nil && filters.MinRelevance > 0 {
		query += " AND (1.0 - vec_distance_cosine(embedding, ?)) >= ?"
		args = append(args, blob, filters.MinRelevance)
	}
	query += " ORDER BY similarity DESC, id ASC LIMIT ?"
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]VectorResult, 0, limit)
	for rows.Next() {
		var r VectorResult
		if err := rows.Scan(&r.ItemID, &r.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// searchVectorFallback computes cosine similarity in Go for purego builds
func searchVectorFallback(ctx context.Context, db *sql.DB, queryVector []float32, limit int, filters *SearchFilters) ([]VectorResult, error) {
	query := `
		SELECT id, embedding
		FROM knowledge_items
		WHERE status = 'active' AND embedding IS NOT NULL
	`
	args := []interface{}{}
	query, args = applyCategoryFilter(query, args, filters)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	minRelevance := 0.0
	if filters != nil {
		minRelevance = filters.MinRelevance
	}

	var candidates []candidate
	for rows.Next() {
		var id int64
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan embedding: %w", err)
		}
		vec := deserializeVector(blob)
		if len(vec) != len(queryVector) {
			continue
		}
		score := cosineSimilarity(queryVector, vec)
		if minRelevance > 0 && score < minRelevance {
			continue
		}
		candidates = append(candidates, candidate{itemID: id, score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortCandidates(candidates)
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	results := make([]VectorResult, len(candidates))
	for i, c := range candidates {
		results[i] = VectorResult{ItemID: c.itemID, Similarity: c.score}
	}
	return results, nil
}

// searchKeyword prefilters candidates through the trigram FTS index and
// scores them by trigram word similarity against the query.
func searchKeyword(ctx context.Context, db *sql.DB, query string, limit int, filters *SearchFilters) ([]KeywordResult, error) {
	match := buildFTSQuery(query)
	if match == "" {
		return nil, ErrEmptyQuery
	}
	if limit <= 0 {
		return []KeywordResult{}, nil
	}

	sqlQuery := `
		SELECT k.id, k.title, k.keywords, k.body
		FROM knowledge_fts
		INNER JOIN knowledge_items k ON k.id = knowledge_fts.rowid
		WHERE knowledge_fts MATCH ?
		AND k.status = 'active'
	`
	args := []interface{}{match}
	if filters != nil && filters.Category != "" {
		sqlQuery += " AND k.category = ?"
		args = append(args, filters.Category)
	}
	sqlQuery += " ORDER BY bm25(knowledge_fts) LIMIT ?"
	args = append(args, candidatePoolSize(limit))

	rows, err := db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute keyword search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	minRelevance := 0.0
	if filters != nil {
		minRelevance = filters.MinRelevance
	}
	queryGrams := textprep.Trigrams(query)

	var candidates []candidate
	for rows.Next() {
		var id int64
		var title, keywords, body string
		if err := rows.Scan(&id, &title, &keywords, &body); err != nil {
			return nil, fmt.Errorf("failed to scan keyword result: %w", err)
		}
		score := textprep.WordSimilaritySets(queryGrams, textprep.Trigrams(title+" "+keywords+" "+body))
		if score <= 0 || score < minRelevance {
			continue
		}
		candidates = append(candidates, candidate{itemID: id, score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortCandidates(candidates)
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	results := make([]KeywordResult, len(candidates))
	for i, c := range candidates {
		results[i] = KeywordResult{ItemID: c.itemID, Similarity: c.score}
	}
	return results, nil
}

// candidatePoolSize widens the FTS prefilter so rescoring has room to reorder
func candidatePoolSize(limit int) int {
	if n := limit * 10; n > 50 {
		return n
	}
	return 50
}

func applyCategoryFilter(query string, args []interface{}, filters *SearchFilters) (string, []interface{}) {
	if filters != nil && filters.Category != "" {
		query += " AND category = ?"
		args = append(args, filters.Category)
	}
	return query, args
}

// buildFTSQuery turns free text into an FTS5 OR query of quoted terms.
// The trigram tokenizer cannot match terms shorter than three characters,
// so those are dropped. Quoting neutralizes FTS5 operators and syntax.
func buildFTSQuery(query string) string {
	seen := make(map[string]struct{})
	var terms []string
	for _, tok := range textprep.Tokenize(query) {
		if len([]rune(tok)) < 3 {
			continue
		}
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		terms = append(terms, `"`+strings.ReplaceAll(tok, `"`, `""`)+`"`)
	}
	return strings.Join(terms, " OR ")
}

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vector
}

// cosineSimilarity computes the cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// candidate is an item with its similarity score
type candidate struct {
	itemID int64
	score  float64
}

// sortCandidates orders by score descending, ties by ascending id
func sortCandidates(candidates []candidate) {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].itemID < candidates[j].itemID
	})
}

// CosineSimilarity is exported for maintenance duplicate detection
func CosineSimilarity(a, b []float32) float64 {
	return cosineSimilarity(a, b)
}
