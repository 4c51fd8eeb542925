package types

// KnowledgeMatch is a single retrieval result with relevance information
type KnowledgeMatch struct {
	// Identification
	ItemID int64
	Rank   int // Position in result set (1-based)

	// Scoring
	FusedScore        float64 // Reciprocal Rank Fusion score
	VectorSimilarity  float64 // Cosine similarity, 0 when absent from the vector list
	KeywordSimilarity float64 // Trigram similarity, 0 when absent from the keyword list
	VectorRank        int     // 0 when absent
	KeywordRank       int     // 0 when absent

	// Content
	Item *KnowledgeItem
}

// Similarity returns the original similarity used for threshold comparison.
// The vector similarity wins when present; keyword-only matches fall back to
// their trigram similarity.
func (m *KnowledgeMatch) Similarity() float64 {
	if m.VectorRank > 0 {
		return clamp01(m.VectorSimilarity)
	}
	return clamp01(m.KeywordSimilarity)
}

// VectorScore returns the vector similarity clamped to [0,1], or 0 when
// the match came from the keyword list only
func (m *KnowledgeMatch) VectorScore() float64 {
	if m.VectorRank == 0 {
		return 0
	}
	return clamp01(m.VectorSimilarity)
}

func clamp01(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// CircuitSnapshot is a point-in-time view of a provider's circuit breaker
type CircuitSnapshot struct {
	Provider    string `json:"provider"`
	State       string `json:"state"`
	Failures    int    `json:"failures"`
	LastFailure string `json:"last_failure,omitempty"`
}
