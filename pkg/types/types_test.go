package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePriority(t *testing.T) {
	tests := []struct {
		in      string
		want    Priority
		wantErr bool
	}{
		{"", PriorityNormal, false},
		{"  Urgent ", PriorityUrgent, false},
		{"CRITICAL", PriorityCritical, false},
		{"low", PriorityLow, false},
		{"whenever", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePriority(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPriority)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.True(t, PriorityUrgent.Escalating())
	assert.True(t, PriorityCritical.Escalating())
	assert.False(t, PriorityHigh.Escalating())
}

func TestAdjustWeight(t *testing.T) {
	assert.InDelta(t, 1.2, AdjustWeight(1.0, true), 1e-9)
	assert.InDelta(t, 0.8, AdjustWeight(1.0, false), 1e-9)
	assert.InDelta(t, 1.2, AdjustWeight(0, true), 1e-9)

	assert.Equal(t, MaxExampleWeight, AdjustWeight(2.9, true))
	assert.Equal(t, MinExampleWeight, AdjustWeight(0.11, false))

	w := DefaultExampleWeight
	for range 50 {
		w = AdjustWeight(w, true)
	}
	assert.Equal(t, MaxExampleWeight, w)
}

func TestValidatedExample_Validate(t *testing.T) {
	valid := func() *ValidatedExample {
		return &ValidatedExample{
			RequestID:    "req-1",
			RequestText:  "Can I pay levies monthly?",
			ResponseText: "Yes, apply to the committee.",
			Category:     "levies",
			Status:       ExampleValidated,
			Weight:       DefaultExampleWeight,
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*ValidatedExample)
		want   error
	}{
		{"no request id", func(e *ValidatedExample) { e.RequestID = "" }, ErrEmptyRequestID},
		{"no request text", func(e *ValidatedExample) { e.RequestText = "" }, ErrEmptyRequestText},
		{"no response", func(e *ValidatedExample) { e.ResponseText = "" }, ErrEmptyResponseText},
		{"no category", func(e *ValidatedExample) { e.Category = "" }, ErrEmptyCategory},
		{"weight too high", func(e *ValidatedExample) { e.Weight = 3.5 }, ErrInvalidWeight},
		{"bad status", func(e *ValidatedExample) { e.Status = "maybe" }, ErrInvalidStatus},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := valid()
			tt.mutate(e)
			assert.ErrorIs(t, e.Validate(), tt.want)
		})
	}
}

func TestKnowledgeItem_RecordOutcome(t *testing.T) {
	item := &KnowledgeItem{}
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	item.RecordOutcome(true, at)
	item.RecordOutcome(false, at)
	item.RecordOutcome(true, at.Add(time.Hour))

	assert.Equal(t, 3, item.UsageCount)
	assert.InDelta(t, 2.0/3.0, item.SuccessRate, 1e-9)
	require.NotNil(t, item.LastUsedAt)
	assert.Equal(t, at.Add(time.Hour), *item.LastUsedAt)
}

func TestKnowledgeItem_IsStale(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	item := &KnowledgeItem{CreatedAt: created}
	window := 90 * 24 * time.Hour

	assert.False(t, item.IsStale(created.Add(30*24*time.Hour), window))
	assert.True(t, item.IsStale(created.Add(91*24*time.Hour), window))

	used := created.Add(60 * 24 * time.Hour)
	item.LastUsedAt = &used
	assert.False(t, item.IsStale(created.Add(91*24*time.Hour), window))
}

func TestKnowledgeItem_ContentHash(t *testing.T) {
	a := &KnowledgeItem{Title: "Parking", Body: "P1 visitors"}
	b := &KnowledgeItem{Title: "Parking", Body: "P1 visitors"}
	c := &KnowledgeItem{Title: "Parking", Body: "P2 visitors"}
	assert.Equal(t, a.ComputeContentHash(), b.ComputeContentHash())
	assert.NotEqual(t, a.ComputeContentHash(), c.ComputeContentHash())
}

func TestKnowledgeMatch_Similarity(t *testing.T) {
	vec := &KnowledgeMatch{VectorRank: 1, VectorSimilarity: 0.9, KeywordRank: 2, KeywordSimilarity: 0.4}
	assert.InDelta(t, 0.9, vec.Similarity(), 1e-9)

	kw := &KnowledgeMatch{KeywordRank: 1, KeywordSimilarity: 0.6}
	assert.InDelta(t, 0.6, kw.Similarity(), 1e-9)

	clamped := &KnowledgeMatch{VectorRank: 1, VectorSimilarity: -0.2}
	assert.Equal(t, 0.0, clamped.Similarity())

	assert.InDelta(t, 0.9, vec.VectorScore(), 1e-9)
	assert.Equal(t, 0.0, kw.VectorScore())
	assert.Equal(t, 1.0, (&KnowledgeMatch{VectorRank: 2, VectorSimilarity: 1.3}).VectorScore())
}

func TestRoutingDecision_Validate(t *testing.T) {
	d := &RoutingDecision{RequestID: "r", FusedSimilarity: 0.7, Path: PathDraft}
	require.NoError(t, d.Validate())

	d.FusedSimilarity = 1.2
	assert.ErrorIs(t, d.Validate(), ErrInvalidSimilarity)

	d.FusedSimilarity = 0.5
	d.Path = "SOMETIMES"
	assert.ErrorIs(t, d.Validate(), ErrInvalidPath)
}

func TestQueuedFailedOperation(t *testing.T) {
	created := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	op := &QueuedFailedOperation{CreatedAt: created, TTL: DefaultOperationTTL, MaxRetries: 2}

	assert.False(t, op.Expired(created.Add(24*time.Hour)))
	assert.True(t, op.Expired(created.Add(DefaultOperationTTL)))

	assert.False(t, op.Exhausted())
	op.RetryCount = 2
	assert.True(t, op.Exhausted())
}

func TestConversationState_AppendTurn(t *testing.T) {
	var c ConversationState
	for i := range MaxConversationTurns + 2 {
		c.AppendTurn(Turn{Text: string(rune('a' + i))})
	}
	assert.Len(t, c.Turns, MaxConversationTurns)
	assert.Equal(t, MaxConversationTurns+2, c.TurnCount)
	assert.Equal(t, "c", c.Turns[0].Text)
}
