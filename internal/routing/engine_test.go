package routing

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/triage-mcp/pkg/types"
)

type memAudit struct {
	mu        sync.Mutex
	decisions []types.RoutingDecision
	err       error
}

func (m *memAudit) AppendDecision(_ context.Context, d *types.RoutingDecision) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions = append(m.decisions, *d)
	return nil
}

func input(s float64, n int) Input {
	return Input{RequestID: "req-1", Similarity: s, ExampleCount: n, Priority: types.PriorityNormal, Complexity: 2}
}

func TestEvaluate_Table(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil, nil)

	tests := []struct {
		name   string
		in     Input
		path   types.Path
		reason string
		review bool
	}{
		{"high similarity mature", input(0.92, 150), types.PathAutoRespond, types.ReasonHighSimilarity, false},
		{"just above floor", input(0.8501, 101), types.PathAutoRespond, types.ReasonHighSimilarity, false},
		{"exactly 0.85 refines", input(0.85, 150), types.PathAutoRefine, types.ReasonRefineBand, true},
		{"exactly 0.75 refines", input(0.75, 150), types.PathAutoRefine, types.ReasonRefineBand, true},
		{"below refine band drafts", input(0.7499, 150), types.PathDraft, types.ReasonDraftBand, true},
		{"exactly 0.50 drafts", input(0.50, 31), types.PathDraft, types.ReasonDraftBand, true},
		{"below 0.50 researches", input(0.4999, 500), types.PathDeepResearch, types.ReasonLowSimilarity, true},
		{"zero similarity", input(0, 0), types.PathDeepResearch, types.ReasonLowSimilarity, true},
		{"high similarity immature", input(0.95, 100), types.PathEscalate, types.ReasonInsufficientData, true},
		{"refine band immature", input(0.80, 50), types.PathEscalate, types.ReasonInsufficientData, true},
		{"draft band at 30", input(0.60, 30), types.PathEscalate, types.ReasonInsufficientData, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := e.Evaluate(tt.in)
			assert.Equal(t, tt.path, d.Path)
			assert.Equal(t, tt.reason, d.ReasonCode)
			assert.Equal(t, tt.review, d.RequiresHumanReview)
			assert.Equal(t, d.FusedSimilarity, d.Confidence)
		})
	}
}

func TestEvaluate_EscalationOverrides(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil, nil)

	urgent := input(0.95, 500)
	urgent.Priority = types.PriorityUrgent
	d := e.Evaluate(urgent)
	assert.Equal(t, types.PathEscalate, d.Path)
	assert.Equal(t, types.ReasonPriority, d.ReasonCode)
	assert.True(t, d.RequiresHumanReview)

	critical := input(0.95, 500)
	critical.Priority = types.PriorityCritical
	assert.Equal(t, types.PathEscalate, e.Evaluate(critical).Path)

	complexReq := input(0.95, 500)
	complexReq.Complexity = 5
	d = e.Evaluate(complexReq)
	assert.Equal(t, types.PathEscalate, d.Path)
	assert.Equal(t, types.ReasonComplexity, d.ReasonCode)

	atLimit := input(0.95, 500)
	atLimit.Complexity = 4
	assert.Equal(t, types.PathAutoRespond, e.Evaluate(atLimit).Path)

	human := input(0.95, 500)
	human.HumanReview = true
	d = e.Evaluate(human)
	assert.Equal(t, types.PathEscalate, d.Path)
	assert.Equal(t, types.ReasonHumanReview, d.ReasonCode)

	convo := input(0.95, 500)
	convo.ConversationEscalation = true
	d = e.Evaluate(convo)
	assert.Equal(t, types.PathEscalate, d.Path)
	assert.Equal(t, types.ReasonConversation, d.ReasonCode)

	high := input(0.95, 500)
	high.Priority = types.PriorityHigh
	assert.Equal(t, types.PathAutoRespond, e.Evaluate(high).Path)
}

func TestEvaluate_NeverAutoRespondsBelowFloor(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil, nil)

	for n := 0; n <= 100; n += 5 {
		for s := 0.0; s <= 1.0; s += 0.01 {
			d := e.Evaluate(input(s, n))
			require.NotEqual(t, types.PathAutoRespond, d.Path, "s=%.2f n=%d", s, n)
			require.NotEqual(t, types.PathAutoRefine, d.Path, "s=%.2f n=%d", s, n)
		}
	}
}

func TestEvaluate_AutonomyLockedNeverAutoResponds(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil, nil)

	for n := 101; n <= 300; n += 11 {
		for s := 0.86; s <= 1.0; s += 0.01 {
			in := input(s, n)
			in.AutonomyLocked = true
			d := e.Evaluate(in)
			require.NotEqual(t, types.PathAutoRespond, d.Path, "s=%.2f n=%d", s, n)
			require.True(t, d.RequiresHumanReview)
		}
	}

	in := input(0.95, 150)
	in.AutonomyLocked = true
	d := e.Evaluate(in)
	assert.Equal(t, types.PathEscalate, d.Path)
	assert.Equal(t, types.ReasonInsufficientData, d.ReasonCode)

	// Lower bands are unaffected
	in = input(0.80, 150)
	in.AutonomyLocked = true
	assert.Equal(t, types.PathAutoRefine, e.Evaluate(in).Path)
}

func TestEvaluate_ExactlyOnePath(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil, nil)

	for n := 0; n <= 200; n += 7 {
		for s := 0.0; s <= 1.0; s += 0.013 {
			d := e.Evaluate(input(s, n))
			require.True(t, d.Path.Valid())
			require.NotEmpty(t, d.ReasonCode)
			if d.Path == types.PathAutoRespond {
				require.Greater(t, d.FusedSimilarity, 0.85)
				require.Greater(t, d.ExampleCount, 100)
				require.False(t, d.RequiresHumanReview)
			} else {
				require.True(t, d.RequiresHumanReview)
			}
		}
	}
}

func TestEvaluate_ClampsSimilarity(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil, nil)

	d := e.Evaluate(input(1.4, 200))
	assert.Equal(t, 1.0, d.FusedSimilarity)
	assert.Equal(t, types.PathAutoRespond, d.Path)

	d = e.Evaluate(input(-0.2, 200))
	assert.Equal(t, 0.0, d.FusedSimilarity)
	assert.Equal(t, types.PathDeepResearch, d.Path)

	d = e.Evaluate(input(math.NaN(), 200))
	assert.Equal(t, 0.0, d.FusedSimilarity)
}

func TestEvaluate_CustomThresholds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AutoRespondSimilarity = 0.90
	cfg.AutoRespondMinExamples = 10
	e := NewEngine(cfg, nil, nil)

	assert.Equal(t, types.PathAutoRespond, e.Evaluate(input(0.91, 11)).Path)
	assert.Equal(t, types.PathEscalate, e.Evaluate(input(0.88, 11)).Path)
}

func TestEvaluate_CarriesAuditContext(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil, nil)

	in := input(0.9, 200)
	in.Category = "  Parking "
	in.Experimental = true
	in.CategoryFloor = 0.75
	in.CategoryThreshold = 0.80
	d := e.Evaluate(in)

	assert.Equal(t, "parking", d.Category)
	assert.True(t, d.Experimental)
	assert.Equal(t, 0.75, d.CategoryFloor)
	assert.Equal(t, 0.80, d.CategoryThreshold)
	assert.Equal(t, types.PriorityNormal, d.Priority)
	assert.Equal(t, 2, d.Complexity)
	assert.False(t, d.HumanReviewRequested)
	assert.False(t, d.DecidedAt.IsZero())

	in.Priority = types.PriorityUrgent
	in.Complexity = 5
	in.HumanReview = true
	d = e.Evaluate(in)
	assert.Equal(t, types.PriorityUrgent, d.Priority)
	assert.Equal(t, 5, d.Complexity)
	assert.True(t, d.HumanReviewRequested)
}

func TestDecide_AppendsAudit(t *testing.T) {
	audit := &memAudit{}
	e := NewEngine(DefaultConfig(), audit, nil)

	d, err := e.Decide(context.Background(), input(0.6, 40))
	require.NoError(t, err)
	assert.Equal(t, types.PathDraft, d.Path)
	require.Len(t, audit.decisions, 1)
	assert.Equal(t, *d, audit.decisions[0])
}

func TestDecide_AuditFailure(t *testing.T) {
	audit := &memAudit{err: errors.New("disk full")}
	e := NewEngine(DefaultConfig(), audit, nil)

	d, err := e.Decide(context.Background(), input(0.6, 40))
	require.Error(t, err)
	require.NotNil(t, d)
	assert.Equal(t, types.PathDraft, d.Path)
}

func TestDecide_RequiresRequestID(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil, nil)

	in := input(0.6, 40)
	in.RequestID = ""
	_, err := e.Decide(context.Background(), in)
	assert.ErrorIs(t, err, types.ErrEmptyRequestID)
}

func TestOverride(t *testing.T) {
	audit := &memAudit{}
	e := NewEngine(DefaultConfig(), audit, nil)

	d, err := e.Decide(context.Background(), input(0.92, 150))
	require.NoError(t, err)
	require.Equal(t, types.PathAutoRespond, d.Path)

	o, err := e.Override(context.Background(), d, types.ReasonProviderExhausted)
	require.NoError(t, err)
	assert.Equal(t, types.PathEscalate, o.Path)
	assert.Equal(t, types.ReasonProviderExhausted, o.ReasonCode)
	assert.True(t, o.RequiresHumanReview)
	assert.Equal(t, d.FusedSimilarity, o.Confidence)

	require.Len(t, audit.decisions, 2)
	assert.Equal(t, types.PathAutoRespond, audit.decisions[0].Path)
	assert.Equal(t, types.PathEscalate, audit.decisions[1].Path)
}

type countingObserver struct{ n int }

func (c *countingObserver) ObserveDecision(*types.RoutingDecision) { c.n++ }

func TestDecide_Observer(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil, nil)
	obs := &countingObserver{}
	e.SetObserver(obs)

	_, err := e.Decide(context.Background(), input(0.3, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, obs.n)
}

func TestRules_FallbackLast(t *testing.T) {
	rules := DefaultConfig().Rules()
	last := rules[len(rules)-1]
	assert.Equal(t, "fallback", last.Name)
	assert.Equal(t, types.PathEscalate, last.Path)
	assert.True(t, last.Match(Input{}))
}
