package routing

import (
	"github.com/dshills/triage-mcp/pkg/types"
)

// Config holds the routing policy
type Config struct {
	AutoRespondSimilarity  float64 `koanf:"auto_respond_similarity" validate:"gt=0,lte=1,gtfield=RefineSimilarity"`
	RefineSimilarity       float64 `koanf:"refine_similarity" validate:"gt=0,lte=1,gtfield=DraftSimilarity"`
	DraftSimilarity        float64 `koanf:"draft_similarity" validate:"gt=0,lte=1"`
	AutoRespondMinExamples int     `koanf:"auto_respond_min_examples" validate:"min=0"`
	RefineMinExamples      int     `koanf:"refine_min_examples" validate:"min=0"`
	DraftMinExamples       int     `koanf:"draft_min_examples" validate:"min=0"`
	MaxComplexity          int     `koanf:"max_complexity" validate:"min=1"`
}

// DefaultConfig returns the production routing policy
func DefaultConfig() Config {
	return Config{
		AutoRespondSimilarity:  0.85,
		RefineSimilarity:       0.75,
		DraftSimilarity:        0.50,
		AutoRespondMinExamples: 100,
		RefineMinExamples:      100,
		DraftMinExamples:       30,
		MaxComplexity:          4,
	}
}

// Input is everything a routing decision depends on
type Input struct {
	RequestID    string
	Similarity   float64
	ExampleCount int
	Category     string
	Priority     types.Priority
	Complexity   int // 1-5, 0 when unknown
	HumanReview  bool

	// Set when a tracked conversation has become escalation-ready
	ConversationEscalation bool

	// Set when the learning gate has not unlocked autonomous responses.
	// AUTO_RESPOND is never chosen while it is set, whatever the count.
	AutonomyLocked bool

	// Audit-only context from the learning gate
	Experimental      bool
	CategoryFloor     float64
	CategoryThreshold float64
}

// Rule is one guarded arm of the decision list
type Rule struct {
	Name   string
	Path   types.Path
	Reason string
	Review bool
	Match  func(in Input) bool
}

// Rules returns the ordered decision list for cfg, fallback last
func (c Config) Rules() []Rule {
	return []Rule{
		{
			Name: "priority", Path: types.PathEscalate, Reason: types.ReasonPriority, Review: true,
			Match: func(in Input) bool { return in.Priority.Escalating() },
		},
		{
			Name: "complexity", Path: types.PathEscalate, Reason: types.ReasonComplexity, Review: true,
			Match: func(in Input) bool { return in.Complexity > c.MaxComplexity },
		},
		{
			Name: "human_review", Path: types.PathEscalate, Reason: types.ReasonHumanReview, Review: true,
			Match: func(in Input) bool { return in.HumanReview },
		},
		{
			Name: "conversation", Path: types.PathEscalate, Reason: types.ReasonConversation, Review: true,
			Match: func(in Input) bool { return in.ConversationEscalation },
		},
		{
			Name: "auto_respond", Path: types.PathAutoRespond, Reason: types.ReasonHighSimilarity, Review: false,
			Match: func(in Input) bool {
				return !in.AutonomyLocked &&
					in.Similarity > c.AutoRespondSimilarity && in.ExampleCount > c.AutoRespondMinExamples
			},
		},
		{
			Name: "auto_refine", Path: types.PathAutoRefine, Reason: types.ReasonRefineBand, Review: true,
			Match: func(in Input) bool {
				return in.Similarity >= c.RefineSimilarity && in.Similarity <= c.AutoRespondSimilarity &&
					in.ExampleCount > c.RefineMinExamples
			},
		},
		{
			Name: "draft", Path: types.PathDraft, Reason: types.ReasonDraftBand, Review: true,
			Match: func(in Input) bool {
				return in.Similarity >= c.DraftSimilarity && in.Similarity < c.RefineSimilarity &&
					in.ExampleCount > c.DraftMinExamples
			},
		},
		{
			Name: "deep_research", Path: types.PathDeepResearch, Reason: types.ReasonLowSimilarity, Review: true,
			Match: func(in Input) bool { return in.Similarity < c.DraftSimilarity },
		},
		{
			Name: "fallback", Path: types.PathEscalate, Reason: types.ReasonInsufficientData, Review: true,
			Match: func(Input) bool { return true },
		},
	}
}
