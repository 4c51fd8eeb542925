package types

import (
	"strings"
	"time"
)

// Path is the action selected for a request
type Path string

const (
	PathAutoRespond  Path = "AUTO_RESPOND"
	PathAutoRefine   Path = "AUTO_REFINE"
	PathDraft        Path = "DRAFT"
	PathDeepResearch Path = "DEEP_RESEARCH"
	PathEscalate     Path = "ESCALATE"
)

// Valid reports whether p is one of the five routing paths
func (p Path) Valid() bool {
	switch p {
	case PathAutoRespond, PathAutoRefine, PathDraft, PathDeepResearch, PathEscalate:
		return true
	}
	return false
}

// Priority is the ticket priority supplied by intake
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityUrgent   Priority = "urgent"
	PriorityCritical Priority = "critical"
)

// ParsePriority normalizes a priority label. Empty input maps to normal.
func ParsePriority(s string) (Priority, error) {
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case "":
		return PriorityNormal, nil
	case PriorityLow, PriorityNormal, PriorityMedium, PriorityHigh, PriorityUrgent, PriorityCritical:
		return p, nil
	}
	return "", ErrInvalidPriority
}

// Escalating reports whether the priority forces human handling
func (p Priority) Escalating() bool {
	return p == PriorityUrgent || p == PriorityCritical
}

// Reason codes attached to routing decisions
const (
	ReasonPriority          = "priority_escalation"
	ReasonComplexity        = "complexity_escalation"
	ReasonHumanReview       = "human_review_requested"
	ReasonHighSimilarity    = "high_similarity_mature"
	ReasonRefineBand        = "refine_band_mature"
	ReasonDraftBand         = "draft_band"
	ReasonLowSimilarity     = "low_similarity_research"
	ReasonInsufficientData  = "insufficient_examples"
	ReasonProviderExhausted = "provider_exhausted"
	ReasonProviderError     = "provider_error"
	ReasonConversation      = "conversation_escalation"
)

// RoutingDecision is the immutable record of one routing outcome
type RoutingDecision struct {
	RequestID           string
	FusedSimilarity     float64
	ExampleCount        int
	Category            string
	Path                Path
	Confidence          float64 // Always equal to FusedSimilarity
	RequiresHumanReview bool
	ReasonCode          string
	Experimental        bool    // A/B bucket of the request
	CategoryFloor       float64 // Dynamic confidence floor, 0 when disabled
	CategoryThreshold   float64 // Per-category confidence threshold

	// Request attributes the decision was made under
	Priority             Priority
	Complexity           int
	HumanReviewRequested bool

	DecidedAt time.Time
}

// Validate performs validation of the decision
func (d *RoutingDecision) Validate() error {
	if d.RequestID == "" {
		return ErrEmptyRequestID
	}
	if d.FusedSimilarity < 0 || d.FusedSimilarity > 1 {
		return ErrInvalidSimilarity
	}
	if !d.Path.Valid() {
		return ErrInvalidPath
	}
	return nil
}
