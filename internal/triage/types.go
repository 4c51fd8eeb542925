package triage

import (
	"strings"

	"github.com/dshills/triage-mcp/internal/learning"
	"github.com/dshills/triage-mcp/pkg/types"
)

// Config controls pipeline behavior beyond routing policy
type Config struct {
	MaxReferenceAnswers      int     `koanf:"max_reference_answers" validate:"min=1,max=10"`
	MaxFewShotExamples       int     `koanf:"max_few_shot_examples" validate:"min=0,max=20"`
	ResponseMaxTokens        int     `koanf:"response_max_tokens" validate:"min=0"`
	AutoGenerateSatisfaction float64 `koanf:"auto_generate_satisfaction" validate:"gte=0,lte=5"`
}

// DefaultConfig returns the pipeline defaults
func DefaultConfig() Config {
	return Config{
		MaxReferenceAnswers:      3,
		MaxFewShotExamples:       3,
		ResponseMaxTokens:        800,
		AutoGenerateSatisfaction: 4.5,
	}
}

// Request is one inbound support request after categorization
type Request struct {
	ID          string            `json:"request_id"`
	Text        string            `json:"text"`
	Priority    types.Priority    `json:"priority"`
	Category    string            `json:"category"`
	Complexity  int               `json:"complexity"`
	HumanReview bool              `json:"human_review"`
	Metadata    map[string]string `json:"metadata,omitempty"`

	conversationEscalation bool
}

// Validate normalizes and checks the request
func (r *Request) Validate() error {
	r.Text = strings.TrimSpace(r.Text)
	r.Category = strings.ToLower(strings.TrimSpace(r.Category))
	if r.ID == "" {
		return types.ErrEmptyRequestID
	}
	if r.Text == "" {
		return types.ErrEmptyRequestText
	}
	if r.Complexity < 0 || r.Complexity > 5 {
		return types.ErrInvalidComplexity
	}
	p, err := types.ParsePriority(string(r.Priority))
	if err != nil {
		return err
	}
	r.Priority = p
	return nil
}

// restore carries the original request's routing attributes onto a
// reply. The most severe value recorded for the request wins, so a reply
// never routes with less oversight than the request it answers.
func (r *Request) restore(decisions []*types.RoutingDecision) {
	for _, d := range decisions {
		if r.Category == "" {
			r.Category = d.Category
		}
		if d.Priority.Escalating() || r.Priority == "" {
			r.Priority = d.Priority
		}
		r.Complexity = max(r.Complexity, d.Complexity)
		r.HumanReview = r.HumanReview || d.HumanReviewRequested
	}
}

// MatchSummary is a retrieval hit as reported to callers
type MatchSummary struct {
	ItemID     int64   `json:"item_id"`
	Title      string  `json:"title"`
	Category   string  `json:"category"`
	FusedScore float64 `json:"fused_score"`
	Similarity float64 `json:"similarity"`
}

// LearningSummary is the gate snapshot a decision was made under
type LearningSummary struct {
	Phase            learning.Phase `json:"phase"`
	Examples         int            `json:"examples"`
	CategoryExamples int            `json:"category_examples"`
	Experimental     bool           `json:"experimental"`
}

// Outcome is the pipeline's answer for one request
type Outcome struct {
	RequestID           string          `json:"request_id"`
	Path                types.Path      `json:"path"`
	Confidence          float64         `json:"confidence"`
	RequiresHumanReview bool            `json:"requires_human_review"`
	ReasonCode          string          `json:"reason_code"`
	Response            string          `json:"response,omitempty"`
	Draft               bool            `json:"draft"`
	Provider            string          `json:"provider,omitempty"`
	Queued              bool            `json:"queued"`
	OperationID         string          `json:"operation_id,omitempty"`
	Degraded            bool            `json:"degraded"`
	Matches             []MatchSummary  `json:"matches"`
	Learning            LearningSummary `json:"learning"`

	Decision *types.RoutingDecision `json:"-"`
}

// Feedback reports how a response landed
type Feedback struct {
	RequestID    string  `json:"request_id"`
	RequestText  string  `json:"request_text"`
	ResponseText string  `json:"response_text"`
	Category     string  `json:"category"`
	Satisfaction float64 `json:"satisfaction"`
	Success      bool    `json:"success"`
	ItemID       int64   `json:"item_id,omitempty"` // Knowledge item the response came from
}

// FeedbackResult describes what feedback changed
type FeedbackResult struct {
	ExampleID       int64          `json:"example_id,omitempty"`
	Counted         bool           `json:"counted"`
	Weight          float64        `json:"weight,omitempty"`
	KnowledgeItemID int64          `json:"knowledge_item_id,omitempty"`
	Phase           learning.Phase `json:"phase"`
	Examples        int            `json:"examples"`
}

// ReplyOutcome is a conversation update with the re-evaluated route
type ReplyOutcome struct {
	Conversation *types.ConversationState `json:"conversation"`
	Outcome      *Outcome                 `json:"outcome"`
}

// StatusReport summarizes system health for operators
type StatusReport struct {
	Learning  learning.Status         `json:"learning"`
	Circuits  []types.CircuitSnapshot `json:"circuits"`
	Providers []string                `json:"providers"`
	Queued    int                     `json:"queued_operations"`
	Abandoned int                     `json:"abandoned_operations"`
	Knowledge int                     `json:"knowledge_items"`
	Decisions int                     `json:"decisions"`
	Backend   string                  `json:"backend"`
	Healthy   bool                    `json:"healthy"`
}
