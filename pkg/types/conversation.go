package types

import "time"

// MaxConversationTurns bounds the retained turn history
const MaxConversationTurns = 5

// Sentiment is the direction of a conversation's mood over recent turns
type Sentiment string

const (
	SentimentImproving Sentiment = "improving"
	SentimentDeclining Sentiment = "declining"
	SentimentNeutral   Sentiment = "neutral"
)

// Turn is a single customer message in a conversation
type Turn struct {
	Text      string    `json:"text"`
	Score     float64   `json:"score"` // Lexicon sentiment, -1 to 1
	CreatedAt time.Time `json:"created_at"`
}

// ConversationState tracks a multi-turn exchange for one request
type ConversationState struct {
	RequestID       string    `json:"request_id"`
	Turns           []Turn    `json:"turns"`
	SentimentTrend  Sentiment `json:"sentiment_trend"`
	TurnCount       int       `json:"turn_count"`
	ConfidenceLevel float64   `json:"confidence_level"`
	EscalationReady bool      `json:"escalation_ready"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// AppendTurn adds a turn and drops the oldest beyond MaxConversationTurns
func (c *ConversationState) AppendTurn(t Turn) {
	c.Turns = append(c.Turns, t)
	if len(c.Turns) > MaxConversationTurns {
		c.Turns = c.Turns[len(c.Turns)-MaxConversationTurns:]
	}
	c.TurnCount++
}
