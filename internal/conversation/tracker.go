package conversation

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/dshills/triage-mcp/internal/logger"
	"github.com/dshills/triage-mcp/pkg/types"
)

// Config controls trend detection and escalation readiness
type Config struct {
	MaxTurns          int           `koanf:"max_turns" validate:"min=1"`
	DecliningMinTurns int           `koanf:"declining_min_turns" validate:"min=2"`
	TrendMargin       float64       `koanf:"trend_margin" validate:"gte=0,lte=2"`
	TTL               time.Duration `koanf:"ttl" validate:"gte=0"`
	EscalationPhrases []string      `koanf:"escalation_phrases"`
}

// DefaultConfig returns the tracker defaults
func DefaultConfig() Config {
	return Config{
		MaxTurns:          4,
		DecliningMinTurns: 3,
		TrendMargin:       0.2,
		TTL:               72 * time.Hour,
		EscalationPhrases: DefaultEscalationPhrases,
	}
}

const lockStripes = 64

// Tracker updates conversation state one customer turn at a time
type Tracker struct {
	cfg   Config
	store Store
	log   *logger.Logger
	now   func() time.Time
	locks [lockStripes]sync.Mutex
}

// NewTracker creates a tracker over store
func NewTracker(cfg Config, store Store, log *logger.Logger) *Tracker {
	def := DefaultConfig()
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = def.MaxTurns
	}
	if cfg.DecliningMinTurns <= 0 {
		cfg.DecliningMinTurns = def.DecliningMinTurns
	}
	if cfg.EscalationPhrases == nil {
		cfg.EscalationPhrases = def.EscalationPhrases
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Tracker{cfg: cfg, store: store, log: log.Named("conversation"), now: time.Now}
}

func (t *Tracker) lock(requestID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(requestID))
	return &t.locks[h.Sum32()%lockStripes]
}

// Track appends a customer turn and returns the recomputed state. The
// first call for a request creates its state.
func (t *Tracker) Track(ctx context.Context, requestID, text string) (*types.ConversationState, error) {
	if requestID == "" {
		return nil, types.ErrEmptyRequestID
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, types.ErrEmptyRequestText
	}

	mu := t.lock(requestID)
	mu.Lock()
	defer mu.Unlock()

	state, err := t.store.Get(ctx, requestID)
	if errors.Is(err, ErrNotFound) {
		state = &types.ConversationState{RequestID: requestID, SentimentTrend: types.SentimentNeutral}
	} else if err != nil {
		return nil, err
	}

	now := t.now().UTC()
	state.AppendTurn(types.Turn{Text: text, Score: Score(text), CreatedAt: now})
	t.evaluate(state, text)
	state.UpdatedAt = now

	if err := t.store.Put(ctx, state, t.cfg.TTL); err != nil {
		return nil, err
	}

	if state.EscalationReady {
		t.log.Info("conversation ready for escalation",
			"request_id", requestID,
			"turns", state.TurnCount,
			"trend", string(state.SentimentTrend))
	}
	return state, nil
}

// evaluate recomputes trend, confidence and escalation readiness
func (t *Tracker) evaluate(state *types.ConversationState, latest string) {
	state.SentimentTrend = t.trend(state.Turns)

	var sum float64
	for _, turn := range state.Turns {
		sum += turn.Score
	}
	mean := 0.0
	if len(state.Turns) > 0 {
		mean = sum / float64(len(state.Turns))
	}
	// Mean sentiment mapped to [0, 1], discounted for each turn past the first
	confidence := (mean + 1) / 2
	confidence *= 1 - float64(state.TurnCount-1)/float64(t.cfg.MaxTurns+1)
	state.ConfidenceLevel = clamp01(confidence)

	switch {
	case containsPhrase(latest, t.cfg.EscalationPhrases):
		state.EscalationReady = true
	case state.TurnCount >= t.cfg.MaxTurns:
		state.EscalationReady = true
	case state.SentimentTrend == types.SentimentDeclining && len(state.Turns) >= t.cfg.DecliningMinTurns:
		state.EscalationReady = true
	}
}

func (t *Tracker) trend(turns []types.Turn) types.Sentiment {
	if len(turns) < 2 {
		return types.SentimentNeutral
	}
	delta := turns[len(turns)-1].Score - turns[0].Score
	switch {
	case delta > t.cfg.TrendMargin:
		return types.SentimentImproving
	case delta < -t.cfg.TrendMargin:
		return types.SentimentDeclining
	default:
		return types.SentimentNeutral
	}
}

// Get returns the current state for requestID
func (t *Tracker) Get(ctx context.Context, requestID string) (*types.ConversationState, error) {
	return t.store.Get(ctx, requestID)
}

// Close retires the conversation when its request closes
func (t *Tracker) Close(ctx context.Context, requestID string) error {
	mu := t.lock(requestID)
	mu.Lock()
	defer mu.Unlock()

	if err := t.store.Delete(ctx, requestID); err != nil {
		return fmt.Errorf("failed to close conversation %s: %w", requestID, err)
	}
	return nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
