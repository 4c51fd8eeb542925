package routing

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dshills/triage-mcp/internal/logger"
	"github.com/dshills/triage-mcp/pkg/types"
)

// AuditSink receives every decision, append-only
type AuditSink interface {
	AppendDecision(ctx context.Context, decision *types.RoutingDecision) error
}

// Observer receives each decision for telemetry
type Observer interface {
	ObserveDecision(decision *types.RoutingDecision)
}

// Engine evaluates the rule list and records decisions
type Engine struct {
	cfg      Config
	rules    []Rule
	audit    AuditSink
	observer Observer
	now      func() time.Time
	log      *logger.Logger
}

// NewEngine creates an engine. audit may be nil for dry runs.
func NewEngine(cfg Config, audit AuditSink, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.NewNop()
	}
	return &Engine{
		cfg:   cfg,
		rules: cfg.Rules(),
		audit: audit,
		now:   time.Now,
		log:   log.Named("routing"),
	}
}

// SetObserver registers o for decision telemetry
func (e *Engine) SetObserver(o Observer) { e.observer = o }

// Config returns the routing policy
func (e *Engine) Config() Config { return e.cfg }

// Evaluate returns the decision for in without side effects
func (e *Engine) Evaluate(in Input) types.RoutingDecision {
	in.Similarity = clampSimilarity(in.Similarity)

	rule := e.rules[len(e.rules)-1]
	for _, r := range e.rules {
		if r.Match(in) {
			rule = r
			break
		}
	}

	return types.RoutingDecision{
		RequestID:           in.RequestID,
		FusedSimilarity:     in.Similarity,
		ExampleCount:        in.ExampleCount,
		Category:            strings.ToLower(strings.TrimSpace(in.Category)),
		Path:                rule.Path,
		Confidence:          in.Similarity,
		RequiresHumanReview: rule.Review,
		ReasonCode:          rule.Reason,
		Experimental:        in.Experimental,
		CategoryFloor:       in.CategoryFloor,
		CategoryThreshold:   in.CategoryThreshold,

		Priority:             in.Priority,
		Complexity:           in.Complexity,
		HumanReviewRequested: in.HumanReview,

		DecidedAt: e.now().UTC(),
	}
}

// Decide evaluates in and appends the decision to the audit sink. The
// decision is returned even when the audit append fails.
func (e *Engine) Decide(ctx context.Context, in Input) (*types.RoutingDecision, error) {
	d := e.Evaluate(in)
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("invalid routing input: %w", err)
	}

	e.log.Debug("routing decision",
		"request_id", d.RequestID,
		"path", string(d.Path),
		"similarity", d.FusedSimilarity,
		"example_count", d.ExampleCount,
		"reason", d.ReasonCode)

	if e.observer != nil {
		e.observer.ObserveDecision(&d)
	}
	if e.audit != nil {
		if err := e.audit.AppendDecision(ctx, &d); err != nil {
			return &d, fmt.Errorf("failed to append audit record: %w", err)
		}
	}
	return &d, nil
}

// Override records an escalation decided outside the rule list, such as
// provider exhaustion or a conversation turning sour
func (e *Engine) Override(ctx context.Context, prior *types.RoutingDecision, reason string) (*types.RoutingDecision, error) {
	d := *prior
	d.Path = types.PathEscalate
	d.RequiresHumanReview = true
	d.ReasonCode = reason
	d.DecidedAt = e.now().UTC()

	if e.observer != nil {
		e.observer.ObserveDecision(&d)
	}
	if e.audit != nil {
		if err := e.audit.AppendDecision(ctx, &d); err != nil {
			return &d, fmt.Errorf("failed to append audit record: %w", err)
		}
	}
	return &d, nil
}

func clampSimilarity(s float64) float64 {
	switch {
	case math.IsNaN(s), s < 0:
		return 0
	case s > 1:
		return 1
	default:
		return s
	}
}
