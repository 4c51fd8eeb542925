package triage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dshills/triage-mcp/internal/conversation"
	"github.com/dshills/triage-mcp/internal/embedder"
	"github.com/dshills/triage-mcp/internal/learning"
	"github.com/dshills/triage-mcp/internal/logger"
	"github.com/dshills/triage-mcp/internal/notify"
	"github.com/dshills/triage-mcp/internal/resilience"
	"github.com/dshills/triage-mcp/internal/retriever"
	"github.com/dshills/triage-mcp/internal/routing"
	"github.com/dshills/triage-mcp/internal/storage"
	"github.com/dshills/triage-mcp/internal/textprep"
	"github.com/dshills/triage-mcp/pkg/types"
)

var (
	// ErrNoConversations is returned by Reply when no tracker is configured
	ErrNoConversations = errors.New("conversation tracking is not configured")
	// ErrInvalidSatisfaction rejects survey scores outside 0-5
	ErrInvalidSatisfaction = errors.New("satisfaction must be between 0 and 5")
)

// Retriever finds knowledge relevant to a request
type Retriever interface {
	Retrieve(ctx context.Context, q retriever.Query) (*retriever.Response, error)
}

// Generator runs payloads through the provider chain
type Generator interface {
	Execute(ctx context.Context, payload resilience.Payload) (*resilience.Result, error)
	Providers() []string
	Registry() *resilience.Registry
}

// Store is the persistence the pipeline uses directly
type Store interface {
	SaveExample(ctx context.Context, example *types.ValidatedExample) error
	GetExampleByRequestID(ctx context.Context, requestID string) (*types.ValidatedExample, error)
	ListExamples(ctx context.Context, category string, limit int) ([]*types.ValidatedExample, error)
	RecordItemOutcome(ctx context.Context, id int64, success bool, at time.Time) error
	ListDecisions(ctx context.Context, requestID string) ([]*types.RoutingDecision, error)
	GetStatus(ctx context.Context) (*storage.Status, error)
}

// ItemIndexer stores new knowledge items
type ItemIndexer interface {
	IndexItem(ctx context.Context, item *types.KnowledgeItem) error
}

// Observer receives pipeline telemetry
type Observer interface {
	ObserveRetrieval(mode string, degraded bool)
	ObserveFeedback(category string, satisfaction float64)
}

// Deps are the collaborators a Pipeline needs. Embedder, Indexer,
// Tracker, Notifier, Observer and Logger are optional.
type Deps struct {
	Retriever Retriever
	Gate      *learning.Gate
	Engine    *routing.Engine
	Generator Generator
	Store     Store
	Tracker   *conversation.Tracker
	Embedder  embedder.Embedder
	Indexer   ItemIndexer
	Notifier  notify.Notifier
	Observer  Observer
	Logger    *logger.Logger
}

// Pipeline triages requests end to end
type Pipeline struct {
	cfg       Config
	retriever Retriever
	gate      *learning.Gate
	engine    *routing.Engine
	generator Generator
	store     Store
	tracker   *conversation.Tracker
	embedder  embedder.Embedder
	indexer   ItemIndexer
	notifier  notify.Notifier
	observer  Observer
	log       *logger.Logger
	now       func() time.Time
}

// New creates a pipeline from cfg and deps
func New(cfg Config, deps Deps) (*Pipeline, error) {
	switch {
	case deps.Retriever == nil:
		return nil, errors.New("triage: retriever is required")
	case deps.Gate == nil:
		return nil, errors.New("triage: learning gate is required")
	case deps.Engine == nil:
		return nil, errors.New("triage: routing engine is required")
	case deps.Generator == nil:
		return nil, errors.New("triage: generator is required")
	case deps.Store == nil:
		return nil, errors.New("triage: store is required")
	}

	def := DefaultConfig()
	if cfg.MaxReferenceAnswers <= 0 {
		cfg.MaxReferenceAnswers = def.MaxReferenceAnswers
	}
	if cfg.AutoGenerateSatisfaction <= 0 {
		cfg.AutoGenerateSatisfaction = def.AutoGenerateSatisfaction
	}

	log := deps.Logger
	if log == nil {
		log = logger.NewNop()
	}
	n := deps.Notifier
	if n == nil {
		n = notify.Nop{}
	}

	return &Pipeline{
		cfg:       cfg,
		retriever: deps.Retriever,
		gate:      deps.Gate,
		engine:    deps.Engine,
		generator: deps.Generator,
		store:     deps.Store,
		tracker:   deps.Tracker,
		embedder:  deps.Embedder,
		indexer:   deps.Indexer,
		notifier:  n,
		observer:  deps.Observer,
		log:       log.Named("triage"),
		now:       time.Now,
	}, nil
}

// Triage routes req and, when the path calls for it, generates a response
func (p *Pipeline) Triage(ctx context.Context, req Request) (*Outcome, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	log := p.log.With("request_id", req.ID)

	resp, err := p.retriever.Retrieve(ctx, retriever.Query{
		Text:     req.Text,
		Category: req.Category,
		K:        retriever.DefaultK,
		UseCache: true,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// both searches failed; route on zero similarity
		log.Warn("retrieval failed", "error", err)
		resp = &retriever.Response{Mode: retriever.ModeHybrid, Degraded: true, DegradedReason: err.Error()}
	}
	if p.observer != nil {
		p.observer.ObserveRetrieval(string(resp.Mode), resp.Degraded)
	}

	view := p.gate.View(req.Category, req.ID)
	decision, err := p.engine.Decide(ctx, routing.Input{
		RequestID:              req.ID,
		Similarity:             resp.FusedSimilarity(),
		ExampleCount:           view.Total,
		Category:               req.Category,
		Priority:               req.Priority,
		Complexity:             req.Complexity,
		HumanReview:            req.HumanReview,
		ConversationEscalation: req.conversationEscalation,
		AutonomyLocked:         !view.Autonomous,
		Experimental:           view.Experimental,
		CategoryFloor:          view.CategoryFloor,
		CategoryThreshold:      view.CategoryThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", resilience.ErrDatastore, err)
	}

	out := &Outcome{
		RequestID: req.ID,
		Degraded:  resp.Degraded,
		Matches:   summarize(resp.Matches),
		Learning: LearningSummary{
			Phase:            view.Phase,
			Examples:         view.Total,
			CategoryExamples: view.CategoryCount,
			Experimental:     view.Experimental,
		},
	}
	out.apply(decision)

	if err := p.act(ctx, req, resp, view, out); err != nil {
		return nil, err
	}

	log.Info("request triaged",
		"path", string(out.Path),
		"confidence", out.Confidence,
		"reason", out.ReasonCode,
		"provider", out.Provider,
		"degraded", out.Degraded)
	return out, nil
}

// act fills in the response for the decided path
func (p *Pipeline) act(ctx context.Context, req Request, resp *retriever.Response, view learning.View, out *Outcome) error {
	switch out.Path {
	case types.PathAutoRespond:
		out.Response = resp.Matches[0].Item.Body
		out.Provider = "knowledge"
		return nil

	case types.PathAutoRefine:
		return p.generate(ctx, req, resp, view, resilience.KindGenerate, out)

	case types.PathDraft:
		out.Draft = true
		if view.DraftGeneration {
			return p.generate(ctx, req, resp, view, resilience.KindGenerate, out)
		}
		out.Response = retrievalDraft(resp.Matches, p.cfg.MaxReferenceAnswers)
		out.Provider = "knowledge"
		return nil

	case types.PathDeepResearch:
		out.Draft = true
		return p.generate(ctx, req, resp, view, resilience.KindResearch, out)

	default:
		return nil
	}
}

func (p *Pipeline) generate(ctx context.Context, req Request, resp *retriever.Response, view learning.View, kind string, out *Outcome) error {
	payload := resilience.Payload{
		Kind:      kind,
		RequestID: req.ID,
		Prompt:    req.Text,
		Examples:  p.references(ctx, req.Category, resp.Matches, view),
		MaxTokens: p.cfg.ResponseMaxTokens,
		Metadata:  map[string]string{"category": req.Category, "path": string(out.Path)},
	}

	res, err := p.generator.Execute(ctx, payload)
	if err == nil {
		out.Response = res.Text
		out.Provider = res.Provider
		return nil
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return ctx.Err()
	}

	reason := types.ReasonProviderError
	var qe *resilience.QueuedError
	if errors.As(err, &qe) {
		reason = types.ReasonProviderExhausted
		out.Queued = true
		out.OperationID = qe.OperationID
	}
	p.log.Warn("generation failed, escalating",
		"request_id", req.ID,
		"reason", reason,
		"error", err)

	override, oerr := p.engine.Override(context.WithoutCancel(ctx), out.Decision, reason)
	if oerr != nil {
		return fmt.Errorf("%w: %w", resilience.ErrDatastore, oerr)
	}
	out.apply(override)
	out.Response = ""
	out.Provider = ""
	out.Draft = false
	return nil
}

// references gathers reference answers and, once unlocked, few-shot
// examples for the payload
func (p *Pipeline) references(ctx context.Context, category string, matches []types.KnowledgeMatch, view learning.View) []string {
	var refs []string
	for i := 0; i < len(matches) && i < p.cfg.MaxReferenceAnswers; i++ {
		if item := matches[i].Item; item != nil {
			refs = append(refs, item.Title+"\n"+item.Body)
		}
	}

	if view.FewShot && p.cfg.MaxFewShotExamples > 0 {
		examples, err := p.store.ListExamples(ctx, category, p.cfg.MaxFewShotExamples)
		if err != nil {
			p.log.Warn("failed to load few-shot examples", "category", category, "error", err)
			return refs
		}
		for _, ex := range examples {
			refs = append(refs, "Q: "+ex.RequestText+"\nA: "+ex.ResponseText)
		}
	}
	return refs
}

func (o *Outcome) apply(d *types.RoutingDecision) {
	o.Decision = d
	o.Path = d.Path
	o.Confidence = d.Confidence
	o.RequiresHumanReview = d.RequiresHumanReview
	o.ReasonCode = d.ReasonCode
}

func summarize(matches []types.KnowledgeMatch) []MatchSummary {
	out := make([]MatchSummary, 0, len(matches))
	for i := range matches {
		m := &matches[i]
		s := MatchSummary{ItemID: m.ItemID, FusedScore: m.FusedScore, Similarity: m.Similarity()}
		if m.Item != nil {
			s.Title = m.Item.Title
			s.Category = m.Item.Category
		}
		out = append(out, s)
	}
	return out
}

// retrievalDraft stitches the top answers together for a reviewer
func retrievalDraft(matches []types.KnowledgeMatch, limit int) string {
	var parts []string
	for i := 0; i < len(matches) && i < limit; i++ {
		if item := matches[i].Item; item != nil {
			parts = append(parts, item.Body)
		}
	}
	return strings.Join(parts, "\n\n---\n\n")
}

// Search exposes the retriever for operator lookups
func (p *Pipeline) Search(ctx context.Context, q retriever.Query) (*retriever.Response, error) {
	resp, err := p.retriever.Retrieve(ctx, q)
	if err != nil {
		return nil, err
	}
	if p.observer != nil {
		p.observer.ObserveRetrieval(string(resp.Mode), resp.Degraded)
	}
	return resp, nil
}

// Reply tracks a customer reply and re-evaluates the route for it
func (p *Pipeline) Reply(ctx context.Context, requestID, text string) (*ReplyOutcome, error) {
	if p.tracker == nil {
		return nil, ErrNoConversations
	}
	state, err := p.tracker.Track(ctx, requestID, text)
	if err != nil {
		return nil, err
	}

	decisions, err := p.store.ListDecisions(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", resilience.ErrDatastore, err)
	}
	req := Request{
		ID:                     requestID,
		Text:                   text,
		conversationEscalation: state.EscalationReady,
	}
	req.restore(decisions)

	out, err := p.Triage(ctx, req)
	if err != nil {
		return nil, err
	}
	return &ReplyOutcome{Conversation: state, Outcome: out}, nil
}

// Feedback records how a response landed. Success on a new request
// creates a validated example and counts it; repeat feedback adjusts the
// existing example's weight.
func (p *Pipeline) Feedback(ctx context.Context, fb Feedback) (*FeedbackResult, error) {
	fb.Category = strings.ToLower(strings.TrimSpace(fb.Category))
	if fb.RequestID == "" {
		return nil, types.ErrEmptyRequestID
	}
	if fb.Satisfaction < 0 || fb.Satisfaction > 5 {
		return nil, ErrInvalidSatisfaction
	}

	result := &FeedbackResult{}
	if fb.ItemID > 0 {
		if err := p.store.RecordItemOutcome(ctx, fb.ItemID, fb.Success, p.now().UTC()); err != nil {
			return nil, fmt.Errorf("failed to record item outcome: %w", err)
		}
	}
	if p.observer != nil {
		p.observer.ObserveFeedback(fb.Category, fb.Satisfaction)
	}

	existing, err := p.store.GetExampleByRequestID(ctx, fb.RequestID)
	switch {
	case err == nil:
		weight, err := p.gate.AdjustExampleWeight(ctx, existing.ID, fb.Success)
		if err != nil {
			return nil, err
		}
		result.ExampleID = existing.ID
		result.Weight = weight

	case errors.Is(err, storage.ErrNotFound):
		if fb.Success && fb.complete() {
			if err := p.validateExample(ctx, fb, result); err != nil {
				return nil, err
			}
		}

	default:
		return nil, fmt.Errorf("failed to look up example: %w", err)
	}

	if fb.Success && fb.Satisfaction >= p.cfg.AutoGenerateSatisfaction && p.indexer != nil {
		item := &types.KnowledgeItem{
			Title:    textprep.DeriveTitle(fb.RequestText),
			Body:     fb.ResponseText,
			Category: fb.Category,
			Status:   types.ItemActive,
		}
		if err := p.indexer.IndexItem(ctx, item); err != nil {
			p.log.Warn("failed to index knowledge from feedback", "request_id", fb.RequestID, "error", err)
		} else {
			result.KnowledgeItemID = item.ID
		}
	}

	if p.tracker != nil {
		if err := p.tracker.Close(ctx, fb.RequestID); err != nil {
			p.log.Warn("failed to close conversation", "request_id", fb.RequestID, "error", err)
		}
	}

	result.Examples = p.gate.Total()
	result.Phase = p.gate.Phase()
	return result, nil
}

// complete reports whether fb carries enough to become an example
func (fb Feedback) complete() bool {
	return strings.TrimSpace(fb.RequestText) != "" && strings.TrimSpace(fb.ResponseText) != "" && fb.Category != ""
}

func (p *Pipeline) validateExample(ctx context.Context, fb Feedback, result *FeedbackResult) error {
	ex := &types.ValidatedExample{
		RequestID:    fb.RequestID,
		RequestText:  strings.TrimSpace(fb.RequestText),
		ResponseText: strings.TrimSpace(fb.ResponseText),
		Category:     fb.Category,
		Satisfaction: fb.Satisfaction,
		Status:       types.ExampleValidated,
		Weight:       types.DefaultExampleWeight,
	}
	if p.embedder != nil && ex.RequestText != "" {
		if vec, err := p.embedder.Embed(ctx, ex.RequestText); err == nil {
			ex.Embedding = vec
		} else {
			p.log.Debug("example saved without embedding", "request_id", fb.RequestID, "error", err)
		}
	}
	if err := p.store.SaveExample(ctx, ex); err != nil {
		return fmt.Errorf("failed to save example: %w", err)
	}

	counted, err := p.gate.Record(ctx, ex)
	if err != nil {
		return err
	}
	result.ExampleID = ex.ID
	result.Weight = ex.Weight
	result.Counted = counted
	return nil
}

// CloseConversation retires conversation state for a closed request
func (p *Pipeline) CloseConversation(ctx context.Context, requestID string) error {
	if p.tracker == nil {
		return nil
	}
	return p.tracker.Close(ctx, requestID)
}

// OnReplay is the sweeper's success hook: a parked generation finally
// produced text, so the reviewer who owns the escalation is told
func (p *Pipeline) OnReplay(ctx context.Context, payload resilience.Payload, res *resilience.Result) error {
	p.log.Info("queued generation completed",
		"request_id", payload.RequestID,
		"provider", res.Provider)
	p.notifier.Notify(ctx, notify.Alert{
		Kind:       notify.KindReplayCompleted,
		Severity:   notify.SeverityInfo,
		Provider:   res.Provider,
		Summary:    fmt.Sprintf("Late %s response ready for request %s", payload.Kind, payload.RequestID),
		Details:    map[string]string{"request_id": payload.RequestID, "response": truncate(res.Text, 500)},
		OccurredAt: p.now().UTC(),
	})
	return nil
}

// Status reports learning, circuit and queue state
func (p *Pipeline) Status(ctx context.Context) (*StatusReport, error) {
	st, err := p.store.GetStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read store status: %w", err)
	}
	return &StatusReport{
		Learning:  p.gate.Status(),
		Circuits:  p.generator.Registry().Snapshots(),
		Providers: p.generator.Providers(),
		Queued:    st.QueuedOperations,
		Abandoned: st.AbandonedOps,
		Knowledge: st.ActiveItems,
		Decisions: st.Decisions,
		Backend:   st.Backend,
		Healthy:   st.Health.DatabaseAccessible,
	}, nil
}

// truncate cuts s to at most n bytes without splitting a rune
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
