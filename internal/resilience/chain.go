package resilience

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/triage-mcp/internal/logger"
	"github.com/dshills/triage-mcp/internal/notify"
	"github.com/dshills/triage-mcp/pkg/types"
)

// Operation kinds parked in the retry queue
const (
	KindGenerate = "generate"
	KindResearch = "research"
)

// Payload is the prompt-equivalent unit of work sent to a provider
type Payload struct {
	Kind      string            `json:"kind"`
	RequestID string            `json:"request_id"`
	System    string            `json:"system,omitempty"`
	Prompt    string            `json:"prompt"`
	Examples  []string          `json:"examples,omitempty"`
	MaxTokens int               `json:"max_tokens,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Provider is an external generation or research backend
type Provider interface {
	Name() string
	Generate(ctx context.Context, payload Payload) (string, error)
}

// OperationQueue persists work that exhausted every provider
type OperationQueue interface {
	EnqueueOperation(ctx context.Context, op *types.QueuedFailedOperation) error
}

// Observer receives call and circuit telemetry
type Observer interface {
	ObserveCall(provider, outcome string, elapsed time.Duration)
	ObserveCircuit(provider string, state State)
}

// Attempt describes one step of a chain walk
type Attempt struct {
	Provider string
	Skipped  bool
	Class    Class
	Err      error
	Elapsed  time.Duration
}

// Result is a successful chain walk
type Result struct {
	Text     string
	Provider string
	Attempts []Attempt
}

// Chain walks an ordered provider list with per-provider breakers
type Chain struct {
	providers []Provider
	registry  *Registry
	cfg       Config
	clock     Clock
	queue     OperationQueue
	notifier  notify.Notifier
	observer  Observer
	log       *logger.Logger
}

// ChainOption configures a Chain
type ChainOption func(*Chain)

// WithQueue parks exhausted work in q
func WithQueue(q OperationQueue) ChainOption {
	return func(c *Chain) { c.queue = q }
}

// WithNotifier sends operator alerts to n
func WithNotifier(n notify.Notifier) ChainOption {
	return func(c *Chain) { c.notifier = n }
}

// WithObserver reports telemetry to o
func WithObserver(o Observer) ChainOption {
	return func(c *Chain) { c.observer = o }
}

// WithLogger sets the chain logger
func WithLogger(l *logger.Logger) ChainOption {
	return func(c *Chain) { c.log = l }
}

// WithClock overrides the wall clock
func WithClock(clock Clock) ChainOption {
	return func(c *Chain) { c.clock = clock }
}

// NewChain creates a fallback chain. Breakers come from registry.
func NewChain(cfg Config, registry *Registry, providers []Provider, opts ...ChainOption) *Chain {
	c := &Chain{
		providers: providers,
		registry:  registry,
		cfg:       cfg.withDefaults(),
		clock:     SystemClock{},
		notifier:  notify.Nop{},
		log:       logger.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.registry == nil {
		c.registry = NewRegistry(c.cfg, c.clock)
	}
	if c.observer != nil {
		obs := c.observer
		c.registry.OnStateChange(func(provider string, _, to State) {
			obs.ObserveCircuit(provider, to)
		})
	}
	c.log = c.log.Named("resilience")
	return c
}

// Providers returns the provider names in chain order
func (c *Chain) Providers() []string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return names
}

// Registry returns the breaker registry
func (c *Chain) Registry() *Registry { return c.registry }

// Execute runs payload through the chain. Callers see a result, a
// systematic or critical *ClassifiedError, the caller's context error, or
// a *QueuedError once every provider is exhausted.
func (c *Chain) Execute(ctx context.Context, payload Payload) (*Result, error) {
	res, err := c.walk(ctx, payload)
	if err == nil {
		return res, nil
	}
	if !errors.Is(err, ErrAllProvidersFailed) {
		return nil, err
	}
	if c.queue == nil {
		return nil, err
	}
	return nil, c.park(ctx, payload, err)
}

// Replay runs payload through the chain without queueing on exhaustion
func (c *Chain) Replay(ctx context.Context, payload Payload) (*Result, error) {
	return c.walk(ctx, payload)
}

func (c *Chain) walk(ctx context.Context, payload Payload) (*Result, error) {
	if len(c.providers) == 0 {
		return nil, ErrNoProviders
	}

	var attempts []Attempt
	var last *ClassifiedError
	for _, p := range c.providers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		name := p.Name()
		br := c.registry.Get(name)
		if err := br.Allow(); err != nil {
			attempts = append(attempts, Attempt{Provider: name, Skipped: true, Class: ClassTransient, Err: err})
			c.observe(name, "skipped", 0)
			if last == nil {
				last = &ClassifiedError{Class: ClassTransient, Provider: name, Err: err}
			}
			continue
		}

		start := c.clock.Now()
		text, err := c.call(ctx, p, payload)
		elapsed := c.clock.Now().Sub(start)
		if err == nil {
			br.Success()
			c.observe(name, "success", elapsed)
			attempts = append(attempts, Attempt{Provider: name, Elapsed: elapsed})
			return &Result{Text: text, Provider: name, Attempts: attempts}, nil
		}

		ce := Classify(name, err)
		if ctx.Err() != nil {
			// the caller gave up; the provider is not at fault
			ce = &ClassifiedError{Class: ClassCanceled, Provider: name, Err: ctx.Err()}
		}
		attempts = append(attempts, Attempt{Provider: name, Class: ce.Class, Err: ce, Elapsed: elapsed})
		c.observe(name, ce.Class.String(), elapsed)

		switch ce.Class {
		case ClassCanceled:
			br.Release()
			return nil, ctx.Err()
		case ClassSystematic:
			br.Failure()
			c.log.Warn("provider rejected request", "provider", name, "status", ce.Status, "error", ce.Err)
			c.alert(ctx, notify.KindSystematicError, notify.SeverityWarning, ce, payload)
			return nil, ce
		case ClassCritical:
			br.Failure()
			c.log.Error("provider critical failure", "provider", name, "status", ce.Status, "error", ce.Err)
			c.alert(ctx, notify.KindCriticalError, notify.SeverityCritical, ce, payload)
			return nil, ce
		default:
			br.Failure()
			c.log.Warn("provider failed, falling back", "provider", name, "status", ce.Status, "error", ce.Err)
			last = ce
		}
	}

	return nil, &ClassifiedError{
		Class:      ClassTransient,
		Provider:   last.Provider,
		Status:     last.Status,
		RetryAfter: last.RetryAfter,
		Err:        fmt.Errorf("%w: %w", ErrAllProvidersFailed, last.Err),
	}
}

func (c *Chain) call(ctx context.Context, p Provider, payload Payload) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()
	return p.Generate(callCtx, payload)
}

// park enqueues the failed unit of work and returns the acknowledgment
func (c *Chain) park(ctx context.Context, payload Payload, cause error) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	now := c.clock.Now().UTC()
	kind := payload.Kind
	if kind == "" {
		kind = KindGenerate
	}
	op := &types.QueuedFailedOperation{
		ID:           uuid.NewString(),
		Kind:         kind,
		Payload:      body,
		ErrorContext: cause.Error(),
		RetryCount:   0,
		MaxRetries:   c.cfg.MaxRetries,
		TTL:          c.cfg.QueueTTL,
		NextRetryAt:  now.Add(Backoff(c.cfg.BackoffBase, c.cfg.BackoffCap, 0, retryAfterOf(cause))),
		Status:       types.OperationQueued,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	// the caller's deadline must not lose the work
	if err := c.queue.EnqueueOperation(context.WithoutCancel(ctx), op); err != nil {
		ce := &ClassifiedError{Class: ClassCritical, Err: fmt.Errorf("%w: enqueue failed: %w", ErrDatastore, err)}
		c.log.Error("failed to park operation", "request_id", payload.RequestID, "error", err)
		c.alert(ctx, notify.KindCriticalError, notify.SeverityCritical, ce, payload)
		return ce
	}

	c.log.Info("operation queued", "operation_id", op.ID, "request_id", payload.RequestID, "kind", op.Kind)
	return &QueuedError{OperationID: op.ID, Cause: cause}
}

func (c *Chain) alert(ctx context.Context, kind string, sev notify.Severity, ce *ClassifiedError, payload Payload) {
	details := map[string]string{
		"class":      ce.Class.String(),
		"request_id": payload.RequestID,
		"error":      ce.Err.Error(),
	}
	if ce.Status != 0 {
		details["status"] = strconv.Itoa(ce.Status)
	}
	c.notifier.Notify(ctx, notify.Alert{
		Kind:       kind,
		Severity:   sev,
		Provider:   ce.Provider,
		Summary:    fmt.Sprintf("%s provider failure", ce.Class),
		Details:    details,
		OccurredAt: c.clock.Now().UTC(),
	})
}

func (c *Chain) observe(provider, outcome string, elapsed time.Duration) {
	if c.observer != nil {
		c.observer.ObserveCall(provider, outcome, elapsed)
	}
}

func retryAfterOf(err error) time.Duration {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.RetryAfter
	}
	return 0
}
