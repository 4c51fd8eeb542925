package resilience

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dshills/triage-mcp/internal/logger"
	"github.com/dshills/triage-mcp/internal/notify"
	"github.com/dshills/triage-mcp/pkg/types"
)

// OperationStore is the durable retry queue consumed by the sweeper
type OperationStore interface {
	DueOperations(ctx context.Context, now time.Time, limit int) ([]*types.QueuedFailedOperation, error)
	UpdateOperation(ctx context.Context, op *types.QueuedFailedOperation) error
	DeleteOperation(ctx context.Context, id string) error
	CountOperations(ctx context.Context, status types.OperationStatus) (int, error)
}

// Handler re-executes one queued operation
type Handler func(ctx context.Context, op *types.QueuedFailedOperation) error

// ReplayHandler decodes the queued payload and replays it through chain.
// onSuccess, when set, receives the generated result.
func ReplayHandler(chain *Chain, onSuccess func(ctx context.Context, payload Payload, res *Result) error) Handler {
	return func(ctx context.Context, op *types.QueuedFailedOperation) error {
		var payload Payload
		if err := json.Unmarshal(op.Payload, &payload); err != nil {
			return &ClassifiedError{Class: ClassSystematic, Err: fmt.Errorf("decode payload: %w", err)}
		}
		res, err := chain.Replay(ctx, payload)
		if err != nil {
			return err
		}
		if onSuccess != nil {
			return onSuccess(ctx, payload, res)
		}
		return nil
	}
}

// SweepStats summarizes one sweep
type SweepStats struct {
	Due         int
	Succeeded   int
	Rescheduled int
	Abandoned   int
}

// QueueObserver receives queue depth after each sweep
type QueueObserver interface {
	ObserveQueue(queued, abandoned int)
}

// Sweeper periodically replays due operations from the retry queue
type Sweeper struct {
	store    OperationStore
	handler  Handler
	cfg      Config
	clock    Clock
	notifier notify.Notifier
	observer QueueObserver
	log      *logger.Logger
}

// SweeperOption configures a Sweeper
type SweeperOption func(*Sweeper)

// WithSweeperClock overrides the wall clock
func WithSweeperClock(clock Clock) SweeperOption {
	return func(s *Sweeper) { s.clock = clock }
}

// WithSweeperNotifier sends manual-intervention alerts to n
func WithSweeperNotifier(n notify.Notifier) SweeperOption {
	return func(s *Sweeper) { s.notifier = n }
}

// WithSweeperLogger sets the sweeper logger
func WithSweeperLogger(l *logger.Logger) SweeperOption {
	return func(s *Sweeper) { s.log = l }
}

// WithQueueObserver reports queue depth to o
func WithQueueObserver(o QueueObserver) SweeperOption {
	return func(s *Sweeper) { s.observer = o }
}

// NewSweeper creates a sweeper over store
func NewSweeper(cfg Config, store OperationStore, handler Handler, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		store:    store,
		handler:  handler,
		cfg:      cfg.withDefaults(),
		clock:    SystemClock{},
		notifier: notify.Nop{},
		log:      logger.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Named("sweeper")
	return s
}

// Run sweeps every interval until ctx is done
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	s.log.Info("retry sweeper started", "interval", s.cfg.SweepInterval.String())
	for {
		select {
		case <-ctx.Done():
			s.log.Info("retry sweeper stopped")
			return nil
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				s.log.Error("retry sweep failed", "error", err)
			}
		}
	}
}

// SweepOnce processes every operation due at the current time
func (s *Sweeper) SweepOnce(ctx context.Context) (SweepStats, error) {
	var stats SweepStats
	now := s.clock.Now().UTC()

	ops, err := s.store.DueOperations(ctx, now, s.cfg.SweepBatch)
	if err != nil {
		return stats, fmt.Errorf("failed to load due operations: %w", err)
	}
	stats.Due = len(ops)

	var errs []error
	for _, op := range ops {
		if ctx.Err() != nil {
			break
		}
		outcome, err := s.process(ctx, op, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		switch outcome {
		case types.OperationSucceeded:
			stats.Succeeded++
		case types.OperationAbandoned:
			stats.Abandoned++
		default:
			stats.Rescheduled++
		}
	}

	s.reportDepth(ctx)
	return stats, errors.Join(errs...)
}

func (s *Sweeper) process(ctx context.Context, op *types.QueuedFailedOperation, now time.Time) (types.OperationStatus, error) {
	if op.Expired(now) {
		return types.OperationAbandoned, s.abandon(ctx, op, "ttl expired")
	}

	err := s.handler(ctx, op)
	if err == nil {
		if err := s.store.DeleteOperation(ctx, op.ID); err != nil {
			return "", fmt.Errorf("failed to delete operation %s: %w", op.ID, err)
		}
		s.log.Info("queued operation succeeded", "operation_id", op.ID, "retry_count", op.RetryCount)
		return types.OperationSucceeded, nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	ce := Classify("", err)
	op.RetryCount++
	op.ErrorContext = err.Error()
	if op.Exhausted() {
		return types.OperationAbandoned, s.abandon(ctx, op, "max retries exhausted")
	}

	op.NextRetryAt = now.Add(Backoff(s.cfg.BackoffBase, s.cfg.BackoffCap, op.RetryCount, ce.RetryAfter))
	if err := s.store.UpdateOperation(ctx, op); err != nil {
		return "", fmt.Errorf("failed to reschedule operation %s: %w", op.ID, err)
	}
	s.log.Debug("queued operation rescheduled",
		"operation_id", op.ID, "retry_count", op.RetryCount, "next_retry_at", op.NextRetryAt)
	return types.OperationQueued, nil
}

// abandon converts op into a manual-intervention case. Abandoned
// operations are never due again, so the alert fires once.
func (s *Sweeper) abandon(ctx context.Context, op *types.QueuedFailedOperation, reason string) error {
	op.Status = types.OperationAbandoned
	if err := s.store.UpdateOperation(ctx, op); err != nil {
		return fmt.Errorf("failed to abandon operation %s: %w", op.ID, err)
	}

	s.log.Warn("queued operation abandoned", "operation_id", op.ID, "reason", reason, "retry_count", op.RetryCount)
	s.notifier.Notify(ctx, notify.Alert{
		Kind:        notify.KindManualIntervention,
		Severity:    notify.SeverityCritical,
		OperationID: op.ID,
		Summary:     "queued operation requires manual intervention: " + reason,
		Details: map[string]string{
			"kind":        op.Kind,
			"retry_count": strconv.Itoa(op.RetryCount),
			"last_error":  op.ErrorContext,
		},
		OccurredAt: s.clock.Now().UTC(),
	})
	return nil
}

func (s *Sweeper) reportDepth(ctx context.Context) {
	if s.observer == nil {
		return
	}
	queued, err := s.store.CountOperations(ctx, types.OperationQueued)
	if err != nil {
		return
	}
	abandoned, err := s.store.CountOperations(ctx, types.OperationAbandoned)
	if err != nil {
		return
	}
	s.observer.ObserveQueue(queued, abandoned)
}
