package resilience

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/triage-mcp/internal/notify"
	"github.com/dshills/triage-mcp/pkg/types"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.CallTimeout = time.Second
	return cfg
}

func newTestChain(clock *fakeClock, q *memQueue, n *recordingNotifier, providers ...Provider) *Chain {
	cfg := testConfig()
	return NewChain(cfg, NewRegistry(cfg, clock), providers,
		WithClock(clock), WithQueue(q), WithNotifier(n))
}

var payload = Payload{Kind: KindGenerate, RequestID: "req-1", Prompt: "Can I park in visitor stalls overnight?"}

func TestChain_PrimarySucceeds(t *testing.T) {
	primary := answering("openai", "Yes, up to 24 hours.")
	fallback := answering("anthropic", "unused")
	c := newTestChain(newFakeClock(), newMemQueue(), &recordingNotifier{}, primary, fallback)

	res, err := c.Execute(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, "Yes, up to 24 hours.", res.Text)
	assert.Equal(t, "openai", res.Provider)
	assert.Equal(t, int32(0), fallback.calls.Load())
	assert.Equal(t, []string{"openai", "anthropic"}, c.Providers())
}

func TestChain_TransientFallsBack(t *testing.T) {
	primary := failing("openai", &HTTPError{Provider: "openai", Status: 503})
	fallback := answering("anthropic", "fallback answer")
	c := newTestChain(newFakeClock(), newMemQueue(), &recordingNotifier{}, primary, fallback)

	res, err := c.Execute(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", res.Provider)
	require.Len(t, res.Attempts, 2)
	assert.Equal(t, ClassTransient, res.Attempts[0].Class)
	assert.Equal(t, 1, c.Registry().Get("openai").Failures())
}

func TestChain_SystematicAborts(t *testing.T) {
	primary := failing("openai", &HTTPError{Provider: "openai", Status: 401})
	fallback := answering("anthropic", "unused")
	n := &recordingNotifier{}
	q := newMemQueue()
	c := newTestChain(newFakeClock(), q, n, primary, fallback)

	_, err := c.Execute(context.Background(), payload)
	var ce *ClassifiedError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ClassSystematic, ce.Class)
	assert.Equal(t, 401, ce.Status)
	assert.Equal(t, int32(0), fallback.calls.Load())
	assert.Empty(t, q.ops)
	assert.Equal(t, []string{notify.KindSystematicError}, n.kinds())
}

func TestChain_CriticalAbortsAndAlerts(t *testing.T) {
	primary := failing("openai", &HTTPError{Provider: "openai", Status: 500})
	fallback := answering("anthropic", "unused")
	n := &recordingNotifier{}
	c := newTestChain(newFakeClock(), newMemQueue(), n, primary, fallback)

	_, err := c.Execute(context.Background(), payload)
	var ce *ClassifiedError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ClassCritical, ce.Class)
	assert.Equal(t, int32(0), fallback.calls.Load())
	require.Len(t, n.alerts, 1)
	assert.Equal(t, notify.KindCriticalError, n.alerts[0].Kind)
	assert.Equal(t, notify.SeverityCritical, n.alerts[0].Severity)
	assert.Equal(t, "openai", n.alerts[0].Provider)
	assert.Equal(t, "500", n.alerts[0].Details["status"])
}

func TestChain_OpenCircuitSkipsWithoutInvocation(t *testing.T) {
	clock := newFakeClock()
	primary := failing("openai", context.DeadlineExceeded)
	fallback := answering("anthropic", "ok")
	c := newTestChain(clock, newMemQueue(), &recordingNotifier{}, primary, fallback)

	for i := 0; i < 3; i++ {
		_, err := c.Execute(context.Background(), payload)
		require.NoError(t, err)
	}
	require.Equal(t, StateOpen, c.Registry().Get("openai").State())
	assert.Equal(t, int32(3), primary.calls.Load())

	res, err := c.Execute(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, int32(3), primary.calls.Load(), "open circuit must not invoke the provider")
	assert.True(t, res.Attempts[0].Skipped)

	clock.Advance(30 * time.Second)
	_, err = c.Execute(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, int32(4), primary.calls.Load(), "one half-open trial call after cool-down")
	assert.Equal(t, StateOpen, c.Registry().Get("openai").State())
}

func TestChain_ExhaustionQueuesOperation(t *testing.T) {
	clock := newFakeClock()
	q := newMemQueue()
	c := newTestChain(clock, q, &recordingNotifier{},
		failing("openai", &HTTPError{Status: 503}),
		failing("anthropic", &HTTPError{Status: 429}),
		failing("perplexity", context.DeadlineExceeded),
	)

	res, err := c.Execute(context.Background(), payload)
	assert.Nil(t, res)
	require.ErrorIs(t, err, ErrQueued)
	require.ErrorIs(t, err, ErrAllProvidersFailed)

	var qe *QueuedError
	require.ErrorAs(t, err, &qe)
	op := q.only(t)
	assert.Equal(t, qe.OperationID, op.ID)
	assert.Equal(t, 0, op.RetryCount)
	assert.Equal(t, 5, op.MaxRetries)
	assert.Equal(t, float64(604800), op.TTL.Seconds())
	assert.Equal(t, types.OperationQueued, op.Status)
	assert.Equal(t, KindGenerate, op.Kind)
	assert.True(t, op.NextRetryAt.After(clock.Now()))

	var decoded Payload
	require.NoError(t, json.Unmarshal(op.Payload, &decoded))
	assert.Equal(t, payload, decoded)
}

func TestChain_ExhaustionWithoutQueue(t *testing.T) {
	cfg := testConfig()
	c := NewChain(cfg, nil, []Provider{failing("openai", &HTTPError{Status: 503})})
	_, err := c.Execute(context.Background(), payload)
	assert.ErrorIs(t, err, ErrAllProvidersFailed)
	assert.NotErrorIs(t, err, ErrQueued)
}

type brokenQueue struct{}

func (brokenQueue) EnqueueOperation(context.Context, *types.QueuedFailedOperation) error {
	return errors.New("disk full")
}

func TestChain_EnqueueFailureIsCritical(t *testing.T) {
	cfg := testConfig()
	n := &recordingNotifier{}
	c := NewChain(cfg, nil, []Provider{failing("openai", &HTTPError{Status: 503})},
		WithQueue(brokenQueue{}), WithNotifier(n))

	_, err := c.Execute(context.Background(), payload)
	var ce *ClassifiedError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ClassCritical, ce.Class)
	assert.ErrorIs(t, err, ErrDatastore)
	assert.Equal(t, []string{notify.KindCriticalError}, n.kinds())
}

func TestChain_CallerCancellationIsNotFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	blocking := &stubProvider{name: "openai", fn: func(ctx context.Context, _ Payload) (string, error) {
		cancel()
		<-ctx.Done()
		return "", ctx.Err()
	}}
	fallback := answering("anthropic", "unused")
	q := newMemQueue()
	c := newTestChain(newFakeClock(), q, &recordingNotifier{}, blocking, fallback)

	_, err := c.Execute(ctx, payload)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, c.Registry().Get("openai").Failures())
	assert.Equal(t, int32(0), fallback.calls.Load())
	assert.Empty(t, q.ops)
}

func TestChain_CallTimeoutIsTransient(t *testing.T) {
	slow := &stubProvider{name: "openai", fn: func(ctx context.Context, _ Payload) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	cfg := testConfig()
	cfg.CallTimeout = 10 * time.Millisecond
	c := NewChain(cfg, nil, []Provider{slow, answering("anthropic", "ok")})

	res, err := c.Execute(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", res.Provider)
	assert.Equal(t, 1, c.Registry().Get("openai").Failures())
}

func TestChain_NoProviders(t *testing.T) {
	c := NewChain(testConfig(), nil, nil)
	_, err := c.Execute(context.Background(), payload)
	assert.ErrorIs(t, err, ErrNoProviders)
}

type recordingObserver struct {
	calls    []string
	circuits []string
}

func (o *recordingObserver) ObserveCall(provider, outcome string, _ time.Duration) {
	o.calls = append(o.calls, provider+":"+outcome)
}

func (o *recordingObserver) ObserveCircuit(provider string, state State) {
	o.circuits = append(o.circuits, provider+":"+state.String())
}

func TestChain_Observer(t *testing.T) {
	cfg := testConfig()
	cfg.FailureThreshold = 1
	obs := &recordingObserver{}
	c := NewChain(cfg, nil, []Provider{
		failing("openai", &HTTPError{Status: 502}),
		answering("anthropic", "ok"),
	}, WithObserver(obs))

	_, err := c.Execute(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, []string{"openai:transient", "anthropic:success"}, obs.calls)
	assert.Equal(t, []string{"openai:open"}, obs.circuits)
}
