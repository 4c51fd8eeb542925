package resilience

import (
	"sort"
	"sync"
	"time"

	"github.com/dshills/triage-mcp/pkg/types"
)

// State of a circuit breaker
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker is a per-provider circuit breaker.
//
// Closed: calls pass; consecutive failures reaching the threshold open it.
// Open: calls are rejected until the cool-down elapses, then the next
// caller becomes the single half-open trial call.
// HalfOpen: exactly one trial call is in flight; success closes and resets,
// failure reopens.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	clock     Clock
	onChange  func(provider string, from, to State)

	mu            sync.Mutex
	state         State
	failures      int
	lastFailure   time.Time
	openedAt      time.Time
	trialInFlight bool
}

// NewBreaker creates a closed breaker for provider
func NewBreaker(provider string, threshold int, cooldown time.Duration, clock Clock) *Breaker {
	if threshold <= 0 {
		threshold = DefaultConfig().FailureThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultConfig().Cooldown
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Breaker{name: provider, threshold: threshold, cooldown: cooldown, clock: clock}
}

// Name returns the provider name
func (b *Breaker) Name() string { return b.name }

// Allow reserves an attempt. It returns ErrCircuitOpen when the call must
// be skipped. Every nil return must be followed by exactly one of Success,
// Failure or Release.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.clock.Now().Sub(b.openedAt) < b.cooldown {
			return ErrCircuitOpen
		}
		b.transition(StateHalfOpen)
		b.trialInFlight = true
		return nil
	case StateHalfOpen:
		if b.trialInFlight {
			return ErrCircuitOpen
		}
		b.trialInFlight = true
		return nil
	}
	return ErrCircuitOpen
}

// Success records a successful call, closing the circuit
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.trialInFlight = false
	if b.state != StateClosed {
		b.transition(StateClosed)
	}
}

// Failure records a failed call
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	b.failures++
	b.lastFailure = now

	switch b.state {
	case StateClosed:
		if b.failures >= b.threshold {
			b.openedAt = now
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		b.trialInFlight = false
		b.openedAt = now
		b.transition(StateOpen)
	case StateOpen:
		// late result from a call admitted before the circuit opened
	}
}

// Release returns a reserved attempt without a verdict, used when the
// caller cancels. A half-open trial call slot becomes available again.
func (b *Breaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen {
		b.trialInFlight = false
	}
}

// State returns the current state without triggering transitions
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the consecutive failure count
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Snapshot returns a point-in-time view for status reporting
func (b *Breaker) Snapshot() types.CircuitSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	snap := types.CircuitSnapshot{
		Provider: b.name,
		State:    b.state.String(),
		Failures: b.failures,
	}
	if !b.lastFailure.IsZero() {
		snap.LastFailure = b.lastFailure.UTC().Format(time.RFC3339)
	}
	return snap
}

// transition must be called with mu held
func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	if b.onChange != nil && from != to {
		b.onChange(b.name, from, to)
	}
}

// Registry owns one breaker per provider name
type Registry struct {
	cfg      Config
	clock    Clock
	onChange func(provider string, from, to State)

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates an empty registry
func NewRegistry(cfg Config, clock Clock) *Registry {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Registry{
		cfg:      cfg.withDefaults(),
		clock:    clock,
		breakers: make(map[string]*Breaker),
	}
}

// OnStateChange registers a callback invoked on every transition of
// breakers created afterwards. The callback runs with the breaker locked
// and must not call back into it.
func (r *Registry) OnStateChange(fn func(provider string, from, to State)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = fn
}

// Get returns the breaker for provider, creating it on first use
func (r *Registry) Get(provider string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[provider]; ok {
		return b
	}
	b := NewBreaker(provider, r.cfg.FailureThreshold, r.cfg.Cooldown, r.clock)
	b.onChange = r.onChange
	r.breakers[provider] = b
	return b
}

// Snapshots returns every breaker's state ordered by provider name
func (r *Registry) Snapshots() []types.CircuitSnapshot {
	r.mu.Lock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	out := make([]types.CircuitSnapshot, 0, len(breakers))
	for _, b := range breakers {
		out = append(out, b.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}
