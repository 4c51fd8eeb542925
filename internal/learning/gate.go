package learning

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dshills/triage-mcp/internal/logger"
	"github.com/dshills/triage-mcp/internal/storage"
	"github.com/dshills/triage-mcp/pkg/types"
)

// Store persists learning counters and example weights
type Store interface {
	IncrementExampleCount(ctx context.Context, exampleID int64) (bool, error)
	LoadCounters(ctx context.Context) (*storage.Counters, error)
	GetExample(ctx context.Context, id int64) (*types.ValidatedExample, error)
	UpdateExampleWeight(ctx context.Context, id int64, weight float64) error
}

// Observer receives counter updates
type Observer interface {
	ObserveLearning(total int, phase Phase)
}

// View is a consistent read of the gate for one category
type View struct {
	Total             int
	Category          string
	CategoryCount     int
	Phase             Phase
	FewShot           bool
	DraftGeneration   bool
	DynamicThresholds bool
	Autonomous        bool
	CategoryFloor     float64 // 0 unless dynamic thresholds are enabled
	CategoryThreshold float64
	Experimental      bool
}

// Status summarizes the gate for reporting
type Status struct {
	Total        int             `json:"total"`
	ByCategory   map[string]int  `json:"by_category"`
	Phase        Phase           `json:"phase"`
	Capabilities map[string]bool `json:"capabilities"`
}

// Gate is the single serialized counter service
type Gate struct {
	cfg      Config
	store    Store
	observer Observer
	log      *logger.Logger

	mu         sync.RWMutex
	total      int
	byCategory map[string]int
}

// NewGate creates a gate with zero counts. Call Load to restore persisted
// counters.
func NewGate(cfg Config, store Store, log *logger.Logger) *Gate {
	if log == nil {
		log = logger.NewNop()
	}
	return &Gate{
		cfg:        cfg,
		store:      store,
		log:        log.Named("learning"),
		byCategory: make(map[string]int),
	}
}

// SetObserver registers o for counter updates
func (g *Gate) SetObserver(o Observer) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.observer = o
}

// Config returns the gate policy
func (g *Gate) Config() Config { return g.cfg }

// Load replaces in-memory counts with the persisted counters
func (g *Gate) Load(ctx context.Context) error {
	counters, err := g.store.LoadCounters(ctx)
	if err != nil {
		return fmt.Errorf("failed to load learning counters: %w", err)
	}

	g.mu.Lock()
	g.total = counters.Total
	g.byCategory = make(map[string]int, len(counters.ByCategory))
	for cat, n := range counters.ByCategory {
		g.byCategory[cat] = n
	}
	g.publish()
	g.mu.Unlock()

	g.log.Info("learning counters loaded", "total", counters.Total, "phase", string(g.cfg.PhaseFor(counters.Total)))
	return nil
}

// Record counts a newly validated example exactly once. It returns false
// when the example had already been counted.
func (g *Gate) Record(ctx context.Context, example *types.ValidatedExample) (bool, error) {
	if example == nil || example.ID == 0 {
		return false, fmt.Errorf("example must be persisted before it is counted")
	}
	if example.Status != types.ExampleValidated {
		return false, fmt.Errorf("example %d is not validated", example.ID)
	}

	// held across the store call so memory and storage apply increments
	// in the same order
	g.mu.Lock()
	defer g.mu.Unlock()

	counted, err := g.store.IncrementExampleCount(ctx, example.ID)
	if err != nil {
		return false, fmt.Errorf("failed to increment example count: %w", err)
	}
	if !counted {
		return false, nil
	}

	before := g.cfg.PhaseFor(g.total)
	g.total++
	g.byCategory[normalizeCategory(example.Category)]++
	after := g.cfg.PhaseFor(g.total)
	if before != after {
		g.log.Info("learning phase advanced", "from", string(before), "to", string(after), "total", g.total)
	}
	g.publish()
	return true, nil
}

// publish must be called with mu held
func (g *Gate) publish() {
	if g.observer != nil {
		g.observer.ObserveLearning(g.total, g.cfg.PhaseFor(g.total))
	}
}

// Total returns the validated example count
func (g *Gate) Total() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.total
}

// CategoryCount returns the validated example count for category
func (g *Gate) CategoryCount(category string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.byCategory[normalizeCategory(category)]
}

// Phase returns the current maturity phase
func (g *Gate) Phase() Phase {
	return g.cfg.PhaseFor(g.Total())
}

// Enabled reports whether capability is currently unlocked
func (g *Gate) Enabled(capability Capability) bool {
	return g.cfg.Enabled(capability, g.Total())
}

// View returns a consistent snapshot of every derived value for category
// and request
func (g *Gate) View(category, requestID string) View {
	category = normalizeCategory(category)

	g.mu.RLock()
	total := g.total
	catCount := g.byCategory[category]
	g.mu.RUnlock()

	v := View{
		Total:             total,
		Category:          category,
		CategoryCount:     catCount,
		Phase:             g.cfg.PhaseFor(total),
		FewShot:           g.cfg.Enabled(CapFewShot, total),
		DraftGeneration:   g.cfg.Enabled(CapDraftGeneration, total),
		DynamicThresholds: g.cfg.Enabled(CapDynamicThresholds, total),
		Autonomous:        g.cfg.Enabled(CapAutonomous, total),
		CategoryThreshold: g.cfg.CategoryThreshold(catCount),
		Experimental:      requestID != "" && g.cfg.Experimental(requestID),
	}
	if v.DynamicThresholds {
		v.CategoryFloor = g.cfg.CategoryFloor(catCount)
	}
	return v
}

// AdjustExampleWeight applies an outcome to a stored example's weight and
// returns the new weight
func (g *Gate) AdjustExampleWeight(ctx context.Context, exampleID int64, success bool) (float64, error) {
	ex, err := g.store.GetExample(ctx, exampleID)
	if err != nil {
		return 0, fmt.Errorf("failed to load example %d: %w", exampleID, err)
	}
	weight := AdjustWeight(ex.Weight, success)
	if err := g.store.UpdateExampleWeight(ctx, exampleID, weight); err != nil {
		return 0, fmt.Errorf("failed to update example weight: %w", err)
	}
	g.log.Debug("example weight adjusted", "example_id", exampleID, "success", success, "from", ex.Weight, "to", weight)
	return weight, nil
}

// Status returns counts, phase and capability flags
func (g *Gate) Status() Status {
	g.mu.RLock()
	total := g.total
	byCategory := make(map[string]int, len(g.byCategory))
	for k, v := range g.byCategory {
		byCategory[k] = v
	}
	g.mu.RUnlock()

	caps := make(map[string]bool, len(Capabilities))
	for _, c := range Capabilities {
		caps[string(c)] = g.cfg.Enabled(c, total)
	}
	return Status{Total: total, ByCategory: byCategory, Phase: g.cfg.PhaseFor(total), Capabilities: caps}
}

// Categories returns the categories with at least one example, sorted
func (g *Gate) Categories() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.byCategory))
	for k := range g.byCategory {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func normalizeCategory(c string) string {
	return strings.ToLower(strings.TrimSpace(c))
}
