package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/dshills/triage-mcp/internal/storage"
	"github.com/dshills/triage-mcp/pkg/types"
)

// Store is the subset of storage the jobs need
type Store interface {
	ListKnowledgeItems(ctx context.Context, filter storage.ItemFilter) ([]*types.KnowledgeItem, error)
	SetItemFlags(ctx context.Context, id int64, stale, duplicate bool) error
	RecomputeSuccessRates(ctx context.Context) (int, error)
}

// Report summarizes one pass of the knowledge jobs
type Report struct {
	Recomputed   int
	StaleSet     int
	StaleCleared int
	Duplicates   int
}

// Jobs holds the knowledge maintenance operations
type Jobs struct {
	store               Store
	staleAfter          time.Duration
	duplicateSimilarity float64
	now                 func() time.Time
}

// NewJobs creates the job set from cfg
func NewJobs(store Store, cfg Config) *Jobs {
	cfg = cfg.withDefaults()
	return &Jobs{
		store:               store,
		staleAfter:          cfg.StaleAfter,
		duplicateSimilarity: cfg.DuplicateSimilarity,
		now:                 time.Now,
	}
}

// RecomputeSuccessRates rebuilds running success rates from outcomes
func (j *Jobs) RecomputeSuccessRates(ctx context.Context) (int, error) {
	return j.store.RecomputeSuccessRates(ctx)
}

// FlagStale marks active items unused for longer than the window and
// clears the flag on items that have been used since
func (j *Jobs) FlagStale(ctx context.Context) (set, cleared int, err error) {
	items, err := j.store.ListKnowledgeItems(ctx, storage.ItemFilter{})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list items: %w", err)
	}

	now := j.now()
	for _, item := range items {
		stale := item.IsStale(now, j.staleAfter)
		if stale == item.Stale {
			continue
		}
		if err := j.store.SetItemFlags(ctx, item.ID, stale, item.Duplicate); err != nil {
			return set, cleared, err
		}
		if stale {
			set++
		} else {
			cleared++
		}
	}
	return set, cleared, nil
}

// FlagDuplicates marks the newer item of each near-identical pair. Items
// are compared in id order so the oldest copy stays canonical.
func (j *Jobs) FlagDuplicates(ctx context.Context) (int, error) {
	items, err := j.store.ListKnowledgeItems(ctx, storage.ItemFilter{WithEmbeddings: true})
	if err != nil {
		return 0, fmt.Errorf("failed to list items: %w", err)
	}

	flagged := 0
	canonical := make([]*types.KnowledgeItem, 0, len(items))
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return flagged, err
		}

		dup := false
		for _, c := range canonical {
			if storage.CosineSimilarity(item.Embedding, c.Embedding) >= j.duplicateSimilarity {
				dup = true
				break
			}
		}
		if !dup {
			canonical = append(canonical, item)
		}
		if dup == item.Duplicate {
			continue
		}
		if err := j.store.SetItemFlags(ctx, item.ID, item.Stale, dup); err != nil {
			return flagged, err
		}
		if dup {
			flagged++
		}
	}
	return flagged, nil
}

// RunAll runs every knowledge job in order
func (j *Jobs) RunAll(ctx context.Context) (*Report, error) {
	r := &Report{}
	var err error
	if r.Recomputed, err = j.RecomputeSuccessRates(ctx); err != nil {
		return r, err
	}
	if r.StaleSet, r.StaleCleared, err = j.FlagStale(ctx); err != nil {
		return r, err
	}
	if r.Duplicates, err = j.FlagDuplicates(ctx); err != nil {
		return r, err
	}
	return r, nil
}
