package maintenance

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/triage-mcp/internal/resilience"
	"github.com/dshills/triage-mcp/internal/storage"
	"github.com/dshills/triage-mcp/pkg/types"
)

func setupStore(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func addItem(t *testing.T, store *storage.SQLiteStorage, title string, vec []float32) *types.KnowledgeItem {
	t.Helper()
	item := &types.KnowledgeItem{
		Title:     title,
		Body:      title + " body text",
		Category:  "building",
		Embedding: vec,
		Status:    types.ItemActive,
	}
	require.NoError(t, store.UpsertKnowledgeItem(context.Background(), item))
	return item
}

func TestFlagStale(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	old := addItem(t, store, "Old notice", []float32{1, 0})
	used := addItem(t, store, "Used notice", []float32{0, 1})

	jobs := NewJobs(store, DefaultConfig())
	future := time.Now().Add(200 * 24 * time.Hour)
	jobs.now = func() time.Time { return future }

	require.NoError(t, store.RecordItemOutcome(ctx, used.ID, true, future.Add(-24*time.Hour)))

	set, cleared, err := jobs.FlagStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, set)
	assert.Equal(t, 0, cleared)

	got, err := store.GetKnowledgeItem(ctx, old.ID)
	require.NoError(t, err)
	assert.True(t, got.Stale)
	got, err = store.GetKnowledgeItem(ctx, used.ID)
	require.NoError(t, err)
	assert.False(t, got.Stale)

	// Second pass is a no-op
	set, cleared, err = jobs.FlagStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, set+cleared)

	// Using the item clears the flag
	require.NoError(t, store.RecordItemOutcome(ctx, old.ID, true, future))
	got, err = store.GetKnowledgeItem(ctx, old.ID)
	require.NoError(t, err)
	assert.False(t, got.Stale)
}

func TestFlagStale_FreshItems(t *testing.T) {
	store := setupStore(t)
	addItem(t, store, "New notice", []float32{1, 0})

	set, cleared, err := NewJobs(store, DefaultConfig()).FlagStale(context.Background())
	require.NoError(t, err)
	assert.Zero(t, set)
	assert.Zero(t, cleared)
}

func TestFlagDuplicates(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	first := addItem(t, store, "Bin day", []float32{1, 0, 0})
	copyItem := addItem(t, store, "Bin day copy", []float32{0.999, 0.01, 0})
	other := addItem(t, store, "Gym hours", []float32{0, 1, 0})

	n, err := NewJobs(store, DefaultConfig()).FlagDuplicates(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	for id, want := range map[int64]bool{first.ID: false, copyItem.ID: true, other.ID: false} {
		got, err := store.GetKnowledgeItem(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got.Duplicate, "item %d", id)
	}

	n, err = NewJobs(store, DefaultConfig()).FlagDuplicates(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFlagDuplicates_Threshold(t *testing.T) {
	store := setupStore(t)
	addItem(t, store, "A", []float32{1, 0})
	addItem(t, store, "B", []float32{0.9, 0.43})

	n, err := NewJobs(store, DefaultConfig()).FlagDuplicates(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunAll(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	item := addItem(t, store, "Levies", []float32{1, 0})
	require.NoError(t, store.RecordItemOutcome(ctx, item.ID, true, time.Now()))
	require.NoError(t, store.RecordItemOutcome(ctx, item.ID, false, time.Now()))

	report, err := NewJobs(store, DefaultConfig()).RunAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Recomputed)

	got, err := store.GetKnowledgeItem(ctx, item.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, got.SuccessRate, 1e-9)
	assert.Equal(t, 2, got.UsageCount)
}

type countingSweeper struct{ n atomic.Int32 }

func (c *countingSweeper) SweepOnce(context.Context) (resilience.SweepStats, error) {
	c.n.Add(1)
	return resilience.SweepStats{}, nil
}

func TestScheduler_RegistersJobs(t *testing.T) {
	store := setupStore(t)
	jobs := NewJobs(store, DefaultConfig())

	s, err := NewScheduler(DefaultConfig(), jobs, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, s.Entries())

	s, err = NewScheduler(DefaultConfig(), jobs, &countingSweeper{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, s.Entries())
}

func TestScheduler_InvalidSpec(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DuplicateSpec = "every tuesday"
	_, err := NewScheduler(cfg, NewJobs(setupStore(t), cfg), nil, nil)
	assert.ErrorContains(t, err, "flag_duplicates")
}

func TestScheduler_RunsSweep(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SweepSpec = "@every 1s"
	sweeper := &countingSweeper{}

	s, err := NewScheduler(cfg, NewJobs(setupStore(t), cfg), sweeper, nil)
	require.NoError(t, err)
	s.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	}()

	assert.Eventually(t, func() bool { return sweeper.n.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
}
