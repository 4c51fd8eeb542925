package indexer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/dshills/triage-mcp/internal/embedder"
	"github.com/dshills/triage-mcp/internal/logger"
	"github.com/dshills/triage-mcp/internal/storage"
	"github.com/dshills/triage-mcp/internal/textprep"
	"github.com/dshills/triage-mcp/pkg/types"
)

// ErrIngestInProgress is returned when another ingest holds the lock
var ErrIngestInProgress = errors.New("ingest already in progress")

// Store is the subset of storage the indexer writes through
type Store interface {
	UpsertKnowledgeItem(ctx context.Context, item *types.KnowledgeItem) error
	GetKnowledgeItemByHash(ctx context.Context, contentHash [32]byte) (*types.KnowledgeItem, error)
}

// CacheInvalidator drops cached retrievals after the index changes
type CacheInvalidator interface {
	InvalidateCache()
}

// Config contains configuration for the indexer
type Config struct {
	Workers   int `koanf:"workers" validate:"gte=0"`    // Concurrent batches (default: runtime.NumCPU())
	BatchSize int `koanf:"batch_size" validate:"gte=0"` // Items per embedding call (default: 20)
}

// DefaultConfig returns the indexer defaults
func DefaultConfig() Config {
	return Config{Workers: runtime.NumCPU(), BatchSize: 20}
}

// Seed is one curated knowledge item as written in a seed file
type Seed struct {
	Title       string   `yaml:"title" json:"title"`
	Body        string   `yaml:"body" json:"body"`
	Category    string   `yaml:"category" json:"category"`
	Subcategory string   `yaml:"subcategory,omitempty" json:"subcategory,omitempty"`
	Keywords    []string `yaml:"keywords,omitempty" json:"keywords,omitempty"`
}

type seedFile struct {
	Items []Seed `yaml:"items"`
}

// Statistics contains statistics about an ingest
type Statistics struct {
	FilesRead     int
	ItemsIndexed  int
	ItemsSkipped  int
	ItemsFailed   int
	Duration      time.Duration
	ErrorMessages []string
}

// Indexer coordinates the ingest pipeline: read -> prepare -> embed -> store
type Indexer struct {
	store    Store
	embedder embedder.Embedder
	prep     *textprep.Preparer
	cfg      Config
	log      *logger.Logger

	invalidator CacheInvalidator
	lock        IngestLock
}

// New creates a new Indexer instance
func New(store Store, emb embedder.Embedder, cfg Config, log *logger.Logger) *Indexer {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Indexer{
		store:    store,
		embedder: emb,
		prep:     textprep.New(),
		cfg:      cfg,
		log:      log.Named("indexer"),
	}
}

// SetInvalidator registers the retriever cache to clear after writes
func (idx *Indexer) SetInvalidator(inv CacheInvalidator) { idx.invalidator = inv }

// IngestPath indexes every seed file under path. path may be a single file.
func (idx *Indexer) IngestPath(ctx context.Context, path string) (*Statistics, error) {
	if !idx.lock.TryAcquire() {
		return nil, ErrIngestInProgress
	}
	defer idx.lock.Release()

	start := time.Now()
	files, err := discoverFiles(path)
	if err != nil {
		return nil, fmt.Errorf("failed to discover seed files: %w", err)
	}

	stats := &Statistics{}
	var seeds []Seed
	for _, f := range files {
		loaded, err := LoadSeeds(f)
		if err != nil {
			stats.ErrorMessages = append(stats.ErrorMessages, fmt.Sprintf("%s: %v", f, err))
			continue
		}
		stats.FilesRead++
		seeds = append(seeds, loaded...)
	}

	if err := idx.ingest(ctx, seeds, stats); err != nil {
		return nil, err
	}
	stats.Duration = time.Since(start)

	idx.log.Info("ingest complete",
		"path", path,
		"files", stats.FilesRead,
		"indexed", stats.ItemsIndexed,
		"skipped", stats.ItemsSkipped,
		"failed", stats.ItemsFailed,
		"duration", stats.Duration)
	return stats, nil
}

// IngestSeeds indexes seeds supplied directly
func (idx *Indexer) IngestSeeds(ctx context.Context, seeds []Seed) (*Statistics, error) {
	if !idx.lock.TryAcquire() {
		return nil, ErrIngestInProgress
	}
	defer idx.lock.Release()

	start := time.Now()
	stats := &Statistics{}
	if err := idx.ingest(ctx, seeds, stats); err != nil {
		return nil, err
	}
	stats.Duration = time.Since(start)
	return stats, nil
}

// IndexItem prepares, embeds and stores a single item outside of a bulk
// ingest. Used for knowledge generated from resolved requests.
func (idx *Indexer) IndexItem(ctx context.Context, item *types.KnowledgeItem) error {
	if err := idx.prep.Prepare(item); err != nil {
		return err
	}
	vec, err := idx.embedder.Embed(ctx, idx.prep.EmbeddingInput(item))
	if err != nil {
		return fmt.Errorf("failed to embed item: %w", err)
	}
	item.Embedding = vec
	if err := idx.store.UpsertKnowledgeItem(ctx, item); err != nil {
		return err
	}
	if idx.invalidator != nil {
		idx.invalidator.InvalidateCache()
	}
	return nil
}

// InProgress reports whether an ingest is running
func (idx *Indexer) InProgress() bool { return idx.lock.Held() }

func (idx *Indexer) ingest(ctx context.Context, seeds []Seed, stats *Statistics) error {
	var (
		indexed int32
		skipped int32
		failed  int32
		mu      sync.Mutex // Protect stats.ErrorMessages
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(idx.cfg.Workers)

	for i := 0; i < len(seeds); i += idx.cfg.BatchSize {
		end := min(i+idx.cfg.BatchSize, len(seeds))
		batch := seeds[i:end]

		g.Go(func() error {
			errs := idx.indexBatch(gctx, batch, &indexed, &skipped)
			if len(errs) > 0 {
				atomic.AddInt32(&failed, int32(len(errs)))
				mu.Lock()
				stats.ErrorMessages = append(stats.ErrorMessages, errs...)
				mu.Unlock()
			}
			return gctx.Err()
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	stats.ItemsIndexed += int(indexed)
	stats.ItemsSkipped += int(skipped)
	stats.ItemsFailed += int(failed)

	if indexed > 0 && idx.invalidator != nil {
		idx.invalidator.InvalidateCache()
	}
	return nil
}

// indexBatch prepares and stores one batch, returning per-item failures
func (idx *Indexer) indexBatch(ctx context.Context, batch []Seed, indexed, skipped *int32) []string {
	var errs []string
	items := make([]*types.KnowledgeItem, 0, len(batch))

	for _, s := range batch {
		item := s.item()
		if err := idx.prep.Prepare(item); err != nil {
			errs = append(errs, fmt.Sprintf("%q: %v", s.Title, err))
			continue
		}
		if item.Category == "" {
			errs = append(errs, fmt.Sprintf("%q: %v", s.Title, types.ErrEmptyCategory))
			continue
		}

		existing, err := idx.store.GetKnowledgeItemByHash(ctx, item.ContentHash)
		switch {
		case err == nil && len(existing.Embedding) > 0 && existing.Category == item.Category:
			atomic.AddInt32(skipped, 1)
			continue
		case err != nil && !errors.Is(err, storage.ErrNotFound):
			errs = append(errs, fmt.Sprintf("%q: %v", s.Title, err))
			continue
		}
		items = append(items, item)
	}
	if len(items) == 0 {
		return errs
	}

	inputs := make([]string, len(items))
	for i, item := range items {
		inputs[i] = idx.prep.EmbeddingInput(item)
	}
	vecs, err := idx.embedder.EmbedBatch(ctx, inputs)
	if err != nil {
		for _, item := range items {
			errs = append(errs, fmt.Sprintf("%q: embedding failed: %v", item.Title, err))
		}
		return errs
	}

	for i, item := range items {
		item.Embedding = vecs[i]
		if err := idx.store.UpsertKnowledgeItem(ctx, item); err != nil {
			errs = append(errs, fmt.Sprintf("%q: %v", item.Title, err))
			continue
		}
		atomic.AddInt32(indexed, 1)
	}
	return errs
}

func (s Seed) item() *types.KnowledgeItem {
	return &types.KnowledgeItem{
		Title:       s.Title,
		Body:        s.Body,
		Category:    s.Category,
		Subcategory: s.Subcategory,
		Keywords:    s.Keywords,
		Status:      types.ItemActive,
	}
}

// LoadSeeds parses a seed file
func LoadSeeds(path string) ([]Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc seedFile
	if err := yaml.Unmarshal(data, &doc); err == nil && len(doc.Items) > 0 {
		return doc.Items, nil
	}

	var list []Seed
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("failed to parse seeds: %w", err)
	}
	return list, nil
}

// discoverFiles finds seed files under root, skipping hidden directories
func discoverFiles(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{root}, nil
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml", ".json":
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}
