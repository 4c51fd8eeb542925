package storage

import (
	"context"
	"errors"
	"time"

	"github.com/dshills/triage-mcp/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when trying to create a duplicate entity
	ErrAlreadyExists = errors.New("already exists")
	// ErrEmptyQuery is returned when a keyword search has no usable terms
	ErrEmptyQuery = errors.New("empty search query")
)

// TotalCounterKey is the learning counter row holding the global example count
const TotalCounterKey = "*"

// Storage defines the persistence contract for knowledge, learning,
// audit and retry state. It is also the similarity index read by the
// hybrid retriever.
type Storage interface {
	// Knowledge operations
	UpsertKnowledgeItem(ctx context.Context, item *types.KnowledgeItem) error
	GetKnowledgeItem(ctx context.Context, id int64) (*types.KnowledgeItem, error)
	GetKnowledgeItemByHash(ctx context.Context, contentHash [32]byte) (*types.KnowledgeItem, error)
	GetKnowledgeItems(ctx context.Context, ids []int64) (map[int64]*types.KnowledgeItem, error)
	ListKnowledgeItems(ctx context.Context, filter ItemFilter) ([]*types.KnowledgeItem, error)
	ArchiveKnowledgeItem(ctx context.Context, id int64) error
	RecordItemOutcome(ctx context.Context, id int64, success bool, at time.Time) error
	SetItemFlags(ctx context.Context, id int64, stale, duplicate bool) error
	RecomputeSuccessRates(ctx context.Context) (int, error)

	// Search operations
	SearchVector(ctx context.Context, vector []float32, limit int, filters *SearchFilters) ([]VectorResult, error)
	SearchKeyword(ctx context.Context, query string, limit int, filters *SearchFilters) ([]KeywordResult, error)

	// Validated example operations
	SaveExample(ctx context.Context, example *types.ValidatedExample) error
	GetExample(ctx context.Context, id int64) (*types.ValidatedExample, error)
	GetExampleByRequestID(ctx context.Context, requestID string) (*types.ValidatedExample, error)
	UpdateExampleWeight(ctx context.Context, id int64, weight float64) error
	ListExamples(ctx context.Context, category string, limit int) ([]*types.ValidatedExample, error)

	// Learning counter operations
	IncrementExampleCount(ctx context.Context, exampleID int64) (bool, error)
	LoadCounters(ctx context.Context) (*Counters, error)

	// Audit operations
	AppendDecision(ctx context.Context, decision *types.RoutingDecision) error
	ListDecisions(ctx context.Context, requestID string) ([]*types.RoutingDecision, error)

	// Retry queue operations
	EnqueueOperation(ctx context.Context, op *types.QueuedFailedOperation) error
	DueOperations(ctx context.Context, now time.Time, limit int) ([]*types.QueuedFailedOperation, error)
	UpdateOperation(ctx context.Context, op *types.QueuedFailedOperation) error
	DeleteOperation(ctx context.Context, id string) error
	CountOperations(ctx context.Context, status types.OperationStatus) (int, error)

	// Status operations
	GetStatus(ctx context.Context) (*Status, error)

	// Database operations
	Close() error
}

// ItemFilter narrows knowledge listings
type ItemFilter struct {
	Category        string
	IncludeArchived bool
	WithEmbeddings  bool // Only items that carry an embedding
	Limit           int  // 0 means unlimited
}

// SearchFilters contains filters for narrowing search results
type SearchFilters struct {
	Category     string  // Exact category match, empty for all
	MinRelevance float64 // Minimum similarity score
}

// VectorResult represents a result from vector similarity search
type VectorResult struct {
	ItemID     int64
	Similarity float64 // Cosine similarity
}

// KeywordResult represents a result from trigram keyword search
type KeywordResult struct {
	ItemID     int64
	Similarity float64 // Trigram word similarity in [0,1]
}

// Counters is a snapshot of persisted learning counters
type Counters struct {
	Total      int
	ByCategory map[string]int
}

// Status contains statistics about the store
type Status struct {
	KnowledgeItems    int
	ActiveItems       int
	StaleItems        int
	DuplicateItems    int
	Examples          int
	ValidatedExamples int
	Decisions         int
	QueuedOperations  int
	AbandonedOps      int
	Backend           string
	Health            HealthStatus
}

// HealthStatus represents the health of the store
type HealthStatus struct {
	DatabaseAccessible  bool
	EmbeddingsAvailable bool
	KeywordIndexBuilt   bool
}
