package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/dshills/triage-mcp/internal/textprep"
	"github.com/dshills/triage-mcp/pkg/types"
)

// pgxPool is the subset of *pgxpool.Pool used by PostgresStorage
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// pgQuerier is satisfied by both the pool and a transaction
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// PostgresStorage implements the Storage interface on Postgres with the
// pgvector and pg_trgm extensions.
type PostgresStorage struct {
	pool pgxPool
}

// NewPostgresStorage connects, applies migrations and returns a store
func NewPostgresStorage(ctx context.Context, dsn string) (*PostgresStorage, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	if err := runMigrations(ctx, pgMigrator{pool: pool}, PostgresMigrations); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	return &PostgresStorage{pool: pool}, nil
}

// NewPostgresStorageWithPool wraps an existing pool without migrating
func NewPostgresStorageWithPool(pool pgxPool) *PostgresStorage {
	return &PostgresStorage{pool: pool}
}

func (s *PostgresStorage) Close() error {
	s.pool.Close()
	return nil
}

// pgMigrator applies migrations through a pgx pool
type pgMigrator struct {
	pool pgxPool
}

func (m pgMigrator) currentVersion(ctx context.Context) (string, error) {
	var exists bool
	err := m.pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'schema_version')").Scan(&exists)
	if err != nil {
		return "", fmt.Errorf("failed to check schema_version table: %w", err)
	}
	if !exists {
		return "", nil
	}
	rows, err := m.pool.Query(ctx, "SELECT version FROM schema_version")
	if err != nil {
		return "", fmt.Errorf("failed to read schema_version: %w", err)
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return "", err
	}
	return maxVersion(versions)
}

func (m pgMigrator) exec(ctx context.Context, query string, args ...interface{}) error {
	_, err := m.pool.Exec(ctx, query, args...)
	return err
}

func (m pgMigrator) placeholder(n int) string { return fmt.Sprintf("$%d", n) }

// Knowledge operations

var pgKnowledgeColumns = []string{
	"id", "title", "body", "content_hash", "embedding", "keywords", "category", "subcategory",
	"success_rate", "usage_count", "last_used_at", "status", "stale", "duplicate", "created_at", "updated_at",
}

func toPgVector(v []float32) *pgvector.Vector {
	if len(v) == 0 {
		return nil
	}
	vec := pgvector.NewVector(v)
	return &vec
}

func (s *PostgresStorage) UpsertKnowledgeItem(ctx context.Context, item *types.KnowledgeItem) error {
	if item.Status == "" {
		item.Status = types.ItemActive
	}
	if err := item.Validate(); err != nil {
		return err
	}
	if item.ContentHash == ([32]byte{}) {
		item.ContentHash = item.ComputeContentHash()
	}
	now := time.Now().UTC()
	query, args, err := psql.Insert("knowledge_items").
		Columns("title", "body", "content_hash", "embedding", "keywords", "search_document",
			"category", "subcategory", "success_rate", "status", "created_at", "updated_at").
		Values(item.Title, item.Body, item.ContentHash[:], toPgVector(item.Embedding),
			strings.Join(item.Keywords, " "), textprep.SearchDocument(item),
			item.Category, item.Subcategory, item.SuccessRate, string(item.Status), now, now).
		Suffix(`ON CONFLICT (content_hash) DO UPDATE SET
			title = EXCLUDED.title,
			body = EXCLUDED.body,
			embedding = COALESCE(EXCLUDED.embedding, knowledge_items.embedding),
			keywords = EXCLUDED.keywords,
			search_document = EXCLUDED.search_document,
			category = EXCLUDED.category,
			subcategory = EXCLUDED.subcategory,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at
			RETURNING id`).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build upsert: %w", err)
	}
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&item.ID); err != nil {
		return fmt.Errorf("failed to upsert knowledge item: %w", err)
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	return nil
}

func scanPgKnowledgeItem(row pgx.Row) (*types.KnowledgeItem, error) {
	var item types.KnowledgeItem
	var hash []byte
	var embedding *pgvector.Vector
	var keywords, status string
	err := row.Scan(
		&item.ID, &item.Title, &item.Body, &hash, &embedding, &keywords, &item.Category,
		&item.Subcategory, &item.SuccessRate, &item.UsageCount, &item.LastUsedAt, &status,
		&item.Stale, &item.Duplicate, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	copy(item.ContentHash[:], hash)
	if embedding != nil {
		item.Embedding = embedding.Slice()
	}
	item.Keywords = strings.Fields(keywords)
	item.Status = types.ItemStatus(status)
	return &item, nil
}

func (s *PostgresStorage) getKnowledgeItem(ctx context.Context, where squirrel.Sqlizer) (*types.KnowledgeItem, error) {
	query, args, err := psql.Select(pgKnowledgeColumns...).From("knowledge_items").Where(where).ToSql()
	if err != nil {
		return nil, err
	}
	item, err := scanPgKnowledgeItem(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get knowledge item: %w", err)
	}
	return item, nil
}

func (s *PostgresStorage) GetKnowledgeItem(ctx context.Context, id int64) (*types.KnowledgeItem, error) {
	return s.getKnowledgeItem(ctx, squirrel.Eq{"id": id})
}

func (s *PostgresStorage) GetKnowledgeItemByHash(ctx context.Context, contentHash [32]byte) (*types.KnowledgeItem, error) {
	return s.getKnowledgeItem(ctx, squirrel.Eq{"content_hash": contentHash[:]})
}

func (s *PostgresStorage) queryKnowledgeItems(ctx context.Context, b squirrel.SelectBuilder) ([]*types.KnowledgeItem, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query knowledge items: %w", err)
	}
	defer rows.Close()

	var items []*types.KnowledgeItem
	for rows.Next() {
		item, err := scanPgKnowledgeItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStorage) GetKnowledgeItems(ctx context.Context, ids []int64) (map[int64]*types.KnowledgeItem, error) {
	out := make(map[int64]*types.KnowledgeItem, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	items, err := s.queryKnowledgeItems(ctx,
		psql.Select(pgKnowledgeColumns...).From("knowledge_items").Where(squirrel.Eq{"id": ids}))
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		out[item.ID] = item
	}
	return out, nil
}

func (s *PostgresStorage) ListKnowledgeItems(ctx context.Context, filter ItemFilter) ([]*types.KnowledgeItem, error) {
	b := psql.Select(pgKnowledgeColumns...).From("knowledge_items").OrderBy("id")
	if !filter.IncludeArchived {
		b = b.Where(squirrel.Eq{"status": string(types.ItemActive)})
	}
	if filter.Category != "" {
		b = b.Where(squirrel.Eq{"category": filter.Category})
	}
	if filter.WithEmbeddings {
		b = b.Where("embedding IS NOT NULL")
	}
	if filter.Limit > 0 {
		b = b.Limit(uint64(filter.Limit))
	}
	return s.queryKnowledgeItems(ctx, b)
}

func (s *PostgresStorage) execAffected(ctx context.Context, q pgQuerier, b squirrel.Sqlizer) error {
	query, args, err := b.ToSql()
	if err != nil {
		return err
	}
	tag, err := q.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStorage) ArchiveKnowledgeItem(ctx context.Context, id int64) error {
	err := s.execAffected(ctx, s.pool, psql.Update("knowledge_items").
		Set("status", string(types.ItemArchived)).
		Set("updated_at", time.Now().UTC()).
		Where(squirrel.Eq{"id": id}))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("failed to archive knowledge item: %w", err)
	}
	return err
}

func (s *PostgresStorage) RecordItemOutcome(ctx context.Context, id int64, success bool, at time.Time) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var rate float64
		var usage int
		err := tx.QueryRow(ctx,
			"SELECT success_rate, usage_count FROM knowledge_items WHERE id = $1 FOR UPDATE", id).Scan(&rate, &usage)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to read item outcome state: %w", err)
		}

		item := types.KnowledgeItem{SuccessRate: rate, UsageCount: usage}
		item.RecordOutcome(success, at)

		if _, err := tx.Exec(ctx,
			"INSERT INTO item_outcomes (item_id, success, created_at) VALUES ($1, $2, $3)",
			id, success, at.UTC()); err != nil {
			return fmt.Errorf("failed to insert outcome: %w", err)
		}
		_, err = tx.Exec(ctx,
			`UPDATE knowledge_items SET success_rate = $1, usage_count = $2, last_used_at = $3, stale = false, updated_at = $4
			 WHERE id = $5`,
			item.SuccessRate, item.UsageCount, at.UTC(), time.Now().UTC(), id)
		if err != nil {
			return fmt.Errorf("failed to update item outcome: %w", err)
		}
		return nil
	})
}

func (s *PostgresStorage) SetItemFlags(ctx context.Context, id int64, stale, duplicate bool) error {
	return s.execAffected(ctx, s.pool, psql.Update("knowledge_items").
		Set("stale", stale).
		Set("duplicate", duplicate).
		Set("updated_at", time.Now().UTC()).
		Where(squirrel.Eq{"id": id}))
}

func (s *PostgresStorage) RecomputeSuccessRates(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE knowledge_items k
		SET success_rate = o.rate, usage_count = o.uses
		FROM (
			SELECT item_id, AVG(CASE WHEN success THEN 1.0 ELSE 0.0 END) AS rate, COUNT(*) AS uses
			FROM item_outcomes GROUP BY item_id
		) o
		WHERE o.item_id = k.id
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to recompute success rates: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Search operations

func (s *PostgresStorage) SearchVector(ctx context.Context, vector []float32, limit int, filters *SearchFilters) ([]VectorResult, error) {
	if limit <= 0 {
		return []VectorResult{}, nil
	}
	vec := pgvector.NewVector(vector)
	b := psql.Select("id", "1 - (embedding <=> ?) AS similarity").
		From("knowledge_items").
		Where(squirrel.Eq{"status": string(types.ItemActive)}).
		Where("embedding IS NOT NULL").
		Where("vector_dims(embedding) = ?", len(vector))
	if filters != nil && filters.Category != "" {
		b = b.Where(squirrel.Eq{"category": filters.Category})
	}
	if filters != nil && filters.MinRelevance > 0 {
		b = b.Where("1 - (embedding <=> ?) >= ?", vec, filters.MinRelevance)
	}
	b = b.OrderBy("similarity DESC", "id").Limit(uint64(limit))

	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer rows.Close()

	results := make([]VectorResult, 0, limit)
	for rows.Next() {
		var r VectorResult
		if err := rows.Scan(&r.ItemID, &r.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *PostgresStorage) SearchKeyword(ctx context.Context, query string, limit int, filters *SearchFilters) ([]KeywordResult, error) {
	query = textprep.CollapseWhitespace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if limit <= 0 {
		return []KeywordResult{}, nil
	}
	minRelevance := 0.0
	if filters != nil {
		minRelevance = filters.MinRelevance
	}
	b := psql.Select("id", "word_similarity(?, search_document) AS similarity").
		From("knowledge_items").
		Where(squirrel.Eq{"status": string(types.ItemActive)}).
		Where("word_similarity(?, search_document) > ?", query, minRelevance)
	if filters != nil && filters.Category != "" {
		b = b.Where(squirrel.Eq{"category": filters.Category})
	}
	b = b.OrderBy("similarity DESC", "id").Limit(uint64(limit))

	sqlQuery, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute keyword search: %w", err)
	}
	defer rows.Close()

	var results []KeywordResult
	for rows.Next() {
		var r KeywordResult
		if err := rows.Scan(&r.ItemID, &r.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan keyword result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// Validated example operations

var pgExampleColumns = []string{
	"id", "request_id", "request_text", "response_text", "category", "embedding",
	"satisfaction", "status", "weight", "created_at", "updated_at",
}

func (s *PostgresStorage) SaveExample(ctx context.Context, example *types.ValidatedExample) error {
	if example.Status == "" {
		example.Status = types.ExamplePending
	}
	if example.Weight == 0 {
		example.Weight = types.DefaultExampleWeight
	}
	if err := example.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	query, args, err := psql.Insert("validated_examples").
		Columns("request_id", "request_text", "response_text", "category", "embedding",
			"satisfaction", "status", "weight", "created_at", "updated_at").
		Values(example.RequestID, example.RequestText, example.ResponseText, example.Category,
			toPgVector(example.Embedding), example.Satisfaction, string(example.Status),
			example.Weight, now, now).
		Suffix(`ON CONFLICT (request_id) DO UPDATE SET
			request_text = EXCLUDED.request_text,
			response_text = EXCLUDED.response_text,
			category = EXCLUDED.category,
			embedding = COALESCE(EXCLUDED.embedding, validated_examples.embedding),
			satisfaction = EXCLUDED.satisfaction,
			updated_at = EXCLUDED.updated_at
			RETURNING id, status, weight`).
		ToSql()
	if err != nil {
		return err
	}
	var status string
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&example.ID, &status, &example.Weight); err != nil {
		return fmt.Errorf("failed to save example: %w", err)
	}
	example.Status = types.ExampleStatus(status)
	if example.CreatedAt.IsZero() {
		example.CreatedAt = now
	}
	example.UpdatedAt = now
	return nil
}

func scanPgExample(row pgx.Row) (*types.ValidatedExample, error) {
	var ex types.ValidatedExample
	var embedding *pgvector.Vector
	var status string
	if err := row.Scan(&ex.ID, &ex.RequestID, &ex.RequestText, &ex.ResponseText, &ex.Category,
		&embedding, &ex.Satisfaction, &status, &ex.Weight, &ex.CreatedAt, &ex.UpdatedAt); err != nil {
		return nil, err
	}
	if embedding != nil {
		ex.Embedding = embedding.Slice()
	}
	ex.Status = types.ExampleStatus(status)
	return &ex, nil
}

func (s *PostgresStorage) getExample(ctx context.Context, where squirrel.Sqlizer) (*types.ValidatedExample, error) {
	query, args, err := psql.Select(pgExampleColumns...).From("validated_examples").Where(where).ToSql()
	if err != nil {
		return nil, err
	}
	ex, err := scanPgExample(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get example: %w", err)
	}
	return ex, nil
}

func (s *PostgresStorage) GetExample(ctx context.Context, id int64) (*types.ValidatedExample, error) {
	return s.getExample(ctx, squirrel.Eq{"id": id})
}

func (s *PostgresStorage) GetExampleByRequestID(ctx context.Context, requestID string) (*types.ValidatedExample, error) {
	return s.getExample(ctx, squirrel.Eq{"request_id": requestID})
}

func (s *PostgresStorage) UpdateExampleWeight(ctx context.Context, id int64, weight float64) error {
	if weight < types.MinExampleWeight || weight > types.MaxExampleWeight {
		return types.ErrInvalidWeight
	}
	return s.execAffected(ctx, s.pool, psql.Update("validated_examples").
		Set("weight", weight).
		Set("updated_at", time.Now().UTC()).
		Where(squirrel.Eq{"id": id}))
}

func (s *PostgresStorage) ListExamples(ctx context.Context, category string, limit int) ([]*types.ValidatedExample, error) {
	b := psql.Select(pgExampleColumns...).From("validated_examples").
		Where(squirrel.Eq{"status": string(types.ExampleValidated)}).
		OrderBy("weight DESC", "satisfaction DESC", "id DESC")
	if category != "" {
		b = b.Where(squirrel.Eq{"category": category})
	}
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list examples: %w", err)
	}
	defer rows.Close()

	var out []*types.ValidatedExample
	for rows.Next() {
		ex, err := scanPgExample(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ex)
	}
	return out, rows.Err()
}

// Learning counter operations

func (s *PostgresStorage) IncrementExampleCount(ctx context.Context, exampleID int64) (bool, error) {
	counted := false
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var category string
		var already bool
		err := tx.QueryRow(ctx,
			"SELECT category, counted FROM validated_examples WHERE id = $1 FOR UPDATE", exampleID).
			Scan(&category, &already)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to read example: %w", err)
		}
		if already {
			return nil
		}

		now := time.Now().UTC()
		if _, err := tx.Exec(ctx,
			"UPDATE validated_examples SET counted = true, status = $1, updated_at = $2 WHERE id = $3",
			string(types.ExampleValidated), now, exampleID); err != nil {
			return fmt.Errorf("failed to mark example counted: %w", err)
		}
		for _, key := range []string{TotalCounterKey, category} {
			if _, err := tx.Exec(ctx, `
				INSERT INTO learning_counters (counter_key, count, updated_at) VALUES ($1, 1, $2)
				ON CONFLICT (counter_key) DO UPDATE SET count = learning_counters.count + 1, updated_at = EXCLUDED.updated_at
			`, key, now); err != nil {
				return fmt.Errorf("failed to increment counter %s: %w", key, err)
			}
		}
		counted = true
		return nil
	})
	return counted, err
}

func (s *PostgresStorage) LoadCounters(ctx context.Context) (*Counters, error) {
	rows, err := s.pool.Query(ctx, "SELECT counter_key, count FROM learning_counters")
	if err != nil {
		return nil, fmt.Errorf("failed to load counters: %w", err)
	}
	defer rows.Close()

	c := &Counters{ByCategory: make(map[string]int)}
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, err
		}
		if key == TotalCounterKey {
			c.Total = n
		} else {
			c.ByCategory[key] = n
		}
	}
	return c, rows.Err()
}

// Audit operations

func (s *PostgresStorage) AppendDecision(ctx context.Context, d *types.RoutingDecision) error {
	if err := d.Validate(); err != nil {
		return err
	}
	query, args, err := psql.Insert("routing_decisions").
		Columns("request_id", "fused_similarity", "example_count", "category", "path", "confidence",
			"requires_human_review", "reason_code", "experimental", "category_floor", "category_threshold",
			"priority", "complexity", "human_review_requested", "decided_at").
		Values(d.RequestID, d.FusedSimilarity, d.ExampleCount, d.Category, string(d.Path), d.Confidence,
			d.RequiresHumanReview, d.ReasonCode, d.Experimental, d.CategoryFloor, d.CategoryThreshold,
			string(d.Priority), d.Complexity, d.HumanReviewRequested, d.DecidedAt.UTC()).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to append decision: %w", err)
	}
	return nil
}

func (s *PostgresStorage) ListDecisions(ctx context.Context, requestID string) ([]*types.RoutingDecision, error) {
	query, args, err := psql.Select("request_id", "fused_similarity", "example_count", "category", "path",
		"confidence", "requires_human_review", "reason_code", "experimental", "category_floor", "category_threshold",
		"priority", "complexity", "human_review_requested", "decided_at").
		From("routing_decisions").
		Where(squirrel.Eq{"request_id": requestID}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}
	defer rows.Close()

	var out []*types.RoutingDecision
	for rows.Next() {
		var d types.RoutingDecision
		var path, priority string
		if err := rows.Scan(&d.RequestID, &d.FusedSimilarity, &d.ExampleCount, &d.Category, &path,
			&d.Confidence, &d.RequiresHumanReview, &d.ReasonCode, &d.Experimental, &d.CategoryFloor,
			&d.CategoryThreshold, &priority, &d.Complexity, &d.HumanReviewRequested, &d.DecidedAt); err != nil {
			return nil, err
		}
		d.Path = types.Path(path)
		d.Priority = types.Priority(priority)
		out = append(out, &d)
	}
	return out, rows.Err()
}

// Retry queue operations

var pgOperationColumns = []string{
	"id", "kind", "payload", "error_context", "retry_count", "max_retries", "ttl_seconds",
	"next_retry_at", "status", "created_at", "updated_at",
}

func (s *PostgresStorage) EnqueueOperation(ctx context.Context, op *types.QueuedFailedOperation) error {
	query, args, err := psql.Insert("retry_queue").
		Columns(pgOperationColumns...).
		Values(op.ID, op.Kind, op.Payload, op.ErrorContext, op.RetryCount, op.MaxRetries,
			int64(op.TTL/time.Second), op.NextRetryAt.UTC(), string(op.Status),
			op.CreatedAt.UTC(), op.UpdatedAt.UTC()).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to enqueue operation: %w", err)
	}
	return nil
}

func (s *PostgresStorage) DueOperations(ctx context.Context, now time.Time, limit int) ([]*types.QueuedFailedOperation, error) {
	b := psql.Select(pgOperationColumns...).From("retry_queue").
		Where(squirrel.Eq{"status": string(types.OperationQueued)}).
		Where(squirrel.LtOrEq{"next_retry_at": now.UTC()}).
		OrderBy("next_retry_at", "created_at")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query retry queue: %w", err)
	}
	defer rows.Close()

	var out []*types.QueuedFailedOperation
	for rows.Next() {
		var op types.QueuedFailedOperation
		var ttl int64
		var status string
		if err := rows.Scan(&op.ID, &op.Kind, &op.Payload, &op.ErrorContext, &op.RetryCount,
			&op.MaxRetries, &ttl, &op.NextRetryAt, &status, &op.CreatedAt, &op.UpdatedAt); err != nil {
			return nil, err
		}
		op.TTL = time.Duration(ttl) * time.Second
		op.Status = types.OperationStatus(status)
		out = append(out, &op)
	}
	return out, rows.Err()
}

func (s *PostgresStorage) UpdateOperation(ctx context.Context, op *types.QueuedFailedOperation) error {
	op.UpdatedAt = time.Now().UTC()
	return s.execAffected(ctx, s.pool, psql.Update("retry_queue").
		Set("error_context", op.ErrorContext).
		Set("retry_count", op.RetryCount).
		Set("next_retry_at", op.NextRetryAt.UTC()).
		Set("status", string(op.Status)).
		Set("updated_at", op.UpdatedAt).
		Where(squirrel.Eq{"id": op.ID}))
}

func (s *PostgresStorage) DeleteOperation(ctx context.Context, id string) error {
	return s.execAffected(ctx, s.pool, psql.Delete("retry_queue").Where(squirrel.Eq{"id": id}))
}

func (s *PostgresStorage) CountOperations(ctx context.Context, status types.OperationStatus) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM retry_queue WHERE status = $1", string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count operations: %w", err)
	}
	return n, nil
}

// Status operations

func (s *PostgresStorage) GetStatus(ctx context.Context) (*Status, error) {
	st := &Status{Backend: "postgres"}
	if err := s.pool.Ping(ctx); err != nil {
		return st, nil
	}
	st.Health.DatabaseAccessible = true

	var withEmbeddings int
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM knowledge_items),
			(SELECT COUNT(*) FROM knowledge_items WHERE status = 'active'),
			(SELECT COUNT(*) FROM knowledge_items WHERE stale),
			(SELECT COUNT(*) FROM knowledge_items WHERE duplicate),
			(SELECT COUNT(*) FROM knowledge_items WHERE embedding IS NOT NULL),
			(SELECT COUNT(*) FROM validated_examples),
			(SELECT COUNT(*) FROM validated_examples WHERE counted),
			(SELECT COUNT(*) FROM routing_decisions),
			(SELECT COUNT(*) FROM retry_queue WHERE status = 'queued'),
			(SELECT COUNT(*) FROM retry_queue WHERE status = 'abandoned')
	`).Scan(&st.KnowledgeItems, &st.ActiveItems, &st.StaleItems, &st.DuplicateItems, &withEmbeddings,
		&st.Examples, &st.ValidatedExamples, &st.Decisions, &st.QueuedOperations, &st.AbandonedOps)
	if err != nil {
		return nil, fmt.Errorf("failed to collect status: %w", err)
	}
	st.Health.EmbeddingsAvailable = withEmbeddings > 0
	st.Health.KeywordIndexBuilt = true
	return st, nil
}
