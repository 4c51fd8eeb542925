package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/triage-mcp/pkg/types"
)

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// SQLite benefits from single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// withTx runs fn inside a transaction, committing on success
func (s *SQLiteStorage) withTx(ctx context.Context, fn func(q querier) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Knowledge operations

const knowledgeColumns = `id, title, body, content_hash, embedding, keywords, category, subcategory,
	success_rate, usage_count, last_used_at, status, stale, duplicate, created_at, updated_at`

// UpsertKnowledgeItem inserts an item or updates the row sharing its content hash
func (s *SQLiteStorage) UpsertKnowledgeItem(ctx context.Context, item *types.KnowledgeItem) error {
	if item.Status == "" {
		item.Status = types.ItemActive
	}
	if err := item.Validate(); err != nil {
		return err
	}
	if item.ContentHash == ([32]byte{}) {
		item.ContentHash = item.ComputeContentHash()
	}

	var embedding []byte
	if len(item.Embedding) > 0 {
		embedding = serializeVector(item.Embedding)
	}

	query := `
		INSERT INTO knowledge_items (title, body, content_hash, embedding, embedding_dim, keywords,
			category, subcategory, success_rate, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(content_hash) DO UPDATE SET
			title = excluded.title,
			body = excluded.body,
			embedding = COALESCE(excluded.embedding, knowledge_items.embedding),
			embedding_dim = CASE WHEN excluded.embedding IS NULL THEN knowledge_items.embedding_dim ELSE excluded.embedding_dim END,
			keywords = excluded.keywords,
			category = excluded.category,
			subcategory = excluded.subcategory,
			status = excluded.status,
			updated_at = excluded.updated_at
		RETURNING id
	`
	now := time.Now().UTC()
	err := s.db.QueryRowContext(ctx, query,
		item.Title, item.Body, item.ContentHash[:], embedding, len(item.Embedding),
		strings.Join(item.Keywords, " "), item.Category, item.Subcategory, item.SuccessRate,
		string(item.Status), now, now,
	).Scan(&item.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert knowledge item: %w", err)
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	return nil
}

func scanKnowledgeItem(row rowScanner) (*types.KnowledgeItem, error) {
	var item types.KnowledgeItem
	var hash, embedding []byte
	var keywords, status string
	var lastUsed sql.NullTime
	err := row.Scan(
		&item.ID, &item.Title, &item.Body, &hash, &embedding, &keywords, &item.Category,
		&item.Subcategory, &item.SuccessRate, &item.UsageCount, &lastUsed, &status,
		&item.Stale, &item.Duplicate, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	copy(item.ContentHash[:], hash)
	if len(embedding) > 0 {
		item.Embedding = deserializeVector(embedding)
	}
	item.Keywords = strings.Fields(keywords)
	item.Status = types.ItemStatus(status)
	if lastUsed.Valid {
		t := lastUsed.Time
		item.LastUsedAt = &t
	}
	return &item, nil
}

func (s *SQLiteStorage) getKnowledgeItemWhere(ctx context.Context, where string, arg interface{}) (*types.KnowledgeItem, error) {
	query := "SELECT " + knowledgeColumns + " FROM knowledge_items WHERE " + where
	item, err := scanKnowledgeItem(s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get knowledge item: %w", err)
	}
	return item, nil
}

func (s *SQLiteStorage) GetKnowledgeItem(ctx context.Context, id int64) (*types.KnowledgeItem, error) {
	return s.getKnowledgeItemWhere(ctx, "id = ?", id)
}

func (s *SQLiteStorage) GetKnowledgeItemByHash(ctx context.Context, contentHash [32]byte) (*types.KnowledgeItem, error) {
	return s.getKnowledgeItemWhere(ctx, "content_hash = ?", contentHash[:])
}

// GetKnowledgeItems loads several items at once; missing ids are omitted
func (s *SQLiteStorage) GetKnowledgeItems(ctx context.Context, ids []int64) (map[int64]*types.KnowledgeItem, error) {
	out := make(map[int64]*types.KnowledgeItem, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := "SELECT " + knowledgeColumns + " FROM knowledge_items WHERE id IN (" + strings.Join(placeholders, ",") + ")"
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load knowledge items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		item, err := scanKnowledgeItem(rows)
		if err != nil {
			return nil, err
		}
		out[item.ID] = item
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) ListKnowledgeItems(ctx context.Context, filter ItemFilter) ([]*types.KnowledgeItem, error) {
	query := "SELECT " + knowledgeColumns + " FROM knowledge_items WHERE 1=1"
	var args []interface{}
	if !filter.IncludeArchived {
		query += " AND status = ?"
		args = append(args, string(types.ItemActive))
	}
	if filter.Category != "" {
		query += " AND category = ?"
		args = append(args, filter.Category)
	}
	if filter.WithEmbeddings {
		query += " AND embedding IS NOT NULL"
	}
	query += " ORDER BY id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list knowledge items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []*types.KnowledgeItem
	for rows.Next() {
		item, err := scanKnowledgeItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ArchiveKnowledgeItem retires an item; items are never hard-deleted
func (s *SQLiteStorage) ArchiveKnowledgeItem(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE knowledge_items SET status = ?, updated_at = ? WHERE id = ?",
		string(types.ItemArchived), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to archive knowledge item: %w", err)
	}
	return requireAffected(res)
}

// RecordItemOutcome logs an outcome and folds it into the running success rate
func (s *SQLiteStorage) RecordItemOutcome(ctx context.Context, id int64, success bool, at time.Time) error {
	return s.withTx(ctx, func(q querier) error {
		var rate float64
		var usage int
		err := q.QueryRowContext(ctx,
			"SELECT success_rate, usage_count FROM knowledge_items WHERE id = ?", id).Scan(&rate, &usage)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to read item outcome state: %w", err)
		}

		item := types.KnowledgeItem{SuccessRate: rate, UsageCount: usage}
		item.RecordOutcome(success, at)

		if _, err := q.ExecContext(ctx,
			"INSERT INTO item_outcomes (item_id, success, created_at) VALUES (?, ?, ?)",
			id, success, at.UTC()); err != nil {
			return fmt.Errorf("failed to insert outcome: %w", err)
		}
		_, err = q.ExecContext(ctx,
			`UPDATE knowledge_items SET success_rate = ?, usage_count = ?, last_used_at = ?, stale = 0, updated_at = ?
			 WHERE id = ?`,
			item.SuccessRate, item.UsageCount, at.UTC(), time.Now().UTC(), id)
		if err != nil {
			return fmt.Errorf("failed to update item outcome: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStorage) SetItemFlags(ctx context.Context, id int64, stale, duplicate bool) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE knowledge_items SET stale = ?, duplicate = ?, updated_at = ? WHERE id = ?",
		stale, duplicate, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set item flags: %w", err)
	}
	return requireAffected(res)
}

// RecomputeSuccessRates rebuilds success_rate from the outcome log and
// returns the number of items updated.
func (s *SQLiteStorage) RecomputeSuccessRates(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE knowledge_items
		SET success_rate = (
			SELECT AVG(CASE WHEN o.success THEN 1.0 ELSE 0.0 END)
			FROM item_outcomes o WHERE o.item_id = knowledge_items.id
		),
		usage_count = (SELECT COUNT(*) FROM item_outcomes o WHERE o.item_id = knowledge_items.id)
		WHERE EXISTS (SELECT 1 FROM item_outcomes o WHERE o.item_id = knowledge_items.id)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to recompute success rates: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Search operations

func (s *SQLiteStorage) SearchVector(ctx context.Context, vector []float32, limit int, filters *SearchFilters) ([]VectorResult, error) {
	return searchVector(ctx, s.db, vector, limit, filters)
}

func (s *SQLiteStorage) SearchKeyword(ctx context.Context, query string, limit int, filters *SearchFilters) ([]KeywordResult, error) {
	return searchKeyword(ctx, s.db, query, limit, filters)
}

// Validated example operations

const exampleColumns = `id, request_id, request_text, response_text, category, embedding,
	satisfaction, status, weight, created_at, updated_at`

// SaveExample inserts an example or updates the one recorded for the same request
func (s *SQLiteStorage) SaveExample(ctx context.Context, example *types.ValidatedExample) error {
	if example.Status == "" {
		example.Status = types.ExamplePending
	}
	if example.Weight == 0 {
		example.Weight = types.DefaultExampleWeight
	}
	if err := example.Validate(); err != nil {
		return err
	}
	var embedding []byte
	if len(example.Embedding) > 0 {
		embedding = serializeVector(example.Embedding)
	}
	now := time.Now().UTC()
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO validated_examples (request_id, request_text, response_text, category, embedding,
			satisfaction, status, weight, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(request_id) DO UPDATE SET
			request_text = excluded.request_text,
			response_text = excluded.response_text,
			category = excluded.category,
			embedding = COALESCE(excluded.embedding, validated_examples.embedding),
			satisfaction = excluded.satisfaction,
			updated_at = excluded.updated_at
		RETURNING id, status, weight
	`, example.RequestID, example.RequestText, example.ResponseText, example.Category, embedding,
		example.Satisfaction, string(example.Status), example.Weight, now, now,
	).Scan(&example.ID, (*string)(&example.Status), &example.Weight)
	if err != nil {
		return fmt.Errorf("failed to save example: %w", err)
	}
	if example.CreatedAt.IsZero() {
		example.CreatedAt = now
	}
	example.UpdatedAt = now
	return nil
}

func scanExample(row rowScanner) (*types.ValidatedExample, error) {
	var ex types.ValidatedExample
	var embedding []byte
	var status string
	err := row.Scan(&ex.ID, &ex.RequestID, &ex.RequestText, &ex.ResponseText, &ex.Category,
		&embedding, &ex.Satisfaction, &status, &ex.Weight, &ex.CreatedAt, &ex.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(embedding) > 0 {
		ex.Embedding = deserializeVector(embedding)
	}
	ex.Status = types.ExampleStatus(status)
	return &ex, nil
}

func (s *SQLiteStorage) getExampleWhere(ctx context.Context, where string, arg interface{}) (*types.ValidatedExample, error) {
	ex, err := scanExample(s.db.QueryRowContext(ctx,
		"SELECT "+exampleColumns+" FROM validated_examples WHERE "+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get example: %w", err)
	}
	return ex, nil
}

func (s *SQLiteStorage) GetExample(ctx context.Context, id int64) (*types.ValidatedExample, error) {
	return s.getExampleWhere(ctx, "id = ?", id)
}

func (s *SQLiteStorage) GetExampleByRequestID(ctx context.Context, requestID string) (*types.ValidatedExample, error) {
	return s.getExampleWhere(ctx, "request_id = ?", requestID)
}

func (s *SQLiteStorage) UpdateExampleWeight(ctx context.Context, id int64, weight float64) error {
	if weight < types.MinExampleWeight || weight > types.MaxExampleWeight {
		return types.ErrInvalidWeight
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE validated_examples SET weight = ?, updated_at = ? WHERE id = ?",
		weight, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update example weight: %w", err)
	}
	return requireAffected(res)
}

// ListExamples returns validated examples for a category, heaviest first
func (s *SQLiteStorage) ListExamples(ctx context.Context, category string, limit int) ([]*types.ValidatedExample, error) {
	query := "SELECT " + exampleColumns + " FROM validated_examples WHERE status = ?"
	args := []interface{}{string(types.ExampleValidated)}
	if category != "" {
		query += " AND category = ?"
		args = append(args, category)
	}
	query += " ORDER BY weight DESC, satisfaction DESC, id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list examples: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.ValidatedExample
	for rows.Next() {
		ex, err := scanExample(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ex)
	}
	return out, rows.Err()
}

// Learning counter operations

// IncrementExampleCount marks an example validated and bumps the total and
// category counters in one transaction. It reports false when the example
// had already been counted.
func (s *SQLiteStorage) IncrementExampleCount(ctx context.Context, exampleID int64) (bool, error) {
	counted := false
	err := s.withTx(ctx, func(q querier) error {
		var category string
		var already bool
		err := q.QueryRowContext(ctx,
			"SELECT category, counted FROM validated_examples WHERE id = ?", exampleID).Scan(&category, &already)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to read example: %w", err)
		}
		if already {
			return nil
		}

		now := time.Now().UTC()
		if _, err := q.ExecContext(ctx,
			"UPDATE validated_examples SET counted = 1, status = ?, updated_at = ? WHERE id = ? AND counted = 0",
			string(types.ExampleValidated), now, exampleID); err != nil {
			return fmt.Errorf("failed to mark example counted: %w", err)
		}
		for _, key := range []string{TotalCounterKey, category} {
			if _, err := q.ExecContext(ctx, `
				INSERT INTO learning_counters (counter_key, count, updated_at) VALUES (?, 1, ?)
				ON CONFLICT(counter_key) DO UPDATE SET count = count + 1, updated_at = excluded.updated_at
			`, key, now); err != nil {
				return fmt.Errorf("failed to increment counter %s: %w", key, err)
			}
		}
		counted = true
		return nil
	})
	return counted, err
}

func (s *SQLiteStorage) LoadCounters(ctx context.Context) (*Counters, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT counter_key, count FROM learning_counters")
	if err != nil {
		return nil, fmt.Errorf("failed to load counters: %w", err)
	}
	defer func() { _ = rows.Close() }()

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

func (s *SQLiteStorage) AppendDecision(ctx context.Context, d *types.RoutingDecision) error {
	if err := d.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO routing_decisions (request_id, fused_similarity, example_count, category, path,
			confidence, requires_human_review, reason_code, experimental, category_floor, category_threshold,
			priority, complexity, human_review_requested, decided_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, d.RequestID, d.FusedSimilarity, d.ExampleCount, d.Category, string(d.Path), d.Confidence,
		d.RequiresHumanReview, d.ReasonCode, d.Experimental, d.CategoryFloor, d.CategoryThreshold,
		string(d.Priority), d.Complexity, d.HumanReviewRequested, d.DecidedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to append decision: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) ListDecisions(ctx context.Context, requestID string) ([]*types.RoutingDecision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT request_id, fused_similarity, example_count, category, path, confidence,
			requires_human_review, reason_code, experimental, category_floor, category_threshold,
			priority, complexity, human_review_requested, decided_at
		FROM routing_decisions WHERE request_id = ? ORDER BY id
	`, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

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

const operationColumns = `id, kind, payload, error_context, retry_count, max_retries, ttl_seconds,
	next_retry_at, status, created_at, updated_at`

func (s *SQLiteStorage) EnqueueOperation(ctx context.Context, op *types.QueuedFailedOperation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO retry_queue (`+operationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, op.ID, op.Kind, op.Payload, op.ErrorContext, op.RetryCount, op.MaxRetries,
		int64(op.TTL/time.Second), op.NextRetryAt.UTC(), string(op.Status),
		op.CreatedAt.UTC(), op.UpdatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to enqueue operation: %w", err)
	}
	return nil
}

func scanOperation(row rowScanner) (*types.QueuedFailedOperation, error) {
	var op types.QueuedFailedOperation
	var ttl int64
	var status string
	if err := row.Scan(&op.ID, &op.Kind, &op.Payload, &op.ErrorContext, &op.RetryCount,
		&op.MaxRetries, &ttl, &op.NextRetryAt, &status, &op.CreatedAt, &op.UpdatedAt); err != nil {
		return nil, err
	}
	op.TTL = time.Duration(ttl) * time.Second
	op.Status = types.OperationStatus(status)
	return &op, nil
}

// DueOperations returns queued operations whose next retry time has passed,
// earliest first.
func (s *SQLiteStorage) DueOperations(ctx context.Context, now time.Time, limit int) ([]*types.QueuedFailedOperation, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+operationColumns+" FROM retry_queue WHERE status = ? ORDER BY next_retry_at, created_at",
		string(types.OperationQueued))
	if err != nil {
		return nil, fmt.Errorf("failed to query retry queue: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.QueuedFailedOperation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		if op.NextRetryAt.After(now) {
			continue
		}
		out = append(out, op)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) UpdateOperation(ctx context.Context, op *types.QueuedFailedOperation) error {
	op.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE retry_queue SET error_context = ?, retry_count = ?, next_retry_at = ?, status = ?, updated_at = ?
		WHERE id = ?
	`, op.ErrorContext, op.RetryCount, op.NextRetryAt.UTC(), string(op.Status), op.UpdatedAt, op.ID)
	if err != nil {
		return fmt.Errorf("failed to update operation: %w", err)
	}
	return requireAffected(res)
}

func (s *SQLiteStorage) DeleteOperation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM retry_queue WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete operation: %w", err)
	}
	return requireAffected(res)
}

func (s *SQLiteStorage) CountOperations(ctx context.Context, status types.OperationStatus) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM retry_queue WHERE status = ?", string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count operations: %w", err)
	}
	return n, nil
}

// Status operations

func (s *SQLiteStorage) GetStatus(ctx context.Context) (*Status, error) {
	st := &Status{Backend: "sqlite/" + BuildMode}
	if err := s.db.PingContext(ctx); err != nil {
		return st, nil
	}
	st.Health.DatabaseAccessible = true

	counts := []struct {
		dest  *int
		query string
	}{
		{&st.KnowledgeItems, "SELECT COUNT(*) FROM knowledge_items"},
		{&st.ActiveItems, "SELECT COUNT(*) FROM knowledge_items WHERE status = 'active'"},
		{&st.StaleItems, "SELECT COUNT(*) FROM knowledge_items WHERE stale = 1"},
		{&st.DuplicateItems, "SELECT COUNT(*) FROM knowledge_items WHERE duplicate = 1"},
		{&st.Examples, "SELECT COUNT(*) FROM validated_examples"},
		{&st.ValidatedExamples, "SELECT COUNT(*) FROM validated_examples WHERE counted = 1"},
		{&st.Decisions, "SELECT COUNT(*) FROM routing_decisions"},
		{&st.QueuedOperations, "SELECT COUNT(*) FROM retry_queue WHERE status = 'queued'"},
		{&st.AbandonedOps, "SELECT COUNT(*) FROM retry_queue WHERE status = 'abandoned'"},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("failed to collect status: %w", err)
		}
	}

	var withEmbeddings int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM knowledge_items WHERE embedding IS NOT NULL").Scan(&withEmbeddings); err != nil {
		return nil, fmt.Errorf("failed to collect status: %w", err)
	}
	st.Health.EmbeddingsAvailable = withEmbeddings > 0

	var ftsRows int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM knowledge_fts").Scan(&ftsRows); err == nil {
		st.Health.KeywordIndexBuilt = ftsRows == st.KnowledgeItems
	}
	return st, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "constraint failed: unique")
}
