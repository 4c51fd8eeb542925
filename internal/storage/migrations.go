package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

const (
	// CurrentSchemaVersion tracks the database schema version
	CurrentSchemaVersion = "1.2.0"
)

// Migration represents a database schema migration
type Migration struct {
	Version string
	Up      string
	Down    string
}

// SQLiteMigrations contains the embedded store migrations in order
var SQLiteMigrations = []Migration{
	{Version: "1.0.0", Up: sqliteV1Up, Down: sqliteV1Down},
	{Version: "1.1.0", Up: sqliteV11Up, Down: sqliteV11Down},
	{Version: "1.2.0", Up: sqliteV12Up, Down: sqliteV12Down},
}

// PostgresMigrations contains the Postgres store migrations in order
var PostgresMigrations = []Migration{
	{Version: "1.0.0", Up: postgresV1Up, Down: postgresV1Down},
	{Version: "1.1.0", Up: postgresV11Up, Down: postgresV11Down},
	{Version: "1.2.0", Up: postgresV12Up, Down: postgresV12Down},
}

const sqliteV1Up = `
CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS knowledge_items (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    title TEXT NOT NULL,
    body TEXT NOT NULL,
    content_hash BLOB NOT NULL UNIQUE,
    embedding BLOB,
    embedding_dim INTEGER DEFAULT 0,
    keywords TEXT DEFAULT '',
    category TEXT NOT NULL,
    subcategory TEXT DEFAULT '',
    success_rate REAL DEFAULT 0,
    usage_count INTEGER DEFAULT 0,
    last_used_at TIMESTAMP,
    status TEXT NOT NULL DEFAULT 'active',
    stale BOOLEAN DEFAULT 0,
    duplicate BOOLEAN DEFAULT 0,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_knowledge_category ON knowledge_items(category, status);

-- Trigram keyword index over title, keywords and body
CREATE VIRTUAL TABLE IF NOT EXISTS knowledge_fts USING fts5(
    title, keywords, body,
    content='knowledge_items',
    content_rowid='id',
    tokenize='trigram'
);

CREATE TRIGGER IF NOT EXISTS knowledge_ai AFTER INSERT ON knowledge_items BEGIN
    INSERT INTO knowledge_fts(rowid, title, keywords, body)
    VALUES (new.id, new.title, new.keywords, new.body);
END;

CREATE TRIGGER IF NOT EXISTS knowledge_ad AFTER DELETE ON knowledge_items BEGIN
    INSERT INTO knowledge_fts(knowledge_fts, rowid, title, keywords, body)
    VALUES ('delete', old.id, old.title, old.keywords, old.body);
END;

CREATE TRIGGER IF NOT EXISTS knowledge_au AFTER UPDATE OF title, keywords, body ON knowledge_items BEGIN
    INSERT INTO knowledge_fts(knowledge_fts, rowid, title, keywords, body)
    VALUES ('delete', old.id, old.title, old.keywords, old.body);
    INSERT INTO knowledge_fts(rowid, title, keywords, body)
    VALUES (new.id, new.title, new.keywords, new.body);
END;

CREATE TABLE IF NOT EXISTS item_outcomes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    item_id INTEGER NOT NULL,
    success BOOLEAN NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (item_id) REFERENCES knowledge_items(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_outcomes_item ON item_outcomes(item_id);

CREATE TABLE IF NOT EXISTS validated_examples (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    request_id TEXT NOT NULL UNIQUE,
    request_text TEXT NOT NULL,
    response_text TEXT NOT NULL,
    category TEXT NOT NULL,
    embedding BLOB,
    satisfaction REAL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'pending',
    weight REAL NOT NULL DEFAULT 1.0,
    counted BOOLEAN NOT NULL DEFAULT 0,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_examples_category ON validated_examples(category, status);

CREATE TABLE IF NOT EXISTS learning_counters (
    counter_key TEXT PRIMARY KEY,
    count INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS routing_decisions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    request_id TEXT NOT NULL,
    fused_similarity REAL NOT NULL,
    example_count INTEGER NOT NULL,
    category TEXT DEFAULT '',
    path TEXT NOT NULL,
    confidence REAL NOT NULL,
    requires_human_review BOOLEAN NOT NULL,
    reason_code TEXT NOT NULL,
    experimental BOOLEAN DEFAULT 0,
    category_floor REAL DEFAULT 0,
    category_threshold REAL DEFAULT 0,
    decided_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_decisions_request ON routing_decisions(request_id);

CREATE TRIGGER IF NOT EXISTS routing_decisions_no_update BEFORE UPDATE ON routing_decisions BEGIN
    SELECT RAISE(ABORT, 'routing_decisions is append-only');
END;

CREATE TRIGGER IF NOT EXISTS routing_decisions_no_delete BEFORE DELETE ON routing_decisions BEGIN
    SELECT RAISE(ABORT, 'routing_decisions is append-only');
END;
`

const sqliteV1Down = `
DROP TRIGGER IF EXISTS routing_decisions_no_delete;
DROP TRIGGER IF EXISTS routing_decisions_no_update;
DROP TABLE IF EXISTS routing_decisions;
DROP TABLE IF EXISTS learning_counters;
DROP TABLE IF EXISTS validated_examples;
DROP TABLE IF EXISTS item_outcomes;
DROP TRIGGER IF EXISTS knowledge_au;
DROP TRIGGER IF EXISTS knowledge_ad;
DROP TRIGGER IF EXISTS knowledge_ai;
DROP TABLE IF EXISTS knowledge_fts;
DROP TABLE IF EXISTS knowledge_items;
DROP TABLE IF EXISTS schema_version;
`

const sqliteV11Up = `
CREATE TABLE IF NOT EXISTS retry_queue (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    payload BLOB NOT NULL,
    error_context TEXT DEFAULT '',
    retry_count INTEGER NOT NULL DEFAULT 0,
    max_retries INTEGER NOT NULL DEFAULT 5,
    ttl_seconds INTEGER NOT NULL DEFAULT 604800,
    next_retry_at TIMESTAMP NOT NULL,
    status TEXT NOT NULL DEFAULT 'queued',
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_retry_due ON retry_queue(status, next_retry_at);
`

const sqliteV11Down = `
DROP TABLE IF EXISTS retry_queue;
`

// Request attributes on decisions let replies re-route under the same
// escalation inputs as the original request
const sqliteV12Up = `
ALTER TABLE routing_decisions ADD COLUMN priority TEXT NOT NULL DEFAULT '';
ALTER TABLE routing_decisions ADD COLUMN complexity INTEGER NOT NULL DEFAULT 0;
ALTER TABLE routing_decisions ADD COLUMN human_review_requested BOOLEAN NOT NULL DEFAULT 0;
`

const sqliteV12Down = `
ALTER TABLE routing_decisions DROP COLUMN human_review_requested;
ALTER TABLE routing_decisions DROP COLUMN complexity;
ALTER TABLE routing_decisions DROP COLUMN priority;
`

const postgresV1Up = `
CREATE EXTENSION IF NOT EXISTS vector;
CREATE EXTENSION IF NOT EXISTS pg_trgm;

CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMPTZ DEFAULT now()
);

CREATE TABLE IF NOT EXISTS knowledge_items (
    id BIGSERIAL PRIMARY KEY,
    title TEXT NOT NULL,
    body TEXT NOT NULL,
    content_hash BYTEA NOT NULL UNIQUE,
    embedding vector,
    keywords TEXT NOT NULL DEFAULT '',
    search_document TEXT NOT NULL DEFAULT '',
    category TEXT NOT NULL,
    subcategory TEXT NOT NULL DEFAULT '',
    success_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
    usage_count INTEGER NOT NULL DEFAULT 0,
    last_used_at TIMESTAMPTZ,
    status TEXT NOT NULL DEFAULT 'active',
    stale BOOLEAN NOT NULL DEFAULT false,
    duplicate BOOLEAN NOT NULL DEFAULT false,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_knowledge_category ON knowledge_items(category, status);
CREATE INDEX IF NOT EXISTS idx_knowledge_trgm ON knowledge_items USING gin (search_document gin_trgm_ops);

CREATE TABLE IF NOT EXISTS item_outcomes (
    id BIGSERIAL PRIMARY KEY,
    item_id BIGINT NOT NULL REFERENCES knowledge_items(id) ON DELETE CASCADE,
    success BOOLEAN NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS validated_examples (
    id BIGSERIAL PRIMARY KEY,
    request_id TEXT NOT NULL UNIQUE,
    request_text TEXT NOT NULL,
    response_text TEXT NOT NULL,
    category TEXT NOT NULL,
    embedding vector,
    satisfaction DOUBLE PRECISION NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'pending',
    weight DOUBLE PRECISION NOT NULL DEFAULT 1.0,
    counted BOOLEAN NOT NULL DEFAULT false,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS learning_counters (
    counter_key TEXT PRIMARY KEY,
    count INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS routing_decisions (
    id BIGSERIAL PRIMARY KEY,
    request_id TEXT NOT NULL,
    fused_similarity DOUBLE PRECISION NOT NULL,
    example_count INTEGER NOT NULL,
    category TEXT NOT NULL DEFAULT '',
    path TEXT NOT NULL,
    confidence DOUBLE PRECISION NOT NULL,
    requires_human_review BOOLEAN NOT NULL,
    reason_code TEXT NOT NULL,
    experimental BOOLEAN NOT NULL DEFAULT false,
    category_floor DOUBLE PRECISION NOT NULL DEFAULT 0,
    category_threshold DOUBLE PRECISION NOT NULL DEFAULT 0,
    decided_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_decisions_request ON routing_decisions(request_id);
`

const postgresV1Down = `
DROP TABLE IF EXISTS routing_decisions;
DROP TABLE IF EXISTS learning_counters;
DROP TABLE IF EXISTS validated_examples;
DROP TABLE IF EXISTS item_outcomes;
DROP TABLE IF EXISTS knowledge_items;
DROP TABLE IF EXISTS schema_version;
`

const postgresV11Up = `
CREATE TABLE IF NOT EXISTS retry_queue (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    payload BYTEA NOT NULL,
    error_context TEXT NOT NULL DEFAULT '',
    retry_count INTEGER NOT NULL DEFAULT 0,
    max_retries INTEGER NOT NULL DEFAULT 5,
    ttl_seconds BIGINT NOT NULL DEFAULT 604800,
    next_retry_at TIMESTAMPTZ NOT NULL,
    status TEXT NOT NULL DEFAULT 'queued',
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_retry_due ON retry_queue(status, next_retry_at);
`

const postgresV11Down = `
DROP TABLE IF EXISTS retry_queue;
`

const postgresV12Up = `
ALTER TABLE routing_decisions ADD COLUMN IF NOT EXISTS priority TEXT NOT NULL DEFAULT '';
ALTER TABLE routing_decisions ADD COLUMN IF NOT EXISTS complexity INTEGER NOT NULL DEFAULT 0;
ALTER TABLE routing_decisions ADD COLUMN IF NOT EXISTS human_review_requested BOOLEAN NOT NULL DEFAULT false;
`

const postgresV12Down = `
ALTER TABLE routing_decisions DROP COLUMN IF EXISTS human_review_requested;
ALTER TABLE routing_decisions DROP COLUMN IF EXISTS complexity;
ALTER TABLE routing_decisions DROP COLUMN IF EXISTS priority;
`

// migrationTarget abstracts the driver-specific parts of applying migrations
type migrationTarget interface {
	// currentVersion returns "" when nothing has been applied
	currentVersion(ctx context.Context) (string, error)
	exec(ctx context.Context, query string, args ...interface{}) error
	placeholder(n int) string
}

// runMigrations applies every migration newer than the recorded version
func runMigrations(ctx context.Context, t migrationTarget, migrations []Migration) error {
	currentStr, err := t.currentVersion(ctx)
	if err != nil {
		return err
	}
	current := semver.MustParse("0.0.0")
	if currentStr != "" {
		current, err = semver.NewVersion(currentStr)
		if err != nil {
			return fmt.Errorf("invalid current schema version %s: %w", currentStr, err)
		}
	}

	for _, migration := range migrations {
		version, err := semver.NewVersion(migration.Version)
		if err != nil {
			return fmt.Errorf("invalid migration version %s: %w", migration.Version, err)
		}
		if !current.LessThan(version) {
			continue
		}
		if err := t.exec(ctx, migration.Up); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}
		if err := t.exec(ctx, "INSERT INTO schema_version (version) VALUES ("+t.placeholder(1)+")", migration.Version); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", migration.Version, err)
		}
		current = version
	}
	return nil
}

// rollbackMigration reverts the most recently applied migration
func rollbackMigration(ctx context.Context, t migrationTarget, migrations []Migration) error {
	currentStr, err := t.currentVersion(ctx)
	if err != nil {
		return err
	}
	if currentStr == "" {
		return errors.New("no migrations to rollback")
	}

	var migration *Migration
	for i := range migrations {
		if migrations[i].Version == currentStr {
			migration = &migrations[i]
			break
		}
	}
	if migration == nil {
		return fmt.Errorf("migration %s not found", currentStr)
	}

	if err := t.exec(ctx, migration.Down); err != nil {
		return fmt.Errorf("failed to rollback migration %s: %w", currentStr, err)
	}
	// The first migration drops schema_version itself
	if migration.Version == migrations[0].Version {
		return nil
	}
	if err := t.exec(ctx, "DELETE FROM schema_version WHERE version = "+t.placeholder(1), currentStr); err != nil {
		return fmt.Errorf("failed to remove migration record %s: %w", currentStr, err)
	}
	return nil
}

// sqliteMigrator applies migrations through database/sql
type sqliteMigrator struct {
	db *sql.DB
}

func (m sqliteMigrator) currentVersion(ctx context.Context) (string, error) {
	var name string
	err := m.db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to check schema_version table: %w", err)
	}
	return highestVersion(ctx, m.db)
}

func (m sqliteMigrator) exec(ctx context.Context, query string, args ...interface{}) error {
	_, err := m.db.ExecContext(ctx, query, args...)
	return err
}

func (m sqliteMigrator) placeholder(int) string { return "?" }

// highestVersion picks the greatest recorded version by semver order
func highestVersion(ctx context.Context, db *sql.DB) (string, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_version")
	if err != nil {
		return "", fmt.Errorf("failed to read schema_version: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return "", err
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	return maxVersion(versions)
}

func maxVersion(versions []string) (string, error) {
	var best *semver.Version
	bestStr := ""
	for _, v := range versions {
		parsed, err := semver.NewVersion(v)
		if err != nil {
			return "", fmt.Errorf("invalid schema version %s: %w", v, err)
		}
		if best == nil || parsed.GreaterThan(best) {
			best = parsed
			bestStr = v
		}
	}
	return bestStr, nil
}

// ApplyMigrations runs all pending SQLite migrations
func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	return runMigrations(ctx, sqliteMigrator{db: db}, SQLiteMigrations)
}

// RollbackMigration rolls back the most recent SQLite migration
func RollbackMigration(ctx context.Context, db *sql.DB) error {
	return rollbackMigration(ctx, sqliteMigrator{db: db}, SQLiteMigrations)
}

// SchemaVersion returns the applied SQLite schema version
func SchemaVersion(ctx context.Context, db *sql.DB) (string, error) {
	return sqliteMigrator{db: db}.currentVersion(ctx)
}
