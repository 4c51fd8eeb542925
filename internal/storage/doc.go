// Package storage provides persistence for knowledge items, validated
// examples, learning counters, the routing audit log and the retry queue.
// It is also the similarity index the hybrid retriever reads from.
//
// Two backends implement Storage:
//
//   - SQLiteStorage: embedded store for single-node deployments and tests
//   - PostgresStorage: pgx pool with pgvector and pg_trgm
//
// # Database Schema
//
// Tables:
//   - knowledge_items: curated answers with embeddings, keywords and usage stats
//   - knowledge_fts: FTS5 trigram index over title, keywords and body (SQLite)
//   - item_outcomes: per-use success log feeding success_rate recomputation
//   - validated_examples: human-approved request/response pairs
//   - learning_counters: total and per-category validated example counts
//   - routing_decisions: append-only audit log of routing outcomes
//   - retry_queue: operations parked after every provider failed
//   - schema_version: applied migration versions (semver)
//
// # Basic Usage
//
//	db, err := storage.NewSQLiteStorage("/var/lib/triage/triage.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	item := &types.KnowledgeItem{Title: "Pet policy", Body: "...", Category: "bylaws"}
//	if err := db.UpsertKnowledgeItem(ctx, item); err != nil {
//	    return err
//	}
//
// # Similarity Search
//
// SearchVector ranks active items by cosine similarity. With the sqlite_vec
// build tag the ranking runs inside SQLite; otherwise embeddings are scanned
// and scored in Go. SearchKeyword prefilters with the trigram FTS index and
// scores candidates by trigram word similarity, so both lists report a
// similarity in [0, 1] that routing can compare against thresholds.
//
// Postgres computes the same measures with `1 - (embedding <=> $1)` and
// `word_similarity($1, search_document)`.
//
// # Learning Counters
//
// IncrementExampleCount marks an example counted and bumps the total and
// category counters in a single transaction. A second call for the same
// example is a no-op that reports false, so counts never double.
//
// # Build Modes
//
//   - default (purego): modernc.org/sqlite, vector scoring in Go
//   - sqlite_vec: mattn/go-sqlite3 with sqlite-vec, vector scoring in SQL
//
// # Migrations
//
// Each backend has an ordered migration list. Versions are compared with
// semver and recorded in schema_version; ApplyMigrations only runs newer
// ones.
package storage
