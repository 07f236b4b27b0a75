// Package sqlite provides a SQLite-backed implementation of
// [github.com/thoughtmemory/tms/pkg/memory.ThoughtStore]: a durable relational
// substrate for thoughts and session lineage, paired with an embedded
// [github.com/thoughtmemory/tms/pkg/memory/vectorindex.Backend] for semantic
// search.
//
// Unlike the teacher's client-server Postgres/pgvector layer, everything here
// runs in-process: the database is opened via modernc.org/sqlite (pure Go,
// no cgo), and vector search and hybrid ranking are computed in application
// code rather than pushed into SQL.
//
// Usage:
//
//	store, err := sqlite.NewStore(ctx, "thoughts.db", 384, vectorindex.NewDense(384))
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.CreateSession(ctx, "s1", "", nil)
//	stored, err := store.Store(ctx, t)
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const ddl = `
CREATE TABLE IF NOT EXISTS sessions (
    session_id        TEXT PRIMARY KEY,
    parent_session_id TEXT NOT NULL DEFAULT '',
    created_at_utc     TEXT NOT NULL,
    metadata_json      TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS thoughts (
    id              TEXT PRIMARY KEY,
    timestamp_utc   TEXT NOT NULL,
    session_id      TEXT NOT NULL,
    category        TEXT NOT NULL,
    confidence      REAL NOT NULL,
    tags_json       TEXT NOT NULL DEFAULT '[]',
    raw_text        TEXT NOT NULL,
    cleaned_text    TEXT NOT NULL,
    embedding_dim   INTEGER NOT NULL,
    embedding_blob  BLOB NOT NULL,
    payload_json    TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_thoughts_session    ON thoughts (session_id);
CREATE INDEX IF NOT EXISTS idx_thoughts_category   ON thoughts (category);
CREATE INDEX IF NOT EXISTS idx_thoughts_confidence ON thoughts (confidence);
CREATE INDEX IF NOT EXISTS idx_thoughts_timestamp  ON thoughts (timestamp_utc);

CREATE TABLE IF NOT EXISTS thought_graph_nodes (
    thought_id     TEXT PRIMARY KEY,
    session_id     TEXT NOT NULL,
    timestamp_utc  TEXT NOT NULL,
    metadata_json  TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS thought_graph_edges (
    edge_id        INTEGER PRIMARY KEY AUTOINCREMENT,
    source_id      TEXT NOT NULL,
    target_id      TEXT NOT NULL,
    relation       TEXT NOT NULL,
    weight         REAL NOT NULL,
    created_at_utc TEXT NOT NULL,
    metadata_json  TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_edges_source   ON thought_graph_edges (source_id);
CREATE INDEX IF NOT EXISTS idx_edges_target   ON thought_graph_edges (target_id);
CREATE INDEX IF NOT EXISTS idx_edges_relation ON thought_graph_edges (relation);
`

// Migrate creates every table and index this package needs. It is idempotent
// (CREATE TABLE/INDEX IF NOT EXISTS) and safe to call on every process start.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("sqlite migrate: %w", err)
	}
	return nil
}
