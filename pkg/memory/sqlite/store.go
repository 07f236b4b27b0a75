package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/thoughtmemory/tms/pkg/memory"
	"github.com/thoughtmemory/tms/pkg/memory/vectorindex"
)

// Compile-time interface check.
var _ memory.ThoughtStore = (*Store)(nil)

// Store is the central SQLite-backed thought store. It owns a *sql.DB, a
// mutex shared with any [github.com/thoughtmemory/tms/pkg/memory/graph.Graph]
// built on top of it (§9: the graph must observe every thought insert before
// it can semantically link to it), and the embedded vector index.
//
// All operations are safe for concurrent use.
type Store struct {
	db  *sql.DB
	mu  *sync.Mutex
	dim int

	backend vectorindex.Backend
}

// NewStore opens (creating if absent) a SQLite database at path, runs
// [Migrate], rebuilds the vector index backend from any persisted thoughts,
// and returns a ready [Store]. Use ":memory:" for an ephemeral, process-local
// database — useful in tests, since nothing external is required.
//
// embeddingDimensions must match every stored thought's embedding length;
// mismatches are rejected with [memory.ErrDimensionMismatch].
func NewStore(ctx context.Context, path string, embeddingDimensions int, backend vectorindex.Backend) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: serialize writers through a single connection

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: ping: %w", err)
	}
	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{
		db:      db,
		mu:      &sync.Mutex{},
		dim:     embeddingDimensions,
		backend: backend,
	}

	if err := s.rebuildVectorIndexLocked(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: rebuild vector index: %w", err)
	}
	return s, nil
}

// Mutex returns the mutex this store serializes writes under. A
// [github.com/thoughtmemory/tms/pkg/memory/graph.Graph] built on top of this
// store must reuse it rather than its own lock.
func (s *Store) Mutex() *sync.Mutex { return s.mu }

// DB returns the underlying database handle, for the graph package to issue
// its own statements against within the same shared mutex's critical section.
func (s *Store) DB() *sql.DB { return s.db }

// EmbeddingDim returns the dimension every stored embedding must match.
func (s *Store) EmbeddingDim() int { return s.dim }

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("sqlite store: close: %w", err)
	}
	return nil
}

// CreateSession implements [memory.ThoughtStore]. See the package-level
// ThoughtStore documentation for upsert semantics.
func (s *Store) CreateSession(ctx context.Context, sessionID, parent string, metadata map[string]any) error {
	if sessionID == "" {
		return fmt.Errorf("sqlite store: create session: %w: empty session id", memory.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite store: create session: begin: %w", err)
	}
	defer tx.Rollback()

	if parent != "" {
		if err := insertSessionIfMissingLocked(ctx, tx, parent, "", nil); err != nil {
			return fmt.Errorf("sqlite store: create session: insert parent: %w", err)
		}
	}

	if err := upsertSessionLocked(ctx, tx, sessionID, parent, metadata); err != nil {
		return fmt.Errorf("sqlite store: create session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite store: create session: commit: %w", err)
	}
	return nil
}

// insertSessionIfMissingLocked inserts sessionID with the given parent and
// metadata only if it does not already exist. Caller must hold s.mu and be
// inside a transaction.
func insertSessionIfMissingLocked(ctx context.Context, tx *sql.Tx, sessionID, parent string, metadata map[string]any) error {
	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE session_id = ?`, sessionID).Scan(&exists); err == nil {
		return nil
	} else if err != sql.ErrNoRows {
		return err
	}

	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (session_id, parent_session_id, created_at_utc, metadata_json)
		VALUES (?, ?, ?, ?)`,
		sessionID, parent, formatTimestamp(time.Now()), string(metaJSON))
	return err
}

// upsertSessionLocked inserts sessionID or updates its metadata, updating its
// parent only when parent is non-empty (an existing non-empty parent is
// never silently downgraded to empty). Caller must hold s.mu and be inside a
// transaction.
func upsertSessionLocked(ctx context.Context, tx *sql.Tx, sessionID, parent string, metadata map[string]any) error {
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	var existingParent string
	err = tx.QueryRowContext(ctx, `SELECT parent_session_id FROM sessions WHERE session_id = ?`, sessionID).Scan(&existingParent)
	switch {
	case err == sql.ErrNoRows:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO sessions (session_id, parent_session_id, created_at_utc, metadata_json)
			VALUES (?, ?, ?, ?)`,
			sessionID, parent, formatTimestamp(time.Now()), string(metaJSON))
		return err
	case err != nil:
		return err
	default:
		newParent := existingParent
		if parent != "" {
			newParent = parent
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE sessions SET parent_session_id = ?, metadata_json = ? WHERE session_id = ?`,
			newParent, string(metaJSON), sessionID)
		return err
	}
}

// Store implements [memory.ThoughtStore].
func (s *Store) Store(ctx context.Context, t memory.Thought) (memory.Thought, error) {
	stored, err := s.BatchStore(ctx, []memory.Thought{t})
	if err != nil {
		return memory.Thought{}, err
	}
	return stored[0], nil
}

// BatchStore implements [memory.ThoughtStore]. All thoughts are validated
// before any write begins; a single invalid thought fails the whole batch
// with nothing persisted. The vector index is updated only after the
// transaction commits.
func (s *Store) BatchStore(ctx context.Context, thoughts []memory.Thought) ([]memory.Thought, error) {
	normalized := make([]memory.Thought, len(thoughts))
	for i, t := range thoughts {
		n, err := s.normalizeAndValidate(t)
		if err != nil {
			return nil, fmt.Errorf("sqlite store: batch store: %w", err)
		}
		normalized[i] = n
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: batch store: begin: %w", err)
	}
	defer tx.Rollback()

	for _, t := range normalized {
		if err := insertSessionIfMissingLocked(ctx, tx, t.SessionID, "", nil); err != nil {
			return nil, fmt.Errorf("sqlite store: batch store: ensure session: %w", err)
		}
		if err := insertThoughtLocked(ctx, tx, t); err != nil {
			return nil, fmt.Errorf("sqlite store: batch store: insert thought %q: %w", t.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite store: batch store: commit: %w", err)
	}

	if err := s.updateVectorIndexLocked(ctx, normalized); err != nil {
		return nil, fmt.Errorf("sqlite store: batch store: vector index: %w", err)
	}

	slog.Default().Debug("thoughts stored", "count", len(normalized))
	return normalized, nil
}

// normalizeAndValidate checks t against the invariants in the package
// documentation of [github.com/thoughtmemory/tms/pkg/memory] and returns a
// normalized copy (UTC timestamp, generated id when absent).
func (s *Store) normalizeAndValidate(t memory.Thought) (memory.Thought, error) {
	if t.SessionID == "" {
		return memory.Thought{}, fmt.Errorf("%w: empty session id", memory.ErrValidation)
	}
	if t.Category == "" {
		return memory.Thought{}, fmt.Errorf("%w: empty category", memory.ErrValidation)
	}
	if t.Confidence < 0 || t.Confidence > 1 {
		return memory.Thought{}, fmt.Errorf("%w: confidence %f outside [0,1]", memory.ErrValidation, t.Confidence)
	}
	if t.EmbeddingDim != len(t.Embedding) || t.EmbeddingDim != s.dim {
		return memory.Thought{}, fmt.Errorf("%w: embedding dim %d, vector len %d, store dim %d",
			memory.ErrDimensionMismatch, t.EmbeddingDim, len(t.Embedding), s.dim)
	}

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.TimestampUTC.IsZero() {
		t.TimestampUTC = time.Now().UTC()
	} else {
		t.TimestampUTC = t.TimestampUTC.UTC()
	}
	return t, nil
}

// insertThoughtLocked upserts t by id. Caller must hold s.mu and be inside a
// transaction.
func insertThoughtLocked(ctx context.Context, tx *sql.Tx, t memory.Thought) error {
	tagsJSON, err := json.Marshal(t.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	payloadJSON, err := json.Marshal(t.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO thoughts
		    (id, timestamp_utc, session_id, category, confidence, tags_json, raw_text, cleaned_text, embedding_dim, embedding_blob, payload_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		    timestamp_utc  = excluded.timestamp_utc,
		    session_id     = excluded.session_id,
		    category       = excluded.category,
		    confidence     = excluded.confidence,
		    tags_json      = excluded.tags_json,
		    raw_text       = excluded.raw_text,
		    cleaned_text   = excluded.cleaned_text,
		    embedding_dim  = excluded.embedding_dim,
		    embedding_blob = excluded.embedding_blob,
		    payload_json   = excluded.payload_json`,
		t.ID, formatTimestamp(t.TimestampUTC), t.SessionID, t.Category, t.Confidence,
		string(tagsJSON), t.RawText, t.CleanedText, t.EmbeddingDim, encodeEmbedding(t.Embedding), string(payloadJSON),
	)
	return err
}

// updateVectorIndexLocked incorporates newThoughts into the vector index,
// upserting in place when the backend supports it and rebuilding from the
// full persisted set otherwise. Caller must hold s.mu.
func (s *Store) updateVectorIndexLocked(ctx context.Context, newThoughts []memory.Thought) error {
	if upserter, ok := s.backend.(vectorindex.OptionalUpserter); ok {
		for _, t := range newThoughts {
			if err := upserter.Upsert(ctx, t.ID, t.Embedding); err != nil {
				return err
			}
		}
		return nil
	}
	return s.rebuildVectorIndexLocked(ctx)
}

// rebuildVectorIndexLocked replaces the entire backend contents with every
// currently persisted thought's embedding. Caller must hold s.mu.
func (s *Store) rebuildVectorIndexLocked(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT id, embedding_blob FROM thoughts`)
	if err != nil {
		return err
	}
	defer rows.Close()

	var items []vectorindex.Item
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return err
		}
		items = append(items, vectorindex.Item{ID: id, Vector: decodeEmbedding(blob)})
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return s.backend.Build(ctx, items)
}

func encodeEmbedding(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}
