package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/thoughtmemory/tms/pkg/memory"
)

// Retrieve implements [memory.ThoughtStore]. Filters other than TagsAny are
// pushed into SQL as AND conditions; TagsAny is applied afterward as a set
// intersection over each row's tags.
func (s *Store) Retrieve(ctx context.Context, filters memory.ThoughtFilters, limit int) ([]memory.Thought, error) {
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return "?"
	}

	var conditions []string
	if filters.SessionID != "" {
		conditions = append(conditions, "session_id = "+next(filters.SessionID))
	}
	if filters.Category != "" {
		conditions = append(conditions, "category = "+next(filters.Category))
	}
	if filters.MinConfidence > 0 {
		conditions = append(conditions, "confidence >= "+next(filters.MinConfidence))
	}
	if !filters.After.IsZero() {
		conditions = append(conditions, "timestamp_utc >= "+next(formatTimestamp(filters.After)))
	}
	if !filters.Before.IsZero() {
		conditions = append(conditions, "timestamp_utc <= "+next(formatTimestamp(filters.Before)))
	}

	q := "SELECT id, timestamp_utc, session_id, category, confidence, tags_json, raw_text, cleaned_text, embedding_dim, embedding_blob, payload_json\nFROM thoughts"
	if len(conditions) > 0 {
		q += "\nWHERE " + strings.Join(conditions, "\n  AND ")
	}
	q += "\nORDER BY timestamp_utc DESC"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: retrieve: %w", err)
	}
	thoughts, err := collectThoughts(rows)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: retrieve: %w", err)
	}

	if len(filters.TagsAny) > 0 {
		thoughts = filterTagsAny(thoughts, filters.TagsAny)
	}
	if limit > 0 && len(thoughts) > limit {
		thoughts = thoughts[:limit]
	}
	return thoughts, nil
}

// filterTagsAny keeps only thoughts carrying at least one tag in wanted.
func filterTagsAny(thoughts []memory.Thought, wanted []string) []memory.Thought {
	want := make(map[string]struct{}, len(wanted))
	for _, w := range wanted {
		want[w] = struct{}{}
	}
	out := thoughts[:0]
	for _, t := range thoughts {
		for _, tag := range t.Tags {
			if _, ok := want[tag]; ok {
				out = append(out, t)
				break
			}
		}
	}
	return out
}

// GetThoughtByID implements [memory.ThoughtStore]. Returns (nil, nil) when
// absent.
func (s *Store) GetThoughtByID(ctx context.Context, id string) (*memory.Thought, error) {
	const q = `
		SELECT id, timestamp_utc, session_id, category, confidence, tags_json, raw_text, cleaned_text, embedding_dim, embedding_blob, payload_json
		FROM thoughts WHERE id = ?`

	row := s.db.QueryRowContext(ctx, q, id)
	t, err := scanThought(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite store: get thought by id: %w", err)
	}
	return &t, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanThought(row rowScanner) (memory.Thought, error) {
	var (
		t            memory.Thought
		timestampStr string
		tagsJSON     string
		blob         []byte
		payloadJSON  string
	)
	if err := row.Scan(
		&t.ID, &timestampStr, &t.SessionID, &t.Category, &t.Confidence,
		&tagsJSON, &t.RawText, &t.CleanedText, &t.EmbeddingDim, &blob, &payloadJSON,
	); err != nil {
		return memory.Thought{}, err
	}

	ts, err := parseTimestamp(timestampStr)
	if err != nil {
		return memory.Thought{}, fmt.Errorf("parse timestamp: %w", err)
	}
	t.TimestampUTC = ts.UTC()

	if err := json.Unmarshal([]byte(tagsJSON), &t.Tags); err != nil {
		return memory.Thought{}, fmt.Errorf("unmarshal tags: %w", err)
	}
	if err := json.Unmarshal([]byte(payloadJSON), &t.Payload); err != nil {
		return memory.Thought{}, fmt.Errorf("unmarshal payload: %w", err)
	}
	t.Embedding = decodeEmbedding(blob)
	return t, nil
}

func collectThoughts(rows *sql.Rows) ([]memory.Thought, error) {
	defer rows.Close()
	thoughts := []memory.Thought{}
	for rows.Next() {
		t, err := scanThought(rows)
		if err != nil {
			return nil, err
		}
		thoughts = append(thoughts, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return thoughts, nil
}
