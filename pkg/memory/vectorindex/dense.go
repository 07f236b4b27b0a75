// Package vectorindex provides the in-process vector index that backs
// [github.com/thoughtmemory/tms/pkg/memory/sqlite]'s semantic search.
//
// A [Backend] is polymorphic over {Build, Search} with Upsert optional — the
// store detects in-place upsert support via a type assertion against
// [OptionalUpserter] and rebuilds the whole index when a backend lacks it.
package vectorindex

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/thoughtmemory/tms/pkg/memory"
)

// Item is one vector to be indexed, keyed by thought id.
type Item struct {
	ID     string
	Vector []float32
}

// ScoredID pairs an indexed id with its inner-product similarity to a query.
type ScoredID struct {
	ID    string
	Score float64
}

// Backend is the vector index contract. Inputs to Search are normalized by
// the backend, not the caller. Dimension mismatches are validation errors.
type Backend interface {
	// Build replaces the entire contents of the index with items.
	Build(ctx context.Context, items []Item) error

	// Search returns up to topK ids ranked by descending inner product
	// against the L2-normalized query vector.
	Search(ctx context.Context, query []float32, topK int) ([]ScoredID, error)

	// Dimensions returns the vector length this index was constructed for.
	Dimensions() int
}

// OptionalUpserter is implemented by backends that support in-place
// insert-or-update. Callers should type-assert for it and fall back to a
// full Build when a backend does not implement it.
type OptionalUpserter interface {
	// Upsert inserts or updates the vector for id.
	Upsert(ctx context.Context, id string, vector []float32) error
}

// Dense is a row-major float32 matrix vector index with growable capacity
// (doubling on overflow, initial capacity 16). Search is a matrix-vector
// product followed by a full sort of the scores, truncated to top-k. Dense supports in-place
// upsert.
type Dense struct {
	mu  sync.Mutex
	dim int

	ids     []string
	idIndex map[string]int // id -> row
	data    []float32      // row-major, len == capRows*dim
	rows    int
	capRows int
}

const initialCapacity = 16

// NewDense returns a [Dense] index for vectors of the given dimension.
func NewDense(dim int) *Dense {
	return &Dense{
		dim:     dim,
		idIndex: make(map[string]int),
		data:    make([]float32, initialCapacity*dim),
		capRows: initialCapacity,
	}
}

var _ Backend = (*Dense)(nil)
var _ OptionalUpserter = (*Dense)(nil)

func (d *Dense) Dimensions() int { return d.dim }

// Build replaces the entire index contents with items. Vectors are
// L2-normalized on insertion.
func (d *Dense) Build(_ context.Context, items []Item) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.ids = d.ids[:0]
	d.idIndex = make(map[string]int, len(items))
	d.rows = 0
	d.ensureCapacityLocked(len(items))

	for _, it := range items {
		if len(it.Vector) != d.dim {
			return fmt.Errorf("vectorindex: build: %w: item %q has %d dims, want %d",
				memory.ErrDimensionMismatch, it.ID, len(it.Vector), d.dim)
		}
		d.appendLocked(it.ID, it.Vector)
	}
	return nil
}

// Upsert inserts or updates the vector for id, L2-normalizing it first.
func (d *Dense) Upsert(_ context.Context, id string, vector []float32) error {
	if len(vector) != d.dim {
		return fmt.Errorf("vectorindex: upsert: %w: id %q has %d dims, want %d",
			memory.ErrDimensionMismatch, id, len(vector), d.dim)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	normalized := normalize(vector)
	if row, ok := d.idIndex[id]; ok {
		copy(d.data[row*d.dim:(row+1)*d.dim], normalized)
		return nil
	}

	d.ensureCapacityLocked(d.rows + 1)
	d.appendNormalizedLocked(id, normalized)
	return nil
}

// Search returns up to topK ids ranked by descending inner product against
// the normalized query.
func (d *Dense) Search(_ context.Context, query []float32, topK int) ([]ScoredID, error) {
	if len(query) != d.dim {
		return nil, fmt.Errorf("vectorindex: search: %w: query has %d dims, want %d",
			memory.ErrDimensionMismatch, len(query), d.dim)
	}
	if topK <= 0 {
		return nil, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	q := normalize(query)
	scores := make([]ScoredID, d.rows)
	for row := 0; row < d.rows; row++ {
		vec := d.data[row*d.dim : (row+1)*d.dim]
		var dot float64
		for i, qv := range q {
			dot += float64(qv) * float64(vec[i])
		}
		scores[row] = ScoredID{ID: d.ids[row], Score: dot}
	}

	sort.SliceStable(scores, func(i, j int) bool { return scores[i].Score > scores[j].Score })
	if topK < len(scores) {
		scores = scores[:topK]
	}
	return scores, nil
}

// ensureCapacityLocked grows data so it can hold at least n rows, doubling
// capacity each time it is exceeded. Caller must hold mu.
func (d *Dense) ensureCapacityLocked(n int) {
	if n <= d.capRows {
		return
	}
	newCap := d.capRows
	if newCap == 0 {
		newCap = initialCapacity
	}
	for newCap < n {
		newCap *= 2
	}
	grown := make([]float32, newCap*d.dim)
	copy(grown, d.data[:d.rows*d.dim])
	d.data = grown
	d.capRows = newCap
}

// appendLocked normalizes vector and appends it as a new row. Caller must
// hold mu and have already validated len(vector) == d.dim.
func (d *Dense) appendLocked(id string, vector []float32) {
	d.appendNormalizedLocked(id, normalize(vector))
}

func (d *Dense) appendNormalizedLocked(id string, normalized []float32) {
	row := d.rows
	copy(d.data[row*d.dim:(row+1)*d.dim], normalized)
	d.ids = append(d.ids, id)
	d.idIndex[id] = row
	d.rows++
}

// normalize returns a new L2-normalized copy of v. A zero vector is returned
// unchanged (normalizing it would divide by zero).
func normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSq)
	out := make([]float32, len(v))
	if norm == 0 {
		copy(out, v)
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
