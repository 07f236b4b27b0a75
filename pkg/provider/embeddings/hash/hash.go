// Package hash implements a deterministic, offline embeddings.Provider.
//
// It has no external model dependency: the same text always maps to the same
// unit vector, which makes it useful both as a fallback when no remote
// embedding provider is configured and as the default in tests that need
// reproducible similarity scores.
package hash

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/thoughtmemory/tms/pkg/provider/embeddings"
)

// Embedder is a deterministic embeddings.Provider. For a given dimension, the
// vector for a text is built from successive SHA-256 blocks of
// text||block_index (little-endian uint32), reinterpreted as 16-bit unsigned
// integers mapped into [-1, 1], then L2-normalized.
type Embedder struct {
	dimension int
}

// New returns an Embedder producing vectors of the given dimension. Panics if
// dimension is not positive — this is a construction-time programming error,
// not a runtime condition callers should handle.
func New(dimension int) *Embedder {
	if dimension <= 0 {
		panic(fmt.Sprintf("hash: dimension must be positive, got %d", dimension))
	}
	return &Embedder{dimension: dimension}
}

// Dimensions returns the configured vector length.
func (e *Embedder) Dimensions() int { return e.dimension }

// Embed deterministically derives a unit vector from text. The empty string
// is hashed like any other text and also yields a unit vector. ctx is
// accepted for interface conformance but never blocks — the computation is
// pure CPU work.
func (e *Embedder) Embed(_ context.Context, text string) ([]float32, error) {
	out := make([]float32, e.dimension)
	seed := []byte(text)

	offset := 0
	for blockIndex := uint32(0); offset < e.dimension; blockIndex++ {
		var indexBytes [4]byte
		binary.LittleEndian.PutUint32(indexBytes[:], blockIndex)
		block := sha256.Sum256(append(append([]byte{}, seed...), indexBytes[:]...))

		// Reinterpret the 32-byte digest as sixteen little-endian uint16s.
		for i := 0; i+1 < len(block) && offset < e.dimension; i += 2 {
			u := binary.LittleEndian.Uint16(block[i : i+2])
			f := (float32(u)/65535.0)*2.0 - 1.0
			out[offset] = f
			offset++
		}
	}

	var sumSq float64
	for _, v := range out {
		sumSq += float64(v) * float64(v)
	}
	norm := math.Sqrt(sumSq)
	if norm > 0 {
		for i := range out {
			out[i] = float32(float64(out[i]) / norm)
		}
	}
	return out, nil
}

var _ embeddings.Provider = (*Embedder)(nil)
