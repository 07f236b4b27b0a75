package hash_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thoughtmemory/tms/pkg/provider/embeddings/hash"
)

func vecNorm(v []float32) float64 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	return math.Sqrt(sumSq)
}

func TestEmbedderIsDeterministic(t *testing.T) {
	e := hash.New(32)
	a, err := e.Embed(context.Background(), "the launch readiness checklist")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "the launch readiness checklist")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestEmbedderProducesUnitVectors(t *testing.T) {
	e := hash.New(64)
	v, err := e.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	require.Len(t, v, 64)
	assert.InDelta(t, 1.0, vecNorm(v), 1e-4)
}

func TestEmbedderDifferentTextsDiffer(t *testing.T) {
	e := hash.New(16)
	a, err := e.Embed(context.Background(), "alpha")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "beta")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestEmbedderDimensionNotMultipleOf16(t *testing.T) {
	e := hash.New(20)
	v, err := e.Embed(context.Background(), "odd sized dimension")
	require.NoError(t, err)
	assert.Len(t, v, 20)
}

func TestNewPanicsOnNonPositiveDimension(t *testing.T) {
	assert.Panics(t, func() { hash.New(0) })
	assert.Panics(t, func() { hash.New(-1) })
}
