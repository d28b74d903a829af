package ai

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	appErr "github.com/xxxsen/docqa/internal/pkg/errors"
)

func norm(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}

func TestReducerProjectsToTarget(t *testing.T) {
	r := rand.New(rand.NewSource(9))
	v := make([]float64, 1536)
	for i := range v {
		v[i] = r.NormFloat64()
	}
	out, err := NewReducer(384).Reduce(v)
	require.NoError(t, err)
	require.Len(t, out, 384)
	require.InDelta(t, 1.0, norm(out), 1e-9)

	again, err := NewReducer(384).Reduce(v)
	require.NoError(t, err)
	require.Equal(t, out, again)
}

func TestReducerPassThrough(t *testing.T) {
	v := []float64{0.5, 0.25, 0.125}
	out, err := NewReducer(3).Reduce(v)
	require.NoError(t, err)
	require.Equal(t, v, out)
	out[0] = 9
	require.Equal(t, 0.5, v[0])
}

func TestReducerRejectsMalformed(t *testing.T) {
	r := NewReducer(4)
	_, err := r.Reduce([]float64{1, 2})
	require.ErrorIs(t, err, appErr.ErrEmbeddingBackend)
	_, err = r.Reduce(nil)
	require.ErrorIs(t, err, appErr.ErrEmbeddingBackend)
	_, err = r.Reduce([]float64{1, math.NaN(), 3, 4, 5})
	require.ErrorIs(t, err, appErr.ErrEmbeddingBackend)
}

func TestReducerRoughlyPreservesNeighbours(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	base := make([]float64, 768)
	near := make([]float64, 768)
	far := make([]float64, 768)
	for i := range base {
		base[i] = r.NormFloat64()
		near[i] = base[i] + 0.05*r.NormFloat64()
		far[i] = r.NormFloat64()
	}
	red := NewReducer(128)
	b, err := red.Reduce(base)
	require.NoError(t, err)
	n, err := red.Reduce(near)
	require.NoError(t, err)
	f, err := red.Reduce(far)
	require.NoError(t, err)
	dist := func(a, c []float64) float64 {
		var s float64
		for i := range a {
			d := a[i] - c[i]
			s += d * d
		}
		return s
	}
	require.Less(t, dist(b, n), dist(b, f))
}
