package ai

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"

	appErr "github.com/xxxsen/docqa/internal/pkg/errors"
)

// Reducer maps vectors of any width >= target down to target with a
// seeded gaussian random projection. The projection for a given
// (native, target) pair is identical across processes.
type Reducer struct {
	target int
	mu     sync.Mutex
	mats   map[int][]float64
}

func NewReducer(target int) *Reducer {
	return &Reducer{target: target, mats: make(map[int][]float64)}
}

func (r *Reducer) Target() int {
	return r.target
}

func (r *Reducer) Reduce(v []float64) ([]float64, error) {
	native := len(v)
	if native == 0 {
		return nil, fmt.Errorf("%w: empty vector", appErr.ErrEmbeddingBackend)
	}
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, fmt.Errorf("%w: non-finite value", appErr.ErrEmbeddingBackend)
		}
	}
	if native == r.target {
		out := make([]float64, native)
		copy(out, v)
		return out, nil
	}
	if native < r.target {
		return nil, fmt.Errorf("%w: native width %d below target %d", appErr.ErrEmbeddingBackend, native, r.target)
	}
	mat := r.matrix(native)
	out := make([]float64, r.target)
	for row := 0; row < r.target; row++ {
		weights := mat[row*native : (row+1)*native]
		var sum float64
		for i, x := range v {
			sum += weights[i] * x
		}
		out[row] = sum
	}
	normalize(out)
	return out, nil
}

func (r *Reducer) matrix(native int) []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if mat, ok := r.mats[native]; ok {
		return mat
	}
	rng := rand.New(rand.NewPCG(uint64(native), uint64(r.target)))
	scale := 1 / math.Sqrt(float64(r.target))
	mat := make([]float64, r.target*native)
	for i := range mat {
		mat[i] = rng.NormFloat64() * scale
	}
	r.mats[native] = mat
	return mat
}

func normalize(v []float64) {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 {
		return
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] *= inv
	}
}
