package vectorindex

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	appErr "github.com/xxxsen/docqa/internal/pkg/errors"
)

// Index is an exact L2 index over fixed width vectors. Every slot maps to
// exactly one chunk id; slots are dense and assigned in insertion order.
type Index struct {
	mu         sync.RWMutex
	store      persister
	dim        int
	data       []float64
	ids        []int64
	slotOf     map[int64]int
	generation uint64
	model      string
	corrupt    error
}

type Stats struct {
	Count      int    `json:"count"`
	Dimension  int    `json:"dimension"`
	Generation uint64 `json:"generation"`
	Model      string `json:"model"`
	Corrupt    bool   `json:"corrupt"`
	Reason     string `json:"reason,omitempty"`
}

type Option func(*Index)

// WithModel records the embedding model name alongside the vectors.
func WithModel(name string) Option {
	return func(idx *Index) {
		idx.model = name
	}
}

// WithDimension declares the vector width before the first insert.
func WithDimension(dim int) Option {
	return func(idx *Index) {
		if dim > 0 {
			idx.dim = dim
		}
	}
}

// Open prepares an index backed by dir. Persisted state is not read until
// Load is called.
func Open(dir string, opts ...Option) (*Index, error) {
	st, err := openDiskStore(dir)
	if err != nil {
		return nil, err
	}
	return newIndex(st, opts...), nil
}

func newIndex(st persister, opts ...Option) *Index {
	idx := &Index{
		store:  st,
		slotOf: make(map[int64]int),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.store.close()
}

// Add appends vectors with their chunk ids and persists both artifacts
// before returning. Nothing changes when validation or persistence fails.
func (idx *Index) Add(vectors [][]float64, ids []int64) error {
	if len(vectors) != len(ids) {
		return fmt.Errorf("%w: %d vectors, %d ids", appErr.ErrShapeMismatch, len(vectors), len(ids))
	}
	if len(vectors) == 0 {
		return nil
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.corrupt != nil {
		return idx.corrupt
	}
	dim := idx.dim
	if dim == 0 {
		dim = len(vectors[0])
	}
	if dim == 0 {
		return fmt.Errorf("%w: zero width vector", appErr.ErrDimensionMismatch)
	}
	if err := validateBatch(vectors, ids, dim, idx.slotOf); err != nil {
		return err
	}

	prevDim, prevCount := idx.dim, len(idx.ids)
	idx.dim = dim
	for i, v := range vectors {
		idx.data = append(idx.data, v...)
		idx.ids = append(idx.ids, ids[i])
		idx.slotOf[ids[i]] = prevCount + i
	}
	if err := idx.persistLocked(prevCount); err != nil {
		for _, id := range ids {
			delete(idx.slotOf, id)
		}
		idx.ids = idx.ids[:prevCount]
		idx.data = idx.data[:prevCount*prevDim]
		idx.dim = prevDim
		if rerr := idx.persistLocked(prevCount); rerr != nil {
			idx.corrupt = corruption(fmt.Sprintf("restore after failed add: %v", rerr))
			logutil.GetLogger(context.Background()).Error("index left diverged after failed add",
				zap.Error(err), zap.NamedError("restore_err", rerr))
		}
		return fmt.Errorf("persist index: %w", err)
	}
	return nil
}

// Search returns up to k chunk ids ordered by ascending euclidean distance.
// Ties keep insertion order.
func (idx *Index) Search(query []float64, k int) ([]int64, []float64, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.corrupt != nil {
		return nil, nil, idx.corrupt
	}
	n := len(idx.ids)
	if k <= 0 || n == 0 {
		return []int64{}, []float64{}, nil
	}
	if len(query) != idx.dim {
		return nil, nil, fmt.Errorf("%w: query has width %d, index expects %d", appErr.ErrDimensionMismatch, len(query), idx.dim)
	}
	if !finite(query) {
		return nil, nil, fmt.Errorf("%w: query holds a non-finite value", appErr.ErrInvalidInput)
	}
	if k > n {
		k = n
	}
	h := make(candidateHeap, 0, k)
	for slot := 0; slot < n; slot++ {
		d := squaredL2(query, idx.data[slot*idx.dim:(slot+1)*idx.dim])
		c := candidate{slot: slot, dist: d}
		if len(h) < k {
			heap.Push(&h, c)
			continue
		}
		if c.before(h[0]) {
			h[0] = c
			heap.Fix(&h, 0)
		}
	}
	ordered := make([]candidate, len(h))
	for i := len(h) - 1; i >= 0; i-- {
		ordered[i] = heap.Pop(&h).(candidate)
	}
	ids := make([]int64, 0, len(ordered))
	dists := make([]float64, 0, len(ordered))
	for _, c := range ordered {
		if c.slot >= len(idx.ids) {
			continue
		}
		ids = append(ids, idx.ids[c.slot])
		dists = append(dists, math.Sqrt(c.dist))
	}
	return ids, dists, nil
}

// Reset discards all entries and declares dim as the vector width. A zero
// dim leaves the width to be taken from the next insert.
func (idx *Index) Reset(dim int) error {
	if dim < 0 {
		return fmt.Errorf("%w: negative dimension %d", appErr.ErrInvalidInput, dim)
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.dim = dim
	idx.data = nil
	idx.ids = nil
	idx.slotOf = make(map[int64]int)
	idx.corrupt = nil
	if err := idx.persistLocked(0); err != nil {
		idx.corrupt = corruption(fmt.Sprintf("persist after reset: %v", err))
		return fmt.Errorf("persist index: %w", err)
	}
	return nil
}

// Replace swaps the whole content for vectors and ids in one step. dim
// declares the width, zero takes it from the first vector. On any failure
// the previous content keeps serving. A corrupt index is cleared by a
// successful Replace.
func (idx *Index) Replace(dim int, vectors [][]float64, ids []int64) error {
	if len(vectors) != len(ids) {
		return fmt.Errorf("%w: %d vectors, %d ids", appErr.ErrShapeMismatch, len(vectors), len(ids))
	}
	if dim < 0 {
		return fmt.Errorf("%w: negative dimension %d", appErr.ErrInvalidInput, dim)
	}
	if dim == 0 && len(vectors) > 0 {
		dim = len(vectors[0])
		if dim == 0 {
			return fmt.Errorf("%w: zero width vector", appErr.ErrDimensionMismatch)
		}
	}
	if err := validateBatch(vectors, ids, dim, nil); err != nil {
		return err
	}
	data := make([]float64, 0, len(vectors)*dim)
	for _, v := range vectors {
		data = append(data, v...)
	}
	slotOf := make(map[int64]int, len(ids))
	for slot, id := range ids {
		slotOf[id] = slot
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	prevDim, prevData, prevIDs, prevSlotOf, prevCorrupt := idx.dim, idx.data, idx.ids, idx.slotOf, idx.corrupt
	idx.dim = dim
	idx.data = data
	idx.ids = append([]int64(nil), ids...)
	idx.slotOf = slotOf
	idx.corrupt = nil
	if err := idx.persistLocked(0); err != nil {
		idx.dim, idx.data, idx.ids, idx.slotOf, idx.corrupt = prevDim, prevData, prevIDs, prevSlotOf, prevCorrupt
		if prevCorrupt == nil {
			if rerr := idx.persistLocked(0); rerr != nil {
				idx.corrupt = corruption(fmt.Sprintf("restore after failed replace: %v", rerr))
				logutil.GetLogger(context.Background()).Error("index left diverged after failed replace",
					zap.Error(err), zap.NamedError("restore_err", rerr))
			}
		}
		return fmt.Errorf("persist index: %w", err)
	}
	return nil
}

// Save rewrites both artifacts from memory.
func (idx *Index) Save() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.corrupt != nil {
		return idx.corrupt
	}
	return idx.persistLocked(0)
}

// Load replaces the in-memory state with the persisted one. Divergent
// artifacts leave the index refusing searches until Reset.
func (idx *Index) Load() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	snap, err := idx.store.load()
	if err != nil {
		var ce *CorruptionError
		if errors.As(err, &ce) {
			idx.data = nil
			idx.ids = nil
			idx.slotOf = make(map[int64]int)
			idx.corrupt = err
		}
		return err
	}
	idx.corrupt = nil
	if snap == nil {
		idx.data = nil
		idx.ids = nil
		idx.slotOf = make(map[int64]int)
		idx.generation = 0
		return nil
	}
	slotOf := make(map[int64]int, len(snap.IDs))
	for slot, id := range snap.IDs {
		slotOf[id] = slot
	}
	if idx.model != "" && snap.Model != "" && idx.model != snap.Model {
		logutil.GetLogger(context.Background()).Warn("index built with a different embedding model",
			zap.String("persisted", snap.Model), zap.String("configured", idx.model))
	}
	if idx.dim != 0 && snap.Dimension != 0 && idx.dim != snap.Dimension {
		logutil.GetLogger(context.Background()).Warn("persisted index dimension differs from configured",
			zap.Int("persisted", snap.Dimension), zap.Int("configured", idx.dim))
	}
	if snap.Dimension != 0 || len(snap.IDs) > 0 {
		idx.dim = snap.Dimension
	}
	idx.data = snap.Data
	idx.ids = snap.IDs
	idx.slotOf = slotOf
	idx.generation = snap.Generation
	return nil
}

func (idx *Index) Stats() Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	st := Stats{
		Count:      len(idx.ids),
		Dimension:  idx.dim,
		Generation: idx.generation,
		Model:      idx.model,
		Corrupt:    idx.corrupt != nil,
	}
	if idx.corrupt != nil {
		st.Reason = idx.corrupt.Error()
	}
	return st
}

// ChunkIDs returns a copy of the slot to chunk id map in slot order.
func (idx *Index) ChunkIDs() []int64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]int64, len(idx.ids))
	copy(out, idx.ids)
	return out
}

func (idx *Index) persistLocked(from int) error {
	next := idx.generation + 1
	snap := snapshot{
		Generation: next,
		Dimension:  idx.dim,
		Model:      idx.model,
		Data:       idx.data,
		IDs:        idx.ids,
	}
	// the counter advances on failure too so a half written pair never
	// shares a generation with the next attempt
	idx.generation = next
	return idx.store.save(snap, from)
}

// validateBatch checks widths, finiteness and id uniqueness, both within
// the batch and against taken.
func validateBatch(vectors [][]float64, ids []int64, dim int, taken map[int64]int) error {
	seen := make(map[int64]struct{}, len(ids))
	for i, v := range vectors {
		if len(v) != dim {
			return fmt.Errorf("%w: vector %d has width %d, index expects %d", appErr.ErrDimensionMismatch, i, len(v), dim)
		}
		if !finite(v) {
			return fmt.Errorf("%w: vector %d holds a non-finite value", appErr.ErrInvalidInput, i)
		}
		id := ids[i]
		if _, ok := seen[id]; ok {
			return fmt.Errorf("%w: chunk id %d repeated", appErr.ErrInvalidInput, id)
		}
		if _, ok := taken[id]; ok {
			return fmt.Errorf("%w: chunk id %d already indexed", appErr.ErrInvalidInput, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

func finite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

func squaredL2(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

type candidate struct {
	slot int
	dist float64
}

func (c candidate) before(o candidate) bool {
	if c.dist != o.dist {
		return c.dist < o.dist
	}
	return c.slot < o.slot
}

// candidateHeap is a max heap so the worst kept candidate sits at the root.
type candidateHeap []candidate

func (h candidateHeap) Len() int           { return len(h) }
func (h candidateHeap) Less(i, j int) bool { return h[j].before(h[i]) }
func (h candidateHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *candidateHeap) Push(x interface{}) {
	*h = append(*h, x.(candidate))
}

func (h *candidateHeap) Pop() interface{} {
	old := *h
	n := len(old)
	c := old[n-1]
	*h = old[:n-1]
	return c
}
