package embedcache

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docqa/internal/ai"
	"github.com/xxxsen/docqa/internal/model"
)

type CacheStore interface {
	Get(ctx context.Context, modelName, contentHash string) ([]float32, bool, error)
	Save(ctx context.Context, item *model.EmbeddingCache) error
}

// WrapDBCacheToEmbedder persists embeddings keyed by model and content
// hash. Cache failures are logged and never fail the call.
func WrapDBCacheToEmbedder(e ai.IEmbedder, store CacheStore) ai.IEmbedder {
	if e == nil || store == nil {
		return e
	}
	return &dbEmbedder{next: e, store: store}
}

type dbEmbedder struct {
	next  ai.IEmbedder
	store CacheStore
}

func (d *dbEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	out, err := d.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (d *dbEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	logger := logutil.GetLogger(ctx)
	dim := d.next.Dimension()
	out := make([][]float64, len(texts))
	hashes := make([]string, len(texts))
	var scope string
	var missIdx []int
	var missTexts []string
	for i, text := range texts {
		_, contentHash, modelScope := buildCacheKey(d.next.ModelName(), dim, text)
		hashes[i] = contentHash
		scope = modelScope
		values, ok, err := d.store.Get(ctx, modelScope, contentHash)
		if err != nil {
			logger.Warn("read embedding cache failed", zap.Error(err))
		}
		if err == nil && ok && len(values) == dim {
			out[i] = widen(values)
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}
	if hits := len(texts) - len(missIdx); hits > 0 {
		logger.Debug("embedding cache hit (db)", zap.Int("hits", hits), zap.Int("total", len(texts)))
	}
	if len(missTexts) == 0 {
		return out, nil
	}
	res, err := d.next.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	now := time.Now().Unix()
	for j, i := range missIdx {
		out[i] = res[j]
		if err := d.store.Save(ctx, &model.EmbeddingCache{
			ModelName:   scope,
			ContentHash: hashes[i],
			Embedding:   narrow(res[j]),
			Ctime:       now,
		}); err != nil {
			logger.Warn("failed to cache embedding", zap.Error(err))
		}
	}
	return out, nil
}

func (d *dbEmbedder) Dimension() int {
	return d.next.Dimension()
}

func (d *dbEmbedder) ModelName() string {
	return d.next.ModelName()
}

func widen(values []float32) []float64 {
	out := make([]float64, len(values))
	for i, x := range values {
		out[i] = float64(x)
	}
	return out
}

func narrow(values []float64) []float32 {
	out := make([]float32, len(values))
	for i, x := range values {
		out[i] = float32(x)
	}
	return out
}
