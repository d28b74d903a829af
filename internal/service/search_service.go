package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docqa/internal/ai"
	"github.com/xxxsen/docqa/internal/model"
	appErr "github.com/xxxsen/docqa/internal/pkg/errors"
)

const (
	defaultTopK = 5
	maxTopK     = 100
)

type SearchService struct {
	chunks      chunkStore
	embedder    ai.IEmbedder
	index       vectorIndex
	topK        int
	maxDistance float64
}

// NewSearchService builds the retrieval path. maxDistance <= 0 disables the
// distance cut-off.
func NewSearchService(chunks chunkStore, embedder ai.IEmbedder, index vectorIndex, topK int, maxDistance float64) *SearchService {
	if topK <= 0 {
		topK = defaultTopK
	}
	return &SearchService{
		chunks:      chunks,
		embedder:    embedder,
		index:       index,
		topK:        topK,
		maxDistance: maxDistance,
	}
}

// Search returns the chunks nearest to query, closest first. k <= 0 uses
// the configured default.
func (s *SearchService) Search(ctx context.Context, query string, k int) ([]model.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is empty", appErr.ErrInvalidInput)
	}
	if k <= 0 {
		k = s.topK
	}
	k = min(k, maxTopK)
	logger := logutil.GetLogger(ctx).With(zap.Int("k", k))

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		logger.Error("embed query failed", zap.Error(err))
		return nil, err
	}
	ids, distances, err := s.index.Search(vec, k)
	if err != nil {
		logger.Error("index search failed", zap.Error(err))
		return nil, err
	}
	if len(ids) == 0 {
		return nil, appErr.ErrNoResults
	}
	chunks, err := s.chunks.ListByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]*model.Chunk, len(chunks))
	for _, ch := range chunks {
		byID[ch.ID] = ch
	}
	results := make([]model.SearchResult, 0, len(ids))
	for i, id := range ids {
		ch, ok := byID[id]
		if !ok {
			logger.Warn("indexed chunk missing from store", zap.Int64("chunk_id", id))
			continue
		}
		if s.maxDistance > 0 && distances[i] > s.maxDistance {
			continue
		}
		results = append(results, model.SearchResult{
			ChunkID:    ch.ID,
			SourceID:   ch.SourceID,
			Order:      ch.Order,
			Content:    ch.Content,
			Distance:   distances[i],
			Similarity: 1 / (1 + distances[i]),
		})
	}
	if len(results) == 0 {
		return nil, appErr.ErrNoResults
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})
	logger.Debug("search finished", zap.Int("hits", len(results)))
	return results, nil
}
