package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docqa/internal/ai"
	"github.com/xxxsen/docqa/internal/chunker"
	"github.com/xxxsen/docqa/internal/model"
	appErr "github.com/xxxsen/docqa/internal/pkg/errors"
)

const defaultClaimTTL = 10 * time.Minute

type IngestService struct {
	sources   sourceStore
	chunks    chunkStore
	extractor textExtractor
	embedder  ai.IEmbedder
	index     vectorIndex
	chunker   *chunker.Chunker
	claimTTL  time.Duration
	gate      *IndexGate
}

// NewIngestService builds the ingestion pipeline. gate must be the one
// handed to the IndexService that rebuilds the same index; nil gives a
// private gate.
func NewIngestService(sources sourceStore, chunks chunkStore, extractor textExtractor, embedder ai.IEmbedder,
	index vectorIndex, maxSentences int, claimTTL time.Duration, gate *IndexGate) *IngestService {
	if claimTTL <= 0 {
		claimTTL = defaultClaimTTL
	}
	if gate == nil {
		gate = NewIndexGate()
	}
	return &IngestService{
		sources:   sources,
		chunks:    chunks,
		extractor: extractor,
		embedder:  embedder,
		index:     index,
		chunker:   chunker.New(maxSentences),
		claimTTL:  claimTTL,
		gate:      gate,
	}
}

// ProcessResource extracts, chunks, embeds and indexes one source. On any
// failure after the claim the source is left failed and can be retried.
func (s *IngestService) ProcessResource(ctx context.Context, sourceID int64, userID string) ([]model.Chunk, error) {
	logger := logutil.GetLogger(ctx).With(zap.Int64("source_id", sourceID), zap.String("user_id", userID))
	src, err := s.sources.GetByID(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if src.Processed() {
		return nil, appErr.ErrAlreadyProcessed
	}
	if !src.Active {
		return nil, fmt.Errorf("%w: source is inactive", appErr.ErrInvalid)
	}
	now := time.Now().UnixMilli()
	claimed, err := s.sources.Claim(ctx, src.ID, userID, now, now-s.claimTTL.Milliseconds())
	if err != nil {
		return nil, err
	}
	if !claimed {
		current, gerr := s.sources.GetByID(ctx, src.ID)
		if gerr == nil && current.Processed() {
			return nil, appErr.ErrAlreadyProcessed
		}
		return nil, fmt.Errorf("%w: source is being processed", appErr.ErrConflict)
	}
	logger.Info("source claimed", zap.String("type", string(src.Type)))

	chunks, err := s.run(ctx, src, userID)
	if err != nil {
		logger.Error("process source failed", zap.Error(err))
		if merr := s.sources.MarkFailed(context.WithoutCancel(ctx), src.ID, err.Error(), time.Now().UnixMilli()); merr != nil {
			logger.Error("mark source failed", zap.Error(merr))
		}
		return nil, err
	}
	logger.Info("source processed", zap.Int("chunks", len(chunks)))
	return chunks, nil
}

func (s *IngestService) run(ctx context.Context, src *model.Source, userID string) ([]model.Chunk, error) {
	logger := logutil.GetLogger(ctx).With(zap.Int64("source_id", src.ID))
	text, err := s.extractor.Extract(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("extract text: %w", err)
	}
	pieces := s.chunker.Chunk(text)
	if len(pieces) == 0 {
		return nil, appErr.ErrEmptyContent
	}
	logger.Debug("text chunked", zap.Int("chars", len(text)), zap.Int("chunks", len(pieces)))

	vectors, err := s.embedder.EmbedBatch(ctx, pieces)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}
	now := time.Now().UnixMilli()
	rows := make([]*model.Chunk, len(pieces))
	for i, content := range pieces {
		rows[i] = &model.Chunk{
			SourceID:  src.ID,
			Order:     i,
			Content:   content,
			Embedding: vectors[i],
			Ctime:     now,
		}
	}
	if err := s.commit(ctx, src.ID, userID, rows, vectors); err != nil {
		return nil, err
	}
	out := make([]model.Chunk, len(rows))
	for i, row := range rows {
		out[i] = *row
	}
	return out, nil
}

// commit stores the rows, indexes them and marks the source processed
// while holding the gate shared.
func (s *IngestService) commit(ctx context.Context, sourceID int64, userID string, rows []*model.Chunk, vectors [][]float64) error {
	release := s.gate.shared()
	defer release()
	if err := s.chunks.ReplaceForSource(ctx, sourceID, rows); err != nil {
		return fmt.Errorf("store chunks: %w", err)
	}
	ids := make([]int64, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}
	if err := s.index.Add(vectors, ids); err != nil {
		return fmt.Errorf("index chunks: %w", err)
	}
	if err := s.sources.MarkProcessed(ctx, sourceID, userID, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}

// ProcessPending works through queued sources, oldest first. Sources
// claimed elsewhere are skipped.
func (s *IngestService) ProcessPending(ctx context.Context, limit int) (int, error) {
	logger := logutil.GetLogger(ctx)
	items, err := s.sources.ListByState(ctx, []model.SourceState{model.SourceStatePending, model.SourceStateProcessing}, limit)
	if err != nil {
		return 0, err
	}
	processed := 0
	for _, src := range items {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		if _, err := s.ProcessResource(ctx, src.ID, src.UpdatedBy); err != nil {
			if errors.Is(err, appErr.ErrConflict) || errors.Is(err, appErr.ErrAlreadyProcessed) {
				logger.Debug("skip source", zap.Int64("source_id", src.ID), zap.Error(err))
				continue
			}
			logger.Warn("pending source failed", zap.Int64("source_id", src.ID), zap.Error(err))
			continue
		}
		processed++
	}
	return processed, nil
}
