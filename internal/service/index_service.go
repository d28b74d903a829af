package service

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docqa/internal/ai"
	"github.com/xxxsen/docqa/internal/model"
	appErr "github.com/xxxsen/docqa/internal/pkg/errors"
	"github.com/xxxsen/docqa/internal/vectorindex"
)

const rebuildPageSize = 500

type IndexStatus struct {
	vectorindex.Stats
	StoredChunks int64 `json:"stored_chunks"`
}

type AuditReport struct {
	Indexed int     `json:"indexed"`
	Stored  int64   `json:"stored"`
	Orphans []int64 `json:"orphans"`
	Missing int64   `json:"missing"`
}

type RebuildReport struct {
	Chunks    int  `json:"chunks"`
	Reembed   bool `json:"reembed"`
	Dimension int  `json:"dimension"`
}

// ProgressFunc is told how many chunks were indexed out of total.
type ProgressFunc func(done, total int64)

type IndexService struct {
	chunks     chunkStore
	embedder   ai.IEmbedder
	index      vectorIndex
	gate       *IndexGate
	rebuilding atomic.Bool
}

// NewIndexService shares gate with the IngestService writing to index.
func NewIndexService(chunks chunkStore, embedder ai.IEmbedder, index vectorIndex, gate *IndexGate) *IndexService {
	if gate == nil {
		gate = NewIndexGate()
	}
	return &IndexService{chunks: chunks, embedder: embedder, index: index, gate: gate}
}

func (s *IndexService) Status(ctx context.Context) (*IndexStatus, error) {
	stored, err := s.chunks.CountProcessed(ctx)
	if err != nil {
		return nil, err
	}
	return &IndexStatus{Stats: s.index.Stats(), StoredChunks: stored}, nil
}

// Audit finds index entries whose chunk no longer belongs to an active
// processed source.
func (s *IndexService) Audit(ctx context.Context) (*AuditReport, error) {
	ids := s.index.ChunkIDs()
	stored, err := s.chunks.CountProcessed(ctx)
	if err != nil {
		return nil, err
	}
	report := &AuditReport{Indexed: len(ids), Stored: stored, Orphans: []int64{}}
	for start := 0; start < len(ids); start += rebuildPageSize {
		end := min(start+rebuildPageSize, len(ids))
		page := ids[start:end]
		live, err := s.chunks.SearchableIDs(ctx, page)
		if err != nil {
			return nil, err
		}
		for _, id := range page {
			if _, ok := live[id]; !ok {
				report.Orphans = append(report.Orphans, id)
			}
		}
	}
	if live := int64(len(ids) - len(report.Orphans)); stored > live {
		report.Missing = stored - live
	}
	return report, nil
}

// Rebuild replaces the index content with every chunk of active processed
// sources, at the embedder dimension. With reembed the stored vectors are
// recomputed first. The live index keeps serving its old content until the
// new set is complete, and stays untouched when the rebuild fails.
// Ingestion commits wait for the rebuild to finish.
func (s *IndexService) Rebuild(ctx context.Context, reembed bool, progress ProgressFunc) (*RebuildReport, error) {
	if !s.rebuilding.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("%w: rebuild already running", appErr.ErrConflict)
	}
	defer s.rebuilding.Store(false)
	release := s.gate.exclusive()
	defer release()

	logger := logutil.GetLogger(ctx).With(zap.Bool("reembed", reembed))
	total, err := s.chunks.CountProcessed(ctx)
	if err != nil {
		return nil, err
	}
	dim := s.embedder.Dimension()
	logger.Info("index rebuild started", zap.Int("dimension", dim), zap.Int64("chunks", total))

	var (
		afterID int64
		vectors = make([][]float64, 0, total)
		ids     = make([]int64, 0, total)
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := s.chunks.ListProcessedAfter(ctx, afterID, rebuildPageSize)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		if reembed {
			if err := s.reembed(ctx, page); err != nil {
				return nil, err
			}
		}
		for _, ch := range page {
			vectors = append(vectors, ch.Embedding)
			ids = append(ids, ch.ID)
		}
		afterID = page[len(page)-1].ID
		if progress != nil {
			progress(int64(len(ids)), total)
		}
	}
	if err := s.index.Replace(dim, vectors, ids); err != nil {
		return nil, fmt.Errorf("replace index content: %w", err)
	}
	logger.Info("index rebuilt", zap.Int("chunks", len(ids)))
	return &RebuildReport{Chunks: len(ids), Reembed: reembed, Dimension: s.index.Stats().Dimension}, nil
}

func (s *IndexService) reembed(ctx context.Context, page []*model.Chunk) error {
	texts := make([]string, len(page))
	for i, ch := range page {
		texts[i] = ch.Content
	}
	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("re-embed chunks: %w", err)
	}
	for i, ch := range page {
		ch.Embedding = vectors[i]
	}
	if err := s.chunks.UpdateEmbeddings(ctx, page); err != nil {
		return fmt.Errorf("store re-embedded chunks: %w", err)
	}
	return nil
}
