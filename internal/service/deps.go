package service

import (
	"context"
	"io"

	"github.com/xxxsen/docqa/internal/model"
	"github.com/xxxsen/docqa/internal/vectorindex"
)

type sourceStore interface {
	Create(ctx context.Context, src *model.Source) error
	GetByID(ctx context.Context, id int64) (*model.Source, error)
	GetByExternalID(ctx context.Context, externalID string) (*model.Source, error)
	List(ctx context.Context, offset, limit int) ([]*model.Source, int64, error)
	ListByState(ctx context.Context, states []model.SourceState, limit int) ([]*model.Source, error)
	Claim(ctx context.Context, id int64, userID string, now, staleBefore int64) (bool, error)
	MarkProcessed(ctx context.Context, id int64, userID string, now int64) error
	MarkFailed(ctx context.Context, id int64, reason string, now int64) error
	SetActive(ctx context.Context, id int64, active bool, userID string, now int64) error
	Delete(ctx context.Context, id int64) error
}

type chunkStore interface {
	ReplaceForSource(ctx context.Context, sourceID int64, chunks []*model.Chunk) error
	UpdateEmbeddings(ctx context.Context, chunks []*model.Chunk) error
	ListByIDs(ctx context.Context, ids []int64) ([]*model.Chunk, error)
	ListBySource(ctx context.Context, sourceID int64, offset, limit int) ([]*model.Chunk, int64, error)
	ListProcessedAfter(ctx context.Context, afterID int64, limit int) ([]*model.Chunk, error)
	CountProcessed(ctx context.Context) (int64, error)
	SearchableIDs(ctx context.Context, ids []int64) (map[int64]struct{}, error)
	Delete(ctx context.Context, id int64) error
	DeleteBySource(ctx context.Context, sourceID int64) (int64, error)
}

type chatStore interface {
	CreateSession(ctx context.Context, session *model.ChatSession) error
	GetSession(ctx context.Context, userID string, id int64) (*model.ChatSession, error)
	ListSessions(ctx context.Context, userID string, offset, limit int) ([]*model.ChatSession, error)
	UpdateTitle(ctx context.Context, userID string, id int64, title string) error
	DeleteSession(ctx context.Context, userID string, id int64) error
	AddMessage(ctx context.Context, msg *model.ChatMessage) error
	ListMessages(ctx context.Context, sessionID int64, limit int) ([]*model.ChatMessage, error)
}

type textExtractor interface {
	Extract(ctx context.Context, src *model.Source) (string, error)
}

type fileSaver interface {
	Save(ctx context.Context, key string, r io.Reader, size int64) error
	Delete(ctx context.Context, key string) error
}

// vectorIndex is the part of *vectorindex.Index the services rely on.
type vectorIndex interface {
	Add(vectors [][]float64, ids []int64) error
	Search(query []float64, k int) ([]int64, []float64, error)
	Replace(dim int, vectors [][]float64, ids []int64) error
	Stats() vectorindex.Stats
	ChunkIDs() []int64
}
