package repo

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/docqa/internal/model"
	appErr "github.com/xxxsen/docqa/internal/pkg/errors"
	"github.com/xxxsen/docqa/internal/testutil"
)

func newSource(name string) *model.Source {
	now := time.Now().Unix()
	return &model.Source{
		ExternalID: uuid.NewString(),
		Name:       name,
		Type:       model.SourceTypeURL,
		Spec:       model.URLSpec{Address: "https://example.com/" + name},
		State:      model.SourceStatePending,
		Active:     true,
		CreatedBy:  "tester",
		UpdatedBy:  "tester",
		Ctime:      now,
		Mtime:      now,
	}
}

func TestSourceRepoLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewSourceRepo(testutil.OpenTestDB(t))

	src := newSource("a")
	require.NoError(t, repo.Create(ctx, src))
	require.NotZero(t, src.ID)

	got, err := repo.GetByExternalID(ctx, src.ExternalID)
	require.NoError(t, err)
	assert.Equal(t, src.ID, got.ID)
	assert.Equal(t, model.URLSpec{Address: "https://example.com/a"}, got.Spec)

	now := time.Now().Unix()
	ok, err := repo.Claim(ctx, src.ID, "tester", now, now-600)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Claim(ctx, src.ID, "tester", now, now-600)
	require.NoError(t, err)
	assert.False(t, ok, "fresh claim must not be taken twice")

	ok, err = repo.Claim(ctx, src.ID, "tester", now+1000, now+1)
	require.NoError(t, err)
	assert.True(t, ok, "stale claim can be taken over")

	require.NoError(t, repo.MarkProcessed(ctx, src.ID, "tester", now))
	got, err = repo.GetByID(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SourceStateProcessed, got.State)

	ok, err = repo.Claim(ctx, src.ID, "tester", now, now-600)
	require.NoError(t, err)
	assert.False(t, ok, "processed sources are not claimable")

	require.NoError(t, repo.Delete(ctx, src.ID))
	_, err = repo.GetByID(ctx, src.ID)
	assert.ErrorIs(t, err, appErr.ErrNotFound)
}

func TestSourceRepoListByState(t *testing.T) {
	ctx := context.Background()
	repo := NewSourceRepo(testutil.OpenTestDB(t))

	a, b := newSource("a"), newSource("b")
	require.NoError(t, repo.Create(ctx, a))
	require.NoError(t, repo.Create(ctx, b))
	require.NoError(t, repo.SetActive(ctx, b.ID, false, "tester", time.Now().Unix()))

	items, err := repo.ListByState(ctx, []model.SourceState{model.SourceStatePending, model.SourceStateFailed}, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, a.ID, items[0].ID)

	all, total, err := repo.List(ctx, 0, 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.EqualValues(t, 2, total)
}

func TestChunkRepoReplaceAndSearchable(t *testing.T) {
	ctx := context.Background()
	conn := testutil.OpenTestDB(t)
	sources := NewSourceRepo(conn)
	chunks := NewChunkRepo(conn)

	src := newSource("c")
	require.NoError(t, sources.Create(ctx, src))

	batch := []*model.Chunk{
		{Order: 0, Content: "first", Embedding: []float64{1, 0}, Ctime: 1},
		{Order: 1, Content: "second", Embedding: []float64{0, 1}, Ctime: 1},
	}
	require.NoError(t, chunks.ReplaceForSource(ctx, src.ID, batch))
	require.NotZero(t, batch[0].ID)
	require.NotZero(t, batch[1].ID)

	searchable, err := chunks.SearchableIDs(ctx, []int64{batch[0].ID, batch[1].ID})
	require.NoError(t, err)
	assert.Empty(t, searchable, "pending source chunks are not searchable")

	now := time.Now().Unix()
	_, err = sources.Claim(ctx, src.ID, "tester", now, now-600)
	require.NoError(t, err)
	require.NoError(t, sources.MarkProcessed(ctx, src.ID, "tester", now))

	listed, err := chunks.ListProcessedAfter(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, []float64{1, 0}, listed[0].Embedding)

	count, err := chunks.CountProcessed(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	replacement := []*model.Chunk{{Order: 0, Content: "only", Embedding: []float64{1, 1}, Ctime: 2}}
	require.NoError(t, chunks.ReplaceForSource(ctx, src.ID, replacement))
	got, total, err := chunks.ListBySource(ctx, src.ID, 0, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Equal(t, "only", got[0].Content)

	byIDs, err := chunks.ListByIDs(ctx, []int64{batch[0].ID, replacement[0].ID})
	require.NoError(t, err)
	require.Len(t, byIDs, 1)
	assert.Equal(t, replacement[0].ID, byIDs[0].ID)

	require.NoError(t, sources.Delete(ctx, src.ID))
	_, err = chunks.GetByID(ctx, replacement[0].ID)
	assert.ErrorIs(t, err, appErr.ErrNotFound)
}

func TestChatRepoRecentMessages(t *testing.T) {
	ctx := context.Background()
	repo := NewChatRepo(testutil.OpenTestDB(t))

	session := &model.ChatSession{UserID: "u1", Title: "t", Ctime: 1}
	require.NoError(t, repo.CreateSession(ctx, session))
	for i, q := range []string{"q1", "q2", "q3"} {
		require.NoError(t, repo.AddMessage(ctx, &model.ChatMessage{
			SessionID: session.ID, Question: q, Answer: "a", Ctime: int64(i),
		}))
	}
	msgs, err := repo.ListMessages(ctx, session.ID, 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "q2", msgs[0].Question)
	assert.Equal(t, "q3", msgs[1].Question)

	_, err = repo.GetSession(ctx, "other", session.ID)
	assert.ErrorIs(t, err, appErr.ErrNotFound)

	require.NoError(t, repo.UpdateTitle(ctx, "u1", session.ID, "Office hours"))
	got, err := repo.GetSession(ctx, "u1", session.ID)
	require.NoError(t, err)
	assert.Equal(t, "Office hours", got.Title)
	assert.ErrorIs(t, repo.UpdateTitle(ctx, "other", session.ID, "x"), appErr.ErrNotFound)

	require.NoError(t, repo.DeleteSession(ctx, "u1", session.ID))
	err = repo.AddMessage(ctx, &model.ChatMessage{SessionID: session.ID, Question: "x", Answer: "y"})
	assert.ErrorIs(t, err, appErr.ErrNotFound)
}

func TestEmbeddingCacheRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewEmbeddingCacheRepo(testutil.OpenTestDB(t))

	_, ok, err := repo.Get(ctx, "m", "h")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.Save(ctx, &model.EmbeddingCache{ModelName: "m", ContentHash: "h", Embedding: []float32{1, 2}, Ctime: 10}))
	vec, ok, err := repo.Get(ctx, "m", "h")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []float32{1, 2}, vec)

	n, err := repo.DeleteBefore(ctx, 11)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}
