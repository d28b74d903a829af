package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErr "github.com/xxxsen/docqa/internal/pkg/errors"
)

func TestSearchRanksByDistance(t *testing.T) {
	f := newFixture(t)
	src := f.addSource(t, "Cats purr when they are happy. Dogs bark at the mail carrier. "+
		"The stock market closed higher today. Interest rates were left unchanged.")
	_, err := f.ingest.ProcessResource(context.Background(), src.ID, "u1")
	require.NoError(t, err)

	results, err := f.search.Search(context.Background(), "Cats purr when they are happy.", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Contains(t, results[0].Content, "Cats purr")
	for i := 1; i < len(results); i++ {
		assert.LessOrEqual(t, results[i-1].Distance, results[i].Distance)
	}
	for _, r := range results {
		assert.InDelta(t, 1/(1+r.Distance), r.Similarity, 1e-12)
		assert.Equal(t, src.ID, r.SourceID)
	}
}

func TestSearchEmptyIndex(t *testing.T) {
	f := newFixture(t)
	_, err := f.search.Search(context.Background(), "anything", 3)
	assert.ErrorIs(t, err, appErr.ErrNoResults)
}

func TestSearchRejectsBlankQuery(t *testing.T) {
	f := newFixture(t)
	_, err := f.search.Search(context.Background(), "  ", 3)
	assert.ErrorIs(t, err, appErr.ErrInvalidInput)
}

func TestSearchDropsChunksMissingFromStore(t *testing.T) {
	f := newFixture(t)
	src := f.addSource(t, "A. B. C.")
	chunks, err := f.ingest.ProcessResource(context.Background(), src.ID, "u1")
	require.NoError(t, err)
	require.NoError(t, f.chunks.Delete(context.Background(), chunks[0].ID))

	results, err := f.search.Search(context.Background(), "A. B.", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, chunks[1].ID, results[0].ChunkID)
}

func TestSearchMaxDistanceFilter(t *testing.T) {
	f := newFixture(t)
	src := f.addSource(t, "A. B. C.")
	_, err := f.ingest.ProcessResource(context.Background(), src.ID, "u1")
	require.NoError(t, err)

	strict := NewSearchService(f.chunks, f.embedder, f.index, 5, 1e-9)
	_, err = strict.Search(context.Background(), "completely unrelated words", 5)
	assert.ErrorIs(t, err, appErr.ErrNoResults)
}

func TestSearchDefaultsK(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		src := f.addSource(t, "Alpha one. Beta two. Gamma three. Delta four.")
		_, err := f.ingest.ProcessResource(context.Background(), src.ID, "u1")
		require.NoError(t, err)
	}
	results, err := f.search.Search(context.Background(), "alpha", 0)
	require.NoError(t, err)
	assert.Len(t, results, 5)
}
