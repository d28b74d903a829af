package mcpserver

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/docqa/internal/model"
	appErr "github.com/xxxsen/docqa/internal/pkg/errors"
	"github.com/xxxsen/docqa/internal/service"
)

type mockSearch struct {
	results []model.SearchResult
	err     error
	gotK    int
}

func (m *mockSearch) Search(_ context.Context, _ string, k int) ([]model.SearchResult, error) {
	m.gotK = k
	return m.results, m.err
}

type mockChat struct {
	created   int
	askedWith int64
}

func (m *mockChat) CreateSession(_ context.Context, userID, title string) (*model.ChatSession, error) {
	m.created++
	return &model.ChatSession{ID: 42, UserID: userID, Title: title}, nil
}

func (m *mockChat) Ask(_ context.Context, _ string, sessionID int64, question, modelName string, _ int) (*service.Answer, error) {
	m.askedWith = sessionID
	used := modelName
	if used == "" {
		used = "m"
	}
	return &service.Answer{
		Message: &model.ChatMessage{SessionID: sessionID, Question: question, Answer: "yes", Model: used},
		Sources: []model.SearchResult{{ChunkID: 1, Content: "ctx"}},
	}, nil
}

func TestNewRequiresSearch(t *testing.T) {
	_, err := New(nil, nil)
	assert.Error(t, err)
}

func TestHandleSearch(t *testing.T) {
	ctx := context.Background()

	t.Run("maps results", func(t *testing.T) {
		m := &mockSearch{results: []model.SearchResult{{ChunkID: 5, SourceID: 2, Content: "c", Distance: 1, Similarity: 0.5}}}
		s, err := New(m, nil)
		require.NoError(t, err)
		_, out, err := s.handleSearch(ctx, nil, SearchInput{Query: "q", K: 3})
		require.NoError(t, err)
		assert.Equal(t, 3, m.gotK)
		assert.Equal(t, 1, out.Count)
		assert.Equal(t, SearchHit{ChunkID: 5, SourceID: 2, Content: "c", Distance: 1, Similarity: 0.5}, out.Results[0])
	})

	t.Run("no results is empty", func(t *testing.T) {
		s, err := New(&mockSearch{err: appErr.ErrNoResults}, nil)
		require.NoError(t, err)
		_, out, err := s.handleSearch(ctx, nil, SearchInput{Query: "q"})
		require.NoError(t, err)
		assert.Zero(t, out.Count)
		assert.NotNil(t, out.Results)
	})

	t.Run("propagates errors", func(t *testing.T) {
		s, err := New(&mockSearch{err: errors.New("boom")}, nil)
		require.NoError(t, err)
		_, _, err = s.handleSearch(ctx, nil, SearchInput{Query: "q"})
		assert.Error(t, err)
	})
}

func TestHandleAsk(t *testing.T) {
	ctx := context.Background()
	chat := &mockChat{}
	s, err := New(&mockSearch{}, chat)
	require.NoError(t, err)

	_, out, err := s.handleAsk(ctx, nil, AskInput{Question: "really?"})
	require.NoError(t, err)
	assert.Equal(t, 1, chat.created)
	assert.EqualValues(t, 42, out.SessionID)
	assert.Equal(t, "yes", out.Answer)
	require.Len(t, out.Sources, 1)

	_, out, err = s.handleAsk(ctx, nil, AskInput{Question: "again?", SessionID: 7})
	require.NoError(t, err)
	assert.Equal(t, 1, chat.created)
	assert.EqualValues(t, 7, chat.askedWith)
	assert.EqualValues(t, 7, out.SessionID)
	assert.Equal(t, "m", out.Model)

	_, out, err = s.handleAsk(ctx, nil, AskInput{Question: "which?", SessionID: 7, Model: "gemma3"})
	require.NoError(t, err)
	assert.Equal(t, "gemma3", out.Model)
}
