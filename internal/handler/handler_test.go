package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/docqa/internal/model"
	"github.com/xxxsen/docqa/internal/pkg/errcode"
	appErr "github.com/xxxsen/docqa/internal/pkg/errors"
	"github.com/xxxsen/docqa/internal/service"
	"github.com/xxxsen/docqa/internal/vectorindex"
)

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	require.Equal(t, http.StatusOK, w.Code)
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

type fakeSearcher struct {
	results []model.SearchResult
	err     error
	gotK    int
}

func (f *fakeSearcher) Search(_ context.Context, _ string, k int) ([]model.SearchResult, error) {
	f.gotK = k
	return f.results, f.err
}

type fakeIndex struct {
	status  *service.IndexStatus
	rebuilt bool
	err     error
}

func (f *fakeIndex) Status(context.Context) (*service.IndexStatus, error) { return f.status, f.err }

func (f *fakeIndex) Audit(context.Context) (*service.AuditReport, error) {
	return &service.AuditReport{Orphans: []int64{7}}, f.err
}

func (f *fakeIndex) Rebuild(_ context.Context, reembed bool, _ service.ProgressFunc) (*service.RebuildReport, error) {
	f.rebuilt = true
	return &service.RebuildReport{Reembed: reembed}, f.err
}

type fakePinger struct{ err error }

func (f fakePinger) PingContext(context.Context) error { return f.err }

type fakeStats struct{ stats vectorindex.Stats }

func (f fakeStats) Stats() vectorindex.Stats { return f.stats }

type fakeChats struct {
	gotModel    string
	gotQuestion string
	err         error
}

func (f *fakeChats) CreateSession(_ context.Context, userID, title string) (*model.ChatSession, error) {
	return &model.ChatSession{ID: 1, UserID: userID, Title: title}, f.err
}

func (f *fakeChats) ListSessions(context.Context, string, int, int) ([]*model.ChatSession, error) {
	return nil, f.err
}

func (f *fakeChats) ListMessages(context.Context, string, int64, int) ([]*model.ChatMessage, error) {
	return nil, f.err
}

func (f *fakeChats) DeleteSession(context.Context, string, int64) error { return f.err }

func (f *fakeChats) Ask(_ context.Context, _ string, sessionID int64, question, modelName string, _ int) (*service.Answer, error) {
	f.gotQuestion, f.gotModel = question, modelName
	if f.err != nil {
		return nil, f.err
	}
	return &service.Answer{Message: &model.ChatMessage{SessionID: sessionID, Answer: "ok", Model: modelName}}, nil
}

func (f *fakeChats) RenameFromHistory(_ context.Context, userID string, sessionID int64, modelName string) (*model.ChatSession, error) {
	f.gotModel = modelName
	if f.err != nil {
		return nil, f.err
	}
	return &model.ChatSession{ID: sessionID, UserID: userID, Title: "Renamed"}, nil
}

func newRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r.Group("/api/v1"), deps)
	return r
}

func postJSON(r http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{appErr.ErrNotFound, errcode.ErrNotFound},
		{fmt.Errorf("load: %w", appErr.ErrNotFound), errcode.ErrNotFound},
		{appErr.ErrInvalidInput, errcode.ErrInvalid},
		{appErr.ErrAlreadyProcessed, errcode.ErrAlreadyProcessed},
		{appErr.ErrEmptyContent, errcode.ErrEmptyContent},
		{appErr.ErrUnsupportedSource, errcode.ErrUnsupportedSource},
		{appErr.ErrDimensionMismatch, errcode.ErrDimensionMismatch},
		{&vectorindex.CorruptionError{Reason: "x"}, errcode.ErrIndexCorrupted},
		{appErr.Unavailable("ollama", errors.New("dial tcp")), errcode.ErrBackendUnavailable},
		{appErr.ErrEmbeddingBackend, errcode.ErrEmbeddingBackend},
		{appErr.ErrNoResults, errcode.ErrNoResults},
		{appErr.ErrConflict, errcode.ErrConflict},
		{errors.New("boom"), errcode.ErrInternal},
	}
	for _, tt := range tests {
		code, _ := classifyError(tt.err)
		assert.Equal(t, tt.code, code, tt.err.Error())
	}
}

func TestSearchHandler(t *testing.T) {
	s := &fakeSearcher{results: []model.SearchResult{{ChunkID: 3, Content: "hit", Distance: 0.5, Similarity: 1 / 1.5}}}
	r := newRouter(RouterDeps{Search: NewSearchHandler(s)})

	env := decode(t, postJSON(r, "/api/v1/search", searchRequest{Query: "q", K: 4}))
	require.Zero(t, env.Code)
	var page struct {
		Items []model.SearchResult `json:"items"`
		Total int64                `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Equal(t, 4, s.gotK)
	require.Len(t, page.Items, 1)
	assert.EqualValues(t, 3, page.Items[0].ChunkID)
}

func TestSearchHandlerNoResultsIsEmptyList(t *testing.T) {
	r := newRouter(RouterDeps{Search: NewSearchHandler(&fakeSearcher{err: appErr.ErrNoResults})})
	env := decode(t, postJSON(r, "/api/v1/search", searchRequest{Query: "q"}))
	assert.Zero(t, env.Code)
	assert.JSONEq(t, `{"items":[],"total":0}`, string(env.Data))
}

func TestSearchHandlerErrors(t *testing.T) {
	r := newRouter(RouterDeps{Search: NewSearchHandler(&fakeSearcher{err: &vectorindex.CorruptionError{Reason: "generation"}})})
	env := decode(t, postJSON(r, "/api/v1/search", searchRequest{Query: "q"}))
	assert.Equal(t, errcode.ErrIndexCorrupted, env.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/search", bytes.NewReader([]byte("{")))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, errcode.ErrInvalid, decode(t, w).Code)
}

func TestChatHandlerAskPassesModel(t *testing.T) {
	chats := &fakeChats{}
	r := newRouter(RouterDeps{Chats: NewChatHandler(chats)})

	env := decode(t, postJSON(r, "/api/v1/chats/9/ask", askRequest{Question: "why?", Model: "gemma3", K: 2}))
	require.Zero(t, env.Code)
	assert.Equal(t, "gemma3", chats.gotModel)
	assert.Equal(t, "why?", chats.gotQuestion)
	var ans service.Answer
	require.NoError(t, json.Unmarshal(env.Data, &ans))
	assert.Equal(t, "gemma3", ans.Message.Model)
}

func TestChatHandlerRename(t *testing.T) {
	chats := &fakeChats{}
	r := newRouter(RouterDeps{Chats: NewChatHandler(chats)})

	env := decode(t, postJSON(r, "/api/v1/chats/9/rename", renameRequest{Model: "b"}))
	require.Zero(t, env.Code)
	assert.Equal(t, "b", chats.gotModel)
	var session model.ChatSession
	require.NoError(t, json.Unmarshal(env.Data, &session))
	assert.Equal(t, "Renamed", session.Title)
	assert.EqualValues(t, 9, session.ID)

	r = newRouter(RouterDeps{Chats: NewChatHandler(&fakeChats{err: appErr.ErrNotFound})})
	env = decode(t, postJSON(r, "/api/v1/chats/9/rename", renameRequest{}))
	assert.Equal(t, errcode.ErrNotFound, env.Code)
}

func TestIndexHandler(t *testing.T) {
	idx := &fakeIndex{status: &service.IndexStatus{Stats: vectorindex.Stats{Count: 2, Dimension: 384}, StoredChunks: 2}}
	r := newRouter(RouterDeps{Index: NewIndexHandler(idx)})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/index/status", nil))
	env := decode(t, w)
	assert.Zero(t, env.Code)
	assert.Contains(t, string(env.Data), `"dimension":384`)

	env = decode(t, postJSON(r, "/api/v1/index/rebuild", rebuildRequest{Reembed: true}))
	assert.Zero(t, env.Code)
	assert.True(t, idx.rebuilt)
	assert.Contains(t, string(env.Data), `"reembed":true`)

	env = decode(t, postJSON(r, "/api/v1/index/audit", nil))
	assert.Contains(t, string(env.Data), `"orphans":[7]`)
}

func TestHealthHandler(t *testing.T) {
	r := newRouter(RouterDeps{Health: NewHealthHandler(fakePinger{}, fakeStats{vectorindex.Stats{Count: 1}})})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	assert.Contains(t, string(decode(t, w).Data), `"status":"ok"`)

	r = newRouter(RouterDeps{Health: NewHealthHandler(fakePinger{err: errors.New("down")}, fakeStats{})})
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	assert.Contains(t, string(decode(t, w).Data), `"status":"degraded"`)
}

func TestPageParams(t *testing.T) {
	gin.SetMode(gin.TestMode)
	for query, want := range map[string][2]int{
		"":                      {0, defaultPageSize},
		"?offset=5&limit=10":    {5, 10},
		"?offset=-1&limit=1000": {0, maxPageSize},
		"?limit=abc":            {0, defaultPageSize},
	} {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/x"+query, nil)
		offset, limit := pageParams(c)
		assert.Equal(t, want, [2]int{offset, limit}, query)
	}
}

func TestUploadProblem(t *testing.T) {
	const limit = 2 << 20
	for name, tc := range map[string]struct {
		header multipart.FileHeader
		want   string
	}{
		"ok":        {multipart.FileHeader{Filename: "a.PDF", Size: 10}, ""},
		"empty":     {multipart.FileHeader{Filename: "a.pdf"}, "file is empty"},
		"too large": {multipart.FileHeader{Filename: "a.pdf", Size: limit + 1}, "file exceeds 2MB"},
		"not a pdf": {multipart.FileHeader{Filename: "a.txt", Size: 10}, "only pdf files are accepted"},
	} {
		header := tc.header
		assert.Equal(t, tc.want, uploadProblem(&header, limit), name)
	}
	assert.Equal(t, "512KB", uploadLimitText(512<<10))
}
