package service

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/docqa/internal/ai"
	"github.com/xxxsen/docqa/internal/model"
	appErr "github.com/xxxsen/docqa/internal/pkg/errors"
	"github.com/xxxsen/docqa/internal/vectorindex"
)

type memSources struct {
	mu     sync.Mutex
	nextID int64
	items  map[int64]*model.Source
}

func newMemSources() *memSources {
	return &memSources{items: make(map[int64]*model.Source)}
}

func (m *memSources) Create(_ context.Context, src *model.Source) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	src.ID = m.nextID
	cp := *src
	m.items[src.ID] = &cp
	return nil
}

func (m *memSources) GetByID(_ context.Context, id int64) (*model.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.items[id]
	if !ok {
		return nil, appErr.ErrNotFound
	}
	cp := *src
	return &cp, nil
}

func (m *memSources) GetByExternalID(_ context.Context, externalID string) (*model.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, src := range m.items {
		if src.ExternalID == externalID {
			cp := *src
			return &cp, nil
		}
	}
	return nil, appErr.ErrNotFound
}

func (m *memSources) List(_ context.Context, offset, limit int) ([]*model.Source, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Source
	for _, src := range m.items {
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	total := int64(len(out))
	if offset >= len(out) {
		return nil, total, nil
	}
	return out[offset:min(offset+limit, len(out))], total, nil
}

func (m *memSources) ListByState(_ context.Context, states []model.SourceState, limit int) ([]*model.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Source
	for _, src := range m.items {
		for _, st := range states {
			if src.State == st && src.Active {
				cp := *src
				out = append(out, &cp)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memSources) Claim(_ context.Context, id int64, userID string, now, staleBefore int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.items[id]
	if !ok || !src.Active {
		return false, nil
	}
	switch {
	case src.State == model.SourceStatePending, src.State == model.SourceStateFailed:
	case src.State == model.SourceStateProcessing && src.ClaimedAt < staleBefore:
	default:
		return false, nil
	}
	src.State = model.SourceStateProcessing
	src.ClaimedAt = now
	src.UpdatedBy = userID
	src.LastError = ""
	return true, nil
}

func (m *memSources) MarkProcessed(_ context.Context, id int64, userID string, now int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.items[id]
	if !ok || src.State != model.SourceStateProcessing {
		return appErr.ErrConflict
	}
	src.State = model.SourceStateProcessed
	src.UpdatedBy = userID
	src.Mtime = now
	return nil
}

func (m *memSources) MarkFailed(_ context.Context, id int64, reason string, now int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if src, ok := m.items[id]; ok && src.State == model.SourceStateProcessing {
		src.State = model.SourceStateFailed
		src.LastError = reason
		src.Mtime = now
	}
	return nil
}

func (m *memSources) SetActive(_ context.Context, id int64, active bool, userID string, now int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.items[id]
	if !ok {
		return appErr.ErrNotFound
	}
	src.Active = active
	src.UpdatedBy = userID
	src.Mtime = now
	return nil
}

func (m *memSources) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return appErr.ErrNotFound
	}
	delete(m.items, id)
	return nil
}

func (m *memSources) state(id int64) model.SourceState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[id].State
}

type memChunks struct {
	mu        sync.Mutex
	nextID    int64
	items     map[int64]*model.Chunk
	sources   *memSources
	failWrite error
}

func newMemChunks(sources *memSources) *memChunks {
	return &memChunks{items: make(map[int64]*model.Chunk), sources: sources}
}

func (m *memChunks) ReplaceForSource(_ context.Context, sourceID int64, chunks []*model.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrite != nil {
		return m.failWrite
	}
	for id, ch := range m.items {
		if ch.SourceID == sourceID {
			delete(m.items, id)
		}
	}
	for _, ch := range chunks {
		m.nextID++
		ch.ID = m.nextID
		ch.SourceID = sourceID
		cp := *ch
		m.items[ch.ID] = &cp
	}
	return nil
}

func (m *memChunks) UpdateEmbeddings(_ context.Context, chunks []*model.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range chunks {
		if stored, ok := m.items[ch.ID]; ok {
			stored.Embedding = ch.Embedding
		}
	}
	return nil
}

func (m *memChunks) ListByIDs(_ context.Context, ids []int64) ([]*model.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Chunk, 0, len(ids))
	for _, id := range ids {
		if ch, ok := m.items[id]; ok {
			cp := *ch
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memChunks) ListBySource(_ context.Context, sourceID int64, offset, limit int) ([]*model.Chunk, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Chunk
	for _, ch := range m.items {
		if ch.SourceID == sourceID {
			out = append(out, ch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	total := int64(len(out))
	if offset >= len(out) {
		return []*model.Chunk{}, total, nil
	}
	return out[offset:min(offset+limit, len(out))], total, nil
}

func (m *memChunks) searchable(ch *model.Chunk) bool {
	src, err := m.sources.GetByID(context.Background(), ch.SourceID)
	return err == nil && src.Processed() && src.Active
}

func (m *memChunks) ListProcessedAfter(_ context.Context, afterID int64, limit int) ([]*model.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Chunk
	for _, ch := range m.items {
		if ch.ID > afterID && m.searchable(ch) {
			cp := *ch
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memChunks) CountProcessed(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, ch := range m.items {
		if m.searchable(ch) {
			n++
		}
	}
	return n, nil
}

func (m *memChunks) SearchableIDs(_ context.Context, ids []int64) (map[int64]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int64]struct{})
	for _, id := range ids {
		if ch, ok := m.items[id]; ok && m.searchable(ch) {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

func (m *memChunks) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return appErr.ErrNotFound
	}
	delete(m.items, id)
	return nil
}

func (m *memChunks) DeleteBySource(_ context.Context, sourceID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, ch := range m.items {
		if ch.SourceID == sourceID {
			delete(m.items, id)
			n++
		}
	}
	return n, nil
}

func (m *memChunks) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

type memChats struct {
	mu       sync.Mutex
	sessions map[int64]*model.ChatSession
	messages []*model.ChatMessage
	nextID   int64
}

func newMemChats() *memChats {
	return &memChats{sessions: make(map[int64]*model.ChatSession)}
}

func (m *memChats) CreateSession(_ context.Context, session *model.ChatSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	session.ID = m.nextID
	m.sessions[session.ID] = session
	return nil
}

func (m *memChats) GetSession(_ context.Context, userID string, id int64) (*model.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.UserID != userID {
		return nil, appErr.ErrNotFound
	}
	return s, nil
}

func (m *memChats) ListSessions(_ context.Context, userID string, offset, limit int) ([]*model.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.ChatSession
	for _, s := range m.sessions {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memChats) UpdateTitle(_ context.Context, userID string, id int64, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.UserID != userID {
		return appErr.ErrNotFound
	}
	s.Title = title
	return nil
}

func (m *memChats) DeleteSession(_ context.Context, userID string, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.UserID != userID {
		return appErr.ErrNotFound
	}
	delete(m.sessions, id)
	return nil
}

func (m *memChats) AddMessage(_ context.Context, msg *model.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	msg.ID = m.nextID
	m.messages = append(m.messages, msg)
	return nil
}

func (m *memChats) ListMessages(_ context.Context, sessionID int64, limit int) ([]*model.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.ChatMessage
	for _, msg := range m.messages {
		if msg.SessionID == sessionID {
			out = append(out, msg)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

type fakeExtractor struct {
	texts map[int64]string
	err   error
}

func (f *fakeExtractor) Extract(_ context.Context, src *model.Source) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	text, ok := f.texts[src.ID]
	if !ok {
		return "", fmt.Errorf("no text for source %d: %w", src.ID, appErr.ErrNotFound)
	}
	return text, nil
}

type memFiles struct {
	mu    sync.Mutex
	items map[string][]byte
}

func (m *memFiles) Save(_ context.Context, key string, r io.Reader, _ int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.items == nil {
		m.items = make(map[string][]byte)
	}
	m.items[key] = data
	return nil
}

func (m *memFiles) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

// failingIndex wraps a real index and refuses writes while fail is set.
type failingIndex struct {
	*vectorindex.Index
	fail error
}

func (f *failingIndex) Add(vectors [][]float64, ids []int64) error {
	if f.fail != nil {
		return f.fail
	}
	return f.Index.Add(vectors, ids)
}

func (f *failingIndex) Replace(dim int, vectors [][]float64, ids []int64) error {
	if f.fail != nil {
		return f.fail
	}
	return f.Index.Replace(dim, vectors, ids)
}

// hookedSources runs beforeProcessed ahead of MarkProcessed and fails it
// with markErr when set.
type hookedSources struct {
	*memSources
	beforeProcessed func()
	markErr         error
}

func (h *hookedSources) MarkProcessed(ctx context.Context, id int64, userID string, now int64) error {
	if h.beforeProcessed != nil {
		h.beforeProcessed()
	}
	if h.markErr != nil {
		return h.markErr
	}
	return h.memSources.MarkProcessed(ctx, id, userID, now)
}

type fixture struct {
	sources   *memSources
	chunks    *memChunks
	extractor *fakeExtractor
	embedder  ai.IEmbedder
	index     *vectorindex.Index
	gate      *IndexGate
	ingest    *IngestService
	search    *SearchService
}

const testDim = 32

func newFixture(t *testing.T) *fixture {
	t.Helper()
	idx, err := vectorindex.Open(t.TempDir(), vectorindex.WithDimension(testDim))
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	emb, err := ai.NewEmbedder(ai.NewLocalProvider(testDim), ai.EmbedderConfig{
		Dimension: testDim,
		BatchSize: 4,
		Timeout:   time.Second,
	})
	require.NoError(t, err)
	sources := newMemSources()
	chunks := newMemChunks(sources)
	extractor := &fakeExtractor{texts: make(map[int64]string)}
	f := &fixture{
		sources:   sources,
		chunks:    chunks,
		extractor: extractor,
		embedder:  emb,
		index:     idx,
		gate:      NewIndexGate(),
	}
	f.ingest = NewIngestService(sources, chunks, extractor, emb, idx, 2, time.Minute, f.gate)
	f.search = NewSearchService(chunks, emb, idx, 5, 0)
	return f
}

func (f *fixture) indexService() *IndexService {
	return NewIndexService(f.chunks, f.embedder, f.index, f.gate)
}

func (f *fixture) addSource(t *testing.T, text string) *model.Source {
	t.Helper()
	src := &model.Source{
		ExternalID: fmt.Sprintf("ext-%d", len(f.extractor.texts)+1),
		Name:       "doc",
		Type:       model.SourceTypeURL,
		Spec:       model.URLSpec{Address: "https://example.com/doc"},
		State:      model.SourceStatePending,
		Active:     true,
	}
	require.NoError(t, f.sources.Create(context.Background(), src))
	f.extractor.texts[src.ID] = text
	return src
}
