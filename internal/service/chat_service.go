package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docqa/internal/ai"
	"github.com/xxxsen/docqa/internal/model"
	appErr "github.com/xxxsen/docqa/internal/pkg/errors"
)

const (
	defaultHistoryTurns = 3
	maxTitleRunes       = 64
	renameHistory       = 10
	defaultSessionTitle = "New chat"
)

type Answer struct {
	Message *model.ChatMessage   `json:"message"`
	Sources []model.SearchResult `json:"sources"`
}

type ChatService struct {
	chats        chatStore
	search       *SearchService
	generator    ai.IGenerator
	historyTurns int
}

func NewChatService(chats chatStore, search *SearchService, generator ai.IGenerator, historyTurns int) *ChatService {
	if historyTurns <= 0 {
		historyTurns = defaultHistoryTurns
	}
	return &ChatService{chats: chats, search: search, generator: generator, historyTurns: historyTurns}
}

func (s *ChatService) CreateSession(ctx context.Context, userID, title string) (*model.ChatSession, error) {
	session := &model.ChatSession{
		UserID: userID,
		Title:  truncateRunes(strings.TrimSpace(title), maxTitleRunes),
		Ctime:  time.Now().UnixMilli(),
	}
	if err := s.chats.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *ChatService) ListSessions(ctx context.Context, userID string, offset, limit int) ([]*model.ChatSession, error) {
	return s.chats.ListSessions(ctx, userID, offset, limit)
}

func (s *ChatService) ListMessages(ctx context.Context, userID string, sessionID int64, limit int) ([]*model.ChatMessage, error) {
	if _, err := s.chats.GetSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	return s.chats.ListMessages(ctx, sessionID, limit)
}

func (s *ChatService) DeleteSession(ctx context.Context, userID string, sessionID int64) error {
	return s.chats.DeleteSession(ctx, userID, sessionID)
}

// Ask answers question from the k nearest chunks and the recent turns of
// the session, then records the exchange. An empty model uses the
// configured default.
func (s *ChatService) Ask(ctx context.Context, userID string, sessionID int64, question, modelName string, k int) (*Answer, error) {
	if s.generator == nil {
		return nil, fmt.Errorf("%w: no generator configured", appErr.ErrBackendUnavailable)
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("%w: question is empty", appErr.ErrInvalidInput)
	}
	logger := logutil.GetLogger(ctx).With(zap.String("user_id", userID), zap.Int64("session_id", sessionID))
	if _, err := s.chats.GetSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	results, err := s.search.Search(ctx, question, k)
	if err != nil {
		return nil, err
	}
	history, err := s.chats.ListMessages(ctx, sessionID, s.historyTurns)
	if err != nil {
		return nil, err
	}
	gen, err := s.generator.Generate(ctx, modelName, buildContextualPrompt(question, results, history))
	if err != nil {
		logger.Error("generate answer failed", zap.String("model", modelName), zap.Error(err))
		return nil, err
	}
	msg := &model.ChatMessage{
		SessionID: sessionID,
		Question:  question,
		Answer:    gen.Text,
		Model:     gen.Model,
		Ctime:     time.Now().UnixMilli(),
	}
	if err := s.chats.AddMessage(ctx, msg); err != nil {
		return nil, err
	}
	logger.Info("question answered", zap.String("model", gen.Model), zap.Int("sources", len(results)))
	return &Answer{Message: msg, Sources: results}, nil
}

// RenameFromHistory asks the generator for a short title summarising the
// session and stores it. Sessions without messages get the default title.
func (s *ChatService) RenameFromHistory(ctx context.Context, userID string, sessionID int64, modelName string) (*model.ChatSession, error) {
	if s.generator == nil {
		return nil, fmt.Errorf("%w: no generator configured", appErr.ErrBackendUnavailable)
	}
	session, err := s.chats.GetSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	history, err := s.chats.ListMessages(ctx, sessionID, renameHistory)
	if err != nil {
		return nil, err
	}
	title := defaultSessionTitle
	if len(history) > 0 {
		gen, err := s.generator.Generate(ctx, modelName, buildSessionNamePrompt(history))
		if err != nil {
			return nil, err
		}
		if cleaned := cleanTitle(gen.Text); cleaned != "" {
			title = cleaned
		}
	}
	if err := s.chats.UpdateTitle(ctx, userID, sessionID, title); err != nil {
		return nil, err
	}
	session.Title = title
	logutil.GetLogger(ctx).Info("session renamed", zap.Int64("session_id", sessionID), zap.String("title", title))
	return session, nil
}

func buildContextualPrompt(question string, results []model.SearchResult, history []*model.ChatMessage) string {
	var sb strings.Builder
	sb.WriteString("Answer the question using only the context below. ")
	sb.WriteString("If the context does not contain the answer, say that you do not know.\n\n")
	sb.WriteString("Context:\n")
	for i, r := range results {
		fmt.Fprintf(&sb, "[%d] %s\n", i+1, r.Content)
	}
	if len(history) > 0 {
		sb.WriteString("\nConversation so far:\n")
		for _, m := range history {
			fmt.Fprintf(&sb, "User: %s\nAssistant: %s\n", m.Question, m.Answer)
		}
	}
	fmt.Fprintf(&sb, "\nQuestion: %s\nAnswer:", question)
	return sb.String()
}

func buildSessionNamePrompt(history []*model.ChatMessage) string {
	var sb strings.Builder
	sb.WriteString("Write a short title of at most six words for the conversation below. ")
	sb.WriteString("Reply with the title only.\n\n")
	for _, m := range history {
		fmt.Fprintf(&sb, "Question: %s\nAnswer: %s\n", m.Question, m.Answer)
	}
	sb.WriteString("\nTitle:")
	return sb.String()
}

// cleanTitle keeps the first line of a generated title without quoting
// or markdown decoration.
func cleanTitle(raw string) string {
	line := strings.TrimSpace(raw)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimPrefix(strings.TrimSpace(line), "Title:")
	line = strings.Trim(strings.TrimSpace(line), "\"'`*# ")
	return truncateRunes(line, maxTitleRunes)
}

func truncateRunes(s string, n int) string {
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	return string(rs[:n])
}
