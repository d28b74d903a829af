package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/docqa/internal/model"
	"github.com/xxxsen/docqa/internal/pkg/response"
	"github.com/xxxsen/docqa/internal/service"
)

type chatter interface {
	CreateSession(ctx context.Context, userID, title string) (*model.ChatSession, error)
	ListSessions(ctx context.Context, userID string, offset, limit int) ([]*model.ChatSession, error)
	ListMessages(ctx context.Context, userID string, sessionID int64, limit int) ([]*model.ChatMessage, error)
	DeleteSession(ctx context.Context, userID string, sessionID int64) error
	Ask(ctx context.Context, userID string, sessionID int64, question, modelName string, k int) (*service.Answer, error)
	RenameFromHistory(ctx context.Context, userID string, sessionID int64, modelName string) (*model.ChatSession, error)
}

type ChatHandler struct {
	chats chatter
}

func NewChatHandler(chats chatter) *ChatHandler {
	return &ChatHandler{chats: chats}
}

type createChatRequest struct {
	Title string `json:"title"`
}

type askRequest struct {
	Question string `json:"question"`
	Model    string `json:"model"`
	K        int    `json:"k"`
}

type renameRequest struct {
	Model string `json:"model"`
}

func (h *ChatHandler) Create(c *gin.Context) {
	var req createChatRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body")
			return
		}
	}
	session, err := h.chats.CreateSession(c.Request.Context(), getUserID(c), req.Title)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, session)
}

func (h *ChatHandler) List(c *gin.Context) {
	offset, limit := pageParams(c)
	items, err := h.chats.ListSessions(c.Request.Context(), getUserID(c), offset, limit)
	if err != nil {
		handleError(c, err)
		return
	}
	response.List(c, items, int64(len(items)))
}

func (h *ChatHandler) Messages(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	_, limit := pageParams(c)
	items, err := h.chats.ListMessages(c.Request.Context(), getUserID(c), id, limit)
	if err != nil {
		handleError(c, err)
		return
	}
	response.List(c, items, int64(len(items)))
}

func (h *ChatHandler) Ask(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	answer, err := h.chats.Ask(c.Request.Context(), getUserID(c), id, req.Question, req.Model, req.K)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, answer)
}

// Rename replaces the session title with one generated from its messages.
func (h *ChatHandler) Rename(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	var req renameRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body")
			return
		}
	}
	session, err := h.chats.RenameFromHistory(c.Request.Context(), getUserID(c), id, req.Model)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, session)
}

func (h *ChatHandler) Delete(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	if err := h.chats.DeleteSession(c.Request.Context(), getUserID(c), id); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"ok": true})
}
