package handler

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/docqa/internal/model"
	appErr "github.com/xxxsen/docqa/internal/pkg/errors"
	"github.com/xxxsen/docqa/internal/pkg/response"
)

type searcher interface {
	Search(ctx context.Context, query string, k int) ([]model.SearchResult, error)
}

type SearchHandler struct {
	search searcher
}

func NewSearchHandler(search searcher) *SearchHandler {
	return &SearchHandler{search: search}
}

type searchRequest struct {
	Query string `json:"query"`
	K     int    `json:"k"`
}

// Search answers with an empty list when nothing relevant is indexed.
func (h *SearchHandler) Search(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	results, err := h.search.Search(c.Request.Context(), req.Query, req.K)
	if errors.Is(err, appErr.ErrNoResults) {
		response.List(c, []model.SearchResult{}, 0)
		return
	}
	if err != nil {
		handleError(c, err)
		return
	}
	response.List(c, results, int64(len(results)))
}
