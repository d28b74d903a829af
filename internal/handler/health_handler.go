package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/docqa/internal/pkg/response"
	"github.com/xxxsen/docqa/internal/vectorindex"
)

type pinger interface {
	PingContext(ctx context.Context) error
}

type indexStats interface {
	Stats() vectorindex.Stats
}

type HealthHandler struct {
	db    pinger
	index indexStats
}

func NewHealthHandler(db pinger, index indexStats) *HealthHandler {
	return &HealthHandler{db: db, index: index}
}

type healthResponse struct {
	Status   string            `json:"status"`
	Database string            `json:"database"`
	Index    vectorindex.Stats `json:"index"`
}

func (h *HealthHandler) Health(c *gin.Context) {
	resp := healthResponse{Status: "ok", Database: "ok"}
	if h.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			resp.Status = "degraded"
			resp.Database = err.Error()
		}
	}
	if h.index != nil {
		resp.Index = h.index.Stats()
		if resp.Index.Corrupt {
			resp.Status = "degraded"
		}
	}
	response.Success(c, resp)
}
