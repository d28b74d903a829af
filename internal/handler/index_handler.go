package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/docqa/internal/pkg/response"
	"github.com/xxxsen/docqa/internal/service"
)

type indexMaintainer interface {
	Status(ctx context.Context) (*service.IndexStatus, error)
	Audit(ctx context.Context) (*service.AuditReport, error)
	Rebuild(ctx context.Context, reembed bool, progress service.ProgressFunc) (*service.RebuildReport, error)
}

type IndexHandler struct {
	index indexMaintainer
}

func NewIndexHandler(index indexMaintainer) *IndexHandler {
	return &IndexHandler{index: index}
}

type rebuildRequest struct {
	Reembed bool `json:"reembed"`
}

func (h *IndexHandler) Status(c *gin.Context) {
	status, err := h.index.Status(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, status)
}

func (h *IndexHandler) Audit(c *gin.Context) {
	report, err := h.index.Audit(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, report)
}

// Rebuild runs to completion even if the client goes away.
func (h *IndexHandler) Rebuild(c *gin.Context) {
	var req rebuildRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body")
			return
		}
	}
	report, err := h.index.Rebuild(context.WithoutCancel(c.Request.Context()), req.Reembed, nil)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, report)
}
