package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/docqa/internal/model"
	"github.com/xxxsen/docqa/internal/pkg/errcode"
	"github.com/xxxsen/docqa/internal/pkg/response"
	"github.com/xxxsen/docqa/internal/service"
)

type SourceHandler struct {
	sources   *service.SourceService
	maxUpload int64
}

func NewSourceHandler(sources *service.SourceService, maxUpload int64) *SourceHandler {
	return &SourceHandler{sources: sources, maxUpload: maxUpload}
}

type createSourceRequest struct {
	Name string           `json:"name"`
	Type model.SourceType `json:"type"`
	Spec json.RawMessage  `json:"spec"`
}

type activeRequest struct {
	Active bool `json:"active"`
}

type processResponse struct {
	Source *model.Source `json:"source"`
	Chunks []model.Chunk `json:"chunks"`
}

func (h *SourceHandler) Create(c *gin.Context) {
	var req createSourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	if len(req.Spec) == 0 {
		badRequest(c, "spec is required")
		return
	}
	spec, err := model.DecodeSpec(req.Type, req.Spec)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	src, err := h.sources.Create(c.Request.Context(), getUserID(c), req.Name, spec)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, src.Redacted())
}

func (h *SourceHandler) Upload(c *gin.Context) {
	if h.maxUpload > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)
	}
	file, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(c, errcode.ErrInvalidFile, "file exceeds "+uploadLimitText(h.maxUpload))
			return
		}
		response.Error(c, errcode.ErrInvalidFile, "file is required")
		return
	}
	if msg := uploadProblem(file, h.maxUpload); msg != "" {
		response.Error(c, errcode.ErrInvalidFile, msg)
		return
	}
	opened, err := file.Open()
	if err != nil {
		response.Error(c, errcode.ErrInvalidFile, "failed to open file")
		return
	}
	defer opened.Close()
	src, err := h.sources.UploadPDF(c.Request.Context(), getUserID(c), file.Filename, opened, file.Size)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, src.Redacted())
}

func (h *SourceHandler) List(c *gin.Context) {
	offset, limit := pageParams(c)
	items, total, err := h.sources.List(c.Request.Context(), offset, limit)
	if err != nil {
		handleError(c, err)
		return
	}
	out := make([]*model.Source, 0, len(items))
	for _, src := range items {
		out = append(out, src.Redacted())
	}
	response.List(c, out, total)
}

func (h *SourceHandler) Get(c *gin.Context) {
	src, err := h.sources.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, src.Redacted())
}

func (h *SourceHandler) Delete(c *gin.Context) {
	if err := h.sources.Delete(c.Request.Context(), c.Param("id")); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"ok": true})
}

func (h *SourceHandler) SetActive(c *gin.Context) {
	var req activeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	if err := h.sources.SetActive(c.Request.Context(), getUserID(c), c.Param("id"), req.Active); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"ok": true})
}

func (h *SourceHandler) Process(c *gin.Context) {
	ctx := c.Request.Context()
	chunks, err := h.sources.Process(ctx, getUserID(c), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	src, err := h.sources.Get(ctx, c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	for i := range chunks {
		chunks[i].Embedding = nil
	}
	response.Success(c, processResponse{Source: src.Redacted(), Chunks: chunks})
}

func (h *SourceHandler) ListChunks(c *gin.Context) {
	offset, limit := pageParams(c)
	items, total, err := h.sources.ListChunks(c.Request.Context(), c.Param("id"), offset, limit)
	if err != nil {
		handleError(c, err)
		return
	}
	response.List(c, items, total)
}

func (h *SourceHandler) DeleteChunk(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	if err := h.sources.DeleteChunk(c.Request.Context(), id); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"ok": true})
}
