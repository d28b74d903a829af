package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docqa/internal/middleware"
	"github.com/xxxsen/docqa/internal/pkg/errcode"
	appErr "github.com/xxxsen/docqa/internal/pkg/errors"
	"github.com/xxxsen/docqa/internal/pkg/response"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func getUserID(c *gin.Context) string {
	return middleware.UserID(c)
}

type errMapping struct {
	target error
	code   int
	msg    string
}

// Order matters: narrower sentinels come before the ones they wrap.
var errMappings = []errMapping{
	{appErr.ErrUnauthorized, errcode.ErrUnauthorized, "unauthorized"},
	{appErr.ErrNotFound, errcode.ErrNotFound, "not found"},
	{appErr.ErrAlreadyProcessed, errcode.ErrAlreadyProcessed, "source already processed"},
	{appErr.ErrEmptyContent, errcode.ErrEmptyContent, "source has no extractable text"},
	{appErr.ErrUnsupportedSource, errcode.ErrUnsupportedSource, "source type cannot be extracted"},
	{appErr.ErrDimensionMismatch, errcode.ErrDimensionMismatch, "embedding dimension mismatch"},
	{appErr.ErrShapeMismatch, errcode.ErrInternal, "internal error"},
	{appErr.ErrCorruption, errcode.ErrIndexCorrupted, "vector index is corrupted, rebuild required"},
	{appErr.ErrEmbeddingBackend, errcode.ErrEmbeddingBackend, "embedding backend returned malformed output"},
	{appErr.ErrBackendUnavailable, errcode.ErrBackendUnavailable, "backend unavailable"},
	{appErr.ErrNoResults, errcode.ErrNoResults, "no relevant content found"},
	{appErr.ErrConflict, errcode.ErrConflict, "conflict"},
	{appErr.ErrTooMany, errcode.ErrTooMany, "too many requests"},
	{appErr.ErrInvalid, errcode.ErrInvalid, "invalid request"},
}

func classifyError(err error) (int, string) {
	for _, m := range errMappings {
		if errors.Is(err, m.target) {
			return m.code, m.msg
		}
	}
	return errcode.ErrInternal, "internal error"
}

func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	code, msg := classifyError(err)
	requestID, _ := c.Get("request_id")
	logger := logutil.GetLogger(c.Request.Context()).With(
		zap.Any("request_id", requestID),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.String("user_id", getUserID(c)),
		zap.Int("code", code),
		zap.Error(err),
	)
	if code == errcode.ErrInternal {
		logger.Error("request failed")
	} else {
		logger.Warn("request failed")
	}
	if code == errcode.ErrInvalid {
		msg = err.Error()
	}
	response.Error(c, code, msg)
}

func badRequest(c *gin.Context, msg string) {
	response.Error(c, errcode.ErrInvalid, msg)
}

func pageParams(c *gin.Context) (int, int) {
	offset, _ := strconv.Atoi(c.Query("offset"))
	if offset < 0 {
		offset = 0
	}
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil || limit <= 0 {
		limit = defaultPageSize
	}
	return offset, min(limit, maxPageSize)
}

func int64Param(c *gin.Context, name string) (int64, bool) {
	v, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || v <= 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return v, true
}
