package extract

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docqa/internal/model"
	appErr "github.com/xxxsen/docqa/internal/pkg/errors"
)

func (e *Extractor) extractURL(ctx context.Context, spec model.URLSpec) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.URLTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, spec.Address, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", appErr.ErrInvalidInput, err)
	}
	req.Header.Set("User-Agent", "docqa/1.0")
	resp, err := e.client.Do(req)
	if err != nil {
		return "", appErr.Unavailable("fetch url", err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return "", fmt.Errorf("%w: %s returned %s", appErr.ErrNotFound, spec.Address, resp.Status)
	case resp.StatusCode >= http.StatusInternalServerError:
		return "", fmt.Errorf("%w: %s returned %s", appErr.ErrBackendUnavailable, spec.Address, resp.Status)
	case resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices:
		return "", fmt.Errorf("fetch %s: %s", spec.Address, resp.Status)
	}

	kind := contentKind(resp.Header.Get("Content-Type"), spec.Address)
	logutil.GetLogger(ctx).Debug("url fetched", zap.String("url", spec.Address), zap.String("kind", kind))
	if kind == "pdf" {
		return e.pdfFromReader(ctx, resp.Body, e.cfg.MaxDownloadBytes)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, e.cfg.MaxDownloadBytes+1))
	if err != nil {
		return "", appErr.Unavailable("read url body", err)
	}
	if int64(len(body)) > e.cfg.MaxDownloadBytes {
		return "", fmt.Errorf("%w: document exceeds %d bytes", appErr.ErrInvalidInput, e.cfg.MaxDownloadBytes)
	}
	switch kind {
	case "html":
		return HTMLText(body)
	case "markdown":
		return MarkdownText(body), nil
	default:
		return string(body), nil
	}
}

func contentKind(contentType, address string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	switch {
	case mediaType == "application/pdf":
		return "pdf"
	case mediaType == "text/html" || mediaType == "application/xhtml+xml":
		return "html"
	case mediaType == "text/markdown" || mediaType == "text/x-markdown":
		return "markdown"
	}
	lower := strings.ToLower(address)
	if i := strings.IndexAny(lower, "?#"); i >= 0 {
		lower = lower[:i]
	}
	switch {
	case strings.HasSuffix(lower, ".pdf"):
		return "pdf"
	case strings.HasSuffix(lower, ".md") || strings.HasSuffix(lower, ".markdown"):
		return "markdown"
	case strings.HasSuffix(lower, ".html") || strings.HasSuffix(lower, ".htm"):
		return "html"
	}
	return "text"
}
