package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docqa/internal/model"
	appErr "github.com/xxxsen/docqa/internal/pkg/errors"
)

// FileOpener gives read access to uploaded files.
type FileOpener interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

type Config struct {
	PdfToText        string
	URLTimeout       time.Duration
	MaxDownloadBytes int64
}

type Extractor struct {
	cfg    Config
	files  FileOpener
	runner CommandRunner
	client *http.Client
}

type Option func(*Extractor)

func WithRunner(r CommandRunner) Option {
	return func(e *Extractor) {
		e.runner = r
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(e *Extractor) {
		e.client = c
	}
}

func New(cfg Config, files FileOpener, opts ...Option) *Extractor {
	if cfg.PdfToText == "" {
		cfg.PdfToText = "pdftotext"
	}
	if cfg.URLTimeout <= 0 {
		cfg.URLTimeout = 30 * time.Second
	}
	if cfg.MaxDownloadBytes <= 0 {
		cfg.MaxDownloadBytes = 50 << 20
	}
	e := &Extractor{
		cfg:    cfg,
		files:  files,
		runner: execRunner{},
		client: &http.Client{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract resolves the plain text of a source.
func (e *Extractor) Extract(ctx context.Context, src *model.Source) (string, error) {
	logger := logutil.GetLogger(ctx).With(zap.Int64("source_id", src.ID), zap.String("type", string(src.Type)))
	start := time.Now()
	var (
		text string
		err  error
	)
	switch spec := src.Spec.(type) {
	case model.PdfSpec:
		text, err = e.extractStoredPDF(ctx, spec)
	case model.URLSpec:
		text, err = e.extractURL(ctx, spec)
	case model.PostgresSpec:
		err = fmt.Errorf("%w: postgres sources hold connection metadata only", appErr.ErrUnsupportedSource)
	default:
		err = fmt.Errorf("%w: %T", appErr.ErrUnsupportedSource, src.Spec)
	}
	if err != nil {
		return "", err
	}
	logger.Debug("text extracted", zap.Int("bytes", len(text)), zap.Duration("elapsed", time.Since(start)))
	return text, nil
}

func (e *Extractor) extractStoredPDF(ctx context.Context, spec model.PdfSpec) (string, error) {
	if e.files == nil {
		return "", fmt.Errorf("file store not configured")
	}
	rc, err := e.files.Open(ctx, spec.FileKey)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: file %s", appErr.ErrNotFound, spec.FileKey)
		}
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer rc.Close()
	return e.pdfFromReader(ctx, rc, -1)
}

// pdfFromReader spools r into a scoped temp file and runs pdftotext on it.
func (e *Extractor) pdfFromReader(ctx context.Context, r io.Reader, limit int64) (string, error) {
	tmp, err := os.CreateTemp("", "docqa-*.pdf")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()
	if limit > 0 {
		r = io.LimitReader(r, limit+1)
	}
	n, err := io.Copy(tmp, r)
	if err != nil {
		return "", fmt.Errorf("spool pdf: %w", err)
	}
	if limit > 0 && n > limit {
		return "", fmt.Errorf("%w: document exceeds %d bytes", appErr.ErrInvalidInput, limit)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return e.runPdfToText(ctx, tmp.Name())
}
