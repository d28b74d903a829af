package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	appErr "github.com/xxxsen/docqa/internal/pkg/errors"
)

// IEmbedder turns text into fixed width vectors. Batch output preserves
// input order.
type IEmbedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)
	Dimension() int
	ModelName() string
}

type EmbedderConfig struct {
	Model     string
	Dimension int
	BatchSize int
	Timeout   time.Duration
}

type embedder struct {
	provider IEmbedProvider
	cfg      EmbedderConfig
	reducer  *Reducer
}

func NewEmbedder(p IEmbedProvider, cfg EmbedderConfig) (IEmbedder, error) {
	if p == nil {
		return nil, fmt.Errorf("embedding provider is required")
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	return &embedder{provider: p, cfg: cfg, reducer: NewReducer(cfg.Dimension)}, nil
}

func (e *embedder) Dimension() int {
	return e.cfg.Dimension
}

func (e *embedder) ModelName() string {
	if e.cfg.Model == "" {
		return e.provider.Name()
	}
	return e.provider.Name() + ":" + e.cfg.Model
}

func (e *embedder) Embed(ctx context.Context, text string) ([]float64, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (e *embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("%w: text %d is empty", appErr.ErrInvalidInput, i)
		}
	}
	out := make([][]float64, 0, len(texts))
	for start := 0; start < len(texts); start += e.cfg.BatchSize {
		end := start + e.cfg.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := e.call(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (e *embedder) call(ctx context.Context, texts []string) ([][]float64, error) {
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}
	start := time.Now()
	raw, err := e.provider.Embed(ctx, e.cfg.Model, texts)
	if err != nil {
		return nil, classify(e.provider.Name(), err)
	}
	if len(raw) != len(texts) {
		return nil, fmt.Errorf("%w: requested %d embeddings, got %d", appErr.ErrEmbeddingBackend, len(texts), len(raw))
	}
	out := make([][]float64, len(raw))
	for i, v := range raw {
		reduced, err := e.reducer.Reduce(v)
		if err != nil {
			return nil, fmt.Errorf("embedding %d: %w", i, err)
		}
		out[i] = reduced
	}
	logutil.GetLogger(ctx).Debug("embedded batch",
		zap.String("provider", e.provider.Name()),
		zap.Int("count", len(texts)),
		zap.Int("native_dim", len(raw[0])),
		zap.Duration("elapsed", time.Since(start)),
	)
	return out, nil
}

// classify keeps typed errors and treats anything else from a backend as
// a transport failure.
func classify(op string, err error) error {
	switch {
	case errors.Is(err, appErr.ErrBackendUnavailable),
		errors.Is(err, appErr.ErrEmbeddingBackend),
		errors.Is(err, appErr.ErrInvalid):
		return err
	}
	return appErr.Unavailable(op, err)
}
