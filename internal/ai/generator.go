package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	appErr "github.com/xxxsen/docqa/internal/pkg/errors"
)

// Generation is an answer together with the model that produced it.
type Generation struct {
	Text  string
	Model string
}

// IGenerator answers prompts. An empty model selects the default;
// anything else must name a configured generator or its model.
type IGenerator interface {
	Generate(ctx context.Context, model string, prompt string) (*Generation, error)
	ModelName() string
}

type generator struct {
	provider IGenProvider
	model    string
	timeout  time.Duration
}

func NewGenerator(p IGenProvider, model string, timeout time.Duration) IGenerator {
	return &generator{provider: p, model: model, timeout: timeout}
}

func (g *generator) ModelName() string {
	return g.model
}

func (g *generator) Generate(ctx context.Context, model string, prompt string) (*Generation, error) {
	if model != "" && model != g.model {
		return nil, fmt.Errorf("%w: unknown model %q", appErr.ErrInvalidInput, model)
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	resp, err := g.provider.Generate(ctx, g.model, prompt)
	if err != nil {
		return nil, classify(g.provider.Name(), err)
	}
	text := strings.TrimSpace(resp)
	if text == "" {
		return nil, fmt.Errorf("%w: %s returned an empty answer", appErr.ErrBackendUnavailable, g.provider.Name())
	}
	return &Generation{Text: text, Model: g.model}, nil
}

type GeneratorEntry struct {
	Name      string
	Generator IGenerator
}

type groupGenerator struct {
	items []GeneratorEntry
}

// NewGroupGenerator tries each generator in order until one answers.
// A requested model is tried first and the rest serve as fallback.
func NewGroupGenerator(items []GeneratorEntry) IGenerator {
	usable := make([]GeneratorEntry, 0, len(items))
	for _, item := range items {
		if item.Generator != nil {
			usable = append(usable, item)
		}
	}
	if len(usable) == 0 {
		return nil
	}
	return &groupGenerator{items: usable}
}

func (g *groupGenerator) order(model string) ([]GeneratorEntry, error) {
	if model == "" {
		return g.items, nil
	}
	for i, item := range g.items {
		if item.Name != model && item.Generator.ModelName() != model {
			continue
		}
		ordered := make([]GeneratorEntry, 0, len(g.items))
		ordered = append(ordered, item)
		ordered = append(ordered, g.items[:i]...)
		return append(ordered, g.items[i+1:]...), nil
	}
	return nil, fmt.Errorf("%w: unknown model %q", appErr.ErrInvalidInput, model)
}

func (g *groupGenerator) Generate(ctx context.Context, model string, prompt string) (*Generation, error) {
	items, err := g.order(model)
	if err != nil {
		return nil, err
	}
	var lastErr error
	for i, item := range items {
		res, err := item.Generator.Generate(ctx, "", prompt)
		if err == nil {
			return res, nil
		}
		lastErr = err
		logutil.GetLogger(ctx).Warn("generator failed", zap.Int("index", i), zap.String("name", item.Name), zap.Error(err))
	}
	return nil, lastErr
}

func (g *groupGenerator) ModelName() string {
	return g.items[0].Generator.ModelName()
}
