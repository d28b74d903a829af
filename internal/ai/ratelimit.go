package ai

import (
	"context"

	"golang.org/x/time/rate"

	appErr "github.com/xxxsen/docqa/internal/pkg/errors"
)

// WrapRateLimit throttles calls to p to limit requests per second.
func WrapRateLimit(p IEmbedProvider, limit float64, burst int) IEmbedProvider {
	if p == nil || limit <= 0 {
		return p
	}
	if burst <= 0 {
		burst = 1
	}
	return &rateLimitedProvider{next: p, limiter: rate.NewLimiter(rate.Limit(limit), burst)}
}

type rateLimitedProvider struct {
	next    IEmbedProvider
	limiter *rate.Limiter
}

func (r *rateLimitedProvider) Name() string {
	return r.next.Name()
}

func (r *rateLimitedProvider) Embed(ctx context.Context, model string, texts []string) ([][]float64, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, appErr.Unavailable(r.next.Name()+" rate limit", err)
	}
	return r.next.Embed(ctx, model, texts)
}
