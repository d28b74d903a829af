package ai

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

const defaultLocalDimension = 384

type localConfig struct {
	Dimension int `json:"dimension"`
}

// localProvider is an offline embedder based on signed feature hashing of
// word unigrams, bigrams and character trigrams.
type localProvider struct {
	dim int
}

func NewLocalProvider(dim int) IEmbedProvider {
	if dim <= 0 {
		dim = defaultLocalDimension
	}
	return &localProvider{dim: dim}
}

func (p *localProvider) Name() string {
	return "local"
}

func (p *localProvider) Embed(ctx context.Context, model string, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = p.embedOne(text)
	}
	return out, nil
}

func (p *localProvider) embedOne(text string) []float64 {
	vec := make([]float64, p.dim)
	words := tokenize(text)
	for i, w := range words {
		p.add(vec, "w:"+w, 1)
		if i > 0 {
			p.add(vec, "b:"+words[i-1]+" "+w, 0.7)
		}
		runes := []rune("^" + w + "$")
		for j := 0; j+3 <= len(runes); j++ {
			p.add(vec, "c:"+string(runes[j:j+3]), 0.3)
		}
	}
	for i, x := range vec {
		if x != 0 {
			vec[i] = math.Copysign(math.Log1p(math.Abs(x)), x)
		}
	}
	normalize(vec)
	return vec
}

func (p *localProvider) add(vec []float64, feature string, weight float64) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	slot := int(sum % uint64(p.dim))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	vec[slot] += weight
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func createLocalEmbedFactory(args interface{}) (IEmbedProvider, error) {
	cfg := &localConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	if cfg.Dimension < 0 {
		return nil, fmt.Errorf("local embedder dimension must not be negative")
	}
	return NewLocalProvider(cfg.Dimension), nil
}

func init() {
	RegisterEmbed("local", createLocalEmbedFactory)
}
