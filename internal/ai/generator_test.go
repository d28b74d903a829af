package ai

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	appErr "github.com/xxxsen/docqa/internal/pkg/errors"
)

type fakeGenProvider struct {
	answer string
	err    error
	block  bool
}

func (f *fakeGenProvider) Name() string { return "fake" }

func (f *fakeGenProvider) Generate(ctx context.Context, model string, prompt string) (string, error) {
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.answer, f.err
}

func TestGroupGeneratorFallsBack(t *testing.T) {
	g := NewGroupGenerator([]GeneratorEntry{
		{Name: "first", Generator: NewGenerator(&fakeGenProvider{err: errors.New("down")}, "a", time.Second)},
		{Name: "second", Generator: NewGenerator(&fakeGenProvider{answer: "ok"}, "b", time.Second)},
	})
	res, err := g.Generate(context.Background(), "", "q")
	require.NoError(t, err)
	require.Equal(t, "ok", res.Text)
	require.Equal(t, "b", res.Model)
	require.Equal(t, "a", g.ModelName())
}

func TestGroupGeneratorRequestedModelFirst(t *testing.T) {
	g := NewGroupGenerator([]GeneratorEntry{
		{Name: "first", Generator: NewGenerator(&fakeGenProvider{answer: "from a"}, "a", time.Second)},
		{Name: "second", Generator: NewGenerator(&fakeGenProvider{answer: "from b"}, "b", time.Second)},
	})
	res, err := g.Generate(context.Background(), "second", "q")
	require.NoError(t, err)
	require.Equal(t, "from b", res.Text)
	require.Equal(t, "b", res.Model)

	res, err = g.Generate(context.Background(), "b", "q")
	require.NoError(t, err)
	require.Equal(t, "b", res.Model)
}

func TestGroupGeneratorRequestedModelFallsBack(t *testing.T) {
	g := NewGroupGenerator([]GeneratorEntry{
		{Name: "first", Generator: NewGenerator(&fakeGenProvider{answer: "from a"}, "a", time.Second)},
		{Name: "second", Generator: NewGenerator(&fakeGenProvider{err: errors.New("down")}, "b", time.Second)},
	})
	res, err := g.Generate(context.Background(), "second", "q")
	require.NoError(t, err)
	require.Equal(t, "a", res.Model)
}

func TestGeneratorUnknownModel(t *testing.T) {
	single := NewGenerator(&fakeGenProvider{answer: "ok"}, "a", time.Second)
	_, err := single.Generate(context.Background(), "zzz", "q")
	require.ErrorIs(t, err, appErr.ErrInvalidInput)

	g := NewGroupGenerator([]GeneratorEntry{{Name: "first", Generator: single}})
	_, err = g.Generate(context.Background(), "zzz", "q")
	require.ErrorIs(t, err, appErr.ErrInvalidInput)
}

func TestGroupGeneratorAllFail(t *testing.T) {
	g := NewGroupGenerator([]GeneratorEntry{
		{Name: "first", Generator: NewGenerator(&fakeGenProvider{err: errors.New("down")}, "a", time.Second)},
		{Name: "second", Generator: NewGenerator(&fakeGenProvider{answer: "  "}, "b", time.Second)},
	})
	_, err := g.Generate(context.Background(), "", "q")
	require.ErrorIs(t, err, appErr.ErrBackendUnavailable)
	require.Nil(t, NewGroupGenerator(nil))
}

func TestGeneratorTimeout(t *testing.T) {
	g := NewGenerator(&fakeGenProvider{block: true}, "a", 10*time.Millisecond)
	_, err := g.Generate(context.Background(), "", "q")
	require.ErrorIs(t, err, appErr.ErrBackendUnavailable)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
