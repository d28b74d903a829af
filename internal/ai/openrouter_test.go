package ai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenRouterGenerate(t *testing.T) {
	var referer, title, auth, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		referer = r.Header.Get("HTTP-Referer")
		title = r.Header.Get("X-Title")
		auth = r.Header.Get("Authorization")
		path = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":" grounded answer "}}]}`))
	}))
	defer srv.Close()

	p, err := NewProvider("openrouter", map[string]interface{}{
		"api_key":      "or-key",
		"base_url":     srv.URL + "/api/v1/",
		"http_referer": "https://docqa.local",
		"x_title":      "docqa",
	})
	require.NoError(t, err)
	assert.Equal(t, "openrouter", p.Name())

	out, err := p.Generate(context.Background(), "meta/llama", "question")
	require.NoError(t, err)
	assert.Equal(t, "grounded answer", out)
	assert.Equal(t, "/api/v1/chat/completions", path)
	assert.Equal(t, "Bearer or-key", auth)
	assert.Equal(t, "https://docqa.local", referer)
	assert.Equal(t, "docqa", title)
}

func TestOpenRouterRequiresKey(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "")
	_, err := NewProvider("openrouter", map[string]interface{}{})
	require.Error(t, err)
}
