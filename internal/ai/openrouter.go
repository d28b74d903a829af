package ai

import (
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const defaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"

type openrouterConfig struct {
	APIKey      string `json:"api_key"`
	BaseURL     string `json:"base_url"`
	HTTPReferer string `json:"http_referer"`
	XTitle      string `json:"x_title"`
}

// headerTransport adds the attribution headers openrouter ranks apps by.
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	return t.base.RoundTrip(req)
}

func newOpenRouterProvider(args interface{}) (*openAIProvider, error) {
	cfg := &openrouterConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	apiKey := apiKeyOrEnv(cfg.APIKey, "OPENROUTER_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("openrouter api_key is required")
	}
	clientCfg := openai.DefaultConfig(apiKey)
	clientCfg.BaseURL = defaultOpenRouterBaseURL
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	headers := map[string]string{}
	if cfg.HTTPReferer != "" {
		headers["HTTP-Referer"] = cfg.HTTPReferer
	}
	if cfg.XTitle != "" {
		headers["X-Title"] = cfg.XTitle
	}
	if len(headers) > 0 {
		clientCfg.HTTPClient = &http.Client{Transport: &headerTransport{base: http.DefaultTransport, headers: headers}}
	}
	return &openAIProvider{name: "openrouter", client: openai.NewClientWithConfig(clientCfg)}, nil
}

func createOpenRouterFactory(args interface{}) (IGenProvider, error) {
	return newOpenRouterProvider(args)
}

func init() {
	Register("openrouter", createOpenRouterFactory)
}
