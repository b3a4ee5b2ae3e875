package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"remediator/internal/config"
)

const (
	defaultAnthropicModel   = "claude-sonnet-4-5"
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
)

func init() {
	Register(config.ProviderAnthropic, func(_ context.Context, opts Options) (Model, func() error, error) {
		m, err := newAnthropic(opts)
		return m, nil, err
	})
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

type anthropicModel struct {
	model       string
	apiKey      string
	baseURL     string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
}

func newAnthropic(opts Options) (*anthropicModel, error) {
	if opts.APIKey == "" {
		return nil, errors.New("anthropic API key required (set llm.api_key or ANTHROPIC_API_KEY)")
	}
	m := &anthropicModel{
		model:       opts.Model,
		apiKey:      opts.APIKey,
		baseURL:     strings.TrimSuffix(opts.BaseURL, "/"),
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
		httpClient:  newHTTPClient(opts.Timeout),
	}
	if m.model == "" {
		m.model = defaultAnthropicModel
	}
	if m.baseURL == "" {
		m.baseURL = defaultAnthropicBaseURL
	}
	if m.maxTokens <= 0 {
		m.maxTokens = 16384
	}
	return m, nil
}

func (a *anthropicModel) Name() string {
	return config.ProviderAnthropic + "/" + a.model
}

func (a *anthropicModel) Complete(ctx context.Context, p Prompt) (string, error) {
	req := anthropicRequest{
		Model:       a.model,
		MaxTokens:   a.maxTokens,
		Temperature: a.temperature,
		System:      p.System,
		Messages:    []anthropicMessage{{Role: "user", Content: p.User}},
	}
	headers := map[string]string{
		"X-API-Key":         a.apiKey,
		"Anthropic-Version": anthropicVersion,
	}

	var resp anthropicResponse
	if err := postJSON(ctx, a.httpClient, a.baseURL+"/v1/messages", headers, req, &resp, errorMessage); err != nil {
		return "", err
	}
	if resp.StopReason == "max_tokens" {
		return "", ErrTruncated
	}

	var b strings.Builder
	for _, c := range resp.Content {
		if c.Type == "" || c.Type == "text" {
			b.WriteString(c.Text)
		}
	}
	if b.Len() == 0 {
		return "", errors.New("empty response from API")
	}
	return b.String(), nil
}
