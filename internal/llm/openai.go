package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"remediator/internal/config"
)

const (
	defaultOpenAIModel   = "gpt-4o"
	defaultOpenAIBaseURL = "https://api.openai.com"
)

func init() {
	Register(config.ProviderOpenAI, func(_ context.Context, opts Options) (Model, func() error, error) {
		m, err := newOpenAI(opts)
		return m, nil, err
	})
}

type openAIRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature"`
	Messages    []openAIMessage `json:"messages"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
}

type openAIModel struct {
	model       string
	apiKey      string
	baseURL     string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
}

func newOpenAI(opts Options) (*openAIModel, error) {
	if opts.APIKey == "" {
		return nil, errors.New("openai API key required (set llm.api_key or OPENAI_API_KEY)")
	}
	m := &openAIModel{
		model:       opts.Model,
		apiKey:      opts.APIKey,
		baseURL:     strings.TrimSuffix(opts.BaseURL, "/"),
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
		httpClient:  newHTTPClient(opts.Timeout),
	}
	if m.model == "" {
		m.model = defaultOpenAIModel
	}
	if m.baseURL == "" {
		m.baseURL = defaultOpenAIBaseURL
	}
	if m.maxTokens <= 0 {
		m.maxTokens = 16384
	}
	return m, nil
}

func (o *openAIModel) Name() string {
	return config.ProviderOpenAI + "/" + o.model
}

func (o *openAIModel) Complete(ctx context.Context, p Prompt) (string, error) {
	msgs := make([]openAIMessage, 0, 2)
	if p.System != "" {
		msgs = append(msgs, openAIMessage{Role: "system", Content: p.System})
	}
	msgs = append(msgs, openAIMessage{Role: "user", Content: p.User})

	req := openAIRequest{
		Model:       o.model,
		MaxTokens:   o.maxTokens,
		Temperature: o.temperature,
		Messages:    msgs,
	}
	headers := map[string]string{"Authorization": "Bearer " + o.apiKey}

	var resp openAIResponse
	if err := postJSON(ctx, o.httpClient, o.baseURL+"/v1/chat/completions", headers, req, &resp, errorMessage); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", errors.New("empty response from API")
	}
	if resp.Choices[0].FinishReason == "length" {
		return "", ErrTruncated
	}
	return resp.Choices[0].Message.Content, nil
}
