package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"remediator/internal/config"
)

const defaultGeminiModel = "gemini-2.5-flash"

func init() {
	Register(config.ProviderGemini, newGemini)
}

type geminiModel struct {
	name        string
	client      *genai.Client
	temperature float32
	maxTokens   int32
}

func newGemini(ctx context.Context, opts Options) (Model, func() error, error) {
	if opts.APIKey == "" {
		return nil, nil, errors.New("gemini API key required (set llm.api_key or GEMINI_API_KEY)")
	}

	clientOpts := []option.ClientOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(opts.BaseURL))
	}
	client, err := genai.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	name := opts.Model
	if name == "" {
		name = defaultGeminiModel
	}
	g := &geminiModel{
		name:        name,
		client:      client,
		temperature: float32(opts.Temperature),
		maxTokens:   int32(opts.MaxTokens),
	}
	return g, client.Close, nil
}

func (g *geminiModel) Name() string {
	return config.ProviderGemini + "/" + g.name
}

// Complete builds a model handle per call so concurrent batches never share
// the mutable SystemInstruction field.
func (g *geminiModel) Complete(ctx context.Context, p Prompt) (string, error) {
	model := g.client.GenerativeModel(g.name)
	model.SetTemperature(g.temperature)
	model.SetTopK(40)
	model.SetTopP(0.95)
	if g.maxTokens > 0 {
		model.SetMaxOutputTokens(g.maxTokens)
	}
	if p.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(p.System)}}
	}

	resp, err := model.GenerateContent(ctx, genai.Text(p.User))
	if err != nil {
		if isTransientGemini(err) {
			return "", &TransientError{Err: err}
		}
		return "", err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("no content generated")
	}

	cand := resp.Candidates[0]
	if cand.FinishReason == genai.FinishReasonMaxTokens {
		return "", ErrTruncated
	}

	var b strings.Builder
	for _, part := range cand.Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	if b.Len() == 0 {
		return "", errors.New("no content generated")
	}
	return b.String(), nil
}

func isTransientGemini(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == 429 || apiErr.Code >= 500
	}
	switch status.Code(err) {
	case codes.ResourceExhausted, codes.Unavailable, codes.DeadlineExceeded, codes.Internal:
		return true
	}
	return false
}
