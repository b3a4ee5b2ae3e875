package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"remediator/internal/config"
)

func TestAnthropic_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "k-1", r.Header.Get("X-API-Key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("Anthropic-Version"))

		var req anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "sys", req.System)
		assert.Equal(t, 100, req.MaxTokens)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "hello", req.Messages[0].Content)

		fmt.Fprint(w, `{"content":[{"type":"text","text":"part one "},{"type":"text","text":"part two"}],"stop_reason":"end_turn"}`)
	}))
	defer server.Close()

	m, err := newAnthropic(Options{APIKey: "k-1", BaseURL: server.URL + "/", MaxTokens: 100})
	require.NoError(t, err)
	out, err := m.Complete(context.Background(), Prompt{System: "sys", User: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "part one part two", out)
	assert.Equal(t, "anthropic/"+defaultAnthropicModel, m.Name())
}

func TestAnthropic_MaxTokensIsTruncation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"content":[{"type":"text","text":"half"}],"stop_reason":"max_tokens"}`)
	}))
	defer server.Close()

	m, err := newAnthropic(Options{APIKey: "k", BaseURL: server.URL})
	require.NoError(t, err)
	_, err = m.Complete(context.Background(), Prompt{User: "x"})
	assert.ErrorIs(t, err, ErrTruncated)
	assert.False(t, IsTransient(err))
}

func TestOpenAI_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer k-2", r.Header.Get("Authorization"))

		var req openAIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "user", req.Messages[1].Role)

		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"done"},"finish_reason":"stop"}]}`)
	}))
	defer server.Close()

	m, err := newOpenAI(Options{APIKey: "k-2", BaseURL: server.URL})
	require.NoError(t, err)
	out, err := m.Complete(context.Background(), Prompt{System: "sys", User: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "done", out)
}

func TestHTTPProviders_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		transient bool
		substr    string
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, body: `{}`, transient: true, substr: "429"},
		{name: "server error", status: http.StatusServiceUnavailable, body: `overloaded`, transient: true, substr: "503"},
		{name: "bad request", status: http.StatusBadRequest, body: `{"error":{"message":"prompt too long"}}`, substr: "prompt too long"},
		{name: "unauthorized", status: http.StatusUnauthorized, body: `nope`, substr: "nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			m, err := newOpenAI(Options{APIKey: "k", BaseURL: server.URL})
			require.NoError(t, err)
			_, err = m.Complete(context.Background(), Prompt{User: "x"})
			require.Error(t, err)
			assert.Equal(t, tt.transient, IsTransient(err))
			assert.Contains(t, err.Error(), tt.substr)
		})
	}
}

func TestProviders_RequireAPIKey(t *testing.T) {
	_, err := newAnthropic(Options{})
	assert.Error(t, err)
	_, err = newOpenAI(Options{})
	assert.Error(t, err)
	_, _, err = newGemini(context.Background(), Options{})
	assert.Error(t, err)
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(errors.New("boom")))
	assert.True(t, IsTransient(fmt.Errorf("wrapped: %w", &TransientError{Err: errors.New("x")})))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.False(t, IsTransient(context.Canceled))
}

func TestIsTransientGemini(t *testing.T) {
	assert.True(t, isTransientGemini(status.Error(codes.ResourceExhausted, "quota")))
	assert.True(t, isTransientGemini(status.Error(codes.Unavailable, "down")))
	assert.False(t, isTransientGemini(status.Error(codes.InvalidArgument, "bad")))
	assert.True(t, isTransientGemini(&googleapi.Error{Code: 429}))
	assert.True(t, isTransientGemini(&googleapi.Error{Code: 502}))
	assert.False(t, isTransientGemini(&googleapi.Error{Code: 400}))
}

type countingModel struct{ calls atomic.Int32 }

func (c *countingModel) Name() string { return "counting" }

func (c *countingModel) Complete(ctx context.Context, p Prompt) (string, error) {
	c.calls.Add(1)
	return p.User, nil
}

func TestWithRateLimit(t *testing.T) {
	inner := &countingModel{}
	assert.Same(t, Model(inner), WithRateLimit(inner, 0, 1))

	m := WithRateLimit(inner, 1, 1)
	out, err := m.Complete(context.Background(), Prompt{User: "a"})
	require.NoError(t, err)
	assert.Equal(t, "a", out)

	// The bucket is empty now; a cancelled context must not wait a full second.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = m.Complete(ctx, Prompt{User: "b"})
	assert.Error(t, err)
	assert.Equal(t, int32(1), inner.calls.Load())
}

func TestRegistry(t *testing.T) {
	assert.Equal(t, []string{"anthropic", "gemini", "openai"}, Providers())

	_, _, err := New(context.Background(), "bard", Options{})
	assert.ErrorContains(t, err, "unknown llm provider")

	assert.Panics(t, func() {
		Register(config.ProviderAnthropic, func(context.Context, Options) (Model, func() error, error) { return nil, nil, nil })
	})

	m, closeFn, err := New(context.Background(), config.ProviderOpenAI, Options{APIKey: "k", RateLimit: 5, Burst: 1})
	require.NoError(t, err)
	require.NotNil(t, closeFn)
	assert.NoError(t, closeFn())
	assert.Equal(t, "openai/"+defaultOpenAIModel, m.Name())
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.New().LLM
	cfg.APIKey = config.Secret("secret")
	opts := OptionsFromConfig(cfg, time.Minute)
	assert.Equal(t, "secret", opts.APIKey)
	assert.Equal(t, cfg.MaxTokens, opts.MaxTokens)
	assert.Equal(t, time.Minute, opts.Timeout)
}
