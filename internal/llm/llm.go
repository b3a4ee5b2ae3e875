// Package llm adapts model providers to the single completion call the
// analyzer needs.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/time/rate"
)

// Prompt is one completion request. System carries the fixed instructions,
// User the per-batch payload.
type Prompt struct {
	System string
	User   string
}

// Model completes prompts. Implementations must be safe for concurrent use.
type Model interface {
	Name() string
	Complete(ctx context.Context, p Prompt) (string, error)
}

// Options configures a provider. Zero values fall back to provider defaults.
type Options struct {
	Model       string
	APIKey      string `json:"-"`
	BaseURL     string
	Temperature float64
	MaxTokens   int
	RateLimit   float64
	Burst       int
	Timeout     time.Duration
}

// ErrTruncated reports a response cut off by the output token limit.
var ErrTruncated = errors.New("model response truncated at max tokens")

// TransientError marks a failure worth retrying: rate limiting, server
// errors and timeouts.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

func transient(format string, args ...any) error {
	return &TransientError{Err: fmt.Errorf(format, args...)}
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return false
}

// limited paces calls to inner with a token bucket shared by all batches.
type limited struct {
	inner   Model
	limiter *rate.Limiter
}

func (l *limited) Name() string {
	return l.inner.Name()
}

func (l *limited) Complete(ctx context.Context, p Prompt) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter error: %w", err)
	}
	return l.inner.Complete(ctx, p)
}

// WithRateLimit wraps m so calls are paced at rps with the given burst.
func WithRateLimit(m Model, rps float64, burst int) Model {
	if rps <= 0 {
		return m
	}
	if burst <= 0 {
		burst = 1
	}
	return &limited{inner: m, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}
