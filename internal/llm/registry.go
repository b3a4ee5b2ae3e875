package llm

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"remediator/internal/config"
)

// Factory builds a provider from options. Providers needing cleanup return a
// non-nil close function.
type Factory func(ctx context.Context, opts Options) (Model, func() error, error)

var (
	providerRegistry = make(map[string]Factory)
	providerMu       sync.RWMutex
)

// Register makes a provider available by name. It panics on duplicates.
func Register(name string, f Factory) {
	if f == nil {
		panic("llm provider factory is nil")
	}
	if name == "" {
		panic("llm provider name is empty")
	}

	providerMu.Lock()
	defer providerMu.Unlock()
	if _, exists := providerRegistry[name]; exists {
		panic(fmt.Sprintf("llm provider %s already registered", name))
	}
	providerRegistry[name] = f
}

// Providers lists registered provider names.
func Providers() []string {
	providerMu.RLock()
	defer providerMu.RUnlock()

	out := make([]string, 0, len(providerRegistry))
	for name := range providerRegistry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// New builds the named provider wrapped with the configured rate limit. The
// returned close function is never nil.
func New(ctx context.Context, name string, opts Options) (Model, func() error, error) {
	providerMu.RLock()
	f, ok := providerRegistry[name]
	providerMu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("unknown llm provider %q (available: %v)", name, Providers())
	}

	m, closeFn, err := f(ctx, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("create %s provider: %w", name, err)
	}
	if closeFn == nil {
		closeFn = func() error { return nil }
	}
	return WithRateLimit(m, opts.RateLimit, opts.Burst), closeFn, nil
}

// OptionsFromConfig maps the llm config section onto provider options.
func OptionsFromConfig(c config.LLM, timeout time.Duration) Options {
	return Options{
		Model:       c.Model,
		APIKey:      c.APIKey.Value(),
		BaseURL:     c.BaseURL,
		Temperature: c.Temperature,
		MaxTokens:   c.MaxTokens,
		RateLimit:   c.RateLimit,
		Burst:       c.Burst,
		Timeout:     timeout,
	}
}
