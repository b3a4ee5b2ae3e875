package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

type Config struct {
	// MAINTAINER NOTE: If you add/change/remove config fields, keep these in sync:
	// - CLI flags in internal/cli/run.go
	// - the env mapping in load.go
	GitHub    GitHub    `koanf:"github"`
	LLM       LLM       `koanf:"llm"`
	Analyzer  Analyzer  `koanf:"analyzer"`
	Publisher Publisher `koanf:"publisher"`
	Output    Output    `koanf:"output"`
	Logging   Logging   `koanf:"logging"`
	Runtime   Runtime   `koanf:"runtime"`
}

type GitHub struct {
	// Token is the GitHub access token. When empty it is resolved from
	// GITHUB_TOKEN or the gh CLI.
	Token Secret `koanf:"token"`

	// BaseURL points the client at a GitHub Enterprise Server API
	// (e.g. https://ghe.example.com/api/v3/). Empty means api.github.com.
	BaseURL string `koanf:"base_url"`

	// Verbose logs every GitHub API call (see --verbose).
	Verbose bool `koanf:"verbose"`
}

type LLM struct {
	// Provider selects the model backend: anthropic, openai or gemini.
	Provider string `koanf:"provider"`

	// Model is the provider-specific model name. Empty uses the provider default.
	Model string `koanf:"model"`

	// APIKey authenticates to the provider. When empty it falls back to the
	// provider's conventional environment variable.
	APIKey Secret `koanf:"api_key"`

	// BaseURL overrides the provider endpoint (HTTP providers only).
	BaseURL string `koanf:"base_url"`

	Temperature float64 `koanf:"temperature"`
	MaxTokens   int     `koanf:"max_tokens"`

	// RateLimit is the sustained request rate in requests per second.
	RateLimit float64 `koanf:"rate_limit"`
	Burst     int     `koanf:"burst"`

	keyFromFallback bool
}

type Analyzer struct {
	// MaxBatchBytes bounds the summed content size of one analysis request.
	MaxBatchBytes int `koanf:"max_batch_bytes"`

	// Concurrency bounds in-flight analysis requests (see --concurrency).
	Concurrency int `koanf:"concurrency"`

	// RequestTimeout bounds one analysis request, retries excluded.
	RequestTimeout time.Duration `koanf:"request_timeout"`

	// Retries is how many times a transiently failed request is retried.
	Retries int `koanf:"retries"`

	// RetryBackoff is the wait before the first retry; it doubles per attempt.
	RetryBackoff time.Duration `koanf:"retry_backoff"`
}

type Publisher struct {
	// Mode selects the commit strategy: auto, atomic or sequential.
	Mode string `koanf:"mode"`

	// CommitMessage is the commit title. A per-file issue summary is appended.
	CommitMessage string `koanf:"commit_message"`
}

type Output struct {
	// ConsoleFormat controls the console sink format (see --console-format).
	// Allowed values: text, json, ndjson.
	ConsoleFormat string `koanf:"console_format"`

	// NoConsole suppresses the console sink (see --no-console).
	NoConsole bool `koanf:"no_console"`

	// Out writes structured output to this path (see --out).
	Out string `koanf:"out"`

	// OutFormat selects the format for --out. Inferred from the extension when empty.
	OutFormat string `koanf:"out_format"`

	// Report writes a Markdown remediation report to this path (see --report).
	Report string `koanf:"report"`

	// Emit adds structured streams on stdout (see --emit).
	// Allowed values: json, ndjson.
	Emit []string `koanf:"emit"`
}

type Logging struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level"`

	// Format is json or console.
	Format string `koanf:"format"`
}

type Runtime struct {
	// Concurrency bounds parallel blob downloads (see --fetch-concurrency).
	Concurrency int `koanf:"concurrency"`

	// Timeout is the global timeout for the run (see --timeout).
	Timeout time.Duration `koanf:"timeout"`

	// DryRun fetches and plans batches without calling the model or
	// writing to the repository (see --dry-run).
	DryRun bool `koanf:"dry_run"`
}

const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"

	// BytesPerToken is a conservative estimate of source bytes per model
	// output token.
	BytesPerToken = 3

	PublishAuto       = "auto"
	PublishAtomic     = "atomic"
	PublishSequential = "sequential"
)

func New() *Config {
	return &Config{
		LLM: LLM{
			Provider:    ProviderAnthropic,
			Temperature: 0.2,
			MaxTokens:   16384,
			RateLimit:   1,
			Burst:       2,
		},
		Analyzer: Analyzer{
			MaxBatchBytes:  20_000,
			Concurrency:    4,
			RequestTimeout: 3 * time.Minute,
			Retries:        1,
			RetryBackoff:   2 * time.Second,
		},
		Publisher: Publisher{
			Mode:          PublishAuto,
			CommitMessage: "Remediated code",
		},
		Output: Output{
			ConsoleFormat: "text",
		},
		Logging: Logging{
			Level:  "info",
			Format: "console",
		},
		Runtime: Runtime{
			Concurrency: 8,
			Timeout:     30 * time.Minute,
		},
	}
}

func (c *Config) Validate() error {
	c.LLM.Provider = normalizeEnumValue(c.LLM.Provider)
	switch c.LLM.Provider {
	case ProviderAnthropic, ProviderOpenAI, ProviderGemini:
	case "":
		return errors.New("llm.provider must be one of: anthropic, openai, gemini")
	default:
		return fmt.Errorf("unsupported llm.provider: %s (must be one of: anthropic, openai, gemini)", c.LLM.Provider)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return errors.New("llm.temperature must be between 0 and 2")
	}
	if c.LLM.MaxTokens <= 0 {
		return errors.New("llm.max_tokens must be >= 1")
	}
	if c.LLM.RateLimit <= 0 {
		return errors.New("llm.rate_limit must be > 0")
	}
	if c.LLM.Burst <= 0 {
		c.LLM.Burst = 1
	}

	if c.Analyzer.MaxBatchBytes <= 0 {
		return errors.New("--max-batch-bytes must be >= 1")
	}
	// Fixed files come back in full, so a batch must fit the output budget.
	if limit := c.LLM.MaxTokens * BytesPerToken; c.Analyzer.MaxBatchBytes > limit {
		return fmt.Errorf("--max-batch-bytes %d exceeds what llm.max_tokens %d can return (at most %d bytes); lower it or raise llm.max_tokens",
			c.Analyzer.MaxBatchBytes, c.LLM.MaxTokens, limit)
	}
	if c.Analyzer.Concurrency <= 0 {
		return errors.New("--concurrency must be >= 1")
	}
	if c.Analyzer.RequestTimeout <= 0 {
		return errors.New("--request-timeout must be > 0")
	}
	if c.Analyzer.Retries < 0 {
		return errors.New("analyzer.retries must be >= 0")
	}
	if c.Analyzer.RetryBackoff < 0 {
		return errors.New("analyzer.retry_backoff must be >= 0")
	}

	c.Publisher.Mode = normalizeEnumValue(c.Publisher.Mode)
	if c.Publisher.Mode == "" {
		c.Publisher.Mode = PublishAuto
	}
	if c.Publisher.Mode != PublishAuto && c.Publisher.Mode != PublishAtomic && c.Publisher.Mode != PublishSequential {
		return fmt.Errorf("unsupported --publish-mode: %s (must be one of: auto, atomic, sequential)", c.Publisher.Mode)
	}
	c.Publisher.CommitMessage = strings.TrimSpace(c.Publisher.CommitMessage)
	if c.Publisher.CommitMessage == "" {
		c.Publisher.CommitMessage = "Remediated code"
	}

	c.Output.ConsoleFormat = normalizeEnumValue(c.Output.ConsoleFormat)
	if c.Output.ConsoleFormat == "" {
		return errors.New("--console-format must be one of: text, json, ndjson")
	}
	if c.Output.ConsoleFormat != "text" && c.Output.ConsoleFormat != "json" && c.Output.ConsoleFormat != "ndjson" {
		return fmt.Errorf("unsupported --console-format: %s (must be one of: text, json, ndjson)", c.Output.ConsoleFormat)
	}
	emits := make([]string, 0, len(c.Output.Emit))
	for _, e := range SplitCommaList(c.Output.Emit) {
		e = normalizeEnumValue(e)
		if e != "json" && e != "ndjson" {
			return fmt.Errorf("unsupported --emit: %s (must be one of: json, ndjson)", e)
		}
		if !slices.Contains(emits, e) {
			emits = append(emits, e)
		}
	}
	c.Output.Emit = emits
	if c.Output.ConsoleFormat != "text" && !c.Output.NoConsole && len(c.Output.Emit) > 0 {
		return errors.New("--emit writes to stdout and conflicts with a structured --console-format; use --no-console or --console-format text")
	}
	if c.Output.Out != "" {
		c.Output.OutFormat = normalizeEnumValue(c.Output.OutFormat)
		if c.Output.OutFormat == "" {
			ext := strings.ToLower(filepath.Ext(c.Output.Out))
			switch ext {
			case ".json":
				c.Output.OutFormat = "json"
			case ".ndjson", ".jsonl":
				c.Output.OutFormat = "ndjson"
			default:
				if ext == "" {
					return errors.New("cannot infer output format from file extension (missing extension); use --out-format")
				}
				return fmt.Errorf("cannot infer output format from file extension %q; use --out-format", ext)
			}
		} else if c.Output.OutFormat != "json" && c.Output.OutFormat != "ndjson" {
			return fmt.Errorf("unsupported output format: %s", c.Output.OutFormat)
		}
	}

	c.Logging.Level = normalizeEnumValue(c.Logging.Level)
	switch c.Logging.Level {
	case "":
		c.Logging.Level = "info"
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported --log-level: %s (must be one of: debug, info, warn, error)", c.Logging.Level)
	}
	c.Logging.Format = normalizeEnumValue(c.Logging.Format)
	switch c.Logging.Format {
	case "":
		c.Logging.Format = "console"
	case "console", "json":
	default:
		return fmt.Errorf("unsupported --log-format: %s (must be one of: console, json)", c.Logging.Format)
	}

	if c.Runtime.Concurrency <= 0 {
		return errors.New("--fetch-concurrency must be >= 1")
	}
	if c.Runtime.Timeout <= 0 {
		return errors.New("--timeout must be > 0")
	}

	c.GitHub.BaseURL = strings.TrimSpace(c.GitHub.BaseURL)
	if c.GitHub.BaseURL != "" && !strings.HasSuffix(c.GitHub.BaseURL, "/") {
		c.GitHub.BaseURL += "/"
	}

	return nil
}

func normalizeEnumValue(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// SplitCommaList flattens repeated and comma-separated flag values.
func SplitCommaList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			p := strings.TrimSpace(part)
			if p == "" {
				continue
			}
			out = append(out, p)
		}
	}
	return out
}
