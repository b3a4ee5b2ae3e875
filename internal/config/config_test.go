package config

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestSplitCommaList(t *testing.T) {
	got := SplitCommaList([]string{".md, .png", "docs", ",,"})
	want := []string{".md", ".png", "docs"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("SplitCommaList mismatch: got %v want %v", got, want)
	}
}

func TestValidate_DefaultsAreValid(t *testing.T) {
	cfg := New()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() returned error for defaults: %v", err)
	}
	if cfg.Publisher.CommitMessage != "Remediated code" {
		t.Fatalf("unexpected default commit message: %q", cfg.Publisher.CommitMessage)
	}
}

func TestValidate_NormalizesEnums(t *testing.T) {
	cfg := New()
	cfg.LLM.Provider = " Gemini "
	cfg.Publisher.Mode = "SEQUENTIAL"
	cfg.Output.ConsoleFormat = "JSON"
	cfg.Logging.Level = "Debug"
	cfg.Logging.Format = ""

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() returned error: %v", err)
	}
	if cfg.LLM.Provider != ProviderGemini {
		t.Fatalf("provider: got %q", cfg.LLM.Provider)
	}
	if cfg.Publisher.Mode != PublishSequential {
		t.Fatalf("publish mode: got %q", cfg.Publisher.Mode)
	}
	if cfg.Output.ConsoleFormat != "json" {
		t.Fatalf("console format: got %q", cfg.Output.ConsoleFormat)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "console" {
		t.Fatalf("logging: got %+v", cfg.Logging)
	}
}

func TestValidate_RejectsInvalidEnums(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		substr string
	}{
		{name: "provider", mutate: func(c *Config) { c.LLM.Provider = "bard" }, substr: "llm.provider"},
		{name: "empty provider", mutate: func(c *Config) { c.LLM.Provider = " " }, substr: "llm.provider"},
		{name: "publish mode", mutate: func(c *Config) { c.Publisher.Mode = "push" }, substr: "--publish-mode"},
		{name: "console format", mutate: func(c *Config) { c.Output.ConsoleFormat = "xml" }, substr: "--console-format"},
		{name: "log level", mutate: func(c *Config) { c.Logging.Level = "trace" }, substr: "--log-level"},
		{name: "log format", mutate: func(c *Config) { c.Logging.Format = "logfmt" }, substr: "--log-format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := New()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tt.substr) {
				t.Fatalf("error %q does not mention %q", err.Error(), tt.substr)
			}
		})
	}
}

func TestValidate_RejectsInvalidBounds(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "batch bytes", mutate: func(c *Config) { c.Analyzer.MaxBatchBytes = 0 }},
		{name: "concurrency", mutate: func(c *Config) { c.Analyzer.Concurrency = 0 }},
		{name: "request timeout", mutate: func(c *Config) { c.Analyzer.RequestTimeout = 0 }},
		{name: "retries", mutate: func(c *Config) { c.Analyzer.Retries = -1 }},
		{name: "temperature", mutate: func(c *Config) { c.LLM.Temperature = 3 }},
		{name: "max tokens", mutate: func(c *Config) { c.LLM.MaxTokens = 0 }},
		{name: "batch larger than output budget", mutate: func(c *Config) {
			c.LLM.MaxTokens = 1000
			c.Analyzer.MaxBatchBytes = 3001
		}},
		{name: "rate limit", mutate: func(c *Config) { c.LLM.RateLimit = 0 }},
		{name: "fetch concurrency", mutate: func(c *Config) { c.Runtime.Concurrency = -2 }},
		{name: "timeout", mutate: func(c *Config) { c.Runtime.Timeout = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := New()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestValidate_BatchFitsOutputBudget(t *testing.T) {
	cfg := New()
	if cfg.Analyzer.MaxBatchBytes > cfg.LLM.MaxTokens*BytesPerToken {
		t.Fatalf("default batch size %d exceeds the default output budget", cfg.Analyzer.MaxBatchBytes)
	}

	cfg.LLM.MaxTokens = 1000
	cfg.Analyzer.MaxBatchBytes = 3000
	if err := cfg.Validate(); err != nil {
		t.Fatalf("batch exactly at the output budget should be valid: %v", err)
	}

	cfg.Analyzer.MaxBatchBytes = 60_000
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "llm.max_tokens") {
		t.Fatalf("expected output budget error, got %v", err)
	}
}

func TestValidate_OutFormatInference(t *testing.T) {
	for _, tc := range []struct {
		path string
		want string
	}{
		{path: "out/result.json", want: "json"},
		{path: "events.ndjson", want: "ndjson"},
		{path: "events.jsonl", want: "ndjson"},
	} {
		t.Run(tc.path, func(t *testing.T) {
			cfg := New()
			cfg.Output.Out = tc.path
			if err := cfg.Validate(); err != nil {
				t.Fatalf("Validate() returned error: %v", err)
			}
			if cfg.Output.OutFormat != tc.want {
				t.Fatalf("OutFormat: got %q want %q", cfg.Output.OutFormat, tc.want)
			}
		})
	}

	cfg := New()
	cfg.Output.Out = "result"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for missing extension")
	}
}

func TestValidate_BaseURLGetsTrailingSlash(t *testing.T) {
	cfg := New()
	cfg.GitHub.BaseURL = "https://ghe.example.com/api/v3"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() returned error: %v", err)
	}
	if cfg.GitHub.BaseURL != "https://ghe.example.com/api/v3/" {
		t.Fatalf("BaseURL: got %q", cfg.GitHub.BaseURL)
	}
}

func TestSecret_Redacts(t *testing.T) {
	s := Secret("sk-live-123")
	if got := fmt.Sprintf("%v %s %#v", s, s, s); strings.Contains(got, "sk-live") {
		t.Fatalf("secret leaked through formatting: %s", got)
	}
	b, err := s.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	if string(b) != `"[REDACTED]"` {
		t.Fatalf("MarshalJSON: got %s", b)
	}
	if s.Value() != "sk-live-123" || !s.IsSet() {
		t.Fatalf("Value/IsSet mismatch")
	}
}

func TestValidate_Emit(t *testing.T) {
	cfg := New()
	cfg.Output.Emit = []string{"NDJSON, json", "ndjson"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() returned error: %v", err)
	}
	if !reflect.DeepEqual(cfg.Output.Emit, []string{"ndjson", "json"}) {
		t.Fatalf("Emit: got %v", cfg.Output.Emit)
	}

	cfg = New()
	cfg.Output.Emit = []string{"yaml"}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "--emit") {
		t.Fatalf("expected --emit error, got %v", err)
	}

	cfg = New()
	cfg.Output.ConsoleFormat = "json"
	cfg.Output.Emit = []string{"ndjson"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected conflict between json console and --emit")
	}
	cfg.Output.NoConsole = true
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() with --no-console returned error: %v", err)
	}
}
