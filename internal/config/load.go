package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix namespaces environment overrides, e.g. REMEDIATOR_LLM_MODEL.
const EnvPrefix = "REMEDIATOR_"

const maxConfigFileSize = 1024 * 1024

// providerKeyEnv lists the conventional API key variable per provider.
var providerKeyEnv = map[string]string{
	ProviderAnthropic: "ANTHROPIC_API_KEY",
	ProviderOpenAI:    "OPENAI_API_KEY",
	ProviderGemini:    "GEMINI_API_KEY",
}

// Load layers configuration onto cfg.
//
// Precedence (highest to lowest):
//  1. REMEDIATOR_* environment variables
//  2. YAML config file at path (optional; empty path skips it)
//  3. values already present in cfg (normally New())
//
// CLI flags are applied by the caller after Load.
//
// Environment keys split on the first underscore after the prefix:
//
//	REMEDIATOR_LLM_API_KEY          -> llm.api_key
//	REMEDIATOR_ANALYZER_MAX_BATCH_BYTES -> analyzer.max_batch_bytes
func Load(cfg *Config, path string) error {
	if cfg == nil {
		return fmt.Errorf("load config: nil config")
	}
	k := koanf.New(".")

	if path != "" {
		content, err := readConfigFile(path)
		if err != nil {
			return err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyCredentialFallbacks(cfg)
	return nil
}

func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, field, ok := strings.Cut(lower, "_")
	if !ok {
		return lower
	}
	return section + "." + field
}

func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("config path %s is a directory", path)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file %s exceeds %d bytes", path, maxConfigFileSize)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// ApplyCredentialFallbacks fills llm.api_key from the provider's conventional
// environment variable when no key was configured. A key that came from a
// fallback is recomputed, so calling it again after the provider changed
// picks the right variable.
func ApplyCredentialFallbacks(cfg *Config) {
	if cfg.LLM.APIKey.IsSet() && !cfg.LLM.keyFromFallback {
		return
	}
	cfg.LLM.APIKey = ""
	cfg.LLM.keyFromFallback = false
	name, ok := providerKeyEnv[normalizeEnumValue(cfg.LLM.Provider)]
	if !ok {
		return
	}
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		cfg.LLM.APIKey = Secret(v)
		cfg.LLM.keyFromFallback = true
	}
}
