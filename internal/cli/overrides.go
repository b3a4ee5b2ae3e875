package cli

import (
	"github.com/spf13/cobra"

	"remediator/internal/config"
	"remediator/internal/flags"
)

// flagOverrides copies one flag-bound field from src into dst. Only flags the
// user actually set are applied, so config file and environment values
// survive flag defaults.
var flagOverrides = map[string]func(dst, src *config.Config){
	flags.FlagVerbose:   func(d, s *config.Config) { d.GitHub.Verbose = s.GitHub.Verbose },
	flags.FlagLogLevel:  func(d, s *config.Config) { d.Logging.Level = s.Logging.Level },
	flags.FlagLogFormat: func(d, s *config.Config) { d.Logging.Format = s.Logging.Format },

	flags.FlagProvider:    func(d, s *config.Config) { d.LLM.Provider = s.LLM.Provider },
	flags.FlagModel:       func(d, s *config.Config) { d.LLM.Model = s.LLM.Model },
	flags.FlagTemperature: func(d, s *config.Config) { d.LLM.Temperature = s.LLM.Temperature },
	flags.FlagRateLimit:   func(d, s *config.Config) { d.LLM.RateLimit = s.LLM.RateLimit },

	flags.FlagMaxBatchBytes:  func(d, s *config.Config) { d.Analyzer.MaxBatchBytes = s.Analyzer.MaxBatchBytes },
	flags.FlagConcurrency:    func(d, s *config.Config) { d.Analyzer.Concurrency = s.Analyzer.Concurrency },
	flags.FlagRequestTimeout: func(d, s *config.Config) { d.Analyzer.RequestTimeout = s.Analyzer.RequestTimeout },
	flags.FlagRetries:        func(d, s *config.Config) { d.Analyzer.Retries = s.Analyzer.Retries },

	flags.FlagPublishMode:   func(d, s *config.Config) { d.Publisher.Mode = s.Publisher.Mode },
	flags.FlagCommitMessage: func(d, s *config.Config) { d.Publisher.CommitMessage = s.Publisher.CommitMessage },

	flags.FlagConsoleFormat: func(d, s *config.Config) { d.Output.ConsoleFormat = s.Output.ConsoleFormat },
	flags.FlagReport:        func(d, s *config.Config) { d.Output.Report = s.Output.Report },
	flags.FlagOut:           func(d, s *config.Config) { d.Output.Out = s.Output.Out },
	flags.FlagOutFormat:     func(d, s *config.Config) { d.Output.OutFormat = s.Output.OutFormat },
	flags.FlagEmit:          func(d, s *config.Config) { d.Output.Emit = s.Output.Emit },
	flags.FlagNoConsole:     func(d, s *config.Config) { d.Output.NoConsole = s.Output.NoConsole },

	flags.FlagFetchConcurrency: func(d, s *config.Config) { d.Runtime.Concurrency = s.Runtime.Concurrency },
	flags.FlagTimeout:          func(d, s *config.Config) { d.Runtime.Timeout = s.Runtime.Timeout },
	flags.FlagDryRun:           func(d, s *config.Config) { d.Runtime.DryRun = s.Runtime.DryRun },
}

func applyFlagOverrides(cmd *cobra.Command, dst, src *config.Config) {
	if cmd == nil {
		return
	}
	for name, apply := range flagOverrides {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			apply(dst, src)
		}
	}
}

// resolveConfig layers defaults, the config file, REMEDIATOR_* environment
// variables and explicitly set flags, then validates the result.
func resolveConfig(cmd *cobra.Command, path string, flagged *config.Config) (*config.Config, error) {
	resolved := config.New()
	if err := config.Load(resolved, path); err != nil {
		return nil, err
	}
	applyFlagOverrides(cmd, resolved, flagged)
	config.ApplyCredentialFallbacks(resolved)
	if err := resolved.Validate(); err != nil {
		return nil, err
	}
	return resolved, nil
}
