// Package flags defines canonical CLI flag names shared by the command
// wiring and the config override table, so the two cannot drift apart.
//
// These are flag names without leading dashes:
//
//	cmd.Flags().StringVar(&cfg.Output.Report, flags.FlagReport, "", "...")
//	arg := "--" + flags.FlagReport
package flags

const (
	// Global
	FlagConfig    = "config"
	FlagVerbose   = "verbose"
	FlagLogLevel  = "log-level"
	FlagLogFormat = "log-format"

	// Invocation record
	FlagInput         = "input"
	FlagRepo          = "repo"
	FlagRepoName      = "repo-name"
	FlagBranch        = "branch"
	FlagNewBranch     = "new-branch"
	FlagExcludeExt    = "exclude-ext"
	FlagExcludeFolder = "exclude-folder"

	// Model
	FlagProvider    = "provider"
	FlagModel       = "model"
	FlagTemperature = "temperature"
	FlagRateLimit   = "rate-limit"

	// Analysis
	FlagMaxBatchBytes  = "max-batch-bytes"
	FlagConcurrency    = "concurrency"
	FlagRequestTimeout = "request-timeout"
	FlagRetries        = "retries"

	// Publishing
	FlagPublishMode   = "publish-mode"
	FlagCommitMessage = "commit-message"

	// Output
	FlagConsoleFormat = "console-format"
	FlagReport        = "report"
	FlagOut           = "out"
	FlagOutFormat     = "out-format"
	FlagEmit          = "emit"
	FlagNoConsole     = "no-console"

	// Runtime
	FlagFetchConcurrency = "fetch-concurrency"
	FlagTimeout          = "timeout"
	FlagDryRun           = "dry-run"
)
