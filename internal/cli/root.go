package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"remediator/internal/flags"
)

var (
	buildVersion = "dev"
	buildCommit  = "unknown"
	buildDate    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "remediator",
	Short: "Find and fix code issues in a GitHub repository with a language model",
	Long: `Remediator reads a GitHub branch, asks a language model to review every
eligible source file, and commits the proposed fixes to a new branch.

The source branch is never modified. Every fix lands on the new branch for
human review.

Examples:
	# Show available commands and global flags
	remediator --help

	# Remediate a repository
	remediator run --repo https://github.com/acme/widgets --branch main --new-branch ai-fixes

	# Print build info
	remediator version

Output:
	By default, commands write human-readable output to stdout and logs to stderr.
	Structured output is available via --console-format, --emit and --out.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, flags.FlagConfig, "", "Path to a YAML config file")
	rootCmd.PersistentFlags().BoolVar(&cfg.GitHub.Verbose, flags.FlagVerbose, false, "Enable verbose logging (prints every GitHub API call and full error details)")
	rootCmd.PersistentFlags().StringVar(&cfg.Logging.Level, flags.FlagLogLevel, cfg.Logging.Level, "Log level: debug|info|warn|error")
	rootCmd.PersistentFlags().StringVar(&cfg.Logging.Format, flags.FlagLogFormat, cfg.Logging.Format, "Log format: console|json")
}

func SetBuildInfo(version, commit, date string) {
	if version != "" {
		buildVersion = version
	}
	if commit != "" {
		buildCommit = commit
	}
	if date != "" {
		buildDate = date
	}

	rootCmd.Version = fmt.Sprintf("%s (%s) %s", buildVersion, buildCommit, buildDate)
	rootCmd.SetVersionTemplate("{{.Version}}\n")
}

func BuildInfo() (version, commit, date string) {
	return buildVersion, buildCommit, buildDate
}

// Execute runs the root command. SIGINT and SIGTERM cancel the run context so
// an in-flight run still reports its outcome.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
