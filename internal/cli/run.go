package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"remediator/internal/analyzer"
	"remediator/internal/config"
	"remediator/internal/data"
	"remediator/internal/engine"
	"remediator/internal/fetcher"
	"remediator/internal/flags"
	gh "remediator/internal/github"
	"remediator/internal/llm"
	"remediator/internal/logging"
	"remediator/internal/publisher"
)

// cfg holds flag values only; resolveConfig merges the ones the user set
// over the config file and environment.
var cfg = config.New()

var (
	configPath string
	inputPath  string
	intake     data.Request
)

const runHelpTemplate = `{{with (or .Long .Short)}}{{. | trimTrailingWhitespaces}}

{{end}}Usage:
  {{.UseLine}}

{{if .HasAvailableLocalFlags}}Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}

{{end}}{{if .HasAvailableInheritedFlags}}Global Flags:
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}

{{end}}Environment:
  GitHub access token, in order:
  1) github.token in the config file or REMEDIATOR_GITHUB_TOKEN
  2) GITHUB_TOKEN environment variable
  3) GitHub CLI (gh) authentication via gh auth token

  The token needs contents:write on the target repository to create the
  remediation branch and commit to it.

  Model API key, in order:
  1) llm.api_key in the config file or REMEDIATOR_LLM_API_KEY
  2) ANTHROPIC_API_KEY, OPENAI_API_KEY or GEMINI_API_KEY for the selected provider

  A .env file in the working directory is loaded at startup.

  Every config key can be set as REMEDIATOR_<SECTION>_<KEY>, e.g.
  REMEDIATOR_ANALYZER_MAX_BATCH_BYTES=40000.
`

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Remediate one repository branch",
	Long: `Fetch a branch, analyze every eligible file with a language model and commit
the proposed fixes to a new branch.

The invocation record can be given as JSON (--input, "-" reads stdin) or
assembled from flags. Flags override fields of the record:

  {
    "repository_link": "https://github.com/acme/widgets",
    "repository_name": "widgets",
    "branch_name": "main",
    "non_code_extensions": [".md", ".png"],
    "folders_to_exclude": ["vendor", "docs"],
    "new_branch_name": "ai-fixes"
  }

Output:
	Console output is controlled by --console-format (default: text).
	Structured outputs can be written via:
	- --out / --out-format: write the outcome record (json) or event stream (ndjson) to a file
	- --emit: write an additional structured stream to stdout (json or ndjson)
	- --report: write a Markdown summary usable as a pull request description
	- --no-console: suppress the console sink (use with --emit/--out)

	NDJSON mode emits one JSON object per line with a "type" field
	(run.started, plan, file.result, run.finished).

Exit codes:
	0 = success, or nothing to remediate
	2 = partial (some files could not be remediated)
	3 = failure (nothing committed, or the run could not start)

Examples:
  export GITHUB_TOKEN="<your_token>"
  export ANTHROPIC_API_KEY="<your_key>"
  remediator run --repo https://github.com/acme/widgets --branch main --new-branch ai-fixes \
    --exclude-ext .md,.png --exclude-folder vendor

  # Show the batch plan without calling the model or writing to GitHub
  remediator run --input request.json --dry-run

  # AI Agent: stream machine-readable events to stdout
  remediator run --input - --no-console --emit ndjson < request.json
`,
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) == 0 && cmd.Flags().NFlag() == 0 {
			_ = cmd.Help()
			return
		}
		os.Exit(executeRun(cmd, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr()))
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.SetHelpTemplate(runHelpTemplate)

	// MAINTAINER NOTE: every config-backed flag here needs an entry in
	// flagOverrides (overrides.go).

	// Invocation record
	runCmd.Flags().StringVar(&inputPath, flags.FlagInput, "", `Read the JSON invocation record from this file ("-" = stdin)`)
	runCmd.Flags().StringVar(&intake.RepositoryLink, flags.FlagRepo, "", "Repository link, e.g. https://github.com/OWNER/REPO")
	runCmd.Flags().StringVar(&intake.RepositoryName, flags.FlagRepoName, "", "Repository name (default: taken from --repo)")
	runCmd.Flags().StringVar(&intake.BranchName, flags.FlagBranch, "", "Source branch to read")
	runCmd.Flags().StringVar(&intake.NewBranchName, flags.FlagNewBranch, "", "Branch to create with the fixes (must not exist)")
	runCmd.Flags().StringSliceVar(&intake.NonCodeExtensions, flags.FlagExcludeExt, nil, "File extensions never analyzed (repeatable; comma-separated accepted)")
	runCmd.Flags().StringSliceVar(&intake.FoldersToExclude, flags.FlagExcludeFolder, nil, "Folders never analyzed (repeatable; comma-separated accepted)")

	// Model
	runCmd.Flags().StringVar(&cfg.LLM.Provider, flags.FlagProvider, cfg.LLM.Provider, "Model provider: anthropic|openai|gemini")
	runCmd.Flags().StringVar(&cfg.LLM.Model, flags.FlagModel, "", "Model name (default: provider default)")
	runCmd.Flags().Float64Var(&cfg.LLM.Temperature, flags.FlagTemperature, cfg.LLM.Temperature, "Sampling temperature")
	runCmd.Flags().Float64Var(&cfg.LLM.RateLimit, flags.FlagRateLimit, cfg.LLM.RateLimit, "Model requests per second")

	// Analysis
	runCmd.Flags().IntVar(&cfg.Analyzer.MaxBatchBytes, flags.FlagMaxBatchBytes, cfg.Analyzer.MaxBatchBytes, "Maximum file bytes per model request")
	runCmd.Flags().IntVar(&cfg.Analyzer.Concurrency, flags.FlagConcurrency, cfg.Analyzer.Concurrency, "Concurrent model requests")
	runCmd.Flags().DurationVar(&cfg.Analyzer.RequestTimeout, flags.FlagRequestTimeout, cfg.Analyzer.RequestTimeout, "Timeout for one model request")
	runCmd.Flags().IntVar(&cfg.Analyzer.Retries, flags.FlagRetries, cfg.Analyzer.Retries, "Retries for a transiently failed model request")

	// Publishing
	runCmd.Flags().StringVar(&cfg.Publisher.Mode, flags.FlagPublishMode, cfg.Publisher.Mode, "Commit strategy: auto|atomic|sequential")
	runCmd.Flags().StringVar(&cfg.Publisher.CommitMessage, flags.FlagCommitMessage, cfg.Publisher.CommitMessage, "Commit title")

	// Output
	runCmd.Flags().StringVar(&cfg.Output.ConsoleFormat, flags.FlagConsoleFormat, "text", "Console output format: text|json|ndjson")
	runCmd.Flags().StringVar(&cfg.Output.Report, flags.FlagReport, "", "Write a Markdown report to this path")
	runCmd.Flags().StringVar(&cfg.Output.Out, flags.FlagOut, "", "Write structured output to this path")
	runCmd.Flags().StringVar(&cfg.Output.OutFormat, flags.FlagOutFormat, "", "Structured output format for --out: json|ndjson (default: inferred from file extension)")
	runCmd.Flags().StringSliceVar(&cfg.Output.Emit, flags.FlagEmit, nil, "Emit additional structured stream to stdout: json|ndjson (repeatable; comma-separated accepted)")
	runCmd.Flags().BoolVar(&cfg.Output.NoConsole, flags.FlagNoConsole, false, "Suppress console output (use with --emit/--out/--report)")

	// Runtime
	runCmd.Flags().IntVar(&cfg.Runtime.Concurrency, flags.FlagFetchConcurrency, cfg.Runtime.Concurrency, "Concurrent blob downloads")
	runCmd.Flags().DurationVar(&cfg.Runtime.Timeout, flags.FlagTimeout, cfg.Runtime.Timeout, "Global timeout")
	runCmd.Flags().BoolVar(&cfg.Runtime.DryRun, flags.FlagDryRun, false, "List eligible files and the batch plan without calling the model or writing to GitHub")
}

// executeRun performs one run and returns the process exit code. Failures
// before the sinks exist print to stderr and return 3; later ones end in a
// failure outcome.
func executeRun(cmd *cobra.Command, stdin io.Reader, stdout, stderr io.Writer) int {
	conf, err := resolveConfig(cmd, configPath, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 3
	}

	logger, err := logging.New(conf.Logging.Level, conf.Logging.Format, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 3
	}
	defer func() { _ = logger.Sync() }()

	req, err := buildRequest(cmd, stdin)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 3
	}

	outMgr, err := engine.SetupOutput(conf, stdout)
	if err != nil {
		fmt.Fprintf(stderr, "Error creating output sinks: %v\n", err)
		return 3
	}
	defer func() {
		if err := outMgr.Close(); err != nil {
			fmt.Fprintf(stderr, "Error writing output: %v\n", err)
		}
	}()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, conf.Runtime.Timeout)
	defer cancel()

	engOpts := []engine.Option{
		engine.WithOutput(outMgr),
		engine.WithLogger(logger),
		engine.WithDryRun(conf.Runtime.DryRun),
	}

	// Intake failures are reported through the normal outcome path without
	// touching the network.
	ref, err := req.Ref()
	if err != nil {
		return engine.New(nil, nil, nil, engOpts...).Run(ctx, req).Status.ExitCode()
	}

	p, err := newPipeline(ctx, conf, ref, logger)
	if err != nil {
		return engine.New(nil, nil, nil, engOpts...).Abort(req, err, data.KindAccess).Status.ExitCode()
	}
	defer p.close()

	out := engine.New(p.fetcher, p.analyzer, p.publisher, engOpts...).Run(ctx, req)
	return out.Status.ExitCode()
}

// buildRequest reads --input (if any) and lays explicitly set intake flags
// over it.
func buildRequest(cmd *cobra.Command, stdin io.Reader) (data.Request, error) {
	var req data.Request
	if inputPath != "" {
		var rd io.Reader = stdin
		if inputPath != "-" {
			f, err := os.Open(inputPath)
			if err != nil {
				return data.Request{}, fmt.Errorf("open invocation record: %w", err)
			}
			defer f.Close()
			rd = f
		}
		var err error
		req, err = data.DecodeRequest(rd)
		if err != nil {
			return data.Request{}, err
		}
	}

	changed := func(name string) bool {
		f := cmd.Flags().Lookup(name)
		return f != nil && f.Changed
	}
	if changed(flags.FlagRepo) {
		req.RepositoryLink = intake.RepositoryLink
	}
	if changed(flags.FlagRepoName) {
		req.RepositoryName = intake.RepositoryName
	}
	if changed(flags.FlagBranch) {
		req.BranchName = intake.BranchName
	}
	if changed(flags.FlagNewBranch) {
		req.NewBranchName = intake.NewBranchName
	}
	if changed(flags.FlagExcludeExt) {
		req.NonCodeExtensions = config.SplitCommaList(intake.NonCodeExtensions)
	}
	if changed(flags.FlagExcludeFolder) {
		req.FoldersToExclude = config.SplitCommaList(intake.FoldersToExclude)
	}

	if strings.TrimSpace(req.RepositoryLink) == "" {
		return data.Request{}, errors.New("a repository is required (use --repo or --input)")
	}
	return req, nil
}

type pipeline struct {
	fetcher   *fetcher.Fetcher
	analyzer  *analyzer.Analyzer
	publisher *publisher.Publisher
	close     func()
}

func newPipeline(ctx context.Context, conf *config.Config, ref data.RepositoryRef, logger *zap.Logger) (*pipeline, error) {
	host := ref.Host
	token, source, err := gh.ResolveAuthToken(ctx, conf.GitHub.Token.Value(), host)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve GitHub auth token: %w", err)
	}
	if strings.TrimSpace(token) == "" {
		return nil, data.NewError(data.KindAccess, "", errors.New("GitHub auth token is required (set GITHUB_TOKEN or run 'gh auth login')"))
	}
	logger.Debug("resolved GitHub token", zap.String("source", string(source)))

	ghOpts := []gh.Option{gh.WithVerbose(conf.GitHub.Verbose, logger)}
	baseURL := conf.GitHub.BaseURL
	if baseURL == "" && host != "github.com" {
		baseURL = "https://" + host + "/api/v3/"
	}
	if baseURL != "" {
		ghOpts = append(ghOpts, gh.WithBaseURL(baseURL))
	}
	client, err := gh.NewClient(ctx, token, ghOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GitHub client: %w", err)
	}
	budget := gh.NewRequestBudget()

	f := fetcher.NewFetcher(client, budget,
		fetcher.WithConcurrency(conf.Runtime.Concurrency),
		fetcher.WithLogger(logger),
		fetcher.WithVerboseErrors(conf.GitHub.Verbose))

	pub := publisher.New(client, budget,
		publisher.WithMode(conf.Publisher.Mode),
		publisher.WithCommitMessage(conf.Publisher.CommitMessage),
		publisher.WithLogger(logger),
		publisher.WithVerboseErrors(conf.GitHub.Verbose))

	anOpts := []analyzer.Option{
		analyzer.WithMaxBatchBytes(conf.Analyzer.MaxBatchBytes),
		analyzer.WithConcurrency(conf.Analyzer.Concurrency),
		analyzer.WithRequestTimeout(conf.Analyzer.RequestTimeout),
		analyzer.WithRetries(conf.Analyzer.Retries, conf.Analyzer.RetryBackoff),
		analyzer.WithLogger(logger),
	}

	// A dry run only plans batches and needs no model.
	if conf.Runtime.DryRun {
		return &pipeline{fetcher: f, analyzer: analyzer.New(nil, anOpts...), publisher: pub, close: func() {}}, nil
	}

	model, closeModel, err := llm.New(ctx, conf.LLM.Provider, llm.OptionsFromConfig(conf.LLM, conf.Analyzer.RequestTimeout))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s model: %w", conf.LLM.Provider, err)
	}
	logger.Info("using model", zap.String("model", model.Name()))

	return &pipeline{
		fetcher:   f,
		analyzer:  analyzer.New(model, anOpts...),
		publisher: pub,
		close: func() {
			if err := closeModel(); err != nil {
				logger.Warn("closing model client failed", zap.Error(err))
			}
		},
	}, nil
}
