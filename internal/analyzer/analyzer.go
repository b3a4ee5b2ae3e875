// Package analyzer submits eligible files to a model in context-sized batches
// and turns the replies into per-file remediation results.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"remediator/internal/data"
	"remediator/internal/llm"
	"remediator/internal/logging"
)

const (
	defaultMaxBatchBytes  = 20_000
	defaultConcurrency    = 4
	defaultRequestTimeout = 3 * time.Minute
	defaultRetryBackoff   = 2 * time.Second
)

type Analyzer struct {
	model          llm.Model
	maxBatchBytes  int
	concurrency    int
	requestTimeout time.Duration
	retries        int
	backoff        time.Duration
	logger         *zap.Logger
}

type Option func(*Analyzer)

func WithMaxBatchBytes(n int) Option {
	return func(a *Analyzer) {
		if n > 0 {
			a.maxBatchBytes = n
		}
	}
}

// WithConcurrency bounds in-flight model requests.
func WithConcurrency(n int) Option {
	return func(a *Analyzer) {
		if n > 0 {
			a.concurrency = n
		}
	}
}

// WithRequestTimeout bounds a single model request; retries get a fresh one.
func WithRequestTimeout(d time.Duration) Option {
	return func(a *Analyzer) {
		if d > 0 {
			a.requestTimeout = d
		}
	}
}

// WithRetries sets how often a transiently failed request is retried and the
// initial backoff, which doubles per attempt.
func WithRetries(n int, backoff time.Duration) Option {
	return func(a *Analyzer) {
		if n >= 0 {
			a.retries = n
		}
		if backoff >= 0 {
			a.backoff = backoff
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(a *Analyzer) { a.logger = logging.OrNop(l) }
}

func New(model llm.Model, opts ...Option) *Analyzer {
	a := &Analyzer{
		model:          model,
		maxBatchBytes:  defaultMaxBatchBytes,
		concurrency:    defaultConcurrency,
		requestTimeout: defaultRequestTimeout,
		retries:        1,
		backoff:        defaultRetryBackoff,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Report is the merged outcome of all batches. Results and Errors are sorted
// by path.
type Report struct {
	Batches int
	Results []data.RemediationResult
	Errors  []data.FileError
}

// Plan exposes the batch layout Analyze would use for files.
func (a *Analyzer) Plan(files []data.FileEntry) []data.Batch {
	return Plan(files, a.maxBatchBytes)
}

// Analyze runs every batch, continuing past failed ones. A failed batch
// contributes one AnalysisError per file and no results.
func (a *Analyzer) Analyze(ctx context.Context, files []data.FileEntry) (*Report, error) {
	if a == nil || a.model == nil {
		return nil, errors.New("analyzer: nil model (use New)")
	}

	batches := a.Plan(files)
	originals := make(map[string]data.FileEntry, len(files))
	for _, f := range files {
		originals[f.Path] = f
	}
	for _, b := range batches {
		for p, cut := range b.Truncated {
			a.logger.Warn("file exceeds batch budget; analyzing truncated prefix (degraded)",
				zap.String("path", p),
				zap.Int("size", len(originals[p].Content)),
				zap.Int("analyzed_bytes", cut))
		}
	}

	type batchOutcome struct {
		results []data.RemediationResult
		errs    []data.FileError
	}
	outcomes := make([]batchOutcome, len(batches))
	system := llm.Prompt{System: SystemPrompt()}

	g := new(errgroup.Group)
	g.SetLimit(a.concurrency)
	for i, b := range batches {
		g.Go(func() error {
			start := time.Now()
			results, err := a.runBatch(ctx, system, b, originals)
			if err != nil {
				a.logger.Warn("batch analysis failed",
					zap.Int("batch", b.Index),
					zap.Strings("paths", b.Paths()),
					zap.Error(err))
				for _, p := range b.Paths() {
					outcomes[i].errs = append(outcomes[i].errs, data.FileError{
						Path:    p,
						Kind:    data.KindAnalysis,
						Message: fmt.Sprintf("batch %d: %v", b.Index, err),
					})
				}
				return nil
			}
			a.logger.Debug("batch analyzed",
				zap.Int("batch", b.Index),
				zap.Int("files", len(b.Files)),
				zap.Int("bytes", b.Size()),
				zap.Duration("latency", time.Since(start).Truncate(time.Millisecond)))
			outcomes[i].results = results
			return nil
		})
	}
	_ = g.Wait()

	rep := &Report{Batches: len(batches)}
	for _, o := range outcomes {
		rep.Results = append(rep.Results, o.results...)
		rep.Errors = append(rep.Errors, o.errs...)
	}
	sort.Slice(rep.Results, func(i, j int) bool { return rep.Results[i].Path < rep.Results[j].Path })
	sort.Slice(rep.Errors, func(i, j int) bool { return rep.Errors[i].Path < rep.Errors[j].Path })
	return rep, nil
}

func (a *Analyzer) runBatch(ctx context.Context, base llm.Prompt, b data.Batch, originals map[string]data.FileEntry) ([]data.RemediationResult, error) {
	prompt := base
	prompt.User = BuildPrompt(b)

	reply, err := a.complete(ctx, prompt)
	if err != nil {
		return nil, err
	}
	parsed, err := parseResponse(reply, b)
	if err != nil {
		return nil, fmt.Errorf("malformed model output: %w", err)
	}

	results := make([]data.RemediationResult, 0, len(b.Files))
	for _, sent := range b.Files {
		orig := originals[sent.Path]
		cut, truncated := b.Truncated[sent.Path]
		results = append(results, buildResult(orig, sent, parsed[sent.Path], cut, truncated))
	}
	return results, nil
}

// complete calls the model, retrying transient failures with exponential
// backoff. Each attempt runs under its own timeout.
func (a *Analyzer) complete(ctx context.Context, p llm.Prompt) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= a.retries; attempt++ {
		if attempt > 0 {
			backoff := a.backoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		reqCtx, cancel := context.WithTimeout(ctx, a.requestTimeout)
		reply, err := a.model.Complete(reqCtx, p)
		cancel()
		if err == nil {
			return reply, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !llm.IsTransient(err) {
			return "", err
		}
		a.logger.Debug("transient model error",
			zap.String("model", a.model.Name()),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return "", fmt.Errorf("giving up after %d attempts: %w", a.retries+1, lastErr)
}

// buildResult maps a parsed block onto the original file. Clean files keep
// their original content. For a truncated file the untouched tail is appended
// to the model's version of the prefix.
func buildResult(orig, sent data.FileEntry, res parsedResult, cut int, truncated bool) data.RemediationResult {
	out := data.RemediationResult{
		Path:         orig.Path,
		OriginalHash: orig.Hash,
		Issues:       res.issues,
		Summary:      Summarize(res.issues),
		Degraded:     truncated,
	}

	if res.status == statusClean {
		out.ProposedContent = orig.Content
		return out
	}

	code := res.code
	if !strings.HasSuffix(string(sent.Content), "\n") {
		code = strings.TrimSuffix(code, "\n")
	} else if code != "" && !strings.HasSuffix(code, "\n") {
		code += "\n"
	}

	proposed := []byte(code)
	if truncated {
		proposed = append(proposed, orig.Content[cut:]...)
	}
	out.ProposedContent = proposed
	return out
}

// Summarize renders issue counts per kind, e.g. "2 potential bug, 1 code
// style issue".
func Summarize(issues []data.Issue) string {
	if len(issues) == 0 {
		return "no issues found"
	}
	counts := make(map[data.IssueKind]int)
	for _, is := range issues {
		counts[is.Kind]++
	}
	var parts []string
	for _, k := range data.IssueKinds() {
		if n := counts[k]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, k))
		}
	}
	return strings.Join(parts, ", ")
}
