// Package engine sequences a remediation run: fetch, select, analyze, apply,
// publish. Every run ends in a data.Outcome; nothing here returns a bare
// error to the caller.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"remediator/internal/analyzer"
	"remediator/internal/data"
	"remediator/internal/logging"
	"remediator/internal/output"
	"remediator/internal/patch"
	"remediator/internal/publisher"
	"remediator/internal/selector"
)

// SnapshotFetcher is implemented by *fetcher.Fetcher.
type SnapshotFetcher interface {
	Snapshot(ctx context.Context, ref data.RepositoryRef, keep func(path string) bool) (*data.Snapshot, error)
}

// Analyzer is implemented by *analyzer.Analyzer.
type Analyzer interface {
	Plan(files []data.FileEntry) []data.Batch
	Analyze(ctx context.Context, files []data.FileEntry) (*analyzer.Report, error)
}

// Publisher is implemented by *publisher.Publisher.
type Publisher interface {
	CheckAvailable(ctx context.Context, ref data.RepositoryRef) error
	Publish(ctx context.Context, ref data.RepositoryRef, snap *data.Snapshot, results []data.RemediationResult) (*publisher.Publication, error)
}

type Engine struct {
	fetcher   SnapshotFetcher
	analyzer  Analyzer
	publisher Publisher
	out       *output.Manager
	logger    *zap.Logger
	dryRun    bool

	// newRunID is a test seam.
	newRunID func() string
}

type Option func(*Engine)

// WithOutput sends run events to mgr. The engine never closes it.
func WithOutput(mgr *output.Manager) Option {
	return func(e *Engine) { e.out = mgr }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = logging.OrNop(l) }
}

// WithDryRun stops after selection and reports the batch plan instead of
// calling the model or writing to the repository.
func WithDryRun(v bool) Option {
	return func(e *Engine) { e.dryRun = v }
}

func New(f SnapshotFetcher, a Analyzer, p Publisher, opts ...Option) *Engine {
	e := &Engine{
		fetcher:   f,
		analyzer:  a,
		publisher: p,
		logger:    zap.NewNop(),
		newRunID:  uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// run carries the per-invocation state.
type run struct {
	id     string
	ref    data.RepositoryRef
	logger *zap.Logger
}

// Run executes one invocation record end to end.
func (e *Engine) Run(ctx context.Context, req data.Request) *data.Outcome {
	r := e.newRun()

	ref, err := req.Ref()
	if err != nil {
		return e.fail(r, err, data.KindInvalidInput)
	}
	r.bind(ref)

	if ctx == nil {
		return e.fail(r, errors.New("nil context"), data.KindInvalidInput)
	}
	if e.fetcher == nil || e.analyzer == nil || e.publisher == nil {
		return e.fail(r, errors.New("engine is missing a pipeline stage (use New)"), data.KindInvalidInput)
	}

	sel := selector.New(req.Policy())
	snap, err := e.fetcher.Snapshot(ctx, ref, sel.Keep)
	if err != nil {
		return e.fail(r, err, data.KindAccess)
	}
	eligible := sel.Select(snap.Files)
	r.logger.Info("snapshot fetched",
		zap.String("commit", snap.CommitSHA),
		zap.Int("files", len(snap.Files)),
		zap.Int("eligible", len(eligible)))

	e.write(output.Event{
		Type:      output.EventRunStarted,
		RunID:     r.id,
		Repo:      ref.FullName(),
		Branch:    ref.SourceBranch,
		NewBranch: ref.NewBranch,
		Files:     len(eligible),
	})

	if len(eligible) == 0 {
		return e.finish(r, &data.Outcome{Status: data.StatusNoOp})
	}

	if e.dryRun {
		e.write(planFor(eligible, e.analyzer.Plan(eligible)))
		return e.finish(r, &data.Outcome{Status: data.StatusNoOp})
	}

	if err := e.publisher.CheckAvailable(ctx, ref); err != nil {
		return e.fail(r, err, data.KindAccess)
	}

	report, err := e.analyzer.Analyze(ctx, eligible)
	if err != nil {
		return e.fail(r, err, data.KindAnalysis)
	}
	r.logger.Info("analysis finished",
		zap.Int("batches", report.Batches),
		zap.Int("results", len(report.Results)),
		zap.Int("errors", len(report.Errors)))

	applied, applyErrs := patch.Apply(report.Results, snap.Files)
	errs := append(append([]data.FileError(nil), report.Errors...), applyErrs...)

	var pub *publisher.Publication
	if anyApplied(applied) {
		pub, err = e.publisher.Publish(ctx, ref, snap, applied)
		if err != nil {
			return e.fail(r, err, data.KindCommit)
		}
		errs = append(errs, pub.Errors...)
	} else {
		r.logger.Info("no applicable changes; skipping publish")
		pub = &publisher.Publication{}
	}

	errs = append(errs, unaccounted(applied, pub.Committed, errs)...)
	sortErrors(errs)

	for _, fr := range fileResults(eligible, applied, pub.Committed, errs, snap) {
		e.write(fr)
	}

	committed := append([]string{}, pub.Committed...)
	sort.Strings(committed)
	return e.finish(r, &data.Outcome{
		Status:         data.StatusFor(len(eligible), len(committed)),
		NewBranch:      pub.Branch,
		CommitSHA:      pub.CommitSHA,
		CommittedPaths: committed,
		Errors:         errs,
	})
}

// Abort ends a run whose pipeline could not be built, such as missing
// credentials or an unusable model client, with a single run-level error.
// Unclassified errors get fallback as their kind.
func (e *Engine) Abort(req data.Request, err error, fallback data.Kind) *data.Outcome {
	r := e.newRun()
	if ref, refErr := req.Ref(); refErr == nil {
		r.bind(ref)
	}
	if err == nil {
		err = errors.New("run aborted")
	}
	return e.fail(r, err, fallback)
}

func (e *Engine) newRun() *run {
	r := &run{id: e.newRunID()}
	r.logger = e.logger.With(zap.String("run_id", r.id))
	return r
}

func (r *run) bind(ref data.RepositoryRef) {
	r.ref = ref
	r.logger = r.logger.With(zap.String("repo", ref.FullName()), zap.String("branch", ref.SourceBranch))
}

// fail ends the run with a single run-level error. Unclassified errors get
// fallback as their kind.
func (e *Engine) fail(r *run, err error, fallback data.Kind) *data.Outcome {
	fe := data.AsFileError(err, fallback)
	r.logger.Error("run failed", zap.String("kind", string(fe.Kind)), zap.String("error", fe.Message))
	return e.finish(r, &data.Outcome{
		Status: data.StatusFailure,
		Errors: []data.FileError{fe},
	})
}

func (e *Engine) finish(r *run, o *data.Outcome) *data.Outcome {
	if o.CommittedPaths == nil {
		o.CommittedPaths = []string{}
	}
	if o.Errors == nil {
		o.Errors = []data.FileError{}
	}

	code := o.Status.ExitCode()
	r.logger.Info("run finished",
		zap.String("status", string(o.Status)),
		zap.Int("committed", len(o.CommittedPaths)),
		zap.Int("errors", len(o.Errors)),
		zap.Int("exit_code", code))

	e.write(*o)
	e.write(output.Event{Type: output.EventRunFinished, RunID: r.id, Outcome: o, ExitCode: code})
	return o
}

func (e *Engine) write(v any) {
	if e.out == nil {
		return
	}
	if err := e.out.Write(v); err != nil {
		e.logger.Warn("output sink write failed", zap.Error(err))
	}
}

func anyApplied(results []data.RemediationResult) bool {
	for _, r := range results {
		if r.Applied {
			return true
		}
	}
	return false
}

// unaccounted reports applied results that were neither committed nor given
// an error by the publisher, so every eligible file ends up in exactly one of
// the two lists.
func unaccounted(results []data.RemediationResult, committed []string, errs []data.FileError) []data.FileError {
	seen := make(map[string]bool, len(committed)+len(errs))
	for _, p := range committed {
		seen[p] = true
	}
	for _, fe := range errs {
		seen[fe.Path] = true
	}
	var out []data.FileError
	for _, r := range results {
		if seen[r.Path] {
			continue
		}
		out = append(out, data.FileError{Path: r.Path, Kind: data.KindCommit, Message: "file was not committed"})
	}
	return out
}

func sortErrors(errs []data.FileError) {
	sort.SliceStable(errs, func(i, j int) bool { return errs[i].Path < errs[j].Path })
}

func fileResults(eligible []data.FileEntry, results []data.RemediationResult, committed []string, errs []data.FileError, snap *data.Snapshot) []output.FileResult {
	byPath := make(map[string]data.RemediationResult, len(results))
	for _, r := range results {
		byPath[r.Path] = r
	}
	isCommitted := make(map[string]bool, len(committed))
	for _, p := range committed {
		isCommitted[p] = true
	}
	firstErr := make(map[string]data.FileError, len(errs))
	for _, fe := range errs {
		if _, ok := firstErr[fe.Path]; !ok {
			firstErr[fe.Path] = fe
		}
	}
	live := snap.Index()

	out := make([]output.FileResult, 0, len(eligible))
	for _, f := range eligible {
		r, hasResult := byPath[f.Path]
		fr := output.FileResult{Path: f.Path, Issues: r.Issues, Summary: r.Summary, Degraded: r.Degraded}
		switch {
		case isCommitted[f.Path] && hasResult && r.Changed(live[f.Path].Content):
			fr.Status = output.FileFixed
		case isCommitted[f.Path]:
			fr.Status = output.FileClean
		default:
			fr.Status = output.FileFailed
			if fe, ok := firstErr[f.Path]; ok {
				fr.Error = &fe
			}
		}
		out = append(out, fr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func planFor(eligible []data.FileEntry, batches []data.Batch) output.Plan {
	p := output.Plan{Eligible: make([]string, 0, len(eligible))}
	for _, f := range eligible {
		p.Eligible = append(p.Eligible, f.Path)
	}
	for _, b := range batches {
		pb := output.PlanBatch{Index: b.Index, Paths: b.Paths(), Bytes: b.Size()}
		for path := range b.Truncated {
			pb.Truncated = append(pb.Truncated, path)
		}
		sort.Strings(pb.Truncated)
		p.Batches = append(p.Batches, pb)
	}
	return p
}

// Describe renders an outcome for log lines and errors.
func Describe(o *data.Outcome) string {
	if o == nil {
		return "<nil outcome>"
	}
	return fmt.Sprintf("%s (committed %d, errors %d)", o.Status, len(o.CommittedPaths), len(o.Errors))
}
