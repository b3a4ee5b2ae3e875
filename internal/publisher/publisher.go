// Package publisher writes applied remediations to a new branch.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/google/go-github/v81/github"
	"go.uber.org/zap"

	"remediator/internal/config"
	"remediator/internal/data"
	gh "remediator/internal/github"
	"remediator/internal/logging"
)

const (
	defaultMessage  = "Remediated code"
	defaultFileMode = "100644"
)

type Publisher struct {
	client  *gh.Client
	budget  *gh.RequestBudget
	mode    string
	message string
	logger  *zap.Logger
	verbose bool
}

type Option func(*Publisher)

// WithMode selects auto, atomic or sequential commits.
func WithMode(mode string) Option {
	return func(p *Publisher) {
		if mode != "" {
			p.mode = mode
		}
	}
}

// WithCommitMessage sets the commit title.
func WithCommitMessage(msg string) Option {
	return func(p *Publisher) {
		if strings.TrimSpace(msg) != "" {
			p.message = strings.TrimSpace(msg)
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(p *Publisher) { p.logger = logging.OrNop(l) }
}

func WithVerboseErrors(v bool) Option {
	return func(p *Publisher) { p.verbose = v }
}

func New(client *gh.Client, budget *gh.RequestBudget, opts ...Option) *Publisher {
	p := &Publisher{
		client:  client,
		budget:  budget,
		mode:    config.PublishAuto,
		message: defaultMessage,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Publication is what actually landed on the new branch.
type Publication struct {
	Branch    string
	CommitSHA string
	Mode      string
	Committed []string
	Errors    []data.FileError
}

// CheckAvailable fails with BranchExistsError when ref.NewBranch already
// exists.
func (p *Publisher) CheckAvailable(ctx context.Context, ref data.RepositoryRef) error {
	if err := p.ready(ctx); err != nil {
		return err
	}
	err := p.budget.Track(ctx, func() (*github.Response, error) {
		_, resp, err := p.client.Client.Git.GetRef(ctx, ref.Owner, ref.Name, "heads/"+ref.NewBranch)
		return resp, err
	})
	switch {
	case err == nil:
		return data.NewError(data.KindBranchExists, "", fmt.Errorf("branch %q already exists in %s", ref.NewBranch, ref.FullName()))
	case gh.IsNotFound(err):
		return nil
	default:
		return p.classify(fmt.Sprintf("check branch %q", ref.NewBranch), err)
	}
}

// Publish creates ref.NewBranch at the snapshot commit and commits every
// applied result whose content changed. Applied results that match the
// snapshot are reported as committed without a write. When nothing at all
// is committed the new branch is removed again.
//
// The returned error is fatal (branch creation failed); per-file commit
// failures are reported in Publication.Errors.
func (p *Publisher) Publish(ctx context.Context, ref data.RepositoryRef, snap *data.Snapshot, results []data.RemediationResult) (*Publication, error) {
	if err := p.ready(ctx); err != nil {
		return nil, err
	}
	if snap == nil || snap.CommitSHA == "" {
		return nil, errors.New("publish: snapshot without commit")
	}

	pub := &Publication{Branch: ref.NewBranch, CommitSHA: snap.CommitSHA}
	live := snap.Index()

	var changed []data.RemediationResult
	for _, r := range results {
		if !r.Applied {
			continue
		}
		if r.Changed(live[r.Path].Content) {
			changed = append(changed, r)
		} else {
			pub.Committed = append(pub.Committed, r.Path)
		}
	}
	if len(changed) == 0 && len(pub.Committed) == 0 {
		return &Publication{}, nil
	}

	if err := p.createBranch(ctx, ref, snap.CommitSHA); err != nil {
		return nil, err
	}
	p.logger.Info("created branch", zap.String("branch", ref.NewBranch), zap.String("at", snap.CommitSHA))

	if len(changed) > 0 {
		p.commit(ctx, ref, snap, changed, pub)
	}

	if len(pub.Committed) == 0 {
		p.deleteBranch(ctx, ref)
		pub.Branch = ""
		pub.CommitSHA = ""
	}
	sort.Strings(pub.Committed)
	return pub, nil
}

func (p *Publisher) commit(ctx context.Context, ref data.RepositoryRef, snap *data.Snapshot, changed []data.RemediationResult, pub *Publication) {
	mode := p.mode
	if mode == config.PublishAuto || mode == config.PublishAtomic {
		sha, err := p.commitAtomic(ctx, ref, snap, changed)
		if err == nil {
			pub.Mode = config.PublishAtomic
			pub.CommitSHA = sha
			for _, r := range changed {
				pub.Committed = append(pub.Committed, r.Path)
			}
			return
		}
		msg := gh.Describe(err, p.verbose)
		if mode == config.PublishAtomic {
			pub.Mode = config.PublishAtomic
			for _, r := range changed {
				pub.Errors = append(pub.Errors, data.FileError{Path: r.Path, Kind: data.KindCommit, Message: "atomic commit failed: " + msg})
			}
			return
		}
		p.logger.Warn("atomic commit failed; falling back to per-file commits", zap.String("error", msg))
	}

	pub.Mode = config.PublishSequential
	for _, r := range changed {
		sha, err := p.commitFile(ctx, ref, r)
		if err != nil {
			pub.Errors = append(pub.Errors, data.FileError{Path: r.Path, Kind: data.KindCommit, Message: gh.Describe(err, p.verbose)})
			continue
		}
		pub.CommitSHA = sha
		pub.Committed = append(pub.Committed, r.Path)
	}
}

// commitAtomic writes all files as one commit on top of the snapshot:
// tree on the base tree, commit with the snapshot commit as parent, then a
// non-forced ref update.
func (p *Publisher) commitAtomic(ctx context.Context, ref data.RepositoryRef, snap *data.Snapshot, changed []data.RemediationResult) (string, error) {
	live := snap.Index()
	entries := make([]*github.TreeEntry, 0, len(changed))
	for _, r := range changed {
		mode := live[r.Path].Mode
		if mode == "" {
			mode = defaultFileMode
		}
		entries = append(entries, &github.TreeEntry{
			Path:    github.Ptr(r.Path),
			Mode:    github.Ptr(mode),
			Type:    github.Ptr("blob"),
			Content: github.Ptr(string(r.ProposedContent)),
		})
	}

	var tree *github.Tree
	err := p.budget.Track(ctx, func() (*github.Response, error) {
		var resp *github.Response
		var err error
		tree, resp, err = p.client.Client.Git.CreateTree(ctx, ref.Owner, ref.Name, snap.TreeSHA, entries)
		return resp, err
	})
	if err != nil {
		return "", fmt.Errorf("create tree: %w", err)
	}

	body := map[string]any{
		"message": CommitMessage(p.message, changed),
		"tree":    tree.GetSHA(),
		"parents": []string{snap.CommitSHA},
	}
	var commit github.Commit
	if err := p.do(ctx, http.MethodPost, fmt.Sprintf("repos/%v/%v/git/commits", ref.Owner, ref.Name), body, &commit); err != nil {
		return "", fmt.Errorf("create commit: %w", err)
	}

	update := map[string]any{"sha": commit.GetSHA(), "force": false}
	if err := p.do(ctx, http.MethodPatch, fmt.Sprintf("repos/%v/%v/git/refs/heads/%v", ref.Owner, ref.Name, ref.NewBranch), update, nil); err != nil {
		return "", fmt.Errorf("update branch: %w", err)
	}
	return commit.GetSHA(), nil
}

func (p *Publisher) commitFile(ctx context.Context, ref data.RepositoryRef, r data.RemediationResult) (string, error) {
	opts := &github.RepositoryContentFileOptions{
		Message: github.Ptr(CommitMessage(p.message, []data.RemediationResult{r})),
		Content: r.ProposedContent,
		SHA:     github.Ptr(r.OriginalHash),
		Branch:  github.Ptr(ref.NewBranch),
	}
	var out *github.RepositoryContentResponse
	err := p.budget.Track(ctx, func() (*github.Response, error) {
		var resp *github.Response
		var err error
		out, resp, err = p.client.Client.Repositories.UpdateFile(ctx, ref.Owner, ref.Name, r.Path, opts)
		return resp, err
	})
	if err != nil {
		return "", err
	}
	return out.Commit.GetSHA(), nil
}

func (p *Publisher) createBranch(ctx context.Context, ref data.RepositoryRef, sha string) error {
	body := map[string]string{"ref": "refs/heads/" + ref.NewBranch, "sha": sha}
	err := p.do(ctx, http.MethodPost, fmt.Sprintf("repos/%v/%v/git/refs", ref.Owner, ref.Name), body, nil)
	if err == nil {
		return nil
	}
	if gh.IsAlreadyExists(err) {
		return data.NewError(data.KindBranchExists, "", fmt.Errorf("branch %q already exists in %s", ref.NewBranch, ref.FullName()))
	}
	return p.classify(fmt.Sprintf("create branch %q", ref.NewBranch), err)
}

func (p *Publisher) deleteBranch(ctx context.Context, ref data.RepositoryRef) {
	err := p.budget.Track(ctx, func() (*github.Response, error) {
		return p.client.Client.Git.DeleteRef(ctx, ref.Owner, ref.Name, "heads/"+ref.NewBranch)
	})
	if err != nil {
		p.logger.Warn("failed to delete empty branch", zap.String("branch", ref.NewBranch), zap.String("error", gh.Describe(err, p.verbose)))
		return
	}
	p.logger.Info("deleted branch with no commits", zap.String("branch", ref.NewBranch))
}

// do issues a raw API request through the shared client for endpoints whose
// payloads are simplest expressed directly.
func (p *Publisher) do(ctx context.Context, method, u string, body, out any) error {
	return p.budget.Track(ctx, func() (*github.Response, error) {
		req, err := p.client.Client.NewRequest(method, u, body)
		if err != nil {
			return nil, err
		}
		return p.client.Client.Do(ctx, req, out)
	})
}

func (p *Publisher) ready(ctx context.Context) error {
	if ctx == nil {
		return errors.New("publisher: nil context")
	}
	if p == nil || p.client == nil || p.client.Client == nil {
		return errors.New("publisher: nil GitHub client (use New)")
	}
	if p.budget == nil {
		return errors.New("publisher: nil request budget (use New)")
	}
	return nil
}

func (p *Publisher) classify(op string, err error) error {
	return gh.Classify(op, err, p.verbose)
}

// CommitMessage renders title followed by one line per file with its issue
// summary.
func CommitMessage(title string, results []data.RemediationResult) string {
	if title == "" {
		title = defaultMessage
	}
	var b strings.Builder
	b.WriteString(title)
	if len(results) == 0 {
		return b.String()
	}
	b.WriteString("\n\n")
	for _, r := range results {
		summary := r.Summary
		if summary == "" {
			summary = "updated"
		}
		fmt.Fprintf(&b, "- %s: %s", r.Path, summary)
		if r.Degraded {
			b.WriteString(" (partial analysis)")
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
