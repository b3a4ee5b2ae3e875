package fetcher

import (
	"context"
	"fmt"
	"path"
	"sort"

	"github.com/google/go-github/v81/github"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"remediator/internal/data"
	gh "remediator/internal/github"
	"remediator/internal/logging"
)

const (
	modeSymlink   = "120000"
	typeBlob      = "blob"
	typeTree      = "tree"
	defaultWorker = 8
)

// Fetcher reads a full repository snapshot at a branch head through the Git
// Data API.
type Fetcher struct {
	client      *gh.Client
	budget      *gh.RequestBudget
	concurrency int
	logger      *zap.Logger
	verbose     bool
}

type Option func(*Fetcher)

// WithConcurrency bounds parallel blob downloads.
func WithConcurrency(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.concurrency = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(f *Fetcher) { f.logger = logging.OrNop(l) }
}

// WithVerboseErrors keeps full GitHub error strings in classified errors.
func WithVerboseErrors(v bool) Option {
	return func(f *Fetcher) { f.verbose = v }
}

func NewFetcher(client *gh.Client, budget *gh.RequestBudget, opts ...Option) *Fetcher {
	f := &Fetcher{
		client:      client,
		budget:      budget,
		concurrency: defaultWorker,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

type treeFile struct {
	path string
	sha  string
	mode string
	size int
}

// Snapshot resolves ref.SourceBranch and returns every regular file in its
// tree. Files rejected by keep are listed as Skipped and never downloaded; a
// nil keep downloads everything. Failures are *data.Error values of kind
// NotFoundError or AccessError.
func (f *Fetcher) Snapshot(ctx context.Context, ref data.RepositoryRef, keep func(path string) bool) (*data.Snapshot, error) {
	if ctx == nil {
		return nil, fmt.Errorf("Snapshot: nil context")
	}
	if f == nil || f.client == nil || f.client.Client == nil {
		return nil, fmt.Errorf("Snapshot: nil GitHub client (use NewFetcher)")
	}
	if f.budget == nil {
		return nil, fmt.Errorf("Snapshot: nil request budget (use NewFetcher)")
	}
	if ref.Owner == "" || ref.Name == "" || ref.SourceBranch == "" {
		return nil, data.NewError(data.KindInvalidInput, "", fmt.Errorf("repository owner, name and branch are required"))
	}

	owner, repo := ref.Owner, ref.Name
	git := f.client.Client.Git

	var head *github.Reference
	err := f.budget.Track(ctx, func() (*github.Response, error) {
		var resp *github.Response
		var err error
		head, resp, err = git.GetRef(ctx, owner, repo, "heads/"+ref.SourceBranch)
		return resp, err
	})
	if err != nil {
		return nil, f.classify(fmt.Sprintf("resolve branch %q of %s", ref.SourceBranch, ref.FullName()), err)
	}
	commitSHA := head.GetObject().GetSHA()

	var commit *github.Commit
	err = f.budget.Track(ctx, func() (*github.Response, error) {
		var resp *github.Response
		var err error
		commit, resp, err = git.GetCommit(ctx, owner, repo, commitSHA)
		return resp, err
	})
	if err != nil {
		return nil, f.classify(fmt.Sprintf("read commit %s", commitSHA), err)
	}
	treeSHA := commit.GetTree().GetSHA()

	files, err := f.listTree(ctx, owner, repo, treeSHA)
	if err != nil {
		return nil, err
	}
	f.logger.Debug("listed tree",
		zap.String("repo", ref.FullName()),
		zap.String("commit", commitSHA),
		zap.Int("files", len(files)))

	entries, err := f.download(ctx, owner, repo, files, keep)
	if err != nil {
		return nil, err
	}

	return &data.Snapshot{
		Ref:       ref,
		CommitSHA: commitSHA,
		TreeSHA:   treeSHA,
		Files:     entries,
	}, nil
}

// listTree lists regular files recursively. When GitHub truncates the
// recursive listing, subtrees are walked one level at a time instead.
func (f *Fetcher) listTree(ctx context.Context, owner, repo, treeSHA string) ([]treeFile, error) {
	tree, err := f.getTree(ctx, owner, repo, treeSHA, true)
	if err != nil {
		return nil, err
	}
	if !tree.GetTruncated() {
		return collectFiles(tree.Entries, ""), nil
	}

	f.logger.Info("recursive tree listing truncated; walking subtrees", zap.String("tree", treeSHA))
	var out []treeFile
	if err := f.walkTree(ctx, owner, repo, treeSHA, "", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (f *Fetcher) walkTree(ctx context.Context, owner, repo, sha, prefix string, out *[]treeFile) error {
	tree, err := f.getTree(ctx, owner, repo, sha, false)
	if err != nil {
		return err
	}
	*out = append(*out, collectFiles(tree.Entries, prefix)...)
	for _, e := range tree.Entries {
		if e.GetType() != typeTree {
			continue
		}
		if err := f.walkTree(ctx, owner, repo, e.GetSHA(), path.Join(prefix, e.GetPath()), out); err != nil {
			return err
		}
	}
	return nil
}

func (f *Fetcher) getTree(ctx context.Context, owner, repo, sha string, recursive bool) (*github.Tree, error) {
	var tree *github.Tree
	err := f.budget.Track(ctx, func() (*github.Response, error) {
		var resp *github.Response
		var err error
		tree, resp, err = f.client.Client.Git.GetTree(ctx, owner, repo, sha, recursive)
		return resp, err
	})
	if err != nil {
		return nil, f.classify(fmt.Sprintf("list tree %s", sha), err)
	}
	return tree, nil
}

// collectFiles keeps blobs only. Symlinks and submodules (type commit) are
// not files we can remediate.
func collectFiles(entries []*github.TreeEntry, prefix string) []treeFile {
	var out []treeFile
	for _, e := range entries {
		if e.GetType() != typeBlob || e.GetMode() == modeSymlink {
			continue
		}
		p := e.GetPath()
		if prefix != "" {
			p = path.Join(prefix, p)
		}
		out = append(out, treeFile{path: p, sha: e.GetSHA(), mode: e.GetMode(), size: e.GetSize()})
	}
	return out
}

func (f *Fetcher) download(ctx context.Context, owner, repo string, files []treeFile, keep func(string) bool) ([]data.FileEntry, error) {
	entries := make([]data.FileEntry, len(files))
	store := &blobStore{}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)

	for i, tf := range files {
		entries[i] = data.FileEntry{Path: tf.path, Hash: tf.sha, Mode: tf.mode, Size: tf.size}
		if keep != nil && !keep(tf.path) {
			entries[i].Skipped = true
			continue
		}

		g.Go(func() error {
			content, err := store.get(tf.sha, func() ([]byte, error) {
				return f.getBlob(gctx, owner, repo, tf.sha)
			})
			if err != nil {
				return f.classify(fmt.Sprintf("read %s", tf.path), err)
			}
			if got := data.BlobHash(content); got != tf.sha {
				return data.NewError(data.KindAccess, tf.path, fmt.Errorf("blob content hash %s does not match tree entry %s", got, tf.sha))
			}
			entries[i].Content = content
			entries[i].Size = len(content)
			entries[i].Binary = !data.IsText(content)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

func (f *Fetcher) getBlob(ctx context.Context, owner, repo, sha string) ([]byte, error) {
	var content []byte
	err := f.budget.Track(ctx, func() (*github.Response, error) {
		var resp *github.Response
		var err error
		content, resp, err = f.client.Client.Git.GetBlobRaw(ctx, owner, repo, sha)
		return resp, err
	})
	return content, err
}

func (f *Fetcher) classify(op string, err error) error {
	return gh.Classify(op, err, f.verbose)
}
