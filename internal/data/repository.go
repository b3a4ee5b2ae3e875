package data

import (
	"fmt"
	"net/url"
	"strings"
)

// RepositoryRef identifies the repository a run operates on and the branch pair
// involved. It is immutable once the intake record has been validated.
type RepositoryRef struct {
	Link         string `json:"repository_link"`
	Host         string `json:"host"`
	Owner        string `json:"owner"`
	Name         string `json:"repository_name"`
	SourceBranch string `json:"branch_name"`
	NewBranch    string `json:"new_branch_name"`
}

func (r RepositoryRef) FullName() string {
	return r.Owner + "/" + r.Name
}

// ParseRepositoryLink extracts host, owner and repository name from a link.
//
// Accepted forms:
//
//	https://github.com/<owner>/<repo>
//	https://github.com/<owner>/<repo>.git
//	github.com/<owner>/<repo>
//	https://ghe.example.com/<owner>/<repo>
//	git@github.com:<owner>/<repo>.git
func ParseRepositoryLink(raw string) (host, owner, name string, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", "", fmt.Errorf("repository link is empty")
	}

	if rest, ok := strings.CutPrefix(raw, "git@"); ok {
		h, p, found := strings.Cut(rest, ":")
		if !found {
			return "", "", "", fmt.Errorf("invalid repository link %q", raw)
		}
		raw = "https://" + h + "/" + p
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", "", "", fmt.Errorf("invalid repository link %q", raw)
	}
	host = strings.ToLower(u.Hostname())
	if host == "www.github.com" {
		host = "github.com"
	}
	if host == "" {
		return "", "", "", fmt.Errorf("invalid repository link %q: missing host", raw)
	}

	parts := strings.FieldsFunc(strings.Trim(u.Path, "/"), func(r rune) bool { return r == '/' })
	if len(parts) < 2 {
		return "", "", "", fmt.Errorf("invalid repository link %q: expected <owner>/<repo>", raw)
	}
	owner = parts[0]
	name = strings.TrimSuffix(parts[1], ".git")
	if owner == "" || name == "" {
		return "", "", "", fmt.Errorf("invalid repository link %q: expected <owner>/<repo>", raw)
	}
	return host, owner, name, nil
}

// NewRepositoryRef validates an intake record and builds a RepositoryRef.
//
// A name that disagrees with the link is rejected. Identical source and new
// branch names yield a BranchExistsError so the run fails before any API call.
func NewRepositoryRef(link, name, sourceBranch, newBranch string) (RepositoryRef, error) {
	host, owner, linkName, err := ParseRepositoryLink(link)
	if err != nil {
		return RepositoryRef{}, NewError(KindInvalidInput, "", err)
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = linkName
	}
	if !strings.EqualFold(name, linkName) {
		return RepositoryRef{}, NewError(KindInvalidInput, "", fmt.Errorf("repository name %q does not match link %q", name, link))
	}

	sourceBranch = strings.TrimSpace(sourceBranch)
	newBranch = strings.TrimSpace(newBranch)
	if sourceBranch == "" {
		return RepositoryRef{}, NewError(KindInvalidInput, "", fmt.Errorf("branch name is required"))
	}
	if newBranch == "" {
		return RepositoryRef{}, NewError(KindInvalidInput, "", fmt.Errorf("new branch name is required"))
	}
	if newBranch == sourceBranch {
		return RepositoryRef{}, NewError(KindBranchExists, "", fmt.Errorf("new branch %q must differ from source branch", newBranch))
	}

	return RepositoryRef{
		Link:         strings.TrimSpace(link),
		Host:         host,
		Owner:        owner,
		Name:         linkName,
		SourceBranch: sourceBranch,
		NewBranch:    newBranch,
	}, nil
}
