package data

import (
	"fmt"
	"strings"
)

// IssueKind is one of the categories the analyzer may report.
type IssueKind string

const (
	IssueSecurity   IssueKind = "potential security vulnerability"
	IssueStyle      IssueKind = "code style issue"
	IssuePerf       IssueKind = "performance issue"
	IssueComplexity IssueKind = "code complexity issue"
	IssueBug        IssueKind = "potential bug"
)

var issueKinds = []IssueKind{IssueSecurity, IssueStyle, IssuePerf, IssueComplexity, IssueBug}

// IssueKinds lists every accepted issue kind in prompt order.
func IssueKinds() []IssueKind {
	out := make([]IssueKind, len(issueKinds))
	copy(out, issueKinds)
	return out
}

// ParseIssueKind matches raw case-insensitively against the known kinds.
func ParseIssueKind(raw string) (IssueKind, error) {
	raw = strings.TrimSpace(raw)
	for _, k := range issueKinds {
		if strings.EqualFold(raw, string(k)) {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown issue kind %q", raw)
}

type Issue struct {
	Kind        IssueKind `json:"kind"`
	Description string    `json:"description"`
}

// RemediationResult is the analyzer's verdict for one file.
//
// ProposedContent is the full replacement content; it equals the original
// content when no issues were found. Degraded marks a file that was truncated
// to fit a batch and only partially analyzed.
type RemediationResult struct {
	Path            string  `json:"path"`
	OriginalHash    string  `json:"original_hash"`
	ProposedContent []byte  `json:"-"`
	Issues          []Issue `json:"issues,omitempty"`
	Summary         string  `json:"summary,omitempty"`
	Degraded        bool    `json:"degraded,omitempty"`
	Applied         bool    `json:"applied"`
}

// Changed reports whether the proposal differs from original.
func (r RemediationResult) Changed(original []byte) bool {
	return string(r.ProposedContent) != string(original)
}
