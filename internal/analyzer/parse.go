package analyzer

import (
	"fmt"
	"regexp"
	"strings"

	"remediator/internal/data"
)

var (
	resultHeader = regexp.MustCompile(`^<<<RESULT path="([^"]+)" status="([a-zA-Z]+)">>>$`)
	issueLine    = regexp.MustCompile(`^[-*] \[([^\]]+)\]\s*(.*)$`)
)

type parsedResult struct {
	path    string
	status  string
	issues  []data.Issue
	code    string
	hasCode bool
}

// parseResponse reads the tagged blocks of a model reply. Every deviation
// from the block contract is an error: unknown, duplicate or missing paths,
// unknown statuses or issue kinds, a fixed result without code, or stray text
// between blocks.
func parseResponse(raw string, batch data.Batch) (map[string]parsedResult, error) {
	want := make(map[string]bool, len(batch.Files))
	for _, f := range batch.Files {
		want[f.Path] = true
	}

	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
	out := make(map[string]parsedResult, len(batch.Files))

	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		m := resultHeader.FindStringSubmatch(line)
		if m == nil {
			return nil, fmt.Errorf("line %d: unexpected text outside result blocks: %q", i+1, excerpt(line))
		}

		res := parsedResult{path: m[1], status: strings.ToLower(m[2])}
		if !want[res.path] {
			return nil, fmt.Errorf("line %d: result for unknown path %q", i+1, res.path)
		}
		if _, dup := out[res.path]; dup {
			return nil, fmt.Errorf("line %d: duplicate result for %q", i+1, res.path)
		}
		if res.status != statusFixed && res.status != statusClean {
			return nil, fmt.Errorf("line %d: unknown status %q for %q", i+1, m[2], res.path)
		}

		next, err := parseBody(lines, i+1, &res)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", res.path, err)
		}
		i = next

		switch {
		case res.status == statusFixed && !res.hasCode:
			return nil, fmt.Errorf("%s: fixed result without code", res.path)
		case res.status == statusClean && (len(res.issues) > 0 || res.hasCode):
			return nil, fmt.Errorf("%s: clean result must not carry issues or code", res.path)
		}
		out[res.path] = res
	}

	for _, f := range batch.Files {
		if _, ok := out[f.Path]; !ok {
			return nil, fmt.Errorf("no result for %q", f.Path)
		}
	}
	return out, nil
}

// parseBody consumes one block body starting at lines[i] and returns the
// index of its closing marker.
func parseBody(lines []string, i int, res *parsedResult) (int, error) {
	const (
		inHeader = iota
		inIssues
		inCode
	)
	state := inHeader
	var code []string

	for ; i < len(lines); i++ {
		raw := lines[i]
		line := strings.TrimSpace(raw)

		if line == resultClose {
			if state == inCode {
				res.code = strings.Join(code, "\n")
			}
			return i, nil
		}

		switch state {
		case inCode:
			code = append(code, raw)
		case inHeader, inIssues:
			switch {
			case line == "":
			case line == issuesMark && state == inHeader:
				state = inIssues
			case line == codeMark:
				state = inCode
				res.hasCode = true
			case state == inIssues:
				m := issueLine.FindStringSubmatch(line)
				if m == nil {
					return 0, fmt.Errorf("line %d: malformed issue %q", i+1, excerpt(line))
				}
				kind, err := data.ParseIssueKind(m[1])
				if err != nil {
					return 0, fmt.Errorf("line %d: %w", i+1, err)
				}
				res.issues = append(res.issues, data.Issue{Kind: kind, Description: strings.TrimSpace(m[2])})
			default:
				return 0, fmt.Errorf("line %d: unexpected text in result block: %q", i+1, excerpt(line))
			}
		}
	}
	return 0, fmt.Errorf("unterminated result block")
}

func excerpt(s string) string {
	if len(s) > 60 {
		return s[:60] + "..."
	}
	return s
}
