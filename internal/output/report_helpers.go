package output

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"remediator/internal/data"
)

func countByStatus(files []FileResult) map[FileStatus]int {
	out := make(map[FileStatus]int)
	for _, f := range files {
		out[f.Status]++
	}
	return out
}

// filesWithStatus returns matching files sorted by path.
func filesWithStatus(files []FileResult, status FileStatus) []FileResult {
	var out []FileResult
	for _, f := range files {
		if f.Status == status {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// issuesByKind groups issue lines ("`path`: description") by kind.
func issuesByKind(files []FileResult) map[data.IssueKind][]string {
	out := make(map[data.IssueKind][]string)
	for _, f := range files {
		for _, is := range f.Issues {
			desc := strings.TrimSpace(is.Description)
			if desc == "" {
				desc = "(no description)"
			}
			out[is.Kind] = append(out[is.Kind], fmt.Sprintf("`%s`: %s", f.Path, desc))
		}
	}
	return out
}

// normalizeErrorReason collapses whitespace and truncates long messages.
func normalizeErrorReason(errText string) string {
	s := strings.Join(strings.Fields(errText), " ")
	if len(s) > 160 {
		cut := 157
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		return s[:cut] + "..."
	}
	return s
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	s = strings.ReplaceAll(s, "\n", " ")
	return s
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
