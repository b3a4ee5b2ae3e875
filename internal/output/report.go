package output

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"remediator/internal/data"
)

// ReportSink writes a Markdown summary of the run on Close, suitable as a
// pull request description for the remediation branch.
type ReportSink struct {
	path    string
	file    *os.File
	mu      sync.Mutex
	started *Event
	agg     aggregate
}

func NewReportSink(path string) (*ReportSink, error) {
	if path == "" {
		return nil, fmt.Errorf("report path required")
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create report file: %w", err)
	}
	return &ReportSink{path: path, file: f}, nil
}

func (s *ReportSink) Write(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := v.(Event); ok && e.Type == EventRunStarted {
		s.started = &e
	}
	s.agg.add(v)
	return nil
}

func (s *ReportSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.file.WriteString(renderReport(s.started, s.agg.record()))
	if closeErr := s.file.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

func renderReport(started *Event, rec Record) string {
	var b strings.Builder
	b.WriteString("# Remediation Report\n\n")

	if started != nil {
		fmt.Fprintf(&b, "- **Repository:** %s\n", started.Repo)
		fmt.Fprintf(&b, "- **Source branch:** `%s`\n", started.Branch)
	}
	if rec.NewBranch != "" {
		fmt.Fprintf(&b, "- **Remediation branch:** `%s`\n", rec.NewBranch)
	}
	if rec.CommitSHA != "" {
		fmt.Fprintf(&b, "- **Commit:** `%s`\n", rec.CommitSHA)
	}
	fmt.Fprintf(&b, "- **Status:** %s\n", rec.Status)
	if rec.RunID != "" {
		fmt.Fprintf(&b, "- **Run:** `%s`\n", rec.RunID)
	}

	counts := countByStatus(rec.Files)
	fmt.Fprintf(&b, "- **Files:** %d analyzed, %d fixed, %d clean, %d failed\n\n",
		len(rec.Files), counts[FileFixed], counts[FileClean], counts[FileFailed])

	if rec.Plan != nil {
		writePlanSection(&b, rec.Plan)
	}

	fixed := filesWithStatus(rec.Files, FileFixed)
	b.WriteString("## Changes\n\n")
	if len(fixed) == 0 {
		b.WriteString("No files were changed.\n\n")
	} else {
		b.WriteString("| File | Issues | Notes |\n")
		b.WriteString("| --- | --- | --- |\n")
		for _, f := range fixed {
			notes := ""
			if f.Degraded {
				notes = "partial analysis (file truncated)"
			}
			fmt.Fprintf(&b, "| `%s` | %s | %s |\n", escapeCell(f.Path), escapeCell(f.Summary), notes)
		}
		b.WriteString("\n")
	}

	if issues := issuesByKind(fixed); len(issues) > 0 {
		b.WriteString("## Issues by Kind\n\n")
		for _, k := range data.IssueKinds() {
			list := issues[k]
			if len(list) == 0 {
				continue
			}
			fmt.Fprintf(&b, "### %s (%d)\n\n", capitalize(string(k)), len(list))
			for _, line := range list {
				b.WriteString("- ")
				b.WriteString(line)
				b.WriteString("\n")
			}
			b.WriteString("\n")
		}
	}

	if len(rec.Errors) > 0 {
		b.WriteString("## Errors\n\n")
		b.WriteString("| File | Kind | Reason |\n")
		b.WriteString("| --- | --- | --- |\n")
		errs := append([]data.FileError(nil), rec.Errors...)
		sort.SliceStable(errs, func(i, j int) bool { return errs[i].Path < errs[j].Path })
		for _, e := range errs {
			path := "(run)"
			if e.Path != "" {
				path = "`" + escapeCell(e.Path) + "`"
			}
			fmt.Fprintf(&b, "| %s | %s | %s |\n", path, e.Kind, escapeCell(normalizeErrorReason(e.Message)))
		}
		b.WriteString("\n")
	}

	b.WriteString("---\n")
	b.WriteString("Fixes were generated by a language model and have not been verified. Review every change before merging.\n")
	return b.String()
}

func writePlanSection(b *strings.Builder, p *Plan) {
	b.WriteString("## Dry Run Plan\n\n")
	fmt.Fprintf(b, "%d eligible files in %d batches.\n\n", len(p.Eligible), len(p.Batches))
	b.WriteString("| Batch | Files | Bytes | Truncated |\n")
	b.WriteString("| ---: | ---: | ---: | --- |\n")
	for _, batch := range p.Batches {
		fmt.Fprintf(b, "| %d | %d | %d | %s |\n", batch.Index, len(batch.Paths), batch.Bytes, escapeCell(strings.Join(batch.Truncated, ", ")))
	}
	b.WriteString("\n")
}
