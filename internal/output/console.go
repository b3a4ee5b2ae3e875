package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"

	"remediator/internal/data"
)

// ConsoleSink renders a run for humans (text) or machines (json, ndjson).
type ConsoleSink struct {
	writer io.Writer
	format string // "text", "json", "ndjson"
	mu     sync.Mutex
	agg    aggregate
}

var (
	colorFixed  = color.New(color.FgGreen, color.Bold)
	colorClean  = color.New(color.FgCyan)
	colorFailed = color.New(color.FgRed, color.Bold)
	colorWarn   = color.New(color.FgYellow)
	colorBold   = color.New(color.Bold)
)

func NewConsoleSink(w io.Writer, format string) *ConsoleSink {
	if w == nil {
		w = os.Stdout
	}
	if format == "" {
		format = "text"
	}
	return &ConsoleSink{writer: w, format: format}
}

func (s *ConsoleSink) Write(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.format {
	case "json":
		s.agg.add(v)
		return nil
	case "ndjson":
		return writeEvent(s.writer, v)
	case "text":
		if err := s.writeText(v); err != nil {
			return err
		}
		return flushIfPossible(s.writer)
	default:
		return fmt.Errorf("unsupported console format: %s", s.format)
	}
}

func (s *ConsoleSink) writeText(v any) error {
	w := s.writer
	var err error
	switch t := v.(type) {
	case Event:
		if t.Type == EventRunStarted {
			_, err = fmt.Fprintf(w, "Remediating %s (%s -> %s): %d eligible files\n", t.Repo, t.Branch, t.NewBranch, t.Files)
		}
	case FileResult:
		_, err = fmt.Fprintln(w, formatFileLine(t))
	case Plan:
		err = writePlanText(w, t)
	case data.Outcome:
		err = writeOutcomeText(w, t)
	case *data.Outcome:
		if t != nil {
			err = writeOutcomeText(w, *t)
		}
	}
	return err
}

func formatFileLine(r FileResult) string {
	var tag string
	switch r.Status {
	case FileFixed:
		tag = colorFixed.Sprint("[FIXED]")
	case FileClean:
		tag = colorClean.Sprint("[CLEAN]")
	default:
		tag = colorFailed.Sprint("[FAILED]")
	}

	var b strings.Builder
	b.WriteString(tag)
	b.WriteByte(' ')
	b.WriteString(r.Path)
	switch {
	case r.Error != nil:
		fmt.Fprintf(&b, " - %s: %s", r.Error.Kind, r.Error.Message)
	case r.Summary != "":
		fmt.Fprintf(&b, " - %s", r.Summary)
	}
	if r.Degraded {
		b.WriteString(colorWarn.Sprint(" (partial analysis)"))
	}
	return b.String()
}

func writePlanText(w io.Writer, p Plan) error {
	if _, err := fmt.Fprintf(w, "Eligible files (%d):\n", len(p.Eligible)); err != nil {
		return err
	}
	for _, path := range p.Eligible {
		if _, err := fmt.Fprintf(w, "  %s\n", path); err != nil {
			return err
		}
	}
	for _, b := range p.Batches {
		line := fmt.Sprintf("Batch %d: %d files, %d bytes", b.Index, len(b.Paths), b.Bytes)
		if len(b.Truncated) > 0 {
			line += colorWarn.Sprintf(" (truncated: %s)", strings.Join(b.Truncated, ", "))
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

func writeOutcomeText(w io.Writer, o data.Outcome) error {
	var status string
	switch o.Status {
	case data.StatusSuccess:
		status = colorFixed.Sprint(o.Status)
	case data.StatusPartial:
		status = colorWarn.Sprint(o.Status)
	case data.StatusNoOp:
		status = colorClean.Sprint(o.Status)
	default:
		status = colorFailed.Sprint(o.Status)
	}

	line := fmt.Sprintf("%s %s | committed: %d | errors: %d", colorBold.Sprint("Status:"), status, len(o.CommittedPaths), len(o.Errors))
	if o.NewBranch != "" {
		line += " | branch: " + o.NewBranch
	}
	if _, err := fmt.Fprintln(w, line); err != nil {
		return err
	}
	for _, e := range o.Errors {
		if e.Path != "" {
			continue // already reported per file
		}
		if _, err := fmt.Fprintf(w, "%s %s: %s\n", colorFailed.Sprint("Error:"), e.Kind, e.Message); err != nil {
			return err
		}
	}
	return nil
}

func (s *ConsoleSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.format {
	case "json":
		return writeRecord(s.writer, &s.agg)
	case "text", "ndjson":
		return nil
	default:
		return fmt.Errorf("unsupported console format: %s", s.format)
	}
}
