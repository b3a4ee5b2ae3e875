package output

import (
	"remediator/internal/data"
)

// FileStatus is the final state of one eligible file.
type FileStatus string

const (
	FileFixed  FileStatus = "fixed"
	FileClean  FileStatus = "clean"
	FileFailed FileStatus = "failed"
)

// FileResult is the per-file record of a run.
type FileResult struct {
	Path     string          `json:"path"`
	Status   FileStatus      `json:"status"`
	Issues   []data.Issue    `json:"issues,omitempty"`
	Summary  string          `json:"summary,omitempty"`
	Degraded bool            `json:"degraded,omitempty"`
	Error    *data.FileError `json:"error,omitempty"`
}

// Plan describes the batch layout of a dry run.
type Plan struct {
	Eligible []string    `json:"eligible"`
	Batches  []PlanBatch `json:"batches"`
}

type PlanBatch struct {
	Index     int      `json:"index"`
	Paths     []string `json:"paths"`
	Bytes     int      `json:"bytes"`
	Truncated []string `json:"truncated,omitempty"`
}

// Event is a lifecycle record for NDJSON streaming output.
//
// Types: run.started, plan, file.result, run.finished. FileResult and Plan
// values written to a sink are wrapped into file.result and plan events.
type Event struct {
	Type      string        `json:"type"`
	RunID     string        `json:"run_id,omitempty"`
	Repo      string        `json:"repo,omitempty"`
	Branch    string        `json:"branch,omitempty"`
	NewBranch string        `json:"new_branch,omitempty"`
	Files     int           `json:"files,omitempty"`
	File      *FileResult   `json:"file,omitempty"`
	Plan      *Plan         `json:"plan,omitempty"`
	Outcome   *data.Outcome `json:"outcome,omitempty"`
	ExitCode  int           `json:"exit_code,omitempty"`
}

const (
	EventRunStarted  = "run.started"
	EventPlan        = "plan"
	EventFileResult  = "file.result"
	EventRunFinished = "run.finished"
)

// toEvent maps a sink value onto its streaming form. Outcome values are not
// streamed on their own; run.finished carries them.
func toEvent(v any) (Event, bool) {
	switch t := v.(type) {
	case Event:
		return t, true
	case FileResult:
		return Event{Type: EventFileResult, File: &t}, true
	case Plan:
		return Event{Type: EventPlan, Plan: &t}, true
	default:
		return Event{}, false
	}
}

// Record is the aggregate JSON document: the invocation output record plus
// per-file detail.
type Record struct {
	data.Outcome
	RunID string       `json:"run_id,omitempty"`
	Repo  string       `json:"repo,omitempty"`
	Files []FileResult `json:"files,omitempty"`
	Plan  *Plan        `json:"plan,omitempty"`
}

// aggregate folds sink values into a Record.
type aggregate struct {
	rec Record
}

func (a *aggregate) add(v any) {
	switch t := v.(type) {
	case Event:
		if t.Type == EventRunStarted {
			a.rec.RunID = t.RunID
			a.rec.Repo = t.Repo
		}
	case FileResult:
		a.rec.Files = append(a.rec.Files, t)
	case Plan:
		a.rec.Plan = &t
	case data.Outcome:
		a.rec.Outcome = t
	case *data.Outcome:
		if t != nil {
			a.rec.Outcome = *t
		}
	}
}

func (a *aggregate) record() Record {
	rec := a.rec
	if rec.Status == "" {
		// No outcome reached the sink. A plan alone is a dry run; anything
		// else ended before the run could report.
		rec.Status = data.StatusFailure
		if rec.Plan != nil {
			rec.Status = data.StatusNoOp
		}
	}
	if rec.CommittedPaths == nil {
		rec.CommittedPaths = []string{}
	}
	if rec.Errors == nil {
		rec.Errors = []data.FileError{}
	}
	return rec
}
