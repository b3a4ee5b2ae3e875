package data

// Status is the final state of a run.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusFailure Status = "failure"
	StatusNoOp    Status = "no-op"
)

// Outcome is the record returned to the invoker.
type Outcome struct {
	Status         Status      `json:"status"`
	NewBranch      string      `json:"new_branch_name,omitempty"`
	CommitSHA      string      `json:"commit_sha,omitempty"`
	CommittedPaths []string    `json:"committed_paths"`
	Errors         []FileError `json:"errors"`
}

// StatusFor derives the run status from how many eligible files ended up
// committed.
func StatusFor(eligible, committed int) Status {
	switch {
	case eligible == 0:
		return StatusNoOp
	case committed == eligible:
		return StatusSuccess
	case committed > 0:
		return StatusPartial
	default:
		return StatusFailure
	}
}

// ExitCode maps a status to the process exit code.
//
//	0 = success or nothing to do
//	2 = partial (some files failed)
//	3 = failure (nothing committed or the run did not complete)
func (s Status) ExitCode() int {
	switch s {
	case StatusSuccess, StatusNoOp:
		return 0
	case StatusPartial:
		return 2
	default:
		return 3
	}
}
