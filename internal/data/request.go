package data

import (
	"encoding/json"
	"fmt"
	"io"
)

// SelectionPolicy lists what a run must never analyze. Extensions may be
// given with or without the leading dot. Folders may be a single directory
// name, matched at any depth, or a multi-segment path prefix.
type SelectionPolicy struct {
	ExcludedExtensions []string `json:"non_code_extensions"`
	ExcludedFolders    []string `json:"folders_to_exclude"`
}

// Request is the invocation record that starts a run.
type Request struct {
	RepositoryLink    string   `json:"repository_link"`
	RepositoryName    string   `json:"repository_name"`
	BranchName        string   `json:"branch_name"`
	NonCodeExtensions []string `json:"non_code_extensions"`
	FoldersToExclude  []string `json:"folders_to_exclude"`
	NewBranchName     string   `json:"new_branch_name"`
}

func (r Request) Policy() SelectionPolicy {
	return SelectionPolicy{
		ExcludedExtensions: r.NonCodeExtensions,
		ExcludedFolders:    r.FoldersToExclude,
	}
}

// Ref validates the request and returns its repository reference.
func (r Request) Ref() (RepositoryRef, error) {
	return NewRepositoryRef(r.RepositoryLink, r.RepositoryName, r.BranchName, r.NewBranchName)
}

// DecodeRequest reads a single JSON invocation record.
func DecodeRequest(rd io.Reader) (Request, error) {
	var req Request
	dec := json.NewDecoder(rd)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return Request{}, NewError(KindInvalidInput, "", fmt.Errorf("decode invocation record: %w", err))
	}
	return req, nil
}
