package data

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure. Kind values are part of the output record.
type Kind string

const (
	KindAccess         Kind = "AccessError"
	KindNotFound       Kind = "NotFoundError"
	KindBranchExists   Kind = "BranchExistsError"
	KindAnalysis       Kind = "AnalysisError"
	KindStaleContent   Kind = "StaleContentError"
	KindMalformedPatch Kind = "MalformedPatchError"
	KindCommit         Kind = "CommitError"
	KindInvalidInput   Kind = "InvalidInputError"
)

// Fatal reports whether an error of this kind aborts the whole run.
func (k Kind) Fatal() bool {
	switch k {
	case KindAccess, KindNotFound, KindBranchExists, KindInvalidInput:
		return true
	default:
		return false
	}
}

// Error is a classified pipeline error. Path is empty for run-level failures.
type Error struct {
	Kind Kind
	Path string
	Err  error
}

func NewError(kind Kind, path string, err error) *Error {
	return &Error{Kind: kind, Path: path, Err: err}
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := "unknown error"
	if e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Path, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// KindOf returns the Kind carried by err, or "" if err is unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// FileError is the serialisable form of a classified error.
type FileError struct {
	Path    string `json:"path"`
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

// AsFileError converts err into a FileError. Unclassified errors default to
// fallback.
func AsFileError(err error, fallback Kind) FileError {
	var e *Error
	if errors.As(err, &e) {
		fe := FileError{Path: e.Path, Kind: e.Kind}
		if e.Err != nil {
			fe.Message = e.Err.Error()
		}
		return fe
	}
	fe := FileError{Kind: fallback}
	if err != nil {
		fe.Message = err.Error()
	}
	return fe
}
