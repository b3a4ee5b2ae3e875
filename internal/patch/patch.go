// Package patch validates proposed file contents against the snapshot they
// were computed from.
package patch

import (
	"bytes"
	"fmt"
	"unicode/utf8"

	"remediator/internal/data"
)

// Apply checks every result against the live entry for its path and sets
// Applied. It never fails: a stale hash yields StaleContentError, unusable
// content yields MalformedPatchError and drops ProposedContent. The input
// slice is not modified.
func Apply(results []data.RemediationResult, files []data.FileEntry) ([]data.RemediationResult, []data.FileError) {
	live := make(map[string]data.FileEntry, len(files))
	for _, f := range files {
		live[f.Path] = f
	}

	out := make([]data.RemediationResult, len(results))
	var errs []data.FileError
	for i, r := range results {
		r.Applied = false
		entry, ok := live[r.Path]
		switch {
		case !ok:
			errs = append(errs, data.FileError{Path: r.Path, Kind: data.KindStaleContent, Message: "file is no longer present in the snapshot"})
		case r.OriginalHash != entry.Hash:
			errs = append(errs, data.FileError{
				Path:    r.Path,
				Kind:    data.KindStaleContent,
				Message: fmt.Sprintf("result computed against %s but file is at %s", short(r.OriginalHash), short(entry.Hash)),
			})
		case bytes.Equal(r.ProposedContent, entry.Content):
			// unchanged, including files that are legitimately empty
			r.Applied = true
		default:
			if msg := validateContent(r.ProposedContent); msg != "" {
				r.ProposedContent = nil
				errs = append(errs, data.FileError{Path: r.Path, Kind: data.KindMalformedPatch, Message: msg})
			} else {
				r.Applied = true
			}
		}
		out[i] = r
	}
	return out, errs
}

func validateContent(content []byte) string {
	switch {
	case len(bytes.TrimSpace(content)) == 0:
		return "proposed content is empty"
	case bytes.IndexByte(content, 0) >= 0:
		return "proposed content contains NUL bytes"
	case !utf8.Valid(content):
		return "proposed content is not valid UTF-8"
	}
	return ""
}

func short(sha string) string {
	if sha == "" {
		return "<none>"
	}
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}
