// Package selector decides which snapshot files are eligible for analysis.
package selector

import (
	"path"
	"strings"

	"remediator/internal/data"
)

// Selector is a compiled SelectionPolicy. The zero value excludes nothing.
type Selector struct {
	exts    []string
	folders [][]string
}

func New(p data.SelectionPolicy) *Selector {
	s := &Selector{}
	for _, e := range p.ExcludedExtensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" || e == "." {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		s.exts = append(s.exts, e)
	}
	for _, f := range p.ExcludedFolders {
		segs := folderSegments(f)
		if len(segs) == 0 {
			continue
		}
		s.folders = append(s.folders, segs)
	}
	return s
}

// Excludes reports whether p matches an excluded extension or lies under an
// excluded folder.
func (s *Selector) Excludes(p string) bool {
	if s == nil {
		return false
	}
	lower := strings.ToLower(p)
	for _, e := range s.exts {
		if strings.HasSuffix(lower, e) {
			return true
		}
	}

	segs := splitPath(p)
	if len(segs) < 2 {
		return false
	}
	dirs := segs[:len(segs)-1]
	for _, folder := range s.folders {
		if containsRun(dirs, folder) {
			return true
		}
	}
	return false
}

// Keep is the inverse of Excludes; it is the fetch prefilter.
func (s *Selector) Keep(p string) bool {
	return !s.Excludes(p)
}

// Select returns the eligible subset of files in input order. Binary and
// skipped entries are never eligible.
func (s *Selector) Select(files []data.FileEntry) []data.FileEntry {
	out := make([]data.FileEntry, 0, len(files))
	for _, f := range files {
		if f.Binary || f.Skipped || s.Excludes(f.Path) {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Select applies policy to files.
func Select(files []data.FileEntry, policy data.SelectionPolicy) []data.FileEntry {
	return New(policy).Select(files)
}

func splitPath(p string) []string {
	return strings.FieldsFunc(strings.TrimSpace(p), func(r rune) bool { return r == '/' || r == '\\' })
}

// folderSegments normalises a folder entry such as "./docs/" or "/build\gen"
// to repository-relative segments.
func folderSegments(f string) []string {
	f = strings.ReplaceAll(strings.TrimSpace(f), `\`, "/")
	if f == "" {
		return nil
	}
	return splitPath(path.Clean("/" + f))
}

// containsRun reports whether pattern occurs as a contiguous run of segments
// in dirs. Pattern segments may use path.Match syntax.
func containsRun(dirs, pattern []string) bool {
	for start := 0; start+len(pattern) <= len(dirs); start++ {
		ok := true
		for i, pat := range pattern {
			if !matchSegment(pat, dirs[start+i]) {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

func matchSegment(pattern, seg string) bool {
	if !strings.ContainsAny(pattern, "*?[") {
		return pattern == seg
	}
	matched, _ := path.Match(pattern, seg)
	return matched
}
