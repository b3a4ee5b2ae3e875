package data

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"strconv"
	"unicode/utf8"
)

// FileEntry is one regular file of a snapshot.
//
// Hash is the git blob object id of Content. Skipped entries were listed but
// their content was never downloaded; Binary entries could not be decoded as
// text. Neither is eligible for analysis.
type FileEntry struct {
	Path    string `json:"path"`
	Content []byte `json:"-"`
	Hash    string `json:"hash"`
	Mode    string `json:"mode,omitempty"`
	Size    int    `json:"size"`
	Binary  bool   `json:"binary,omitempty"`
	Skipped bool   `json:"skipped,omitempty"`
}

// Snapshot is the repository tree at the source branch head.
type Snapshot struct {
	Ref       RepositoryRef `json:"ref"`
	CommitSHA string        `json:"commit_sha"`
	TreeSHA   string        `json:"tree_sha"`
	Files     []FileEntry   `json:"files"`
}

// Lookup returns the entry for path, if present.
func (s *Snapshot) Lookup(path string) (FileEntry, bool) {
	if s == nil {
		return FileEntry{}, false
	}
	for _, f := range s.Files {
		if f.Path == path {
			return f, true
		}
	}
	return FileEntry{}, false
}

// Index maps paths to entries.
func (s *Snapshot) Index() map[string]FileEntry {
	if s == nil {
		return nil
	}
	out := make(map[string]FileEntry, len(s.Files))
	for _, f := range s.Files {
		out[f.Path] = f
	}
	return out
}

// BlobHash computes the git object id for a blob with the given content.
func BlobHash(content []byte) string {
	h := sha1.New()
	h.Write([]byte("blob " + strconv.Itoa(len(content)) + "\x00"))
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}

// IsText reports whether content can be treated as UTF-8 source text.
func IsText(content []byte) bool {
	if bytes.IndexByte(content, 0) >= 0 {
		return false
	}
	return utf8.Valid(content)
}
