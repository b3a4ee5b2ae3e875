package analyzer

import (
	"bytes"
	"unicode/utf8"

	"remediator/internal/data"
)

// Plan partitions files into batches whose combined content length stays
// within maxBytes. Files are taken in order and appended to the current batch
// until the next one would overflow it. A file larger than maxBytes on its own
// gets a dedicated batch and is cut down to fit; the cut is recorded in
// Batch.Truncated.
func Plan(files []data.FileEntry, maxBytes int) []data.Batch {
	if maxBytes <= 0 || len(files) == 0 {
		return nil
	}

	var (
		batches []data.Batch
		cur     data.Batch
		size    int
	)
	flush := func() {
		if len(cur.Files) == 0 {
			return
		}
		cur.Index = len(batches)
		batches = append(batches, cur)
		cur = data.Batch{}
		size = 0
	}

	for _, f := range files {
		n := len(f.Content)
		if n > maxBytes {
			flush()
			cut := truncateAt(f.Content, maxBytes)
			trimmed := f
			trimmed.Content = f.Content[:cut]
			cur = data.Batch{
				Files:     []data.FileEntry{trimmed},
				Truncated: map[string]int{f.Path: cut},
			}
			flush()
			continue
		}
		if size+n > maxBytes {
			flush()
		}
		cur.Files = append(cur.Files, f)
		size += n
	}
	flush()
	return batches
}

// truncateAt returns the largest cut <= limit that ends on a line boundary,
// or on a rune boundary when the first limit bytes hold no newline.
func truncateAt(content []byte, limit int) int {
	if limit >= len(content) {
		return len(content)
	}
	if i := bytes.LastIndexByte(content[:limit], '\n'); i >= 0 {
		return i + 1
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return cut
}
