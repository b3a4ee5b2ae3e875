package data

// Batch is one analysis request: files grouped to fit the context budget.
//
// Files carry the content actually sent to the model. Truncated maps the path
// of a file that was cut to fit to the byte offset of the cut in the original
// content.
type Batch struct {
	Index     int            `json:"index"`
	Files     []FileEntry    `json:"files"`
	Truncated map[string]int `json:"truncated,omitempty"`
}

// Size is the combined content length of the batch.
func (b Batch) Size() int {
	n := 0
	for _, f := range b.Files {
		n += len(f.Content)
	}
	return n
}

// Paths lists the batch's file paths in order.
func (b Batch) Paths() []string {
	out := make([]string, len(b.Files))
	for i, f := range b.Files {
		out[i] = f.Path
	}
	return out
}
