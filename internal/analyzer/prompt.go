package analyzer

import (
	"fmt"
	"strings"

	"remediator/internal/data"
)

const (
	fileOpen    = `<<<FILE path="%s">>>`
	fileClose   = `<<<END FILE>>>`
	resultOpen  = `<<<RESULT path="%s" status="%s">>>`
	issuesMark  = `<<<ISSUES>>>`
	codeMark    = `<<<CODE>>>`
	resultClose = `<<<END RESULT>>>`

	statusFixed = "fixed"
	statusClean = "clean"
)

// SystemPrompt is the fixed instruction sent with every batch.
func SystemPrompt() string {
	var b strings.Builder
	b.WriteString("You are a senior software engineer reviewing source files for defects.\n")
	b.WriteString("For every file you receive, identify issues of these kinds only:\n")
	for _, k := range data.IssueKinds() {
		fmt.Fprintf(&b, "- %s\n", k)
	}
	b.WriteString(`
Fix every issue you report. Keep the file's behaviour, public API, formatting
conventions and comments unless a fix requires changing them. Never add
explanations outside the blocks below.

Files arrive as:
`)
	fmt.Fprintf(&b, fileOpen+"\n<content>\n%s\n\n", "path/to/file", fileClose)
	b.WriteString("Reply with exactly one block per input file, in any order, and nothing else:\n")
	fmt.Fprintf(&b, resultOpen+"\n%s\n- [<issue kind>] <one line description>\n%s\n<the complete corrected file content>\n%s\n\n",
		"path/to/file", statusFixed, issuesMark, codeMark, resultClose)
	b.WriteString("For a file with no issues reply with only:\n")
	fmt.Fprintf(&b, resultOpen+"\n%s\n\n", "path/to/file", statusClean, resultClose)
	b.WriteString("The path attribute must repeat the input path exactly. The CODE section must\n")
	b.WriteString("contain the entire file, not a diff or an excerpt.\n")
	return b.String()
}

// BuildPrompt renders the files of one batch.
func BuildPrompt(batch data.Batch) string {
	var b strings.Builder
	for _, f := range batch.Files {
		fmt.Fprintf(&b, fileOpen+"\n", f.Path)
		b.Write(f.Content)
		if len(f.Content) > 0 && f.Content[len(f.Content)-1] != '\n' {
			b.WriteByte('\n')
		}
		b.WriteString(fileClose)
		b.WriteString("\n\n")
	}
	return b.String()
}
