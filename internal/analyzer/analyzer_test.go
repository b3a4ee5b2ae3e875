package analyzer

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"remediator/internal/data"
	"remediator/internal/llm"
)

func file(path, content string) data.FileEntry {
	return data.FileEntry{Path: path, Content: []byte(content), Hash: data.BlobHash([]byte(content)), Size: len(content)}
}

var promptPath = regexp.MustCompile(`<<<FILE path="([^"]+)">>>`)

type fakeModel struct {
	mu      sync.Mutex
	calls   map[string]int
	respond func(paths []string, prompt llm.Prompt) (string, error)
}

func (f *fakeModel) Name() string { return "fake/model" }

func (f *fakeModel) Complete(ctx context.Context, p llm.Prompt) (string, error) {
	var paths []string
	for _, m := range promptPath.FindAllStringSubmatch(p.User, -1) {
		paths = append(paths, m[1])
	}
	f.mu.Lock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[strings.Join(paths, ",")]++
	f.mu.Unlock()
	return f.respond(paths, p)
}

func (f *fakeModel) callsFor(paths ...string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[strings.Join(paths, ",")]
}

func fixedBlock(path, code string, issues ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<<<RESULT path=%q status=\"fixed\">>>\n<<<ISSUES>>>\n", path)
	for _, is := range issues {
		fmt.Fprintf(&b, "- %s\n", is)
	}
	fmt.Fprintf(&b, "<<<CODE>>>\n%s\n<<<END RESULT>>>\n", code)
	return b.String()
}

func cleanBlock(path string) string {
	return fmt.Sprintf("<<<RESULT path=%q status=\"clean\">>>\n<<<END RESULT>>>\n", path)
}

func TestPlan_RespectsBudgetAndOrder(t *testing.T) {
	files := []data.FileEntry{
		file("a.go", strings.Repeat("a", 40)),
		file("b.go", strings.Repeat("b", 40)),
		file("c.go", strings.Repeat("c", 30)),
		file("d.go", strings.Repeat("d", 100)),
		file("e.go", strings.Repeat("e", 10)),
	}
	batches := Plan(files, 100)
	require.Len(t, batches, 4)

	assert.Equal(t, []string{"a.go", "b.go"}, batches[0].Paths())
	assert.Equal(t, []string{"c.go"}, batches[1].Paths())
	assert.Equal(t, []string{"d.go"}, batches[2].Paths())
	assert.Equal(t, []string{"e.go"}, batches[3].Paths())
	for i, b := range batches {
		assert.Equal(t, i, b.Index)
		assert.LessOrEqual(t, b.Size(), 100)
		assert.Empty(t, b.Truncated)
	}
}

func TestPlan_TruncatesOversizedFileAtLineBoundary(t *testing.T) {
	big := "line one\nline two\nline three\n"
	files := []data.FileEntry{file("small.go", "x\n"), file("big.go", big), file("tail.go", "y\n")}

	batches := Plan(files, 20)
	require.Len(t, batches, 3)
	assert.Equal(t, []string{"small.go"}, batches[0].Paths())
	assert.Equal(t, []string{"tail.go"}, batches[2].Paths())

	b := batches[1]
	require.Len(t, b.Files, 1)
	assert.Equal(t, "line one\nline two\n", string(b.Files[0].Content))
	assert.Equal(t, map[string]int{"big.go": 18}, b.Truncated)
	assert.LessOrEqual(t, b.Size(), 20)
}

func TestPlan_TruncatesOnRuneBoundaryWithoutNewline(t *testing.T) {
	content := strings.Repeat("é", 10) // 20 bytes, 2 per rune
	batches := Plan([]data.FileEntry{file("u.txt", content)}, 7)
	require.Len(t, batches, 1)
	assert.Equal(t, strings.Repeat("é", 3), string(batches[0].Files[0].Content))
	assert.Equal(t, 6, batches[0].Truncated["u.txt"])
}

func TestPlan_Empty(t *testing.T) {
	assert.Nil(t, Plan(nil, 100))
	assert.Nil(t, Plan([]data.FileEntry{file("a", "a")}, 0))
}

func TestBuildPrompt(t *testing.T) {
	b := data.Batch{Files: []data.FileEntry{file("a.go", "package a\n"), file("b.go", "package b")}}
	got := BuildPrompt(b)
	want := "<<<FILE path=\"a.go\">>>\npackage a\n<<<END FILE>>>\n\n" +
		"<<<FILE path=\"b.go\">>>\npackage b\n<<<END FILE>>>\n\n"
	assert.Equal(t, want, got)

	sys := SystemPrompt()
	for _, k := range data.IssueKinds() {
		assert.Contains(t, sys, string(k))
	}
	assert.Contains(t, sys, "<<<END RESULT>>>")
}

func TestParseResponse(t *testing.T) {
	batch := data.Batch{Files: []data.FileEntry{file("a.go", "a\n"), file("b.go", "b\n")}}

	reply := "\n" + fixedBlock("a.go", "fixed a", "[potential bug] nil deref", "[Code Style Issue] naming") + "\n" + cleanBlock("b.go")
	got, err := parseResponse(reply, batch)
	require.NoError(t, err)
	require.Len(t, got, 2)

	a := got["a.go"]
	assert.Equal(t, statusFixed, a.status)
	assert.Equal(t, "fixed a", a.code)
	assert.Equal(t, []data.Issue{
		{Kind: data.IssueBug, Description: "nil deref"},
		{Kind: data.IssueStyle, Description: "naming"},
	}, a.issues)
	assert.Equal(t, statusClean, got["b.go"].status)
}

func TestParseResponse_KeepsCodeVerbatim(t *testing.T) {
	batch := data.Batch{Files: []data.FileEntry{file("a.py", "x\n")}}
	code := "def f():\n    return 1\n\n- [not an issue] inside code"
	got, err := parseResponse(fixedBlock("a.py", code), batch)
	require.NoError(t, err)
	assert.Equal(t, code, got["a.py"].code)
}

func TestParseResponse_Deviations(t *testing.T) {
	batch := data.Batch{Files: []data.FileEntry{file("a.go", "a\n"), file("b.go", "b\n")}}
	tests := []struct {
		name  string
		reply string
	}{
		{name: "unknown path", reply: cleanBlock("a.go") + cleanBlock("b.go") + cleanBlock("c.go")},
		{name: "duplicate path", reply: cleanBlock("a.go") + cleanBlock("a.go") + cleanBlock("b.go")},
		{name: "missing path", reply: cleanBlock("a.go")},
		{name: "unknown status", reply: cleanBlock("a.go") + "<<<RESULT path=\"b.go\" status=\"broken\">>>\n<<<END RESULT>>>\n"},
		{name: "unknown issue kind", reply: cleanBlock("a.go") + fixedBlock("b.go", "b", "[typo] wrong")},
		{name: "fixed without code", reply: cleanBlock("a.go") + "<<<RESULT path=\"b.go\" status=\"fixed\">>>\n<<<ISSUES>>>\n- [potential bug] x\n<<<END RESULT>>>\n"},
		{name: "clean with issues", reply: cleanBlock("a.go") + "<<<RESULT path=\"b.go\" status=\"clean\">>>\n<<<ISSUES>>>\n- [potential bug] x\n<<<END RESULT>>>\n"},
		{name: "stray prose", reply: "Here are the fixes:\n" + cleanBlock("a.go") + cleanBlock("b.go")},
		{name: "code fence", reply: "```\n" + cleanBlock("a.go") + cleanBlock("b.go") + "```\n"},
		{name: "unterminated", reply: cleanBlock("a.go") + "<<<RESULT path=\"b.go\" status=\"fixed\">>>\n<<<CODE>>>\nb\n"},
		{name: "malformed issue", reply: cleanBlock("a.go") + fixedBlock("b.go", "b", "nil deref")},
		{name: "empty", reply: "  \n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseResponse(tt.reply, batch)
			assert.Error(t, err)
		})
	}
}

func TestAnalyze_ResultsPerFile(t *testing.T) {
	model := &fakeModel{respond: func(paths []string, p llm.Prompt) (string, error) {
		assert.Contains(t, p.System, "potential bug")
		return fixedBlock("a.go", "package a // fixed", "[potential bug] off by one") + cleanBlock("b.go"), nil
	}}
	a := New(model)
	files := []data.FileEntry{file("b.go", "package b\n"), file("a.go", "package a\n")}

	rep, err := a.Analyze(context.Background(), files)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Batches)
	assert.Empty(t, rep.Errors)
	require.Len(t, rep.Results, 2)

	ra, rb := rep.Results[0], rep.Results[1]
	assert.Equal(t, "a.go", ra.Path)
	assert.Equal(t, "package a // fixed\n", string(ra.ProposedContent))
	assert.Equal(t, files[1].Hash, ra.OriginalHash)
	assert.Equal(t, "1 potential bug", ra.Summary)
	assert.False(t, ra.Degraded)

	assert.Equal(t, "b.go", rb.Path)
	assert.Equal(t, "package b\n", string(rb.ProposedContent))
	assert.False(t, rb.Changed(files[0].Content))
	assert.Equal(t, "no issues found", rb.Summary)
}

func TestAnalyze_TruncatedFileKeepsTail(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	model := &fakeModel{respond: func(paths []string, p llm.Prompt) (string, error) {
		assert.Equal(t, []string{"big.go"}, paths)
		return fixedBlock("big.go", "ONE\nTWO", "[code style issue] shouting"), nil
	}}
	a := New(model, WithMaxBatchBytes(10), WithLogger(zap.New(core)))

	big := file("big.go", "one\ntwo\nthree\nfour\n")
	rep, err := a.Analyze(context.Background(), []data.FileEntry{big})
	require.NoError(t, err)
	require.Len(t, rep.Results, 1)

	r := rep.Results[0]
	assert.True(t, r.Degraded)
	assert.Equal(t, "ONE\nTWO\nthree\nfour\n", string(r.ProposedContent))
	assert.Equal(t, big.Hash, r.OriginalHash)
	assert.Equal(t, 1, logs.FilterMessageSnippet("degraded").Len())
}

func TestAnalyze_PreservesMissingTrailingNewline(t *testing.T) {
	model := &fakeModel{respond: func(paths []string, p llm.Prompt) (string, error) {
		return fixedBlock("a.sh", "echo hi\n", "[potential bug] quoting"), nil
	}}
	rep, err := New(model).Analyze(context.Background(), []data.FileEntry{file("a.sh", "echo  hi")})
	require.NoError(t, err)
	assert.Equal(t, "echo hi", string(rep.Results[0].ProposedContent))
}

func TestAnalyze_TransientFailureRetriedOnceThenFails(t *testing.T) {
	model := &fakeModel{respond: func(paths []string, p llm.Prompt) (string, error) {
		if paths[0] == "bad.go" {
			return "", &llm.TransientError{Err: errors.New("rate limited (429)")}
		}
		return cleanBlock(paths[0]), nil
	}}
	a := New(model, WithMaxBatchBytes(8), WithRetries(1, time.Millisecond), WithConcurrency(2))

	files := []data.FileEntry{file("bad.go", "bad\n"), file("good.go", "good\n")}
	rep, err := a.Analyze(context.Background(), files)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Batches)

	assert.Equal(t, 2, model.callsFor("bad.go"))
	assert.Equal(t, 1, model.callsFor("good.go"))

	require.Len(t, rep.Results, 1)
	assert.Equal(t, "good.go", rep.Results[0].Path)
	require.Len(t, rep.Errors, 1)
	assert.Equal(t, "bad.go", rep.Errors[0].Path)
	assert.Equal(t, data.KindAnalysis, rep.Errors[0].Kind)
	assert.Contains(t, rep.Errors[0].Message, "429")
}

// peakModel answers clean for every file and records the most calls it saw
// in flight at once.
type peakModel struct {
	inFlight atomic.Int32
	peak     atomic.Int32
	calls    atomic.Int32
}

func (m *peakModel) Name() string { return "peak/model" }

func (m *peakModel) Complete(ctx context.Context, p llm.Prompt) (string, error) {
	m.calls.Add(1)
	n := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		old := m.peak.Load()
		if n <= old || m.peak.CompareAndSwap(old, n) {
			break
		}
	}
	time.Sleep(20 * time.Millisecond)

	var b strings.Builder
	for _, match := range promptPath.FindAllStringSubmatch(p.User, -1) {
		b.WriteString(cleanBlock(match[1]))
	}
	return b.String(), nil
}

func TestAnalyze_ConcurrencyBoundsInFlightCalls(t *testing.T) {
	var files []data.FileEntry
	for i := 0; i < 6; i++ {
		files = append(files, file(fmt.Sprintf("f%d.go", i), "x\n"))
	}
	model := &peakModel{}
	a := New(model, WithMaxBatchBytes(2), WithConcurrency(2), WithRetries(0, 0))

	rep, err := a.Analyze(context.Background(), files)
	require.NoError(t, err)
	assert.Equal(t, 6, rep.Batches)
	assert.Empty(t, rep.Errors)
	assert.Len(t, rep.Results, 6)
	assert.Equal(t, int32(6), model.calls.Load())
	assert.Equal(t, int32(2), model.peak.Load())
}

func TestAnalyze_TransientFailureRecovers(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	model := &fakeModel{respond: func(paths []string, p llm.Prompt) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts == 1 {
			return "", context.DeadlineExceeded
		}
		return cleanBlock("a.go"), nil
	}}
	rep, err := New(model, WithRetries(1, 0)).Analyze(context.Background(), []data.FileEntry{file("a.go", "a\n")})
	require.NoError(t, err)
	assert.Empty(t, rep.Errors)
	assert.Len(t, rep.Results, 1)
}

func TestAnalyze_PermanentFailureNotRetried(t *testing.T) {
	model := &fakeModel{respond: func(paths []string, p llm.Prompt) (string, error) {
		return "", llm.ErrTruncated
	}}
	rep, err := New(model, WithRetries(3, 0)).Analyze(context.Background(), []data.FileEntry{file("a.go", "a\n"), file("b.go", "b\n")})
	require.NoError(t, err)
	assert.Equal(t, 1, model.callsFor("a.go", "b.go"))
	assert.Empty(t, rep.Results)
	require.Len(t, rep.Errors, 2)
	for _, fe := range rep.Errors {
		assert.Equal(t, data.KindAnalysis, fe.Kind)
	}
}

func TestAnalyze_MalformedOutputFailsBatch(t *testing.T) {
	model := &fakeModel{respond: func(paths []string, p llm.Prompt) (string, error) {
		return "Sure! Here is the code.", nil
	}}
	rep, err := New(model).Analyze(context.Background(), []data.FileEntry{file("a.go", "a\n")})
	require.NoError(t, err)
	require.Len(t, rep.Errors, 1)
	assert.Contains(t, rep.Errors[0].Message, "malformed model output")
	assert.Equal(t, 1, model.callsFor("a.go"))
}

func TestAnalyze_NilModel(t *testing.T) {
	_, err := New(nil).Analyze(context.Background(), nil)
	assert.Error(t, err)
}

func TestSummarize(t *testing.T) {
	issues := []data.Issue{
		{Kind: data.IssueStyle}, {Kind: data.IssueBug}, {Kind: data.IssueStyle},
	}
	assert.Equal(t, "2 code style issue, 1 potential bug", Summarize(issues))
	assert.Equal(t, "no issues found", Summarize(nil))
}
