package refine

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vollocare/autocoder/internal/snapshot"
	"github.com/vollocare/autocoder/internal/tools"
)

type fakeSnapshotter struct {
	snap  snapshot.Snapshot
	err   error
	calls int
}

func (f *fakeSnapshotter) Snapshot(string) (snapshot.Snapshot, error) {
	f.calls++
	return f.snap, f.err
}

func opts() Options {
	return Options{MaxRepoFiles: 5, LargeDiagnosticChars: 1000}
}

func TestRefineEmptyDiagnosticIsIdentity(t *testing.T) {
	snap := &fakeSnapshotter{}
	b := NewBuilder(nil, snap, opts(), nil)
	require.Equal(t, "prompt", b.Refine("prompt", "", nil, "/out"))
	require.Zero(t, snap.calls)
}

func TestRefineIncludesImplicatedFilesOnly(t *testing.T) {
	snap := &fakeSnapshotter{snap: snapshot.Snapshot{Files: []tools.File{{Path: "x.py", Content: "x"}}}}
	b := NewBuilder(nil, snap, opts(), nil)
	files := []tools.File{
		{Path: "pkg/calc.py", Content: "def add(a, b): return a - b"},
		{Path: "pkg/util.py", Content: "pass"},
	}
	diag := "tests/test_calc.py:3: in test_add\npkg/calc.py:1: AssertionError"

	out := b.Refine("base", diag, files, "/out/demo")
	require.True(t, strings.HasPrefix(out, "base\n\n# Previous Error\n"))
	require.Contains(t, out, "```\n"+diag+"\n```\nPlease fix the issues and regenerate the code.")
	require.Contains(t, out, "# Problematic Files\n\nThe problematic file was `pkg/calc.py`:\n```python\ndef add(a, b): return a - b\n```\n")
	require.NotContains(t, out, "pkg/util.py")
	require.NotContains(t, out, "# Repository Context")
	require.Zero(t, snap.calls)
}

func TestRefineAddsRepositoryContextWhenNothingImplicated(t *testing.T) {
	snap := &fakeSnapshotter{snap: snapshot.Snapshot{Files: []tools.File{
		{Path: "big.py", Content: strings.Repeat("b", 50)},
		{Path: "a.py", Content: "a"},
		{Path: "c.py", Content: "cc"},
	}}}
	o := opts()
	o.MaxRepoFiles = 2
	b := NewBuilder(nil, snap, o, nil)

	out := b.Refine("base", "ImportError: no module named foo", []tools.File{{Path: "main.py"}}, "/out/demo")
	require.Contains(t, out, "\n\n# Repository Context\n<|repo_name|>demo\n<|file_sep|>a.py\na\n<|file_sep|>c.py\ncc\n")
	require.NotContains(t, out, "big.py")
	require.NotContains(t, out, "# Problematic Files")
}

func TestRefineLargeDiagnosticAddsBoth(t *testing.T) {
	snap := &fakeSnapshotter{snap: snapshot.Snapshot{Files: []tools.File{{Path: "a.py", Content: "a"}}}}
	o := opts()
	o.RepoName = "named"
	b := NewBuilder(nil, snap, o, nil)

	diag := "main.py failed\n" + strings.Repeat("x", 1001)
	out := b.Refine("base", diag, []tools.File{{Path: "main.py", Content: "print()"}}, "/out/demo")
	require.Contains(t, out, "# Problematic Files")
	require.Contains(t, out, "# Repository Context\n<|repo_name|>named\n")
}

func TestRefineSnapshotFailureOmitsContext(t *testing.T) {
	b := NewBuilder(nil, &fakeSnapshotter{err: errors.New("denied")}, opts(), nil)
	out := b.Refine("base", "boom", nil, "/out")
	require.Equal(t, "base"+ErrorBanner("boom"), out)
}

type allMatcher struct{}

func (allMatcher) Implicated(_ string, files []tools.File) []tools.File { return files }

func TestRefineUsesCustomMatcher(t *testing.T) {
	b := NewBuilder(allMatcher{}, &fakeSnapshotter{}, opts(), nil)
	out := b.Refine("base", "opaque failure", []tools.File{{Path: "main.go", Content: "package main"}}, "/out")
	require.Contains(t, out, "The problematic file was `main.go`:\n```go\npackage main\n```\n")
}
