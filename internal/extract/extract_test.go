package extract

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vollocare/autocoder/internal/tools"
)

func TestExtractWellFormedBlocks(t *testing.T) {
	var b strings.Builder
	b.WriteString("Here is the project.\n")
	for i := 0; i < 4; i++ {
		fmt.Fprintf(&b, "```file:  pkg/mod%d.py  \nx = %d\n```\n\n", i, i)
	}

	files := Extract(b.String())
	require.Len(t, files, 4)
	for i, f := range files {
		require.Equal(t, fmt.Sprintf("pkg/mod%d.py", i), f.Path)
		require.Equal(t, fmt.Sprintf("x = %d", i), f.Content)
	}
}

func TestExtractMarkerVariants(t *testing.T) {
	response := "```python:a.py\nA\n```\n```filepath:b/c.py```\nC\n```\n"
	require.Equal(t, []tools.File{
		{Path: "a.py", Content: "A"},
		{Path: "b/c.py", Content: "C"},
	}, Extract(response))
}

func TestExtractUnclosedFinalBlock(t *testing.T) {
	response := "```file:done.py\nok\n```\n```file:tail.py\nline1\nline2"
	files := Extract(response)
	require.Len(t, files, 2)
	require.Equal(t, "tail.py", files[1].Path)
	require.Equal(t, "line1\nline2", files[1].Content)
}

func TestExtractNewMarkerFlushesOpenFile(t *testing.T) {
	response := "```file:a.py\nA\n```file:b.py\nB\n```\n"
	files := Extract(response)
	require.Equal(t, []tools.File{{Path: "a.py", Content: "A"}, {Path: "b.py", Content: "B"}}, files)
}

func TestExtractEmptyPathDiscardsBlock(t *testing.T) {
	response := "```file:   \nlost\n```\n```file:kept.py\nkept\n```\n"
	files := Extract(response)
	require.Equal(t, []tools.File{{Path: "kept.py", Content: "kept"}}, files)
}

func TestExtractDuplicatePathLastWriteWins(t *testing.T) {
	response := "```file:a/b.txt\nx\n```\n```file:other.txt\no\n```\n```file:a/b.txt\ny\n```\n"
	files := Extract(response)
	require.Equal(t, []tools.File{{Path: "a/b.txt", Content: "y"}, {Path: "other.txt", Content: "o"}}, files)
}

func TestExtractKeepsEmptyClosedFile(t *testing.T) {
	files := Extract("```file:pkg/__init__.py\n```\n")
	require.Equal(t, []tools.File{{Path: "pkg/__init__.py", Content: ""}}, files)
}

func TestExtractIgnoresProseAndForeignFences(t *testing.T) {
	response := "Intro\n```bash\npip install x\n```\nOutro"
	require.Empty(t, Extract(response))
}

func TestExtractPreservesLineEndings(t *testing.T) {
	files := Extract("```file:a.py\r\nx = 1\r\n```\r\n")
	require.Len(t, files, 1)
	require.Equal(t, "a.py", files[0].Path)
	require.Equal(t, "x = 1\r", files[0].Content)
}
