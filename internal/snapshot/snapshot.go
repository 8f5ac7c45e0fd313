// Package snapshot captures a bounded, prioritized view of a working directory.
package snapshot

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/vollocare/autocoder/internal/budget"
	"github.com/vollocare/autocoder/internal/tools"
)

var (
	excludedDirs = map[string]struct{}{
		".git": {}, ".hg": {}, ".svn": {}, "__pycache__": {}, ".pytest_cache": {},
		".mypy_cache": {}, "node_modules": {}, "sample": {}, "samples": {}, "specs": {},
	}
	excludedPaths = []string{"testdata/fixtures"}
	excludedFiles = []string{"*.md", ".git*", "*.pyc", "*.pyo", "*.so", "*.o", "*.a", "*.log"}
)

// Options bound what a snapshot may contain.
type Options struct {
	MaxFiles      int
	MaxTotalChars int
	MaxFileBytes  int64
	Priority      []string // captured first, in pattern order
	Exclude       []string // extra file or directory globs
}

// Snapshot is an ordered set of files read from a directory.
type Snapshot struct {
	Files []tools.File
}

// Len returns the number of captured files.
func (s Snapshot) Len() int { return len(s.Files) }

// TotalChars returns the summed content length in runes.
func (s Snapshot) TotalChars() int {
	total := 0
	for _, f := range s.Files {
		total += utf8.RuneCountInString(f.Content)
	}
	return total
}

// Smallest keeps at most n files, discarding the largest first.
// Kept files stay in snapshot order.
func (s Snapshot) Smallest(n int) Snapshot {
	if n < 0 {
		n = 0
	}
	if len(s.Files) <= n {
		return s
	}
	idx := make([]int, len(s.Files))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return len(s.Files[idx[a]].Content) < len(s.Files[idx[b]].Content)
	})
	keep := make(map[int]bool, n)
	for _, i := range idx[:n] {
		keep[i] = true
	}
	out := Snapshot{Files: make([]tools.File, 0, n)}
	for i, f := range s.Files {
		if keep[i] {
			out.Files = append(out.Files, f)
		}
	}
	return out
}

// Format renders the snapshot as a repository context block.
func Format(repoName string, s Snapshot) string {
	var b strings.Builder
	b.WriteString(budget.RepoNameMarker)
	b.WriteString(repoName)
	b.WriteString("\n")
	for _, f := range s.Files {
		b.WriteString(budget.FileSepMarker)
		b.WriteString(f.Path)
		b.WriteString("\n")
		b.WriteString(f.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// Snapshotter reads snapshots of directories.
type Snapshotter struct {
	opts   Options
	logger *zap.Logger
}

// New builds a Snapshotter.
func New(opts Options, logger *zap.Logger) *Snapshotter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Snapshotter{opts: opts, logger: logger}
}

type candidate struct {
	rel  string
	size int64
}

// Snapshot captures files under root. A missing root yields an empty snapshot.
// Files are never truncated: oversized, non-UTF-8 and over-budget files are skipped.
func (s *Snapshotter) Snapshot(root string) (Snapshot, error) {
	fsys, err := tools.NewFilesystem(root, false, s.logger)
	if err != nil {
		return Snapshot{}, err
	}

	var candidates []candidate
	err = fsys.WalkFiles(func(rel string, d fs.DirEntry) bool {
		return s.excludedDir(rel, d.Name())
	}, func(rel string, d fs.DirEntry) error {
		if s.excludedFile(rel) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		candidates = append(candidates, candidate{rel: rel, size: info.Size()})
		return nil
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Snapshot{}, nil
		}
		return Snapshot{}, err
	}

	c := collector{opts: s.opts, fs: fsys, taken: make(map[string]bool), logger: s.logger}
	for _, pattern := range s.opts.Priority {
		for _, cand := range candidates {
			if c.full() {
				break
			}
			if !c.taken[cand.rel] && Match(pattern, cand.rel) {
				c.consider(cand)
			}
		}
	}
	for _, cand := range candidates {
		if c.full() {
			break
		}
		if !c.taken[cand.rel] {
			c.consider(cand)
		}
	}

	s.logger.Debug("repository snapshot",
		zap.String("root", fsys.Root()),
		zap.Int("files", len(c.files)),
		zap.Int("chars", c.total),
	)
	return Snapshot{Files: c.files}, nil
}

func (s *Snapshotter) excludedDir(rel, name string) bool {
	if _, ok := excludedDirs[name]; ok {
		return true
	}
	for _, pattern := range append(excludedPaths, s.opts.Exclude...) {
		if Match(pattern, rel) {
			return true
		}
	}
	return false
}

func (s *Snapshotter) excludedFile(rel string) bool {
	for _, pattern := range excludedFiles {
		if Match(pattern, rel) {
			return true
		}
	}
	for _, pattern := range s.opts.Exclude {
		if Match(pattern, rel) {
			return true
		}
	}
	return false
}

type collector struct {
	opts   Options
	fs     *tools.Filesystem
	files  []tools.File
	taken  map[string]bool
	total  int
	logger *zap.Logger
}

func (c *collector) full() bool {
	return len(c.files) >= c.opts.MaxFiles || c.total >= c.opts.MaxTotalChars
}

func (c *collector) consider(cand candidate) {
	c.taken[cand.rel] = true
	if cand.size > c.opts.MaxFileBytes {
		c.logger.Debug("snapshot skip: too large", zap.String("path", cand.rel), zap.Int64("bytes", cand.size))
		return
	}
	content, err := c.fs.ReadFile(cand.rel)
	if err != nil {
		c.logger.Debug("snapshot skip: unreadable", zap.String("path", cand.rel), zap.Error(err))
		return
	}
	if !utf8.ValidString(content) {
		c.logger.Debug("snapshot skip: not utf-8", zap.String("path", cand.rel))
		return
	}
	n := utf8.RuneCountInString(content)
	if c.total+n > c.opts.MaxTotalChars {
		return
	}
	c.files = append(c.files, tools.File{Path: cand.rel, Content: content})
	c.total += n
}

// Match reports whether a slash-separated relative path matches pattern.
// Patterns without a slash match the base name; others match the trailing
// path components, so "core/*.py" matches "pkg/core/engine.py".
func Match(pattern, rel string) bool {
	pattern = strings.TrimPrefix(pattern, "**/")
	depth := strings.Count(pattern, "/") + 1
	parts := strings.Split(rel, "/")
	if len(parts) < depth {
		return false
	}
	tail := strings.Join(parts[len(parts)-depth:], "/")
	ok, err := path.Match(pattern, tail)
	return err == nil && ok
}
