// Package refine folds a failed test run back into the generation prompt.
package refine

import (
	"fmt"
	"path"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/vollocare/autocoder/internal/snapshot"
	"github.com/vollocare/autocoder/internal/tools"
)

// Matcher picks the files a diagnostic implicates.
type Matcher interface {
	Implicated(diagnostic string, files []tools.File) []tools.File
}

// FilenameMatcher implicates every file whose base name occurs in the diagnostic.
type FilenameMatcher struct{}

func (FilenameMatcher) Implicated(diagnostic string, files []tools.File) []tools.File {
	var out []tools.File
	for _, f := range files {
		if strings.Contains(diagnostic, path.Base(f.Path)) {
			out = append(out, f)
		}
	}
	return out
}

// Snapshotter captures the current state of the output directory.
type Snapshotter interface {
	Snapshot(root string) (snapshot.Snapshot, error)
}

// Options tune a Builder.
type Options struct {
	MaxRepoFiles         int
	LargeDiagnosticChars int
	RepoName             string // empty: base name of the output directory
}

// Builder constructs the next prompt from a failed iteration.
type Builder struct {
	matcher     Matcher
	snapshotter Snapshotter
	opts        Options
	logger      *zap.Logger
}

// NewBuilder builds a Builder. A nil matcher uses FilenameMatcher.
func NewBuilder(m Matcher, s Snapshotter, opts Options, logger *zap.Logger) *Builder {
	if m == nil {
		m = FilenameMatcher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{matcher: m, snapshotter: s, opts: opts, logger: logger}
}

// Refine appends the diagnostic, the implicated files and, when they are not
// enough, a small repository context to previous. An empty diagnostic returns
// previous unchanged.
func (b *Builder) Refine(previous, diagnostic string, previousFiles []tools.File, outputDir string) string {
	if diagnostic == "" {
		return previous
	}

	var sb strings.Builder
	sb.WriteString(previous)
	sb.WriteString(ErrorBanner(diagnostic))

	implicated := b.matcher.Implicated(diagnostic, previousFiles)
	if len(implicated) > 0 {
		sb.WriteString("\n\n# Problematic Files\n")
		for _, f := range implicated {
			fmt.Fprintf(&sb, "\nThe problematic file was `%s`:\n", f.Path)
			fmt.Fprintf(&sb, "```%s\n%s\n```\n", fenceLanguage(f.Path), f.Content)
		}
	}

	if len(implicated) == 0 || utf8.RuneCountInString(diagnostic) > b.opts.LargeDiagnosticChars {
		sb.WriteString(b.repositoryContext(outputDir))
	}

	b.logger.Debug("refined prompt",
		zap.Int("implicated_files", len(implicated)),
		zap.Int("diagnostic_chars", len(diagnostic)),
	)
	return sb.String()
}

// ErrorBanner formats the previous-error section appended to a prompt.
func ErrorBanner(diagnostic string) string {
	return "\n\n# Previous Error\n" +
		"The previous code generation attempt failed with the following error:\n" +
		"```\n" + diagnostic + "\n```\n" +
		"Please fix the issues and regenerate the code."
}

func (b *Builder) repositoryContext(outputDir string) string {
	if b.snapshotter == nil {
		return ""
	}
	snap, err := b.snapshotter.Snapshot(outputDir)
	if err != nil {
		b.logger.Warn("snapshot for refinement failed", zap.Error(err))
		return ""
	}
	if snap.Len() > b.opts.MaxRepoFiles {
		b.logger.Debug("limiting repository context",
			zap.Int("max_files", b.opts.MaxRepoFiles),
			zap.Int("collected", snap.Len()),
		)
		snap = snap.Smallest(b.opts.MaxRepoFiles)
	}
	if snap.Len() == 0 {
		return ""
	}
	name := b.opts.RepoName
	if name == "" {
		name = path.Base(strings.ReplaceAll(outputDir, "\\", "/"))
	}
	return "\n\n# Repository Context\n" + snapshot.Format(name, snap)
}

func fenceLanguage(p string) string {
	switch strings.ToLower(path.Ext(p)) {
	case ".py":
		return "python"
	case ".go":
		return "go"
	case ".js":
		return "javascript"
	case ".ts":
		return "typescript"
	case ".sh":
		return "bash"
	case ".yaml", ".yml":
		return "yaml"
	case ".json":
		return "json"
	case ".toml":
		return "toml"
	default:
		return ""
	}
}
