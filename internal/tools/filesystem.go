package tools

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// File is a relative path and its full text content.
type File struct {
	Path    string `json:"path"`
	Content string `json:"content,omitempty"`
}

// Filesystem provides safe file operations rooted at a base directory.
type Filesystem struct {
	guard      *PathGuard
	allowWrite bool
	logger     *zap.Logger
}

// NewFilesystem builds a filesystem tool with write permissions controlled by allowWrite.
func NewFilesystem(baseDir string, allowWrite bool, logger *zap.Logger) (*Filesystem, error) {
	guard, err := NewPathGuard(baseDir)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Filesystem{guard: guard, allowWrite: allowWrite, logger: logger}, nil
}

// Root returns the absolute base directory.
func (f *Filesystem) Root() string {
	return f.guard.BaseDir
}

// Resolve returns the absolute path of path inside the base directory.
func (f *Filesystem) Resolve(path string) (string, error) {
	return f.guard.Resolve(path)
}

// ReadFile returns file contents as string.
func (f *Filesystem) ReadFile(path string) (string, error) {
	resolved, err := f.guard.Resolve(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// WriteFile writes content to a file if allowed and returns its absolute path.
func (f *Filesystem) WriteFile(path string, content string) (string, error) {
	if !f.allowWrite {
		return "", errors.New("write is disabled by configuration")
	}
	resolved, err := f.guard.Resolve(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return "", err
	}
	return resolved, nil
}

// WriteFiles writes every file, logging and skipping individual failures.
// The returned absolute paths follow input order and omit failed files.
func (f *Filesystem) WriteFiles(files []File) []string {
	written := make([]string, 0, len(files))
	for _, file := range files {
		abs, err := f.WriteFile(file.Path, file.Content)
		if err != nil {
			f.logger.Error("write file failed", zap.String("path", file.Path), zap.Error(err))
			continue
		}
		f.logger.Debug("wrote file", zap.String("path", abs), zap.Int("bytes", len(file.Content)))
		written = append(written, abs)
	}
	return written
}

// WalkFiles walks regular files under the base directory in lexical order and
// invokes fn with the slash-separated relative path and entry. skipDir prunes
// directories by relative path; fn may return fs.SkipAll to stop early.
// Unreadable directories below the base are logged and skipped.
func (f *Filesystem) WalkFiles(skipDir func(rel string, d fs.DirEntry) bool, fn func(rel string, d fs.DirEntry) error) error {
	if fn == nil {
		return fmt.Errorf("fn is required")
	}
	err := filepath.WalkDir(f.guard.BaseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == f.guard.BaseDir {
				return err
			}
			f.logger.Warn("walk skip: unreadable", zap.String("path", path), zap.Error(err))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if path == f.guard.BaseDir {
			return nil
		}
		rel, err := f.guard.Rel(path)
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skipDir != nil && skipDir(rel, d) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return fn(rel, d)
	})
	if errors.Is(err, fs.SkipAll) {
		return nil
	}
	return err
}
