package testrun

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/mod/modfile"

	"github.com/vollocare/autocoder/internal/tools"
)

// Go runs go test for the packages that contain generated test files.
type Go struct {
	binary string
	logger *zap.Logger
}

// NewGo builds a Go runner.
func NewGo(binary string, logger *zap.Logger) *Go {
	if binary == "" {
		binary = "go"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Go{binary: binary, logger: logger}
}

func (g *Go) Name() string   { return "go" }
func (g *Go) Binary() string { return g.binary }

func (g *Go) SourcePatterns() []string {
	return []string{"go.mod", "*.go", "main.go", "internal/*/*.go"}
}

// TestArgs maps test files to their package directories.
func (g *Go) TestArgs(testFiles []string) []string {
	seen := make(map[string]bool)
	var pkgs []string
	for _, f := range testFiles {
		dir := filepath.ToSlash(filepath.Dir(f))
		pkg := "./" + strings.TrimPrefix(dir, "./")
		if dir == "." {
			pkg = "."
		}
		if !seen[pkg] {
			seen[pkg] = true
			pkgs = append(pkgs, pkg)
		}
	}
	sort.Strings(pkgs)
	return append([]string{"test", "-v"}, pkgs...)
}

// EnsureDependencies downloads the modules required by go.mod.
func (g *Go) EnsureDependencies(ctx context.Context, term *tools.Terminal, dir string) error {
	requires, err := moduleRequires(filepath.Join(dir, "go.mod"))
	if err != nil {
		return &InstallError{Output: err.Error()}
	}
	if len(requires) == 0 {
		return nil
	}

	g.logger.Info("downloading go modules", zap.Strings("modules", requires))
	res, err := term.Exec(ctx, g.binary, "mod", "download")
	if err != nil {
		out := strings.TrimSpace(res.Stderr)
		if out == "" {
			out = err.Error()
		}
		return &InstallError{Output: out}
	}
	return nil
}

// moduleRequires lists the direct requirements of a go.mod file. A missing file has none.
func moduleRequires(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	mf, err := modfile.Parse(path, data, nil)
	if err != nil {
		return nil, fmt.Errorf("parse go.mod: %w", err)
	}
	var out []string
	for _, r := range mf.Require {
		if r.Indirect {
			continue
		}
		out = append(out, r.Mod.Path+"@"+r.Mod.Version)
	}
	return out, nil
}
