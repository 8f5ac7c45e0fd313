// Package testrun installs missing test dependencies and runs generated tests.
package testrun

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vollocare/autocoder/internal/config"
	"github.com/vollocare/autocoder/internal/tools"
)

// NoTestsDiagnostic is reported when none of the written files is a test.
const NoTestsDiagnostic = "No test files were generated"

// Verdict is the outcome of one test run.
type Verdict struct {
	Passed     bool
	Diagnostic string // empty only when Passed
	Summary    string
	Failing    []string
	Duration   time.Duration
}

// Runner knows how to prepare and test one language ecosystem.
type Runner interface {
	Name() string
	Binary() string
	// SourcePatterns are the snapshot priority globs for this ecosystem.
	SourcePatterns() []string
	// EnsureDependencies installs whatever the project in dir is missing.
	// Installation failures are returned as *InstallError.
	EnsureDependencies(ctx context.Context, term *tools.Terminal, dir string) error
	// TestArgs returns the arguments passed to Binary to run testFiles from the project root.
	TestArgs(testFiles []string) []string
}

// InstallError carries the installer output of a failed dependency install.
type InstallError struct {
	Output string
}

func (e *InstallError) Error() string {
	return "Dependency installation failed: " + e.Output
}

// NewRunner picks the runner named by cfg.Runner.
func NewRunner(cfg config.TestsConfig, logger *zap.Logger) (Runner, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Runner)) {
	case "", "python":
		return NewPython(cfg.Python, cfg.DefaultPackages, logger), nil
	case "go":
		return NewGo(cfg.GoBinary, logger), nil
	default:
		return nil, fmt.Errorf("unknown test runner %q", cfg.Runner)
	}
}

// Options tune an Invoker.
type Options struct {
	InstallDependencies bool
	Timeout             time.Duration
	InstallTimeout      time.Duration
}

// Invoker runs the tests among a set of written files.
type Invoker struct {
	runner Runner
	opts   Options
	logger *zap.Logger
}

// NewInvoker builds an Invoker around runner.
func NewInvoker(runner Runner, opts Options, logger *zap.Logger) *Invoker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Invoker{runner: runner, opts: opts, logger: logger}
}

// Run tests the files in filePaths whose base name contains "test",
// from outputDir, and classifies the result.
func (i *Invoker) Run(ctx context.Context, filePaths []string, outputDir string) Verdict {
	tests := FilterTestFiles(filePaths, outputDir)
	if len(tests) == 0 {
		return Verdict{Diagnostic: NoTestsDiagnostic}
	}

	term := tools.Terminal{
		WorkingDir:     outputDir,
		Allowed:        []string{i.runner.Binary()},
		AllowExecution: true,
	}

	if i.opts.InstallDependencies {
		installTerm := term
		installTerm.Timeout = i.opts.InstallTimeout
		if err := i.runner.EnsureDependencies(ctx, &installTerm, outputDir); err != nil {
			var installErr *InstallError
			if !errors.As(err, &installErr) {
				installErr = &InstallError{Output: err.Error()}
			}
			i.logger.Warn("dependency installation failed", zap.String("runner", i.runner.Name()), zap.Error(err))
			return Verdict{Diagnostic: installErr.Error()}
		}
	}

	term.Timeout = i.opts.Timeout
	args := i.runner.TestArgs(tests)
	i.logger.Info("running tests",
		zap.String("runner", i.runner.Name()),
		zap.Strings("files", tests),
	)

	start := time.Now()
	res, err := term.Exec(ctx, i.runner.Binary(), args...)
	v := Verdict{Duration: time.Since(start)}
	if err == nil && res.ExitCode == 0 {
		v.Passed = true
		return v
	}

	v.Diagnostic = diagnostic(res, err)
	v.Summary, v.Failing = parseTestOutput(res.Stdout + "\n" + res.Stderr)
	i.logger.Info("tests failed",
		zap.Int("exit_code", res.ExitCode),
		zap.Strings("failing", v.Failing),
	)
	return v
}

func diagnostic(res tools.ExecResult, err error) string {
	if strings.TrimSpace(res.Stderr) != "" {
		return res.Stderr
	}
	if strings.TrimSpace(res.Stdout) != "" {
		return res.Stdout
	}
	if err != nil {
		return err.Error()
	}
	return fmt.Sprintf("tests exited with code %d", res.ExitCode)
}

// FilterTestFiles keeps the paths whose lower-cased base name contains "test",
// made relative to root where possible.
func FilterTestFiles(filePaths []string, root string) []string {
	out := make([]string, 0, len(filePaths))
	for _, p := range filePaths {
		if !strings.Contains(strings.ToLower(filepath.Base(p)), "test") {
			continue
		}
		if filepath.IsAbs(p) && root != "" {
			if rel, err := filepath.Rel(root, p); err == nil && !strings.HasPrefix(rel, "..") {
				p = rel
			}
		}
		out = append(out, p)
	}
	return out
}
