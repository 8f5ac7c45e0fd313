// Package engine drives the generate, extract, write, test and refine loop.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vollocare/autocoder/internal/codegen"
	"github.com/vollocare/autocoder/internal/extract"
	"github.com/vollocare/autocoder/internal/snapshot"
	"github.com/vollocare/autocoder/internal/specparse"
	"github.com/vollocare/autocoder/internal/testrun"
	"github.com/vollocare/autocoder/internal/tools"
)

// SpecParser turns specification text into the base prompt.
type SpecParser interface {
	Parse(content string) (*specparse.Spec, error)
	GeneratePrompt(spec *specparse.Spec) string
}

// CodeGenerator performs one model call.
type CodeGenerator interface {
	GenerateCode(ctx context.Context, req codegen.Request) (string, error)
}

// TestRunner verifies the written files.
type TestRunner interface {
	Run(ctx context.Context, filePaths []string, outputDir string) testrun.Verdict
}

// Snapshotter captures the repository context.
type Snapshotter interface {
	Snapshot(root string) (snapshot.Snapshot, error)
}

// Refiner builds the next prompt from a failed attempt.
type Refiner interface {
	Refine(previous, diagnostic string, previousFiles []tools.File, outputDir string) string
}

// Metrics receives session outcomes.
type Metrics interface {
	RecordIteration(outcome string)
	RecordSession(result string, iterations int, d time.Duration)
	RecordTestRun(passed bool, d time.Duration)
}

// Deps are the collaborators of an Engine. Metrics may be nil.
type Deps struct {
	Parser    SpecParser
	Generator CodeGenerator
	Tests     TestRunner
	Snapshots Snapshotter
	Refiner   Refiner
	Metrics   Metrics
}

// Options tune an Engine.
type Options struct {
	Model            string
	SystemPrompt     string
	RepoName         string // defaults to the output directory name
	TemperatureStart float64
	TemperatureStep  float64
	TemperatureFloor float64
	RetryDelay       time.Duration
}

// Engine runs generation sessions. It holds no per-session state and may
// serve concurrent sessions for different output directories.
type Engine struct {
	deps   Deps
	opts   Options
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// New builds an Engine.
func New(deps Deps, opts Options, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{deps: deps, opts: opts, logger: logger, sleep: sleepCtx}
}

// Generate runs up to maxIterations cycles for specContent, writing into outputDir.
// The error is reserved for setup failures; model and test failures end up in the Report.
func (e *Engine) Generate(ctx context.Context, specContent, outputDir string, maxIterations int, observers ...Observer) (Report, error) {
	if maxIterations < 1 {
		return Report{}, fmt.Errorf("max iterations must be at least 1, got %d", maxIterations)
	}
	absDir, err := filepath.Abs(outputDir)
	if err != nil {
		return Report{}, fmt.Errorf("resolve output directory: %w", err)
	}
	if err := os.MkdirAll(absDir, 0o755); err != nil {
		return Report{}, fmt.Errorf("create output directory: %w", err)
	}
	fsys, err := tools.NewFilesystem(absDir, true, e.logger)
	if err != nil {
		return Report{}, err
	}

	s := &Session{
		ID:            uuid.NewString(),
		MaxIterations: maxIterations,
		OutputDir:     absDir,
		State:         StateInit,
		Started:       time.Now(),
	}
	log := e.logger.With(zap.String("session", s.ID))
	emit := func(ev Event) {
		ev.SessionID = s.ID
		ev.State = s.State
		if ev.Iteration == 0 {
			ev.Iteration = s.CurrentIteration
		}
		for _, obs := range observers {
			if obs != nil {
				obs(ev)
			}
		}
	}

	spec, err := e.deps.Parser.Parse(specContent)
	if err != nil {
		return Report{}, fmt.Errorf("parse specification: %w", err)
	}
	prompt := e.deps.Parser.GeneratePrompt(spec)
	log.Info("generating code from specification",
		zap.String("output_dir", absDir),
		zap.Int("max_iterations", maxIterations),
	)

	repoContext := e.repoContext(absDir, log)

	var written []string
	for index := 0; index < maxIterations; index++ {
		if err := ctx.Err(); err != nil {
			return e.finish(s, written, abort(s, log, "cancelled", err), emit), nil
		}
		s.CurrentIteration = index + 1
		e.transition(s, StateGenerating, log)

		temperature := Temperature(index, e.opts.TemperatureStart, e.opts.TemperatureStep, e.opts.TemperatureFloor)
		emit(Event{Type: EventIteration, Temperature: temperature,
			Message: fmt.Sprintf("iteration %d/%d", s.CurrentIteration, s.MaxIterations)})
		req := codegen.Request{
			Model:        e.opts.Model,
			Prompt:       prompt,
			RepoContext:  repoContext,
			SystemPrompt: e.opts.SystemPrompt,
			Temperature:  temperature,
		}
		if index > 0 && s.LastError != "" {
			req.ErrorContext = ErrorContext(s.LastError)
		}

		output, err := e.deps.Generator.GenerateCode(ctx, req)
		if err != nil {
			return e.finish(s, written, abort(s, log, "failed to generate code", err), emit), nil
		}
		if strings.TrimSpace(output) == "" {
			return e.finish(s, written, abort(s, log, "empty response from model", nil), emit), nil
		}
		emit(Event{Type: EventGenerated, Message: fmt.Sprintf("%d characters", len(output))})

		e.transition(s, StateExtracting, log)
		files := extract.Extract(output)
		if len(files) == 0 {
			return e.finish(s, written, abort(s, log, "no valid files found in the generated code", nil), emit), nil
		}
		emit(Event{Type: EventExtracted, Files: paths(files)})

		e.transition(s, StateWriting, log)
		written = fsys.WriteFiles(files)
		s.LastExtractedFiles = writtenFiles(fsys, files, written)
		if len(written) == 0 {
			return e.finish(s, written, abort(s, log, "failed to write files to output directory", nil), emit), nil
		}
		emit(Event{Type: EventWritten, Files: written})

		e.transition(s, StateTesting, log)
		verdict := e.deps.Tests.Run(ctx, written, absDir)
		e.recordTestRun(verdict)
		emit(Event{Type: EventTest, Passed: verdict.Passed, Diagnostic: verdict.Diagnostic,
			Failing: verdict.Failing, Message: verdict.Summary})
		if verdict.Passed {
			e.recordIteration("passed")
			e.transition(s, StateSucceeded, log)
			log.Info("code generated successfully and passed all tests", zap.Int("iteration", s.CurrentIteration))
			break
		}
		e.recordIteration("failed")

		s.LastError = verdict.Diagnostic
		e.transition(s, StateRefining, log)
		prompt = e.deps.Refiner.Refine(prompt, verdict.Diagnostic, s.LastExtractedFiles, absDir)
		emit(Event{Type: EventRefine, Diagnostic: verdict.Diagnostic})

		if s.CurrentIteration == s.MaxIterations {
			e.transition(s, StateExhausted, log)
			log.Warn("iteration budget exhausted", zap.Int("iterations", s.CurrentIteration))
			break
		}
		log.Warn("code test failed, retrying",
			zap.Int("iteration", s.CurrentIteration),
			zap.Int("max_iterations", s.MaxIterations),
		)
		if err := e.sleep(ctx, e.opts.RetryDelay); err != nil {
			return e.finish(s, written, abort(s, log, "cancelled", err), emit), nil
		}
	}

	return e.finish(s, written, "", emit), nil
}

func (e *Engine) repoContext(dir string, log *zap.Logger) string {
	snap, err := e.deps.Snapshots.Snapshot(dir)
	if err != nil {
		log.Warn("repository snapshot failed", zap.Error(err))
		return ""
	}
	if snap.Len() == 0 {
		return ""
	}
	name := e.opts.RepoName
	if name == "" {
		name = filepath.Base(dir)
	}
	log.Debug("added repository context", zap.Int("files", snap.Len()))
	return snapshot.Format(name, snap)
}

func (e *Engine) transition(s *Session, next State, log *zap.Logger) {
	log.Debug("state transition",
		zap.Int("iteration", s.CurrentIteration),
		zap.Stringer("from", s.State),
		zap.Stringer("to", next),
	)
	if next == StateGenerating {
		log.Info("code generation iteration",
			zap.Int("iteration", s.CurrentIteration),
			zap.Int("max_iterations", s.MaxIterations),
		)
	}
	s.State = next
}

func abort(s *Session, log *zap.Logger, reason string, err error) string {
	if err != nil {
		reason = reason + ": " + err.Error()
	}
	log.Error("session aborted", zap.Int("iteration", s.CurrentIteration), zap.String("reason", reason))
	s.State = StateAborted
	return reason
}

func (e *Engine) finish(s *Session, written []string, reason string, emit func(Event)) Report {
	if s.State == StateAborted {
		e.recordIteration("aborted")
		emit(Event{Type: EventError, Message: reason, Diagnostic: s.LastError})
	}
	r := Report{
		SessionID:  s.ID,
		Success:    s.State == StateSucceeded,
		Iterations: s.CurrentIteration,
		LastError:  s.LastError,
		Reason:     reason,
		State:      s.State,
		Files:      written,
		OutputDir:  s.OutputDir,
		Duration:   time.Since(s.Started),
	}
	if e.deps.Metrics != nil {
		e.deps.Metrics.RecordSession(s.State.String(), r.Iterations, r.Duration)
	}
	emit(Event{Type: EventDone, Passed: r.Success, Diagnostic: r.LastError, Files: r.Files, Message: reason})
	return r
}

func (e *Engine) recordIteration(outcome string) {
	if e.deps.Metrics != nil {
		e.deps.Metrics.RecordIteration(outcome)
	}
}

func (e *Engine) recordTestRun(v testrun.Verdict) {
	if e.deps.Metrics != nil {
		e.deps.Metrics.RecordTestRun(v.Passed, v.Duration)
	}
}

func paths(files []tools.File) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Path
	}
	return out
}

// writtenFiles keeps the extracted files that landed on disk.
func writtenFiles(fsys *tools.Filesystem, files []tools.File, written []string) []tools.File {
	ok := make(map[string]bool, len(written))
	for _, p := range written {
		ok[p] = true
	}
	out := make([]tools.File, 0, len(written))
	for _, f := range files {
		if abs, err := fsys.Resolve(f.Path); err == nil && ok[abs] {
			out = append(out, f)
		}
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
