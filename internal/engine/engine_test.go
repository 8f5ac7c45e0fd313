package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vollocare/autocoder/internal/codegen"
	"github.com/vollocare/autocoder/internal/refine"
	"github.com/vollocare/autocoder/internal/snapshot"
	"github.com/vollocare/autocoder/internal/specparse"
	"github.com/vollocare/autocoder/internal/testrun"
	"github.com/vollocare/autocoder/internal/tools"
)

const testSpec = "# Calculator\n\n## Description\n\nAdds two numbers.\n"

const twoFiles = "Here is the code.\n" +
	"```file:calc.py\ndef add(a, b):\n    return a + b\n```\n\n" +
	"```file:test_calc.py\nfrom calc import add\n\ndef test_add():\n    assert add(1, 2) == 3\n```\n"

type fakeGenerator struct {
	mu       sync.Mutex
	requests []codegen.Request
	respond  func(call int) (string, error)
}

func (g *fakeGenerator) GenerateCode(_ context.Context, req codegen.Request) (string, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	call := len(g.requests)
	g.mu.Unlock()
	if g.respond == nil {
		return twoFiles, nil
	}
	return g.respond(call)
}

type fakeTests struct {
	calls   int
	files   [][]string
	verdict func(call int) testrun.Verdict
}

func (f *fakeTests) Run(_ context.Context, filePaths []string, _ string) testrun.Verdict {
	f.calls++
	f.files = append(f.files, filePaths)
	return f.verdict(f.calls)
}

type recordingMetrics struct {
	iterations []string
	sessions   []string
	testRuns   int
}

func (m *recordingMetrics) RecordIteration(outcome string) {
	m.iterations = append(m.iterations, outcome)
}
func (m *recordingMetrics) RecordSession(result string, _ int, _ time.Duration) {
	m.sessions = append(m.sessions, result)
}
func (m *recordingMetrics) RecordTestRun(bool, time.Duration) { m.testRuns++ }

func failing(diag string) func(int) testrun.Verdict {
	return func(int) testrun.Verdict { return testrun.Verdict{Diagnostic: diag} }
}

func newTestEngine(gen CodeGenerator, tests TestRunner, metrics Metrics) (*Engine, *[]time.Duration) {
	snaps := snapshot.New(snapshot.Options{MaxFiles: 20, MaxTotalChars: 20000, MaxFileBytes: 51200}, nil)
	e := New(Deps{
		Parser:    specparse.New("Python", nil),
		Generator: gen,
		Tests:     tests,
		Snapshots: snaps,
		Refiner:   refine.NewBuilder(nil, snaps, refine.Options{MaxRepoFiles: 5, LargeDiagnosticChars: 1000}, nil),
		Metrics:   metrics,
	}, Options{
		SystemPrompt:     SystemPrompt("python"),
		TemperatureStart: 0.7,
		TemperatureStep:  0.05,
		TemperatureFloor: 0.4,
		RetryDelay:       time.Second,
	}, nil)
	var delays []time.Duration
	e.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	return e, &delays
}

func TestGenerateSingleFailingIteration(t *testing.T) {
	gen := &fakeGenerator{}
	tests := &fakeTests{verdict: failing("AssertionError: 1 != 2")}
	metrics := &recordingMetrics{}
	e, delays := newTestEngine(gen, tests, metrics)

	report, err := e.Generate(context.Background(), testSpec, t.TempDir(), 1)
	require.NoError(t, err)
	require.False(t, report.Success)
	require.Equal(t, 1, report.Iterations)
	require.Equal(t, StateExhausted, report.State)
	require.Equal(t, "AssertionError: 1 != 2", report.LastError)
	require.Len(t, gen.requests, 1)
	require.Equal(t, 1, tests.calls)
	require.Empty(t, *delays)
	require.Equal(t, []string{"failed"}, metrics.iterations)
	require.Equal(t, []string{"exhausted"}, metrics.sessions)
}

func TestGenerateSucceedsOnSecondIteration(t *testing.T) {
	gen := &fakeGenerator{}
	tests := &fakeTests{verdict: func(call int) testrun.Verdict {
		if call == 1 {
			return testrun.Verdict{Diagnostic: "E   NameError: name 'sub' is not defined"}
		}
		return testrun.Verdict{Passed: true}
	}}
	e, delays := newTestEngine(gen, tests, nil)

	report, err := e.Generate(context.Background(), testSpec, t.TempDir(), 5)
	require.NoError(t, err)
	require.True(t, report.Success)
	require.Equal(t, 2, report.Iterations)
	require.Equal(t, StateSucceeded, report.State)
	require.Equal(t, []time.Duration{time.Second}, *delays)

	require.Len(t, gen.requests, 2)
	require.NotContains(t, gen.requests[0].Prompt, "NameError")
	require.Empty(t, gen.requests[0].ErrorContext)
	require.Contains(t, gen.requests[1].Prompt, "E   NameError: name 'sub' is not defined")
	require.Equal(t, ErrorContext("E   NameError: name 'sub' is not defined"), gen.requests[1].ErrorContext)
	require.Equal(t, gen.requests[0].SystemPrompt, gen.requests[1].SystemPrompt)
}

func TestGenerateTemperatureSchedule(t *testing.T) {
	gen := &fakeGenerator{}
	e, delays := newTestEngine(gen, &fakeTests{verdict: failing("boom")}, nil)

	report, err := e.Generate(context.Background(), testSpec, t.TempDir(), 10)
	require.NoError(t, err)
	require.Equal(t, 10, report.Iterations)
	require.Len(t, *delays, 9)
	require.Len(t, gen.requests, 10)

	require.InDelta(t, 0.7, gen.requests[0].Temperature, 1e-9)
	for i := 1; i < len(gen.requests); i++ {
		require.LessOrEqual(t, gen.requests[i].Temperature, gen.requests[i-1].Temperature)
		require.GreaterOrEqual(t, gen.requests[i].Temperature, 0.4)
	}
	require.InDelta(t, 0.4, gen.requests[9].Temperature, 1e-9)
}

func TestTemperature(t *testing.T) {
	require.InDelta(t, 0.7, Temperature(0, 0.7, 0.05, 0.4), 1e-9)
	require.InDelta(t, 0.65, Temperature(1, 0.7, 0.05, 0.4), 1e-9)
	require.InDelta(t, 0.4, Temperature(6, 0.7, 0.05, 0.4), 1e-9)
	require.InDelta(t, 0.4, Temperature(100, 0.7, 0.05, 0.4), 1e-9)
}

func TestGenerateWritesFilesAndReportsThem(t *testing.T) {
	dir := t.TempDir()
	tests := &fakeTests{verdict: func(int) testrun.Verdict { return testrun.Verdict{Passed: true} }}
	e, _ := newTestEngine(&fakeGenerator{}, tests, nil)

	report, err := e.Generate(context.Background(), testSpec, dir, 3)
	require.NoError(t, err)
	require.True(t, report.Success)
	require.Equal(t, []string{filepath.Join(dir, "calc.py"), filepath.Join(dir, "test_calc.py")}, report.Files)
	require.Equal(t, report.Files, tests.files[0])

	data, err := os.ReadFile(filepath.Join(dir, "calc.py"))
	require.NoError(t, err)
	require.Equal(t, "def add(a, b):\n    return a + b", string(data))
}

type recordingRefiner struct {
	Refiner
	previous [][]string
}

func (r *recordingRefiner) Refine(previous, diagnostic string, previousFiles []tools.File, outputDir string) string {
	r.previous = append(r.previous, paths(previousFiles))
	return r.Refiner.Refine(previous, diagnostic, previousFiles, outputDir)
}

func TestGenerateRefinesOnlyWrittenFiles(t *testing.T) {
	gen := &fakeGenerator{respond: func(int) (string, error) {
		return twoFiles + "```file:../escape.py\nx = 1\n```\n", nil
	}}
	e, _ := newTestEngine(gen, &fakeTests{verdict: failing("assert 1 == 2")}, nil)
	refiner := &recordingRefiner{Refiner: e.deps.Refiner}
	e.deps.Refiner = refiner

	dir := t.TempDir()
	report, err := e.Generate(context.Background(), testSpec, dir, 1)
	require.NoError(t, err)
	require.Equal(t, StateExhausted, report.State)
	require.Len(t, report.Files, 2)
	require.Equal(t, [][]string{{"calc.py", "test_calc.py"}}, refiner.previous)
	require.NoFileExists(t, filepath.Join(filepath.Dir(dir), "escape.py"))
}

func TestGenerateAbortsWithoutFiles(t *testing.T) {
	gen := &fakeGenerator{respond: func(int) (string, error) { return "I cannot help with that.", nil }}
	tests := &fakeTests{verdict: failing("unused")}
	metrics := &recordingMetrics{}
	e, _ := newTestEngine(gen, tests, metrics)

	report, err := e.Generate(context.Background(), testSpec, t.TempDir(), 3)
	require.NoError(t, err)
	require.False(t, report.Success)
	require.Equal(t, StateAborted, report.State)
	require.Equal(t, 1, report.Iterations)
	require.Contains(t, report.Reason, "no valid files")
	require.Zero(t, tests.calls)
	require.Equal(t, []string{"aborted"}, metrics.iterations)
}

func TestGenerateAbortsOnModelFailure(t *testing.T) {
	gen := &fakeGenerator{respond: func(int) (string, error) {
		return "", &codegen.Failure{Kind: codegen.KindTransport, Attempts: 3, Err: errors.New("connection refused")}
	}}
	e, _ := newTestEngine(gen, &fakeTests{verdict: failing("unused")}, nil)

	report, err := e.Generate(context.Background(), testSpec, t.TempDir(), 3)
	require.NoError(t, err)
	require.Equal(t, StateAborted, report.State)
	require.Contains(t, report.Reason, "connection refused")
}

func TestGenerateKeepsLastErrorAcrossAbort(t *testing.T) {
	gen := &fakeGenerator{respond: func(call int) (string, error) {
		if call == 1 {
			return twoFiles, nil
		}
		return "", nil
	}}
	e, _ := newTestEngine(gen, &fakeTests{verdict: failing("first failure")}, nil)

	report, err := e.Generate(context.Background(), testSpec, t.TempDir(), 3)
	require.NoError(t, err)
	require.Equal(t, StateAborted, report.State)
	require.Equal(t, 2, report.Iterations)
	require.Equal(t, "first failure", report.LastError)
}

func TestGenerateSetupErrors(t *testing.T) {
	e, _ := newTestEngine(&fakeGenerator{}, &fakeTests{verdict: failing("x")}, nil)

	_, err := e.Generate(context.Background(), "   ", t.TempDir(), 1)
	require.ErrorIs(t, err, specparse.ErrEmpty)

	_, err = e.Generate(context.Background(), testSpec, t.TempDir(), 0)
	require.Error(t, err)
}

func TestGenerateSendsRepositoryContext(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "calcproj")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "existing.py"), []byte("X = 1\n"), 0o644))

	gen := &fakeGenerator{}
	e, _ := newTestEngine(gen, &fakeTests{verdict: failing("boom")}, nil)

	_, err := e.Generate(context.Background(), testSpec, dir, 2)
	require.NoError(t, err)
	require.Len(t, gen.requests, 2)
	require.Equal(t, "<|repo_name|>calcproj\n<|file_sep|>existing.py\nX = 1\n\n", gen.requests[0].RepoContext)
	require.Equal(t, gen.requests[0].RepoContext, gen.requests[1].RepoContext)
}

func TestGenerateEmitsEvents(t *testing.T) {
	tests := &fakeTests{verdict: func(int) testrun.Verdict { return testrun.Verdict{Passed: true} }}
	e, _ := newTestEngine(&fakeGenerator{}, tests, nil)

	var types []EventType
	report, err := e.Generate(context.Background(), testSpec, t.TempDir(), 1, func(ev Event) {
		require.NotEmpty(t, ev.SessionID)
		types = append(types, ev.Type)
	})
	require.NoError(t, err)
	require.True(t, report.Success)
	require.Equal(t, []EventType{EventIteration, EventGenerated, EventExtracted, EventWritten, EventTest, EventDone}, types)
}

func TestGenerateStopsWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	gen := &fakeGenerator{}
	e, _ := newTestEngine(gen, &fakeTests{verdict: failing("boom")}, nil)
	e.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	report, err := e.Generate(ctx, testSpec, t.TempDir(), 5)
	require.NoError(t, err)
	require.Equal(t, StateAborted, report.State)
	require.Equal(t, 1, report.Iterations)
	require.Len(t, gen.requests, 1)
}

func TestSystemPromptMentionsFileFormat(t *testing.T) {
	require.True(t, strings.Contains(SystemPrompt("python"), "```file:path/to/file.py\n# File contents go here\n```"))
	require.Contains(t, SystemPrompt("go"), "```file:path/to/file.go\n// File contents go here\n```")
}
