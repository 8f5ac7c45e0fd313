package generate

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/vollocare/autocoder/internal/engine"
	"github.com/vollocare/autocoder/internal/rpc"
)

// ErrDirBusy is reported when another session is writing to the same output directory.
var ErrDirBusy = errors.New("output directory is in use by another session")

// Runner executes a generation session and yields streamed events.
type Runner interface {
	Run(ctx context.Context, req rpc.GenerateRequest) (<-chan rpc.GenerateEvent, error)
}

// Generator is the engine entry point used by EngineRunner.
type Generator interface {
	Generate(ctx context.Context, specContent, outputDir string, maxIterations int, observers ...engine.Observer) (engine.Report, error)
}

// DirLocks hands out exclusive ownership of output directories.
type DirLocks struct {
	mu   sync.Mutex
	busy map[string]struct{}
}

// Acquire claims dir, returning a release func, or ErrDirBusy.
func (l *DirLocks) Acquire(dir string) (func(), error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.busy == nil {
		l.busy = make(map[string]struct{})
	}
	if _, ok := l.busy[abs]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDirBusy, abs)
	}
	l.busy[abs] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.busy, abs)
			l.mu.Unlock()
		})
	}, nil
}

// EngineRunner bridges the engine to RPC events.
type EngineRunner struct {
	Engine        Generator
	Locks         *DirLocks
	MaxIterations int // used when the request leaves it unset
	Logger        *zap.Logger
}

// Run validates req and starts the session in the background. Events end with
// a "done" or "error" event, after which the channel is closed.
func (r *EngineRunner) Run(ctx context.Context, req rpc.GenerateRequest) (<-chan rpc.GenerateEvent, error) {
	if r.Engine == nil {
		return nil, errors.New("engine unavailable")
	}
	if req.Spec == "" {
		return nil, errors.New("spec is required")
	}
	if req.OutputDir == "" {
		return nil, errors.New("output_dir is required")
	}
	maxIterations := req.MaxIterations
	if maxIterations <= 0 {
		maxIterations = r.MaxIterations
	}
	if maxIterations <= 0 {
		maxIterations = 1
	}
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	locks := r.Locks
	if locks == nil {
		locks = &DirLocks{}
	}

	out := make(chan rpc.GenerateEvent, 16)
	send := func(ev rpc.GenerateEvent) {
		ev.CorrelationID = req.CorrelationID
		if ev.SessionID == "" {
			ev.SessionID = req.SessionID
		}
		select {
		case out <- ev:
		case <-ctx.Done():
		}
	}

	go func() {
		defer close(out)
		release, err := locks.Acquire(req.OutputDir)
		if err != nil {
			logger.Warn("rejecting generation session", zap.String("output_dir", req.OutputDir), zap.Error(err))
			send(rpc.GenerateEvent{Type: string(engine.EventError), Error: err.Error(), Done: true})
			return
		}
		defer release()

		_, err = r.Engine.Generate(ctx, req.Spec, req.OutputDir, maxIterations, func(ev engine.Event) {
			send(toRPC(ev))
		})
		if err != nil {
			logger.Error("generation session failed", zap.String("output_dir", req.OutputDir), zap.Error(err))
			send(rpc.GenerateEvent{Type: string(engine.EventError), Error: err.Error(), Done: true})
		}
	}()
	return out, nil
}

func toRPC(ev engine.Event) rpc.GenerateEvent {
	out := rpc.GenerateEvent{
		Type:         string(ev.Type),
		SessionID:    ev.SessionID,
		Iteration:    ev.Iteration,
		State:        ev.State.String(),
		Temperature:  ev.Temperature,
		Message:      ev.Message,
		Files:        ev.Files,
		Passed:       ev.Passed,
		Diagnostic:   ev.Diagnostic,
		FailingTests: ev.Failing,
	}
	switch ev.Type {
	case engine.EventDone:
		out.Done = true
		out.Success = ev.Passed
	case engine.EventError:
		out.Error = ev.Message
	}
	return out
}

// FuncRunner adapts a function to Runner.
type FuncRunner func(ctx context.Context, req rpc.GenerateRequest) (<-chan rpc.GenerateEvent, error)

func (f FuncRunner) Run(ctx context.Context, req rpc.GenerateRequest) (<-chan rpc.GenerateEvent, error) {
	return f(ctx, req)
}
