package engine

import (
	"math"
	"time"

	"github.com/vollocare/autocoder/internal/tools"
)

// State is a step of the generate, test and refine cycle.
type State int

const (
	StateInit State = iota
	StateGenerating
	StateExtracting
	StateWriting
	StateTesting
	StateRefining
	StateSucceeded
	StateExhausted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateGenerating:
		return "generating"
	case StateExtracting:
		return "extracting"
	case StateWriting:
		return "writing"
	case StateTesting:
		return "testing"
	case StateRefining:
		return "refining"
	case StateSucceeded:
		return "succeeded"
	case StateExhausted:
		return "exhausted"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Session is the mutable state of one Generate call.
type Session struct {
	ID                 string
	CurrentIteration   int
	MaxIterations      int
	LastError          string
	LastExtractedFiles []tools.File // extracted files that were written
	OutputDir          string
	State              State
	Started            time.Time
}

// Report summarizes a finished session.
type Report struct {
	SessionID  string
	Success    bool
	Iterations int
	LastError  string
	// Reason explains an aborted session.
	Reason    string
	State     State
	Files     []string
	OutputDir string
	Duration  time.Duration
}

// Temperature returns the sampling temperature for the 0-based iteration index.
func Temperature(index int, start, step, floor float64) float64 {
	t := start - float64(index)*step
	// round away float noise such as 0.6499999999
	t = math.Round(t*1e6) / 1e6
	return math.Max(floor, t)
}

// EventType names a session event.
type EventType string

const (
	EventIteration EventType = "iteration"
	EventGenerated EventType = "generated"
	EventExtracted EventType = "extracted"
	EventWritten   EventType = "written"
	EventTest      EventType = "test"
	EventRefine    EventType = "refine"
	EventDone      EventType = "done"
	EventError     EventType = "error"
)

// Event is emitted to observers as a session progresses.
type Event struct {
	Type        EventType
	SessionID   string
	Iteration   int
	State       State
	Temperature float64
	Files       []string
	Passed      bool
	Diagnostic  string
	Failing     []string
	Message     string
}

// Observer receives session events synchronously.
type Observer func(Event)
