package rpc

// GenerateRequest starts a generation session on the daemon.
type GenerateRequest struct {
	SessionID     string `json:"session_id,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Spec          string `json:"spec"`
	OutputDir     string `json:"output_dir"`
	MaxIterations int    `json:"max_iterations,omitempty"`
	Model         string `json:"model,omitempty"`
}

// GenerateEvent streams back progress from the daemon.
type GenerateEvent struct {
	Type          string   `json:"type"` // iteration|generated|extracted|written|test|refine|done|error
	SessionID     string   `json:"session_id,omitempty"`
	CorrelationID string   `json:"correlation_id,omitempty"`
	Iteration     int      `json:"iteration,omitempty"`
	State         string   `json:"state,omitempty"`
	Temperature   float64  `json:"temperature,omitempty"`
	Message       string   `json:"message,omitempty"`
	Files         []string `json:"files,omitempty"`
	Passed        bool     `json:"passed,omitempty"`
	Diagnostic    string   `json:"diagnostic,omitempty"`
	FailingTests  []string `json:"failing_tests,omitempty"`
	Error         string   `json:"error,omitempty"`
	Done          bool     `json:"done,omitempty"`
	Success       bool     `json:"success,omitempty"`
}

// GenerateStreamRequest is the bidirectional stream payload for Connect RPC.
// The first message must contain the Generate request; later messages can carry control signals.
type GenerateStreamRequest struct {
	Generate      *GenerateRequest `json:"generate,omitempty"`
	Cancel        bool             `json:"cancel,omitempty"`
	SessionID     string           `json:"session_id,omitempty"`
	CorrelationID string           `json:"correlation_id,omitempty"`
}
