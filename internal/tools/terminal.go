package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Terminal executes allowlisted commands.
type Terminal struct {
	WorkingDir     string
	Allowed        []string
	Timeout        time.Duration
	AllowExecution bool
}

// ExecResult carries output and status code.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Exec runs a command if allowed by configuration.
// A non-zero exit is reported both in ExitCode and as an *exec.ExitError.
func (t *Terminal) Exec(ctx context.Context, command string, args ...string) (ExecResult, error) {
	if !t.AllowExecution {
		return ExecResult{}, errors.New("execution disabled by configuration")
	}
	if command == "" {
		return ExecResult{}, fmt.Errorf("command is required")
	}
	if err := t.validateCommand(command); err != nil {
		return ExecResult{}, err
	}

	timeout := t.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, command, args...)
	if t.WorkingDir != "" {
		cmd.Dir = t.WorkingDir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	res := ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode(err),
	}
	if ctx.Err() == context.DeadlineExceeded {
		return res, fmt.Errorf("%s timed out after %s: %w", command, timeout, ctx.Err())
	}
	return res, err
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	if err != nil {
		return -1
	}
	return 0
}

func (t *Terminal) validateCommand(cmd string) error {
	lower := strings.ToLower(cmd)
	if len(t.Allowed) > 0 {
		for _, allow := range t.Allowed {
			if lower == strings.ToLower(allow) {
				return nil
			}
		}
		return fmt.Errorf("command %q is not in allowlist", cmd)
	}
	return nil
}
