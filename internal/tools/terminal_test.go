package tools

import (
	"context"
	"os/exec"
	"testing"
	"time"
)

func TestTerminalExecAllowsWhitelisted(t *testing.T) {
	if _, err := exec.LookPath("echo"); err != nil {
		t.Skip("echo not available")
	}
	term := &Terminal{
		Allowed:        []string{"echo"},
		Timeout:        time.Second * 2,
		AllowExecution: true,
	}

	res, err := term.Exec(context.Background(), "echo", "hi")
	if err != nil {
		t.Fatalf("exec failed: %v", err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("expected exit 0, got %d", res.ExitCode)
	}
	if res.Stdout == "" {
		t.Fatalf("expected stdout")
	}
}

func TestTerminalExecNotAllowlisted(t *testing.T) {
	term := &Terminal{
		Allowed:        []string{"python3"},
		AllowExecution: true,
	}
	if _, err := term.Exec(context.Background(), "curl", "http://example.com"); err == nil {
		t.Fatalf("expected allowlist error")
	}
}

func TestTerminalExecDisabled(t *testing.T) {
	term := &Terminal{AllowExecution: false}
	if _, err := term.Exec(context.Background(), "echo", "hi"); err == nil {
		t.Fatalf("expected disabled error")
	}
}
