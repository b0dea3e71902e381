package shell

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"testing"
	"time"

	"taskforge/internal/operation"
	"taskforge/internal/sandbox"
)

func newShellContext(t *testing.T, params map[string]any) *operation.Context {
	t.Helper()
	scope, err := sandbox.NewSessionScope(t.TempDir(), "shell-test", nil)
	if err != nil {
		t.Fatal(err)
	}
	opCtx := operation.NewContext(params)
	opCtx.Scope = scope
	return opCtx
}

func TestCommandRun(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell environment")
	}
	opCtx := newShellContext(t, map[string]any{
		"command": "echo",
		"args":    []any{"hello"},
	})

	result, err := CommandRun{}.Run(context.Background(), opCtx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out, _ := result.Output.(string); !strings.Contains(out, "hello") {
		t.Errorf("output = %q", result.Output)
	}
}

func TestCommandRunConfiguredDefaultTimeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell environment")
	}
	opCtx := newShellContext(t, map[string]any{
		"command": "sleep",
		"args":    []any{"2"},
	})

	op := CommandRun{DefaultTimeout: 100 * time.Millisecond}
	_, err := op.Run(context.Background(), opCtx)
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("err = %v, want timeout", err)
	}

	// The per-invocation parameter still wins over the configured default.
	opCtx = newShellContext(t, map[string]any{
		"command":        "echo",
		"args":           []any{"ok"},
		"timeoutSeconds": float64(5),
	})
	if _, err := op.Run(context.Background(), opCtx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
}

func TestCommandRunInWorkingDirectory(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell environment")
	}
	opCtx := newShellContext(t, map[string]any{"command": "pwd"})

	result, err := CommandRun{}.Run(context.Background(), opCtx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	out, _ := result.Output.(string)
	if !strings.Contains(out, opCtx.Scope.Root()) {
		t.Errorf("pwd = %q, want inside %q", out, opCtx.Scope.Root())
	}
}

func TestCommandRunShellAlternative(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell environment")
	}
	// A pipeline only works through the shell fallback.
	opCtx := newShellContext(t, map[string]any{
		"command": "echo one two | wc -w",
	})

	result, err := CommandRun{}.RunAlternative(context.Background(), opCtx, "shell")
	if err != nil {
		t.Fatalf("RunAlternative failed: %v", err)
	}
	if out, _ := result.Output.(string); !strings.Contains(out, "2") {
		t.Errorf("output = %q", result.Output)
	}
}

func TestCommandRunUnknownMethod(t *testing.T) {
	opCtx := newShellContext(t, map[string]any{"command": "true"})
	if _, err := (CommandRun{}).RunAlternative(context.Background(), opCtx, "nope"); !errors.Is(err, operation.ErrUnknownMethod) {
		t.Errorf("error = %v, want ErrUnknownMethod", err)
	}
}

func TestCommandRunFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell environment")
	}
	opCtx := newShellContext(t, map[string]any{"command": "false"})

	_, err := CommandRun{}.Run(context.Background(), opCtx)
	if err == nil {
		t.Fatal("failing command reported success")
	}
}

func TestCommandRunMissingCommand(t *testing.T) {
	opCtx := newShellContext(t, nil)
	if _, err := (CommandRun{}).Run(context.Background(), opCtx); !errors.Is(err, operation.ErrMissingParameter) {
		t.Errorf("error = %v, want ErrMissingParameter", err)
	}
}

func TestDryRun(t *testing.T) {
	op := CommandRun{}
	if !op.DryRun(newShellContext(t, map[string]any{"command": "ls"})) {
		t.Error("DryRun rejected a valid invocation")
	}
	if op.DryRun(newShellContext(t, nil)) {
		t.Error("DryRun accepted a commandless invocation")
	}
}
