// Package shell provides the CommandRun operation: agent-requested command
// execution confined to the session working directory.
package shell

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"taskforge/internal/operation"
)

// defaultTimeout bounds a single command attempt when neither the
// operation nor the invocation carries one.
const defaultTimeout = 60 * time.Second

// CommandRun executes a command inside the session working directory. The
// primary method execs the binary directly; the "shell" alternative routes
// through sh -c, picking up shell builtins and pipelines the direct path
// cannot express.
type CommandRun struct {
	operation.Base

	// DefaultTimeout bounds an attempt without a timeoutSeconds
	// parameter. Zero falls back to 60s.
	DefaultTimeout time.Duration
}

func (CommandRun) Name() string                 { return "CommandRun" }
func (CommandRun) Capabilities() []string       { return []string{"execute"} }
func (CommandRun) RequiresNetwork() bool        { return false }
func (CommandRun) RequiresFileSystem() bool     { return true }
func (CommandRun) AlternativeMethods() []string { return []string{"shell"} }

func (c CommandRun) Run(ctx context.Context, opCtx *operation.Context) (*operation.Result, error) {
	command, err := opCtx.StringParam("command")
	if err != nil {
		return nil, err
	}
	args := opCtx.StringSliceParam("args")

	return c.execute(ctx, opCtx, exec.CommandContext, command, args)
}

func (c CommandRun) RunAlternative(ctx context.Context, opCtx *operation.Context, method string) (*operation.Result, error) {
	if method != "shell" {
		return nil, operation.ErrUnknownMethod
	}
	command, err := opCtx.StringParam("command")
	if err != nil {
		return nil, err
	}
	args := opCtx.StringSliceParam("args")

	line := command
	if len(args) > 0 {
		line = command + " " + strings.Join(args, " ")
	}
	return c.execute(ctx, opCtx, exec.CommandContext, "sh", []string{"-c", line})
}

func (c CommandRun) execute(ctx context.Context, opCtx *operation.Context,
	newCmd func(context.Context, string, ...string) *exec.Cmd,
	name string, args []string) (*operation.Result, error) {

	timeout := c.DefaultTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if secs := opCtx.OptionalInt("timeoutSeconds", 0); secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := newCmd(runCtx, name, args...)
	if dir := workingDir(opCtx); dir != "" {
		cmd.Dir = dir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	output := stdout.String()
	if stderr.Len() > 0 {
		output += "\n[stderr]\n" + stderr.String()
	}

	if runCtx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("command timed out after %s", timeout)
	}
	if err != nil {
		return nil, fmt.Errorf("command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return operation.Ok(output), nil
}

func (CommandRun) EstimateCost(*operation.Context) decimal.Decimal {
	return decimal.NewFromFloat(0.1)
}

// DryRun only accepts invocations that name a command.
func (CommandRun) DryRun(opCtx *operation.Context) bool {
	_, err := opCtx.StringParam("command")
	return err == nil
}

// workingDir picks the override directory when set, otherwise the scope's
// current working directory.
func workingDir(opCtx *operation.Context) string {
	if opCtx.WorkingDirectory != "" {
		return opCtx.WorkingDirectory
	}
	if opCtx.Scope != nil {
		return opCtx.Scope.WorkingDirectory()
	}
	return ""
}
