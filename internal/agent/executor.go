// Package agent wraps the external agent runner the orchestrator delegates
// stage work to. The core treats an agent call as opaque, potentially slow,
// and potentially failing: a failure is data in the Result, never a Go error,
// and nothing here retries automatically.
package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout mirrors the runner's historical 5-minute ceiling.
const DefaultTimeout = 300 * time.Second

// Result is the verbatim outcome of one agent invocation.
type Result struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
	Error   string `json:"error,omitempty"`
}

// Executor runs one named agent against a task description.
type Executor interface {
	Execute(ctx context.Context, agentName, task string) Result
}

// CommandExecutor shells out to an external agent binary:
//
//	<bin> agent <name> <task>
//
// with a per-call timeout. A missing binary, non-zero exit, or timeout all
// come back as a failed Result.
type CommandExecutor struct {
	BinPath string
	Timeout time.Duration
}

// NewCommandExecutor builds an executor for the given binary, applying
// DefaultTimeout when timeout is zero.
func NewCommandExecutor(binPath string, timeout time.Duration) *CommandExecutor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &CommandExecutor{BinPath: binPath, Timeout: timeout}
}

func (e *CommandExecutor) Execute(ctx context.Context, agentName, task string) Result {
	if e.BinPath == "" {
		return Result{Success: false, Error: "no agent binary configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.BinPath, "agent", agentName, task)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		slog.Warn("agent execution timed out", "agent", agentName, "timeout", e.Timeout)
		return Result{
			Success: false,
			Output:  stdout.String(),
			Error:   fmt.Sprintf("agent %s timed out after %s", agentName, e.Timeout),
		}
	}
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return Result{Success: false, Output: stdout.String(), Error: msg}
	}

	return Result{Success: true, Output: stdout.String()}
}

// NopExecutor reports success for every call without doing anything. Used
// when no agent binary is configured, so workflows still advance.
type NopExecutor struct{}

func (NopExecutor) Execute(_ context.Context, agentName, task string) Result {
	return Result{Success: true, Output: fmt.Sprintf("agent %s acknowledged: %s", agentName, task)}
}
