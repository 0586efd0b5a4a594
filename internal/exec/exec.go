package exec

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

// ExecutionResult holds the outcome of a command execution.
type ExecutionResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
}

// Executor defines an interface for running external commands.
// This allows for mocking in tests.
type Executor interface {
	Run(command string, args ...string) (*ExecutionResult, error)
	RunInDir(dir, command string, args ...string) (*ExecutionResult, error)
	RunWithTimeout(ctx context.Context, dir string, timeout time.Duration, command string, args ...string) (*ExecutionResult, error)
}

// CommandExecutor is a concrete implementation of the Executor interface
// that runs actual commands on the host system.
type CommandExecutor struct{}

// NewCommandExecutor creates a new CommandExecutor.
func NewCommandExecutor() *CommandExecutor {
	return &CommandExecutor{}
}

// Run executes the given command in the current directory.
func (e *CommandExecutor) Run(command string, args ...string) (*ExecutionResult, error) {
	return e.RunInDir("", command, args...)
}

// RunInDir executes the given command with dir as the working directory.
func (e *CommandExecutor) RunInDir(dir, command string, args ...string) (*ExecutionResult, error) {
	cmd := exec.Command(command, args...)
	cmd.Dir = dir
	return runCmd(cmd, false)
}

// RunWithTimeout executes the command with a deadline. A timeout does not
// discard output captured before the process was killed; the result is
// returned with TimedOut set so the caller can keep partial data.
func (e *CommandExecutor) RunWithTimeout(ctx context.Context, dir string, timeout time.Duration, command string, args ...string) (*ExecutionResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Dir = dir

	result, err := runCmd(cmd, true)
	if result != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		result.TimedOut = true
	}
	return result, err
}

func runCmd(cmd *exec.Cmd, allowKilled bool) (*ExecutionResult, error) {
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	result := &ExecutionResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	// cmd.Run() returns an error for non-zero exit codes, but we handle
	// the exit code explicitly. So, we only return other kinds of errors
	// (e.g., command not found). A process killed by the context deadline
	// also surfaces as an error; when the caller asked for a timeout we
	// report it via the result instead of failing.
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return result, nil
		}
		if allowKilled && cmd.ProcessState != nil {
			return result, nil
		}
		return nil, err
	}

	return result, nil
}
