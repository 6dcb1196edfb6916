package rclone

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"
)

// Runner runs an rclone command line and returns its standard output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands as subprocesses.
type ExecRunner struct {
	// Timeout bounds each command. Zero means no timeout.
	Timeout time.Duration

	// Dir is the working directory of each command.
	Dir string
}

// Run implements Runner.
func (r ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return ExecContext(ctx, r.Timeout, r.Dir, name, args...)
}

// ExecContext executes a command with timeout and context support. A
// failure is returned as a *CommandError carrying the exit code and the
// trimmed standard error.
//
// Example:
//
//	output, err := ExecContext(ctx, 30*time.Second, "", "rclone", "config", "show")
func ExecContext(ctx context.Context, timeout time.Duration, workDir string, name string, args ...string) ([]byte, error) {
	// Create context with timeout if specified
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = workDir
	hideWindow(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), &CommandError{
			Name:     name,
			Args:     args,
			ExitCode: ExitCode(err),
			Stderr:   strings.TrimSpace(stderr.String()),
			Err:      err,
		}
	}

	return stdout.Bytes(), nil
}

// ExitCode returns the exit code carried by err, 0 for nil, or -1 if the
// process did not exit normally.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.ExitCode
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}

	return -1
}

// ParseLines splits command output into non-empty trimmed lines.
func ParseLines(output []byte) []string {
	if len(output) == 0 {
		return nil
	}

	lines := strings.Split(string(output), "\n")
	result := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			result = append(result, line)
		}
	}
	return result
}
