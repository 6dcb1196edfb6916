package rclone

import (
	"errors"
	"fmt"
	"strings"
)

// Common errors returned by rclone operations.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, rclone.ErrTransferFailed) {
//	    // rclone ran but exited non-zero
//	}
var (
	// ErrExeNotFound is returned when the rclone executable cannot be found.
	ErrExeNotFound = errors.New("rclone executable not found")

	// ErrNoConfig is returned by transfers when no remote has been chosen.
	ErrNoConfig = errors.New("no rclone remote selected")

	// ErrConfigNotFound is returned when a named remote does not exist.
	ErrConfigNotFound = errors.New("rclone remote not found")

	// ErrConfigExists is returned when creating a remote whose name is taken.
	ErrConfigExists = errors.New("rclone remote already exists")

	// ErrTransferFailed is returned when rclone exits with a non-zero status.
	ErrTransferFailed = errors.New("rclone transfer failed")
)

// CommandError is returned by ExecContext when a command fails to start or
// exits unsuccessfully.
type CommandError struct {
	Name     string
	Args     []string
	ExitCode int // -1 if the process did not run to completion
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Name, strings.Join(e.Args, " "), e.Err)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// TransferError describes a copy that rclone rejected.
type TransferError struct {
	Op       string // "upload" or "download"
	Source   string
	Dest     string
	ExitCode int
	Stderr   string
}

func (e *TransferError) Error() string {
	msg := fmt.Sprintf("%s %s -> %s: rclone exited with status %d", e.Op, e.Source, e.Dest, e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// Is makes TransferError match ErrTransferFailed.
func (e *TransferError) Is(target error) bool {
	return target == ErrTransferFailed
}
