package cli

import (
	"errors"
	"fmt"

	"mercator-hq/saturn/pkg/pipeline"
)

// Process exit codes.
const (
	ExitOK = 0
	// ExitError is any failure, including a failed run.
	ExitError = 1
	// ExitPaused means the run paused at a blocking gate or was interrupted.
	ExitPaused = 2
	// ExitUsage is a configuration or argument error.
	ExitUsage = 3
)

// ConfigError represents an error in configuration.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("config error: %s", e.Message)
	}
	return fmt.Sprintf("config error in %s: %s", e.Field, e.Message)
}

// CommandError represents an error from a command execution.
type CommandError struct {
	Command string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %s failed: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{
		Field:   field,
		Message: message,
	}
}

// NewCommandError creates a new CommandError.
func NewCommandError(command string, err error) *CommandError {
	return &CommandError{
		Command: command,
		Err:     err,
	}
}

// ExitCode maps a command error to the process exit code.
func ExitCode(err error) int {
	var (
		cfgErr  *ConfigError
		gateErr *pipeline.GateError
	)
	switch {
	case err == nil:
		return ExitOK
	case errors.As(err, &cfgErr):
		return ExitUsage
	case errors.As(err, &gateErr), errors.Is(err, pipeline.ErrInterrupted):
		return ExitPaused
	default:
		return ExitError
	}
}
