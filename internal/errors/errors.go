// Package errors provides structured CLI error types for Oversee.
//
// CLIError wraps errors with user-facing messages, hints, and exit codes
// to provide consistent, actionable error output across all commands.
package errors

import (
	"errors"
	"fmt"
)

// Exit codes for CLI errors.
const (
	ExitSuccess = 0  // Successful execution
	ExitGeneral = 1  // General error
	ExitConfig  = 4  // Configuration error
	ExitSession = 6  // Session/process failure
	ExitNetwork = 7  // Bridge or hook listener failure
	ExitUsage   = 64 // Command line usage error (BSD convention)
)

// CLIError represents a user-facing CLI error with actionable guidance.
type CLIError struct {
	// Message is the primary error message shown to the user.
	Message string

	// Hint provides actionable guidance on how to fix the error.
	Hint string

	// Cause is the underlying error, if any.
	Cause error

	// Code is the exit code for the CLI.
	Code int
}

// Error implements the error interface.
func (e *CLIError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}

	return e.Message
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CLIError) Unwrap() error {
	return e.Cause
}

// New creates a new CLIError with the given message and exit code.
func New(code int, message string) *CLIError {
	return &CLIError{
		Message: message,
		Code:    code,
	}
}

// Wrap creates a CLIError wrapping an underlying cause.
func Wrap(code int, cause error, message string) *CLIError {
	return &CLIError{
		Message: message,
		Cause:   cause,
		Code:    code,
	}
}

// As is a convenience wrapper around errors.As for CLIError targets.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// HookPortBusy reports that the hook listener port could not be bound.
func HookPortBusy(port int, cause error) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Hook listener failed to bind port %d", port),
		Hint:    fmt.Sprintf("Check what is using the port: lsof -i :%d", port),
		Cause:   cause,
		Code:    ExitNetwork,
	}
}

// ShellNotFound reports that the configured login shell is missing.
func ShellNotFound(shell string, cause error) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Login shell %q not found", shell),
		Hint:    "Set shell in ~/.config/oversee/config.yaml or OVERSEE_SHELL",
		Cause:   cause,
		Code:    ExitConfig,
	}
}

// BridgeBindFailed reports that the bridge listener could not start.
func BridgeBindFailed(addr string, cause error) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Bridge failed to listen on %s", addr),
		Hint:    "Set bridge.listen to a free local address",
		Cause:   cause,
		Code:    ExitNetwork,
	}
}
