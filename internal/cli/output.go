package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/roach88/osmupdate/internal/engine"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution, including nothing to update
	ExitFailure      = 1 // Feed, merge or conversion failure
	ExitCommandError = 2 // Command error (bad arguments, invalid configuration)
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// ExitCodeFor maps a sync error to the process exit code.
func ExitCodeFor(err error) int {
	switch {
	case err == nil, engine.IsUpToDate(err):
		return ExitSuccess
	case engine.IsConfigurationError(err):
		return ExitCommandError
	default:
		return ExitFailure
	}
}

// OutputFormatter writes command results as text or as one JSON document.
//
// Diagnostics go to ErrWriter so that JSON on Writer stays parseable.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer
	Verbose   bool
	RunID     string // copied into JSON responses when set
}

// CLIResponse is the JSON document printed by every command.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
	RunID  string    `json:"run_id,omitempty"`
}

// CLIError carries a sync error code such as FEED_UNAVAILABLE.
type CLIError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// Success prints data, a report with a String method in text mode.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return f.encode(CLIResponse{Status: "ok", Data: data})
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Error prints a failed run. Text mode shows details only when verbose.
func (f *OutputFormatter) Error(code, message string, details map[string]string) error {
	if f.Format == "json" {
		return f.encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message, Details: details},
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if !f.Verbose || len(details) == 0 {
		return nil
	}
	fmt.Fprintln(f.Writer, "Details:")
	for _, k := range slices.Sorted(maps.Keys(details)) {
		fmt.Fprintf(f.Writer, "  %s: %s\n", k, details[k])
	}
	return nil
}

// VerboseLog prints a diagnostic line when verbose output is on.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}

func (f *OutputFormatter) encode(resp CLIResponse) error {
	resp.RunID = f.RunID
	return json.NewEncoder(f.Writer).Encode(resp)
}
