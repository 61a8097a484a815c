package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Load or action failure
	ExitCommandError = 2 // Bad arguments, unreadable config or store
)

// ExitError carries the exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
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
// Returns ExitFailure if the error is not an ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// Response is the JSON envelope of every command.
type Response struct {
	Status string      `json:"status"`
	Data   interface{} `json:"data,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// Output writes command results as text or JSON.
type Output struct {
	Format string
	Writer io.Writer
}

// JSON reports whether results are written as JSON.
func (o *Output) JSON() bool { return o.Format == "json" }

// Success writes data. In text mode text renders it.
func (o *Output) Success(data interface{}, text func(w io.Writer)) error {
	if o.JSON() {
		return o.encode(Response{Status: "ok", Data: data})
	}
	text(o.Writer)
	return nil
}

// Failure writes err in JSON mode; in text mode cobra's caller prints it.
func (o *Output) Failure(data interface{}, err error) error {
	if o.JSON() {
		return o.encode(Response{Status: "error", Data: data, Error: err.Error()})
	}
	return nil
}

func (o *Output) encode(resp Response) error {
	enc := json.NewEncoder(o.Writer)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(resp)
}
