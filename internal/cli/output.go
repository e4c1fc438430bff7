package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/williammartin/gezellig/internal/client"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Operation failed (log unavailable, non-deterministic replay, etc.)
	ExitCommandError = 2 // Command error (bad config, bad arguments, etc.)
)

// ExitError represents an error with a specific exit code.
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
// Returns ExitFailure (1) if the error is not an ExitError.
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

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // diagnostics; defaults to Writer
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// View outputs a queue view. Text output is a human-readable listing.
func (f *OutputFormatter) View(v client.View) error {
	if f.Format == "json" {
		return f.Success(v)
	}
	renderView(f.Writer, v)
	return nil
}

// VerboseLog outputs a message only if verbose mode is enabled.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

func renderView(w io.Writer, v client.View) {
	switch {
	case v.Disconnected:
		fmt.Fprintf(w, "Disconnected: %s\n", v.LastError)
	case v.Stale:
		fmt.Fprintf(w, "Stale (showing last good state): %s\n", v.LastError)
	}

	if np := v.NowPlaying; np != nil {
		fmt.Fprintf(w, "Now playing: %s\n", displayTitle(np.Title, np.URL))
		if np.QueuedBy != "" {
			fmt.Fprintf(w, "  queued by %s\n", np.QueuedBy)
		}
		if np.SkipRequested() {
			fmt.Fprintln(w, "  skip requested")
		}
	} else {
		fmt.Fprintln(w, "Now playing: nothing")
	}

	fmt.Fprintf(w, "\nQueue (%d):\n", len(v.Queue))
	if len(v.Queue) == 0 {
		fmt.Fprintln(w, "  (empty)")
	}
	for i, item := range v.Queue {
		id := fmt.Sprintf("#%d", item.ID)
		if item.Pending {
			id = "pending"
		}
		line := fmt.Sprintf("  %d. [%s] %s", i+1, id, displayTitle(item.Title, item.URL))
		if item.QueuedBy != "" {
			line += " (" + item.QueuedBy + ")"
		}
		fmt.Fprintln(w, line)
	}

	if len(v.History) > 0 {
		fmt.Fprintf(w, "\nHistory (%d):\n", len(v.History))
		for i := len(v.History) - 1; i >= 0; i-- {
			h := v.History[i]
			fmt.Fprintf(w, "  %s\n", displayTitle(h.Title, h.URL))
		}
	}
}

func displayTitle(title, url string) string {
	if title == "" || title == url {
		return url
	}
	return fmt.Sprintf("%s <%s>", title, url)
}
