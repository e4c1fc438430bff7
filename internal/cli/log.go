package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/williammartin/gezellig/internal/event"
)

// LogResult is the JSON payload of the log command.
type LogResult struct {
	Events  []event.Event `json:"events"`
	Corrupt []CorruptLine `json:"corrupt,omitempty"`
}

// CorruptLine is a log record that could not be decoded.
type CorruptLine struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// NewLogCommand creates the log command.
func NewLogCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "log",
		Short: "Print the raw event log",
		Long: `Print every event in the room's log, oldest first.

Text output is the log's own newline-delimited JSON, so it can be piped into
another log or a file. Corrupt records are reported on stderr.

Examples:
  gezellig log > backup.ndjson
  gezellig log --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLog(rootOpts, cmd)
		},
	}
}

func runLog(opts *RootOptions, cmd *cobra.Command) error {
	s, err := opts.openSession(cmd, false)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	recs, err := s.log.ReadRecords(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read log", err)
	}

	result := LogResult{Events: recs.Events}
	if result.Events == nil {
		result.Events = []event.Event{}
	}
	for _, c := range recs.Corrupt {
		result.Corrupt = append(result.Corrupt, CorruptLine{Line: c.Line, Reason: c.Err.Error()})
	}

	if opts.Format == "json" {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(CLIResponse{Status: "ok", Data: result})
	}

	if err := event.WriteLog(cmd.OutOrStdout(), result.Events); err != nil {
		return WrapExitError(ExitFailure, "failed to write log", err)
	}
	for _, c := range result.Corrupt {
		fmt.Fprintf(cmd.ErrOrStderr(), "skipped corrupt record at line %d: %s\n", c.Line, c.Reason)
	}
	return nil
}
