package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/spf13/cobra"

	"github.com/williammartin/gezellig/internal/projection"
)

// ReplayResult holds the replay result.
type ReplayResult struct {
	Events        int                     `json:"events"`
	Corrupt       int                     `json:"corrupt"`
	LastID        int64                   `json:"last_id"`
	Queued        int                     `json:"queued"`
	History       int                     `json:"history"`
	Playing       bool                    `json:"playing"`
	Diagnostics   []projection.Diagnostic `json:"diagnostics,omitempty"`
	Deterministic bool                    `json:"deterministic"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay the event log and verify determinism",
		Long: `Fold the whole event log twice and verify both folds agree.

Reports how many events were folded, which were ignored and why, and any
records that could not be decoded.

Exit codes:
  0 - Replay is deterministic
  1 - Determinism verification failed, or the log could not be read
  2 - Command error (bad config, etc.)

Examples:
  gezellig replay
  gezellig replay --verbose
  gezellig replay --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(rootOpts, cmd)
		},
	}
	return cmd
}

func runReplay(opts *RootOptions, cmd *cobra.Command) error {
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

	p := s.projector()
	first := p.Project(recs.Events)
	second := p.Project(recs.Events)

	result := ReplayResult{
		Events:        len(recs.Events),
		Corrupt:       len(recs.Corrupt),
		LastID:        first.State.LastID,
		Queued:        len(first.State.Queue),
		History:       len(first.State.History),
		Playing:       first.State.NowPlaying != nil,
		Diagnostics:   first.Diagnostics,
		Deterministic: reflect.DeepEqual(first, second),
	}

	if opts.Format == "json" {
		return outputReplayJSON(cmd, result)
	}
	return outputReplayText(cmd, result, opts.Verbose)
}

// outputReplayJSON outputs the replay result as JSON.
func outputReplayJSON(cmd *cobra.Command, result ReplayResult) error {
	response := CLIResponse{
		Status: "ok",
		Data:   result,
	}

	if !result.Deterministic {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    "E_DETERMINISM",
			Message: "determinism verification failed",
		}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(response); err != nil {
		return err
	}

	if !result.Deterministic {
		return NewExitError(ExitFailure, "determinism verification failed")
	}
	return nil
}

// outputReplayText outputs the replay result as text.
func outputReplayText(cmd *cobra.Command, result ReplayResult, verbose bool) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Replay Summary: %d event(s), last id %d\n", result.Events, result.LastID)
	fmt.Fprintf(w, "  Queued: %d, History: %d, Playing: %v\n", result.Queued, result.History, result.Playing)
	if result.Corrupt > 0 {
		fmt.Fprintf(w, "  Corrupt records skipped: %d\n", result.Corrupt)
	}
	if len(result.Diagnostics) > 0 {
		fmt.Fprintf(w, "  Ignored events: %d\n", len(result.Diagnostics))
		if verbose {
			for _, d := range result.Diagnostics {
				fmt.Fprintf(w, "    #%d %s: %s\n", d.EventID, d.Type, d.Reason)
			}
		}
	}
	fmt.Fprintln(w)

	if result.Deterministic {
		fmt.Fprintln(w, "✓ Replay verified deterministic")
		return nil
	}

	fmt.Fprintln(w, "✗ Determinism verification failed")
	return NewExitError(ExitFailure, "determinism verification failed")
}
