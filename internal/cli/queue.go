package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/williammartin/gezellig/internal/client"
	"github.com/williammartin/gezellig/internal/event"
	"github.com/williammartin/gezellig/internal/reorder"
	"github.com/williammartin/gezellig/internal/store"
)

// queueCommand opens a session, refreshes a client, and hands it to run.
// A failed refresh is reported but not fatal; run decides what to do with
// a stale view.
func (o *RootOptions) queueCommand(cmd *cobra.Command, run func(ctx context.Context, c *client.Client, out *OutputFormatter) error) error {
	s, err := o.openSession(cmd, true)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	c := s.client()
	if err := c.Refresh(ctx); err != nil {
		s.logger.Warn("refresh failed", "error", err)
	}
	return run(ctx, c, o.formatter(cmd))
}

// appendFailed maps a log error onto an exit error.
func appendFailed(op string, err error) error {
	switch {
	case store.IsConflictExhausted(err):
		return WrapExitError(ExitFailure, op+" lost too many races, try again", err)
	case store.IsUnavailable(err):
		return WrapExitError(ExitFailure, "queue log unavailable", err)
	default:
		return WrapExitError(ExitFailure, op+" failed", err)
	}
}

// NewEnqueueCommand creates the enqueue command.
func NewEnqueueCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue URL...",
		Short: "Add tracks to the end of the queue",
		Long: `Add one or more tracks to the end of the room's queue, in order.

If the log cannot be reached the track is kept as a pending placeholder for
this process only; it is not retried once the command exits.

Examples:
  gezellig enqueue https://www.youtube.com/watch?v=dQw4w9WgXcQ
  gezellig enqueue https://example.com/a.mp3 https://example.com/b.mp3`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.queueCommand(cmd, func(ctx context.Context, c *client.Client, out *OutputFormatter) error {
				for _, url := range args {
					item, err := c.Enqueue(ctx, url)
					if err != nil {
						if errors.Is(err, event.ErrInvalid) {
							return WrapExitError(ExitCommandError, "invalid track", err)
						}
						return appendFailed("enqueue", err)
					}
					if item.Pending {
						out.VerboseLog("log unavailable, %s kept locally as %s", url, item.LocalID)
					}
				}
				return out.View(c.GetState())
			})
		},
	}
}

// NewClearCommand creates the clear command.
func NewClearCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Empty the queue and stop the current track",
		Long: `Empty the room's queue. If a track is playing a skip is requested
first, so the arbiter stops it.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.queueCommand(cmd, func(ctx context.Context, c *client.Client, out *OutputFormatter) error {
				if err := c.Clear(ctx); err != nil {
					return appendFailed("clear", err)
				}
				return out.View(c.GetState())
			})
		},
	}
}

// NewSkipCommand creates the skip command.
func NewSkipCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "skip",
		Short:         "Ask the arbiter to stop the current track",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.queueCommand(cmd, func(ctx context.Context, c *client.Client, out *OutputFormatter) error {
				skipped, err := c.Skip(ctx)
				if err != nil {
					return appendFailed("skip", err)
				}
				if !skipped {
					return out.Success("nothing playing")
				}
				return out.View(c.GetState())
			})
		},
	}
}

// NewReorderCommand creates the reorder command.
func NewReorderCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reorder ID...",
		Short: "Set the queue order",
		Long: `Set the queue order by event id. Ids not named keep their relative
order after the named ones.

Examples:
  gezellig reorder 12 7 9`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid id", err)
			}
			return rootOpts.queueCommand(cmd, func(ctx context.Context, c *client.Client, out *OutputFormatter) error {
				return reorderTo(ctx, c, out, ids)
			})
		},
	}
}

// NewMoveCommand creates the move command.
func NewMoveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "move FROM TO",
		Short: "Move one queued track to another position",
		Long: `Move the track at position FROM to position TO. Positions are
1-based, as printed by the state command.

Examples:
  gezellig move 3 1`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err1 := strconv.Atoi(args[0])
			to, err2 := strconv.Atoi(args[1])
			if err1 != nil || err2 != nil {
				return NewExitError(ExitCommandError, "positions must be integers")
			}
			return rootOpts.queueCommand(cmd, func(ctx context.Context, c *client.Client, out *OutputFormatter) error {
				ids, err := reorder.Move(c.GetState().QueueIDs(), from-1, to-1)
				if err != nil {
					return WrapExitError(ExitCommandError, "invalid move", err)
				}
				return reorderTo(ctx, c, out, ids)
			})
		},
	}
}

func reorderTo(ctx context.Context, c *client.Client, out *OutputFormatter, ids []int64) error {
	changed, err := c.Reorder(ctx, ids)
	if err != nil {
		if errors.Is(err, reorder.ErrDuplicateID) {
			return WrapExitError(ExitCommandError, "invalid order", err)
		}
		return appendFailed("reorder", err)
	}
	if !changed {
		out.VerboseLog("queue already in that order")
	}
	return out.View(c.GetState())
}

// NewStateCommand creates the state command.
func NewStateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Show now playing, the queue and history",
		Long: `Show the room's current state. If the log cannot be read the last
cached state is shown and marked stale.

Examples:
  gezellig state
  gezellig state --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.queueCommand(cmd, func(ctx context.Context, c *client.Client, out *OutputFormatter) error {
				v := c.GetState()
				if err := out.View(v); err != nil {
					return err
				}
				if v.Disconnected {
					return NewExitError(ExitFailure, "queue log unavailable")
				}
				return nil
			})
		},
	}
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, a := range args {
		id, err := strconv.ParseInt(a, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("%q is not an event id", a)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
