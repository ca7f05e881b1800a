package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <thread-id>",
		Short: "Show the status of a thread",
		Args:  cobra.ExactArgs(1),
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			status, err := a.runner.GetStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.printJSON(status)
		}),
	}
}

func (a *app) historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <thread-id>",
		Short: "List the retained checkpoints of a thread",
		Args:  cobra.ExactArgs(1),
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			cps, err := a.runner.History(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(cps) == 0 {
				fmt.Fprintf(a.stdout, "No checkpoints for thread '%s'.\n", args[0])
				return nil
			}

			w := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SEQ\tNODE\tCURSOR\tSTATUS\tCREATED\tNOTE")
			for _, cp := range cps {
				node := cp.NodeID
				if node == "" {
					node = "-"
				}
				note := cp.Error
				if cp.RetryOf != nil {
					note = fmt.Sprintf("retry of %d", *cp.RetryOf)
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
					cp.Sequence, node, cp.Cursor, cp.Status, cp.CreatedAt.Format(time.RFC3339), note)
			}
			return w.Flush()
		}),
	}
}

func (a *app) pendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending <thread-id>",
		Short: "Show the decision a suspended thread is waiting for",
		Args:  cobra.ExactArgs(1),
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			pending, err := a.runner.GetPending(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if pending == nil {
				fmt.Fprintf(a.stdout, "Thread '%s' is not awaiting input.\n", args[0])
				return nil
			}
			return a.printJSON(pending)
		}),
	}
}

func (a *app) pruneCmd() *cobra.Command {
	var keep int
	cmd := &cobra.Command{
		Use:   "prune <thread-id>...",
		Short: "Delete all but the newest checkpoints of one or more threads",
		Args:  cobra.MinimumNArgs(1),
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			for _, threadID := range args {
				n, err := a.runner.Prune(cmd.Context(), threadID, keep)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.stdout, "Pruned %d checkpoints from '%s'\n", n, threadID)
			}
			return nil
		}),
	}
	cmd.Flags().IntVar(&keep, "keep", 10, "Number of newest checkpoints to keep")
	return cmd
}

func (a *app) replayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay <thread-id>",
		Short: "Rebuild a thread's state from its recorded updates",
		Args:  cobra.ExactArgs(1),
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			state, err := a.runner.Replay(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.printJSON(state)
		}),
	}
}

func (a *app) retryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <thread-id> <sequence>",
		Short: "Continue a thread from an earlier checkpoint",
		Long:  `retry copies checkpoint <sequence> forward as the thread's newest checkpoint and continues from it. Use it to re-run a failed step or to rewind a thread.`,
		Args:  cobra.ExactArgs(2),
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			seq, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid sequence %q: %w", args[1], err)
			}
			return a.printResult(a.runner.RetryFrom(cmd.Context(), args[0], seq))
		}),
	}
}
