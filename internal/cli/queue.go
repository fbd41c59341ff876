package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/offsync/internal/ir"
	"github.com/roach88/offsync/internal/store"
)

// StatusResult is the status command's JSON payload.
type StatusResult struct {
	Counts  store.Stats `json:"counts"`
	Pending []ir.Action `json:"pending"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue counts and pending actions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			stats, err := a.store.Stats(ctx)
			if err != nil {
				return a.out.Fail("read status", err)
			}
			pending, err := a.store.Pending(ctx)
			if err != nil {
				return a.out.Fail("read status", err)
			}

			if a.json() {
				return a.out.Success(StatusResult{Counts: stats, Pending: pending})
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Actions: %d total, %d pending, %d syncing, %d completed, %d failed\n",
				stats.Total, stats.Pending, stats.Syncing, stats.Completed, stats.Failed)
			if len(pending) > 0 {
				fmt.Fprintln(w)
				writeActions(w, pending)
			}
			return nil
		},
	}
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	var entityType string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued actions",
		Long: `List every action in the queue in creation order, whatever its status.

Examples:
  offsync list
  offsync list --entity users --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			var actions []ir.Action
			if entityType != "" {
				actions, err = a.store.ByEntity(cmd.Context(), entityType)
			} else {
				actions, err = a.store.All(cmd.Context())
			}
			if err != nil {
				return a.out.Fail("list actions", err)
			}

			if a.json() {
				return a.out.Success(actions)
			}
			if len(actions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty.")
				return nil
			}
			writeActions(cmd.OutOrStdout(), actions)
			return nil
		},
	}

	cmd.Flags().StringVar(&entityType, "entity", "", "only actions for this entity type")

	return cmd
}

// NewRemoveCommand creates the remove command.
func NewRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove one action from the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			id := args[0]
			_, found, err := a.store.Get(ctx, id)
			if err != nil {
				return a.out.Fail("remove action", err)
			}
			if found {
				if err := a.store.Remove(ctx, id); err != nil {
					return a.out.Fail("remove action", err)
				}
			}

			if a.json() {
				return a.out.Success(map[string]any{"id": id, "removed": found})
			}
			if found {
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", id)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "No action %s\n", id)
			}
			return nil
		},
	}
}

// NewClearCommand creates the clear command.
func NewClearCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every action from the queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := a.store.Stats(cmd.Context())
			if err != nil {
				return a.out.Fail("clear queue", err)
			}
			if err := a.store.Clear(cmd.Context()); err != nil {
				return a.out.Fail("clear queue", err)
			}

			if a.json() {
				return a.out.Success(map[string]int{"removed": stats.Total})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d action(s)\n", stats.Total)
			return nil
		},
	}
}

// NewRequeueCommand creates the requeue command.
func NewRequeueCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "requeue [id...]",
		Short: "Move FAILED actions back to PENDING",
		Long: `Move FAILED actions back to PENDING so the next sync sends them again.
With no ids every FAILED action is requeued.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.store.Requeue(cmd.Context(), args...)
			if err != nil {
				return a.out.Fail("requeue actions", err)
			}
			return a.reportMoved(cmd, "Requeued", n)
		},
	}
}

// NewRecoverCommand creates the recover command.
func NewRecoverCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Move actions stuck in SYNCING back to PENDING",
		Long: `Move actions left SYNCING by an interrupted sync back to PENDING.
Run it only when no sync is in progress.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.store.RecoverInterrupted(cmd.Context())
			if err != nil {
				return a.out.Fail("recover actions", err)
			}
			return a.reportMoved(cmd, "Recovered", n)
		},
	}
}

func (a *app) reportMoved(cmd *cobra.Command, verb string, n int) error {
	if a.json() {
		return a.out.Success(map[string]int{"moved": n})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %d action(s)\n", verb, n)
	return nil
}

// writeActions prints actions as an aligned table.
func writeActions(w io.Writer, actions []ir.Action) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tENTITY\tSTATUS\tRETRIES\tPOLICY\tCREATED")
	for _, act := range actions {
		entity := act.EntityType
		if act.EntityID != "" {
			entity += "/" + act.EntityID
		}
		policy := string(act.ConflictPolicy)
		if policy == "" {
			policy = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			act.ID, act.Kind, entity, act.Status, act.RetryCount, policy,
			act.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"))
	}
	tw.Flush()
}
