package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/offsync/internal/engine"
	"github.com/roach88/offsync/internal/ir"
	"github.com/roach88/offsync/internal/observability"
	"github.com/roach88/offsync/internal/remote"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	ConflictResolution string
	BatchSize          int
	NoEntityOrder      bool
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Send pending actions to the remote",
		Long: `Run one sync pass over every PENDING action.

Actions on the same entity are sent one at a time in creation order.
Different entities are processed in parallel, batch-size at a time.
Failed and conflicting actions are marked FAILED and left for "requeue".

Exit codes:
  0 - Every action synced
  1 - One or more actions failed or conflicted, or the pass was interrupted
  2 - Command error (invalid flags, config, or queue)

Examples:
  offsync sync
  offsync sync -r client-wins -b 4
  offsync sync --no-entity-order --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.ConflictResolution, "conflict-resolution", "r", "", "policy for actions without one (timestamp|server-wins|client-wins|force-delete)")
	cmd.Flags().IntVarP(&opts.BatchSize, "batch-size", "b", 0, "entity groups processed in parallel (default from config)")
	cmd.Flags().BoolVar(&opts.NoEntityOrder, "no-entity-order", false, "send every action independently")

	return cmd
}

func runSync(opts *SyncOptions, cmd *cobra.Command) error {
	a, err := openApp(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	syncOpts, err := opts.syncOptions()
	if err != nil {
		return a.out.Fail("invalid sync options", err)
	}

	transport := opts.Transport
	if transport == nil {
		if transport, err = a.cfg.Transport(); err != nil {
			return a.out.Fail("configure remote", err)
		}
	}

	shutdown, err := observability.Init(a.cfg.Tracing.Exporter, "offsync", cmd.ErrOrStderr())
	if err != nil {
		return a.out.Fail("configure tracing", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			a.logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	clientOpts := append(a.cfg.ClientOptions(), remote.WithLogger(a.logger))
	client := remote.NewClient(transport, clientOpts...)

	engineOpts := append(a.cfg.EngineOptions(),
		engine.WithLogger(a.logger),
		engine.WithTracer(observability.Tracer()),
	)
	eng := engine.New(a.store, client, engineOpts...)

	// The pass finishes its current chunk on interrupt.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := eng.Sync(ctx, syncOpts)
	if err != nil {
		if a.json() {
			_ = a.out.Error(string(codeOr(err, "ERROR")), err.Error(), report)
		} else {
			writeReport(cmd, report)
			_ = a.out.Error(string(codeOr(err, "ERROR")), err.Error(), nil)
		}
		exit := ExitFailure
		if ir.IsValidation(err) {
			exit = ExitCommandError
		}
		return WrapExitError(exit, "sync failed", err)
	}

	if a.json() {
		if err := a.out.Success(report); err != nil {
			return err
		}
	} else {
		writeReport(cmd, report)
	}

	if report.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d action(s) failed", report.Failed))
	}
	return nil
}

func (o *SyncOptions) syncOptions() (engine.SyncOptions, error) {
	var errs ir.ValidationErrors

	policy, err := ir.ParseConflictPolicy(o.ConflictResolution)
	if err != nil {
		errs = append(errs, ir.ValidationError{Field: "conflict-resolution", Message: err.Error()})
	}
	if o.BatchSize < 0 {
		errs = append(errs, ir.ValidationError{Field: "batch-size", Message: fmt.Sprintf("must be > 0, got %d", o.BatchSize)})
	}

	opts := engine.SyncOptions{ConflictResolution: policy, BatchSize: o.BatchSize}
	if o.NoEntityOrder {
		off := false
		opts.RespectEntityOrder = &off
	}
	return opts, errs.Err()
}

// writeReport prints a human summary of a pass.
func writeReport(cmd *cobra.Command, r ir.SyncReport) {
	w := cmd.OutOrStdout()

	if r.TotalActions == 0 {
		fmt.Fprintln(w, "Nothing to sync.")
		return
	}

	for _, o := range r.Details {
		switch o.Kind {
		case ir.OutcomeSuccess:
			fmt.Fprintf(w, "✓ %s %s %s\n", o.ActionID, entityLabel(o), o.Operation)
		case ir.OutcomeConflict:
			fmt.Fprintf(w, "! %s %s conflict: %s\n", o.ActionID, entityLabel(o), o.Reason)
		default:
			fmt.Fprintf(w, "✗ %s %s failed after %d attempt(s): %s\n", o.ActionID, entityLabel(o), o.Attempts, o.Reason)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Sync Summary: %d total, %d successful, %d failed (%d conflicts)",
		r.TotalActions, r.Successful, r.Failed, r.Conflicts)
	if n := r.TotalActions - r.Processed(); n > 0 {
		fmt.Fprintf(w, ", %d not processed", n)
	}
	fmt.Fprintln(w)
}

func entityLabel(o ir.Outcome) string {
	if o.EntityID == "" {
		return o.EntityType
	}
	return o.EntityType + "/" + o.EntityID
}
