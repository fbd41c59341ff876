package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/offsync/internal/ir"
)

// EnqueueOptions holds flags shared by create, update and delete.
type EnqueueOptions struct {
	*RootOptions
	Data          string
	Policy        string
	ClientVersion int64
}

// NewCreateCommand creates the create command.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EnqueueOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "create <entity-type> --data JSON",
		Short: "Queue a CREATE action",
		Long: `Queue a CREATE action. The payload is a JSON object; an "id" field in it
names the new entity.

Example:
  offsync create users --data '{"id":"user_2","name":"Ann"}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnqueue(opts, cmd, ir.KindCreate, args[0], "")
		},
	}

	cmd.Flags().StringVarP(&opts.Data, "data", "d", "", "JSON payload (required)")
	cmd.Flags().StringVarP(&opts.Policy, "policy", "p", "", "conflict policy for this action")
	_ = cmd.MarkFlagRequired("data")

	return cmd
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EnqueueOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "update <entity-type> <id> --data JSON",
		Short: "Queue an UPDATE action",
		Long: `Queue an UPDATE action. The payload holds the fields to change.

Example:
  offsync update users user_1 --data '{"name":"Jane"}' --policy server-wins --client-version 3`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnqueue(opts, cmd, ir.KindUpdate, args[0], args[1])
		},
	}

	cmd.Flags().StringVarP(&opts.Data, "data", "d", "", "JSON payload (required)")
	cmd.Flags().StringVarP(&opts.Policy, "policy", "p", "", "conflict policy for this action")
	cmd.Flags().Int64Var(&opts.ClientVersion, "client-version", 0, "server version this edit was based on")
	_ = cmd.MarkFlagRequired("data")

	return cmd
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EnqueueOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "delete <entity-type> <id>",
		Short: "Queue a DELETE action",
		Long: `Queue a DELETE action. Without --policy the action uses delete_policy
from the config (FORCE_DELETE by default).

Example:
  offsync delete users user_1`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnqueue(opts, cmd, ir.KindDelete, args[0], args[1])
		},
	}

	cmd.Flags().StringVarP(&opts.Policy, "policy", "p", "", "conflict policy for this action")
	cmd.Flags().Int64Var(&opts.ClientVersion, "client-version", 0, "server version this delete was based on")

	return cmd
}

func runEnqueue(opts *EnqueueOptions, cmd *cobra.Command, kind ir.ActionKind, entityType, entityID string) error {
	a, err := openApp(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	draft, err := opts.draft(cmd, kind, entityType, entityID)
	if err != nil {
		return a.out.Fail("invalid action", err)
	}

	ctx := cmd.Context()
	id, err := a.store.Enqueue(ctx, draft)
	if err != nil {
		return a.out.Fail("enqueue failed", err)
	}
	a.logger.Debug("action enqueued", "action_id", id, "kind", kind, "entity_type", entityType)

	action, _, err := a.store.Get(ctx, id)
	if err != nil {
		return a.out.Fail("read back action", err)
	}

	if a.json() {
		return a.out.Success(action)
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Queued %s %s", action.Kind, action.EntityType)
	if action.EntityID != "" {
		fmt.Fprintf(w, "/%s", action.EntityID)
	}
	fmt.Fprintf(w, " as %s", action.ID)
	if action.ConflictPolicy != ir.PolicyUnset {
		fmt.Fprintf(w, " (%s)", action.ConflictPolicy)
	}
	fmt.Fprintln(w)
	return nil
}

// draft turns flags into an ir.Draft. Flag-level problems are validation
// errors.
func (o *EnqueueOptions) draft(cmd *cobra.Command, kind ir.ActionKind, entityType, entityID string) (ir.Draft, error) {
	var errs ir.ValidationErrors

	d := ir.Draft{Kind: kind, EntityType: entityType, EntityID: entityID}

	if o.Data != "" {
		p, err := ir.ParsePayload([]byte(o.Data))
		if err != nil {
			errs = append(errs, ir.ValidationError{Field: "data", Message: err.Error()})
		}
		d.Payload = p
	}

	policy, err := ir.ParseConflictPolicy(o.Policy)
	if err != nil {
		errs = append(errs, ir.ValidationError{Field: "policy", Message: err.Error()})
	}
	d.ConflictPolicy = policy

	if f := cmd.Flags().Lookup("client-version"); f != nil && f.Changed {
		v := o.ClientVersion
		d.ClientVersion = &v
	}

	return d, errs.Err()
}
