package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/offsync/internal/config"
	"github.com/roach88/offsync/internal/ir"
	"github.com/roach88/offsync/internal/remote"
	"github.com/roach88/offsync/internal/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	Database   string // overrides queue_file

	// Transport overrides the configured remote (for testing).
	Transport remote.Transport

	// Clock and IDs override enqueue timestamps and action ids (for testing).
	Clock func() time.Time
	IDs   store.IDGenerator
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the offsync CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "offsync",
		Short: "offsync - offline action queue",
		Long: `Record create, update and delete actions while offline and replay them
against a remote when connectivity returns.

Actions are stored in a local SQLite queue. "offsync sync" sends every
pending action, keeping per-entity order, and reports what succeeded,
conflicted or failed.`,
		Version:       ir.ClientVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", config.DefaultPath, "config file")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "queue database (overrides queue_file)")

	cmd.AddCommand(NewCreateCommand(opts))
	cmd.AddCommand(NewUpdateCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewRemoveCommand(opts))
	cmd.AddCommand(NewClearCommand(opts))
	cmd.AddCommand(NewRequeueCommand(opts))
	cmd.AddCommand(NewRecoverCommand(opts))
	cmd.AddCommand(NewMockServerCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// Execute runs the CLI with args and returns the process exit code.
// Errors that do not carry an exit code come from cobra's argument and flag
// parsing and count as command errors.
func Execute(args []string, stdout, stderr io.Writer) int {
	return execute(NewRootCommand(), args, stdout, stderr)
}

func execute(cmd *cobra.Command, args []string, stdout, stderr io.Writer) int {
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.Execute()
	if err == nil {
		return ExitSuccess
	}

	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		err = WrapExitError(ExitCommandError, "usage error", err)
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return GetExitCode(err)
}
