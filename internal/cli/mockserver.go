package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/offsync/internal/ir"
	"github.com/roach88/offsync/internal/remote/refstore"
)

// seedTime is the last_modified of the seeded users/user_1 record.
var seedTime = time.Date(2023, 1, 1, 10, 0, 0, 0, time.UTC)

// MockServerOptions holds flags for the mock-server command.
type MockServerOptions struct {
	*RootOptions
	Seed   bool
	Listen string
}

// NewMockServerCommand creates the mock-server command.
func NewMockServerCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MockServerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "mock-server --db PATH",
		Short: "Answer sync requests from a local reference remote",
		Long: `Run the reference remote backed by the SQLite database given by --db.

By default one JSON request is read from stdin and one JSON response is
written to stdout, which makes the command usable as the exec transport:

  remote:
    transport: exec
    command: offsync
    args: [mock-server, --db, remote.db, --seed]

With --listen the remote serves HTTP POST requests instead, for the http
transport, until interrupted.

--seed creates users/user_1 (last modified 2023-01-01T10:00:00Z) when it
does not exist yet.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMockServer(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Seed, "seed", false, "create the users/user_1 sample record if missing")
	cmd.Flags().StringVar(&opts.Listen, "listen", "", "serve HTTP on this address instead of stdin/stdout")

	return cmd
}

func runMockServer(opts *MockServerOptions, cmd *cobra.Command) error {
	if opts.Database == "" {
		return NewExitError(ExitCommandError, "mock-server requires --db")
	}

	rs, err := refstore.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open remote database", err)
	}
	defer rs.Close()

	ctx := cmd.Context()
	if opts.Seed {
		if err := seedSample(ctx, rs); err != nil {
			return WrapExitError(ExitCommandError, "failed to seed remote", err)
		}
	}

	if opts.Listen == "" {
		if err := rs.ServeOne(ctx, cmd.InOrStdin(), cmd.OutOrStdout()); err != nil {
			return WrapExitError(ExitFailure, "mock-server", err)
		}
		return nil
	}

	logger := newLogger(opts.RootOptions, cmd)
	srv := &http.Server{
		Addr:              opts.Listen,
		Handler:           rs.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("mock server listening", "addr", opts.Listen, "db", opts.Database)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitFailure, "mock-server", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return WrapExitError(ExitFailure, "mock-server shutdown", err)
	}
	logger.Info("mock server stopped")
	return nil
}

func seedSample(ctx context.Context, rs *refstore.Store) error {
	_, found, err := rs.Get(ctx, "users", "user_1")
	if err != nil {
		return err
	}
	if found {
		return nil
	}
	return rs.Seed(ctx, "users", "user_1",
		ir.Payload{"name": "John", "email": "john@example.com"}, seedTime)
}

