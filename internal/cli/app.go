package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/offsync/internal/config"
	"github.com/roach88/offsync/internal/ir"
	"github.com/roach88/offsync/internal/schema"
	"github.com/roach88/offsync/internal/store"
)

// app is what a queue command needs: config, the open Action Log, a logger
// and an output formatter.
type app struct {
	opts   *RootOptions
	cfg    config.Config
	store  *store.Store
	logger *slog.Logger
	out    *OutputFormatter
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:  opts.Format,
		Writer:  cmd.OutOrStdout(),
		Verbose: opts.Verbose,
	}
}

// newLogger returns a text logger on stderr, at Debug when verbose.
func newLogger(opts *RootOptions, cmd *cobra.Command) *slog.Logger {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: logLevel,
	}))
}

// openApp loads the config and opens the Action Log. Failures are command
// errors.
func openApp(opts *RootOptions, cmd *cobra.Command) (*app, error) {
	out := newFormatter(opts, cmd)
	logger := newLogger(opts, cmd)

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		_ = out.Error(string(codeOr(err, "CONFIG")), err.Error(), nil)
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}

	path := cfg.QueueFile
	if opts.Database != "" {
		path = opts.Database
	}

	storeOpts := []store.Option{
		store.WithDefaultPolicy(ir.KindDelete, cfg.DeleteDefault()),
	}
	if cfg.SchemaDir != "" {
		schemas, err := schema.Load(cfg.SchemaDir)
		if err != nil {
			_ = out.Error("SCHEMA", err.Error(), nil)
			return nil, WrapExitError(ExitCommandError, "failed to load schemas", err)
		}
		logger.Debug("schemas loaded", "dir", cfg.SchemaDir, "entity_types", schemas.EntityTypes())
		storeOpts = append(storeOpts, store.WithPayloadValidator(schemas))
	}
	if opts.Clock != nil {
		storeOpts = append(storeOpts, store.WithClock(opts.Clock))
	}
	if opts.IDs != nil {
		storeOpts = append(storeOpts, store.WithIDGenerator(opts.IDs))
	}

	logger.Debug("opening queue", "path", path)
	st, err := store.Open(path, storeOpts...)
	if err != nil {
		_ = out.Error(string(codeOr(err, "IO_FAILURE")), err.Error(), nil)
		return nil, WrapExitError(ExitCommandError, "failed to open queue", err)
	}

	return &app{opts: opts, cfg: cfg, store: st, logger: logger, out: out}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

func (a *app) json() bool {
	return a.out.Format == "json"
}

// codeOr returns err's ir code, or fallback when it has none.
func codeOr(err error, fallback ir.ErrorCode) ir.ErrorCode {
	if c := ir.CodeOf(err); c != "" {
		return c
	}
	return fallback
}
