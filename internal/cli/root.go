package cli

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/strata/internal/config"
	"github.com/roach88/strata/internal/dal"
	"github.com/roach88/strata/internal/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Database   string
	Memory     bool
	Driver     string
	Schema     string
	Policy     string
	Verbose    bool
	Format     string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the strata CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "strata",
		Short: "strata - cascading context persistence",
		Long: `Read and write records through a Scratch → Main → Root → Store pipeline.

Settings come from strata.toml (or --config), STRATA_* environment
variables and the flags below, in increasing priority.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	// Global flags
	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.ConfigPath, "config", "", "config file (default strata.toml if present)")
	pf.StringVar(&opts.Database, "db", "", "SQLite database file")
	pf.BoolVar(&opts.Memory, "memory", false, "use an in-memory store")
	pf.StringVar(&opts.Driver, "driver", "", "SQLite driver (sqlite3|sqlite)")
	pf.StringVar(&opts.Schema, "schema", "", "CUE schema file or directory")
	pf.StringVar(&opts.Policy, "policy", "", "scratch policy (per-write|shared)")
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	pf.StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewPutCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewCountCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewNukeCommand(opts))
	cmd.AddCommand(NewLogCommand(opts))
	cmd.AddCommand(NewSchemaCommand(opts))
	cmd.AddCommand(NewShellCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// formatter returns the output formatter for cmd.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// loadConfig layers the global flags over the file and environment
// settings.
func (o *RootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, err
	}

	if o.Database != "" {
		cfg.Store.Kind = string(store.KindFile)
		cfg.Store.Path = o.Database
	}
	if o.Memory {
		cfg.Store.Kind = string(store.KindMemory)
	}
	if o.Driver != "" {
		cfg.Store.Driver = o.Driver
	}
	if o.Schema != "" {
		cfg.Store.Schema = o.Schema
	}
	if o.Policy != "" {
		cfg.Pipeline.ScratchPolicy = o.Policy
	}
	if o.Verbose {
		cfg.Logging.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openService opens the pipeline described by the merged configuration.
// The caller must Close the returned Service.
func (o *RootOptions) openService(cmd *cobra.Command) (*dal.Service, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	return o.open(cmd, cfg, cfg.Logger(cmd.ErrOrStderr()))
}

// open opens the pipeline for cfg with extra options appended.
func (o *RootOptions) open(cmd *cobra.Command, cfg *config.Config, logger *slog.Logger, extra ...dal.Option) (*dal.Service, error) {
	desc, err := cfg.Descriptor()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid store", err)
	}
	svcOpts, err := cfg.ServiceOptions(logger)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	ctx := commandContext(cmd)
	logger.Debug("opening store", "kind", desc.Kind, "policy", cfg.Pipeline.ScratchPolicy)
	svc, err := dal.Open(ctx, desc, append(svcOpts, extra...)...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}

	// With async_open, commands still want to fail fast on a bad store.
	select {
	case <-svc.Ready():
	case <-ctx.Done():
		svc.Close(context.WithoutCancel(ctx))
		return nil, ctx.Err()
	}
	if err := svc.OpenErr(); err != nil {
		svc.Close(context.WithoutCancel(ctx))
		return nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}
	return svc, nil
}

// withService runs fn against an open Service and closes it afterwards.
// A close failure is reported only when fn succeeded.
func (o *RootOptions) withService(cmd *cobra.Command, fn func(ctx context.Context, svc *dal.Service) error) error {
	svc, err := o.openService(cmd)
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)

	runErr := fn(ctx, svc)
	if closeErr := svc.Close(context.WithoutCancel(ctx)); closeErr != nil {
		if runErr == nil {
			return WrapExitError(ExitFailure, "failed to close store", closeErr)
		}
		slog.Error("error closing store", "error", closeErr)
	}
	return runErr
}

// commandContext returns cmd's context, or Background outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
