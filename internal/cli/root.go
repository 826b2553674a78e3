package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/synclone/internal/clone"
	"github.com/roach88/synclone/internal/config"
	"github.com/roach88/synclone/internal/metrics"
	"github.com/roach88/synclone/internal/replay"
	"github.com/roach88/synclone/internal/resolution"
	"github.com/roach88/synclone/internal/schema"
	"github.com/roach88/synclone/internal/store"
)

// DefaultConfigFile is read when --config is not given, if it exists.
const DefaultConfigFile = "synclone.yaml"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	Origin     string
	SchemaPath string
	LogFormat  string

	// Config is the effective configuration once a command has started.
	Config config.Config
	loaded bool
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the synclone CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "synclone",
		Short: "synclone - clone a collection database and sync it back",
		Long: `Clone a collection database for offline work, pull the changes made on the
clone back into the origin as staged batches, review them and sync them with
interactive conflict resolution.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output and debug logging")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (default "+DefaultConfigFile+" if present)")
	cmd.PersistentFlags().StringVar(&opts.Origin, "origin", "", "origin store URI (overrides config and SYNCLONE_ORIGIN)")
	cmd.PersistentFlags().StringVar(&opts.SchemaPath, "schema", "", "CUE schema file (default built-in schema)")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "", "log format (text|json)")

	cmd.AddCommand(NewInitCommand(opts))
	cmd.AddCommand(NewCloneCommand(opts))
	cmd.AddCommand(NewPullCommand(opts))
	cmd.AddCommand(NewStagedCommand(opts))
	cmd.AddCommand(NewEditCommand(opts))
	cmd.AddCommand(NewRemoveCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// prepare loads the configuration, applies flag overrides and installs the
// default logger. It runs once per command invocation.
func (o *RootOptions) prepare(cmd *cobra.Command) error {
	if o.loaded {
		return nil
	}
	path, explicit := o.ConfigPath, o.ConfigPath != ""
	if !explicit {
		path = DefaultConfigFile
	}
	cfg, err := config.Load(path, explicit)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if o.Origin != "" {
		cfg.Origin = o.Origin
	}
	if o.SchemaPath != "" {
		cfg.Schema = o.SchemaPath
	}
	if o.LogFormat != "" {
		cfg.LogFormat = o.LogFormat
	}
	if o.Verbose {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid config", err)
	}
	o.Config = cfg
	o.loaded = true
	setupLogging(cmd.ErrOrStderr(), cfg)
	return nil
}

func setupLogging(w io.Writer, cfg config.Config) {
	level, _ := cfg.Level()
	hopts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if strings.EqualFold(cfg.LogFormat, "json") {
		h = slog.NewJSONHandler(w, hopts)
	} else {
		h = slog.NewTextHandler(w, hopts)
	}
	slog.SetDefault(slog.New(h))
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

func (o *RootOptions) schema() (*schema.Schema, error) {
	if o.Config.Schema == "" {
		return schema.Default(), nil
	}
	return schema.LoadCUE(o.Config.Schema)
}

// openOrigin opens the configured origin store.
func (o *RootOptions) openOrigin(ctx context.Context) (*store.Store, error) {
	if o.Config.Origin == "" {
		return nil, store.ErrNoConnection
	}
	sch, err := o.schema()
	if err != nil {
		return nil, err
	}
	return store.Open(ctx, o.Config.Origin, sch)
}

// metrics returns collectors registered with the default registry.
func (o *RootOptions) metrics() *metrics.Metrics {
	m, err := metrics.New(nil)
	if err != nil {
		slog.Warn("metrics disabled", "error", err)
		return nil
	}
	return m
}

func (o *RootOptions) center(origin *store.Store, m *metrics.Metrics) *resolution.Center {
	return resolution.New(origin,
		resolution.WithMetrics(m),
		resolution.WithCloneOptions(
			clone.WithBatchSize(o.Config.CloneBatchSize),
			clone.WithStepPercent(o.Config.ProgressStepPercent),
		),
		resolution.WithSyncOptions(replay.WithStepPercent(o.Config.ProgressStepPercent)),
	)
}

// withOrigin prepares the command, opens the origin and runs fn with it.
func (o *RootOptions) withOrigin(cmd *cobra.Command, fn func(ctx context.Context, origin *store.Store, out *OutputFormatter) error) error {
	if err := o.prepare(cmd); err != nil {
		return err
	}
	out := o.formatter(cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	origin, err := o.openOrigin(ctx)
	if err != nil {
		return out.Fail("failed to open origin", err)
	}
	defer origin.Close()
	return fn(ctx, origin, out)
}
