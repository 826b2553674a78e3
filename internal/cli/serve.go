package cli

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/synclone/internal/config"
	"github.com/roach88/synclone/internal/replay"
	"github.com/roach88/synclone/internal/server"
	"github.com/roach88/synclone/internal/store"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the staged changes over HTTP",
		Long: `Serve the resolution center over HTTP until interrupted. Conflicts during
POST /sync are handled by the configured on_conflict policy, or skipped when
the policy is prompt.

Examples:
  synclone serve --listen 127.0.0.1:9090`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withOrigin(cmd, func(ctx context.Context, origin *store.Store, out *OutputFormatter) error {
				addr := rootOpts.Config.Listen
				if listen != "" {
					addr = listen
				}
				m := rootOpts.metrics()
				h := &server.Handler{
					Center:  rootOpts.center(origin, m),
					Metrics: m,
					Policy:  servePolicy(rootOpts.Config),
				}
				slog.Info("serving", "addr", addr, "origin", store.Redact(origin.URI()))
				if err := server.Serve(ctx, addr, server.NewRouter(h, prometheus.DefaultGatherer)); err != nil {
					return out.Fail("server failed", err)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default from config)")

	return cmd
}

func servePolicy(cfg config.Config) replay.PolicyResolver {
	if cfg.Interactive() {
		return replay.PolicyResolver{Decision: replay.Skip}
	}
	p, err := cfg.Policy()
	if err != nil {
		return replay.PolicyResolver{Decision: replay.Skip}
	}
	return p
}
