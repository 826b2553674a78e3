package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/synclone/internal/config"
	"github.com/roach88/synclone/internal/replay"
	"github.com/roach88/synclone/internal/store"
	"github.com/roach88/synclone/internal/task"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Batch      int64
	OnConflict string
	Reclone    bool
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync [ID...]",
		Short: "Apply staged changes to the origin",
		Long: `Apply staged changes to the origin in the order they were staged. With no
ids every staged change is synced; --batch restricts the run to one batch.

Conflicting rows are handled according to --on-conflict:
  prompt       - ask for each conflict (resolve, skip, skip related, quit)
  skip         - leave the row staged
  skip_related - leave the row and every row depending on it staged
  quit         - stop at the first conflict

Exit codes:
  0 - Every selected change was applied or already present
  1 - Changes are still pending, or the sync was aborted
  2 - Command error

Examples:
  synclone sync
  synclone sync --batch 2 --on-conflict skip_related
  synclone sync 14 15 --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return opts.withOrigin(cmd, func(ctx context.Context, origin *store.Store, out *OutputFormatter) error {
				return runSync(ctx, cmd, opts, origin, ids, out)
			})
		},
	}

	cmd.Flags().Int64Var(&opts.Batch, "batch", 0, "only sync this batch")
	cmd.Flags().StringVar(&opts.OnConflict, "on-conflict", "", "prompt|skip|skip_related|quit (default from config)")
	cmd.Flags().BoolVar(&opts.Reclone, "reclone", false, "clone back to the pulled store after a clean non-interactive sync")

	return cmd
}

func runSync(ctx context.Context, cmd *cobra.Command, opts *SyncOptions, origin *store.Store, ids []int64, out *OutputFormatter) error {
	cfg := opts.Config
	if opts.OnConflict != "" {
		cfg.OnConflict = opts.OnConflict
		if err := cfg.Validate(); err != nil {
			return WrapExitError(ExitCommandError, "invalid --on-conflict", err)
		}
	}
	resolver, err := opts.resolver(cmd, cfg, origin)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --on-conflict", err)
	}

	center := opts.center(origin, opts.metrics())
	if opts.Batch != 0 && len(ids) == 0 {
		items, err := center.List(ctx, opts.Batch)
		if err != nil {
			return out.Fail("failed to list batch", err)
		}
		if len(items) == 0 {
			return out.Success(fmt.Sprintf("No staged changes in batch %d.", opts.Batch), replay.Report{})
		}
		for _, it := range items {
			ids = append(ids, it.ID)
		}
	}

	var r *task.Reporter
	if !cfg.Interactive() && out.Format != "json" {
		w := out.GetErrWriter()
		r = task.NewReporter(ctx, "sync", cfg.ProgressStepPercent, func(p task.Progress) {
			fmt.Fprintf(w, "sync %3.0f%% (%d/%d)\n", p.Fraction*100, p.Done, p.Total)
		})
	}

	rep, err := center.Sync(ctx, ids, resolver, r)
	if err != nil && !store.IsAbort(err) && !store.IsCancelled(err) {
		return out.Fail("sync failed", err)
	}
	if err := out.Success(reportText(rep), rep); err != nil {
		return err
	}
	if !rep.Clean() {
		return NewExitError(ExitFailure, fmt.Sprintf("%d staged changes pending", len(rep.Pending)))
	}
	return nil
}

func (o *SyncOptions) resolver(cmd *cobra.Command, cfg config.Config, origin *store.Store) (replay.Resolver, error) {
	if cfg.Interactive() {
		return NewPromptResolver(cmd.InOrStdin(), cmd.ErrOrStderr(), origin.Schema()), nil
	}
	p, err := cfg.Policy()
	if err != nil {
		return nil, err
	}
	p.Reclone = o.Reclone
	return p, nil
}

func reportText(rep replay.Report) string {
	var b strings.Builder
	switch {
	case rep.Aborted:
		b.WriteString("Sync aborted.\n")
	case rep.Cancelled:
		b.WriteString("Sync cancelled.\n")
	}
	fmt.Fprintf(&b, "Applied %d, already present %d, pending %d",
		rep.Count(replay.OutcomeApplied), rep.Count(replay.OutcomeNoOp), len(rep.Pending))
	for _, row := range rep.Rows {
		if row.Outcome != replay.OutcomeFailed && row.Outcome != replay.OutcomeAborted {
			continue
		}
		fmt.Fprintf(&b, "\n  %d %s %s %d: %s", row.StagedID, row.Operation, row.Table, row.RemoteID, row.Outcome)
		if row.Message != "" {
			fmt.Fprintf(&b, " (%s)", row.Message)
		}
	}
	if rep.Reclone != "" {
		fmt.Fprintf(&b, "\nCloned back to %s", store.Redact(rep.Reclone))
	}
	return b.String()
}
