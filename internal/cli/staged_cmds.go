package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/synclone/internal/resolution"
	"github.com/roach88/synclone/internal/store"
)

// PullOptions holds flags for the pull command.
type PullOptions struct {
	*RootOptions
	From string
}

// NewPullCommand creates the pull command.
func NewPullCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PullOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Stage the changes made on a clone",
		Long: `Read the change log of a clone since it was cloned and stage the entries in
the origin as one new batch.

Examples:
  synclone pull --from sqlite://field.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withOrigin(cmd, func(ctx context.Context, origin *store.Store, out *OutputFormatter) error {
				b, err := opts.center(origin, opts.metrics()).Pull(ctx, opts.From)
				if err != nil {
					return out.Fail("pull failed", err)
				}
				return out.Success(fmt.Sprintf("Staged %d changes as batch %d", b.Count, b.Number), b)
			})
		},
	}

	cmd.Flags().StringVar(&opts.From, "from", "", "clone store URI (required)")
	_ = cmd.MarkFlagRequired("from")

	return cmd
}

// StagedOptions holds flags for the staged command.
type StagedOptions struct {
	*RootOptions
	Batch int64
}

// NewStagedCommand creates the staged command.
func NewStagedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StagedOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "staged",
		Short: "List staged changes, newest first",
		Long: `List staged changes, newest first.

Examples:
  synclone staged
  synclone staged --batch 3 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withOrigin(cmd, func(ctx context.Context, origin *store.Store, out *OutputFormatter) error {
				items, err := opts.center(origin, nil).List(ctx, opts.Batch)
				if err != nil {
					return out.Fail("failed to list staged changes", err)
				}
				if out.Format == "json" {
					if items == nil {
						items = []resolution.Item{}
					}
					return out.Success("", items)
				}
				return printItems(out, items)
			})
		},
	}

	cmd.Flags().Int64Var(&opts.Batch, "batch", 0, "only list this batch")

	return cmd
}

func printItems(out *OutputFormatter, items []resolution.Item) error {
	if len(items) == 0 {
		return out.Success("No staged changes.", nil)
	}
	tw := tabwriter.NewWriter(out.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tBATCH\tTIMESTAMP\tOPERATION\tUSER\tTABLE\tVALUES")
	for _, it := range items {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\t%s\t%s\n",
			it.ID, it.Batch, it.Timestamp.Local().Format("2006-01-02 15:04:05"),
			it.Operation, it.User, it.Table, it.Summary)
	}
	return tw.Flush()
}

// NewEditCommand creates the edit command.
func NewEditCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "edit ID COLUMN=VALUE...",
		Short: "Edit the values of a staged change",
		Long: `Edit the captured values of a staged change before syncing it. Values are
parsed by column type; an empty value sets a nullable column to null. For an
update only the new value of a changed column is replaced.

Examples:
  synclone edit 12 family=Rosaceae qualifier=`,
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			edits := make(map[string]string, len(args)-1)
			for _, a := range args[1:] {
				col, val, ok := strings.Cut(a, "=")
				if !ok || col == "" {
					return NewExitError(ExitCommandError, fmt.Sprintf("invalid edit %q: want COLUMN=VALUE", a))
				}
				edits[col] = val
			}
			return rootOpts.withOrigin(cmd, func(ctx context.Context, origin *store.Store, out *OutputFormatter) error {
				ch, err := rootOpts.center(origin, nil).EditText(ctx, id, edits)
				if err != nil {
					return out.Fail("edit failed", err)
				}
				return out.Success(fmt.Sprintf("%d: %s", ch.ID, resolution.Summary(ch.Values)), ch.Values)
			})
		},
	}
}

// NewRemoveCommand creates the remove command.
func NewRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove ID...",
		Short: "Remove staged changes without syncing them",
		Args:  cobra.MinimumNArgs(1),
		Example: `  synclone remove 12 13`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return rootOpts.withOrigin(cmd, func(ctx context.Context, origin *store.Store, out *OutputFormatter) error {
				if err := rootOpts.center(origin, nil).Remove(ctx, ids...); err != nil {
					return out.Fail("remove failed", err)
				}
				return out.Success(fmt.Sprintf("Removed %d staged changes", len(ids)), map[string]any{"removed": ids})
			})
		},
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id < 1 {
		return 0, NewExitError(ExitCommandError, fmt.Sprintf("invalid staged change id %q", s))
	}
	return id, nil
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, a := range args {
		id, err := parseID(a)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
