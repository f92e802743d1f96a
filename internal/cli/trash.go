package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/lorevault/internal/sqlite"
	"github.com/mesh-intelligence/lorevault/pkg/types"
)

func newTrashCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trash",
		Short: "Move subtrees to the trash and bring them back",
	}
	cmd.AddCommand(
		newTrashListCmd(a),
		newTrashShowCmd(a),
		newTrashDeleteCmd(a),
		newTrashRestoreCmd(a),
		newTrashRemoveCmd(a),
		newTrashEmptyCmd(a),
		newTrashPruneCmd(a),
	)
	return cmd
}

func newTrashListCmd(a *app) *cobra.Command {
	var (
		kind   string
		parent string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List trash entries, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := types.TrashFilter{ParentID: parent, Limit: limit}
			if kind != "" {
				k, err := types.ParseKind(kind)
				if err != nil {
					return fmt.Errorf("%w: %w", errUsage, err)
				}
				filter.Kind = k
			}
			return a.withVault(cmd, func(ctx context.Context, v *sqlite.Backend) error {
				entries, err := v.ListTrash(ctx, filter)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				if a.flags.json {
					if entries == nil {
						entries = []types.TrashEntry{}
					}
					return printJSON(w, entries)
				}
				if len(entries) == 0 {
					fmt.Fprintln(w, "Trash is empty.")
					return nil
				}
				for _, e := range entries {
					fmt.Fprintf(w, "%s  %-16s  %-30s  %s (%s)\n",
						e.ID, ago(e.DeletedAt), e.DisplayName, e.DisplayInfo, e.Target.Kind.Noun())
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "only entries whose root has this kind")
	cmd.Flags().StringVar(&parent, "parent", "", "only entries deleted from this parent id")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of entries")
	return cmd
}

func newTrashShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <trash-id>",
		Short: "Display one trash entry with its captured contents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withVault(cmd, func(ctx context.Context, v *sqlite.Backend) error {
				e, err := v.TrashEntry(ctx, args[0])
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				if a.flags.json {
					return printJSON(w, e)
				}
				fmt.Fprintf(w, "ID:       %s\n", e.ID)
				fmt.Fprintf(w, "Deleted:  %s (%s)\n", e.DeletedAt.Local().Format("2006-01-02 15:04:05"), ago(e.DeletedAt))
				fmt.Fprintf(w, "Target:   %s %q\n", e.Target, e.DisplayName)
				if e.Parent != nil {
					fmt.Fprintf(w, "Parent:   %s\n", *e.Parent)
				}
				fmt.Fprintf(w, "Contents: %s\n", e.DisplayInfo)
				if e.Payload != nil {
					fmt.Fprintf(w, "Edges:    %s\n", plural(len(e.Payload.Relationships), "relationship", "relationships"))
					for _, m := range e.Payload.Entities {
						fmt.Fprintf(w, "  %s  %s\n", m.Ref(), label(m))
					}
				}
				return nil
			})
		},
	}
}

func newTrashDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <kind:id>",
		Short: "Move an entity and everything it owns to the trash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseRef(args[0])
			if err != nil {
				return err
			}
			return a.withVault(cmd, func(ctx context.Context, v *sqlite.Backend) error {
				e, err := v.MoveToTrash(ctx, ref)
				if err != nil {
					return err
				}
				if a.flags.json {
					return printJSON(cmd.OutOrStdout(), e)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Moved %q to the trash: %s\nTrash id: %s\n", e.DisplayName, e.DisplayInfo, e.ID)
				return nil
			})
		},
	}
}

func newTrashRestoreCmd(a *app) *cobra.Command {
	var opts types.RestoreOptions
	var position, name string
	cmd := &cobra.Command{
		Use:   "restore <trash-id>",
		Short: "Restore a trash entry with its original ids",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Position = types.PositionPolicy(position)
			opts.Name = types.NamePolicy(name)
			if err := opts.Validate(); err != nil {
				return fmt.Errorf("%w: %w", errUsage, err)
			}
			return a.withVault(cmd, func(ctx context.Context, v *sqlite.Backend) error {
				res, err := v.Restore(ctx, args[0], opts)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				if a.flags.json {
					return printJSON(w, res)
				}
				fmt.Fprintf(w, "Restored %s (%s)\n", res.Root, plural(len(res.Restored), "entity", "entities"))
				if res.Renamed != "" {
					fmt.Fprintf(w, "Renamed to %q\n", res.Renamed)
				}
				if res.Position != nil {
					fmt.Fprintf(w, "Position %d\n", *res.Position)
				}
				fmt.Fprintf(w, "Reattached %s\n", plural(len(res.Reattached), "relationship", "relationships"))
				printSkipped(w, res.Skipped)
				for _, rt := range res.RecreatedTypes {
					fmt.Fprintf(w, "Recreated relationship type %q\n", rt.Name)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&position, "position", "", "position policy: keep, append, fail (default from config)")
	cmd.Flags().StringVar(&name, "name", "", "name policy: keep, rename, fail (default from config)")
	return cmd
}

func newTrashRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <trash-id>",
		Short: "Delete a trash entry permanently",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withVault(cmd, func(ctx context.Context, v *sqlite.Backend) error {
				if err := v.RemoveTrash(ctx, args[0]); err != nil {
					return err
				}
				if a.flags.json {
					return printJSON(cmd.OutOrStdout(), map[string]string{"removed": args[0]})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed trash entry %s\n", args[0])
				return nil
			})
		},
	}
}

func newTrashEmptyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "empty",
		Short: "Delete every trash entry permanently",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withVault(cmd, func(ctx context.Context, v *sqlite.Backend) error {
				n, err := v.EmptyTrash(ctx)
				if err != nil {
					return err
				}
				return a.printCount(cmd.OutOrStdout(), "removed", n, "Removed %s\n")
			})
		},
	}
}

func newTrashPruneCmd(a *app) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete trash entries older than the retention period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if days < 0 {
				return fmt.Errorf("%w: --days must not be negative", errUsage)
			}
			return a.withVault(cmd, func(ctx context.Context, v *sqlite.Backend) error {
				if !cmd.Flags().Changed("days") {
					days = a.viper.GetInt(cfgKeyRetentionDays)
				}
				n, err := v.PruneTrash(ctx, types.Days(days))
				if err != nil {
					return err
				}
				return a.printCount(cmd.OutOrStdout(), "removed", n, "Pruned %s\n")
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "retention in days (default from config)")
	return cmd
}

func (a *app) printCount(w io.Writer, key string, n int, format string) error {
	if a.flags.json {
		return printJSON(w, map[string]int{key: n})
	}
	fmt.Fprintf(w, format, plural(n, "entry", "entries"))
	return nil
}

func printSkipped(w io.Writer, skipped []types.SkippedRelationship) {
	if len(skipped) == 0 {
		return
	}
	fmt.Fprintf(w, "Skipped %s:\n", plural(len(skipped), "relationship", "relationships"))
	for _, s := range skipped {
		reason := strings.ReplaceAll(string(s.Reason), "_", " ")
		if s.TrashID != "" {
			reason += " (trash " + s.TrashID + ")"
		}
		fmt.Fprintf(w, "  %s -> %s: %s\n", s.Relationship.From, s.Relationship.To, reason)
	}
}
