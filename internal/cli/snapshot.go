package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/lorevault/internal/sqlite"
	"github.com/mesh-intelligence/lorevault/pkg/types"
)

func newSnapshotCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Capture and restore whole universes",
	}
	cmd.AddCommand(
		newSnapshotCreateCmd(a),
		newSnapshotListCmd(a),
		newSnapshotRestoreCmd(a),
		newSnapshotDeleteCmd(a),
	)
	return cmd
}

func newSnapshotCreateCmd(a *app) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create <universe-id>",
		Short: "Snapshot a universe, its boards and their relationships",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withVault(cmd, func(ctx context.Context, v *sqlite.Backend) error {
				s, err := v.CreateSnapshot(ctx, args[0], name)
				if err != nil {
					return err
				}
				if a.flags.json {
					return printJSON(cmd.OutOrStdout(), s)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created snapshot %q (%s, %s compressed to %s)\nSnapshot id: %s\n",
					s.Name, plural(s.EntityCount, "entity", "entities"), size(s.SizeBytes), size(s.CompressedBytes), s.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "snapshot name (default: the creation time)")
	return cmd
}

func newSnapshotListCmd(a *app) *cobra.Command {
	var universe string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List snapshots, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withVault(cmd, func(ctx context.Context, v *sqlite.Backend) error {
				snaps, err := v.ListSnapshots(ctx, universe)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				if a.flags.json {
					if snaps == nil {
						snaps = []types.Snapshot{}
					}
					return printJSON(w, snaps)
				}
				if len(snaps) == 0 {
					fmt.Fprintln(w, "No snapshots.")
					return nil
				}
				for _, s := range snaps {
					fmt.Fprintf(w, "%s  %-16s  %-24s  %s  %s\n",
						s.ID, ago(s.CreatedAt), s.Name, plural(s.EntityCount, "entity", "entities"), size(s.CompressedBytes))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&universe, "universe", "", "only snapshots of this universe id")
	return cmd
}

func newSnapshotRestoreCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <snapshot-id>",
		Short: "Replace a universe with the state captured in a snapshot",
		Long: "Replace a universe with the state captured in a snapshot. The current\n" +
			"universe, its boards and their relationships are deleted without going\n" +
			"through the trash. The snapshot is kept.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withVault(cmd, func(ctx context.Context, v *sqlite.Backend) error {
				res, err := v.RestoreSnapshot(ctx, args[0])
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				if a.flags.json {
					return printJSON(w, res)
				}
				fmt.Fprintf(w, "Restored %s: removed %s, wrote %s, reattached %s\n", res.Universe,
					plural(res.Removed, "entity", "entities"),
					plural(res.Restored, "entity", "entities"),
					plural(len(res.Reattached), "relationship", "relationships"))
				printSkipped(w, res.Skipped)
				return nil
			})
		},
	}
}

func newSnapshotDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <snapshot-id>",
		Short: "Delete a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withVault(cmd, func(ctx context.Context, v *sqlite.Backend) error {
				if err := v.DeleteSnapshot(ctx, args[0]); err != nil {
					return err
				}
				if a.flags.json {
					return printJSON(cmd.OutOrStdout(), map[string]string{"deleted": args[0]})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted snapshot %s\n", args[0])
				return nil
			})
		},
	}
}
