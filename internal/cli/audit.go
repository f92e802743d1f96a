package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/lorevault/internal/sqlite"
	"github.com/mesh-intelligence/lorevault/pkg/types"
)

func newAuditCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query and export the audit log",
	}
	cmd.AddCommand(newAuditListCmd(a), newAuditExportCmd(a))
	return cmd
}

func newAuditListCmd(a *app) *cobra.Command {
	var (
		filter types.AuditFilter
		entity string
		since  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List audit entries, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if entity != "" {
				ref, err := parseRef(entity)
				if err != nil {
					return err
				}
				filter.EntityType, filter.EntityID = string(ref.Kind), ref.ID
			}
			if since > 0 {
				filter.Since = time.Now().Add(-since)
			}
			return a.withVault(cmd, func(ctx context.Context, v *sqlite.Backend) error {
				entries, err := v.AuditLog(ctx, filter)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				if a.flags.json {
					if entries == nil {
						entries = []types.AuditEntry{}
					}
					return printJSON(w, entries)
				}
				for _, e := range entries {
					target := "-"
					if e.EntityType != "" {
						target = types.NewRef(types.Kind(e.EntityType), e.EntityID).String()
					}
					fmt.Fprintf(w, "%s  %-24s  %-48s  %s\n",
						e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.Action, target, details(e.Details))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filter.Action, "action", "", "only this action, e.g. trash_restore")
	cmd.Flags().StringVar(&entity, "entity", "", "only entries for this kind:id")
	cmd.Flags().DurationVar(&since, "since", 0, "only entries newer than this, e.g. 24h")
	cmd.Flags().IntVar(&filter.Limit, "limit", 50, "maximum number of entries (0 for all)")
	return cmd
}

// details renders a details map as sorted key=value pairs.
func details(m map[string]any) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, m[k]))
	}
	return strings.Join(parts, " ")
}

func newAuditExportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "export <path>",
		Short: "Write the whole audit log, oldest first, as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withVault(cmd, func(ctx context.Context, v *sqlite.Backend) error {
				n, err := v.ExportAudit(ctx, args[0])
				if err != nil {
					return err
				}
				if a.flags.json {
					return printJSON(cmd.OutOrStdout(), map[string]any{"path": args[0], "entries": n})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Exported %s to %s\n", plural(n, "entry", "entries"), args[0])
				return nil
			})
		},
	}
}
