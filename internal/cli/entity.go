package cli

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/lorevault/internal/sqlite"
	"github.com/mesh-intelligence/lorevault/pkg/types"
)

func newAddCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "add <kind> key=value...",
		Short: "Create an entity",
		Long: "Create an entity of the given kind. Owner columns such as universe_id or\n" +
			"chapter_id are passed as fields, e.g.\n\n" +
			"  lorevault add chapter novel_id=<id> title=Landfall",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := types.ParseKind(args[0])
			if err != nil {
				return fmt.Errorf("%w: %w", errUsage, err)
			}
			fields, err := parseFields(args[1:])
			if err != nil {
				return err
			}
			return a.withVault(cmd, func(ctx context.Context, v *sqlite.Backend) error {
				e, err := v.Create(ctx, kind, fields)
				if err != nil {
					return err
				}
				return a.printEntity(cmd.OutOrStdout(), e)
			})
		},
	}
}

func newShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <kind:id>",
		Short: "Display an entity with its fields and relationships",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseRef(args[0])
			if err != nil {
				return err
			}
			return a.withVault(cmd, func(ctx context.Context, v *sqlite.Backend) error {
				e, err := v.Entity(ctx, ref)
				if err != nil {
					return err
				}
				edges, err := v.Relationships(ctx, ref)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				if a.flags.json {
					return printJSON(w, map[string]any{"entity": e, "relationships": edges})
				}
				printFields(w, e)
				if len(edges) > 0 {
					fmt.Fprintln(w, "\nRelationships:")
					printEdges(w, edges)
				}
				return nil
			})
		},
	}
}

func newUpdateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "update <kind:id> key=value...",
		Short: "Change entity fields",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseRef(args[0])
			if err != nil {
				return err
			}
			fields, err := parseFields(args[1:])
			if err != nil {
				return err
			}
			return a.withVault(cmd, func(ctx context.Context, v *sqlite.Backend) error {
				e, err := v.Update(ctx, ref, fields)
				if err != nil {
					return err
				}
				return a.printEntity(cmd.OutOrStdout(), e)
			})
		},
	}
}

func newChildrenCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "children <kind:id>",
		Short: "List the entities an entity directly owns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseRef(args[0])
			if err != nil {
				return err
			}
			return a.withVault(cmd, func(ctx context.Context, v *sqlite.Backend) error {
				children, err := v.Children(ctx, ref)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				if a.flags.json {
					if children == nil {
						children = []types.Entity{}
					}
					return printJSON(w, children)
				}
				if len(children) == 0 {
					fmt.Fprintln(w, "No children.")
					return nil
				}
				for _, c := range children {
					fmt.Fprintf(w, "%-40s  %s\n", c.Ref(), label(c))
				}
				return nil
			})
		},
	}
}

func newPurgeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "purge <kind:id>",
		Short: "Delete an entity and its subtree permanently, bypassing the trash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseRef(args[0])
			if err != nil {
				return err
			}
			return a.withVault(cmd, func(ctx context.Context, v *sqlite.Backend) error {
				if err := v.Purge(ctx, ref); err != nil {
					return err
				}
				if a.flags.json {
					return printJSON(cmd.OutOrStdout(), map[string]string{"purged": ref.String()})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Purged %s\n", ref)
				return nil
			})
		},
	}
}

func (a *app) printEntity(w io.Writer, e types.Entity) error {
	if a.flags.json {
		return printJSON(w, e)
	}
	printFields(w, e)
	return nil
}

func printFields(w io.Writer, e types.Entity) {
	fmt.Fprintf(w, "%-12s %s\n", "Ref:", e.Ref())
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%-12s %s\n", k+":", formatValue(e.Fields[k]))
	}
}

func printEdges(w io.Writer, edges []types.Edge) {
	for _, e := range edges {
		arrow := "--"
		switch e.Direction {
		case types.DirectionOutgoing:
			arrow = "->"
		case types.DirectionIncoming:
			arrow = "<-"
		}
		line := fmt.Sprintf("  %s %s %s  (%s)", arrow, e.Type.Name, e.Other, e.Relationship.ID)
		if e.Relationship.Note != "" {
			line += "  " + e.Relationship.Note
		}
		fmt.Fprintln(w, line)
	}
}
