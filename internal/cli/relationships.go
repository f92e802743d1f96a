package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/lorevault/internal/sqlite"
	"github.com/mesh-intelligence/lorevault/pkg/types"
)

func newRelTypeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reltype",
		Short: "Manage relationship types",
	}
	cmd.AddCommand(newRelTypeAddCmd(a), newRelTypeListCmd(a))
	return cmd
}

func newRelTypeAddCmd(a *app) *cobra.Command {
	var (
		description string
		undirected  bool
	)
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Register a relationship type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withVault(cmd, func(ctx context.Context, v *sqlite.Backend) error {
				rt, err := v.CreateRelationshipType(ctx, args[0], description, !undirected)
				if err != nil {
					return err
				}
				if a.flags.json {
					return printJSON(cmd.OutOrStdout(), rt)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created relationship type %q (%s)\n", rt.Name, rt.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "what the relationship means")
	cmd.Flags().BoolVar(&undirected, "undirected", false, "treat both endpoints symmetrically")
	return cmd
}

func newRelTypeListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List relationship types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withVault(cmd, func(ctx context.Context, v *sqlite.Backend) error {
				rts, err := v.RelationshipTypes(ctx)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				if a.flags.json {
					if rts == nil {
						rts = []types.RelationshipType{}
					}
					return printJSON(w, rts)
				}
				for _, rt := range rts {
					dir := "directed"
					if !rt.Directed {
						dir = "undirected"
					}
					fmt.Fprintf(w, "%-24s  %-10s  %s\n", rt.Name, dir, rt.Description)
				}
				return nil
			})
		},
	}
}

func newLinkCmd(a *app) *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "link <type-name> <from kind:id> <to kind:id>",
		Short: "Create a relationship between two entities",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := parseRef(args[1])
			if err != nil {
				return err
			}
			to, err := parseRef(args[2])
			if err != nil {
				return err
			}
			return a.withVault(cmd, func(ctx context.Context, v *sqlite.Backend) error {
				rt, err := v.RelationshipTypeByName(ctx, args[0])
				if err != nil {
					return err
				}
				rel, err := v.Link(ctx, rt.ID, from, to, note)
				if err != nil {
					return err
				}
				if a.flags.json {
					return printJSON(cmd.OutOrStdout(), rel)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Linked %s %s %s (%s)\n", rel.From, rt.Name, rel.To, rel.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "free-text note on the relationship")
	return cmd
}

func newUnlinkCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "unlink <relationship-id>",
		Short: "Delete a relationship",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withVault(cmd, func(ctx context.Context, v *sqlite.Backend) error {
				if err := v.Unlink(ctx, args[0]); err != nil {
					return err
				}
				if a.flags.json {
					return printJSON(cmd.OutOrStdout(), map[string]string{"unlinked": args[0]})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Unlinked %s\n", args[0])
				return nil
			})
		},
	}
}

func newLinksCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "links <kind:id>",
		Short: "List the relationships of an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseRef(args[0])
			if err != nil {
				return err
			}
			return a.withVault(cmd, func(ctx context.Context, v *sqlite.Backend) error {
				edges, err := v.Relationships(ctx, ref)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				if a.flags.json {
					if edges == nil {
						edges = []types.Edge{}
					}
					return printJSON(w, edges)
				}
				if len(edges) == 0 {
					fmt.Fprintln(w, "No relationships.")
					return nil
				}
				printEdges(w, edges)
				return nil
			})
		},
	}
}
