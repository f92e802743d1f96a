package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/lorevault/internal/sqlite"
)

var errIntegrity = errors.New("integrity check failed")

func newCheckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify schema, foreign keys, relationship endpoints and references",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withVault(cmd, func(ctx context.Context, v *sqlite.Backend) error {
				r, err := v.CheckIntegrity(ctx)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				if a.flags.json {
					if err := printJSON(w, r); err != nil {
						return err
					}
				} else {
					fmt.Fprintf(w, "Schema version %d", r.SchemaVersion)
					if r.Dirty {
						fmt.Fprint(w, " (dirty)")
					}
					fmt.Fprintln(w)
					for _, fk := range r.ForeignKeys {
						fmt.Fprintf(w, "foreign key: %s row %d references missing %s\n", fk.Table, fk.RowID, fk.Parent)
					}
					for _, rel := range r.Dangling {
						fmt.Fprintf(w, "dangling relationship %s: %s -> %s\n", rel.ID, rel.From, rel.To)
					}
					for _, b := range r.OrphanBoards {
						fmt.Fprintf(w, "orphan board %s\n", b)
					}
					for _, ref := range r.BrokenReferences {
						fmt.Fprintf(w, "broken reference: %s %s -> %s\n", ref.Entity, ref.Column, ref.Target)
					}
					if r.Grants > 0 {
						fmt.Fprintf(w, "%s left behind\n", plural(r.Grants, "deletion grant", "deletion grants"))
					}
					if r.OK() {
						fmt.Fprintln(w, "OK")
					}
				}
				if !r.OK() {
					return errIntegrity
				}
				return nil
			})
		},
	}
}
