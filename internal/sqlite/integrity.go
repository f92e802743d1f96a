package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mesh-intelligence/lorevault/internal/graph"
	"github.com/mesh-intelligence/lorevault/pkg/types"
)

// CheckIntegrity inspects the store without changing it.
func (b *Backend) CheckIntegrity(ctx context.Context) (types.IntegrityReport, error) {
	var r types.IntegrityReport
	err := b.read(func(db *sql.DB) error {
		v, dirty, err := schemaVersion(db)
		if err != nil {
			return storeErr("reading schema version", err)
		}
		r.SchemaVersion, r.Dirty = v, dirty

		if r.ForeignKeys, err = foreignKeyViolations(ctx, db); err != nil {
			return err
		}
		if r.Dangling, err = danglingRelationships(ctx, db); err != nil {
			return err
		}
		for _, edge := range graph.Weak() {
			refs, err := danglingReferences(ctx, db, edge)
			if err != nil {
				return err
			}
			if edge.Reference {
				r.BrokenReferences = append(r.BrokenReferences, refs...)
				continue
			}
			for _, ref := range refs {
				r.OrphanBoards = append(r.OrphanBoards, ref.Entity)
			}
		}
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM deletion_grants").Scan(&r.Grants); err != nil {
			return storeErr("counting deletion grants", err)
		}
		return nil
	})
	return r, err
}

func foreignKeyViolations(ctx context.Context, q queryer) ([]types.ForeignKeyViolation, error) {
	rows, err := q.QueryContext(ctx, "PRAGMA foreign_key_check")
	if err != nil {
		return nil, storeErr("checking foreign keys", err)
	}
	defer rows.Close()

	var out []types.ForeignKeyViolation
	for rows.Next() {
		var (
			v     types.ForeignKeyViolation
			rowID sql.NullInt64
			fkid  int64
		)
		if err := rows.Scan(&v.Table, &rowID, &v.Parent, &fkid); err != nil {
			return nil, storeErr("scanning foreign key check", err)
		}
		v.RowID = rowID.Int64
		out = append(out, v)
	}
	return out, storeErr("iterating foreign key check", rows.Err())
}

// danglingRelationships finds edges whose from or to endpoint has no row.
func danglingRelationships(ctx context.Context, q queryer) ([]types.Relationship, error) {
	seen := map[string]bool{}
	var out []types.Relationship
	for _, n := range graph.Nodes() {
		for _, side := range []string{"from", "to"} {
			query := fmt.Sprintf("SELECT %s FROM relationships r WHERE r.%s_type = ?"+
				" AND NOT EXISTS (SELECT 1 FROM %s e WHERE e.id = r.%s_id) ORDER BY r.id",
				relationshipColumns, side, n.Table, side)
			rows, err := q.QueryContext(ctx, query, string(n.Kind))
			if err != nil {
				return nil, storeErr("checking relationships", err)
			}
			rels, err := scanRelationships(rows)
			if err != nil {
				return nil, err
			}
			for _, r := range rels {
				if !seen[r.ID] {
					seen[r.ID] = true
					out = append(out, r)
				}
			}
		}
	}
	return out, nil
}
