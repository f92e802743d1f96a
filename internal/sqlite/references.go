package sqlite

import (
	"context"
	"fmt"

	"github.com/mesh-intelligence/lorevault/internal/graph"
	"github.com/mesh-intelligence/lorevault/pkg/types"
)

// Weak columns (associations and references) point at an entity that is
// live or in the trash. Writes require a live target; permanent deletion
// and restore clear columns whose target is gone for good.

const universeColumn = "universe_id"

// checkReference requires the target of a reference column set on e to be
// live and to belong to e's universe.
func checkReference(ctx context.Context, q queryer, edge graph.Edge, e types.Entity) error {
	id := e.Text(edge.Column)
	if id == "" {
		return nil
	}
	target, err := loadEntity(ctx, q, types.NewRef(edge.Owner, id))
	if err != nil {
		return err
	}
	if u := e.Text(universeColumn); u != "" && target.Text(universeColumn) != u {
		return fmt.Errorf("%w: %s %s is in another universe", types.ErrInvalidData, edge.Column, target.Ref())
	}
	return nil
}

// resolveReferences empties reference columns on entities about to be
// reinserted when the target is gone for good: not among entities, not
// live, and not held by a trash entry other than skipTrashID. Entities
// are modified in place and the cleared columns are returned.
func resolveReferences(ctx context.Context, q queryer, entities []types.Entity, skipTrashID string) ([]types.Reference, error) {
	members := make(map[types.Ref]bool, len(entities))
	for _, e := range entities {
		members[e.Ref()] = true
	}

	var cleared []types.Reference
	for i, e := range entities {
		for _, edge := range graph.References(e.Kind) {
			id := e.Text(edge.Column)
			if id == "" {
				continue
			}
			target := types.NewRef(edge.Owner, id)
			if members[target] {
				continue
			}
			live, err := entityExists(ctx, q, target)
			if err != nil {
				return nil, err
			}
			if live {
				continue
			}
			holder, err := trashHolding(ctx, q, target)
			if err != nil {
				return nil, err
			}
			if holder != "" && holder != skipTrashID {
				continue
			}
			e = e.Clone()
			e.Fields[edge.Column] = nil
			entities[i] = e
			cleared = append(cleared, types.Reference{Entity: e.Ref(), Column: edge.Column, Target: target})
		}
	}
	return cleared, nil
}

// danglingWhere selects rows of edge's owned table whose weak column points
// at an entity that is neither live nor in the trash.
func danglingWhere(edge graph.Edge) (string, error) {
	owner, err := graph.Lookup(edge.Owner)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%[1]s IS NOT NULL AND %[1]s NOT IN (SELECT id FROM %[2]s)"+
		" AND %[1]s NOT IN (SELECT entity_id FROM trash_members WHERE entity_type = ?)",
		edge.Column, owner.Table), nil
}

// clearDanglingReferences empties every weak column whose target no longer
// exists anywhere and returns how many columns were cleared. It runs after
// anything that removes entities for good.
func clearDanglingReferences(ctx context.Context, q queryer, at string) (int, error) {
	total := 0
	for _, edge := range graph.Weak() {
		n, err := graph.Lookup(edge.Owned)
		if err != nil {
			return 0, err
		}
		where, err := danglingWhere(edge)
		if err != nil {
			return 0, err
		}
		res, err := q.ExecContext(ctx,
			"UPDATE "+n.Table+" SET "+edge.Column+" = NULL, "+types.FieldUpdatedAt+" = ? WHERE "+where,
			at, string(edge.Owner))
		if err != nil {
			return 0, storeErr("clearing "+n.Table+"."+edge.Column, err)
		}
		affected, _ := res.RowsAffected()
		total += int(affected)
	}
	return total, nil
}

// danglingReferences lists the rows clearDanglingReferences would clear
// for edge.
func danglingReferences(ctx context.Context, q queryer, edge graph.Edge) ([]types.Reference, error) {
	n, err := graph.Lookup(edge.Owned)
	if err != nil {
		return nil, err
	}
	where, err := danglingWhere(edge)
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx,
		"SELECT id, "+edge.Column+" FROM "+n.Table+" WHERE "+where+" ORDER BY id", string(edge.Owner))
	if err != nil {
		return nil, storeErr("checking "+n.Table+"."+edge.Column, err)
	}
	defer rows.Close()

	var out []types.Reference
	for rows.Next() {
		var id, target string
		if err := rows.Scan(&id, &target); err != nil {
			return nil, storeErr("scanning "+n.Table, err)
		}
		out = append(out, types.Reference{
			Entity: types.NewRef(edge.Owned, id),
			Column: edge.Column,
			Target: types.NewRef(edge.Owner, target),
		})
	}
	return out, storeErr("iterating "+n.Table, rows.Err())
}
