package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/lorevault/internal/graph"
	"github.com/mesh-intelligence/lorevault/pkg/types"
)

// Restore reinserts a trash entry's subtree with its original ids and
// reattaches its relationships, then removes the entry. It fails with
// ErrNotFound when the entry is gone (including when a concurrent restore
// won), ErrOrphanParent when the recorded owner no longer exists, and
// ErrConflict when any captured id is live again. Nothing is overwritten.
// A reference column whose target no longer exists anywhere is restored
// empty and reported in the result.
func (b *Backend) Restore(ctx context.Context, id string, opts types.RestoreOptions) (types.RestoreResult, error) {
	if err := opts.Validate(); err != nil {
		return types.RestoreResult{}, err
	}

	var (
		res    types.RestoreResult
		target types.Ref
	)
	err := b.inTx(ctx, "trash_restore", func(s *txScope) error {
		opts = opts.WithDefaults(b.config.Restore)

		entry, err := loadTrashEntry(ctx, s.tx, id)
		if err != nil {
			return err
		}
		target = entry.Target
		p := entry.Payload

		if entry.Parent != nil {
			ok, err := entityExists(ctx, s.tx, *entry.Parent)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: %s", types.ErrOrphanParent, *entry.Parent)
			}
		}
		if err := checkNoneLive(ctx, s.tx, p.Entities); err != nil {
			return err
		}

		root := p.Entities[0].Clone()
		n, err := graph.Lookup(root.Kind)
		if err != nil {
			return err
		}
		if n.Position != "" {
			pos, err := placeRoot(ctx, s.tx, n, &root, opts.Position)
			if err != nil {
				return err
			}
			res.Position = &pos
		}
		if res.Renamed, err = nameRoot(ctx, s.tx, n, &root, opts.Name); err != nil {
			return err
		}

		entities := append([]types.Entity{root}, p.Entities[1:]...)
		if res.Cleared, err = resolveReferences(ctx, s.tx, entities, entry.ID); err != nil {
			return err
		}
		for _, e := range entities {
			if err := insertEntity(ctx, s.tx, e); err != nil {
				return err
			}
			res.Restored = append(res.Restored, e.Ref())
		}

		out, err := b.reattach(ctx, s.tx, p, entry.ID)
		if err != nil {
			return err
		}
		res.TrashID = entry.ID
		res.Root = entry.Target
		res.Reattached = out.reattached
		res.Skipped = out.skipped
		res.RecreatedTypes = out.recreated

		if _, err := s.tx.ExecContext(ctx, "DELETE FROM trash_entries WHERE id = ?", entry.ID); err != nil {
			return storeErr("deleting trash entry", err)
		}

		details := map[string]any{
			"trash_id":   entry.ID,
			"restored":   len(res.Restored),
			"reattached": len(res.Reattached),
			"skipped":    len(res.Skipped),
		}
		if len(res.Cleared) > 0 {
			details["cleared_references"] = len(res.Cleared)
		}
		if res.Renamed != "" {
			details["renamed"] = res.Renamed
		}
		b.audit(ctx, s, types.ActionTrashRestore, entry.Target, details)
		return nil
	})
	if err != nil {
		return types.RestoreResult{}, opErr("restore", target, err)
	}
	b.log.Debug("restored from trash",
		zap.String("trash_id", id),
		zap.String("ref", target.String()),
		zap.Int("skipped_relationships", len(res.Skipped)))
	return res, nil
}

// checkNoneLive fails with ErrConflict if any entity is live.
func checkNoneLive(ctx context.Context, q queryer, entities []types.Entity) error {
	for _, e := range entities {
		ok, err := entityExists(ctx, q, e.Ref())
		if err != nil {
			return err
		}
		if ok {
			return fmt.Errorf("%w: %s is live", types.ErrConflict, e.Ref())
		}
	}
	return nil
}

// siblingQuery scopes query to root's live siblings and appends cond.
func siblingQuery(n graph.Node, root types.Entity, head, cond string, condArgs ...any) (string, []any) {
	where, args := siblingScope(root)
	query := head + " FROM " + n.Table + " WHERE "
	if where != "" {
		query += where + " AND "
	}
	return query + cond, append(args, condArgs...)
}

// placeRoot applies the position policy to root and returns its final
// position.
func placeRoot(ctx context.Context, tx *sql.Tx, n graph.Node, root *types.Entity, policy types.PositionPolicy) (int64, error) {
	if policy == types.PositionAppend {
		next, err := nextPosition(ctx, tx, n, *root)
		if err != nil {
			return 0, err
		}
		root.Fields[n.Position] = next
		return next, nil
	}

	stored, _ := root.Int(n.Position)
	query, args := siblingQuery(n, *root, "SELECT COUNT(*)", n.Position+" = ?", stored)
	var taken int
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&taken); err != nil {
		return 0, storeErr("checking position", err)
	}
	if taken == 0 {
		return stored, nil
	}
	if policy == types.PositionFail {
		return 0, fmt.Errorf("%w: %s position %d is taken", types.ErrConflict, root.Kind, stored)
	}

	where, wargs := siblingScope(*root)
	update := "UPDATE " + n.Table + " SET " + n.Position + " = " + n.Position + " + 1 WHERE "
	if where != "" {
		update += where + " AND "
	}
	update += n.Position + " >= ?"
	if _, err := tx.ExecContext(ctx, update, append(wargs, stored)...); err != nil {
		return 0, storeErr("shifting siblings", err)
	}
	return stored, nil
}

// nameRoot applies the name policy to root. It returns the new label when
// the root was renamed.
func nameRoot(ctx context.Context, tx *sql.Tx, n graph.Node, root *types.Entity, policy types.NamePolicy) (string, error) {
	if policy == types.NameKeep {
		return "", nil
	}
	taken := func(label string) (bool, error) {
		query, args := siblingQuery(n, *root, "SELECT COUNT(*)", n.Label+" = ?", label)
		var c int
		if err := tx.QueryRowContext(ctx, query, args...).Scan(&c); err != nil {
			return false, storeErr("checking name", err)
		}
		return c > 0, nil
	}

	label := root.Text(n.Label)
	clash, err := taken(label)
	if err != nil || !clash {
		return "", err
	}
	if policy == types.NameFail {
		return "", fmt.Errorf("%w: a sibling %s is already named %q", types.ErrConflict, root.Kind.Noun(), label)
	}
	for i := 1; ; i++ {
		candidate := label + " (restored)"
		if i > 1 {
			candidate = fmt.Sprintf("%s (restored %d)", label, i)
		}
		clash, err := taken(candidate)
		if err != nil {
			return "", err
		}
		if !clash {
			root.Fields[n.Label] = candidate
			return candidate, nil
		}
	}
}

type reattachOutcome struct {
	reattached []types.Relationship
	skipped    []types.SkippedRelationship
	recreated  []types.RelationshipType
}

// reattach recreates the payload's relationships after its entities are
// back. Missing relationship types are recreated, or mapped by name onto a
// live type. An edge whose outside endpoint is gone is skipped; one whose
// outside endpoint sits in another trash entry is handed to that entry.
// owningTrashID names the entry being restored, if any.
func (b *Backend) reattach(ctx context.Context, tx *sql.Tx, p *types.Payload, owningTrashID string) (reattachOutcome, error) {
	var out reattachOutcome

	typeIDs := make(map[string]types.RelationshipType, len(p.RelationshipTypes))
	for _, rt := range p.RelationshipTypes {
		live, err := getRelationshipType(ctx, tx, "id = ?", rt.ID)
		if errors.Is(err, types.ErrNotFound) {
			live, err = getRelationshipType(ctx, tx, "name = ?", rt.Name)
		}
		switch {
		case err == nil:
			typeIDs[rt.ID] = live
		case errors.Is(err, types.ErrNotFound):
			if err := insertRelationshipType(ctx, tx, rt); err != nil {
				return out, err
			}
			typeIDs[rt.ID] = rt
			out.recreated = append(out.recreated, rt)
		default:
			return out, err
		}
	}

	members := p.Members()
	for _, rel := range p.Relationships {
		rt, ok := typeIDs[rel.TypeID]
		if !ok {
			out.skipped = append(out.skipped, types.SkippedRelationship{Relationship: rel, Reason: types.SkipMissingEndpoint})
			continue
		}
		live, err := relationshipExists(ctx, tx, rel.ID)
		if err != nil {
			return out, err
		}
		if live {
			out.skipped = append(out.skipped, types.SkippedRelationship{Relationship: rel, Reason: types.SkipDuplicate})
			continue
		}

		missing := false
		holder := ""
		for _, end := range []types.Ref{rel.From, rel.To} {
			if members[end] {
				continue
			}
			ok, err := entityExists(ctx, tx, end)
			if err != nil {
				return out, err
			}
			if ok {
				continue
			}
			h, err := trashHolding(ctx, tx, end)
			if err != nil {
				return out, err
			}
			if h == "" || h == owningTrashID {
				missing = true
				break
			}
			holder = h
		}
		if missing {
			out.skipped = append(out.skipped, types.SkippedRelationship{Relationship: rel, Reason: types.SkipMissingEndpoint})
			continue
		}
		if holder != "" {
			if err := b.handOff(ctx, tx, holder, rel, rt); err != nil {
				b.log.Warn("could not hand relationship to trash entry",
					zap.String("relationship_id", rel.ID), zap.String("trash_id", holder), zap.Error(err))
				out.skipped = append(out.skipped, types.SkippedRelationship{Relationship: rel, Reason: types.SkipMissingEndpoint})
				continue
			}
			out.skipped = append(out.skipped, types.SkippedRelationship{Relationship: rel, Reason: types.SkipDeferred, TrashID: holder})
			continue
		}

		rel.TypeID = rt.ID
		rel = canonical(rel, rt.Directed)
		dup, err := duplicateRelationship(ctx, tx, rel)
		if err != nil {
			return out, err
		}
		if dup != "" {
			out.skipped = append(out.skipped, types.SkippedRelationship{Relationship: rel, Reason: types.SkipDuplicate})
			continue
		}
		if err := insertRelationship(ctx, tx, rel); err != nil {
			return out, err
		}
		out.reattached = append(out.reattached, rel)
	}
	return out, nil
}

// handOff appends rel to the payload of trash entry id so that restoring
// that entry reattaches it.
func (b *Backend) handOff(ctx context.Context, tx *sql.Tx, id string, rel types.Relationship, rt types.RelationshipType) error {
	entry, err := loadTrashEntry(ctx, tx, id)
	if err != nil {
		return err
	}
	rel.TypeID = rt.ID
	entry.Payload.AddRelationship(rel, rt)
	return saveTrashPayload(ctx, tx, id, entry.Payload)
}
