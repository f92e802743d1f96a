package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/lorevault/internal/codec"
	"github.com/mesh-intelligence/lorevault/internal/graph"
	"github.com/mesh-intelligence/lorevault/pkg/types"
)

const trashColumns = "id, deleted_at, target_type, target_id, parent_type, parent_id, display_name, display_info, member_count"

// MoveToTrash captures ref's subtree and deletes it in one transaction.
// The trash entry, its membership rows, the removal of every captured
// relationship, the cascading delete, and the audit entry all commit
// together or not at all.
func (b *Backend) MoveToTrash(ctx context.Context, ref types.Ref) (types.TrashEntry, error) {
	if err := ref.Validate(); err != nil {
		return types.TrashEntry{}, opErr("trash", ref, err)
	}

	var entry types.TrashEntry
	err := b.inTx(ctx, "trash_move_and_delete", func(s *txScope) error {
		p, err := capture(ctx, s.tx, ref, false)
		if err != nil {
			return err
		}
		root, _ := p.RootEntity()
		n, err := graph.Lookup(ref.Kind)
		if err != nil {
			return err
		}
		_, parent := graph.OwnerOf(root)

		entry = types.TrashEntry{
			ID:          generateUUID(),
			DeletedAt:   b.now().UTC(),
			Target:      ref,
			Parent:      parent,
			DisplayName: root.Text(n.Label),
			DisplayInfo: describe(p),
			MemberCount: len(p.Entities),
		}
		if err := insertTrashEntry(ctx, s.tx, entry, p); err != nil {
			return err
		}
		if err := deleteRelationships(ctx, s.tx, p.Relationships); err != nil {
			return err
		}
		if err := withDeletionGrant(ctx, s.tx, "trash "+entry.ID, b.timestamp(), func() error {
			return deleteEntity(ctx, s.tx, ref)
		}); err != nil {
			return err
		}

		b.audit(ctx, s, types.ActionTrashMoveAndDelete, ref, map[string]any{
			"trash_id":      entry.ID,
			"display_name":  entry.DisplayName,
			"members":       len(p.Entities),
			"relationships": len(p.Relationships),
		})
		return nil
	})
	if err != nil {
		return types.TrashEntry{}, opErr("trash", ref, err)
	}
	b.log.Debug("moved to trash", zap.String("ref", ref.String()), zap.String("trash_id", entry.ID))
	return entry, nil
}

func insertTrashEntry(ctx context.Context, tx *sql.Tx, e types.TrashEntry, p *types.Payload) error {
	data, err := codec.EncodePayload(p)
	if err != nil {
		return err
	}
	var parentType, parentID any
	if e.Parent != nil {
		parentType, parentID = string(e.Parent.Kind), e.Parent.ID
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO trash_entries ("+trashColumns+", payload_json) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		e.ID, formatTime(e.DeletedAt), string(e.Target.Kind), e.Target.ID, parentType, parentID,
		e.DisplayName, e.DisplayInfo, e.MemberCount, string(data)); err != nil {
		return storeErr("inserting trash entry", err)
	}
	for _, m := range memberRefs(p) {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO trash_members (trash_id, entity_type, entity_id) VALUES (?, ?, ?)",
			e.ID, string(m.Kind), m.ID); err != nil {
			return storeErr("inserting trash member", err)
		}
	}
	return nil
}

func hydrateTrashEntry(row rowScanner) (types.TrashEntry, error) {
	var (
		e                    types.TrashEntry
		deletedAt            string
		targetType           string
		parentType, parentID sql.NullString
	)
	if err := row.Scan(&e.ID, &deletedAt, &targetType, &e.Target.ID, &parentType, &parentID,
		&e.DisplayName, &e.DisplayInfo, &e.MemberCount); err != nil {
		return types.TrashEntry{}, err
	}
	e.Target.Kind = types.Kind(targetType)
	if parentType.Valid && parentID.Valid {
		p := types.NewRef(types.Kind(parentType.String), parentID.String)
		e.Parent = &p
	}
	t, err := parseTime(deletedAt)
	if err != nil {
		return types.TrashEntry{}, fmt.Errorf("parsing deleted_at: %w", err)
	}
	e.DeletedAt = t
	return e, nil
}

// withExtra appends more scan targets after the ones a hydrate helper uses.
type withExtra struct {
	row   rowScanner
	extra []any
}

func (w withExtra) Scan(dest ...any) error {
	return w.row.Scan(append(dest, w.extra...)...)
}

// loadTrashEntry reads one entry and decodes its payload. On a decode
// failure the entry is still returned with the ErrSerialization error.
func loadTrashEntry(ctx context.Context, q queryer, id string) (types.TrashEntry, error) {
	var payload string
	row := q.QueryRowContext(ctx, "SELECT "+trashColumns+", payload_json FROM trash_entries WHERE id = ?", id)
	e, err := hydrateTrashEntry(withExtra{row: row, extra: []any{&payload}})
	if err == sql.ErrNoRows {
		return types.TrashEntry{}, fmt.Errorf("%w: trash entry %s", types.ErrNotFound, id)
	}
	if err != nil {
		return types.TrashEntry{}, storeErr("loading trash entry", err)
	}
	p, err := codec.DecodePayload([]byte(payload))
	if err != nil {
		return e, fmt.Errorf("trash entry %s: %w", id, err)
	}
	e.Payload = p
	return e, nil
}

// saveTrashPayload rewrites an entry's payload after edges are handed to it.
func saveTrashPayload(ctx context.Context, tx *sql.Tx, id string, p *types.Payload) error {
	data, err := codec.EncodePayload(p)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "UPDATE trash_entries SET payload_json = ? WHERE id = ?", string(data), id); err != nil {
		return storeErr("updating trash payload", err)
	}
	return nil
}

// trashHolding returns the id of the trash entry containing ref, or "".
func trashHolding(ctx context.Context, q queryer, ref types.Ref) (string, error) {
	var id string
	err := q.QueryRowContext(ctx,
		"SELECT m.trash_id FROM trash_members m JOIN trash_entries t ON t.id = m.trash_id"+
			" WHERE m.entity_type = ? AND m.entity_id = ? ORDER BY t.deleted_at DESC LIMIT 1",
		string(ref.Kind), ref.ID).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", storeErr("looking up trash membership", err)
	}
	return id, nil
}

// TrashEntry returns one entry with its decoded payload.
func (b *Backend) TrashEntry(ctx context.Context, id string) (types.TrashEntry, error) {
	var e types.TrashEntry
	err := b.read(func(db *sql.DB) error {
		var err error
		e, err = loadTrashEntry(ctx, db, id)
		return err
	})
	return e, err
}

// ListTrash returns entries matching filter, newest first, without payloads.
func (b *Backend) ListTrash(ctx context.Context, filter types.TrashFilter) ([]types.TrashEntry, error) {
	var (
		where []string
		args  []any
	)
	if filter.Kind != "" {
		where = append(where, "target_type = ?")
		args = append(args, string(filter.Kind))
	}
	if filter.ParentID != "" {
		where = append(where, "parent_id = ?")
		args = append(args, filter.ParentID)
	}
	query := "SELECT " + trashColumns + " FROM trash_entries"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY deleted_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	var out []types.TrashEntry
	err := b.read(func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, query, args...)
		if err != nil {
			return storeErr("listing trash", err)
		}
		defer rows.Close()
		for rows.Next() {
			e, err := hydrateTrashEntry(rows)
			if err != nil {
				return storeErr("scanning trash entry", err)
			}
			out = append(out, e)
		}
		return storeErr("iterating trash", rows.Err())
	})
	return out, err
}

// RemoveTrash permanently deletes one entry. Relationships held only in its
// payload are gone for good. Board associations and location references
// still pointing at its members are cleared.
func (b *Backend) RemoveTrash(ctx context.Context, id string) error {
	return b.inTx(ctx, "trash_permanent_delete", func(s *txScope) error {
		row := s.tx.QueryRowContext(ctx, "SELECT "+trashColumns+" FROM trash_entries WHERE id = ?", id)
		e, err := hydrateTrashEntry(row)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: trash entry %s", types.ErrNotFound, id)
		}
		if err != nil {
			return storeErr("loading trash entry", err)
		}
		if _, err := s.tx.ExecContext(ctx, "DELETE FROM trash_entries WHERE id = ?", id); err != nil {
			return storeErr("deleting trash entry", err)
		}
		cleared, err := clearDanglingReferences(ctx, s.tx, b.timestamp())
		if err != nil {
			return err
		}
		b.audit(ctx, s, types.ActionTrashPermanentDelete, e.Target, map[string]any{
			"trash_id":           e.ID,
			"display_name":       e.DisplayName,
			"cleared_references": cleared,
		})
		return nil
	})
}

// EmptyTrash permanently deletes every entry and returns how many there were.
func (b *Backend) EmptyTrash(ctx context.Context) (int, error) {
	var n int
	err := b.inTx(ctx, "trash_empty", func(s *txScope) error {
		res, err := s.tx.ExecContext(ctx, "DELETE FROM trash_entries")
		if err != nil {
			return storeErr("emptying trash", err)
		}
		affected, _ := res.RowsAffected()
		n = int(affected)
		cleared, err := clearDanglingReferences(ctx, s.tx, b.timestamp())
		if err != nil {
			return err
		}
		b.audit(ctx, s, types.ActionTrashEmpty, types.Ref{}, map[string]any{
			"removed":            n,
			"cleared_references": cleared,
		})
		return nil
	})
	return n, err
}

// PruneTrash permanently deletes entries older than the policy's cutoff.
// Nothing is audited when nothing expired.
func (b *Backend) PruneTrash(ctx context.Context, policy types.RetentionPolicy) (int, error) {
	cutoff := policy.Cutoff(b.now()).UTC()
	var n int
	err := b.inTx(ctx, "trash_cleanup", func(s *txScope) error {
		res, err := s.tx.ExecContext(ctx, "DELETE FROM trash_entries WHERE deleted_at < ?", formatTime(cutoff))
		if err != nil {
			return storeErr("pruning trash", err)
		}
		affected, _ := res.RowsAffected()
		n = int(affected)
		if n > 0 {
			cleared, err := clearDanglingReferences(ctx, s.tx, b.timestamp())
			if err != nil {
				return err
			}
			b.audit(ctx, s, types.ActionTrashCleanup, types.Ref{}, map[string]any{
				"removed":            n,
				"cutoff":             cutoff.Format(time.RFC3339),
				"cleared_references": cleared,
			})
		}
		return nil
	})
	return n, err
}
