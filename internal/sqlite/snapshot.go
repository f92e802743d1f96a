package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/lorevault/internal/codec"
	"github.com/mesh-intelligence/lorevault/internal/graph"
	"github.com/mesh-intelligence/lorevault/pkg/types"
)

const snapshotColumns = "id, universe_id, name, created_at, size_bytes, compressed_bytes, entity_count"

// CreateSnapshot captures universeID with its owned subtree, its
// associated boards, and every relationship touching them, then stores the
// compressed payload. An empty name defaults to the creation time.
func (b *Backend) CreateSnapshot(ctx context.Context, universeID, name string) (types.Snapshot, error) {
	ref := types.NewRef(types.KindUniverse, universeID)
	if err := ref.Validate(); err != nil {
		return types.Snapshot{}, opErr("snapshot", ref, err)
	}

	var snap types.Snapshot
	err := b.inTx(ctx, "snapshot_create", func(s *txScope) error {
		p, err := capture(ctx, s.tx, ref, true)
		if err != nil {
			return err
		}
		data, err := codec.EncodePayload(p)
		if err != nil {
			return err
		}
		blob, err := codec.Compress(data, b.config.CompressionLevel)
		if err != nil {
			return err
		}

		now := b.now().UTC()
		if name == "" {
			name = now.Format("2006-01-02 15:04:05")
		}
		snap = types.Snapshot{
			ID:              generateUUID(),
			UniverseID:      universeID,
			Name:            name,
			CreatedAt:       now,
			SizeBytes:       int64(len(data)),
			CompressedBytes: int64(len(blob)),
			EntityCount:     len(p.Entities),
		}
		if _, err := s.tx.ExecContext(ctx,
			"INSERT INTO universe_snapshots ("+snapshotColumns+", payload) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
			snap.ID, snap.UniverseID, snap.Name, formatTime(snap.CreatedAt),
			snap.SizeBytes, snap.CompressedBytes, snap.EntityCount, blob); err != nil {
			return storeErr("inserting snapshot", err)
		}

		b.audit(ctx, s, types.ActionSnapshotCreate, ref, map[string]any{
			"snapshot_id":   snap.ID,
			"name":          snap.Name,
			"entities":      snap.EntityCount,
			"relationships": len(p.Relationships),
			"size_bytes":    snap.SizeBytes,
		})
		return nil
	})
	if err != nil {
		return types.Snapshot{}, opErr("snapshot", ref, err)
	}
	b.log.Debug("snapshot created",
		zap.String("snapshot_id", snap.ID),
		zap.String("universe_id", universeID),
		zap.Int64("size_bytes", snap.SizeBytes),
		zap.Int64("compressed_bytes", snap.CompressedBytes))
	return snap, nil
}

func hydrateSnapshot(row rowScanner) (types.Snapshot, error) {
	var (
		s         types.Snapshot
		createdAt string
	)
	if err := row.Scan(&s.ID, &s.UniverseID, &s.Name, &createdAt,
		&s.SizeBytes, &s.CompressedBytes, &s.EntityCount); err != nil {
		return types.Snapshot{}, err
	}
	t, err := parseTime(createdAt)
	if err != nil {
		return types.Snapshot{}, fmt.Errorf("parsing created_at: %w", err)
	}
	s.CreatedAt = t
	return s, nil
}

// Snapshot returns one snapshot's metadata.
func (b *Backend) Snapshot(ctx context.Context, id string) (types.Snapshot, error) {
	var snap types.Snapshot
	err := b.read(func(db *sql.DB) error {
		row := db.QueryRowContext(ctx, "SELECT "+snapshotColumns+" FROM universe_snapshots WHERE id = ?", id)
		var err error
		snap, err = hydrateSnapshot(row)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: snapshot %s", types.ErrNotFound, id)
		}
		return storeErr("loading snapshot", err)
	})
	return snap, err
}

// ListSnapshots returns the snapshots of universeID, newest first. An empty
// universeID lists every snapshot.
func (b *Backend) ListSnapshots(ctx context.Context, universeID string) ([]types.Snapshot, error) {
	query := "SELECT " + snapshotColumns + " FROM universe_snapshots"
	var args []any
	if universeID != "" {
		query += " WHERE universe_id = ?"
		args = append(args, universeID)
	}
	query += " ORDER BY created_at DESC, id DESC"

	var out []types.Snapshot
	err := b.read(func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, query, args...)
		if err != nil {
			return storeErr("listing snapshots", err)
		}
		defer rows.Close()
		for rows.Next() {
			s, err := hydrateSnapshot(rows)
			if err != nil {
				return storeErr("scanning snapshot", err)
			}
			out = append(out, s)
		}
		return storeErr("iterating snapshots", rows.Err())
	})
	return out, err
}

// DeleteSnapshot removes a snapshot. The universe is not touched.
func (b *Backend) DeleteSnapshot(ctx context.Context, id string) error {
	return b.inTx(ctx, "snapshot_delete", func(s *txScope) error {
		row := s.tx.QueryRowContext(ctx, "SELECT "+snapshotColumns+" FROM universe_snapshots WHERE id = ?", id)
		snap, err := hydrateSnapshot(row)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: snapshot %s", types.ErrNotFound, id)
		}
		if err != nil {
			return storeErr("loading snapshot", err)
		}
		if _, err := s.tx.ExecContext(ctx, "DELETE FROM universe_snapshots WHERE id = ?", id); err != nil {
			return storeErr("deleting snapshot", err)
		}
		b.audit(ctx, s, types.ActionSnapshotDelete, types.NewRef(types.KindUniverse, snap.UniverseID), map[string]any{
			"snapshot_id": snap.ID,
			"name":        snap.Name,
		})
		return nil
	})
}

// RestoreSnapshot replaces the universe's current state with the snapshot.
// The live universe, its associated boards, and every relationship touching
// them are deleted outright; they do not go to the trash. The snapshot's
// entities are then reinserted with their original ids and its
// relationships reattached. The universe is recreated if it was deleted.
// The snapshot itself is kept. Trash entries are left alone, so an entry
// holding an entity the snapshot brought back will conflict on restore.
func (b *Backend) RestoreSnapshot(ctx context.Context, id string) (types.SnapshotRestoreResult, error) {
	var (
		res      types.SnapshotRestoreResult
		universe types.Ref
	)
	err := b.inTx(ctx, "snapshot_restore", func(s *txScope) error {
		var (
			universeID string
			blob       []byte
		)
		err := s.tx.QueryRowContext(ctx,
			"SELECT universe_id, payload FROM universe_snapshots WHERE id = ?", id).Scan(&universeID, &blob)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: snapshot %s", types.ErrNotFound, id)
		}
		if err != nil {
			return storeErr("loading snapshot", err)
		}
		universe = types.NewRef(types.KindUniverse, universeID)

		data, err := codec.Decompress(blob)
		if err != nil {
			return err
		}
		p, err := codec.DecodePayload(data)
		if err != nil {
			return err
		}
		if p.Root != universe {
			return fmt.Errorf("%w: snapshot %s root is %s, want %s", types.ErrSerialization, id, p.Root, universe)
		}

		removed, err := clearUniverse(ctx, s.tx, universe, b.timestamp())
		if err != nil {
			return err
		}
		if err := checkNoneLive(ctx, s.tx, p.Entities); err != nil {
			return err
		}
		cleared, err := resolveReferences(ctx, s.tx, p.Entities, "")
		if err != nil {
			return err
		}
		for _, e := range p.Entities {
			if err := insertEntity(ctx, s.tx, e); err != nil {
				return err
			}
		}
		out, err := b.reattach(ctx, s.tx, p, "")
		if err != nil {
			return err
		}

		res = types.SnapshotRestoreResult{
			SnapshotID: id,
			Universe:   universe,
			Removed:    removed,
			Restored:   len(p.Entities),
			Reattached: out.reattached,
			Skipped:    out.skipped,
			Cleared:    cleared,
		}
		details := map[string]any{
			"snapshot_id": id,
			"removed":     res.Removed,
			"restored":    res.Restored,
			"reattached":  len(res.Reattached),
			"skipped":     len(res.Skipped),
		}
		if len(cleared) > 0 {
			details["cleared_references"] = len(cleared)
		}
		b.audit(ctx, s, types.ActionSnapshotRestore, universe, details)
		return nil
	})
	if err != nil {
		return types.SnapshotRestoreResult{}, opErr("snapshot restore", universe, err)
	}
	b.log.Debug("snapshot restored",
		zap.String("snapshot_id", id),
		zap.Int("removed", res.Removed),
		zap.Int("restored", res.Restored))
	return res, nil
}

// clearUniverse deletes the live universe, the boards associated with it,
// their subtrees, and every relationship touching any of them. It returns
// the number of entities removed. The universe itself may already be gone
// while its boards are still live.
func clearUniverse(ctx context.Context, tx *sql.Tx, universe types.Ref, at string) (int, error) {
	var roots []types.Ref
	ok, err := entityExists(ctx, tx, universe)
	if err != nil {
		return 0, err
	}
	if ok {
		roots = append(roots, universe)
	}
	for _, edge := range graph.Associations(universe.Kind) {
		n, err := graph.Lookup(edge.Owned)
		if err != nil {
			return 0, err
		}
		assoc, err := selectEntities(ctx, tx, n, edge.Column+" = ?", n.Order, universe.ID)
		if err != nil {
			return 0, err
		}
		for _, e := range assoc {
			roots = append(roots, e.Ref())
		}
	}
	if len(roots) == 0 {
		return 0, nil
	}

	members := map[types.Ref]bool{}
	for _, r := range roots {
		p, err := capture(ctx, tx, r, false)
		if err != nil {
			return 0, err
		}
		for _, e := range p.Entities {
			members[e.Ref()] = true
		}
	}
	rels, err := relationshipsTouching(ctx, tx, members)
	if err != nil {
		return 0, err
	}
	if err := deleteRelationships(ctx, tx, rels); err != nil {
		return 0, err
	}
	err = withDeletionGrant(ctx, tx, "snapshot restore "+universe.ID, at, func() error {
		for _, r := range roots {
			if err := deleteEntity(ctx, tx, r); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(members), nil
}
