package sqlite

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/lorevault/pkg/types"
)

func TestMoveToTrashCapturesSubtree(t *testing.T) {
	b := newTestBackend(t)
	w := seedWorld(t, b)
	ctx := context.Background()

	entry, err := b.MoveToTrash(ctx, w.c1.Ref())
	require.NoError(t, err)

	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, w.c1.Ref(), entry.Target)
	require.NotNil(t, entry.Parent)
	assert.Equal(t, w.novel.Ref(), *entry.Parent)
	assert.Equal(t, "Landfall", entry.DisplayName)
	assert.Equal(t, "chapter with 2 scenes", entry.DisplayInfo)
	assert.Equal(t, 3, entry.MemberCount)

	assertGone(t, b, w.c1.Ref())
	assertGone(t, b, w.s1.Ref())
	assertGone(t, b, w.s2.Ref())
	mustEntity(t, b, w.c2.Ref())
	mustEntity(t, b, w.s3.Ref())

	got, err := b.TrashEntry(ctx, entry.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Payload)
	p := got.Payload
	require.Len(t, p.Entities, 3)
	assert.Equal(t, w.c1, p.Entities[0])
	assert.Equal(t, w.s1, p.Entities[1])
	assert.Equal(t, w.s2, p.Entities[2])
	assert.Equal(t, w.c1.Ref(), p.Root)
}

func TestMoveToTrashNotFound(t *testing.T) {
	b := newTestBackend(t)
	_, err := b.MoveToTrash(context.Background(), types.NewRef(types.KindChapter, "missing"))
	assert.ErrorIs(t, err, types.ErrNotFound)

	var oe *types.OpError
	require.True(t, errors.As(err, &oe))
	assert.Equal(t, "trash", oe.Op)
	assert.Equal(t, types.NewRef(types.KindChapter, "missing"), oe.Ref)
}

func TestMoveToTrashUniverseCapturesNestedLocations(t *testing.T) {
	b := newTestBackend(t)
	w := seedWorld(t, b)

	entry, err := b.MoveToTrash(context.Background(), w.universe.Ref())
	require.NoError(t, err)
	assert.Nil(t, entry.Parent)
	assert.Equal(t, 11, entry.MemberCount)
	assert.Equal(t,
		"universe with 3 locations, 1 bestiary entry, 1 novel, 2 chapters, 3 scenes",
		entry.DisplayInfo)
	assertGone(t, b, w.oldQuarter.Ref())
	assertGone(t, b, w.s3.Ref())
}

func TestMoveToTrashLeavesAssociatedBoards(t *testing.T) {
	b := newTestBackend(t)
	w := seedWorld(t, b)
	board := mustCreate(t, b, types.KindBoard, map[string]any{"name": "Plot", "universe_id": w.universe.ID})

	entry, err := b.MoveToTrash(context.Background(), w.universe.Ref())
	require.NoError(t, err)
	assert.Equal(t, 11, entry.MemberCount)
	mustEntity(t, b, board.Ref())
}

func TestMoveToTrashIsAtomic(t *testing.T) {
	b := newTestBackend(t)
	w := seedWorld(t, b)
	ctx := context.Background()

	b.beforeCommit = func(op string) error {
		if op == "trash_move_and_delete" {
			return errors.New("simulated crash")
		}
		return nil
	}
	_, err := b.MoveToTrash(ctx, w.c1.Ref())
	require.Error(t, err)
	b.beforeCommit = nil

	assert.Equal(t, w.c1, mustEntity(t, b, w.c1.Ref()))
	mustEntity(t, b, w.s1.Ref())

	entries, err := b.ListTrash(ctx, types.TrashFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)

	audit, err := b.AuditLog(ctx, types.AuditFilter{Action: types.ActionTrashMoveAndDelete})
	require.NoError(t, err)
	assert.Empty(t, audit)
}

func TestMoveToTrashCancelled(t *testing.T) {
	b := newTestBackend(t)
	w := seedWorld(t, b)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.MoveToTrash(ctx, w.c1.Ref())
	require.Error(t, err)

	mustEntity(t, b, w.c1.Ref())
	mustEntity(t, b, w.s2.Ref())
}

func TestRawDeleteIsBlocked(t *testing.T) {
	b := newTestBackend(t)
	w := seedWorld(t, b)
	ctx := context.Background()

	for _, ref := range []types.Ref{w.s1.Ref(), w.c1.Ref(), w.universe.Ref()} {
		n := mustLookup(t, ref.Kind)
		_, err := b.db.ExecContext(ctx, "DELETE FROM "+n.Table+" WHERE id = ?", ref.ID)
		require.Error(t, err, "deleting %s", ref)
		assert.Contains(t, err.Error(), "requires a deletion grant")
		mustEntity(t, b, ref)
	}

	var grants int
	require.NoError(t, b.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM deletion_grants").Scan(&grants))
	assert.Zero(t, grants)
}

func TestListTrash(t *testing.T) {
	b := newTestBackend(t)
	w := seedWorld(t, b)
	ctx := context.Background()

	e1, err := b.MoveToTrash(ctx, w.s3.Ref())
	require.NoError(t, err)
	e2, err := b.MoveToTrash(ctx, w.c1.Ref())
	require.NoError(t, err)
	e3, err := b.MoveToTrash(ctx, w.drake.Ref())
	require.NoError(t, err)

	tests := []struct {
		name   string
		filter types.TrashFilter
		want   []string
	}{
		{"all newest first", types.TrashFilter{}, []string{e3.ID, e2.ID, e1.ID}},
		{"by kind", types.TrashFilter{Kind: types.KindChapter}, []string{e2.ID}},
		{"by parent", types.TrashFilter{ParentID: w.c2.ID}, []string{e1.ID}},
		{"by universe parent", types.TrashFilter{ParentID: w.universe.ID}, []string{e3.ID}},
		{"limit", types.TrashFilter{Limit: 2}, []string{e3.ID, e2.ID}},
		{"no match", types.TrashFilter{Kind: types.KindCard}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := b.ListTrash(ctx, tt.filter)
			require.NoError(t, err)
			var ids []string
			for _, e := range entries {
				assert.Nil(t, e.Payload, "listings carry no payload")
				ids = append(ids, e.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestRemoveTrash(t *testing.T) {
	b := newTestBackend(t)
	w := seedWorld(t, b)
	ctx := context.Background()

	entry, err := b.MoveToTrash(ctx, w.c1.Ref())
	require.NoError(t, err)
	require.NoError(t, b.RemoveTrash(ctx, entry.ID))

	_, err = b.TrashEntry(ctx, entry.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.ErrorIs(t, b.RemoveTrash(ctx, entry.ID), types.ErrNotFound)

	var members int
	require.NoError(t, b.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM trash_members").Scan(&members))
	assert.Zero(t, members)

	audit, err := b.AuditLog(ctx, types.AuditFilter{Action: types.ActionTrashPermanentDelete})
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, w.c1.ID, audit[0].EntityID)
	assert.Equal(t, entry.ID, audit[0].Details["trash_id"])
}

func TestEmptyTrash(t *testing.T) {
	b := newTestBackend(t)
	w := seedWorld(t, b)
	ctx := context.Background()

	for _, ref := range []types.Ref{w.c1.Ref(), w.drake.Ref()} {
		_, err := b.MoveToTrash(ctx, ref)
		require.NoError(t, err)
	}
	n, err := b.EmptyTrash(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	entries, err := b.ListTrash(ctx, types.TrashFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)

	audit, err := b.AuditLog(ctx, types.AuditFilter{Action: types.ActionTrashEmpty})
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, int64(2), audit[0].Details["removed"])
}

func TestPruneTrash(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	b := newTestBackend(t, WithClock(func() time.Time { return now }))
	w := seedWorld(t, b)
	ctx := context.Background()

	old, err := b.MoveToTrash(ctx, w.c1.Ref())
	require.NoError(t, err)
	now = now.Add(10 * 24 * time.Hour)
	recent, err := b.MoveToTrash(ctx, w.drake.Ref())
	require.NoError(t, err)
	now = now.Add(5 * 24 * time.Hour)

	n, err := b.PruneTrash(ctx, types.Days(14))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = b.TrashEntry(ctx, old.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = b.TrashEntry(ctx, recent.ID)
	assert.NoError(t, err)

	// Nothing left to expire: no audit entry for an empty prune.
	n, err = b.PruneTrash(ctx, types.Days(14))
	require.NoError(t, err)
	assert.Zero(t, n)
	audit, err := b.AuditLog(ctx, types.AuditFilter{Action: types.ActionTrashCleanup})
	require.NoError(t, err)
	assert.Len(t, audit, 1)
}

func TestTrashHolding(t *testing.T) {
	b := newTestBackend(t)
	w := seedWorld(t, b)
	ctx := context.Background()

	entry, err := b.MoveToTrash(ctx, w.c1.Ref())
	require.NoError(t, err)

	id, err := trashHolding(ctx, b.db, w.s2.Ref())
	require.NoError(t, err)
	assert.Equal(t, entry.ID, id)

	id, err = trashHolding(ctx, b.db, w.s3.Ref())
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestTrashEntryCorruptPayload(t *testing.T) {
	b := newTestBackend(t)
	w := seedWorld(t, b)
	ctx := context.Background()

	entry, err := b.MoveToTrash(ctx, w.c1.Ref())
	require.NoError(t, err)
	_, err = b.db.ExecContext(ctx, "UPDATE trash_entries SET payload_json = '{not json' WHERE id = ?", entry.ID)
	require.NoError(t, err)

	_, err = b.TrashEntry(ctx, entry.ID)
	assert.ErrorIs(t, err, types.ErrSerialization)

	_, err = b.Restore(ctx, entry.ID, types.RestoreOptions{})
	assert.ErrorIs(t, err, types.ErrSerialization)
	assertGone(t, b, w.c1.Ref())

	// A failed restore leaves the entry in place.
	entries, err := b.ListTrash(ctx, types.TrashFilter{})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestPermanentRemovalClearsBoardAssociation(t *testing.T) {
	tests := []struct {
		name   string
		remove func(ctx context.Context, b *Backend, entryID string, advance func()) error
	}{
		{"remove", func(ctx context.Context, b *Backend, id string, _ func()) error {
			return b.RemoveTrash(ctx, id)
		}},
		{"empty", func(ctx context.Context, b *Backend, _ string, _ func()) error {
			_, err := b.EmptyTrash(ctx)
			return err
		}},
		{"prune", func(ctx context.Context, b *Backend, _ string, advance func()) error {
			advance()
			n, err := b.PruneTrash(ctx, types.Days(14))
			if err == nil && n != 1 {
				err = fmt.Errorf("pruned %d entries, want 1", n)
			}
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
			b := newTestBackend(t, WithClock(func() time.Time { return now }))
			w := seedWorld(t, b)
			ctx := context.Background()
			board := mustCreate(t, b, types.KindBoard, map[string]any{"name": "Plot", "universe_id": w.universe.ID})
			loose := mustCreate(t, b, types.KindBoard, map[string]any{"name": "Sprint"})

			entry, err := b.MoveToTrash(ctx, w.universe.Ref())
			require.NoError(t, err)
			require.NoError(t, tt.remove(ctx, b, entry.ID, func() { now = now.Add(15 * 24 * time.Hour) }))

			got := mustEntity(t, b, board.Ref())
			assert.Nil(t, got.Fields["universe_id"])
			assert.Equal(t, "Plot", got.Text("name"))
			assert.Equal(t, loose, mustEntity(t, b, loose.Ref()))

			r, err := b.CheckIntegrity(ctx)
			require.NoError(t, err)
			assert.True(t, r.OK(), "%+v", r)
			assert.Empty(t, r.OrphanBoards)
		})
	}
}

func TestRemoveTrashKeepsBoardsOfTrashedUniverse(t *testing.T) {
	b := newTestBackend(t)
	w := seedWorld(t, b)
	ctx := context.Background()
	board := mustCreate(t, b, types.KindBoard, map[string]any{"name": "Plot", "universe_id": w.universe.ID})

	_, err := b.MoveToTrash(ctx, w.universe.Ref())
	require.NoError(t, err)
	other := mustCreate(t, b, types.KindUniverse, map[string]any{"name": "Elsewhere"})
	novel := mustCreate(t, b, types.KindNovel, map[string]any{"universe_id": other.ID, "title": "Drafts"})
	entry, err := b.MoveToTrash(ctx, novel.Ref())
	require.NoError(t, err)

	// Removing an unrelated entry leaves the association to a universe
	// that can still be restored.
	require.NoError(t, b.RemoveTrash(ctx, entry.ID))
	assert.Equal(t, w.universe.ID, mustEntity(t, b, board.Ref()).Text("universe_id"))

	audit, err := b.AuditLog(ctx, types.AuditFilter{Action: types.ActionTrashPermanentDelete})
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, int64(0), audit[0].Details["cleared_references"])
}
