package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/lorevault/internal/codec"
	"github.com/mesh-intelligence/lorevault/pkg/types"
)

// homedDrake gives the world's drake a home in Morrow Fen.
func homedDrake(t *testing.T, b *Backend) world {
	t.Helper()
	w := seedWorld(t, b)
	var err error
	w.drake, err = b.Update(context.Background(), w.drake.Ref(), map[string]any{"home_location_id": w.fen.ID})
	require.NoError(t, err)
	w.drake = mustEntity(t, b, w.drake.Ref())
	return w
}

func assertIntegrityOK(t *testing.T, b *Backend) {
	t.Helper()
	r, err := b.CheckIntegrity(context.Background())
	require.NoError(t, err)
	assert.True(t, r.OK(), "%+v", r)
}

func TestCreateWithReference(t *testing.T) {
	b := newTestBackend(t)
	w := seedWorld(t, b)
	ctx := context.Background()
	other := mustCreate(t, b, types.KindUniverse, map[string]any{"name": "Elsewhere"})
	port := mustCreate(t, b, types.KindLocation, map[string]any{"universe_id": other.ID, "name": "Far Port"})

	wolf := mustCreate(t, b, types.KindBestiaryEntry, map[string]any{
		"universe_id": w.universe.ID, "name": "Reed Wolf", "home_location_id": w.oldQuarter.ID,
	})
	assert.Equal(t, w.oldQuarter.ID, wolf.Text("home_location_id"))

	flood := mustCreate(t, b, types.KindEvent, map[string]any{
		"universe_id": w.universe.ID, "title": "The Flood", "year": 312, "location_id": w.fen.ID,
	})
	assert.Equal(t, w.fen.ID, flood.Text("location_id"))

	tests := []struct {
		name   string
		kind   types.Kind
		fields map[string]any
		want   error
	}{
		{"missing home", types.KindBestiaryEntry, map[string]any{"universe_id": w.universe.ID, "name": "x", "home_location_id": "nope"}, types.ErrNotFound},
		{"home in another universe", types.KindBestiaryEntry, map[string]any{"universe_id": w.universe.ID, "name": "x", "home_location_id": port.ID}, types.ErrInvalidData},
		{"home is not a location", types.KindBestiaryEntry, map[string]any{"universe_id": w.universe.ID, "name": "x", "home_location_id": w.novel.ID}, types.ErrNotFound},
		{"missing event location", types.KindEvent, map[string]any{"universe_id": w.universe.ID, "title": "x", "location_id": "nope"}, types.ErrNotFound},
		{"event location in another universe", types.KindEvent, map[string]any{"universe_id": w.universe.ID, "title": "x", "location_id": port.ID}, types.ErrInvalidData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.Create(ctx, tt.kind, tt.fields)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	// A reference does not make the location an owner.
	kids, err := b.Children(ctx, w.fen.Ref())
	require.NoError(t, err)
	assert.Empty(t, kids)
}

func TestUpdateReference(t *testing.T) {
	b := newTestBackend(t)
	w := homedDrake(t, b)
	ctx := context.Background()

	_, err := b.Update(ctx, w.drake.Ref(), map[string]any{"home_location_id": "nope"})
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = b.MoveToTrash(ctx, w.fen.Ref())
	require.NoError(t, err)

	// The reference to a trashed location stays, and unrelated fields can
	// still change.
	got, err := b.Update(ctx, w.drake.Ref(), map[string]any{"danger": 5})
	require.NoError(t, err)
	assert.Equal(t, w.fen.ID, got.Text("home_location_id"))
	assertIntegrityOK(t, b)

	// Pointing at the trashed location anew is rejected.
	_, err = b.Update(ctx, w.drake.Ref(), map[string]any{"home_location_id": w.vell.ID})
	require.NoError(t, err)
	_, err = b.Update(ctx, w.drake.Ref(), map[string]any{"home_location_id": w.fen.ID})
	assert.ErrorIs(t, err, types.ErrNotFound)

	got, err = b.Update(ctx, w.drake.Ref(), map[string]any{"home_location_id": nil})
	require.NoError(t, err)
	assert.Nil(t, got.Fields["home_location_id"])
}

func TestTrashedLocationKeepsReferences(t *testing.T) {
	b := newTestBackend(t)
	w := homedDrake(t, b)
	ctx := context.Background()

	entry, err := b.MoveToTrash(ctx, w.fen.Ref())
	require.NoError(t, err)
	assert.Equal(t, 1, entry.MemberCount, "referencing entities are not captured")
	assert.Equal(t, w.drake, mustEntity(t, b, w.drake.Ref()))
	assertIntegrityOK(t, b)

	res, err := b.Restore(ctx, entry.ID, types.RestoreOptions{})
	require.NoError(t, err)
	assert.Empty(t, res.Cleared)
	assert.Equal(t, w.fen.ID, mustEntity(t, b, w.drake.Ref()).Text("home_location_id"))
}

func TestRemovingLocationClearsReferences(t *testing.T) {
	tests := []struct {
		name   string
		remove func(ctx context.Context, b *Backend, w world) error
	}{
		{"remove trash", func(ctx context.Context, b *Backend, w world) error {
			entry, err := b.MoveToTrash(ctx, w.fen.Ref())
			if err != nil {
				return err
			}
			return b.RemoveTrash(ctx, entry.ID)
		}},
		{"purge", func(ctx context.Context, b *Backend, w world) error {
			return b.Purge(ctx, w.fen.Ref())
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBackend(t)
			w := homedDrake(t, b)
			ctx := context.Background()
			flood := mustCreate(t, b, types.KindEvent, map[string]any{
				"universe_id": w.universe.ID, "title": "The Flood", "location_id": w.fen.ID,
			})

			require.NoError(t, tt.remove(ctx, b, w))

			assert.Nil(t, mustEntity(t, b, w.drake.Ref()).Fields["home_location_id"])
			assert.Nil(t, mustEntity(t, b, flood.Ref()).Fields["location_id"])
			assertIntegrityOK(t, b)
		})
	}
}

func TestRestoreClearsReferenceToRemovedLocation(t *testing.T) {
	b := newTestBackend(t)
	w := homedDrake(t, b)
	ctx := context.Background()

	drakeEntry, err := b.MoveToTrash(ctx, w.drake.Ref())
	require.NoError(t, err)
	fenEntry, err := b.MoveToTrash(ctx, w.fen.Ref())
	require.NoError(t, err)
	require.NoError(t, b.RemoveTrash(ctx, fenEntry.ID))

	res, err := b.Restore(ctx, drakeEntry.ID, types.RestoreOptions{})
	require.NoError(t, err)
	assert.Equal(t, []types.Reference{{
		Entity: w.drake.Ref(), Column: "home_location_id", Target: w.fen.Ref(),
	}}, res.Cleared)

	got := mustEntity(t, b, w.drake.Ref())
	assert.Nil(t, got.Fields["home_location_id"])
	assert.Equal(t, "Fen Drake", got.Text("name"))
	assertIntegrityOK(t, b)

	audit, err := b.AuditLog(ctx, types.AuditFilter{Action: types.ActionTrashRestore})
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, int64(1), audit[0].Details["cleared_references"])
}

func TestRestoreKeepsReferenceToTrashedLocation(t *testing.T) {
	b := newTestBackend(t)
	w := homedDrake(t, b)
	ctx := context.Background()

	drakeEntry, err := b.MoveToTrash(ctx, w.drake.Ref())
	require.NoError(t, err)
	_, err = b.MoveToTrash(ctx, w.fen.Ref())
	require.NoError(t, err)

	res, err := b.Restore(ctx, drakeEntry.ID, types.RestoreOptions{})
	require.NoError(t, err)
	assert.Empty(t, res.Cleared)
	assert.Equal(t, w.fen.ID, mustEntity(t, b, w.drake.Ref()).Text("home_location_id"))
	assertIntegrityOK(t, b)
}

func TestRestoreUniverseKeepsInternalReferences(t *testing.T) {
	b := newTestBackend(t)
	w := homedDrake(t, b)
	ctx := context.Background()

	entry, err := b.MoveToTrash(ctx, w.universe.Ref())
	require.NoError(t, err)
	res, err := b.Restore(ctx, entry.ID, types.RestoreOptions{})
	require.NoError(t, err)
	assert.Empty(t, res.Cleared)
	assert.Equal(t, w.drake, mustEntity(t, b, w.drake.Ref()))
}

func TestSnapshotRestoreClearsReferenceToDeletedLocation(t *testing.T) {
	b := newTestBackend(t)
	w := homedDrake(t, b)
	ctx := context.Background()

	snap, err := b.CreateSnapshot(ctx, w.universe.ID, "with fen")
	require.NoError(t, err)
	res, err := b.RestoreSnapshot(ctx, snap.ID)
	require.NoError(t, err)
	assert.Empty(t, res.Cleared)
	assert.Equal(t, w.drake, mustEntity(t, b, w.drake.Ref()))

	// Drop the location from the stored copy: the creature comes back
	// without a home.
	p := dumpUniverse(t, b, w.universe.ID)
	var kept []types.Entity
	for _, e := range p.Entities {
		if e.Ref() != w.fen.Ref() {
			kept = append(kept, e)
		}
	}
	p.Entities = kept
	data, err := codec.EncodePayload(p)
	require.NoError(t, err)
	blob, err := codec.Compress(data, types.DefaultCompressionLevel)
	require.NoError(t, err)
	_, err = b.db.ExecContext(ctx, "UPDATE universe_snapshots SET payload = ? WHERE id = ?", blob, snap.ID)
	require.NoError(t, err)

	res, err = b.RestoreSnapshot(ctx, snap.ID)
	require.NoError(t, err)
	require.Len(t, res.Cleared, 1)
	assert.Equal(t, w.drake.Ref(), res.Cleared[0].Entity)
	assert.Nil(t, mustEntity(t, b, w.drake.Ref()).Fields["home_location_id"])
	assertGone(t, b, w.fen.Ref())
	assertIntegrityOK(t, b)
}

func TestCheckIntegrityFindsBrokenReferences(t *testing.T) {
	b := newTestBackend(t)
	w := homedDrake(t, b)
	ctx := context.Background()

	flood := mustCreate(t, b, types.KindEvent, map[string]any{"universe_id": w.universe.ID, "title": "The Flood"})
	_, err := b.db.ExecContext(ctx, "UPDATE bestiary_entries SET home_location_id = 'ghost' WHERE id = ?", w.drake.ID)
	require.NoError(t, err)
	_, err = b.db.ExecContext(ctx, "UPDATE timeline_events SET location_id = 'lost' WHERE id = ?", flood.ID)
	require.NoError(t, err)

	r, err := b.CheckIntegrity(ctx)
	require.NoError(t, err)
	assert.False(t, r.OK())
	assert.ElementsMatch(t, []types.Reference{
		{Entity: w.drake.Ref(), Column: "home_location_id", Target: types.NewRef(types.KindLocation, "ghost")},
		{Entity: flood.Ref(), Column: "location_id", Target: types.NewRef(types.KindLocation, "lost")},
	}, r.BrokenReferences)
	assert.Empty(t, r.OrphanBoards)
}
