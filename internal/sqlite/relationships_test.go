package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/lorevault/pkg/types"
)

func TestCreateRelationshipType(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	rt, err := b.CreateRelationshipType(ctx, "  ally of ", "fights alongside", false)
	require.NoError(t, err)
	assert.Equal(t, "ally of", rt.Name)
	assert.False(t, rt.Directed)

	_, err = b.CreateRelationshipType(ctx, "ally of", "", true)
	assert.ErrorIs(t, err, types.ErrConflict)
	_, err = b.CreateRelationshipType(ctx, " ", "", true)
	assert.ErrorIs(t, err, types.ErrInvalidData)

	_, err = b.CreateRelationshipType(ctx, "located in", "", true)
	require.NoError(t, err)

	all, err := b.RelationshipTypes(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "ally of", all[0].Name)
	assert.Equal(t, "located in", all[1].Name)

	got, err := b.RelationshipTypeByName(ctx, "ally of")
	require.NoError(t, err)
	assert.Equal(t, rt, got)
	_, err = b.RelationshipTypeByName(ctx, "enemy of")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestLinkErrors(t *testing.T) {
	b := newTestBackend(t)
	w := seedWorld(t, b)
	ctx := context.Background()
	rt, err := b.CreateRelationshipType(ctx, "located in", "", true)
	require.NoError(t, err)

	tests := []struct {
		name     string
		typeID   string
		from, to types.Ref
		want     error
	}{
		{"self link", rt.ID, w.vell.Ref(), w.vell.Ref(), types.ErrSelfLink},
		{"missing from", rt.ID, types.NewRef(types.KindLocation, "nope"), w.vell.Ref(), types.ErrNotFound},
		{"missing to", rt.ID, w.drake.Ref(), types.NewRef(types.KindLocation, "nope"), types.ErrNotFound},
		{"unknown type", "no-such-type", w.drake.Ref(), w.vell.Ref(), types.ErrNotFound},
		{"bad kind", rt.ID, types.NewRef("ship", "x"), w.vell.Ref(), types.ErrInvalidKind},
		{"empty id", rt.ID, types.NewRef(types.KindLocation, ""), w.vell.Ref(), types.ErrInvalidID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.Link(ctx, tt.typeID, tt.from, tt.to, "")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestLinkDirected(t *testing.T) {
	b := newTestBackend(t)
	w := seedWorld(t, b)
	ctx := context.Background()
	rt, err := b.CreateRelationshipType(ctx, "located in", "", true)
	require.NoError(t, err)

	rel, err := b.Link(ctx, rt.ID, w.drake.Ref(), w.fen.Ref(), "")
	require.NoError(t, err)
	assert.Equal(t, w.drake.Ref(), rel.From)
	assert.Equal(t, w.fen.Ref(), rel.To)

	_, err = b.Link(ctx, rt.ID, w.drake.Ref(), w.fen.Ref(), "again")
	assert.ErrorIs(t, err, types.ErrConflict)

	// The reverse direction is a different edge.
	_, err = b.Link(ctx, rt.ID, w.fen.Ref(), w.drake.Ref(), "")
	assert.NoError(t, err)

	edges, err := b.Relationships(ctx, w.drake.Ref())
	require.NoError(t, err)
	require.Len(t, edges, 2)
	assert.Equal(t, types.DirectionOutgoing, edges[0].Direction)
	assert.Equal(t, types.DirectionIncoming, edges[1].Direction)
	for _, e := range edges {
		assert.Equal(t, w.fen.Ref(), e.Other)
		assert.Equal(t, rt, e.Type)
	}
}

func TestLinkUndirectedIsSymmetric(t *testing.T) {
	b := newTestBackend(t)
	w := seedWorld(t, b)
	ctx := context.Background()
	rt, err := b.CreateRelationshipType(ctx, "ally of", "", false)
	require.NoError(t, err)

	rel, err := b.Link(ctx, rt.ID, w.fen.Ref(), w.vell.Ref(), "old friends")
	require.NoError(t, err)
	assert.True(t, rel.From.Less(rel.To) || rel.From == rel.To, "endpoints are stored in canonical order")

	_, err = b.Link(ctx, rt.ID, w.vell.Ref(), w.fen.Ref(), "")
	assert.ErrorIs(t, err, types.ErrConflict, "(B,A) duplicates (A,B)")

	for _, pair := range [][2]types.Ref{{w.fen.Ref(), w.vell.Ref()}, {w.vell.Ref(), w.fen.Ref()}} {
		edges, err := b.Relationships(ctx, pair[0])
		require.NoError(t, err)
		require.Len(t, edges, 1, "edges of %s", pair[0])
		assert.Equal(t, rel.ID, edges[0].Relationship.ID)
		assert.Equal(t, types.DirectionUndirected, edges[0].Direction)
		assert.Equal(t, pair[1], edges[0].Other)
	}

	rels, err := b.RelationshipsByType(ctx, rt.ID)
	require.NoError(t, err)
	assert.Equal(t, []types.Relationship{rel}, rels)
}

func TestUnlink(t *testing.T) {
	b := newTestBackend(t)
	_, _, rel := habitatWorld(t, b)
	ctx := context.Background()

	require.NoError(t, b.Unlink(ctx, rel.ID))
	assert.ErrorIs(t, b.Unlink(ctx, rel.ID), types.ErrNotFound)

	edges, err := b.Relationships(ctx, rel.From)
	require.NoError(t, err)
	assert.Empty(t, edges)

	audit, err := b.AuditLog(ctx, types.AuditFilter{Action: types.ActionRelationshipUnlink})
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, rel.ID, audit[0].Details["relationship_id"])
}

func TestTrashCapturesEveryEdge(t *testing.T) {
	b := newTestBackend(t)
	w := seedWorld(t, b)
	ctx := context.Background()
	located, err := b.CreateRelationshipType(ctx, "located in", "", true)
	require.NoError(t, err)
	ally, err := b.CreateRelationshipType(ctx, "ally of", "", false)
	require.NoError(t, err)

	// Edges touching vell and its nested location, plus one unrelated edge.
	_, err = b.Link(ctx, located.ID, w.drake.Ref(), w.vell.Ref(), "")
	require.NoError(t, err)
	_, err = b.Link(ctx, located.ID, w.s1.Ref(), w.oldQuarter.Ref(), "")
	require.NoError(t, err)
	_, err = b.Link(ctx, ally.ID, w.oldQuarter.Ref(), w.fen.Ref(), "")
	require.NoError(t, err)
	_, err = b.Link(ctx, ally.ID, w.vell.Ref(), w.oldQuarter.Ref(), "internal")
	require.NoError(t, err)
	unrelated, err := b.Link(ctx, ally.ID, w.fen.Ref(), w.drake.Ref(), "")
	require.NoError(t, err)

	entry, err := b.MoveToTrash(ctx, w.vell.Ref())
	require.NoError(t, err)
	got, err := b.TrashEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.Len(t, got.Payload.Relationships, 4)
	assert.Len(t, got.Payload.RelationshipTypes, 2)

	// Only the unrelated edge is still live.
	for _, id := range []string{located.ID, ally.ID} {
		rels, err := b.RelationshipsByType(ctx, id)
		require.NoError(t, err)
		for _, r := range rels {
			assert.Equal(t, unrelated.ID, r.ID)
		}
	}

	// Remove one outside endpoint, then restore.
	require.NoError(t, b.Purge(ctx, w.s1.Ref()))
	res, err := b.Restore(ctx, entry.ID, types.RestoreOptions{})
	require.NoError(t, err)
	assert.Len(t, res.Reattached, 3)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, w.s1.Ref(), res.Skipped[0].Relationship.From)
	assert.Equal(t, types.SkipMissingEndpoint, res.Skipped[0].Reason)
}
