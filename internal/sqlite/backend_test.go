package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/lorevault/internal/graph"
	"github.com/mesh-intelligence/lorevault/pkg/types"
)

// newTestBackend attaches a backend to a fresh data directory.
func newTestBackend(t *testing.T, opts ...Option) *Backend {
	t.Helper()
	b := NewBackend(opts...)
	require.NoError(t, b.Attach(types.DefaultConfig(t.TempDir())))
	t.Cleanup(func() { b.Detach() })
	return b
}

func mustCreate(t *testing.T, b *Backend, kind types.Kind, fields map[string]any) types.Entity {
	t.Helper()
	e, err := b.Create(context.Background(), kind, fields)
	require.NoError(t, err, "creating %s", kind)
	return e
}

func mustEntity(t *testing.T, b *Backend, ref types.Ref) types.Entity {
	t.Helper()
	e, err := b.Entity(context.Background(), ref)
	require.NoError(t, err, "loading %s", ref)
	return e
}

func mustLookup(t *testing.T, kind types.Kind) graph.Node {
	t.Helper()
	n, err := graph.Lookup(kind)
	require.NoError(t, err)
	return n
}

func assertGone(t *testing.T, b *Backend, ref types.Ref) {
	t.Helper()
	_, err := b.Entity(context.Background(), ref)
	assert.ErrorIs(t, err, types.ErrNotFound, "%s should be gone", ref)
}

// world is a small universe used across tests:
//
//	universe Aerth
//	  location Vell (0)
//	    location Old Quarter (0)
//	  location Morrow Fen (1)
//	  bestiary_entry Fen Drake
//	  novel The Long Tide
//	    chapter Landfall (0)
//	      scene Arrival (0)
//	      scene Storm (1)
//	    chapter Undertow (1)
//	      scene Wreck (0)
type world struct {
	universe, vell, oldQuarter, fen, drake, novel types.Entity
	c1, c2, s1, s2, s3                            types.Entity
}

func seedWorld(t *testing.T, b *Backend) world {
	t.Helper()
	var w world
	w.universe = mustCreate(t, b, types.KindUniverse, map[string]any{"name": "Aerth", "description": "a drowned world"})
	u := w.universe.ID
	w.vell = mustCreate(t, b, types.KindLocation, map[string]any{"universe_id": u, "name": "Vell", "kind": "city"})
	w.oldQuarter = mustCreate(t, b, types.KindLocation, map[string]any{"parent_id": w.vell.ID, "name": "Old Quarter"})
	w.fen = mustCreate(t, b, types.KindLocation, map[string]any{"universe_id": u, "name": "Morrow Fen", "kind": "marsh"})
	w.drake = mustCreate(t, b, types.KindBestiaryEntry, map[string]any{"universe_id": u, "name": "Fen Drake", "danger": 4})
	w.novel = mustCreate(t, b, types.KindNovel, map[string]any{"universe_id": u, "title": "The Long Tide"})
	w.c1 = mustCreate(t, b, types.KindChapter, map[string]any{"novel_id": w.novel.ID, "title": "Landfall"})
	w.c2 = mustCreate(t, b, types.KindChapter, map[string]any{"novel_id": w.novel.ID, "title": "Undertow"})
	w.s1 = mustCreate(t, b, types.KindScene, map[string]any{"chapter_id": w.c1.ID, "title": "Arrival", "body": "The boats came in at dusk."})
	w.s2 = mustCreate(t, b, types.KindScene, map[string]any{"chapter_id": w.c1.ID, "title": "Storm", "word_count": 1200})
	w.s3 = mustCreate(t, b, types.KindScene, map[string]any{"chapter_id": w.c2.ID, "title": "Wreck"})
	return w
}

func TestBackend_Attach(t *testing.T) {
	dir := t.TempDir()
	b := NewBackend()
	config := types.DefaultConfig(dir)

	require.NoError(t, b.Attach(config))
	defer b.Detach()

	_, err := os.Stat(filepath.Join(dir, DatabaseFile))
	assert.NoError(t, err, "database file should exist")

	assert.ErrorIs(t, b.Attach(config), types.ErrAlreadyAttached)
}

func TestBackend_AttachCreatesDataDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	b := NewBackend()
	require.NoError(t, b.Attach(types.DefaultConfig(dir)))
	defer b.Detach()

	_, err := os.Stat(filepath.Join(dir, DatabaseFile))
	assert.NoError(t, err)
}

func TestBackend_AttachRejectsInvalidConfig(t *testing.T) {
	b := NewBackend()
	config := types.DefaultConfig(t.TempDir())
	config.RetentionDays = -1
	assert.ErrorIs(t, b.Attach(config), types.ErrRetentionInvalid)

	config = types.DefaultConfig(t.TempDir())
	config.Restore.Position = "sideways"
	assert.ErrorIs(t, b.Attach(config), types.ErrInvalidPolicy)
}

func TestBackend_Detach(t *testing.T) {
	b := NewBackend()
	require.NoError(t, b.Attach(types.DefaultConfig(t.TempDir())))

	require.NoError(t, b.Detach())
	assert.NoError(t, b.Detach(), "second Detach should be a no-op")

	ctx := context.Background()
	_, err := b.Entity(ctx, types.NewRef(types.KindUniverse, "u1"))
	assert.ErrorIs(t, err, types.ErrDetached)
	_, err = b.Create(ctx, types.KindUniverse, map[string]any{"name": "x"})
	assert.ErrorIs(t, err, types.ErrDetached)
	_, err = b.ListTrash(ctx, types.TrashFilter{})
	assert.ErrorIs(t, err, types.ErrDetached)
}

func TestBackend_ReattachKeepsData(t *testing.T) {
	dir := t.TempDir()
	b := NewBackend()
	require.NoError(t, b.Attach(types.DefaultConfig(dir)))
	u := mustCreate(t, b, types.KindUniverse, map[string]any{"name": "Aerth"})
	require.NoError(t, b.Detach())

	b2 := NewBackend()
	require.NoError(t, b2.Attach(types.DefaultConfig(dir)))
	defer b2.Detach()
	got := mustEntity(t, b2, u.Ref())
	assert.Equal(t, u, got)
}

func TestBackend_PruneOnAttach(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	b := NewBackend(WithClock(clock))
	require.NoError(t, b.Attach(types.DefaultConfig(dir)))
	u := mustCreate(t, b, types.KindUniverse, map[string]any{"name": "Aerth"})
	_, err := b.MoveToTrash(context.Background(), u.Ref())
	require.NoError(t, err)
	require.NoError(t, b.Detach())

	now = now.Add(15 * 24 * time.Hour)
	config := types.DefaultConfig(dir)
	config.PruneOnAttach = true
	b2 := NewBackend(WithClock(clock))
	require.NoError(t, b2.Attach(config))
	defer b2.Detach()

	entries, err := b2.ListTrash(context.Background(), types.TrashFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStoreErrClassification(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	u := mustCreate(t, b, types.KindUniverse, map[string]any{"name": "Aerth"})

	// A raw primary key collision surfaces as a conflict.
	err := insertEntity(ctx, b.db, u)
	assert.ErrorIs(t, err, types.ErrConflict)

	// A broken statement is a store failure.
	_, err = selectEntities(ctx, b.db, mustLookup(t, types.KindUniverse), "no_such_column = 1", "")
	assert.ErrorIs(t, err, types.ErrStore)

	// Categorized errors pass through untouched.
	assert.Same(t, types.ErrNotFound, storeErr("x", types.ErrNotFound))
	assert.NoError(t, storeErr("x", nil))
}

func TestTimeRoundTrip(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC)
	s := formatTime(ts)
	assert.Equal(t, "2026-01-02T03:04:05.000000006Z", s)
	got, err := parseTime(s)
	require.NoError(t, err)
	assert.True(t, ts.Equal(got))

	got, err = parseTime("2026-01-02T03:04:05Z")
	require.NoError(t, err)
	assert.Equal(t, 2026, got.Year())
}
