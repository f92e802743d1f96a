// Package graph describes the static ownership structure between entity
// kinds: which table holds each kind, and which column ties an owned
// entity to its owner. Capture, restore, and snapshots walk these tables
// instead of hard-coding per-kind logic, so adding a kind means adding a
// node and its edges here.
package graph

import (
	"fmt"
	"slices"

	"github.com/mesh-intelligence/lorevault/pkg/types"
)

// Node describes the table behind one entity kind.
type Node struct {
	Kind  types.Kind
	Table string

	// Columns lists every column except id, in table order.
	Columns []string

	// Label is the column shown as the entity's display name.
	Label string

	// Order is the ORDER BY clause for siblings. It always ends in id so
	// captures are deterministic.
	Order string

	// Position is the integer ordering column, or "" if the kind is
	// ordered by something else.
	Position string

	// Plural is used in trash summaries.
	Plural string
}

// HasColumn reports whether c is a column of the node (id excluded).
func (n Node) HasColumn(c string) bool {
	return slices.Contains(n.Columns, c)
}

// Edge ties an owned kind to an owner kind through a column on the owned
// table. Ownership edges are mirrored by ON DELETE CASCADE foreign keys.
// Association edges are not: they only widen snapshot scope. Reference
// edges point at another entity of the same universe without owning it or
// widening any scope; for them Owner is the referenced kind.
type Edge struct {
	Owner types.Kind
	Owned types.Kind

	// Column on the owned table holding the owner's id.
	Column string

	// Where is an extra predicate on the owned table, or "".
	Where string

	Association bool
	Reference   bool
}

// Owning reports whether the edge is an ownership edge.
func (e Edge) Owning() bool {
	return !e.Association && !e.Reference
}

func stamp(cols ...string) []string {
	return append(cols, types.FieldCreatedAt, types.FieldUpdatedAt)
}

var nodes = map[types.Kind]Node{
	types.KindUniverse: {
		Kind:    types.KindUniverse,
		Table:   "universes",
		Columns: stamp("name", "description", "archived"),
		Label:   "name",
		Order:   "name, id",
		Plural:  "universes",
	},
	types.KindLocation: {
		Kind:     types.KindLocation,
		Table:    "locations",
		Columns:  stamp("universe_id", "parent_id", "name", "description", "kind", "position"),
		Label:    "name",
		Order:    "position, id",
		Position: "position",
		Plural:   "locations",
	},
	types.KindBestiaryEntry: {
		Kind:    types.KindBestiaryEntry,
		Table:   "bestiary_entries",
		Columns: append(stamp("universe_id", "name", "kind", "habitat", "description", "danger", "archived"), "home_location_id"),
		Label:   "name",
		Order:   "name, id",
		Plural:  "bestiary entries",
	},
	types.KindEra: {
		Kind:    types.KindEra,
		Table:   "timeline_eras",
		Columns: stamp("universe_id", "name", "start_year", "end_year", "description", "color"),
		Label:   "name",
		Order:   "start_year, id",
		Plural:  "eras",
	},
	types.KindEvent: {
		Kind:    types.KindEvent,
		Table:   "timeline_events",
		Columns: append(stamp("universe_id", "title", "description", "year", "display_date", "importance", "kind", "color"), "location_id"),
		Label:   "title",
		Order:   "year, id",
		Plural:  "events",
	},
	types.KindNovel: {
		Kind:    types.KindNovel,
		Table:   "novels",
		Columns: stamp("universe_id", "title", "synopsis", "status"),
		Label:   "title",
		Order:   "title, id",
		Plural:  "novels",
	},
	types.KindChapter: {
		Kind:     types.KindChapter,
		Table:    "chapters",
		Columns:  stamp("novel_id", "title", "position", "synopsis", "status"),
		Label:    "title",
		Order:    "position, id",
		Position: "position",
		Plural:   "chapters",
	},
	types.KindScene: {
		Kind:     types.KindScene,
		Table:    "scenes",
		Columns:  stamp("chapter_id", "title", "body", "position", "status", "word_count"),
		Label:    "title",
		Order:    "position, id",
		Position: "position",
		Plural:   "scenes",
	},
	types.KindBoard: {
		Kind:    types.KindBoard,
		Table:   "boards",
		Columns: stamp("universe_id", "name", "kind"),
		Label:   "name",
		Order:   "name, id",
		Plural:  "boards",
	},
	types.KindColumn: {
		Kind:     types.KindColumn,
		Table:    "board_columns",
		Columns:  stamp("board_id", "name", "position"),
		Label:    "name",
		Order:    "position, id",
		Position: "position",
		Plural:   "columns",
	},
	types.KindCard: {
		Kind:     types.KindCard,
		Table:    "cards",
		Columns:  stamp("column_id", "title", "description", "position", "priority"),
		Label:    "title",
		Order:    "position, id",
		Position: "position",
		Plural:   "cards",
	},
}

// edges lists ownership and association edges. For a kind with several
// owners the more specific edge comes first; OwnerOf relies on that.
var edges = []Edge{
	{Owner: types.KindLocation, Owned: types.KindLocation, Column: "parent_id"},
	{Owner: types.KindUniverse, Owned: types.KindLocation, Column: "universe_id", Where: "parent_id IS NULL"},
	{Owner: types.KindUniverse, Owned: types.KindBestiaryEntry, Column: "universe_id"},
	{Owner: types.KindUniverse, Owned: types.KindEra, Column: "universe_id"},
	{Owner: types.KindUniverse, Owned: types.KindEvent, Column: "universe_id"},
	{Owner: types.KindUniverse, Owned: types.KindNovel, Column: "universe_id"},
	{Owner: types.KindNovel, Owned: types.KindChapter, Column: "novel_id"},
	{Owner: types.KindChapter, Owned: types.KindScene, Column: "chapter_id"},
	{Owner: types.KindBoard, Owned: types.KindColumn, Column: "board_id"},
	{Owner: types.KindColumn, Owned: types.KindCard, Column: "column_id"},
	{Owner: types.KindUniverse, Owned: types.KindBoard, Column: "universe_id", Association: true},
	{Owner: types.KindLocation, Owned: types.KindBestiaryEntry, Column: "home_location_id", Reference: true},
	{Owner: types.KindLocation, Owned: types.KindEvent, Column: "location_id", Reference: true},
}

// Lookup returns the node for kind.
func Lookup(kind types.Kind) (Node, error) {
	n, ok := nodes[kind]
	if !ok {
		return Node{}, fmt.Errorf("%w: %q", types.ErrInvalidKind, kind)
	}
	return n, nil
}

// Nodes returns every node in types.Kinds order.
func Nodes() []Node {
	out := make([]Node, 0, len(types.Kinds))
	for _, k := range types.Kinds {
		if n, ok := nodes[k]; ok {
			out = append(out, n)
		}
	}
	return out
}

// Children returns the ownership edges leaving kind.
func Children(kind types.Kind) []Edge {
	var out []Edge
	for _, e := range edges {
		if e.Owner == kind && e.Owning() {
			out = append(out, e)
		}
	}
	return out
}

// Associations returns the non-owning edges leaving kind.
func Associations(kind types.Kind) []Edge {
	var out []Edge
	for _, e := range edges {
		if e.Owner == kind && e.Association {
			out = append(out, e)
		}
	}
	return out
}

// Owners returns the ownership edges entering kind, most specific first.
// An empty result means kind is a root.
func Owners(kind types.Kind) []Edge {
	var out []Edge
	for _, e := range edges {
		if e.Owned == kind && e.Owning() {
			out = append(out, e)
		}
	}
	return out
}

// Incoming returns every edge entering kind: ownership, association and
// reference.
func Incoming(kind types.Kind) []Edge {
	var out []Edge
	for _, e := range edges {
		if e.Owned == kind {
			out = append(out, e)
		}
	}
	return out
}

// References returns the reference edges entering kind.
func References(kind types.Kind) []Edge {
	var out []Edge
	for _, e := range edges {
		if e.Owned == kind && e.Reference {
			out = append(out, e)
		}
	}
	return out
}

// Weak returns every association and reference edge. Their columns may
// only point at an entity that is live or in the trash.
func Weak() []Edge {
	var out []Edge
	for _, e := range edges {
		if !e.Owning() {
			out = append(out, e)
		}
	}
	return out
}

// IsRoot reports whether kind has no owner.
func IsRoot(kind types.Kind) bool {
	return len(Owners(kind)) == 0
}

// OwnerOf returns the edge and owner ref for a concrete entity: the first
// ownership edge whose column is set. Root kinds return (Edge{}, nil).
func OwnerOf(e types.Entity) (Edge, *types.Ref) {
	for _, edge := range Owners(e.Kind) {
		if id := e.Text(edge.Column); id != "" {
			ref := types.NewRef(edge.Owner, id)
			return edge, &ref
		}
	}
	return Edge{}, nil
}

// Validate checks that every kind has a node and every edge names known
// kinds and real columns.
func Validate() error {
	for _, k := range types.Kinds {
		n, ok := nodes[k]
		if !ok {
			return fmt.Errorf("kind %q has no node", k)
		}
		if n.Kind != k {
			return fmt.Errorf("node for %q is keyed as %q", k, n.Kind)
		}
		if !n.HasColumn(n.Label) {
			return fmt.Errorf("kind %q: label %q is not a column", k, n.Label)
		}
		if n.Position != "" && !n.HasColumn(n.Position) {
			return fmt.Errorf("kind %q: position %q is not a column", k, n.Position)
		}
	}
	if len(nodes) != len(types.Kinds) {
		return fmt.Errorf("graph has %d nodes for %d kinds", len(nodes), len(types.Kinds))
	}
	for _, e := range edges {
		owned, ok := nodes[e.Owned]
		if !ok {
			return fmt.Errorf("edge %s->%s: unknown owned kind", e.Owner, e.Owned)
		}
		if _, ok := nodes[e.Owner]; !ok {
			return fmt.Errorf("edge %s->%s: unknown owner kind", e.Owner, e.Owned)
		}
		if !owned.HasColumn(e.Column) {
			return fmt.Errorf("edge %s->%s: %q is not a column of %s", e.Owner, e.Owned, e.Column, owned.Table)
		}
		if e.Association && e.Reference {
			return fmt.Errorf("edge %s->%s: both association and reference", e.Owner, e.Owned)
		}
	}
	return nil
}
