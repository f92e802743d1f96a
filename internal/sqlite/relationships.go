package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/mesh-intelligence/lorevault/pkg/types"
)

const relationshipColumns = "id, relationship_type_id, from_type, from_id, to_type, to_id, note, created_at"

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func hydrateRelationship(row rowScanner) (types.Relationship, error) {
	var (
		r                types.Relationship
		fromType, toType string
		createdAt        string
	)
	if err := row.Scan(&r.ID, &r.TypeID, &fromType, &r.From.ID, &toType, &r.To.ID, &r.Note, &createdAt); err != nil {
		return types.Relationship{}, err
	}
	r.From.Kind = types.Kind(fromType)
	r.To.Kind = types.Kind(toType)
	t, err := parseTime(createdAt)
	if err != nil {
		return types.Relationship{}, fmt.Errorf("parsing created_at: %w", err)
	}
	r.CreatedAt = t
	return r, nil
}

func hydrateRelationshipType(row rowScanner) (types.RelationshipType, error) {
	var (
		rt       types.RelationshipType
		directed int64
	)
	if err := row.Scan(&rt.ID, &rt.Name, &rt.Description, &directed); err != nil {
		return types.RelationshipType{}, err
	}
	rt.Directed = directed != 0
	return rt, nil
}

func scanRelationships(rows *sql.Rows) ([]types.Relationship, error) {
	defer rows.Close()
	var out []types.Relationship
	for rows.Next() {
		r, err := hydrateRelationship(rows)
		if err != nil {
			return nil, storeErr("scanning relationship", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterating relationships", err)
	}
	return out, nil
}

// relationshipsTouching returns every live edge with at least one endpoint
// in members, each once, ordered by id.
func relationshipsTouching(ctx context.Context, q queryer, members map[types.Ref]bool) ([]types.Relationship, error) {
	byKind := map[types.Kind][]string{}
	for ref := range members {
		byKind[ref.Kind] = append(byKind[ref.Kind], ref.ID)
	}

	seen := map[string]types.Relationship{}
	for kind, ids := range byKind {
		sort.Strings(ids)
		for _, part := range chunk(ids, 400) {
			ph := placeholders(len(part))
			args := []any{string(kind)}
			args = append(args, anySlice(part)...)
			args = append(args, string(kind))
			args = append(args, anySlice(part)...)
			rows, err := q.QueryContext(ctx,
				"SELECT "+relationshipColumns+" FROM relationships"+
					" WHERE (from_type = ? AND from_id IN ("+ph+"))"+
					" OR (to_type = ? AND to_id IN ("+ph+"))", args...)
			if err != nil {
				return nil, storeErr("querying relationships", err)
			}
			found, err := scanRelationships(rows)
			if err != nil {
				return nil, err
			}
			for _, r := range found {
				seen[r.ID] = r
			}
		}
	}

	out := make([]types.Relationship, 0, len(seen))
	for _, r := range seen {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// relationshipTypesByID loads the given types.
func relationshipTypesByID(ctx context.Context, q queryer, ids []string) ([]types.RelationshipType, error) {
	var out []types.RelationshipType
	for _, part := range chunk(ids, 400) {
		rows, err := q.QueryContext(ctx,
			"SELECT id, name, description, directed FROM relationship_types WHERE id IN ("+placeholders(len(part))+") ORDER BY name",
			anySlice(part)...)
		if err != nil {
			return nil, storeErr("querying relationship types", err)
		}
		for rows.Next() {
			rt, err := hydrateRelationshipType(rows)
			if err != nil {
				rows.Close()
				return nil, storeErr("scanning relationship type", err)
			}
			out = append(out, rt)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, storeErr("iterating relationship types", err)
		}
	}
	return out, nil
}

// typesFor returns the distinct types used by rels.
func typesFor(ctx context.Context, q queryer, rels []types.Relationship) ([]types.RelationshipType, error) {
	set := map[string]bool{}
	var ids []string
	for _, r := range rels {
		if !set[r.TypeID] {
			set[r.TypeID] = true
			ids = append(ids, r.TypeID)
		}
	}
	sort.Strings(ids)
	return relationshipTypesByID(ctx, q, ids)
}

func getRelationshipType(ctx context.Context, q queryer, where string, arg any) (types.RelationshipType, error) {
	row := q.QueryRowContext(ctx,
		"SELECT id, name, description, directed FROM relationship_types WHERE "+where, arg)
	rt, err := hydrateRelationshipType(row)
	if err == sql.ErrNoRows {
		return types.RelationshipType{}, fmt.Errorf("%w: relationship type %v", types.ErrNotFound, arg)
	}
	if err != nil {
		return types.RelationshipType{}, storeErr("loading relationship type", err)
	}
	return rt, nil
}

func insertRelationshipType(ctx context.Context, q queryer, rt types.RelationshipType) error {
	directed := 0
	if rt.Directed {
		directed = 1
	}
	_, err := q.ExecContext(ctx,
		"INSERT INTO relationship_types (id, name, description, directed) VALUES (?, ?, ?, ?)",
		rt.ID, rt.Name, rt.Description, directed)
	if err != nil {
		return storeErr("inserting relationship type "+rt.Name, err)
	}
	return nil
}

func insertRelationship(ctx context.Context, q queryer, r types.Relationship) error {
	_, err := q.ExecContext(ctx,
		"INSERT INTO relationships ("+relationshipColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		r.ID, r.TypeID, string(r.From.Kind), r.From.ID, string(r.To.Kind), r.To.ID, r.Note, formatTime(r.CreatedAt))
	if err != nil {
		return storeErr("inserting relationship", err)
	}
	return nil
}

// duplicateRelationship returns the id of a live edge with the same type
// and endpoints as r, other than r itself, or "".
func duplicateRelationship(ctx context.Context, q queryer, r types.Relationship) (string, error) {
	var id string
	err := q.QueryRowContext(ctx,
		"SELECT id FROM relationships WHERE relationship_type_id = ? AND from_type = ? AND from_id = ? AND to_type = ? AND to_id = ? AND id != ?",
		r.TypeID, string(r.From.Kind), r.From.ID, string(r.To.Kind), r.To.ID, r.ID).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", storeErr("checking duplicate relationship", err)
	}
	return id, nil
}

func relationshipExists(ctx context.Context, q queryer, id string) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, "SELECT 1 FROM relationships WHERE id = ?", id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, storeErr("checking relationship", err)
	}
	return true, nil
}

func deleteRelationships(ctx context.Context, q queryer, rels []types.Relationship) error {
	ids := make([]string, len(rels))
	for i, r := range rels {
		ids[i] = r.ID
	}
	for _, part := range chunk(ids, 400) {
		if _, err := q.ExecContext(ctx,
			"DELETE FROM relationships WHERE id IN ("+placeholders(len(part))+")", anySlice(part)...); err != nil {
			return storeErr("deleting relationships", err)
		}
	}
	return nil
}

// canonical orders the endpoints of an undirected edge.
func canonical(r types.Relationship, directed bool) types.Relationship {
	if !directed && r.To.Less(r.From) {
		r.From, r.To = r.To, r.From
	}
	return r
}

// CreateRelationshipType registers a new edge type. Names are unique.
func (b *Backend) CreateRelationshipType(ctx context.Context, name, description string, directed bool) (types.RelationshipType, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return types.RelationshipType{}, fmt.Errorf("%w: relationship type name is empty", types.ErrInvalidData)
	}
	rt := types.RelationshipType{
		ID:          generateUUID(),
		Name:        name,
		Description: description,
		Directed:    directed,
	}
	err := b.inTx(ctx, "relationship_type_create", func(s *txScope) error {
		if _, err := getRelationshipType(ctx, s.tx, "name = ?", name); err == nil {
			return fmt.Errorf("%w: relationship type %q", types.ErrConflict, name)
		}
		if err := insertRelationshipType(ctx, s.tx, rt); err != nil {
			return err
		}
		b.audit(ctx, s, types.ActionRelationshipTypeCreate, types.Ref{}, map[string]any{
			"relationship_type_id": rt.ID,
			"name":                 rt.Name,
			"directed":             rt.Directed,
		})
		return nil
	})
	if err != nil {
		return types.RelationshipType{}, err
	}
	return rt, nil
}

// RelationshipTypes lists every type by name.
func (b *Backend) RelationshipTypes(ctx context.Context) ([]types.RelationshipType, error) {
	var out []types.RelationshipType
	err := b.read(func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, "SELECT id, name, description, directed FROM relationship_types ORDER BY name")
		if err != nil {
			return storeErr("listing relationship types", err)
		}
		defer rows.Close()
		for rows.Next() {
			rt, err := hydrateRelationshipType(rows)
			if err != nil {
				return storeErr("scanning relationship type", err)
			}
			out = append(out, rt)
		}
		return storeErr("iterating relationship types", rows.Err())
	})
	return out, err
}

// RelationshipTypeByName looks a type up by its unique name.
func (b *Backend) RelationshipTypeByName(ctx context.Context, name string) (types.RelationshipType, error) {
	var rt types.RelationshipType
	err := b.read(func(db *sql.DB) error {
		var err error
		rt, err = getRelationshipType(ctx, db, "name = ?", name)
		return err
	})
	return rt, err
}

// Link creates an edge between two live entities. Self-links are rejected
// and an equivalent existing edge is a conflict.
func (b *Backend) Link(ctx context.Context, typeID string, from, to types.Ref, note string) (types.Relationship, error) {
	if err := from.Validate(); err != nil {
		return types.Relationship{}, opErr("link", from, err)
	}
	if err := to.Validate(); err != nil {
		return types.Relationship{}, opErr("link", to, err)
	}
	if from == to {
		return types.Relationship{}, opErr("link", from, types.ErrSelfLink)
	}

	var rel types.Relationship
	err := b.inTx(ctx, "relationship_link", func(s *txScope) error {
		rt, err := getRelationshipType(ctx, s.tx, "id = ?", typeID)
		if err != nil {
			return err
		}
		for _, ref := range []types.Ref{from, to} {
			ok, err := entityExists(ctx, s.tx, ref)
			if err != nil {
				return err
			}
			if !ok {
				return opErr("link", ref, types.ErrNotFound)
			}
		}
		rel = canonical(types.Relationship{
			ID:        generateUUID(),
			TypeID:    rt.ID,
			From:      from,
			To:        to,
			Note:      note,
			CreatedAt: b.now().UTC(),
		}, rt.Directed)
		dup, err := duplicateRelationship(ctx, s.tx, rel)
		if err != nil {
			return err
		}
		if dup != "" {
			return fmt.Errorf("%w: %s edge %s - %s already exists as %s", types.ErrConflict, rt.Name, from, to, dup)
		}
		if err := insertRelationship(ctx, s.tx, rel); err != nil {
			return err
		}
		b.audit(ctx, s, types.ActionRelationshipLink, rel.From, map[string]any{
			"relationship_id":   rel.ID,
			"relationship_type": rt.Name,
			"to":                rel.To.String(),
		})
		return nil
	})
	if err != nil {
		return types.Relationship{}, opErr("link", from, err)
	}
	return rel, nil
}

// Unlink deletes one edge.
func (b *Backend) Unlink(ctx context.Context, id string) error {
	return b.inTx(ctx, "relationship_unlink", func(s *txScope) error {
		row := s.tx.QueryRowContext(ctx, "SELECT "+relationshipColumns+" FROM relationships WHERE id = ?", id)
		rel, err := hydrateRelationship(row)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: relationship %s", types.ErrNotFound, id)
		}
		if err != nil {
			return storeErr("loading relationship", err)
		}
		if err := deleteRelationships(ctx, s.tx, []types.Relationship{rel}); err != nil {
			return err
		}
		b.audit(ctx, s, types.ActionRelationshipUnlink, rel.From, map[string]any{
			"relationship_id": rel.ID,
			"to":              rel.To.String(),
		})
		return nil
	})
}

// Relationships returns every edge in which ref participates, seen from
// ref. Each edge appears once.
func (b *Backend) Relationships(ctx context.Context, ref types.Ref) ([]types.Edge, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	var out []types.Edge
	err := b.read(func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx,
			"SELECT "+relationshipColumns+" FROM relationships"+
				" WHERE (from_type = ? AND from_id = ?) OR (to_type = ? AND to_id = ?)"+
				" ORDER BY created_at, id",
			string(ref.Kind), ref.ID, string(ref.Kind), ref.ID)
		if err != nil {
			return storeErr("querying relationships", err)
		}
		rels, err := scanRelationships(rows)
		if err != nil {
			return err
		}
		rts, err := typesFor(ctx, db, rels)
		if err != nil {
			return err
		}
		byID := make(map[string]types.RelationshipType, len(rts))
		for _, rt := range rts {
			byID[rt.ID] = rt
		}
		for _, r := range rels {
			rt := byID[r.TypeID]
			dir := types.DirectionUndirected
			if rt.Directed {
				dir = types.DirectionIncoming
				if r.From == ref {
					dir = types.DirectionOutgoing
				}
			}
			out = append(out, types.Edge{Relationship: r, Type: rt, Direction: dir, Other: r.Other(ref)})
		}
		return nil
	})
	return out, err
}

// RelationshipsByType returns every edge of one type.
func (b *Backend) RelationshipsByType(ctx context.Context, typeID string) ([]types.Relationship, error) {
	var out []types.Relationship
	err := b.read(func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx,
			"SELECT "+relationshipColumns+" FROM relationships WHERE relationship_type_id = ? ORDER BY created_at, id", typeID)
		if err != nil {
			return storeErr("querying relationships", err)
		}
		out, err = scanRelationships(rows)
		return err
	})
	return out, err
}
