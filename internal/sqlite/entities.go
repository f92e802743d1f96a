package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/mesh-intelligence/lorevault/internal/graph"
	"github.com/mesh-intelligence/lorevault/pkg/types"
)

// checkFields rejects fields that are not writable columns of n, and
// values a trash or snapshot payload could not carry unchanged.
func checkFields(n graph.Node, fields map[string]any) error {
	for k, v := range fields {
		if k == "id" || k == types.FieldCreatedAt || k == types.FieldUpdatedAt || !n.HasColumn(k) {
			return fmt.Errorf("%w: %s has no writable field %q", types.ErrInvalidData, n.Kind, k)
		}
		if problem := checkValue(v); problem != "" {
			return fmt.Errorf("%w: %s %s %s", types.ErrInvalidData, n.Kind, k, problem)
		}
	}
	return nil
}

// checkValue describes why v cannot be stored, or returns "".
func checkValue(v any) string {
	switch v := v.(type) {
	case nil, bool, int, int8, int16, int32, int64, uint8, uint16, uint32:
		return ""
	case string:
		if !utf8.ValidString(v) {
			return "is not valid UTF-8"
		}
	case float32:
		return checkFloat(float64(v))
	case float64:
		return checkFloat(v)
	default:
		return fmt.Sprintf("has unsupported type %T", v)
	}
	return ""
}

func checkFloat(f float64) string {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return "is not a finite number"
	}
	return ""
}

// Create inserts a new entity of kind. The label field is required, and
// non-root kinds need an existing owner. Ordered kinds without an explicit
// position are appended after their last sibling.
func (b *Backend) Create(ctx context.Context, kind types.Kind, fields map[string]any) (types.Entity, error) {
	n, err := graph.Lookup(kind)
	if err != nil {
		return types.Entity{}, err
	}
	if err := checkFields(n, fields); err != nil {
		return types.Entity{}, err
	}

	e := types.Entity{Kind: kind, ID: generateUUID(), Fields: make(map[string]any, len(fields)+2)}
	for k, v := range fields {
		e.Fields[k] = v
	}
	if strings.TrimSpace(e.Text(n.Label)) == "" {
		return types.Entity{}, fmt.Errorf("%w: %s %s is required", types.ErrInvalidData, kind, n.Label)
	}

	var created types.Entity
	err = b.inTx(ctx, "entity_create", func(s *txScope) error {
		if err := resolveOwners(ctx, s.tx, n, &e); err != nil {
			return err
		}
		if n.Position != "" {
			if _, ok := e.Fields[n.Position]; !ok {
				next, err := nextPosition(ctx, s.tx, n, e)
				if err != nil {
					return err
				}
				e.Fields[n.Position] = next
			}
		}
		now := b.timestamp()
		e.Fields[types.FieldCreatedAt] = now
		e.Fields[types.FieldUpdatedAt] = now

		if err := insertEntity(ctx, s.tx, e); err != nil {
			return err
		}
		var err error
		if created, err = loadEntity(ctx, s.tx, e.Ref()); err != nil {
			return err
		}
		b.audit(ctx, s, types.ActionEntityCreate, e.Ref(), map[string]any{
			"name": created.Text(n.Label),
		})
		return nil
	})
	if err != nil {
		return types.Entity{}, opErr("create", types.NewRef(kind, ""), err)
	}
	return created, nil
}

// resolveOwners checks every owner, association and reference column set
// on e, and fills id columns the entity shares with its owner (a nested
// location inherits its parent's universe_id).
func resolveOwners(ctx context.Context, q queryer, n graph.Node, e *types.Entity) error {
	edge, owner := graph.OwnerOf(*e)
	if owner == nil && !graph.IsRoot(n.Kind) {
		var cols []string
		for _, o := range graph.Owners(n.Kind) {
			cols = append(cols, o.Column)
		}
		return fmt.Errorf("%w: %s needs one of %s", types.ErrInvalidData, n.Kind, strings.Join(cols, ", "))
	}
	if owner != nil {
		parent, err := loadEntity(ctx, q, *owner)
		if err != nil {
			return err
		}
		for _, col := range n.Columns {
			if col == edge.Column || !strings.HasSuffix(col, "_id") {
				continue
			}
			inherited := parent.Text(col)
			if inherited == "" {
				continue
			}
			switch cur := e.Text(col); cur {
			case "":
				e.Fields[col] = inherited
			case inherited:
			default:
				return fmt.Errorf("%w: %s %s=%s does not match owner's %s", types.ErrInvalidData, n.Kind, col, cur, inherited)
			}
		}
	}
	for _, in := range graph.Incoming(n.Kind) {
		id := e.Text(in.Column)
		if id == "" {
			continue
		}
		if in.Reference {
			if err := checkReference(ctx, q, in, *e); err != nil {
				return err
			}
			continue
		}
		ok, err := entityExists(ctx, q, types.NewRef(in.Owner, id))
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", types.ErrNotFound, types.NewRef(in.Owner, id))
		}
	}
	return nil
}

// nextPosition returns one past the highest position among e's siblings.
func nextPosition(ctx context.Context, q queryer, n graph.Node, e types.Entity) (int64, error) {
	where, args := siblingScope(e)
	query := "SELECT COALESCE(MAX(" + n.Position + "), -1) + 1 FROM " + n.Table
	if where != "" {
		query += " WHERE " + where
	}
	var next int64
	if err := q.QueryRowContext(ctx, query, args...).Scan(&next); err != nil {
		return 0, storeErr("computing position", err)
	}
	return next, nil
}

// Entity returns one live entity.
func (b *Backend) Entity(ctx context.Context, ref types.Ref) (types.Entity, error) {
	if err := ref.Validate(); err != nil {
		return types.Entity{}, err
	}
	var e types.Entity
	err := b.read(func(db *sql.DB) error {
		var err error
		e, err = loadEntity(ctx, db, ref)
		return err
	})
	return e, err
}

// Update sets fields on a live entity. Owner columns cannot be changed.
func (b *Backend) Update(ctx context.Context, ref types.Ref, fields map[string]any) (types.Entity, error) {
	if err := ref.Validate(); err != nil {
		return types.Entity{}, err
	}
	n, err := graph.Lookup(ref.Kind)
	if err != nil {
		return types.Entity{}, err
	}
	if err := checkFields(n, fields); err != nil {
		return types.Entity{}, err
	}
	for _, in := range graph.Owners(ref.Kind) {
		if _, ok := fields[in.Column]; ok {
			return types.Entity{}, fmt.Errorf("%w: %s cannot be changed", types.ErrInvalidData, in.Column)
		}
	}
	if v, ok := fields[n.Label]; ok {
		if s, _ := v.(string); strings.TrimSpace(s) == "" {
			return types.Entity{}, fmt.Errorf("%w: %s %s is required", types.ErrInvalidData, ref.Kind, n.Label)
		}
	}

	var updated types.Entity
	err = b.inTx(ctx, "entity_update", func(s *txScope) error {
		set := make(map[string]any, len(fields)+1)
		for k, v := range fields {
			set[k] = v
		}
		set[types.FieldUpdatedAt] = b.timestamp()

		current, err := loadEntity(ctx, s.tx, ref)
		if err != nil {
			return err
		}
		merged := current.Clone()
		for k, v := range fields {
			merged.Fields[k] = v
		}
		for _, in := range graph.Incoming(ref.Kind) {
			if _, changed := fields[in.Column]; !changed || in.Owning() {
				continue
			}
			if in.Reference {
				if err := checkReference(ctx, s.tx, in, merged); err != nil {
					return err
				}
				continue
			}
			id := merged.Text(in.Column)
			if id == "" {
				continue
			}
			ok, err := entityExists(ctx, s.tx, types.NewRef(in.Owner, id))
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: %s", types.ErrNotFound, types.NewRef(in.Owner, id))
			}
		}

		if err := updateFields(ctx, s.tx, ref, set); err != nil {
			return err
		}
		if updated, err = loadEntity(ctx, s.tx, ref); err != nil {
			return err
		}
		names := make([]string, 0, len(fields))
		for k := range fields {
			names = append(names, k)
		}
		sort.Strings(names)
		b.audit(ctx, s, types.ActionEntityUpdate, ref, map[string]any{
			"fields": strings.Join(names, ","),
		})
		return nil
	})
	if err != nil {
		return types.Entity{}, opErr("update", ref, err)
	}
	return updated, nil
}

// Children returns the entities directly owned by ref, grouped by kind in
// edge order and ordered within each kind.
func (b *Backend) Children(ctx context.Context, ref types.Ref) ([]types.Entity, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	var out []types.Entity
	err := b.read(func(db *sql.DB) error {
		ok, err := entityExists(ctx, db, ref)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", types.ErrNotFound, ref)
		}
		for _, edge := range graph.Children(ref.Kind) {
			n, err := graph.Lookup(edge.Owned)
			if err != nil {
				return err
			}
			where := edge.Column + " = ?"
			if edge.Where != "" {
				where += " AND " + edge.Where
			}
			kids, err := selectEntities(ctx, db, n, where, n.Order, ref.ID)
			if err != nil {
				return err
			}
			out = append(out, kids...)
		}
		return nil
	})
	return out, err
}
