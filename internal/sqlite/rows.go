package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/mesh-intelligence/lorevault/internal/graph"
	"github.com/mesh-intelligence/lorevault/pkg/types"
)

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// selectColumns returns "id, col1, col2, ..." for node.
func selectColumns(n graph.Node) string {
	return "id, " + strings.Join(n.Columns, ", ")
}

// selectEntities loads rows of node matching where (which may be empty).
func selectEntities(ctx context.Context, q queryer, n graph.Node, where, order string, args ...any) ([]types.Entity, error) {
	query := "SELECT " + selectColumns(n) + " FROM " + n.Table
	if where != "" {
		query += " WHERE " + where
	}
	if order != "" {
		query += " ORDER BY " + order
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("querying "+n.Table, err)
	}
	defer rows.Close()

	var out []types.Entity
	for rows.Next() {
		e, err := hydrateEntity(rows, n)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterating "+n.Table, err)
	}
	return out, nil
}

// hydrateEntity scans one row produced by selectColumns.
func hydrateEntity(rows *sql.Rows, n graph.Node) (types.Entity, error) {
	var id string
	values := make([]any, len(n.Columns))
	dest := make([]any, 0, len(n.Columns)+1)
	dest = append(dest, &id)
	for i := range values {
		dest = append(dest, &values[i])
	}
	if err := rows.Scan(dest...); err != nil {
		return types.Entity{}, storeErr("scanning "+n.Table, err)
	}

	fields := make(map[string]any, len(n.Columns))
	for i, col := range n.Columns {
		fields[col] = columnValue(values[i])
	}
	return types.Entity{Kind: n.Kind, ID: id, Fields: fields}, nil
}

// columnValue maps driver values onto the set Entity.Fields allows.
func columnValue(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case bool:
		if x {
			return int64(1)
		}
		return int64(0)
	}
	return v
}

// loadEntity fetches one entity. Returns ErrNotFound if it does not exist.
func loadEntity(ctx context.Context, q queryer, ref types.Ref) (types.Entity, error) {
	n, err := graph.Lookup(ref.Kind)
	if err != nil {
		return types.Entity{}, err
	}
	found, err := selectEntities(ctx, q, n, "id = ?", "", ref.ID)
	if err != nil {
		return types.Entity{}, err
	}
	if len(found) == 0 {
		return types.Entity{}, fmt.Errorf("%w: %s", types.ErrNotFound, ref)
	}
	return found[0], nil
}

// entityExists reports whether ref is live.
func entityExists(ctx context.Context, q queryer, ref types.Ref) (bool, error) {
	n, err := graph.Lookup(ref.Kind)
	if err != nil {
		return false, err
	}
	var one int
	err = q.QueryRowContext(ctx, "SELECT 1 FROM "+n.Table+" WHERE id = ?", ref.ID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, storeErr("checking "+ref.String(), err)
	}
	return true, nil
}

// insertEntity writes e with its original id. Fields absent from the map
// take their column defaults.
func insertEntity(ctx context.Context, q queryer, e types.Entity) error {
	n, err := graph.Lookup(e.Kind)
	if err != nil {
		return err
	}
	cols := []string{"id"}
	args := []any{e.ID}
	for _, c := range n.Columns {
		v, ok := e.Fields[c]
		if !ok {
			continue
		}
		cols = append(cols, c)
		args = append(args, v)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		n.Table, strings.Join(cols, ", "), placeholders(len(cols)))
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return storeErr("inserting "+e.Ref().String(), err)
	}
	return nil
}

// updateFields sets the given columns on ref.
func updateFields(ctx context.Context, q queryer, ref types.Ref, fields map[string]any) error {
	n, err := graph.Lookup(ref.Kind)
	if err != nil {
		return err
	}
	var sets []string
	var args []any
	for _, c := range n.Columns {
		v, ok := fields[c]
		if !ok {
			continue
		}
		sets = append(sets, c+" = ?")
		args = append(args, v)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, ref.ID)
	res, err := q.ExecContext(ctx,
		"UPDATE "+n.Table+" SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return storeErr("updating "+ref.String(), err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: %s", types.ErrNotFound, ref)
	}
	return nil
}

// deleteEntity removes ref and, through cascading foreign keys, its
// subtree. The caller must hold a deletion grant in the same transaction.
func deleteEntity(ctx context.Context, q queryer, ref types.Ref) error {
	n, err := graph.Lookup(ref.Kind)
	if err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx, "DELETE FROM "+n.Table+" WHERE id = ?", ref.ID); err != nil {
		return storeErr("deleting "+ref.String(), err)
	}
	return nil
}

// withDeletionGrant runs fn while a deletion grant row exists. The grant is
// removed before returning, so it is never visible after commit.
func withDeletionGrant(ctx context.Context, tx *sql.Tx, reason, at string, fn func() error) error {
	token := generateUUID()
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO deletion_grants (token, reason, created_at) VALUES (?, ?, ?)",
		token, reason, at); err != nil {
		return storeErr("granting deletion", err)
	}
	if err := fn(); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM deletion_grants WHERE token = ?", token); err != nil {
		return storeErr("revoking deletion grant", err)
	}
	return nil
}

// siblingScope returns the predicate selecting e's live siblings: rows of
// the same kind under the same owner, or all rows of a root kind.
func siblingScope(e types.Entity) (string, []any) {
	edge, owner := graph.OwnerOf(e)
	if owner == nil {
		return "", nil
	}
	where := edge.Column + " = ?"
	if edge.Where != "" {
		where += " AND " + edge.Where
	}
	return where, []any{owner.ID}
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

// chunk splits ids into slices of at most size elements. SQLite limits the
// number of bound parameters per statement.
func chunk(ids []string, size int) [][]string {
	var out [][]string
	for len(ids) > size {
		out = append(out, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}

func anySlice(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
