package types

import "maps"

// Standard timestamp columns present on every entity table.
const (
	FieldCreatedAt = "created_at"
	FieldUpdatedAt = "updated_at"
)

// Entity is one row of an entity table. Fields holds every column except
// id, keyed by column name. Values are nil, string, int64, or float64.
type Entity struct {
	Kind   Kind           `json:"kind"`
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

// Ref returns the entity's reference.
func (e Entity) Ref() Ref {
	return Ref{Kind: e.Kind, ID: e.ID}
}

// Text returns a string field, or "" when the field is missing or not a string.
func (e Entity) Text(field string) string {
	s, _ := e.Fields[field].(string)
	return s
}

// Int returns an integer field. The second result is false when the field
// is missing or not numeric.
func (e Entity) Int(field string) (int64, bool) {
	switch v := e.Fields[field].(type) {
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case int:
		return int64(v), true
	}
	return 0, false
}

// Clone returns a copy whose field map can be modified independently.
func (e Entity) Clone() Entity {
	return Entity{Kind: e.Kind, ID: e.ID, Fields: maps.Clone(e.Fields)}
}
