package types

import "time"

// RelationshipType names a kind of edge, e.g. "habitat" or "ally_of".
// Undirected types treat both endpoints symmetrically.
type RelationshipType struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Directed    bool   `json:"directed"`
}

// Relationship is a typed edge between two entities of any kinds.
type Relationship struct {
	// ID is a UUID v7, generated on creation.
	ID string `json:"id"`

	// TypeID references a RelationshipType.
	TypeID string `json:"type_id"`

	// From and To are the endpoints. For undirected types From is the
	// lesser ref (see Ref.Less).
	From Ref `json:"from"`
	To   Ref `json:"to"`

	Note      string    `json:"note"`
	CreatedAt time.Time `json:"created_at"`
}

// Touches reports whether ref is one of the endpoints.
func (r Relationship) Touches(ref Ref) bool {
	return r.From == ref || r.To == ref
}

// Other returns the endpoint that is not ref.
func (r Relationship) Other(ref Ref) Ref {
	if r.From == ref {
		return r.To
	}
	return r.From
}

// Direction describes how an entity participates in an edge.
type Direction string

// Edge directions relative to the queried entity.
const (
	DirectionOutgoing   Direction = "outgoing"
	DirectionIncoming   Direction = "incoming"
	DirectionUndirected Direction = "undirected"
)

// Edge is a relationship seen from one endpoint.
type Edge struct {
	Relationship Relationship     `json:"relationship"`
	Type         RelationshipType `json:"type"`
	Direction    Direction        `json:"direction"`
	Other        Ref              `json:"other"`
}
