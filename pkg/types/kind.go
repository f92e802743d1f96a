package types

import (
	"fmt"
	"strings"
)

// Kind identifies one of the closed set of entity types.
type Kind string

// Entity kinds.
const (
	KindUniverse      Kind = "universe"
	KindLocation      Kind = "location"
	KindBestiaryEntry Kind = "bestiary_entry"
	KindEra           Kind = "era"
	KindEvent         Kind = "event"
	KindNovel         Kind = "novel"
	KindChapter       Kind = "chapter"
	KindScene         Kind = "scene"
	KindBoard         Kind = "board"
	KindColumn        Kind = "column"
	KindCard          Kind = "card"
)

// Kinds lists every entity kind. internal/graph must describe each of them.
var Kinds = []Kind{
	KindUniverse,
	KindLocation,
	KindBestiaryEntry,
	KindEra,
	KindEvent,
	KindNovel,
	KindChapter,
	KindScene,
	KindBoard,
	KindColumn,
	KindCard,
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Noun returns the kind in human-readable form ("bestiary entry").
func (k Kind) Noun() string {
	return strings.ReplaceAll(string(k), "_", " ")
}

// ParseKind converts s into a Kind. Returns ErrInvalidKind for unknown names.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.TrimSpace(s))
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
	}
	return k, nil
}

// Ref points at one entity by kind and id. It is the endpoint type for
// trash targets, parents, relationships, and audit entries.
type Ref struct {
	Kind Kind   `json:"kind"`
	ID   string `json:"id"`
}

// NewRef builds a Ref.
func NewRef(kind Kind, id string) Ref {
	return Ref{Kind: kind, ID: id}
}

// String renders the ref as "kind:id".
func (r Ref) String() string {
	return string(r.Kind) + ":" + r.ID
}

// IsZero reports whether the ref is unset.
func (r Ref) IsZero() bool {
	return r.Kind == "" && r.ID == ""
}

// Validate checks the kind and that the id is non-empty.
func (r Ref) Validate() error {
	if !r.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidKind, r.Kind)
	}
	if strings.TrimSpace(r.ID) == "" {
		return ErrInvalidID
	}
	return nil
}

// Less orders refs by kind, then id. Undirected relationships store the
// lesser endpoint first.
func (r Ref) Less(o Ref) bool {
	if r.Kind != o.Kind {
		return r.Kind < o.Kind
	}
	return r.ID < o.ID
}

// ParseRef parses the "kind:id" form produced by String.
func ParseRef(s string) (Ref, error) {
	kind, id, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return Ref{}, fmt.Errorf("%w: %q is not kind:id", ErrInvalidID, s)
	}
	k, err := ParseKind(kind)
	if err != nil {
		return Ref{}, err
	}
	r := Ref{Kind: k, ID: id}
	if err := r.Validate(); err != nil {
		return Ref{}, err
	}
	return r, nil
}
