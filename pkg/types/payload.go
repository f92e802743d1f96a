package types

// PayloadVersion is written into every encoded payload. Decoders reject
// payloads from a newer version.
const PayloadVersion = 1

// Payload is the serialized form of a captured subtree. Entities are in
// top-down dependency order: every entity appears after its owner, and
// siblings keep their ordering key. Relationships are every edge that
// touched a member at capture time, with the types they use.
type Payload struct {
	Version           int                `json:"version"`
	Root              Ref                `json:"root"`
	Entities          []Entity           `json:"entities"`
	Relationships     []Relationship     `json:"relationships"`
	RelationshipTypes []RelationshipType `json:"relationship_types"`
}

// Members returns the set of refs captured in the payload.
func (p *Payload) Members() map[Ref]bool {
	set := make(map[Ref]bool, len(p.Entities))
	for _, e := range p.Entities {
		set[e.Ref()] = true
	}
	return set
}

// RootEntity returns the entity named by Root.
func (p *Payload) RootEntity() (Entity, bool) {
	for _, e := range p.Entities {
		if e.Ref() == p.Root {
			return e, true
		}
	}
	return Entity{}, false
}

// CountByKind returns how many captured entities there are of each kind.
func (p *Payload) CountByKind() map[Kind]int {
	counts := make(map[Kind]int)
	for _, e := range p.Entities {
		counts[e.Kind]++
	}
	return counts
}

// AddRelationship appends rel and its type unless they are already present.
func (p *Payload) AddRelationship(rel Relationship, rt RelationshipType) {
	seen := false
	for _, r := range p.Relationships {
		if r.ID == rel.ID {
			seen = true
			break
		}
	}
	if !seen {
		p.Relationships = append(p.Relationships, rel)
	}
	for _, t := range p.RelationshipTypes {
		if t.ID == rt.ID {
			return
		}
	}
	p.RelationshipTypes = append(p.RelationshipTypes, rt)
}
