package sqlite

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mesh-intelligence/lorevault/internal/graph"
	"github.com/mesh-intelligence/lorevault/pkg/types"
)

// capture reads the subtree rooted at root into a payload. The walk is
// breadth-first over graph.Children with a visited set, so entities come
// out owners-first and siblings in their ordering key. When
// withAssociations is set, association edges from the root widen the
// scope (used by snapshots). The payload also holds every relationship
// touching a member and the types those relationships use.
//
// capture must run inside the transaction that acts on the result.
func capture(ctx context.Context, q queryer, root types.Ref, withAssociations bool) (*types.Payload, error) {
	rootEntity, err := loadEntity(ctx, q, root)
	if err != nil {
		return nil, err
	}

	p := &types.Payload{
		Version:  types.PayloadVersion,
		Root:     root,
		Entities: []types.Entity{rootEntity},
	}
	visited := map[types.Ref]bool{root: true}
	queue := []types.Entity{rootEntity}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		edges := graph.Children(cur.Kind)
		if withAssociations && cur.Ref() == root {
			edges = append(edges, graph.Associations(cur.Kind)...)
		}
		for _, edge := range edges {
			n, err := graph.Lookup(edge.Owned)
			if err != nil {
				return nil, err
			}
			where := edge.Column + " = ?"
			if edge.Where != "" {
				where += " AND " + edge.Where
			}
			kids, err := selectEntities(ctx, q, n, where, n.Order, cur.ID)
			if err != nil {
				return nil, err
			}
			for _, k := range kids {
				if visited[k.Ref()] {
					continue
				}
				visited[k.Ref()] = true
				p.Entities = append(p.Entities, k)
				queue = append(queue, k)
			}
		}
	}

	rels, err := relationshipsTouching(ctx, q, visited)
	if err != nil {
		return nil, err
	}
	rts, err := typesFor(ctx, q, rels)
	if err != nil {
		return nil, err
	}
	p.Relationships = rels
	p.RelationshipTypes = rts
	return p, nil
}

// describe summarizes a payload for the trash listing, e.g.
// "chapter with 3 scenes, 1 relationship".
func describe(p *types.Payload) string {
	var parts []string
	counts := p.CountByKind()
	counts[p.Root.Kind]--
	for _, n := range graph.Nodes() {
		c := counts[n.Kind]
		if c <= 0 {
			continue
		}
		if c == 1 {
			parts = append(parts, "1 "+n.Kind.Noun())
		} else {
			parts = append(parts, fmt.Sprintf("%d %s", c, n.Plural))
		}
	}
	switch len(p.Relationships) {
	case 0:
	case 1:
		parts = append(parts, "1 relationship")
	default:
		parts = append(parts, fmt.Sprintf("%d relationships", len(p.Relationships)))
	}
	if len(parts) == 0 {
		return p.Root.Kind.Noun()
	}
	return p.Root.Kind.Noun() + " with " + strings.Join(parts, ", ")
}

// memberRefs returns the payload's members sorted by kind then id.
func memberRefs(p *types.Payload) []types.Ref {
	out := make([]types.Ref, 0, len(p.Entities))
	for _, e := range p.Entities {
		out = append(out, e.Ref())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
