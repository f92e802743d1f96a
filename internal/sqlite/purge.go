package sqlite

import (
	"context"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/lorevault/pkg/types"
)

// Purge deletes ref and its subtree permanently without capturing it.
// Every relationship touching a purged entity is removed in the same
// transaction, and so is every board association or location reference
// left pointing at a purged entity.
func (b *Backend) Purge(ctx context.Context, ref types.Ref) error {
	if err := ref.Validate(); err != nil {
		return opErr("purge", ref, err)
	}

	var members, edges int
	err := b.inTx(ctx, "entity_purge", func(s *txScope) error {
		p, err := capture(ctx, s.tx, ref, false)
		if err != nil {
			return err
		}
		if err := deleteRelationships(ctx, s.tx, p.Relationships); err != nil {
			return err
		}
		if err := withDeletionGrant(ctx, s.tx, "purge "+ref.String(), b.timestamp(), func() error {
			return deleteEntity(ctx, s.tx, ref)
		}); err != nil {
			return err
		}
		cleared, err := clearDanglingReferences(ctx, s.tx, b.timestamp())
		if err != nil {
			return err
		}

		members, edges = len(p.Entities), len(p.Relationships)
		b.audit(ctx, s, types.ActionEntityPurge, ref, map[string]any{
			"members":            members,
			"relationships":      edges,
			"cleared_references": cleared,
		})
		return nil
	})
	if err != nil {
		return opErr("purge", ref, err)
	}
	b.log.Debug("purged", zap.String("ref", ref.String()), zap.Int("members", members), zap.Int("relationships", edges))
	return nil
}
