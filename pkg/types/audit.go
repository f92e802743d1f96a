package types

import "time"

// Audit actions.
const (
	ActionTrashMoveAndDelete     = "trash_move_and_delete"
	ActionTrashRestore           = "trash_restore"
	ActionTrashPermanentDelete   = "trash_permanent_delete"
	ActionTrashEmpty             = "trash_empty"
	ActionTrashCleanup           = "trash_cleanup"
	ActionSnapshotCreate         = "snapshot_create"
	ActionSnapshotRestore        = "snapshot_restore"
	ActionSnapshotDelete         = "snapshot_delete"
	ActionEntityCreate           = "entity_create"
	ActionEntityUpdate           = "entity_update"
	ActionEntityPurge            = "entity_purge"
	ActionRelationshipLink       = "relationship_link"
	ActionRelationshipUnlink     = "relationship_unlink"
	ActionRelationshipTypeCreate = "relationship_type_create"
)

// AuditEntry is one append-only record of a mutating action.
type AuditEntry struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"ts"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Details    map[string]any `json:"details"`
}

// AuditFilter narrows AuditLog. Zero values match everything.
type AuditFilter struct {
	Action     string
	EntityType string
	EntityID   string
	Since      time.Time
	Limit      int
}
