package types

import (
	"context"
	"errors"
)

// Vault is the storage surface the CLI and embedding applications use.
// Callers attach to a backend, run operations, and detach when done.
// Every mutating operation commits atomically together with its audit entry.
type Vault interface {
	// Attach opens the store described by config, applying schema
	// migrations. Returns ErrAlreadyAttached if called while attached.
	Attach(config Config) error

	// Detach releases backend resources. Idempotent.
	Detach() error

	Entities
	Trash
	Snapshots
	Relationships
	Audit
	Integrity
}

// Entities is the minimal single-entity surface.
type Entities interface {
	Create(ctx context.Context, kind Kind, fields map[string]any) (Entity, error)
	Entity(ctx context.Context, ref Ref) (Entity, error)
	Update(ctx context.Context, ref Ref, fields map[string]any) (Entity, error)
	Children(ctx context.Context, ref Ref) ([]Entity, error)

	// Purge deletes ref and its subtree permanently, bypassing trash.
	Purge(ctx context.Context, ref Ref) error
}

// Trash captures subtrees before deletion and restores them.
type Trash interface {
	MoveToTrash(ctx context.Context, ref Ref) (TrashEntry, error)
	TrashEntry(ctx context.Context, id string) (TrashEntry, error)
	ListTrash(ctx context.Context, filter TrashFilter) ([]TrashEntry, error)
	Restore(ctx context.Context, id string, opts RestoreOptions) (RestoreResult, error)
	RemoveTrash(ctx context.Context, id string) error
	EmptyTrash(ctx context.Context) (int, error)
	PruneTrash(ctx context.Context, policy RetentionPolicy) (int, error)
}

// Snapshots manages whole-universe copies.
type Snapshots interface {
	CreateSnapshot(ctx context.Context, universeID, name string) (Snapshot, error)
	Snapshot(ctx context.Context, id string) (Snapshot, error)
	ListSnapshots(ctx context.Context, universeID string) ([]Snapshot, error)
	RestoreSnapshot(ctx context.Context, id string) (SnapshotRestoreResult, error)
	DeleteSnapshot(ctx context.Context, id string) error
}

// Relationships manages typed edges between entities.
type Relationships interface {
	CreateRelationshipType(ctx context.Context, name, description string, directed bool) (RelationshipType, error)
	RelationshipTypes(ctx context.Context) ([]RelationshipType, error)
	RelationshipTypeByName(ctx context.Context, name string) (RelationshipType, error)
	Link(ctx context.Context, typeID string, from, to Ref, note string) (Relationship, error)
	Unlink(ctx context.Context, id string) error
	Relationships(ctx context.Context, ref Ref) ([]Edge, error)
	RelationshipsByType(ctx context.Context, typeID string) ([]Relationship, error)
}

// Audit records and queries the append-only action log.
type Audit interface {
	Record(ctx context.Context, action string, ref Ref, details map[string]any) error
	AuditLog(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
	ExportAudit(ctx context.Context, path string) (int, error)
}

// Integrity inspects the store without changing it.
type Integrity interface {
	CheckIntegrity(ctx context.Context) (IntegrityReport, error)
}

// Lifecycle errors.
var (
	ErrDetached        = errors.New("vault is detached")
	ErrAlreadyAttached = errors.New("vault is already attached")
)
