package types

import "time"

// Snapshot is a compressed, point-in-time copy of one universe, its owned
// subtree, its associated boards, and every relationship touching them.
type Snapshot struct {
	ID         string    `json:"id"`
	UniverseID string    `json:"universe_id"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at"`

	// SizeBytes is the encoded payload size before compression.
	SizeBytes int64 `json:"size_bytes"`
	// CompressedBytes is the stored blob size.
	CompressedBytes int64 `json:"compressed_bytes"`
	// EntityCount is the number of captured entities.
	EntityCount int `json:"entity_count"`
}

// SnapshotRestoreResult describes a completed snapshot restore.
type SnapshotRestoreResult struct {
	SnapshotID string `json:"snapshot_id"`
	Universe   Ref    `json:"universe"`
	// Removed counts live entities dropped before reinsertion.
	Removed int `json:"removed"`
	// Restored counts entities written from the snapshot.
	Restored   int                   `json:"restored"`
	Reattached []Relationship        `json:"reattached"`
	Skipped    []SkippedRelationship `json:"skipped"`
	Cleared    []Reference           `json:"cleared_references,omitempty"`
}
