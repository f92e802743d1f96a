package types

import (
	"fmt"
	"time"
)

// TrashEntry is a deleted subtree held for later restore.
type TrashEntry struct {
	ID        string    `json:"id"`
	DeletedAt time.Time `json:"deleted_at"`

	// Target is the root of the captured subtree.
	Target Ref `json:"target"`

	// Parent is the owner of Target at delete time; nil for root kinds.
	Parent *Ref `json:"parent,omitempty"`

	DisplayName string `json:"display_name"`
	DisplayInfo string `json:"display_info"`

	// MemberCount is the number of captured entities, root included.
	MemberCount int `json:"member_count"`

	// Payload is only populated by single-entry lookups.
	Payload *Payload `json:"payload,omitempty"`
}

// TrashFilter narrows ListTrash. Zero values match everything.
type TrashFilter struct {
	Kind     Kind
	ParentID string
	Limit    int
}

// RetentionPolicy decides which trash entries are old enough to prune.
type RetentionPolicy interface {
	// Cutoff returns the instant before which entries expire.
	Cutoff(now time.Time) time.Time
}

// MaxAge expires entries deleted more than Age ago.
type MaxAge time.Duration

// Cutoff implements RetentionPolicy.
func (m MaxAge) Cutoff(now time.Time) time.Time {
	return now.Add(-time.Duration(m))
}

// Days builds a MaxAge policy from a number of days.
func Days(n int) MaxAge {
	return MaxAge(time.Duration(n) * 24 * time.Hour)
}

// PositionPolicy controls the ordering key of a restored root.
type PositionPolicy string

// Position policies.
const (
	// PositionKeep restores the stored position and shifts live siblings
	// at or after it down by one.
	PositionKeep PositionPolicy = "keep"
	// PositionAppend places the root after its last live sibling.
	PositionAppend PositionPolicy = "append"
	// PositionFail rejects the restore when the stored slot is taken.
	PositionFail PositionPolicy = "fail"
)

// NamePolicy controls the label of a restored root when a live sibling
// already uses it.
type NamePolicy string

// Name policies.
const (
	NameKeep   NamePolicy = "keep"
	NameRename NamePolicy = "rename"
	NameFail   NamePolicy = "fail"
)

// RestoreOptions parameterizes Restore. Empty fields take backend defaults.
type RestoreOptions struct {
	Position PositionPolicy `json:"position_policy" yaml:"position_policy"`
	Name     NamePolicy     `json:"name_policy" yaml:"name_policy"`
}

// WithDefaults fills empty fields from d.
func (o RestoreOptions) WithDefaults(d RestoreOptions) RestoreOptions {
	if o.Position == "" {
		o.Position = d.Position
	}
	if o.Name == "" {
		o.Name = d.Name
	}
	return o
}

// Validate rejects unknown policies. Empty fields are allowed.
func (o RestoreOptions) Validate() error {
	switch o.Position {
	case "", PositionKeep, PositionAppend, PositionFail:
	default:
		return fmt.Errorf("%w: position %q", ErrInvalidPolicy, o.Position)
	}
	switch o.Name {
	case "", NameKeep, NameRename, NameFail:
	default:
		return fmt.Errorf("%w: name %q", ErrInvalidPolicy, o.Name)
	}
	return nil
}

// SkipReason says why a captured relationship was not reattached.
type SkipReason string

// Skip reasons.
const (
	// SkipMissingEndpoint: the other endpoint no longer exists anywhere.
	SkipMissingEndpoint SkipReason = "missing_endpoint"
	// SkipDuplicate: an equivalent edge is already live.
	SkipDuplicate SkipReason = "duplicate"
	// SkipDeferred: the other endpoint is in another trash entry; the edge
	// was handed to that entry and reattaches when it is restored.
	SkipDeferred SkipReason = "deferred"
)

// SkippedRelationship reports one edge that was not reattached.
type SkippedRelationship struct {
	Relationship Relationship `json:"relationship"`
	Reason       SkipReason   `json:"reason"`
	// TrashID is set for SkipDeferred.
	TrashID string `json:"trash_id,omitempty"`
}

// RestoreResult describes a completed restore.
type RestoreResult struct {
	TrashID        string                `json:"trash_id"`
	Root           Ref                   `json:"root"`
	Restored       []Ref                 `json:"restored"`
	Reattached     []Relationship        `json:"reattached"`
	Skipped        []SkippedRelationship `json:"skipped"`
	RecreatedTypes []RelationshipType    `json:"recreated_types"`
	// Cleared lists reference columns emptied because their target no
	// longer exists anywhere.
	Cleared []Reference `json:"cleared_references,omitempty"`
	// Renamed is the new label when the name policy changed it.
	Renamed string `json:"renamed,omitempty"`
	// Position is the root's final position when its kind is ordered.
	Position *int64 `json:"position,omitempty"`
}
