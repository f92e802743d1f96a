package types

// Reference is one non-owning pointer column: Entity's Column holds the
// id of Target.
type Reference struct {
	Entity Ref    `json:"entity"`
	Column string `json:"column"`
	Target Ref    `json:"target"`
}

// ForeignKeyViolation is one row reported by the store's foreign key check.
type ForeignKeyViolation struct {
	Table  string `json:"table"`
	RowID  int64  `json:"rowid"`
	Parent string `json:"parent"`
}

// IntegrityReport lists everything an integrity check found wrong.
type IntegrityReport struct {
	SchemaVersion uint `json:"schema_version"`
	Dirty         bool `json:"dirty"`

	ForeignKeys []ForeignKeyViolation `json:"foreign_keys,omitempty"`

	// Dangling holds relationships with an endpoint that is not live.
	Dangling []Relationship `json:"dangling,omitempty"`

	// OrphanBoards holds boards associated with a universe that is neither
	// live nor in the trash.
	OrphanBoards []Ref `json:"orphan_boards,omitempty"`

	// BrokenReferences holds reference columns pointing at an entity that
	// is neither live nor in the trash.
	BrokenReferences []Reference `json:"broken_references,omitempty"`

	// Grants counts deletion grants left behind by a broken transaction.
	Grants int `json:"grants"`
}

// OK reports whether the report is clean.
func (r IntegrityReport) OK() bool {
	return !r.Dirty && len(r.ForeignKeys) == 0 && len(r.Dangling) == 0 &&
		len(r.OrphanBoards) == 0 && len(r.BrokenReferences) == 0 && r.Grants == 0
}
