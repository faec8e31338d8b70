package store

import "time"

// Record is an AI use-case intake submission. The content columns mirror the
// latest RecordVersion so list and detail reads never touch the history table.
type Record struct {
	ID               string
	Title            string
	RecordType       string
	BusinessProblem  string
	Description      string
	FrameworkTags    []string
	CapabilityGroups []string
	Status           string
	CreatedBy        string
	CreatedByName    string
	CreatedAt        time.Time
	CurrentVersion   int
}

// RecordVersion is an immutable snapshot of a record. Version numbers are
// contiguous per record, starting at 1.
type RecordVersion struct {
	ID               int64
	RecordID         string
	VersionNumber    int
	VersionType      string
	Title            string
	BusinessProblem  string
	Description      string
	FrameworkTags    []string
	CapabilityGroups []string
	Status           string
	CreatedBy        string
	CreatedByName    string
	CreatedAt        time.Time
}

// OverrideEvent is one audit row for a single changed metadata field within
// an override version.
type OverrideEvent struct {
	ID               int64
	RecordID         string
	VersionID        int64
	VersionNumber    int
	FieldPath        string
	OriginalValue    []string
	NewValue         []string
	OverriddenBy     string
	OverriddenByName string
	OverriddenAt     time.Time
}

type Comment struct {
	ID         string
	RecordID   string
	AuthorID   string
	AuthorName string
	Role       string
	Body       string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
