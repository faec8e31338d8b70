package version

// Version types. The type is declared by the caller when saving, never
// inferred from the computed diff.
const (
	TypeEdit     = "edit"
	TypeOverride = "override"
)

// Tracked field paths.
const (
	FieldBusinessProblem  = "business_problem"
	FieldDescription      = "description"
	FieldFrameworkTags    = "ai_metadata.framework_tags"
	FieldCapabilityGroups = "ai_metadata.capability_groups"
)

// Snapshot is the comparable content of a record at one version.
type Snapshot struct {
	BusinessProblem  string
	Description      string
	FrameworkTags    []string
	CapabilityGroups []string
}

// FieldDiff reports one comparable field of a two-version comparison. Base
// and Compare carry the raw values regardless of whether the field changed.
type FieldDiff struct {
	Field   string `json:"field"`
	Changed bool   `json:"changed"`
	Base    any    `json:"base"`
	Compare any    `json:"compare"`
}

// Diff compares two snapshots field by field. Text fields compare by exact
// string equality, tag fields as sets. The changed flags are symmetric in
// argument order.
func Diff(base, compare Snapshot) []FieldDiff {
	return []FieldDiff{
		{
			Field:   FieldBusinessProblem,
			Changed: base.BusinessProblem != compare.BusinessProblem,
			Base:    base.BusinessProblem,
			Compare: compare.BusinessProblem,
		},
		{
			Field:   FieldDescription,
			Changed: base.Description != compare.Description,
			Base:    base.Description,
			Compare: compare.Description,
		},
		{
			Field:   FieldFrameworkTags,
			Changed: !SameSet(base.FrameworkTags, compare.FrameworkTags),
			Base:    nonNil(base.FrameworkTags),
			Compare: nonNil(compare.FrameworkTags),
		},
		{
			Field:   FieldCapabilityGroups,
			Changed: !SameSet(base.CapabilityGroups, compare.CapabilityGroups),
			Base:    nonNil(base.CapabilityGroups),
			Compare: nonNil(compare.CapabilityGroups),
		},
	}
}

// Delta is one changed metadata field of an override, destined for the
// audit trail.
type Delta struct {
	FieldPath     string
	OriginalValue []string
	NewValue      []string
}

// Overrides returns one delta per tracked metadata field whose value
// actually changed between the previous and proposed snapshot. Unchanged
// fields produce nothing.
func Overrides(previous, proposed Snapshot) []Delta {
	var deltas []Delta
	if !SameSet(previous.FrameworkTags, proposed.FrameworkTags) {
		deltas = append(deltas, Delta{
			FieldPath:     FieldFrameworkTags,
			OriginalValue: nonNil(previous.FrameworkTags),
			NewValue:      nonNil(proposed.FrameworkTags),
		})
	}
	if !SameSet(previous.CapabilityGroups, proposed.CapabilityGroups) {
		deltas = append(deltas, Delta{
			FieldPath:     FieldCapabilityGroups,
			OriginalValue: nonNil(previous.CapabilityGroups),
			NewValue:      nonNil(proposed.CapabilityGroups),
		})
	}
	return deltas
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
