// Package version computes record snapshots, field-level diffs between two
// snapshots, and the override deltas recorded in the audit trail.
package version

import (
	"strings"
	"time"
	_ "time/tzdata"
)

// Toronto is the fixed timezone used for every stored and displayed
// timestamp in the system.
var Toronto = mustLoadToronto()

func mustLoadToronto() *time.Location {
	loc, err := time.LoadLocation("America/Toronto")
	if err != nil {
		panic("load America/Toronto: " + err.Error())
	}
	return loc
}

// Now returns the current time in Toronto.
func Now() time.Time {
	return time.Now().In(Toronto)
}

// ParseList turns comma-separated user input into a clean list: entries are
// trimmed, empty tokens dropped, and duplicates removed keeping first-seen
// order.
func ParseList(raw string) []string {
	parts := strings.Split(raw, ",")
	seen := make(map[string]struct{}, len(parts))
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		item := strings.TrimSpace(part)
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		items = append(items, item)
	}
	return items
}

// SameSet compares two tag lists as sets: order and duplicates do not count
// as a difference.
func SameSet(a, b []string) bool {
	setA := make(map[string]struct{}, len(a))
	for _, item := range a {
		setA[item] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, item := range b {
		setB[item] = struct{}{}
	}
	if len(setA) != len(setB) {
		return false
	}
	for item := range setA {
		if _, ok := setB[item]; !ok {
			return false
		}
	}
	return true
}
