package mapping

import (
	"github.com/openadcm/adcm/pkg/model"
)

// Entry is one requested mapping pair.
type Entry struct {
	HostID      int64 `json:"host_id"`
	ComponentID int64 `json:"component_id"`
}

// Diff is the difference between two mappings of a cluster.
type Diff struct {
	Added   []model.HCEntry `json:"added"`
	Removed []model.HCEntry `json:"removed"`
}

// Empty reports whether the mapping did not change.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0
}

// Compute diffs two mappings.
func Compute(prev, next []model.HCEntry) Diff {
	prevSet := make(map[model.HCEntry]bool, len(prev))
	for _, e := range prev {
		prevSet[e] = true
	}
	nextSet := make(map[model.HCEntry]bool, len(next))
	for _, e := range next {
		nextSet[e] = true
	}
	var d Diff
	for _, e := range next {
		if !prevSet[e] {
			d.Added = append(d.Added, e)
		}
	}
	for _, e := range prev {
		if !nextSet[e] {
			d.Removed = append(d.Removed, e)
		}
	}
	return d
}

// Entries strips storage identity from stored rows.
func Entries(rows []*model.HostComponent) []model.HCEntry {
	out := make([]model.HCEntry, len(rows))
	for i, hc := range rows {
		out[i] = hc.Entry()
	}
	return out
}
