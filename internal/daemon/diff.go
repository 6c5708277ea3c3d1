package daemon

import (
	"encoding/json"
	"maps"
	"sort"
	"sync"

	"github.com/yairfalse/cirrus/internal/plugin"
	"github.com/yairfalse/cirrus/pkg/resource"
)

// DiffTracker tracks resource state between discovery passes and detects changes.
type DiffTracker struct {
	mu          sync.Mutex
	previous    map[string]resource.Resource
	initialized bool
}

// NewDiffTracker creates a new diff tracker.
func NewDiffTracker() *DiffTracker {
	return &DiffTracker{
		previous: make(map[string]resource.Resource),
	}
}

// Observe compares the snapshot against the previous baseline and makes it
// the new baseline. It returns nil on the first pass.
//
// Families listed in snap.Failed are unknown, not empty: their previous
// resources are carried forward and never reported as deleted.
func (d *DiffTracker) Observe(snap plugin.Snapshot) []resource.ResourceDiff {
	d.mu.Lock()
	defer d.mu.Unlock()

	current := make(map[string]resource.Resource)
	for family, rs := range snap.Resources {
		if _, failed := snap.Failed[family]; failed {
			continue
		}
		for _, r := range rs {
			current[r.Key().String()] = r
		}
	}
	for key, prev := range d.previous {
		if _, failed := snap.Failed[prev.Family]; failed {
			current[key] = prev
		}
	}

	var diffs []resource.ResourceDiff
	if d.initialized {
		diffs = make([]resource.ResourceDiff, 0)
		diffs = append(diffs, d.findDeletedAndModified(current)...)
		diffs = append(diffs, d.findAdded(current)...)
		sortDiffs(diffs)
	}

	d.previous = current
	d.initialized = true
	return diffs
}

// Len returns the number of resources in the baseline.
func (d *DiffTracker) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.previous)
}

func (d *DiffTracker) findDeletedAndModified(current map[string]resource.Resource) []resource.ResourceDiff {
	var diffs []resource.ResourceDiff
	for key, prev := range d.previous {
		prevCopy := prev
		curr, exists := current[key]
		if !exists {
			diffs = append(diffs, resource.ResourceDiff{
				Type:     resource.DiffDeleted,
				Resource: prev,
				Previous: &prevCopy,
			})
			continue
		}
		if changes := detectChanges(prev, curr); len(changes) > 0 {
			diffs = append(diffs, resource.ResourceDiff{
				Type:     resource.DiffModified,
				Resource: curr,
				Previous: &prevCopy,
				Changes:  changes,
			})
		}
	}
	return diffs
}

func (d *DiffTracker) findAdded(current map[string]resource.Resource) []resource.ResourceDiff {
	var diffs []resource.ResourceDiff
	for key, curr := range current {
		if _, exists := d.previous[key]; !exists {
			diffs = append(diffs, resource.ResourceDiff{
				Type:     resource.DiffAdded,
				Resource: curr,
			})
		}
	}
	return diffs
}

func sortDiffs(diffs []resource.ResourceDiff) {
	sort.Slice(diffs, func(i, j int) bool {
		if diffs[i].Type != diffs[j].Type {
			return diffs[i].Type < diffs[j].Type
		}
		return diffs[i].Resource.Key().String() < diffs[j].Resource.Key().String()
	})
}

// detectChanges compares two resources and returns detected field changes.
// ScannedAt is excluded as it changes on every pass.
func detectChanges(prev, curr resource.Resource) map[string]resource.Change {
	changes := make(map[string]resource.Change)

	if prev.Name != curr.Name {
		changes["name"] = resource.Change{Previous: prev.Name, Current: curr.Name}
	}
	if prev.Status != curr.Status {
		changes["status"] = resource.Change{Previous: string(prev.Status), Current: string(curr.Status)}
	}
	if prev.NativeStatus != curr.NativeStatus {
		changes["native_status"] = resource.Change{Previous: prev.NativeStatus, Current: curr.NativeStatus}
	}
	if !maps.Equal(prev.Labels, curr.Labels) {
		changes["labels"] = resource.Change{Previous: toJSON(prev.Labels), Current: toJSON(curr.Labels)}
	}
	if p, c := toJSON(prev.Attrs), toJSON(curr.Attrs); p != c {
		changes["attrs"] = resource.Change{Previous: p, Current: c}
	}

	return changes
}

// toJSON renders v deterministically; map keys are sorted by encoding/json.
func toJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil || string(b) == "null" {
		return "{}"
	}
	return string(b)
}
