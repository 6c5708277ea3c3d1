// Package filter selects resources from a discovery snapshot.
package filter

import (
	"fmt"
	"strings"

	"github.com/yairfalse/cirrus/internal/plugin"
	"github.com/yairfalse/cirrus/pkg/resource"
)

// Options configure a Filter. Empty fields match everything.
type Options struct {
	Families      []resource.Family
	Statuses      []resource.Status
	IncludeLabels map[string]string
	ExcludeLabels map[string]string
}

// Filter controls which families and resources are shown.
type Filter struct {
	families      map[resource.Family]bool
	statuses      map[resource.Status]bool
	includeLabels map[string]string
	excludeLabels map[string]string
}

// New validates opts and builds a Filter.
func New(opts Options) (*Filter, error) {
	f := &Filter{
		families:      make(map[resource.Family]bool, len(opts.Families)),
		statuses:      make(map[resource.Status]bool, len(opts.Statuses)),
		includeLabels: opts.IncludeLabels,
		excludeLabels: opts.ExcludeLabels,
	}
	for _, fam := range opts.Families {
		if !fam.Valid() {
			return nil, fmt.Errorf("%w: unknown family %q", resource.ErrValidation, fam)
		}
		f.families[fam] = true
	}
	for _, s := range opts.Statuses {
		if !validStatus(s) {
			return nil, fmt.Errorf("%w: unknown status %q", resource.ErrValidation, s)
		}
		f.statuses[s] = true
	}
	return f, nil
}

func validStatus(s resource.Status) bool {
	switch s {
	case resource.StatusRunning, resource.StatusStopped, resource.StatusPending,
		resource.StatusAvailable, resource.StatusUnavailable, resource.StatusError:
		return true
	}
	return false
}

// ShouldIncludeFamily reports whether resources of f are shown.
func (f *Filter) ShouldIncludeFamily(fam resource.Family) bool {
	return len(f.families) == 0 || f.families[fam]
}

// ShouldIncludeResource reports whether r passes status and label filters.
func (f *Filter) ShouldIncludeResource(r resource.Resource) bool {
	if !f.ShouldIncludeFamily(r.Family) {
		return false
	}
	if len(f.statuses) > 0 && !f.statuses[r.Status] {
		return false
	}

	// ALL include labels must match
	for k, v := range f.includeLabels {
		if r.Labels[k] != v {
			return false
		}
	}

	// ANY exclude label excludes
	for k, v := range f.excludeLabels {
		if got, ok := r.Labels[k]; ok && got == v {
			return false
		}
	}
	return true
}

// Apply returns a copy of snap holding only the selected families and
// resources. Failure details are kept for selected families.
func (f *Filter) Apply(snap plugin.Snapshot) plugin.Snapshot {
	if f.IsEmpty() {
		return snap
	}

	out := snap
	out.Resources = make(map[resource.Family][]resource.Resource, len(snap.Resources))
	out.Failed = make(map[resource.Family]string, len(snap.Failed))

	for fam, rs := range snap.Resources {
		if !f.ShouldIncludeFamily(fam) {
			continue
		}
		kept := make([]resource.Resource, 0, len(rs))
		for _, r := range rs {
			if f.ShouldIncludeResource(r) {
				kept = append(kept, r)
			}
		}
		out.Resources[fam] = kept
	}
	for fam, reason := range snap.Failed {
		if f.ShouldIncludeFamily(fam) {
			out.Failed[fam] = reason
		}
	}
	return out
}

// IsEmpty returns true if no filters are configured.
func (f *Filter) IsEmpty() bool {
	return len(f.families) == 0 && len(f.statuses) == 0 &&
		len(f.includeLabels) == 0 && len(f.excludeLabels) == 0
}

// ParseLabels parses key=value pairs.
func ParseLabels(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("%w: label %q must be key=value", resource.ErrValidation, p)
		}
		out[k] = v
	}
	return out, nil
}

// ParseFamilies converts and splits comma-separated family names.
func ParseFamilies(values []string) []resource.Family {
	var out []resource.Family
	for _, v := range splitAll(values) {
		out = append(out, resource.Family(v))
	}
	return out
}

// ParseStatuses converts and splits comma-separated statuses.
func ParseStatuses(values []string) []resource.Status {
	var out []resource.Status
	for _, v := range splitAll(values) {
		out = append(out, resource.Status(v))
	}
	return out
}

func splitAll(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
