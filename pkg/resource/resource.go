// Package resource defines the unified resource model for cirrus.
package resource

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Family is a class of cloud resource with its own status vocabulary and action set.
type Family string

const (
	FamilyService      Family = "compute-service"
	FamilyDatabase     Family = "managed-database"
	FamilyCache        Family = "cache-cluster"
	FamilyInstance     Family = "compute-instance"
	FamilyBucket       Family = "object-store"
	FamilyLoadBalancer Family = "load-balancer"
	FamilyDistribution Family = "cdn-distribution"
	FamilyNetwork      Family = "virtual-network"
)

// Families returns every known family in display order.
func Families() []Family {
	return []Family{
		FamilyService,
		FamilyDatabase,
		FamilyCache,
		FamilyInstance,
		FamilyBucket,
		FamilyLoadBalancer,
		FamilyDistribution,
		FamilyNetwork,
	}
}

// Valid reports whether f is one of the known families.
func (f Family) Valid() bool {
	for _, known := range Families() {
		if f == known {
			return true
		}
	}
	return false
}

// GroupScoped reports whether the family's provider IDs are only unique
// within their group. Their resource IDs are stored as group/name.
func (f Family) GroupScoped() bool {
	return f == FamilyService
}

// QualifyID joins a group and a group-local name into a resource ID.
func QualifyID(group, name string) string {
	if group == "" {
		return name
	}
	return group + "/" + name
}

// Status is the family-agnostic canonical status.
type Status string

const (
	StatusRunning     Status = "running"
	StatusStopped     Status = "stopped"
	StatusPending     Status = "pending"
	StatusAvailable   Status = "available"
	StatusUnavailable Status = "unavailable"
	StatusError       Status = "error"
)

// Good reports whether the status counts as healthy for rollups.
func (s Status) Good() bool {
	return s == StatusRunning || s == StatusAvailable
}

// Idle reports whether the resource is expected to report zero utilization.
func (s Status) Idle() bool {
	return s == StatusStopped || s == StatusUnavailable || s == StatusError
}

// Resource represents a cloud resource in unified format.
type Resource struct {
	Family       Family            `json:"family"`
	ID           string            `json:"id"`              // Provider identifier (e.g., "i-abc123")
	Name         string            `json:"name"`            // Human-readable name
	Region       string            `json:"region"`          // Region, or "global"
	Group        string            `json:"group,omitempty"` // Parent group (e.g., ECS cluster)
	Status       Status            `json:"status"`
	NativeStatus string            `json:"native_status"` // Status as reported by the provider
	Labels       map[string]string `json:"labels,omitempty"`
	Attrs        Attributes        `json:"attrs,omitempty"`
	ScannedAt    time.Time         `json:"scanned_at"`
}

// Key returns the address used to target the resource with actions.
func (r Resource) Key() Key {
	return Key{Family: r.Family, Region: r.Region, Group: r.Group, ID: r.ID}
}

// DisplayName returns Name, falling back to ID.
func (r Resource) DisplayName() string {
	if r.Name != "" {
		return r.Name
	}
	return r.ID
}

// MarshalJSON encodes attrs with their family, see EncodeAttributes.
func (r Resource) MarshalJSON() ([]byte, error) {
	type plain Resource
	out := struct {
		plain
		Attrs json.RawMessage `json:"attrs,omitempty"`
	}{plain: plain(r)}
	if r.Attrs != nil {
		raw, err := EncodeAttributes(r.Attrs)
		if err != nil {
			return nil, fmt.Errorf("encode %s attrs: %w", r.Family, err)
		}
		out.Attrs = raw
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes attrs into the concrete variant selected by family.
func (r *Resource) UnmarshalJSON(data []byte) error {
	type plain Resource
	var raw struct {
		plain
		Attrs json.RawMessage `json:"attrs,omitempty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = Resource(raw.plain)
	r.Attrs = nil
	if len(raw.Attrs) == 0 || string(raw.Attrs) == "null" {
		return nil
	}
	attrs, err := DecodeAttributes(r.Family, raw.Attrs)
	if err != nil {
		return fmt.Errorf("decode %s attrs: %w", r.Family, err)
	}
	r.Attrs = attrs
	return nil
}

// Key addresses one resource: (family, region, id) plus the optional parent group.
type Key struct {
	Family Family `json:"family"`
	Region string `json:"region"`
	Group  string `json:"group,omitempty"`
	ID     string `json:"id"`
}

// String renders family/region/id or family/region/group/id. A group-scoped
// ID is rendered once, without repeating its group.
func (k Key) String() string {
	if k.Group != "" {
		return string(k.Family) + "/" + k.Region + "/" + k.Group + "/" + k.LocalID()
	}
	return string(k.Family) + "/" + k.Region + "/" + k.ID
}

// LocalID returns the provider name of a group-scoped resource, e.g. the ECS
// service name. For other families it is ID.
func (k Key) LocalID() string {
	if k.Family.GroupScoped() && k.Group != "" {
		return strings.TrimPrefix(k.ID, k.Group+"/")
	}
	return k.ID
}

// Canonical qualifies the ID of a group-scoped key that carries a bare name.
func (k Key) Canonical() Key {
	if k.Family.GroupScoped() && k.Group != "" && !strings.HasPrefix(k.ID, k.Group+"/") {
		k.ID = QualifyID(k.Group, k.ID)
	}
	return k
}

// Matches reports whether the key addresses r. An empty Group matches any group.
func (k Key) Matches(r Resource) bool {
	k = k.Canonical()
	if r.Family != k.Family || r.Region != k.Region {
		return false
	}
	if k.Group == "" {
		return r.ID == k.ID
	}
	return r.Group == k.Group && r.ID == k.ID
}

// ParseKey parses the output of Key.String. Group-scoped families require
// the group segment.
func ParseKey(s string) (Key, error) {
	parts := strings.SplitN(s, "/", 4)
	for _, p := range parts {
		if p == "" {
			return Key{}, fmt.Errorf("parse key %q: empty segment", s)
		}
	}
	switch len(parts) {
	case 3:
		if Family(parts[0]).GroupScoped() {
			return Key{}, fmt.Errorf("parse key %q: %s needs family/region/group/id", s, parts[0])
		}
		return Key{Family: Family(parts[0]), Region: parts[1], ID: parts[2]}, nil
	case 4:
		k := Key{Family: Family(parts[0]), Region: parts[1], Group: parts[2], ID: parts[3]}
		return k.Canonical(), nil
	default:
		return Key{}, fmt.Errorf("parse key %q: want family/region/[group/]id", s)
	}
}

// ScanResult holds the outcome of one adapter's discovery pass.
type ScanResult struct {
	Family    Family
	Resources []Resource
	Duration  time.Duration
	Error     error
}
