package resource

// DiffType represents the type of change detected between two discovery passes.
type DiffType string

const (
	// DiffAdded indicates a new resource was discovered.
	DiffAdded DiffType = "added"
	// DiffDeleted indicates a resource no longer exists.
	DiffDeleted DiffType = "deleted"
	// DiffModified indicates a resource's properties changed.
	DiffModified DiffType = "modified"
)

// Change represents a single field change.
// The field name is the map key in ResourceDiff.Changes.
type Change struct {
	Previous string `json:"previous"`
	Current  string `json:"current"`
}

// ResourceDiff represents a detected change in a resource.
type ResourceDiff struct {
	Type     DiffType          `json:"type"`
	Resource Resource          `json:"resource"`
	Previous *Resource         `json:"previous,omitempty"` // nil for added resources
	Changes  map[string]Change `json:"changes,omitempty"`  // field name → change details
}
