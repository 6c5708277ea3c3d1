package resource

import "fmt"

// ActionKind is an abstract lifecycle action.
type ActionKind string

const (
	ActionStart    ActionKind = "start"
	ActionStop     ActionKind = "stop"
	ActionRestart  ActionKind = "restart"
	ActionScale    ActionKind = "scale"
	ActionModify   ActionKind = "modify"
	ActionSnapshot ActionKind = "snapshot"
)

// ParseActionKind converts user input into an ActionKind.
func ParseActionKind(s string) (ActionKind, error) {
	switch k := ActionKind(s); k {
	case ActionStart, ActionStop, ActionRestart, ActionScale, ActionModify, ActionSnapshot:
		return k, nil
	}
	return "", fmt.Errorf("%w: unknown action %q", ErrValidation, s)
}

// ServiceAction is one requested action with its parameters.
type ServiceAction struct {
	Kind   ActionKind `json:"kind" validate:"required,oneof=start stop restart scale modify snapshot"`
	Params Params     `json:"params"`
}

// Params is a sparse patch. Nil fields are left untouched by the provider call.
type Params struct {
	Count            *int32   `json:"count,omitempty" validate:"omitempty,gte=0,lte=1000"`
	InstanceClass    *string  `json:"instance_class,omitempty" validate:"omitempty,min=3"`
	InstanceType     *string  `json:"instance_type,omitempty" validate:"omitempty,min=3"`
	StorageGB        *int32   `json:"storage_gb,omitempty" validate:"omitempty,gte=20,lte=65536"`
	MultiAZ          *bool    `json:"multi_az,omitempty"`
	ApplyImmediately *bool    `json:"apply_immediately,omitempty"`
	ForceFailover    *bool    `json:"force_failover,omitempty"`
	Force            *bool    `json:"force,omitempty"`
	NodeIDs          []string `json:"node_ids,omitempty" validate:"omitempty,dive,required"`
	NodeType         *string  `json:"node_type,omitempty" validate:"omitempty,min=3"`
	NumNodes         *int32   `json:"num_nodes,omitempty" validate:"omitempty,gte=1,lte=40"`
	SnapshotID       *string  `json:"snapshot_id,omitempty" validate:"omitempty,min=1,max=255"`
	TaskDefinition   *string  `json:"task_definition,omitempty" validate:"omitempty,min=1"`
}

// Empty reports whether no field is set.
func (p Params) Empty() bool {
	return p.Count == nil && p.InstanceClass == nil && p.InstanceType == nil &&
		p.StorageGB == nil && p.MultiAZ == nil && p.ApplyImmediately == nil &&
		p.ForceFailover == nil && p.Force == nil && len(p.NodeIDs) == 0 &&
		p.NodeType == nil && p.NumNodes == nil && p.SnapshotID == nil &&
		p.TaskDefinition == nil
}

// Int32 returns a pointer to v.
func Int32(v int32) *int32 { return &v }

// String returns a pointer to v.
func String(v string) *string { return &v }

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }
