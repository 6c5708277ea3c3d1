package offline

import (
	"context"
	"fmt"

	"github.com/yairfalse/cirrus/pkg/resource"
)

const (
	serviceStartCount   int32 = 2
	serviceScaleCount   int32 = 1
	serviceRestartCount int32 = 2
)

type handler struct {
	cloud  *Cloud
	family resource.Family
	kinds  []resource.ActionKind
}

func (h *handler) Family() resource.Family { return h.family }

func (h *handler) Kinds() []resource.ActionKind { return h.kinds }

func (h *handler) Execute(ctx context.Context, key resource.Key, action resource.ServiceAction) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return h.cloud.mutate(key, func(r *resource.Resource) (map[string]any, error) {
		switch h.family {
		case resource.FamilyService:
			return applyService(r, action)
		case resource.FamilyDatabase:
			return h.cloud.applyDatabase(r, action)
		case resource.FamilyCache:
			return h.cloud.applyCache(r, action)
		case resource.FamilyInstance:
			return applyInstance(r, action)
		case resource.FamilyDistribution:
			return applyDistribution(r, action)
		}
		return nil, fmt.Errorf("%w: %s on %s", resource.ErrUnsupportedAction, action.Kind, h.family)
	})
}

// serviceHandler adds scaling so the engine can emulate restart.
type serviceHandler struct {
	handler
}

func (h *serviceHandler) DefaultCount() int32 { return serviceRestartCount }

func (h *serviceHandler) ScaleTo(ctx context.Context, key resource.Key, count int32) (map[string]any, error) {
	return h.Execute(ctx, key, resource.ServiceAction{
		Kind:   resource.ActionScale,
		Params: resource.Params{Count: &count},
	})
}

func (h *serviceHandler) ValidateAction(action resource.ServiceAction) error {
	if action.Kind == resource.ActionModify && action.Params.TaskDefinition == nil && action.Params.Count == nil {
		return fmt.Errorf("%w: modify on %s needs task_definition or count", resource.ErrValidation, resource.FamilyService)
	}
	return nil
}

func invalidState(r *resource.Resource, want string) error {
	return fmt.Errorf("InvalidState: %s is %s, want %s", r.ID, r.NativeStatus, want)
}

func applyService(r *resource.Resource, action resource.ServiceAction) (map[string]any, error) {
	attrs, _ := r.Attrs.(resource.ServiceAttrs)
	p := action.Params

	setCount := func(n int32) {
		attrs.DesiredCount = n
		attrs.RunningCount = n
		attrs.PendingCount = 0
	}

	switch action.Kind {
	case resource.ActionStart:
		setCount(valueOr(p.Count, serviceStartCount))
	case resource.ActionStop:
		setCount(0)
	case resource.ActionScale:
		setCount(valueOr(p.Count, serviceScaleCount))
	case resource.ActionModify:
		if p.Count != nil {
			setCount(*p.Count)
		}
		if p.TaskDefinition != nil {
			attrs.TaskDefinition = *p.TaskDefinition
		}
	default:
		return nil, fmt.Errorf("%w: %s on %s", resource.ErrUnsupportedAction, action.Kind, r.Family)
	}

	r.Attrs = attrs
	r.NativeStatus = "ACTIVE"
	return map[string]any{
		"cluster":         r.Group,
		"service":         r.Key().LocalID(),
		"desired_count":   attrs.DesiredCount,
		"task_definition": attrs.TaskDefinition,
		"status":          r.NativeStatus,
	}, nil
}

func (c *Cloud) applyDatabase(r *resource.Resource, action resource.ServiceAction) (map[string]any, error) {
	attrs, _ := r.Attrs.(resource.DatabaseAttrs)
	p := action.Params

	switch action.Kind {
	case resource.ActionStart:
		if r.NativeStatus != "stopped" {
			return nil, invalidState(r, "stopped")
		}
		r.NativeStatus = "available"
	case resource.ActionStop:
		if r.NativeStatus != "available" {
			return nil, invalidState(r, "available")
		}
		r.NativeStatus = "stopped"
	case resource.ActionRestart:
		if r.NativeStatus != "available" {
			return nil, invalidState(r, "available")
		}
	case resource.ActionModify:
		if p.InstanceClass != nil {
			attrs.InstanceClass = *p.InstanceClass
		}
		if p.StorageGB != nil {
			if *p.StorageGB < attrs.AllocatedStorageGB {
				return nil, fmt.Errorf("InvalidParameterCombination: storage cannot shrink below %d GB", attrs.AllocatedStorageGB)
			}
			attrs.AllocatedStorageGB = *p.StorageGB
		}
		if p.MultiAZ != nil {
			attrs.MultiAZ = *p.MultiAZ
		}
		r.Attrs = attrs
	case resource.ActionSnapshot:
		id := c.snapshotID(r, p.SnapshotID)
		return map[string]any{"snapshot_id": id, "status": "creating"}, nil
	default:
		return nil, fmt.Errorf("%w: %s on %s", resource.ErrUnsupportedAction, action.Kind, r.Family)
	}

	return map[string]any{
		"db_instance": r.ID,
		"status":      r.NativeStatus,
		"class":       attrs.InstanceClass,
	}, nil
}

func (c *Cloud) applyCache(r *resource.Resource, action resource.ServiceAction) (map[string]any, error) {
	attrs, _ := r.Attrs.(resource.CacheAttrs)
	p := action.Params

	switch action.Kind {
	case resource.ActionRestart:
		nodes := p.NodeIDs
		if len(nodes) == 0 {
			nodes = []string{"0001"}
		}
		return map[string]any{"cache_cluster": r.ID, "nodes": nodes, "status": r.NativeStatus}, nil
	case resource.ActionModify:
		if p.NodeType != nil {
			attrs.NodeType = *p.NodeType
		}
		if p.NumNodes != nil {
			attrs.NumNodes = *p.NumNodes
		}
		r.Attrs = attrs
		return map[string]any{"cache_cluster": r.ID, "status": r.NativeStatus}, nil
	case resource.ActionSnapshot:
		id := c.snapshotID(r, p.SnapshotID)
		return map[string]any{"snapshot_id": id, "status": "creating"}, nil
	}
	return nil, fmt.Errorf("%w: %s on %s", resource.ErrUnsupportedAction, action.Kind, r.Family)
}

func applyInstance(r *resource.Resource, action resource.ServiceAction) (map[string]any, error) {
	attrs, _ := r.Attrs.(resource.InstanceAttrs)
	previous := r.NativeStatus

	switch action.Kind {
	case resource.ActionStart:
		r.NativeStatus = "running"
	case resource.ActionStop:
		r.NativeStatus = "stopped"
	case resource.ActionRestart:
		if r.NativeStatus != "running" {
			return nil, fmt.Errorf("IncorrectInstanceState: %s is %s", r.ID, r.NativeStatus)
		}
	case resource.ActionModify:
		if action.Params.InstanceType == nil {
			return nil, fmt.Errorf("%w: modify on %s needs instance_type", resource.ErrValidation, r.Family)
		}
		if r.NativeStatus != "stopped" {
			return nil, fmt.Errorf("IncorrectInstanceState: %s must be stopped to change its type", r.ID)
		}
		attrs.InstanceType = *action.Params.InstanceType
		r.Attrs = attrs
		return map[string]any{"instance": r.ID, "instance_type": attrs.InstanceType}, nil
	default:
		return nil, fmt.Errorf("%w: %s on %s", resource.ErrUnsupportedAction, action.Kind, r.Family)
	}

	return map[string]any{"instance": r.ID, "previous_state": previous, "current_state": r.NativeStatus}, nil
}

func applyDistribution(r *resource.Resource, action resource.ServiceAction) (map[string]any, error) {
	attrs, _ := r.Attrs.(resource.DistributionAttrs)

	switch action.Kind {
	case resource.ActionStart:
		attrs.Enabled = true
		r.NativeStatus = "Deployed"
	case resource.ActionStop:
		attrs.Enabled = false
		r.NativeStatus = "disabled"
	default:
		return nil, fmt.Errorf("%w: %s on %s", resource.ErrUnsupportedAction, action.Kind, r.Family)
	}

	r.Attrs = attrs
	return map[string]any{"distribution": r.ID, "enabled": attrs.Enabled, "status": r.NativeStatus}, nil
}

// snapshotID is called with c.mu held.
func (c *Cloud) snapshotID(r *resource.Resource, requested *string) string {
	id := ""
	if requested != nil {
		id = *requested
	}
	if id == "" {
		id = fmt.Sprintf("%s-snapshot-%d", r.ID, c.now().UnixMilli())
	}
	c.snapshots = append(c.snapshots, id)
	return id
}

func valueOr(v *int32, def int32) int32 {
	if v != nil {
		return *v
	}
	return def
}
