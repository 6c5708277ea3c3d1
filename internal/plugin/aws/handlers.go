package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/elasticache"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rds/types"

	"github.com/yairfalse/cirrus/pkg/resource"
)

const (
	serviceStartCount   int32 = 2
	serviceScaleCount   int32 = 1
	serviceRestartCount int32 = 2
)

// defaultRebootNodes is the node list used when a cache restart names none.
var defaultRebootNodes = []string{"0001"}

func unsupported(family resource.Family, kind resource.ActionKind) error {
	return fmt.Errorf("%w: %s on %s", resource.ErrUnsupportedAction, kind, family)
}

// ══════════════════════════════════════════════════════════════════════════════
// ECS services
// ══════════════════════════════════════════════════════════════════════════════

type serviceHandler struct {
	client ECSAPI
}

func (h *serviceHandler) Family() resource.Family { return resource.FamilyService }

func (h *serviceHandler) Kinds() []resource.ActionKind {
	return []resource.ActionKind{resource.ActionStart, resource.ActionStop, resource.ActionScale, resource.ActionModify}
}

func (h *serviceHandler) DefaultCount() int32 { return serviceRestartCount }

func (h *serviceHandler) ValidateAction(action resource.ServiceAction) error {
	if action.Kind == resource.ActionModify && action.Params.TaskDefinition == nil && action.Params.Count == nil {
		return fmt.Errorf("%w: modify on %s needs task_definition or count", resource.ErrValidation, resource.FamilyService)
	}
	return nil
}

func (h *serviceHandler) Execute(ctx context.Context, key resource.Key, action resource.ServiceAction) (map[string]any, error) {
	switch action.Kind {
	case resource.ActionStart:
		return h.ScaleTo(ctx, key, countOr(action.Params.Count, serviceStartCount))
	case resource.ActionStop:
		return h.ScaleTo(ctx, key, 0)
	case resource.ActionScale:
		return h.ScaleTo(ctx, key, countOr(action.Params.Count, serviceScaleCount))
	case resource.ActionModify:
		return h.update(ctx, key, action.Params.Count, action.Params.TaskDefinition)
	default:
		return nil, unsupported(h.Family(), action.Kind)
	}
}

// ScaleTo sets the desired task count of the service.
func (h *serviceHandler) ScaleTo(ctx context.Context, key resource.Key, count int32) (map[string]any, error) {
	return h.update(ctx, key, aws.Int32(count), nil)
}

func (h *serviceHandler) update(ctx context.Context, key resource.Key, count *int32, taskDefinition *string) (map[string]any, error) {
	if key.Group == "" {
		return nil, fmt.Errorf("%w: service %s has no cluster", resource.ErrValidation, key.ID)
	}
	service := key.LocalID()

	output, err := h.client.UpdateService(ctx, &ecs.UpdateServiceInput{
		Cluster:        aws.String(key.Group),
		Service:        aws.String(service),
		DesiredCount:   count,
		TaskDefinition: taskDefinition,
	})
	if err != nil {
		return nil, fmt.Errorf("update service: %w", err)
	}

	result := map[string]any{"cluster": key.Group, "service": service}
	if count != nil {
		result["desired_count"] = *count
	}
	if output.Service != nil {
		result["status"] = aws.ToString(output.Service.Status)
		result["task_definition"] = aws.ToString(output.Service.TaskDefinition)
	}
	return result, nil
}

func countOr(count *int32, def int32) int32 {
	if count != nil {
		return *count
	}
	return def
}

// ══════════════════════════════════════════════════════════════════════════════
// RDS instances
// ══════════════════════════════════════════════════════════════════════════════

type databaseHandler struct {
	client RDSAPI
	now    func() time.Time
}

func (h *databaseHandler) Family() resource.Family { return resource.FamilyDatabase }

func (h *databaseHandler) Kinds() []resource.ActionKind {
	return []resource.ActionKind{resource.ActionStart, resource.ActionStop, resource.ActionRestart, resource.ActionModify, resource.ActionSnapshot}
}

func (h *databaseHandler) ValidateAction(action resource.ServiceAction) error {
	p := action.Params
	if action.Kind == resource.ActionModify && p.InstanceClass == nil && p.StorageGB == nil && p.MultiAZ == nil {
		return fmt.Errorf("%w: modify on %s needs instance_class, storage_gb or multi_az", resource.ErrValidation, resource.FamilyDatabase)
	}
	return nil
}

func (h *databaseHandler) Execute(ctx context.Context, key resource.Key, action resource.ServiceAction) (map[string]any, error) {
	id := aws.String(key.ID)
	p := action.Params

	switch action.Kind {
	case resource.ActionStart:
		output, err := h.client.StartDBInstance(ctx, &rds.StartDBInstanceInput{DBInstanceIdentifier: id})
		if err != nil {
			return nil, fmt.Errorf("start db instance: %w", err)
		}
		return dbResult(output.DBInstance), nil

	case resource.ActionStop:
		output, err := h.client.StopDBInstance(ctx, &rds.StopDBInstanceInput{DBInstanceIdentifier: id})
		if err != nil {
			return nil, fmt.Errorf("stop db instance: %w", err)
		}
		return dbResult(output.DBInstance), nil

	case resource.ActionRestart:
		output, err := h.client.RebootDBInstance(ctx, &rds.RebootDBInstanceInput{
			DBInstanceIdentifier: id,
			ForceFailover:        p.ForceFailover,
		})
		if err != nil {
			return nil, fmt.Errorf("reboot db instance: %w", err)
		}
		return dbResult(output.DBInstance), nil

	case resource.ActionModify:
		output, err := h.client.ModifyDBInstance(ctx, &rds.ModifyDBInstanceInput{
			DBInstanceIdentifier: id,
			DBInstanceClass:      p.InstanceClass,
			AllocatedStorage:     p.StorageGB,
			MultiAZ:              p.MultiAZ,
			ApplyImmediately:     p.ApplyImmediately,
		})
		if err != nil {
			return nil, fmt.Errorf("modify db instance: %w", err)
		}
		return dbResult(output.DBInstance), nil

	case resource.ActionSnapshot:
		snapshotID := aws.ToString(p.SnapshotID)
		if snapshotID == "" {
			snapshotID = fmt.Sprintf("%s-snapshot-%d", key.ID, h.now().UnixMilli())
		}
		output, err := h.client.CreateDBSnapshot(ctx, &rds.CreateDBSnapshotInput{
			DBInstanceIdentifier: id,
			DBSnapshotIdentifier: aws.String(snapshotID),
		})
		if err != nil {
			return nil, fmt.Errorf("create db snapshot: %w", err)
		}
		result := map[string]any{"snapshot_id": snapshotID}
		if output.DBSnapshot != nil {
			result["status"] = aws.ToString(output.DBSnapshot.Status)
		}
		return result, nil

	default:
		return nil, unsupported(h.Family(), action.Kind)
	}
}

func dbResult(instance *rdstypes.DBInstance) map[string]any {
	if instance == nil {
		return map[string]any{}
	}
	return map[string]any{
		"db_instance": aws.ToString(instance.DBInstanceIdentifier),
		"status":      aws.ToString(instance.DBInstanceStatus),
		"class":       aws.ToString(instance.DBInstanceClass),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ElastiCache clusters
// ══════════════════════════════════════════════════════════════════════════════

type cacheHandler struct {
	client ElastiCacheAPI
	now    func() time.Time
}

func (h *cacheHandler) Family() resource.Family { return resource.FamilyCache }

func (h *cacheHandler) Kinds() []resource.ActionKind {
	return []resource.ActionKind{resource.ActionRestart, resource.ActionModify, resource.ActionSnapshot}
}

func (h *cacheHandler) ValidateAction(action resource.ServiceAction) error {
	p := action.Params
	if action.Kind == resource.ActionModify && p.NodeType == nil && p.NumNodes == nil {
		return fmt.Errorf("%w: modify on %s needs node_type or num_nodes", resource.ErrValidation, resource.FamilyCache)
	}
	return nil
}

func (h *cacheHandler) Execute(ctx context.Context, key resource.Key, action resource.ServiceAction) (map[string]any, error) {
	id := aws.String(key.ID)
	p := action.Params

	switch action.Kind {
	case resource.ActionRestart:
		nodes := p.NodeIDs
		if len(nodes) == 0 {
			nodes = defaultRebootNodes
		}
		output, err := h.client.RebootCacheCluster(ctx, &elasticache.RebootCacheClusterInput{
			CacheClusterId:       id,
			CacheNodeIdsToReboot: nodes,
		})
		if err != nil {
			return nil, fmt.Errorf("reboot cache cluster: %w", err)
		}
		result := map[string]any{"cache_cluster": key.ID, "nodes": nodes}
		if output.CacheCluster != nil {
			result["status"] = aws.ToString(output.CacheCluster.CacheClusterStatus)
		}
		return result, nil

	case resource.ActionModify:
		output, err := h.client.ModifyCacheCluster(ctx, &elasticache.ModifyCacheClusterInput{
			CacheClusterId:   id,
			CacheNodeType:    p.NodeType,
			NumCacheNodes:    p.NumNodes,
			ApplyImmediately: aws.Bool(p.ApplyImmediately == nil || *p.ApplyImmediately),
		})
		if err != nil {
			return nil, fmt.Errorf("modify cache cluster: %w", err)
		}
		result := map[string]any{"cache_cluster": key.ID}
		if output.CacheCluster != nil {
			result["status"] = aws.ToString(output.CacheCluster.CacheClusterStatus)
		}
		return result, nil

	case resource.ActionSnapshot:
		name := aws.ToString(p.SnapshotID)
		if name == "" {
			name = fmt.Sprintf("%s-snapshot-%d", key.ID, h.now().UnixMilli())
		}
		output, err := h.client.CreateSnapshot(ctx, &elasticache.CreateSnapshotInput{
			CacheClusterId: id,
			SnapshotName:   aws.String(name),
		})
		if err != nil {
			return nil, fmt.Errorf("create cache snapshot: %w", err)
		}
		result := map[string]any{"snapshot_id": name}
		if output.Snapshot != nil {
			result["status"] = aws.ToString(output.Snapshot.SnapshotStatus)
		}
		return result, nil

	default:
		return nil, unsupported(h.Family(), action.Kind)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// EC2 instances
// ══════════════════════════════════════════════════════════════════════════════

type instanceHandler struct {
	client EC2API
}

func (h *instanceHandler) Family() resource.Family { return resource.FamilyInstance }

func (h *instanceHandler) Kinds() []resource.ActionKind {
	return []resource.ActionKind{resource.ActionStart, resource.ActionStop, resource.ActionRestart, resource.ActionModify}
}

func (h *instanceHandler) ValidateAction(action resource.ServiceAction) error {
	if action.Kind == resource.ActionModify && action.Params.InstanceType == nil {
		return fmt.Errorf("%w: modify on %s needs instance_type", resource.ErrValidation, resource.FamilyInstance)
	}
	return nil
}

func (h *instanceHandler) Execute(ctx context.Context, key resource.Key, action resource.ServiceAction) (map[string]any, error) {
	ids := []string{key.ID}

	switch action.Kind {
	case resource.ActionStart:
		output, err := h.client.StartInstances(ctx, &ec2.StartInstancesInput{InstanceIds: ids})
		if err != nil {
			return nil, fmt.Errorf("start instances: %w", err)
		}
		return stateChangeResult(output.StartingInstances), nil

	case resource.ActionStop:
		output, err := h.client.StopInstances(ctx, &ec2.StopInstancesInput{InstanceIds: ids, Force: action.Params.Force})
		if err != nil {
			return nil, fmt.Errorf("stop instances: %w", err)
		}
		return stateChangeResult(output.StoppingInstances), nil

	case resource.ActionRestart:
		if _, err := h.client.RebootInstances(ctx, &ec2.RebootInstancesInput{InstanceIds: ids}); err != nil {
			return nil, fmt.Errorf("reboot instances: %w", err)
		}
		return map[string]any{"instance": key.ID, "status": "rebooting"}, nil

	case resource.ActionModify:
		_, err := h.client.ModifyInstanceAttribute(ctx, &ec2.ModifyInstanceAttributeInput{
			InstanceId:   aws.String(key.ID),
			InstanceType: &ec2types.AttributeValue{Value: action.Params.InstanceType},
		})
		if err != nil {
			return nil, fmt.Errorf("modify instance attribute: %w", err)
		}
		return map[string]any{"instance": key.ID, "instance_type": *action.Params.InstanceType}, nil

	default:
		return nil, unsupported(h.Family(), action.Kind)
	}
}

func stateChangeResult(changes []ec2types.InstanceStateChange) map[string]any {
	result := map[string]any{}
	if len(changes) == 0 {
		return result
	}
	c := changes[0]
	result["instance"] = aws.ToString(c.InstanceId)
	if c.PreviousState != nil {
		result["previous_state"] = string(c.PreviousState.Name)
	}
	if c.CurrentState != nil {
		result["current_state"] = string(c.CurrentState.Name)
	}
	return result
}

// ══════════════════════════════════════════════════════════════════════════════
// CloudFront distributions
// ══════════════════════════════════════════════════════════════════════════════

type distributionHandler struct {
	client CloudFrontAPI
}

func (h *distributionHandler) Family() resource.Family { return resource.FamilyDistribution }

func (h *distributionHandler) Kinds() []resource.ActionKind {
	return []resource.ActionKind{resource.ActionStart, resource.ActionStop}
}

func (h *distributionHandler) Execute(ctx context.Context, key resource.Key, action resource.ServiceAction) (map[string]any, error) {
	switch action.Kind {
	case resource.ActionStart:
		return h.setEnabled(ctx, key.ID, true)
	case resource.ActionStop:
		return h.setEnabled(ctx, key.ID, false)
	default:
		return nil, unsupported(h.Family(), action.Kind)
	}
}

// setEnabled toggles the distribution using the config's ETag as the
// concurrency guard.
func (h *distributionHandler) setEnabled(ctx context.Context, id string, enabled bool) (map[string]any, error) {
	current, err := h.client.GetDistributionConfig(ctx, &cloudfront.GetDistributionConfigInput{Id: aws.String(id)})
	if err != nil {
		return nil, fmt.Errorf("get distribution config: %w", err)
	}
	if current.DistributionConfig == nil {
		return nil, fmt.Errorf("get distribution config: %s returned no config", id)
	}

	cfg := current.DistributionConfig
	cfg.Enabled = aws.Bool(enabled)

	output, err := h.client.UpdateDistribution(ctx, &cloudfront.UpdateDistributionInput{
		Id:                 aws.String(id),
		DistributionConfig: cfg,
		IfMatch:            current.ETag,
	})
	if err != nil {
		return nil, fmt.Errorf("update distribution: %w", err)
	}

	result := map[string]any{"distribution": id, "enabled": enabled}
	if output.Distribution != nil {
		result["status"] = aws.ToString(output.Distribution.Status)
	}
	return result, nil
}
